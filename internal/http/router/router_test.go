package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apphttp "chatflow_backend/internal/http"
	"chatflow_backend/internal/queue"
	"chatflow_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type testConfig struct{}

func (testConfig) GetHTTPAddr() string        { return ":0" }
func (testConfig) GetCORSOrigins() []string   { return []string{"https://dashboard.example.com"} }
func (testConfig) GetWebhookSecret() string   { return "" }
func (testConfig) GetJWTAccessSecret() string { return "secret" }

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type fakeQueues struct {
	healthy bool
	jobs    map[string]queue.Status
}

func (f fakeQueues) HealthCheck(context.Context) bool { return f.healthy }

func (f fakeQueues) GetQueueStats(context.Context) queue.Report {
	return queue.Report{Healthy: f.healthy, Queues: []queue.Stats{{Queue: queue.Ingestion, Depth: 3}}}
}

func (f fakeQueues) JobStatus(_ context.Context, id string) (queue.Status, error) {
	if status, ok := f.jobs[id]; ok {
		return status, nil
	}
	return queue.StatusUnknown, nil
}

func newTestEngine(health error, queues fakeQueues) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return New(&apphttp.App{
		Config: testConfig{},
		Logger: logger.Nop(),
		Health: pinger{err: health},
		Queues: queues,
	})
}

func operatorToken(t *testing.T) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  uuid.NewString(),
		"type": "access",
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func TestHealthReportsDegradedQueue(t *testing.T) {
	engine := newTestEngine(nil, fakeQueues{healthy: false})
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("a broker outage must not fail the health check, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "degraded" || body["queue"] != "unreachable" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestHealthFailsWithoutDatabase(t *testing.T) {
	engine := newTestEngine(errors.New("connection refused"), fakeQueues{healthy: true})
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestJobStatusEndpoint(t *testing.T) {
	engine := newTestEngine(nil, fakeQueues{healthy: true, jobs: map[string]queue.Status{"job-1": queue.StatusRetry}})
	token := operatorToken(t)

	cases := map[string]int{"/api/v1/jobs/job-1": http.StatusOK, "/api/v1/jobs/missing": http.StatusNotFound}
	for path, want := range cases {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Errorf("%s: expected %d, got %d", path, want, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/queues/stats", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("queue stats require an operator token, got %d", rec.Code)
	}
}
