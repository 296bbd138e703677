package scheduler

import (
	"net/http"
	"time"

	apphttp "chatflow_backend/internal/http"
	"chatflow_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type reminderRequest struct {
	Text string    `json:"text" binding:"required,max=1000"`
	At   time.Time `json:"at" binding:"required"`
}

type reminderResponse struct {
	JobID string    `json:"jobId"`
	RunAt time.Time `json:"runAt"`
}

// Module exposes reminder scheduling to operators.
type Module struct {
	client *Client
}

func NewModule(client *Client) *Module {
	return &Module{client: client}
}

func (m *Module) Name() string { return "scheduler" }

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Protected.POST("/conversations/:id/reminders", m.ScheduleReminder)
}

func (m *Module) ScheduleReminder(c *gin.Context) {
	if _, ok := httpkit.MustOperatorID(c); !ok {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	var req reminderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	jobID, err := m.client.ScheduleReminder(c.Request.Context(), id, req.Text, req.At)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.JSON(c, http.StatusAccepted, reminderResponse{JobID: jobID, RunAt: req.At.UTC()})
}
