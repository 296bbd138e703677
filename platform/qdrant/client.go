// Package qdrant provides a REST client for Qdrant vector database.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"chatflow_backend/platform/apperr"
)

// Client is an HTTP client for Qdrant vector database.
type Client struct {
	baseURL    string
	apiKey     string
	collection string
	httpClient *http.Client
}

// Config configures the Qdrant client.
type Config struct {
	BaseURL    string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

// NewClient creates a new Qdrant client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Point is a vector with its payload.
type Point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Filter is a Qdrant payload filter.
type Filter struct {
	Must []Condition `json:"must,omitempty"`
}

// Condition matches one payload key.
type Condition struct {
	Key   string `json:"key"`
	Match Match  `json:"match"`
}

// Match is an exact value match.
type Match struct {
	Value any `json:"value"`
}

// FieldEquals builds a filter requiring key == value.
func FieldEquals(key string, value any) *Filter {
	return &Filter{Must: []Condition{{Key: key, Match: Match{Value: value}}}}
}

// SearchRequest is the request body for a vector search.
type SearchRequest struct {
	Vector      []float32 `json:"vector"`
	Limit       int       `json:"limit"`
	WithPayload bool      `json:"with_payload"`
	Filter      *Filter   `json:"filter,omitempty"`
}

// SearchResult is a single search result from Qdrant.
type SearchResult struct {
	ID      interface{}            `json:"id"`
	Score   float64                `json:"score"`
	Payload map[string]interface{} `json:"payload"`
}

type envelope struct {
	Result json.RawMessage `json:"result"`
	Status interface{}     `json:"status"`
	Time   float64         `json:"time"`
}

// EnsureCollection creates the collection with cosine distance when it does not exist.
func (c *Client) EnsureCollection(ctx context.Context, vectorSize int) error {
	err := c.do(ctx, http.MethodGet, c.collectionPath(""), nil, nil)
	if err == nil {
		return nil
	}
	if !apperr.Is(err, apperr.KindNotFound) {
		return err
	}
	body := map[string]any{
		"vectors": map[string]any{"size": vectorSize, "distance": "Cosine"},
	}
	return c.do(ctx, http.MethodPut, c.collectionPath(""), body, nil)
}

// Upsert writes points and waits for them to be indexed.
func (c *Client) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	return c.do(ctx, http.MethodPut, c.collectionPath("/points?wait=true"), map[string]any{"points": points}, nil)
}

// Search performs a vector similarity search in the configured collection.
func (c *Client) Search(ctx context.Context, vector []float32, limit int, filter *Filter) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 5
	}
	req := SearchRequest{
		Vector:      vector,
		Limit:       limit,
		WithPayload: true,
		Filter:      filter,
	}
	var results []SearchResult
	if err := c.do(ctx, http.MethodPost, c.collectionPath("/points/search"), req, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// Scroll lists points matching filter without a query vector.
func (c *Client) Scroll(ctx context.Context, filter *Filter, limit int) ([]Point, error) {
	if limit <= 0 {
		limit = 10
	}
	body := map[string]any{
		"filter":       filter,
		"limit":        limit,
		"with_payload": true,
		"with_vector":  false,
	}
	var result struct {
		Points []struct {
			ID      interface{}    `json:"id"`
			Payload map[string]any `json:"payload"`
		} `json:"points"`
	}
	if err := c.do(ctx, http.MethodPost, c.collectionPath("/points/scroll"), body, &result); err != nil {
		return nil, err
	}
	points := make([]Point, 0, len(result.Points))
	for _, p := range result.Points {
		points = append(points, Point{ID: fmt.Sprint(p.ID), Payload: p.Payload})
	}
	return points, nil
}

// Count returns the exact number of points matching filter.
func (c *Client) Count(ctx context.Context, filter *Filter) (int, error) {
	var result struct {
		Count int `json:"count"`
	}
	body := map[string]any{"filter": filter, "exact": true}
	if err := c.do(ctx, http.MethodPost, c.collectionPath("/points/count"), body, &result); err != nil {
		return 0, err
	}
	return result.Count, nil
}

// DeleteByFilter removes every point matching filter.
func (c *Client) DeleteByFilter(ctx context.Context, filter *Filter) error {
	if filter == nil || len(filter.Must) == 0 {
		return apperr.Validation("refusing to delete without a filter")
	}
	return c.do(ctx, http.MethodPost, c.collectionPath("/points/delete?wait=true"), map[string]any{"filter": filter}, nil)
}

func (c *Client) collectionPath(suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", c.baseURL, c.collection, suffix)
}

func (c *Client) do(ctx context.Context, method, url string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal qdrant request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create qdrant request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return apperr.Timeout("qdrant request timed out", err)
		}
		return apperr.Unavailable("qdrant request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return apperr.FromHTTPStatus(resp.StatusCode,
			fmt.Sprintf("qdrant returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data))))
	}
	if out == nil {
		return nil
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return apperr.Unavailable("failed to decode qdrant response", err)
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return apperr.Unavailable("failed to decode qdrant result", err)
	}
	return nil
}
