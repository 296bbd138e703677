// Package sse streams operator notifications over Server-Sent Events.
package sse

import (
	"encoding/json"
	"net/http"
	"sync"

	"chatflow_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Event is one pushed notification.
type Event struct {
	Type           string         `json:"type"`
	ConversationID uuid.UUID      `json:"conversationId,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}

type client struct {
	operatorID uuid.UUID
	events     chan Event
}

// Service fans events out to connected operator streams.
type Service struct {
	mu      sync.RWMutex
	clients map[uuid.UUID][]*client
	log     *logger.Logger
}

func New(log *logger.Logger) *Service {
	return &Service{
		clients: make(map[uuid.UUID][]*client),
		log:     log,
	}
}

func (s *Service) addClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.operatorID] = append(s.clients[c.operatorID], c)
}

func (s *Service) removeClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clients := s.clients[c.operatorID]
	for i, cl := range clients {
		if cl == c {
			s.clients[c.operatorID] = append(clients[:i], clients[i+1:]...)
			close(c.events)
			break
		}
	}
	if len(s.clients[c.operatorID]) == 0 {
		delete(s.clients, c.operatorID)
	}
}

// Publish sends an event to every stream of one operator. It reports how
// many streams accepted it; a full buffer drops the event for that stream.
func (s *Service) Publish(operatorID uuid.UUID, event Event) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	delivered := 0
	for _, c := range s.clients[operatorID] {
		select {
		case c.events <- event:
			delivered++
		default:
			s.log.Warn("sse buffer full", "operatorId", operatorID, "type", event.Type)
		}
	}
	return delivered
}

// Connected reports whether the operator has an open stream.
func (s *Service) Connected(operatorID uuid.UUID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients[operatorID]) > 0
}

// Handler returns a Gin handler that holds the stream open until the client leaves.
func (s *Service) Handler(getOperatorID func(*gin.Context) (uuid.UUID, bool)) gin.HandlerFunc {
	return func(c *gin.Context) {
		operatorID, ok := getOperatorID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Header().Set("X-Accel-Buffering", "no")

		cl := &client{operatorID: operatorID, events: make(chan Event, 32)}
		s.addClient(cl)
		defer s.removeClient(cl)

		c.SSEvent("connected", gin.H{"operatorId": operatorID})
		c.Writer.Flush()
		s.log.Debug("sse client connected", "operatorId", operatorID)

		clientGone := c.Request.Context().Done()
		for {
			select {
			case <-clientGone:
				s.log.Debug("sse client disconnected", "operatorId", operatorID)
				return
			case event, ok := <-cl.events:
				if !ok {
					return
				}
				data, _ := json.Marshal(event)
				c.SSEvent(event.Type, string(data))
				c.Writer.Flush()
			}
		}
	}
}

// Close drops every stream.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, clients := range s.clients {
		for _, c := range clients {
			close(c.events)
		}
	}
	s.clients = make(map[uuid.UUID][]*client)
}
