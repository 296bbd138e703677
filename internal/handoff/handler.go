package handoff

import (
	"net/http"

	"chatflow_backend/internal/conversations/domain"
	"chatflow_backend/internal/conversations/ports"
	"chatflow_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type HTTPHandler struct {
	svc *Service
}

func NewHTTPHandler(svc *Service) *HTTPHandler {
	return &HTTPHandler{svc: svc}
}

type completeRequest struct {
	Outcome string `json:"outcome" binding:"max=500"`
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

type conversationResponse struct {
	ID                 uuid.UUID  `json:"id"`
	Status             string     `json:"status"`
	Handoff            string     `json:"handoff"`
	IsUrgent           bool       `json:"isUrgent"`
	AssignedOperatorID *uuid.UUID `json:"assignedOperatorId,omitempty"`
}

func toResponse(c domain.Conversation) conversationResponse {
	return conversationResponse{
		ID:                 c.ID,
		Status:             string(c.Status),
		Handoff:            string(c.Handoff),
		IsUrgent:           c.IsUrgent,
		AssignedOperatorID: c.AssignedOperatorID,
	}
}

// RoleSupervisor may move a conversation's primary status by hand.
const RoleSupervisor = "supervisor"

// RegisterRoutes mounts the operator actions under /conversations/:id.
func (h *HTTPHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/:id/handoff/request", h.Request)
	rg.POST("/:id/handoff/assign", h.Assign)
	rg.POST("/:id/handoff/complete", h.Complete)
	rg.POST("/:id/handoff/release", h.Release)
	rg.POST("/:id/status", httpkit.RequireRole(RoleSupervisor), h.SetStatus)
}

func (h *HTTPHandler) Request(c *gin.Context) {
	if _, ok := httpkit.MustOperatorID(c); !ok {
		return
	}
	id, ok := conversationID(c)
	if !ok {
		return
	}
	conv, err := h.svc.RequestHandoff(c.Request.Context(), id, ports.TriggerManual)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, toResponse(conv))
}

func (h *HTTPHandler) Assign(c *gin.Context) {
	operatorID, ok := httpkit.MustOperatorID(c)
	if !ok {
		return
	}
	id, ok := conversationID(c)
	if !ok {
		return
	}
	conv, err := h.svc.Assign(c.Request.Context(), id, operatorID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, toResponse(conv))
}

func (h *HTTPHandler) Complete(c *gin.Context) {
	operatorID, ok := httpkit.MustOperatorID(c)
	if !ok {
		return
	}
	id, ok := conversationID(c)
	if !ok {
		return
	}
	var req completeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			httpkit.Error(c, http.StatusBadRequest, "invalid request", err.Error())
			return
		}
	}
	conv, err := h.svc.Complete(c.Request.Context(), id, operatorID, req.Outcome)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, toResponse(conv))
}

func (h *HTTPHandler) Release(c *gin.Context) {
	operatorID, ok := httpkit.MustOperatorID(c)
	if !ok {
		return
	}
	id, ok := conversationID(c)
	if !ok {
		return
	}
	conv, err := h.svc.Release(c.Request.Context(), id, operatorID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, toResponse(conv))
}

func (h *HTTPHandler) SetStatus(c *gin.Context) {
	if _, ok := httpkit.MustOperatorID(c); !ok {
		return
	}
	id, ok := conversationID(c)
	if !ok {
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	status, valid := domain.ParseStatus(req.Status)
	if !valid {
		httpkit.Error(c, http.StatusBadRequest, "unknown status", req.Status)
		return
	}
	conv, err := h.svc.SetStatus(c.Request.Context(), id, status)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, toResponse(conv))
}

func conversationID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid id", nil)
		return uuid.Nil, false
	}
	return id, true
}
