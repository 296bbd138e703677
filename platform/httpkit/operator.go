package httpkit

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// OperatorID returns the operator AuthRequired attached to the request.
func OperatorID(c *gin.Context) (uuid.UUID, bool) {
	raw, ok := c.Get(ContextOperatorIDKey)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := raw.(uuid.UUID)
	return id, ok && id != uuid.Nil
}

// MustOperatorID is OperatorID for handlers behind AuthRequired. When no
// operator is attached it answers 401 and reports false.
func MustOperatorID(c *gin.Context) (uuid.UUID, bool) {
	id, ok := OperatorID(c)
	if !ok {
		abortUnauthorized(c, "unauthorized")
	}
	return id, ok
}
