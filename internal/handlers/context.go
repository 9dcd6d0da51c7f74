package handlers

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
)

const documentIDParam = "documentID"

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

func documentID(c *gin.Context) string {
	return strings.TrimSpace(c.Param(documentIDParam))
}
