package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/sectionlock/internal/middleware"
	"github.com/charlesng35/sectionlock/internal/realtime"
	"github.com/charlesng35/sectionlock/pkg/errors"
	"github.com/charlesng35/sectionlock/pkg/response"
)

// CollabHandler upgrades authenticated requests into document collaboration sockets.
type CollabHandler struct {
	server *realtime.Server
}

// NewCollabHandler constructs a CollabHandler.
func NewCollabHandler(server *realtime.Server) *CollabHandler {
	return &CollabHandler{server: server}
}

// Connect attaches the caller to the document named in the path. It expects
// middleware.Auth to have run.
func (h *CollabHandler) Connect(c *gin.Context) {
	if h.server == nil {
		response.Error(c, errors.ErrServiceUnavailable)
		return
	}

	claims, ok := middleware.ClaimsFromContext(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	docID := documentID(c)
	if docID == "" {
		response.Error(c, errors.NewBadRequest("document id is required"))
		return
	}
	if !claims.CanAccess(docID) {
		response.Error(c, errors.ErrForbidden)
		return
	}

	h.server.Serve(docID, realtime.Identity{
		UserID:   claims.UserID,
		Username: claims.DisplayName(),
	}, c.Writer, c.Request)
}
