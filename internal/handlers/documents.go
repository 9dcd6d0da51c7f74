package handlers

import (
	stdErrors "errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/sectionlock/internal/collab"
	"github.com/charlesng35/sectionlock/internal/history"
	"github.com/charlesng35/sectionlock/internal/models"
	"github.com/charlesng35/sectionlock/pkg/errors"
	"github.com/charlesng35/sectionlock/pkg/logger"
	"github.com/charlesng35/sectionlock/pkg/response"
)

// DocumentHandler serves read-only views of document collaboration state.
type DocumentHandler struct {
	manager *collab.Manager
	history *history.Store
	log     *zap.Logger
}

// NewDocumentHandler constructs a DocumentHandler. history may be nil, in which
// case the history endpoint reports the service as unavailable.
func NewDocumentHandler(manager *collab.Manager, store *history.Store) *DocumentHandler {
	return &DocumentHandler{
		manager: manager,
		history: store,
		log:     logger.WithModule("handlers"),
	}
}

// Presence returns the collaborators and held locks of a live document.
func (h *DocumentHandler) Presence(c *gin.Context) {
	docID := documentID(c)
	if docID == "" {
		response.Error(c, errors.NewBadRequest("document id is required"))
		return
	}

	snap, err := h.manager.Snapshot(requestContext(c), docID)
	if err != nil {
		if stdErrors.Is(err, collab.ErrChannelNotFound) {
			response.Error(c, errors.ErrDocumentNotActive)
			return
		}
		h.log.Warn("presence snapshot failed", zap.String("document_id", docID), zap.Error(err))
		response.Error(c, errors.ErrServiceUnavailable.WithInternal(err))
		return
	}

	if snap.Collaborators == nil {
		snap.Collaborators = []collab.Collaborator{}
	}
	if snap.Locks == nil {
		snap.Locks = []collab.SectionLock{}
	}
	response.Success(c, http.StatusOK, snap)
}

// LockHistory lists the most recent lock transitions recorded for a document.
func (h *DocumentHandler) LockHistory(c *gin.Context) {
	if h.history == nil {
		response.Error(c, errors.ErrServiceUnavailable)
		return
	}

	docID := documentID(c)
	if docID == "" {
		response.Error(c, errors.NewBadRequest("document id is required"))
		return
	}

	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			response.Error(c, errors.NewBadRequest("limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}

	events, total, err := h.history.List(requestContext(c), docID, limit)
	if err != nil {
		response.Error(c, errors.Wrap(err, "failed to load lock history"))
		return
	}

	response.List[models.LockEvent](c, events, limit, total)
}
