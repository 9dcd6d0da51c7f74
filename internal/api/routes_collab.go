package api

import (
	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/sectionlock/internal/auth"
	"github.com/charlesng35/sectionlock/internal/handlers"
	"github.com/charlesng35/sectionlock/internal/middleware"
)

const documentPath = "/ws/collab/document/:documentID"

// Handshakes are rate limited before the token is checked.
func registerCollabRoutes(r *gin.Engine, jwt *iauth.JWTService, handler *handlers.CollabHandler, limit gin.HandlerFunc) {
	group := r.Group("", limit, middleware.Auth(jwt), middleware.RequireDocumentAccess("documentID"))
	group.GET(documentPath, handler.Connect)
	group.GET(documentPath+"/", handler.Connect)
}
