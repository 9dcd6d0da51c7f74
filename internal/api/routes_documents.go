package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/sectionlock/internal/handlers"
	"github.com/charlesng35/sectionlock/internal/middleware"
)

func registerDocumentRoutes(api *gin.RouterGroup, handler *handlers.DocumentHandler) {
	documents := api.Group("/documents/:documentID", middleware.RequireDocumentAccess("documentID"))
	{
		documents.GET("/presence", handler.Presence)
		documents.GET("/locks/history", handler.LockHistory)
	}
}
