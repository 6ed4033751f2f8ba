package routes

import (
	"persistenceai/internal/service/session"

	"github.com/gin-gonic/gin"
)

// SetupSessions registers the session API. There is no DELETE route; closed
// sessions stay in the registry as tombstones.
func SetupSessions(r *gin.Engine, handler *session.Handler) {
	sessions := r.Group("/sessions")
	{
		sessions.POST("", handler.CreateSessionHandler())
		sessions.GET("", handler.ListSessionsHandler())
		sessions.GET("/:id", handler.GetSessionHandler())
		sessions.POST("/:id/close", handler.CloseSessionHandler())
		sessions.POST("/:id/touch", handler.TouchSessionHandler())
		sessions.POST("/:id/resume", handler.ResumeSessionHandler())
	}
}
