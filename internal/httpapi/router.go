package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rag4all/ragchat/internal/common"
	"github.com/rag4all/ragchat/internal/httpapi/handlers"
	"github.com/rag4all/ragchat/internal/httpapi/middleware"
)

func NewRouter(h *handlers.Handler) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	r.GET("/ping", h.Ping)

	// chat
	r.GET("/chat/sessions", h.ListChatSessions)
	r.POST("/chat/messages", h.SendChatMessage)
	r.POST("/chat/messages/stream", h.SendChatMessageStream)
	r.GET("/chat/sessions/:chat_id/messages", h.ListChatMessages)
	r.PATCH("/chat/sessions/:chat_id", h.RenameChatSession)
	r.DELETE("/chat/sessions/:chat_id", h.DeleteChatSession)

	// documents
	r.POST("/documents", h.UploadDocuments)
	r.GET("/documents/jobs/:job_id", h.GetIngestJob)
	r.DELETE("/documents", h.DeleteDocuments)

	return r
}
