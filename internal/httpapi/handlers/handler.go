package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rag4all/ragchat/internal/chat"
	"github.com/rag4all/ragchat/internal/config"
	"github.com/rag4all/ragchat/internal/ingest"
	"github.com/rag4all/ragchat/internal/store/rabbitmq"
)

// Handler carries the assembled services. Jobs and Rabbit may be nil: the
// document endpoints then fall back to synchronous ingestion (no job rows,
// no queue).
type Handler struct {
	Cfg    config.Config
	Chat   *chat.Service
	Ingest *ingest.Orchestrator
	Jobs   *ingest.JobRepo
	Rabbit *rabbitmq.Publisher
}

func NewHandler(cfg config.Config, chatSvc *chat.Service, orch *ingest.Orchestrator, jobs *ingest.JobRepo, rabbit *rabbitmq.Publisher) *Handler {
	return &Handler{
		Cfg:    cfg,
		Chat:   chatSvc,
		Ingest: orch,
		Jobs:   jobs,
		Rabbit: rabbit,
	}
}

func (h *Handler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}
