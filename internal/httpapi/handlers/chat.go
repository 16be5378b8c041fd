package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rag4all/ragchat/internal/chat"
	"github.com/rag4all/ragchat/internal/common"
)

type sendMessageReq struct {
	ChatID  string `json:"chat_id"` // empty -> new session
	Message string `json:"message" binding:"required"`

	// optional per-request generation knobs
	Temperature *float64 `json:"temperature"`
	MaxTokens   *int     `json:"max_tokens"`
}

func (h *Handler) SendChatMessage(c *gin.Context) {
	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "message required")
		return
	}

	res, err := h.Chat.SendMessageWithOptions(c.Request.Context(), req.ChatID, req.Message, chat.GenOverrides{
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		if errors.Is(err, chat.ErrSessionNotFound) {
			common.Fail(c, http.StatusNotFound, 40004, "session not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to send message")
		return
	}

	common.OK(c, gin.H{
		"chat_id":    res.ChatID,
		"reply":      res.Reply,
		"message_id": res.MessageID,
		"created":    res.Created,
	})
}

func (h *Handler) ListChatSessions(c *gin.Context) {
	sessions, err := h.Chat.ListSessions(c.Request.Context())
	if err != nil {
		if errors.Is(err, chat.ErrPersistenceUnavailable) {
			common.OK(c, gin.H{"sessions": []chat.Session{}})
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to list sessions")
		return
	}
	common.OK(c, gin.H{"sessions": sessions})
}

func (h *Handler) ListChatMessages(c *gin.Context) {
	chatID := c.Param("chat_id")

	limit, _ := strconv.Atoi(c.Query("limit"))
	var beforeID uint64
	if s := c.Query("before_id"); s != "" {
		if n, err := strconv.ParseUint(s, 10, 64); err == nil {
			beforeID = n
		}
	}

	msgs, err := h.Chat.ListMessages(c.Request.Context(), chatID, limit, beforeID)
	if err != nil {
		if errors.Is(err, chat.ErrSessionNotFound) {
			common.Fail(c, http.StatusNotFound, 40004, "session not found")
			return
		}
		if errors.Is(err, chat.ErrPersistenceUnavailable) {
			common.Fail(c, http.StatusServiceUnavailable, 50300, "chat history unavailable")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50003, "failed to list messages")
		return
	}

	var nextBeforeID uint64
	if len(msgs) > 0 {
		nextBeforeID = msgs[len(msgs)-1].ID
	}

	common.OK(c, gin.H{
		"messages":       msgs,
		"next_before_id": nextBeforeID,
	})
}

type renameSessionReq struct {
	Title string `json:"title" binding:"required"`
}

func (h *Handler) RenameChatSession(c *gin.Context) {
	chatID := c.Param("chat_id")

	var req renameSessionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	if err := h.Chat.RenameSession(c.Request.Context(), chatID, req.Title); err != nil {
		if errors.Is(err, chat.ErrSessionNotFound) {
			common.Fail(c, http.StatusNotFound, 40004, "session not found")
			return
		}
		if errors.Is(err, chat.ErrPersistenceUnavailable) {
			common.Fail(c, http.StatusServiceUnavailable, 50300, "chat history unavailable")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50004, "failed to rename session")
		return
	}

	common.OK(c, gin.H{"chat_id": chatID, "title": req.Title})
}

func (h *Handler) DeleteChatSession(c *gin.Context) {
	chatID := c.Param("chat_id")

	if err := h.Chat.DeleteSession(c.Request.Context(), chatID); err != nil {
		if errors.Is(err, chat.ErrSessionNotFound) {
			common.Fail(c, http.StatusNotFound, 40004, "session not found")
			return
		}
		if errors.Is(err, chat.ErrPersistenceUnavailable) {
			common.Fail(c, http.StatusServiceUnavailable, 50300, "chat history unavailable")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50005, "failed to delete session")
		return
	}

	common.OK(c, gin.H{"chat_id": chatID, "deleted": true})
}

func (h *Handler) SendChatMessageStream(c *gin.Context) {
	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	// SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // helpful if behind nginx
	c.Status(http.StatusOK)

	ctx := c.Request.Context()
	chunks, results, errs := h.Chat.SendMessageStream(ctx, req.ChatID, req.Message)

	// heartbeat keeps idle connections alive
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		fmt.Fprintf(c.Writer, "event: error\ndata: flusher not supported\n\n")
		return
	}

	writeJSON := func(event string, payload any) {
		b, err := json.Marshal(payload)
		if err != nil {
			fmt.Fprintf(c.Writer, "event: error\ndata: {\"message\":\"json marshal failed\"}\n\n")
			flusher.Flush()
			return
		}
		if event != "" {
			fmt.Fprintf(c.Writer, "event: %s\n", event)
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", string(b))
		flusher.Flush()
	}

	for {
		select {
		case ch, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			writeJSON("chunk", gin.H{
				"type":  "chunk",
				"delta": ch,
			})

		case <-ticker.C:
			writeJSON("ping", gin.H{
				"type": "ping",
				"ts":   time.Now().Unix(),
			})

		case err, ok := <-errs:
			if !ok {
				errs = nil
				if results == nil {
					return
				}
				continue
			}
			if err == nil {
				continue
			}
			msg := err.Error()
			if errors.Is(err, chat.ErrSessionNotFound) {
				msg = "session not found"
			}
			writeJSON("error", gin.H{
				"type":    "error",
				"message": msg,
			})
			return

		case res, ok := <-results:
			if !ok {
				results = nil
				if errs == nil {
					return
				}
				continue
			}
			writeJSON("done", gin.H{
				"type":       "done",
				"chat_id":    res.ChatID,
				"message_id": res.MessageID,
				"created":    res.Created,
			})
			return

		case <-ctx.Done():
			return
		}
	}
}
