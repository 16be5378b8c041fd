package handlers

import (
	"errors"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/rag4all/ragchat/internal/chat"
	"github.com/rag4all/ragchat/internal/common"
	"github.com/rag4all/ragchat/internal/ingest"
)

const maxUploadBytes = 50 << 20 // per request

// UploadDocuments accepts multipart uploads under the "files" field and
// ingests them into the chat given by the "chat_id" form value. With
// RabbitMQ configured each file becomes a queued job; otherwise ingestion
// runs inline and the response carries the per-file reports directly.
func (h *Handler) UploadDocuments(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)

	form, err := c.MultipartForm()
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10010, "invalid multipart form")
		return
	}

	chatID := strings.TrimSpace(c.PostForm("chat_id"))
	if chatID == "" {
		common.Fail(c, http.StatusBadRequest, 10011, "chat_id required")
		return
	}

	files := form.File["files"]
	if len(files) == 0 {
		common.Fail(c, http.StatusBadRequest, 10012, "no files uploaded")
		return
	}

	if h.Rabbit == nil || h.Jobs == nil {
		h.uploadSync(c, chatID, files)
		return
	}

	ctx := c.Request.Context()
	jobs := make([]gin.H, 0, len(files))
	for _, fh := range files {
		data, err := readUpload(fh)
		if err != nil {
			jobs = append(jobs, gin.H{"file_name": fh.Filename, "error": "unreadable upload"})
			continue
		}

		jobID, err := common.NewULID()
		if err != nil {
			common.Fail(c, http.StatusInternalServerError, 50010, "internal error")
			return
		}

		path := filepath.Join(h.Cfg.UploadDir, jobID)
		if err := os.WriteFile(path, data, 0o600); err != nil {
			log.Printf("[UploadDocuments] stage failed chat_id=%s file=%s err=%v", chatID, fh.Filename, err)
			common.Fail(c, http.StatusInternalServerError, 50011, "failed to stage upload")
			return
		}

		job := &ingest.Job{
			ID:          jobID,
			ChatID:      chatID,
			FileName:    fh.Filename,
			PayloadPath: path,
			Status:      ingest.JobQueued,
		}
		if err := h.Jobs.Create(ctx, job); err != nil {
			log.Printf("[UploadDocuments] create job failed chat_id=%s file=%s err=%v", chatID, fh.Filename, err)
			common.Fail(c, http.StatusInternalServerError, 50010, "internal error")
			return
		}

		if err := h.Rabbit.PublishJob(ctx, jobID); err != nil {
			log.Printf("[UploadDocuments] enqueue failed job=%s err=%v", jobID, err)
			common.Fail(c, http.StatusInternalServerError, 50012, "enqueue failed")
			return
		}

		jobs = append(jobs, gin.H{"file_name": fh.Filename, "job_id": jobID, "status": ingest.JobQueued})
	}

	common.OK(c, gin.H{"chat_id": chatID, "jobs": jobs})
}

// uploadSync is the no-queue path: run the pipeline inline and report per
// file. A failed file never fails the request; its report carries the error.
func (h *Handler) uploadSync(c *gin.Context, chatID string, fhs []*multipart.FileHeader) {
	ingestFiles := make([]ingest.File, 0, len(fhs))
	for _, fh := range fhs {
		data, err := readUpload(fh)
		if err != nil {
			log.Printf("[UploadDocuments] unreadable upload chat_id=%s file=%s err=%v", chatID, fh.Filename, err)
			continue
		}
		ingestFiles = append(ingestFiles, ingest.File{Name: fh.Filename, Data: data})
	}

	reports := h.Ingest.IngestBatch(c.Request.Context(), chatID, ingestFiles)

	out := make([]gin.H, 0, len(reports))
	for _, rep := range reports {
		item := gin.H{
			"file_name":   rep.FileName,
			"stage":       rep.Stage,
			"chunk_count": rep.ChunkCount,
		}
		if len(rep.Warnings) > 0 {
			item["warnings"] = rep.Warnings
		}
		if rep.Err != nil {
			item["error"] = rep.Err.Error()
		}
		out = append(out, item)
	}

	common.OK(c, gin.H{"chat_id": chatID, "reports": out})
}

func (h *Handler) GetIngestJob(c *gin.Context) {
	if h.Jobs == nil {
		common.Fail(c, http.StatusServiceUnavailable, 50301, "job tracking unavailable")
		return
	}

	jobID := c.Param("job_id")
	j, err := h.Jobs.Get(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40005, "job not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50010, "internal error")
		return
	}

	common.OK(c, gin.H{"job": j})
}

// DeleteDocuments removes stored chunks for a chat; with file_name set only
// that document's chunks go.
func (h *Handler) DeleteDocuments(c *gin.Context) {
	chatID := strings.TrimSpace(c.Query("chat_id"))
	if chatID == "" {
		common.Fail(c, http.StatusBadRequest, 10011, "chat_id required")
		return
	}
	fileName := c.Query("file_name")

	if err := h.Chat.DeleteDocument(c.Request.Context(), chatID, fileName); err != nil {
		if errors.Is(err, chat.ErrSessionNotFound) {
			common.Fail(c, http.StatusNotFound, 40004, "session not found")
			return
		}
		common.Fail(c, http.StatusServiceUnavailable, 50302, "document store unavailable")
		return
	}

	common.OK(c, gin.H{"chat_id": chatID, "file_name": fileName, "deleted": true})
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
