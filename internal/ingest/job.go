package ingest

import "time"

type JobStatus string

// Job statuses follow the per-file pipeline stages. A job parks in the
// stage it was executing when it failed.
const (
	JobQueued     JobStatus = "queued"
	JobExtracting JobStatus = "extracting"
	JobChunking   JobStatus = "chunking"
	JobEmbedding  JobStatus = "embedding"
	JobStoring    JobStatus = "storing"
	JobSucceeded  JobStatus = "succeeded"
	JobFailed     JobStatus = "failed"
)

// Job tracks one uploaded file through the ingestion pipeline. The raw
// upload is staged on disk at PayloadPath until the worker picks it up.
type Job struct {
	ID string `gorm:"primaryKey;size:26" json:"job_id"` // ULID

	ChatID   string `gorm:"size:26;index;not null" json:"chat_id"`
	FileName string `gorm:"type:text;not null" json:"file_name"`

	PayloadPath string `gorm:"type:text" json:"-"`

	Status JobStatus `gorm:"type:varchar(16);index;not null" json:"status"`

	// Filled when succeeded
	ChunkCount int     `json:"chunk_count"`
	Warnings   *string `gorm:"type:text" json:"warnings,omitempty"`

	// Filled when failed
	Error *string `gorm:"type:text" json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Job) TableName() string { return "ingest_jobs" }
