package ingest

import (
	"context"
	"errors"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openJobDB(t *testing.T) *JobRepo {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Job{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return NewJobRepo(db)
}

func TestJobRepo_SucceededLifecycle(t *testing.T) {
	repo := openJobDB(t)
	ctx := context.Background()

	job := &Job{ID: "01JOB0000000000000000000AA", ChatID: "chat-1", FileName: "a.pdf", Status: JobQueued}
	if err := repo.Create(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := repo.SetStatus(ctx, job.ID, JobEmbedding); err != nil {
		t.Fatalf("set status: %v", err)
	}
	if err := repo.MarkSucceeded(ctx, job.ID, 7, []string{"chunk 3 embedding failed", "chunk 5 embedding failed"}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	got, err := repo.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != JobSucceeded || got.ChunkCount != 7 {
		t.Fatalf("got status=%s chunks=%d", got.Status, got.ChunkCount)
	}
	if got.Warnings == nil || *got.Warnings != "chunk 3 embedding failed\nchunk 5 embedding failed" {
		t.Fatalf("warnings = %v", got.Warnings)
	}
	if got.Error != nil {
		t.Fatalf("error should be clear, got %v", *got.Error)
	}
}

func TestJobRepo_MarkFailed(t *testing.T) {
	repo := openJobDB(t)
	ctx := context.Background()

	job := &Job{ID: "01JOB0000000000000000000AB", ChatID: "chat-1", FileName: "b.txt", Status: JobQueued}
	if err := repo.Create(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := repo.MarkFailed(ctx, job.ID, "stage=extract: empty document"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	got, err := repo.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != JobFailed {
		t.Fatalf("status = %s", got.Status)
	}
	if got.Error == nil || *got.Error != "stage=extract: empty document" {
		t.Fatalf("error = %v", got.Error)
	}
}

func TestJobRepo_GetMissing(t *testing.T) {
	repo := openJobDB(t)

	_, err := repo.Get(context.Background(), "nope")
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("err = %v", err)
	}
}
