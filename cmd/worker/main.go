package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/rag4all/ragchat/internal/chunker"
	"github.com/rag4all/ragchat/internal/config"
	"github.com/rag4all/ragchat/internal/db"
	"github.com/rag4all/ragchat/internal/docstore"
	"github.com/rag4all/ragchat/internal/embed"
	"github.com/rag4all/ragchat/internal/ingest"
	"github.com/rag4all/ragchat/internal/store/rabbitmq"
)

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The worker cannot degrade: without the database there are no job rows
	// to work on.
	gdb, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	jobs := ingest.NewJobRepo(gdb)

	pg, err := docstore.NewPostgres(ctx, cfg.DatabaseURL, cfg.EmbedDim)
	if err != nil {
		log.Fatalf("document store: %v", err)
	}
	defer pg.Close()
	if err := pg.EnsureSchema(ctx); err != nil {
		log.Fatalf("document store schema: %v", err)
	}

	embedder := embed.NewClient(
		cfg.EmbedBaseURL,
		cfg.EmbedModel,
		cfg.EmbedDim,
		cfg.EmbedParallel,
		time.Duration(cfg.EmbedTimeoutMS)*time.Millisecond,
	)

	splitter, err := chunker.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		log.Fatalf("chunker config: %v", err)
	}
	orch := ingest.NewOrchestrator(splitter, embedder, pg)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("rabbit dial: %v", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatalf("rabbit channel: %v", err)
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		log.Fatalf("queue declare: %v", err)
	}

	concurrency := workerConcurrency()
	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatalf("qos: %v", err)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("consume: %v", err)
	}

	log.Printf("worker started, queue=%s concurrency=%d", cfg.RabbitQueue, concurrency)

	// worker pool
	deliveries := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range deliveries {
				var m rabbitmq.JobMessage
				if err := json.Unmarshal(d.Body, &m); err != nil || m.JobID == "" {
					log.Printf("worker=%d bad message: %v", workerID, err)
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				if err := handleJob(ctx, jobs, orch, m.JobID); err != nil {
					log.Printf("worker=%d job %s failed cost=%s err=%v", workerID, m.JobID, time.Since(start), err)
					_ = d.Nack(false, false)
					continue
				}

				if err := d.Ack(false); err != nil {
					log.Printf("worker=%d ack failed job=%s err=%v", workerID, m.JobID, err)
				}
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Printf("worker shutting down")
			close(deliveries)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Printf("delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}
			deliveries <- d
		}
	}
}

// handleJob loads the job row, reads the staged upload and runs it through
// the ingestion pipeline. The job row records the outcome; the staged file
// is kept on failure so the job can be inspected.
func handleJob(ctx context.Context, jobs *ingest.JobRepo, orch *ingest.Orchestrator, jobID string) error {
	j, err := jobs.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}

	// terminal states are not rerun (redelivery after a crash-ack race)
	if j.Status == ingest.JobSucceeded || j.Status == ingest.JobFailed {
		log.Printf("job %s already %s, skipping", jobID, j.Status)
		return nil
	}

	data, err := os.ReadFile(j.PayloadPath)
	if err != nil {
		msg := fmt.Sprintf("read staged upload: %v", err)
		_ = jobs.MarkFailed(ctx, jobID, msg)
		return fmt.Errorf("%s", msg)
	}

	_ = jobs.SetStatus(ctx, jobID, ingest.JobExtracting)

	rep := orch.IngestFile(ctx, j.ChatID, ingest.File{Name: j.FileName, Data: data})
	if rep.Err != nil {
		msg := fmt.Sprintf("stage=%s: %v", rep.Stage, rep.Err)
		_ = jobs.MarkFailed(ctx, jobID, msg)
		return fmt.Errorf("%s", msg)
	}

	if err := jobs.MarkSucceeded(ctx, jobID, rep.ChunkCount, rep.Warnings); err != nil {
		return fmt.Errorf("mark succeeded: %w", err)
	}
	if err := os.Remove(j.PayloadPath); err != nil {
		log.Printf("job %s staged file cleanup failed: %v", jobID, err)
	}
	return nil
}
