package main

import (
	"context"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/rag4all/ragchat/internal/chat"
	"github.com/rag4all/ragchat/internal/chunker"
	"github.com/rag4all/ragchat/internal/config"
	"github.com/rag4all/ragchat/internal/db"
	"github.com/rag4all/ragchat/internal/docstore"
	"github.com/rag4all/ragchat/internal/embed"
	"github.com/rag4all/ragchat/internal/httpapi"
	"github.com/rag4all/ragchat/internal/httpapi/handlers"
	"github.com/rag4all/ragchat/internal/ingest"
	"github.com/rag4all/ragchat/internal/llm"
	"github.com/rag4all/ragchat/internal/retriever"
	"github.com/rag4all/ragchat/internal/store/rabbitmq"
	"github.com/rag4all/ragchat/internal/store/redisstore"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	ctx := context.Background()

	// Relational persistence is optional: without it, chat still answers but
	// nothing is remembered across requests.
	var repo *chat.Repo
	var jobs *ingest.JobRepo
	if cfg.DatabaseURL == "" {
		log.Printf("DATABASE_URL not set, chat history disabled")
	} else if gdb, err := db.Connect(cfg.DatabaseURL); err != nil {
		log.Printf("database unavailable, chat history disabled: %v", err)
	} else {
		if err := db.AutoMigrate(gdb); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		repo = chat.NewRepo(gdb)
		jobs = ingest.NewJobRepo(gdb)
	}

	// Document store shares the Postgres instance but runs over pgx so it can
	// use pgvector natively.
	var docs docstore.Store = docstore.Unavailable{}
	if cfg.DatabaseURL != "" {
		if pg, err := docstore.NewPostgres(ctx, cfg.DatabaseURL, cfg.EmbedDim); err != nil {
			log.Printf("document store unavailable: %v", err)
		} else if err := pg.EnsureSchema(ctx); err != nil {
			log.Printf("document store schema failed, retrieval disabled: %v", err)
			pg.Close()
		} else {
			docs = pg
		}
	}

	titles := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if titles == nil {
		log.Printf("REDIS_ADDR not set, title cache disabled")
	}

	embedder := embed.NewClient(
		cfg.EmbedBaseURL,
		cfg.EmbedModel,
		cfg.EmbedDim,
		cfg.EmbedParallel,
		time.Duration(cfg.EmbedTimeoutMS)*time.Millisecond,
	)

	ret := retriever.New(embedder, docs)
	ret.TopK = cfg.RetrieveTopK
	ret.Threshold = cfg.RetrieveThreshold

	reg := llm.NewRegistry()
	reg.Register("ollama", func(ctx context.Context, model string) (llm.Provider, error) {
		_ = ctx
		if model == "" {
			model = cfg.OllamaModel
		}
		return llm.NewOllamaProvider(cfg.OllamaBaseURL, model), nil
	})
	reg.Register("openrouter", func(ctx context.Context, model string) (llm.Provider, error) {
		_ = ctx
		if model == "" {
			model = cfg.OpenRouterModel
		}
		return llm.NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, model, cfg.OpenRouterSiteURL, cfg.OpenRouterAppName), nil
	})

	provider := strings.ToLower(cfg.LLMProvider)
	model := cfg.OpenRouterModel
	if provider == "ollama" {
		model = cfg.OllamaModel
	}

	chatSvc := chat.NewService(repo, ret, reg, docs, titles, chat.ServiceConfig{
		Provider: provider,
		Model:    model,
		GenOpts: llm.Options{
			Model:       model,
			Temperature: cfg.GenTemperature,
			MaxTokens:   cfg.GenMaxTokens,
			TopP:        cfg.GenTopP,
		},
		Window: cfg.ChatContextWindowSize,
	})

	splitter, err := chunker.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		log.Fatalf("chunker config: %v", err)
	}
	orch := ingest.NewOrchestrator(splitter, embedder, docs)

	// Queue is optional: without it, uploads ingest synchronously in the
	// request.
	var rabbit *rabbitmq.Publisher
	if cfg.RabbitURL == "" {
		log.Printf("RABBIT_URL not set, ingestion runs synchronously")
	} else if rabbit, err = rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue); err != nil {
		log.Printf("rabbit unavailable, ingestion runs synchronously: %v", err)
		rabbit = nil
	} else {
		defer rabbit.Close()
	}

	h := handlers.NewHandler(cfg, chatSvc, orch, jobs, rabbit)
	r := httpapi.NewRouter(h)

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	log.Printf("server listening addr=%s provider=%s model=%s", addr, provider, model)
	if err := r.Run(addr); err != nil {
		log.Fatalf("server: %v", err)
	}
}
