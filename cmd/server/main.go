package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"notebookai/internal/chat"
	"notebookai/internal/config"
	"notebookai/internal/grounding"
	"notebookai/internal/notebook"
	"notebookai/internal/registry"
	"notebookai/internal/server"
	"notebookai/internal/transform"
	"notebookai/internal/util"
	"notebookai/pkg/ai"
	"notebookai/pkg/events"
	"notebookai/pkg/extract"
	"notebookai/pkg/queue"
	"notebookai/pkg/storage"
	"notebookai/pkg/store"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel)

	st, err := buildStore(cfg)
	if err != nil {
		util.Fatal("failed to init store", "err", err)
	}
	generator, err := buildGenerator(cfg)
	if err != nil {
		util.Fatal("failed to init text generator", "err", err)
	}
	objects, err := buildObjectStore(cfg)
	if err != nil {
		util.Fatal("failed to init object store", "err", err)
	}
	publisher, err := buildPublisher(cfg)
	if err != nil {
		util.Fatal("failed to init event publisher", "err", err)
	}
	defer publisher.Close()

	extractor := extract.NewPipeline(extract.Config{Objects: objects})

	reg, err := registry.New(registry.Config{
		Store:     st,
		Publisher: publisher,
	})
	if err != nil {
		util.Fatal("failed to init registry", "err", err)
	}
	exec, err := transform.New(transform.Config{
		Store:         st,
		Extractor:     extractor,
		Generator:     generator,
		Status:        reg,
		RetryAttempts: uint(cfg.RetryAttempts),
		RetryDelay:    time.Duration(cfg.RetryDelaySeconds) * time.Second,
		CallTimeout:   time.Duration(cfg.CallTimeoutSeconds) * time.Second,
	})
	if err != nil {
		util.Fatal("failed to init transformation executor", "err", err)
	}
	reg.BindExecutor(exec)

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	if cfg.RedisAddr != "" {
		if err := startQueue(workerCtx, cfg, reg); err != nil {
			util.Fatal("failed to start ingest queue", "err", err)
		}
	}

	selector, err := grounding.NewSelector(grounding.Config{
		Store:      st,
		MaxItems:   cfg.ContextMaxItems,
		ItemBudget: cfg.ContextItemBudget,
	})
	if err != nil {
		util.Fatal("failed to init context selector", "err", err)
	}
	orchestrator, err := chat.New(chat.Config{
		Store:        st,
		Generator:    generator,
		Selector:     selector,
		HistoryLimit: cfg.ChatHistoryLimit,
		CallTimeout:  time.Duration(cfg.CallTimeoutSeconds) * time.Second,
	})
	if err != nil {
		util.Fatal("failed to init chat orchestrator", "err", err)
	}
	notebooks, err := notebook.New(st)
	if err != nil {
		util.Fatal("failed to init notebook service", "err", err)
	}

	httpServer, err := server.New(server.Config{
		Notebooks: notebooks,
		Registry:  reg,
		Executor:  exec,
		Chat:      orchestrator,
	})
	if err != nil {
		util.Fatal("failed to init server", "err", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 300 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("notebook server listening", "addr", addr, "store", cfg.StoreDriver, "provider", cfg.AIProvider)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "err", err)
	}
	stopWorkers()
	if err := reg.Close(shutdownCtx); err != nil {
		logger.Error("registry shutdown", "err", err)
	}
}

func buildStore(cfg config.FileConfig) (store.Store, error) {
	if cfg.StoreDriver == "memory" {
		return store.NewMemoryStore(), nil
	}
	return store.NewGormStore(cfg.DatabaseURL)
}

func buildGenerator(cfg config.FileConfig) (ai.TextGenerator, error) {
	switch cfg.AIProvider {
	case "gemini":
		client, err := ai.NewGeminiClient(cfg.GeminiAPIKey)
		if err != nil {
			return nil, err
		}
		return ai.NewGeminiGenerator(client, cfg.GeminiModel), nil
	case "ollama":
		return ai.NewOllamaGenerator(ai.NewOllamaClient(cfg.OllamaURL), cfg.OllamaModel), nil
	default:
		return ai.NewOpenAICompatGenerator(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel), nil
	}
}

func buildObjectStore(cfg config.FileConfig) (storage.ObjectStore, error) {
	if cfg.MinioEndpoint != "" {
		return storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	}
	dir := cfg.UploadDir
	if dir == "" {
		dir = "uploads"
	}
	return storage.NewFileStore(dir)
}

func buildPublisher(cfg config.FileConfig) (events.Publisher, error) {
	if cfg.AMQPURL == "" {
		return events.NoopPublisher{}, nil
	}
	return events.NewAMQPPublisher(cfg.AMQPURL, cfg.EventExchange)
}

// startQueue switches the registry onto the Redis-streams scheduler so
// ingestion jobs survive restarts and spread across nodes, and starts the
// local workers that consume them.
func startQueue(ctx context.Context, cfg config.FileConfig, reg *registry.Registry) error {
	q, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		Stream:   cfg.QueueName,
		Group:    cfg.QueueGroup,
	})
	if err != nil {
		return err
	}
	concurrency := cfg.QueueConcurrency
	if concurrency <= 0 {
		concurrency = 2
	}
	reg.UseScheduler(queueScheduler{q})
	q.Start(ctx, concurrency, func(jobCtx context.Context, job queue.JobStatus) error {
		return reg.Ingest(jobCtx, job.SourceID)
	})
	return nil
}

type queueScheduler struct {
	q *queue.RedisJobQueue
}

func (s queueScheduler) Schedule(ctx context.Context, sourceID string) error {
	_, err := s.q.Enqueue(ctx, sourceID)
	return err
}
