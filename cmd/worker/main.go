package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	appRAG "github.com/ragit/backend/internal/application/rag"
	appTask "github.com/ragit/backend/internal/application/task"
	domainTask "github.com/ragit/backend/internal/domain/task"
	"github.com/ragit/backend/internal/infrastructure/config"
	"github.com/ragit/backend/internal/infrastructure/embedding"
	"github.com/ragit/backend/internal/infrastructure/llm"
	applog "github.com/ragit/backend/internal/infrastructure/log"
	"github.com/ragit/backend/internal/infrastructure/storage"
	"github.com/ragit/backend/internal/infrastructure/vector"
	"github.com/ragit/backend/internal/infrastructure/watcher"
)

func main() {
	// 初始化日志系统
	applog.Init(nil)
	logger := applog.GetLogger()

	cfg, err := config.Load(os.Getenv("RAGIT_CONFIG"))
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// 打开元数据存储
	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath, err = storage.GetDBPath()
		if err != nil {
			logger.Error("Failed to resolve database path", "error", err)
			os.Exit(1)
		}
	}
	db, err := storage.OpenDB(dbPath)
	if err != nil {
		logger.Error("Failed to open database", "path", dbPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := storage.InitDatabase(db); err != nil {
		logger.Error("Failed to initialize database schema", "error", err)
		os.Exit(1)
	}

	repoStore := storage.NewRepositoryStore(db)
	fileStore := storage.NewFileStore(db)
	chunkStore := storage.NewChunkStore(db)
	cacheStore := storage.NewEmbeddingCacheStore(db)
	answerStore := storage.NewAnswerStore(db)
	queue := storage.NewQueueStore(db)

	taskService := appTask.NewService(queue)

	// register/list 子命令只操作元数据库，不连外部服务
	if len(os.Args) > 1 {
		runCommand(os.Args[1], os.Args[2:], repoStore, taskService)
		return
	}

	// Embedding 客户端，维度探测后用于建向量集合
	embeddingClient := embedding.NewClient(
		cfg.Embedding.BaseURL,
		cfg.Embedding.APIKey,
		cfg.Embedding.Model,
		embedding.WithMaxBatchSize(cfg.Embedding.MaxBatchSize),
		embedding.WithMaxRetries(cfg.Embedding.MaxRetries),
		embedding.WithTimeout(cfg.Embedding.Timeout.Std()),
		embedding.WithRateLimit(cfg.Embedding.RequestsPerSecond),
	)

	probeCtx, cancelProbe := context.WithTimeout(context.Background(), 30*time.Second)
	dimension, err := embeddingClient.GetVectorDimension(probeCtx)
	cancelProbe()
	if err != nil {
		logger.Error("Failed to probe embedding dimension", "model", cfg.Embedding.Model, "error", err)
		os.Exit(1)
	}

	vectorIndex, err := vector.NewQdrantIndex(cfg.Qdrant.Host, cfg.Qdrant.Port, uint64(dimension))
	if err != nil {
		logger.Error("Failed to connect to Qdrant", "host", cfg.Qdrant.Host, "port", cfg.Qdrant.Port, "error", err)
		os.Exit(1)
	}
	defer vectorIndex.Close()

	llmClient := llm.NewClient(
		cfg.LLM.BaseURL,
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		llm.WithTemperature(cfg.LLM.Temperature),
		llm.WithMaxTokens(cfg.LLM.MaxTokens),
		llm.WithMaxRetries(cfg.LLM.MaxRetries),
		llm.WithTimeout(cfg.LLM.Timeout.Std()),
	)

	// 应用层服务显式装配
	scanner := appRAG.NewScanner(&appRAG.ScanConfig{
		IgnorePatterns: cfg.Indexing.IgnorePatterns,
		MaxFileSize:    cfg.Indexing.MaxFileSize,
	})
	chunkers := appRAG.NewChunkerRegistry(cfg.Indexing.WindowSize, cfg.Indexing.WindowOverlap)
	embedder := appRAG.NewEmbedder(embeddingClient, cacheStore)
	locks := appRAG.NewRepositoryLocks()
	indexer := appRAG.NewIndexer(repoStore, fileStore, chunkStore, scanner, chunkers, embedder, vectorIndex, locks)
	prompts := appRAG.NewPromptBuilder(cfg.Indexing.PromptTokenBudget)
	answers := appRAG.NewAnswerService(repoStore, chunkStore, answerStore, embedder, vectorIndex, llmClient, prompts, cfg.Indexing.TopK)

	pool := appTask.NewPool(queue, cfg.Worker.Concurrency, cfg.Worker.PollInterval.Std())
	pool.Register(domainTask.JobTypeIndex, appTask.NewIndexHandler(indexer))
	pool.Register(domainTask.JobTypeAnswer, appTask.NewAnswerHandler(answers))

	// 工作树变更触发重新索引
	var repoWatcher *watcher.RepoWatcher
	if cfg.Watcher.Enabled {
		repoWatcher, err = watcher.NewRepoWatcher(cfg.Watcher.Debounce.Std(), func(repositoryID string) {
			if _, _, err := taskService.SubmitIndex(repositoryID); err != nil {
				logger.Error("Failed to submit index job for changed repository", "repository_id", repositoryID, "error", err)
			}
		})
		if err != nil {
			logger.Error("Failed to create repository watcher", "error", err)
			os.Exit(1)
		}

		repos, err := repoStore.ListRepositories()
		if err != nil {
			logger.Error("Failed to list repositories for watching", "error", err)
			os.Exit(1)
		}
		for _, repo := range repos {
			if err := repoWatcher.Watch(repo.ID, repo.LocalPath); err != nil {
				logger.Warn("Failed to watch repository tree", "repository_id", repo.ID, "path", repo.LocalPath, "error", err)
			}
		}
		repoWatcher.Start()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Worker starting",
		"db", dbPath,
		"qdrant", cfg.Qdrant.Host,
		"embedding_model", cfg.Embedding.Model,
		"llm_model", cfg.LLM.Model,
		"dimension", dimension,
	)

	err = pool.Run(ctx)

	logger.Info("Shutting down worker...")
	if repoWatcher != nil {
		if stopErr := repoWatcher.Stop(); stopErr != nil {
			logger.Error("Error stopping repository watcher", "error", stopErr)
		}
	}
	if err != nil && ctx.Err() == nil {
		logger.Error("Worker pool exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Worker stopped")
}
