package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"cv-copilot/application/agent"
	"cv-copilot/application/evaluation"
	"cv-copilot/application/graph"
	"cv-copilot/application/tools"
	"cv-copilot/config"
	"cv-copilot/domain"
	"cv-copilot/infrastructure"
	"cv-copilot/interfaces"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the evaluation workers and the Telegram webhook",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// llmProvider is a model that can also embed text.
type llmProvider interface {
	domain.ChatModel
	infrastructure.Embedder
}

// app holds the wired components and the resources to release on exit.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     *infrastructure.Store
	queue     evaluation.Queue
	service   *evaluation.Service
	runner    *evaluation.Runner
	assistant *agent.Agent
	bot       *infrastructure.TelegramClient
	closers   []func() error
}

func serve(parent context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := infrastructure.NewLogger(cfg.JSON, cfg.Debug)
	if err != nil {
		return fmt.Errorf("creating a logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting the cv-copilot", zap.String("version", version))

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{cfg: cfg, logger: logger}
	defer a.close()

	if err := a.build(ctx); err != nil {
		logger.Error("startup failed", zap.Error(err))
		return err
	}
	return a.run(ctx)
}

func (a *app) build(ctx context.Context) error {
	cfg := a.cfg

	db, err := infrastructure.OpenDatabase(ctx, infrastructure.DatabaseConfig{
		Driver: cfg.Database.Driver,
		DSN:    cfg.Database.DSN,
		Seed:   cfg.Database.Seed,
		Debug:  cfg.Database.Debug,
	}, a.logger)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		a.closers = append(a.closers, sqlDB.Close)
	}
	a.store = infrastructure.NewStore(db)

	objects, err := a.objectStore(ctx)
	if err != nil {
		return err
	}
	extractor, err := a.extractor(ctx)
	if err != nil {
		return err
	}
	model, err := a.provider(ctx)
	if err != nil {
		return err
	}

	documents, err := a.vectorStore(ctx, cfg.Qdrant.DocumentsCollection, model)
	if err != nil {
		return err
	}
	knowledge, err := a.vectorStore(ctx, cfg.Qdrant.KnowledgeCollection, model)
	if err != nil {
		return err
	}

	scorer, err := evaluation.NewScorer(model, cfg.LLM.IncludeImages, a.logger)
	if err != nil {
		return err
	}
	stores := evaluation.Stores{
		Evaluations: a.store.Evaluations(),
		Uploads:     a.store.Uploads(),
		Jobs:        a.store.JobPostings(),
		Details:     a.store.CVDetails(),
	}
	pipeline := evaluation.NewPipeline(stores, evaluation.Indexes{Documents: documents, Knowledge: knowledge},
		objects, extractor, scorer, cfg.Pipeline.StepTimeout, a.logger)

	if err := a.openQueue(); err != nil {
		return err
	}
	a.service = evaluation.NewService(stores, objects, documents, a.queue, a.logger)
	a.runner = evaluation.NewRunner(a.queue, pipeline, cfg.Queue.Concurrency, a.logger)

	registry := tools.NewRegistry(a.logger)
	hrTools, err := tools.HRTools(tools.HRStores{
		Jobs:        stores.Jobs,
		Evaluations: stores.Evaluations,
		Uploads:     stores.Uploads,
		Details:     stores.Details,
		Knowledge:   knowledge,
	})
	if err != nil {
		return err
	}
	if err := registry.Register(hrTools...); err != nil {
		return err
	}

	checkpointer, err := a.checkpointer(ctx)
	if err != nil {
		return err
	}
	a.assistant, err = agent.New(model, registry, agent.Options{
		RecursionLimit:   cfg.Agent.RecursionLimit,
		ContextWindow:    cfg.Agent.ContextWindow,
		MaxParallelTools: cfg.Agent.MaxParallelTools,
		Checkpointer:     checkpointer,
	}, a.logger)
	if err != nil {
		return err
	}

	if cfg.Telegram.Enabled {
		a.bot, err = infrastructure.NewTelegramClient(infrastructure.TelegramConfig{
			Token:    cfg.Telegram.Token,
			Endpoint: cfg.Telegram.Endpoint,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (a *app) objectStore(ctx context.Context) (domain.ObjectStore, error) {
	storage := a.cfg.Storage
	if storage.Driver == "gcs" {
		gcs, err := infrastructure.NewGCSStore(ctx, storage.GCS.Bucket, storage.GCS.Prefix, storage.GCS.CredentialsFile)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, gcs.Close)
		a.logger.Info("object storage ready", zap.String("driver", "gcs"), zap.String("bucket", storage.GCS.Bucket))
		return gcs, nil
	}

	fsys := afero.NewOsFs()
	if err := fsys.MkdirAll(storage.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	a.logger.Info("object storage ready", zap.String("driver", "file"), zap.String("root", storage.Root))
	return infrastructure.NewFileStore(fsys, storage.Root), nil
}

// extractor prefers Document AI when enabled and falls back to local parsing.
func (a *app) extractor(ctx context.Context) (domain.Extractor, error) {
	var chain []domain.Extractor

	docAI := a.cfg.Extraction.DocumentAI
	if docAI.Enabled {
		remote, err := infrastructure.NewDocumentAIExtractor(ctx, infrastructure.DocumentAIConfig{
			ProjectID:       docAI.ProjectID,
			Location:        docAI.Location,
			ProcessorID:     docAI.ProcessorID,
			Version:         docAI.Version,
			CredentialsFile: docAI.CredentialsFile,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, remote.Close)
		chain = append(chain, remote)
	}

	local, err := infrastructure.NewLocalExtractor(a.cfg.Extraction.UnidocLicenseKey, a.logger)
	if err != nil {
		return nil, err
	}
	chain = append(chain, local)
	return infrastructure.NewExtractorChain(a.logger, chain...), nil
}

func (a *app) provider(ctx context.Context) (llmProvider, error) {
	llm := a.cfg.LLM
	a.logger.Info("llm provider selected", zap.String("provider", llm.Provider))

	if llm.Provider == "openai" {
		return infrastructure.NewOpenAIClient(infrastructure.OpenAIConfig{
			APIKey:              llm.OpenAI.APIKey,
			BaseURL:             llm.OpenAI.BaseURL,
			Model:               llm.OpenAI.Model,
			EmbeddingModel:      llm.OpenAI.EmbeddingModel,
			EmbeddingDimensions: llm.OpenAI.EmbeddingDimensions,
			Temperature:         llm.Temperature,
		}, a.logger)
	}
	return infrastructure.NewGeminiClient(ctx, infrastructure.GeminiConfig{
		APIKey:              llm.Gemini.APIKey,
		Vertex:              llm.Gemini.Vertex,
		Project:             llm.Gemini.Project,
		Location:            llm.Gemini.Location,
		Models:              llm.Gemini.Models,
		EmbeddingModel:      llm.Gemini.EmbeddingModel,
		EmbeddingDimensions: llm.Gemini.EmbeddingDimensions,
		Temperature:         llm.Temperature,
	}, a.logger)
}

func (a *app) vectorStore(ctx context.Context, collection string, embedder infrastructure.Embedder) (*infrastructure.QdrantStore, error) {
	q := a.cfg.Qdrant
	store, err := infrastructure.NewQdrantStore(infrastructure.QdrantConfig{
		URL:        q.URL,
		APIKey:     q.APIKey,
		Collection: collection,
		VectorDim:  q.VectorDim,
		Distance:   q.Distance,
		Timeout:    q.Timeout,
	}, embedder, a.logger)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureCollection(ctx); err != nil {
		return nil, fmt.Errorf("ensure collection %s: %w", collection, err)
	}
	return store, nil
}

func (a *app) openQueue() error {
	queue := a.cfg.Queue
	if queue.Driver == "rabbitmq" {
		rmq, err := infrastructure.NewRabbitMQ(infrastructure.RabbitMQConfig{
			URL:      queue.RabbitMQ.URL,
			Queue:    queue.RabbitMQ.Queue,
			Prefetch: queue.Concurrency,
		}, a.logger)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, rmq.Close)
		a.queue = rmq
		return nil
	}
	a.queue = evaluation.NewMemoryQueue(queue.Buffer)
	return nil
}

func (a *app) checkpointer(ctx context.Context) (graph.Checkpointer[agent.State], error) {
	redis := a.cfg.Redis
	if !redis.Enabled {
		a.logger.Warn("conversation checkpoints are kept in memory and lost on restart")
		return graph.NewMemorySaver[agent.State](), nil
	}
	rdb, err := infrastructure.NewRedisClient(ctx, redis.Addr, redis.Password, redis.DB)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, rdb.Close)
	return infrastructure.NewRedisCheckpointer[agent.State](rdb, redis.CheckpointPrefix, redis.CheckpointTTL), nil
}

// router builds the gin engine with the API and, when enabled, the Telegram webhook.
func (a *app) router(ctx context.Context) (*gin.Engine, *interfaces.TelegramHandler, error) {
	if !a.cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), interfaces.RequestLogger(a.logger), interfaces.CORS(a.cfg.HTTP.CORSOrigins))

	interfaces.NewHTTPHandler(router, a.service, a.assistant, interfaces.HTTPOptions{
		MaxUploadBytes: a.cfg.HTTP.MaxUploadBytes(),
		Health:         a.store.Ping,
	}, a.logger)

	if a.bot == nil {
		return router, nil, nil
	}

	secret := a.cfg.Telegram.SecretToken
	if hostname := a.cfg.Telegram.Hostname; hostname != "" {
		if secret == "" {
			var err error
			if secret, err = infrastructure.GenerateSecretToken(); err != nil {
				return nil, nil, err
			}
		}
		if err := a.bot.SetWebhook(ctx, hostname, secret); err != nil {
			return nil, nil, fmt.Errorf("register telegram webhook: %w", err)
		}
		a.logger.Info("telegram webhook registered", zap.String("hostname", hostname))
	}

	telegram := interfaces.NewTelegramHandler(ctx, router, a.assistant, a.store.Chats(), a.bot, interfaces.TelegramOptions{
		SecretToken:  secret,
		HistoryLimit: a.cfg.Agent.HistoryLimit,
	}, a.logger)
	return router, telegram, nil
}

func (a *app) run(ctx context.Context) error {
	router, telegram, err := a.router(ctx)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: a.cfg.HTTP.ReadHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.runner.Run(gctx)
	})
	if _, ok := a.queue.(*evaluation.MemoryQueue); ok {
		g.Go(func() error {
			if err := a.service.Resume(gctx); err != nil {
				a.logger.Error("failed to resume pending evaluations", zap.Error(err))
			}
			return nil
		})
	}
	g.Go(func() error {
		a.logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if telegram != nil {
		telegram.Wait()
	}
	if err != nil {
		a.logger.Error("server stopped with error", zap.Error(err))
		return err
	}
	a.logger.Info("server stopped")
	return nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("failed to release resource", zap.Error(err))
		}
	}
}
