package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/alumitra/advisory/config"
	"github.com/alumitra/advisory/internal/api/handlers"
	"github.com/alumitra/advisory/internal/api/middleware"
	"github.com/alumitra/advisory/internal/api/routes"
	"github.com/alumitra/advisory/internal/cache"
	"github.com/alumitra/advisory/internal/logger"
	"github.com/alumitra/advisory/internal/providers/llm"
	mongorepo "github.com/alumitra/advisory/internal/repositories/mongo"
	pgrepo "github.com/alumitra/advisory/internal/repositories/postgres"
	"github.com/alumitra/advisory/internal/services"
	"github.com/alumitra/advisory/internal/workers"
)

func main() {
	_ = godotenv.Load()

	log := logger.New()
	limits := config.LoadLimits()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Init MongoDB
	if err := config.InitMongo(); err != nil {
		log.Fatalf("MongoDB init error: %v", err)
	}
	if err := config.EnsureMongoIndexes(); err != nil {
		log.Fatalf("MongoDB index error: %v", err)
	}
	log.Info("MongoDB connected")

	// Init PostgreSQL
	if err := config.InitPostgres(); err != nil {
		log.Fatalf("PostgreSQL init error: %v", err)
	}
	if err := config.MigratePostgres(); err != nil {
		log.Fatalf("PostgreSQL migrate error: %v", err)
	}
	log.Info("PostgreSQL connected")

	// Init Redis
	if err := config.InitRedis(); err != nil {
		log.Fatalf("Redis init error: %v", err)
	}
	log.Info("Redis connected")

	provider, err := llm.NewVertexGemini(ctx,
		os.Getenv("GCP_PROJECT_ID"),
		envOr("GCP_LOCATION", "us-central1"),
		envOr("GEMINI_MODEL", "gemini-2.0-flash"),
	)
	if err != nil {
		log.Fatalf("Vertex AI init error: %v", err)
	}
	defer provider.Close()

	store := pgrepo.NewStore(config.PostgresDB)
	intakeRepo := mongorepo.NewIntakeRepo(config.MongoDatabase())

	quotaSvc := services.NewQuotaService(store.Quotas(), limits.MaxDailyQuestions)
	sessionSvc := services.NewSessionService(store.Sessions())
	intakeSvc := services.NewIntakeService(intakeRepo, provider)
	chatSvc := services.NewChatService(store, quotaSvc, provider, log, limits.MemoryCap, limits.MaxSessionQuestions)

	runner := &workers.TaskRunner{
		Store:       workers.NewRedisTaskStore(cache.NewRedisCache(config.RedisClient), limits.TaskResultTTL),
		Logger:      log,
		NumWorkers:  limits.TaskWorkers,
		QueueSize:   limits.TaskQueueSize,
		MaxAttempts: limits.TaskMaxAttempts,
		BackoffBase: limits.TaskBackoffBase,
		Timeout:     limits.TaskTimeout,
	}
	if err := runner.Start(ctx); err != nil {
		log.Fatalf("task runner init error: %v", err)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(log))

	routes.RegisterRoutes(r, routes.Deps{
		Chat:    handlers.NewChatHandler(intakeSvc, sessionSvc, chatSvc, runner),
		Session: handlers.NewSessionHandler(sessionSvc),
		Intake:  handlers.NewIntakeHandler(intakeSvc),
		Admin:   handlers.NewAdminHandler(quotaSvc),
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{Addr: ":" + port, Handler: r}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("port", port).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		return srv.Shutdown(context.Background())
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
