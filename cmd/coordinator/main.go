// Command coordinator runs the flow engine's coordinator process: the
// stateful owner of every open flow, exposing spec.md §6's HTTP surface
// and dispatching node execution to a worker over the protocol in C8.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/flowkit/fctl/internal/application/coordinator"
	"github.com/flowkit/fctl/internal/config"
	rediscache "github.com/flowkit/fctl/internal/infrastructure/cache"
	"github.com/flowkit/fctl/internal/infrastructure/api/rest"
	"github.com/flowkit/fctl/internal/infrastructure/logger"
	"github.com/flowkit/fctl/internal/infrastructure/storage"
	"github.com/flowkit/fctl/pkg/cache"
	"github.com/flowkit/fctl/pkg/catalog"
	"github.com/flowkit/fctl/pkg/catalog/builtin"
	"github.com/flowkit/fctl/pkg/observe"
	"github.com/flowkit/fctl/pkg/persistence"
	"github.com/flowkit/fctl/pkg/scheduler"
	workerclient "github.com/flowkit/fctl/pkg/worker/client"
)

func main() {
	cfg, err := config.LoadCoordinator()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.Logging)
	logger.SetDefault(appLogger)

	appLogger.Info("starting coordinator", "port", cfg.Server.Port)

	cat := catalog.New()
	if err := builtin.RegisterBuiltins(cat); err != nil {
		appLogger.Error("failed to register node kinds", "error", err)
		os.Exit(1)
	}

	var distLock *redis.Client
	if cfg.Redis.URL != "" {
		rc, err := rediscache.NewRedisCache(cfg.Redis)
		if err != nil {
			appLogger.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer rc.Close()
		distLock = rc.Client()
		appLogger.Info("distributed cache lock enabled", "redis", cfg.Redis.URL)
	} else {
		appLogger.Info("distributed cache lock disabled, single-instance singleflight only")
	}

	ch, err := cache.New(cfg.Cache.Dir, cfg.Cache.MaxBytes, distLock)
	if err != nil {
		appLogger.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	if err := ch.StartJanitor("@every 5m"); err != nil {
		appLogger.Error("failed to start cache janitor", "error", err)
		os.Exit(1)
	}
	defer ch.StopJanitor()

	store := persistence.NewStore(cfg.Store.Dir, cat, cat.Has)

	worker := workerclient.New(cfg.Worker.BaseURL, workerclient.Config{Timeout: cfg.Worker.Timeout})
	executor := workerclient.NewExecutor(worker, cfg.Worker.MaxFetchRows)

	eventLog := observe.NewLog()
	hub := observe.NewWebSocketHub(appLogger)

	var history coordinator.RunHistory
	if cfg.Database.DSN != "" {
		dbCfg := storage.DefaultConfig()
		dbCfg.DSN = cfg.Database.DSN
		dbCfg.MaxOpenConns = cfg.Database.MaxOpenConns
		dbCfg.MaxIdleConns = cfg.Database.MaxIdleConns
		dbCfg.Debug = cfg.Database.Debug

		db, err := storage.NewDB(dbCfg, appLogger)
		if err != nil {
			appLogger.Error("failed to connect to run-history database", "error", err)
			os.Exit(1)
		}
		defer storage.Close(db)

		repo := storage.NewRunHistoryRepository(db)
		history = repo
		eventLog.SetSink(storage.NewEventSink(repo, appLogger))
		appLogger.Info("durable run-history store enabled")
	} else {
		appLogger.Info("durable run-history store disabled, events kept in-memory only")
	}

	opts := scheduler.Options{MaxParallelNodes: cfg.Worker.MaxParallelRuns}
	flows := coordinator.NewFlowService(cat, ch, executor, eventLog, hub, store, history, opts)

	gin.SetMode(ginMode(cfg.Logging.Level))
	router := gin.New()
	router.Use(rest.NewRecoveryMiddleware(appLogger).Recovery())
	router.Use(rest.NewLoggingMiddleware(appLogger).RequestLogger())

	if cfg.Server.CORS {
		router.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if c.Request.Method == http.MethodOptions {
				c.AbortWithStatus(http.StatusNoContent)
				return
			}
			c.Next()
		})
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	flowHandlers := rest.NewFlowHandlers(flows, appLogger)
	nodeHandlers := rest.NewNodeHandlers(flows, appLogger)
	edgeHandlers := rest.NewEdgeHandlers(flows, appLogger)
	runHandlers := rest.NewRunHandlers(flows, appLogger)

	router.POST("/flow", flowHandlers.HandleCreateFlow)
	router.POST("/flow/load", flowHandlers.HandleLoadFlow)

	flow := router.Group("/flow/:id")
	{
		flow.GET("", flowHandlers.HandleGetFlow)
		flow.POST("/save", flowHandlers.HandleSaveFlow)

		flow.POST("/node", nodeHandlers.HandleAddNode)
		flow.PATCH("/node/:nid", nodeHandlers.HandleUpdateNode)
		flow.DELETE("/node/:nid", nodeHandlers.HandleDeleteNode)
		flow.GET("/schema/:nid", nodeHandlers.HandleGetSchema)
		flow.GET("/node/:nid/sample", nodeHandlers.HandleSample)

		flow.POST("/edge", edgeHandlers.HandleAddEdge)
		flow.DELETE("/edge", edgeHandlers.HandleDeleteEdge)

		flow.POST("/run", runHandlers.HandleStartRun)
		flow.POST("/cancel", runHandlers.HandleCancelRun)
		flow.GET("/status", runHandlers.HandleRunStatus)
		flow.GET("/events", runHandlers.HandleEvents)
	}

	router.GET("/events/stream", func(c *gin.Context) {
		observe.NewWebSocketHandler(hub, appLogger).ServeHTTP(c.Writer, c.Request)
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		appLogger.Info("http server starting", "host", cfg.Server.Host, "port", cfg.Server.Port)
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		appLogger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		appLogger.Info("shutdown initiated", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			appLogger.Error("graceful shutdown failed", "error", err)
			if err := server.Close(); err != nil {
				appLogger.Error("server close failed", "error", err)
			}
		}
		appLogger.Info("server stopped")
	}
}

func ginMode(logLevel string) string {
	if logLevel == "debug" {
		return gin.DebugMode
	}
	return gin.ReleaseMode
}
