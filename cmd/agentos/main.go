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
	"go.uber.org/zap"

	"github.com/agentos/agentos/internal/api"
	"github.com/agentos/agentos/internal/audit"
	"github.com/agentos/agentos/internal/capability"
	"github.com/agentos/agentos/internal/common/config"
	"github.com/agentos/agentos/internal/common/logger"
	"github.com/agentos/agentos/internal/events"
	"github.com/agentos/agentos/internal/llm"
	"github.com/agentos/agentos/internal/memory"
	"github.com/agentos/agentos/internal/messaging"
	"github.com/agentos/agentos/internal/runtime"
	"github.com/agentos/agentos/internal/sandbox"
	"github.com/agentos/agentos/internal/tool"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting Agent OS...")

	// 3. Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Event emitter is the spine every subsystem reports into
	emitter := events.NewEmitter(log)

	// 5. Audit logger, subscribed to all runtime events
	auditLog, err := audit.NewLogger(cfg.Audit.DBPath,
		audit.ParseSeverity(cfg.Audit.MinSeverity), log)
	if err != nil {
		log.Fatal("Failed to open audit log", zap.Error(err))
	}
	defer auditLog.Close()

	emitter.OnEvent(func(event *events.Event) error {
		auditLog.Log(ctx, event.Type, audit.SeverityForEvent(event.Type),
			event.AgentID, event.Data)
		return nil
	})
	log.Info("Audit logging enabled",
		zap.String("db_path", cfg.Audit.DBPath),
		zap.String("session_id", auditLog.SessionID()))

	// 6. Capability store and tool registry
	caps := capability.NewStore(emitter, log)
	registry := tool.NewRegistry(caps, emitter, log)

	// 7. Sandbox executor and built-in tools
	executor := sandbox.NewExecutor(cfg.Sandbox.BaseTempDir, cfg.Sandbox.MaxConcurrent, emitter, log)
	tool.RegisterBuiltins(registry, executor, sandbox.ParsePolicy(cfg.Sandbox.DefaultPolicy))
	log.Info("Registered built-in tools", zap.Int("tools", len(registry.Names())))

	// 8. Message bus and memory manager
	bus := messaging.NewBus(log)
	mem, err := memory.NewManager(cfg.Memory.DBPath, log)
	if err != nil {
		log.Fatal("Failed to open memory store", zap.Error(err))
	}
	defer mem.Close()

	// 9. Inference client
	if cfg.Anthropic.APIKey == "" {
		log.Warn("No Anthropic API key configured; agent runs will fail until one is set")
	}
	client := llm.NewAnthropicClient(cfg.Anthropic.APIKey, cfg.Anthropic.BaseURL)

	// 10. Optional NATS event forwarding
	var forwarder *events.NATSForwarder
	if cfg.NATS.URL != "" {
		forwarder, err = events.NewNATSForwarder(cfg.NATS.URL, cfg.NATS.SubjectPrefix,
			cfg.NATS.MaxReconnects, log)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer forwarder.Close()
		emitter.OnEvent(forwarder.Handler())
		log.Info("Forwarding events to NATS", zap.String("url", cfg.NATS.URL))
	}

	// 11. Agent runtime
	rt := runtime.NewRuntime(cfg.Runtime, client, caps, registry, bus, executor, mem, emitter, log)

	// 12. WebSocket hub for the live event stream
	hub := api.NewHub(log)
	emitter.OnEvent(hub.Handler())

	// 13. Setup HTTP server with Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(api.Recovery(log), api.RequestLogger(log), api.CORS())

	handler := api.NewHandler(rt, caps, registry, bus, executor, mem, auditLog, log)
	api.SetupRoutes(router.Group("/api/v1"), handler)
	router.GET("/health", handler.HealthCheck)
	router.GET("/ws", hub.HandleWS)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	// 14. Start server in goroutine
	go func() {
		log.Info("HTTP server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	emitter.Emit(events.NewEvent(events.RuntimeStarted, "", map[string]any{
		"addr": server.Addr,
	}))

	// 15. Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down Agent OS...")

	// 16. Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := rt.Stop(shutdownCtx); err != nil {
		log.Error("Runtime stop error", zap.Error(err))
	}
	hub.CloseAll()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	cancel()
	log.Info("Agent OS stopped")
}
