package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"duochat/internal/config"
	"duochat/internal/core"
	"duochat/internal/handlers"
	"duochat/internal/middleware"
	"duochat/internal/observability"
	"duochat/internal/rabbitmq"
	"duochat/internal/storage"
	"duochat/internal/telemetry"
	"duochat/internal/ws"
)

const idleReason = "The room expired after inactivity. The chat has ended."

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, "duochat", cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("failed to set up tracing: %v", err)
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AuditExchange)
	defer publisher.Close()
	log.Printf("audit publisher mode=%s", rabbitmq.PublisherMode(publisher))

	audit := telemetry.NewAuditEmitter(publisher, "audit.duochat", "duochat", cfg.Environment)

	store, err := storage.NewUploadStore(cfg.UploadsDir)
	if err != nil {
		log.Fatalf("failed to init upload store: %v", err)
	}
	// Rooms do not survive restarts, so leftover uploads are orphans.
	store.CleanupAll()

	manager := core.NewManager(core.Options{
		MaxMessageLength: cfg.MaxMessageLength,
		RoomTTL:          cfg.RoomTTL,
		Releaser:         store,
		OnReleaseFailure: func(roomID, ref string, err error) {
			audit.Emit(context.Background(), "WARN", "resource release failed: "+ref, "", roomID)
		},
	})

	hub := ws.NewHub()
	socketHandler := ws.NewRoomSocketHandler(hub, manager)
	roomHandler := handlers.NewRoomHandler(manager, store, hub, audit, cfg.PublicBaseURL, cfg.Port)

	router := gin.Default()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("duochat"))
	router.Use(observability.HTTPMetricsMiddleware())
	router.Use(middleware.SecurityHeaders())

	router.POST("/api/rooms", roomHandler.CreateRoom)
	router.POST("/api/rooms/:room_id/upload", middleware.MaxBodySize(cfg.MaxFileSize), roomHandler.Upload)
	router.GET("/ws", socketHandler.Handle)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	indexPage := filepath.Join(cfg.PublicDir, "index.html")
	router.StaticFile("/", indexPage)
	router.GET("/room/:room_id", func(c *gin.Context) {
		c.File(indexPage)
	})
	router.Static("/assets", filepath.Join(cfg.PublicDir, "assets"))
	router.Static("/uploads", store.Dir())

	handlers.RegisterDebugRoutes(router, audit, cfg.Debug)

	go runSweeper(ctx, cfg.SweepInterval, manager, socketHandler)

	server := &http.Server{Addr: cfg.Host + ":" + cfg.Port, Handler: router}
	go func() {
		log.Printf("server started on http://%s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Printf("tracing shutdown: %v", err)
	}
}

// runSweeper periodically destroys idle rooms and fans the teardown out to
// any connections that were still attached.
func runSweeper(ctx context.Context, interval time.Duration, manager *core.Manager, socketHandler *ws.RoomSocketHandler) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, res := range manager.SweepIdle(idleReason) {
				socketHandler.FanoutDestroyed(res)
			}
		}
	}
}
