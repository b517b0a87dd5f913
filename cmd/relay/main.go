package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lenslink/internal/core/domain"
	"lenslink/internal/core/services"
	"lenslink/internal/detect"
	httphandlers "lenslink/internal/handlers/http"
	"lenslink/internal/infrastructure/middleware"
	"lenslink/internal/infrastructure/monitoring"
	"lenslink/internal/infrastructure/registry"
	signalrelay "lenslink/internal/infrastructure/signal"
	"lenslink/pkg/config"
	"lenslink/pkg/logger"
	"lenslink/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/lenslink/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}

	if err != nil {
		// Fallback to defaults if config cannot be loaded
		cfg = config.DefaultConfig()
	}

	// Initialize logger
	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	// Initialize tracing
	tracerProvider, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerEndpoint,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	// Initialize monitoring
	var collector *monitoring.Collector
	if cfg.Monitoring.PrometheusEnabled {
		collector = monitoring.NewCollector()
	}

	// Session registry and signaling relay reference each other; wire in two
	// steps.
	sessionRegistry := registry.NewMemoryRegistry(cfg.Signal.SessionGrace, nil, log)
	wsServer := signalrelay.NewWebSocketServer(sessionRegistry, collector, log)
	wsServer.SetPingInterval(cfg.Signal.PingInterval)
	wsServer.SetPongTimeout(cfg.Signal.PongTimeout)
	sessionRegistry.SetEvents(wsServer)

	sessionService := services.NewSessionService(sessionRegistry, collector, log)

	// Detection engine channel and dispatcher
	engineClient := detect.NewEngineClient(detect.EngineClientConfig{
		WebSocketURL:   cfg.Detection.EngineWebSocketURL,
		HTTPURL:        cfg.Detection.EngineHTTPURL,
		RequestTimeout: cfg.Detection.RequestTimeout,
	}, log)

	dispatcher := detect.NewDispatcher(engineClient, detect.DispatcherConfig{
		Timeout:             cfg.Detection.RequestTimeout,
		ConfidenceThreshold: cfg.Detection.ConfidenceThreshold,
		FrameInterval:       cfg.Detection.FrameInterval,
		HealthInterval:      cfg.Detection.HealthInterval,
	}, log)
	dispatcher.SetEnabled(cfg.Detection.Enabled)
	if collector != nil {
		dispatcher.OnStaleReply(collector.DetectionStaleReply)
	}

	preprocessor := detect.NewPreprocessor(
		cfg.Detection.TargetWidth,
		cfg.Detection.TargetHeight,
		cfg.Detection.JPEGQuality,
	)

	bridge := signalrelay.NewDetectionBridge(dispatcher, engineClient, preprocessor, sessionService, collector, log)
	wsServer.SetDetection(bridge)

	sessionRegistry.SetOnDestroyed(func(id domain.SessionID) {
		if collector != nil {
			collector.SessionDestroyed()
		}
		bridge.Forget(id)
	})

	if cfg.Detection.Enabled {
		go func() {
			connectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			if err := engineClient.Connect(connectCtx); err != nil {
				log.Warnw("detection engine unreachable at startup", "error", err)
			}
		}()
	}

	// Health checks
	health := monitoring.NewHealthChecker()
	health.AddCheck("detection_engine", func(ctx context.Context) (bool, error) {
		if !cfg.Detection.Enabled {
			return true, nil
		}
		if err := engineClient.Healthy(ctx); err != nil {
			return false, err
		}
		return true, nil
	}, 2*time.Second)

	// HTTP surface
	sessionHandler := httphandlers.NewSessionHandler(sessionService, engineClient, dispatcher, health)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.ErrorHandlerMiddleware(log))
	router.Use(middleware.RequestLoggerMiddleware(logger.NewContextLogger(zapLogger)))
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}

	sessionHandler.SetupRoutes(router)
	router.GET("/ws", gin.WrapF(wsServer.HandleSignaling))

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	// ReadHeaderTimeout instead of ReadTimeout: the signaling websocket shares
	// this listener and must outlive any request deadline.
	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting LensLink relay on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for shutdown signals or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down LensLink relay...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	} else {
		log.Info("Server shutdown gracefully")
	}

	dispatcher.Close()
	if err := engineClient.Close(); err != nil {
		log.Errorw("Error closing engine channel", "error", err)
	}
	sessionService.Close()
	sessionRegistry.Close()

	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error shutting down tracer", "error", err)
	}

	log.Info("LensLink relay stopped")
}
