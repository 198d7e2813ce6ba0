package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/23skdu/longbow-lens/cmd/webui/handlers"
	"github.com/23skdu/longbow-lens/internal/config"
	"github.com/23skdu/longbow-lens/internal/inference"
	"github.com/23skdu/longbow-lens/internal/inspect"
	"github.com/23skdu/longbow-lens/internal/logger"
	"github.com/23skdu/longbow-lens/internal/session"
)

var (
	configPath     = flag.String("config", "", "Path to a YAML config file")
	port           = flag.Int("port", 0, "HTTP server port")
	metricsPort    = flag.Int("metrics-port", -1, "Prometheus metrics port (0 serves /metrics on the main port)")
	host           = flag.String("host", "", "Host to bind to")
	apiKey         = flag.String("api-key", "", "API key for authentication")
	allowedOrigins = flag.String("allowed-origins", "", "Comma-separated list of allowed CORS origins")
	backend        = flag.String("backend", "", "Inference backend: http, flight or static")
	inferenceURL   = flag.String("inference-url", "", "Base URL of the HTTP inference service")
	flightAddr     = flag.String("flight-addr", "", "Address of the Arrow Flight inference server")
	logLevel       = flag.String("log-level", "", "Log level: debug, info, warn, error")
	logFormat      = flag.String("log-format", "", "Log format: console or json")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		logger.Log.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Log.Level, cfg.Log.Format)

	source, closeSource, err := inference.Open(cfg.Inference)
	if err != nil {
		logger.Log.Error("Failed to open inference source", "error", err)
		os.Exit(1)
	}
	defer closeSource()

	sess := session.New(source, session.Options{
		Style: inspect.HeatmapStyle{TextFlipThreshold: cfg.Render.TextFlipThreshold},
		Viewport: inspect.Viewport{
			Width:   cfg.Render.ChartWidth,
			Height:  cfg.Render.ChartHeight,
			Padding: cfg.Render.ChartPadding,
		},
	})

	logger.Log.Info("Starting Longbow-Lens WebUI", "version", handlers.Version, "addr", cfg.Server.Addr(), "backend", string(cfg.Inference.Backend))

	corsMiddleware := handlers.NewCORSMiddleware(cfg.Server.AllowedOrigins)
	authMiddleware := handlers.NewAuthMiddleware(cfg.Server.APIKey)
	loggingMiddleware := handlers.NewLoggingMiddleware()

	mux := http.NewServeMux()
	mux.Handle("/health", handlers.HealthHandler())
	mux.Handle("/healthz", handlers.HealthzHandler())
	mux.Handle("/readyz", handlers.ReadyzHandler(handlers.SourceCheck(source, 2*time.Second)))
	mux.Handle("/version", handlers.VersionHandler())

	apiMux := http.NewServeMux()
	handlers.NewAPI(sess, cfg.Inference.Timeout).Register(apiMux)
	mux.Handle("/api/", loggingMiddleware.Middleware(corsMiddleware.Middleware(authMiddleware.Authenticate(apiMux))))
	mux.Handle("/ws", loggingMiddleware.Middleware(authMiddleware.Authenticate(handlers.WebSocketHandler(sess, corsMiddleware))))

	var metricsServer *http.Server
	if addr := cfg.Server.MetricsAddr(); addr != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: addr, Handler: metricsMux, ReadHeaderTimeout: 10 * time.Second}
		logger.Log.Info("Metrics available", "url", "http://"+addr+"/metrics")
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Log.Error("Metrics server error", "error", err)
			}
		}()
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		logger.Log.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if metricsServer != nil {
			metricsServer.Shutdown(shutdownCtx)
		}
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Log.Error("Server error", "error", err)
		os.Exit(1)
	}
	logger.Log.Info("Server stopped")
}

// loadConfig reads the optional config file and applies explicitly set
// flags on top of it.
func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return cfg, err
		}
	}

	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *metricsPort >= 0 {
		cfg.Server.MetricsPort = *metricsPort
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *apiKey != "" {
		cfg.Server.APIKey = *apiKey
	}
	if *allowedOrigins != "" {
		cfg.Server.AllowedOrigins = config.ParseOrigins(*allowedOrigins)
	}
	if *backend != "" {
		cfg.Inference.Backend = config.Backend(*backend)
	}
	if *inferenceURL != "" {
		cfg.Inference.URL = *inferenceURL
	}
	if *flightAddr != "" {
		cfg.Inference.FlightAddr = *flightAddr
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if flag.NArg() > 0 {
		cfg.Inference.Dumps = append(cfg.Inference.Dumps, flag.Args()...)
	}

	return cfg, cfg.Validate()
}
