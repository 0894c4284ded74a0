package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dispatch-ops/internal/audit"
	"dispatch-ops/internal/eventing"
	"dispatch-ops/internal/narrative"
	"dispatch-ops/internal/notify"
	"dispatch-ops/internal/observability/metrics"
	opstatepg "dispatch-ops/internal/opstate/postgres"
	"dispatch-ops/internal/rules/application"
	rules "dispatch-ops/internal/rules/domain"
	rulerepo "dispatch-ops/internal/rules/infrastructure/postgres"
	ruleshttp "dispatch-ops/internal/rules/interfaces/http"
	"dispatch-ops/internal/scanner"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Init(db, logger)
	auditRepo := audit.NewRepository(db)

	playbookRepo := rulerepo.NewPlaybookRepository(db, rulerepo.WithLogger(logger))
	reminderRuleRepo := rulerepo.NewReminderRuleRepository(db, rulerepo.WithReminderLogger(logger))
	executionRepo := rulerepo.NewExecutionRepository(db)
	reminderLogRepo := rulerepo.NewReminderLogRepository(db)
	opStore := opstatepg.NewStore(db)
	narrativeRepo := narrative.NewRepository(db)

	if err := rulerepo.SeedDefaults(ctx, db, playbookRepo, reminderRuleRepo, logger); err != nil {
		logger.Fatalf("seed error: %v", err)
	}

	broker := notify.NewBroker(logger, notify.WithQueueSize(cfg.NotifyQueueSize))
	sseBroker := notify.NewSSEBroker()
	broker.Register(sseBroker)
	if cfg.WebhookURL != "" {
		tpl, err := notify.NewTemplate(cfg.WebhookTemplate)
		if err != nil {
			logger.Fatalf("webhook template error: %v", err)
		}
		webhook, err := notify.NewWebhookChannel(cfg.WebhookURL, tpl, notify.WithWebhookLogger(logger))
		if err != nil {
			logger.Fatalf("webhook channel error: %v", err)
		}
		broker.Register(webhook)
	}
	broker.Start(ctx)
	defer broker.Close()

	throttle := application.NewThrottle(executionRepo, reminderLogRepo, nil)
	executor := application.NewExecutor(broker, narrativeRepo, logger)
	engine, err := application.NewEngine(playbookRepo, executionRepo, throttle, executor, broker,
		application.WithEngineLogger(logger))
	if err != nil {
		logger.Fatalf("engine error: %v", err)
	}

	bus := eventing.NewBus(logger)
	bus.Subscribe(eventing.SubscribeAll, func(ctx context.Context, eventType string, evctx rules.Context) {
		engine.HandleEvent(ctx, eventType, evctx)
	})

	scanCfg, err := scanner.LoadConfig()
	if err != nil {
		logger.Fatalf("scanner config error: %v", err)
	}
	scan, err := scanner.New(scanCfg, opStore, reminderRuleRepo, reminderLogRepo, throttle, broker, logger,
		scanner.WithAuditLogger(auditRepo))
	if err != nil {
		logger.Fatalf("scanner error: %v", err)
	}
	scan.Start(ctx)

	handler, err := ruleshttp.NewHandler(playbookRepo, reminderRuleRepo, executionRepo, reminderLogRepo, engine, bus, logger)
	if err != nil {
		logger.Fatalf("handler error: %v", err)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(loggingMiddleware(logger))
	router.Mount("/api/v1", handler.Routes())
	router.Get("/api/v1/notifications/stream", notify.NewStreamHandler(sseBroker).ServeHTTP)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Printf("http listening on %s", cfg.HTTPAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("http server error: %v", err)
	}
}

type config struct {
	DatabaseURL     string
	HTTPAddr        string
	WebhookURL      string
	WebhookTemplate string
	NotifyQueueSize int
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:     getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:        getenvDefault("HTTP_ADDR", ":8080"),
		WebhookURL:      getenvDefault("NOTIFY_WEBHOOK_URL", ""),
		WebhookTemplate: getenvDefault("NOTIFY_WEBHOOK_TEMPLATE", ""),
		NotifyQueueSize: getenvIntDefault("NOTIFY_QUEUE_SIZE", 256),
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func loggingMiddleware(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(resp, r)
			logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush lets the SSE stream work through the logging wrapper.
func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
