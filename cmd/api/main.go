// Package main is the entry point for the CrewBook API server.
//
// It loads configuration, connects the database pool and AWS clients, wires
// the booking pipeline behind the webhook handler, and serves HTTP with the
// core chassis (middleware, routing, health checks). Graceful shutdown is
// handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"crewbook/internal/api/handlers"
	"crewbook/internal/booking"
	"crewbook/internal/calendar"
	"crewbook/internal/compact"
	"crewbook/internal/config"
	"crewbook/internal/core"
	"crewbook/internal/db"
	"crewbook/internal/external"
	"crewbook/internal/metrics"
	"crewbook/internal/queue"
	"crewbook/internal/sweep"
	"crewbook/internal/types"
	"crewbook/internal/weather"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on
// error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("crewbook API starting",
		"environment", cfg.Environment,
		"port", cfg.Server.Port,
	)

	ctx := context.Background()
	clock := types.RealClock{}

	// Database pool.
	pool, err := newPool(ctx, cfg.Database)
	if err != nil {
		return err
	}

	// AWS clients. EndpointURL points SQS and CloudWatch at LocalStack in
	// local environments.
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return fmt.Errorf("loading AWS SDK config: %w", err)
	}
	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})
	cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})

	// Repositories.
	calendarRepo := db.NewCalendarRepository(pool, cfg.Scheduling.GraceBuffer)
	quoteRepo := db.NewProcessedQuoteRepository(pool)
	templateRepo := db.NewRecurringTemplateRepository(pool)
	tokenRepo := db.NewTokenRepository(pool, "jobber")

	// External clients.
	jobberClient := external.NewJobberClient(
		&http.Client{Timeout: cfg.CRM.Timeout},
		cfg.CRM,
		tokenRepo,
		clock,
		logger,
	)
	weatherClient := external.NewOpenWeatherClient(
		&http.Client{Timeout: cfg.Weather.Timeout},
		cfg.Weather,
		clock,
		logger,
	)
	gate := weather.NewGate(weatherClient, cfg.Weather, cfg.Scheduling, clock, logger)

	// Outcome publishing and metrics.
	publisher := queue.NewOutcomeProducer(sqsClient, cfg.AWS, logger)
	emitter := metrics.NewEmitter(cwClient, logger)

	// Booking pipeline. One guard instance serializes calendar writes per
	// crew across the orchestrator, materializer, and manual maintenance
	// triggers.
	guard := calendar.NewGuard()
	orchestrator := booking.NewOrchestrator(
		jobberClient,
		quoteRepo,
		calendarRepo,
		guard,
		gate,
		cfg.Scheduling,
		jobberClient,
		publisher,
		clock,
		logger,
	)
	materializer := booking.NewMaterializer(calendarRepo, guard, gate, cfg.Scheduling, clock, logger)
	sweeper := sweep.NewSweeper(calendarRepo, guard, gate, cfg.Scheduling, jobberClient, publisher, logger)
	compactor := compact.NewCompactor(calendarRepo, guard, gate, cfg.Scheduling, jobberClient, publisher, logger)

	// Server chassis.
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.RegisterCloser(poolCloser{pool: pool})
	srv.HealthProbes = []core.HealthProbe{
		&dbProbe{pool: pool},
		&queueProbe{client: sqsClient, queueURL: cfg.AWS.OutcomeQueue},
	}

	validator := core.NewValidator()
	booker := &instrumentedBooker{next: orchestrator, emitter: emitter, clock: clock}

	webhookHandler := handlers.NewJobberWebhookHandler(booker, cfg.CRM.WebhookSecret.Unmask(), logger)
	scheduleHandler := handlers.NewScheduleHandler(calendarRepo, clock, logger)
	recurringHandler := handlers.NewRecurringHandler(templateRepo, materializer, validator, clock, logger)
	opsHandler := handlers.NewOpsHandler(
		&instrumentedSweeper{next: sweeper, emitter: emitter},
		&instrumentedCompactor{next: compactor, emitter: emitter},
		clock,
		logger,
	)

	router := srv.Router()
	router.Get("/health", srv.HandleHealth)
	webhookHandler.RegisterRoutes(router)
	router.Route("/v1", func(r chi.Router) {
		scheduleHandler.RegisterRoutes(r)
		recurringHandler.RegisterRoutes(r)
		opsHandler.RegisterRoutes(r)
	})

	return runHTTPServer(srv, cfg, logger)
}

// newPool creates and verifies the pgx connection pool.
func newPool(ctx context.Context, dbCfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dbCfg.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}
	poolCfg.MaxConns = int32(dbCfg.MaxConns)
	poolCfg.MinConns = int32(dbCfg.MinConns)
	poolCfg.MaxConnLifetime = dbCfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating database pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, dbCfg.AcquireTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// runHTTPServer starts the server with graceful shutdown on SIGINT/SIGTERM.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured JSON logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// poolCloser adapts pgxpool.Pool's Close to io.Closer for the server's
// shutdown sequence.
type poolCloser struct {
	pool *pgxpool.Pool
}

func (p poolCloser) Close() error {
	p.pool.Close()
	return nil
}

// dbProbe reports database health.
type dbProbe struct {
	pool *pgxpool.Pool
}

func (p *dbProbe) Name() string { return "database" }

func (p *dbProbe) Check(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// queueProbe reports outcome queue reachability.
type queueProbe struct {
	client   *sqs.Client
	queueURL string
}

func (p *queueProbe) Name() string { return "outcome_queue" }

func (p *queueProbe) Check(ctx context.Context) error {
	if p.queueURL == "" {
		return nil
	}
	_, err := p.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(p.queueURL),
	})
	return err
}

// instrumentedBooker wraps the orchestrator with CloudWatch metrics for
// booking results and latency.
type instrumentedBooker struct {
	next    handlers.QuoteBooker
	emitter *metrics.Emitter
	clock   types.Clock
}

func (b *instrumentedBooker) BookApprovedQuote(ctx context.Context, event types.WebhookEvent) (*booking.Result, error) {
	start := b.clock.Now()
	result, err := b.next.BookApprovedQuote(ctx, event)
	b.emitter.RecordBookingLatency(ctx, time.Since(start))

	switch {
	case err != nil:
		b.emitter.RecordBooking(ctx, "failed", "")
	case result.Degraded:
		b.emitter.RecordBooking(ctx, "degraded", result.Job.CrewID)
		if len(result.Visits) > 0 {
			b.emitter.RecordWeatherFailOpen(ctx, result.Visits[0].City)
		}
	default:
		b.emitter.RecordBooking(ctx, "booked", result.Job.CrewID)
	}
	return result, err
}

// instrumentedSweeper records sweep move counts.
type instrumentedSweeper struct {
	next    handlers.SweepRunner
	emitter *metrics.Emitter
}

func (s *instrumentedSweeper) Run(ctx context.Context, now time.Time) (sweep.Report, error) {
	report, err := s.next.Run(ctx, now)
	if err == nil {
		s.emitter.RecordSweepMoves(ctx, report.Moved)
	}
	return report, err
}

// instrumentedCompactor records compaction move counts.
type instrumentedCompactor struct {
	next    handlers.CompactRunner
	emitter *metrics.Emitter
}

func (c *instrumentedCompactor) Run(ctx context.Context, now time.Time) (compact.Report, error) {
	report, err := c.next.Run(ctx, now)
	if err == nil {
		c.emitter.RecordCompactionMoves(ctx, report.Moved)
	}
	return report, err
}
