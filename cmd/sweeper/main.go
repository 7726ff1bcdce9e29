// Package main is the entrypoint for the sweeper, the scheduled maintenance
// runner for the crew calendars. EventBridge rules (or a local ticker when
// run outside Lambda) send SweeperPayload JSON indicating the task, and the
// handler routes execution to the reschedule sweep or the schedule compactor.
//
// Handler flow:
//  1. Parse the payload and determine the reference time.
//  2. Acquire a distributed lock keyed "task:hour" so overlapping triggers
//     and retries never run the same pass twice.
//  3. Run the task and record a history row for operational visibility.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"crewbook/internal/calendar"
	"crewbook/internal/compact"
	"crewbook/internal/config"
	"crewbook/internal/db"
	"crewbook/internal/external"
	"crewbook/internal/metrics"
	"crewbook/internal/queue"
	"crewbook/internal/sweep"
	"crewbook/internal/types"
	"crewbook/internal/weather"
)

// lockTTL covers the typical execution duration with margin.
const lockTTL = 15 * time.Minute

// localSweepInterval drives the ticker loop outside Lambda.
const localSweepInterval = time.Hour

// SweepService runs one reschedule sweep pass.
type SweepService interface {
	Run(ctx context.Context, now time.Time) (sweep.Report, error)
}

// CompactService runs one schedule compaction pass.
type CompactService interface {
	Run(ctx context.Context, now time.Time) (compact.Report, error)
}

// TaskLocker abstracts distributed lock acquisition.
type TaskLocker interface {
	Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error)
}

// TaskHistorian records task runs.
type TaskHistorian interface {
	Start(ctx context.Context, task string) (int64, error)
	Finish(ctx context.Context, id int64, status string, moves int, taskErr error) error
}

// Handler holds the dependencies for the sweeper handler function.
type Handler struct {
	Sweeper   SweepService
	Compactor CompactService
	Lock      TaskLocker
	History   TaskHistorian
	Emitter   *metrics.Emitter
	WorkerID  string
	Logger    *slog.Logger
}

// Handle processes one SweeperPayload.
func (h *Handler) Handle(ctx context.Context, payload types.SweeperPayload) (string, error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := time.Now().UTC()
	if payload.ReferenceTime != nil {
		now = payload.ReferenceTime.UTC()
	}

	taskStr := string(payload.Task)
	logger.InfoContext(ctx, "sweeper handler invoked",
		"task", taskStr,
		"reference_time", now.Format(time.RFC3339),
		"worker_id", h.WorkerID,
	)

	if payload.Task == "" {
		return "", fmt.Errorf("empty task in sweeper payload")
	}

	lockID := fmt.Sprintf("%s:%s", payload.Task, now.Truncate(time.Hour).Format("2006-01-02T15"))
	acquired, err := h.Lock.Acquire(ctx, lockID, h.WorkerID, lockTTL)
	if err != nil {
		logger.ErrorContext(ctx, "failed to acquire task lock",
			"lock_id", lockID,
			"error", err,
		)
		return "", fmt.Errorf("acquiring task lock %s: %w", lockID, err)
	}
	if !acquired {
		logger.InfoContext(ctx, "task lock not acquired, another worker is processing",
			"lock_id", lockID,
		)
		return fmt.Sprintf("skipped: lock %s held by another worker", lockID), nil
	}

	historyID, err := h.History.Start(ctx, taskStr)
	if err != nil {
		logger.ErrorContext(ctx, "failed to start task history",
			"task", taskStr,
			"error", err,
		)
		// Non-fatal: run the task anyway, skip Finish via historyID=0.
		historyID = 0
	}

	moves, execErr := h.dispatch(ctx, payload.Task, now)

	status := "success"
	if execErr != nil {
		status = "failed"
	}
	if historyID != 0 {
		if finishErr := h.History.Finish(ctx, historyID, status, moves, execErr); finishErr != nil {
			logger.ErrorContext(ctx, "failed to finish task history",
				"history_id", historyID,
				"task", taskStr,
				"error", finishErr,
			)
		}
	}

	if execErr != nil {
		logger.ErrorContext(ctx, "task execution failed",
			"task", taskStr,
			"error", execErr,
			"moves_before_error", moves,
		)
		return "", fmt.Errorf("task %s failed: %w", taskStr, execErr)
	}

	result := fmt.Sprintf("task %s complete: %d visits moved", taskStr, moves)
	logger.InfoContext(ctx, result, "task", taskStr, "moves", moves)
	return result, nil
}

// dispatch routes a task to its service and returns the move count.
func (h *Handler) dispatch(ctx context.Context, task types.SweeperTask, now time.Time) (int, error) {
	switch task {
	case types.TaskRescheduleSweep:
		report, err := h.Sweeper.Run(ctx, now)
		if err != nil {
			return report.Moved, err
		}
		h.Emitter.RecordSweepMoves(ctx, report.Moved)
		return report.Moved, nil

	case types.TaskCompactSchedule:
		report, err := h.Compactor.Run(ctx, now)
		if err != nil {
			return report.Moved, err
		}
		h.Emitter.RecordCompactionMoves(ctx, report.Moved)
		return report.Moved, nil

	default:
		return 0, fmt.Errorf("unknown sweeper task: %q", task)
	}
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	logger.Info("sweeper initializing")

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	clock := types.RealClock{}

	pool, err := pgxpool.New(ctx, cfg.Database.URL.Unmask())
	if err != nil {
		logger.Error("failed to create database pool", "error", err)
		os.Exit(1)
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		logger.Error("failed to load AWS SDK config", "error", err)
		os.Exit(1)
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

	calendarRepo := db.NewCalendarRepository(pool, cfg.Scheduling.GraceBuffer)
	tokenRepo := db.NewTokenRepository(pool, "jobber")

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
	publisher := queue.NewOutcomeProducer(sqsClient, cfg.AWS, logger)

	guard := calendar.NewGuard()
	handler := &Handler{
		Sweeper:   sweep.NewSweeper(calendarRepo, guard, gate, cfg.Scheduling, jobberClient, publisher, logger),
		Compactor: compact.NewCompactor(calendarRepo, guard, gate, cfg.Scheduling, jobberClient, publisher, logger),
		Lock:      db.NewSweepLockRepository(pool),
		History:   db.NewSweepHistoryRepository(pool),
		Emitter:   metrics.NewEmitter(cwClient, logger),
		WorkerID:  uuid.New().String(),
		Logger:    logger,
	}

	logger.Info("sweeper initialized", "worker_id", handler.WorkerID)

	if isLambdaEnvironment() {
		lambda.Start(handler.Handle)
		return
	}

	runLocalLoop(handler, logger)
	pool.Close()
}

// isLambdaEnvironment reports whether the process is running inside AWS
// Lambda.
func isLambdaEnvironment() bool {
	_, hasRuntimeAPI := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	return hasRuntimeAPI
}

// runLocalLoop drives both tasks on a ticker for local and containerized
// deployments without EventBridge. The sweep runs every tick; compaction runs
// on the same cadence immediately after.
func runLocalLoop(handler *Handler, logger *slog.Logger) {
	logger.Info("running in local loop mode", "interval", localSweepInterval.String())

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(localSweepInterval)
	defer ticker.Stop()

	runBoth := func() {
		ctx := context.Background()
		for _, task := range []types.SweeperTask{types.TaskRescheduleSweep, types.TaskCompactSchedule} {
			if _, err := handler.Handle(ctx, types.SweeperPayload{Task: task}); err != nil {
				logger.Error("scheduled task failed", "task", string(task), "error", err)
			}
		}
	}

	runBoth()
	for {
		select {
		case <-ticker.C:
			runBoth()
		case sig := <-shutdown:
			logger.Info("shutdown signal received", "signal", sig.String())
			return
		}
	}
}
