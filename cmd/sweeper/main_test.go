package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"crewbook/internal/compact"
	"crewbook/internal/metrics"
	"crewbook/internal/sweep"
	"crewbook/internal/types"
)

// mockSweepService implements SweepService for testing.
type mockSweepService struct {
	report  sweep.Report
	err     error
	calls   int
	lastNow time.Time
}

func (m *mockSweepService) Run(ctx context.Context, now time.Time) (sweep.Report, error) {
	m.calls++
	m.lastNow = now
	return m.report, m.err
}

// mockCompactService implements CompactService for testing.
type mockCompactService struct {
	report compact.Report
	err    error
	calls  int
}

func (m *mockCompactService) Run(ctx context.Context, now time.Time) (compact.Report, error) {
	m.calls++
	return m.report, m.err
}

// mockLocker implements TaskLocker for testing.
type mockLocker struct {
	acquired   bool
	err        error
	lastLockID string
}

func (m *mockLocker) Acquire(ctx context.Context, lockID, workerID string, ttl time.Duration) (bool, error) {
	m.lastLockID = lockID
	return m.acquired, m.err
}

// mockHistorian implements TaskHistorian for testing.
type mockHistorian struct {
	startErr   error
	finishes   []finishCall
	nextID     int64
	startTasks []string
}

type finishCall struct {
	ID     int64
	Status string
	Moves  int
}

func (m *mockHistorian) Start(ctx context.Context, task string) (int64, error) {
	if m.startErr != nil {
		return 0, m.startErr
	}
	m.nextID++
	m.startTasks = append(m.startTasks, task)
	return m.nextID, nil
}

func (m *mockHistorian) Finish(ctx context.Context, id int64, status string, moves int, taskErr error) error {
	m.finishes = append(m.finishes, finishCall{ID: id, Status: status, Moves: moves})
	return nil
}

func newTestHandler(sweeper *mockSweepService, compactor *mockCompactService, lock *mockLocker, history *mockHistorian) *Handler {
	return &Handler{
		Sweeper:   sweeper,
		Compactor: compactor,
		Lock:      lock,
		History:   history,
		Emitter:   metrics.NewEmitter(nil, nil),
		WorkerID:  "worker_test",
	}
}

func TestHandle_RoutesSweepTask(t *testing.T) {
	sweeper := &mockSweepService{report: sweep.Report{Checked: 5, Moved: 2}}
	compactor := &mockCompactService{}
	history := &mockHistorian{}
	h := newTestHandler(sweeper, compactor, &mockLocker{acquired: true}, history)

	result, err := h.Handle(context.Background(), types.SweeperPayload{Task: types.TaskRescheduleSweep})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sweeper.calls != 1 {
		t.Errorf("expected 1 sweep run, got %d", sweeper.calls)
	}
	if compactor.calls != 0 {
		t.Errorf("compactor must not run for sweep task, got %d calls", compactor.calls)
	}
	if !strings.Contains(result, "2 visits moved") {
		t.Errorf("unexpected result: %q", result)
	}
	if len(history.finishes) != 1 || history.finishes[0].Status != "success" || history.finishes[0].Moves != 2 {
		t.Errorf("unexpected history finish: %+v", history.finishes)
	}
}

func TestHandle_RoutesCompactTask(t *testing.T) {
	sweeper := &mockSweepService{}
	compactor := &mockCompactService{report: compact.Report{Considered: 3, Moved: 1}}
	h := newTestHandler(sweeper, compactor, &mockLocker{acquired: true}, &mockHistorian{})

	if _, err := h.Handle(context.Background(), types.SweeperPayload{Task: types.TaskCompactSchedule}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if compactor.calls != 1 || sweeper.calls != 0 {
		t.Errorf("expected only compactor to run, sweep=%d compact=%d", sweeper.calls, compactor.calls)
	}
}

func TestHandle_LockHeldSkipsExecution(t *testing.T) {
	sweeper := &mockSweepService{}
	h := newTestHandler(sweeper, &mockCompactService{}, &mockLocker{acquired: false}, &mockHistorian{})

	result, err := h.Handle(context.Background(), types.SweeperPayload{Task: types.TaskRescheduleSweep})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sweeper.calls != 0 {
		t.Error("task must not run when the lock is held elsewhere")
	}
	if !strings.Contains(result, "skipped") {
		t.Errorf("expected skip result, got %q", result)
	}
}

func TestHandle_LockKeyedByTaskAndHour(t *testing.T) {
	lock := &mockLocker{acquired: true}
	h := newTestHandler(&mockSweepService{}, &mockCompactService{}, lock, &mockHistorian{})

	ref := time.Date(2025, 6, 2, 6, 45, 0, 0, time.UTC)
	_, err := h.Handle(context.Background(), types.SweeperPayload{
		Task:          types.TaskRescheduleSweep,
		ReferenceTime: &ref,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lock.lastLockID != "reschedule_sweep:2025-06-02T06" {
		t.Errorf("unexpected lock ID: %q", lock.lastLockID)
	}
}

func TestHandle_ReferenceTimeOverride(t *testing.T) {
	sweeper := &mockSweepService{}
	h := newTestHandler(sweeper, &mockCompactService{}, &mockLocker{acquired: true}, &mockHistorian{})

	ref := time.Date(2025, 6, 9, 6, 0, 0, 0, time.UTC)
	_, err := h.Handle(context.Background(), types.SweeperPayload{
		Task:          types.TaskRescheduleSweep,
		ReferenceTime: &ref,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sweeper.lastNow.Equal(ref) {
		t.Errorf("expected reference time %v, got %v", ref, sweeper.lastNow)
	}
}

func TestHandle_TaskFailureRecordedInHistory(t *testing.T) {
	sweeper := &mockSweepService{err: errors.New("calendar unavailable")}
	history := &mockHistorian{}
	h := newTestHandler(sweeper, &mockCompactService{}, &mockLocker{acquired: true}, history)

	_, err := h.Handle(context.Background(), types.SweeperPayload{Task: types.TaskRescheduleSweep})
	if err == nil {
		t.Fatal("expected error from failing task")
	}
	if len(history.finishes) != 1 || history.finishes[0].Status != "failed" {
		t.Errorf("expected failed history record, got %+v", history.finishes)
	}
}

func TestHandle_HistoryStartFailureIsNonFatal(t *testing.T) {
	sweeper := &mockSweepService{report: sweep.Report{Moved: 1}}
	history := &mockHistorian{startErr: errors.New("history table missing")}
	h := newTestHandler(sweeper, &mockCompactService{}, &mockLocker{acquired: true}, history)

	if _, err := h.Handle(context.Background(), types.SweeperPayload{Task: types.TaskRescheduleSweep}); err != nil {
		t.Fatalf("history start failure must not abort the task: %v", err)
	}
	if sweeper.calls != 1 {
		t.Error("task must still run when history tracking fails")
	}
	if len(history.finishes) != 0 {
		t.Error("finish must be skipped when start failed")
	}
}

func TestHandle_LockErrorAborts(t *testing.T) {
	sweeper := &mockSweepService{}
	h := newTestHandler(sweeper, &mockCompactService{}, &mockLocker{err: errors.New("connection refused")}, &mockHistorian{})

	if _, err := h.Handle(context.Background(), types.SweeperPayload{Task: types.TaskRescheduleSweep}); err == nil {
		t.Fatal("expected error when lock acquisition fails")
	}
	if sweeper.calls != 0 {
		t.Error("task must not run when the lock cannot be acquired")
	}
}

func TestHandle_EmptyTaskRejected(t *testing.T) {
	h := newTestHandler(&mockSweepService{}, &mockCompactService{}, &mockLocker{acquired: true}, &mockHistorian{})

	if _, err := h.Handle(context.Background(), types.SweeperPayload{}); err == nil {
		t.Fatal("expected error for empty task")
	}
}

func TestHandle_UnknownTaskRejected(t *testing.T) {
	h := newTestHandler(&mockSweepService{}, &mockCompactService{}, &mockLocker{acquired: true}, &mockHistorian{})

	if _, err := h.Handle(context.Background(), types.SweeperPayload{Task: "defrost_freezer"}); err == nil {
		t.Fatal("expected error for unknown task")
	}
}
