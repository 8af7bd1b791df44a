package worker_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"unmix/internal/config"
	"unmix/internal/logging"
	"unmix/internal/notifications"
	"unmix/internal/queue"
	"unmix/internal/services"
	"unmix/internal/stage"
	"unmix/internal/testsupport"
	"unmix/internal/worker"
)

type stubStage struct {
	name        string
	prepareHook func(*queue.Job)
	executeHook func(*queue.Job)
	prepareErr  error
	executeErr  error
	health      stage.Health
}

func newStubStage(name string) *stubStage {
	return &stubStage{name: name, health: stage.Healthy(name)}
}

func (s *stubStage) Prepare(_ context.Context, job *queue.Job) error {
	if s.prepareHook != nil {
		s.prepareHook(job)
	}
	return s.prepareErr
}

func (s *stubStage) Execute(_ context.Context, job *queue.Job) error {
	if s.executeHook != nil {
		s.executeHook(job)
	}
	return s.executeErr
}

func (s *stubStage) HealthCheck(context.Context) stage.Health {
	return s.health
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (r *recordingNotifier) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingNotifier) count(event notifications.Event) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, e := range r.events {
		if e == event {
			total++
		}
	}
	return total
}

func managerTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Workflow.QueuePollInterval = 0
	cfg.Workflow.IntakeWorkers = 1
	cfg.Workflow.SeparationWorkers = 1
	return cfg
}

func seedSeparateJob(t *testing.T, store *queue.Store) *queue.Job {
	t.Helper()
	return testsupport.NewJob(t, store, queue.NewJobParams{
		JobType:   queue.JobTypeSeparate,
		InputJSON: `{"audio_url":"file:///tmp/input.wav"}`,
	})
}

func waitForStatus(t *testing.T, store *queue.Store, jobID int64, want queue.Status) *queue.Job {
	t.Helper()
	ctx := context.Background()
	deadline := time.After(30 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for status %s", want)
		default:
		}
		updated, err := store.GetByID(ctx, jobID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if updated.Status == want {
			return updated
		}
		time.Sleep(25 * time.Millisecond)
	}
}

func TestManagerProcessesJobs(t *testing.T) {
	cfg := managerTestConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	notifier := &recordingNotifier{}
	mgr := worker.NewManagerWithNotifier(cfg, store, logging.NewNop(), notifier)
	mgr.ConfigureStages(worker.StageSet{
		Intake:     newStubStage("intake"),
		Separation: newStubStage("separation"),
		Delivery:   newStubStage("delivery"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(mgr.Stop)

	job := seedSeparateJob(t, store)
	completed := waitForStatus(t, store, job.ID, queue.StatusCompleted)

	if completed.ProgressPercent < 100 {
		t.Fatalf("expected full progress, got %.0f", completed.ProgressPercent)
	}
	if completed.FinishedAt == nil {
		t.Fatal("expected finish timestamp")
	}

	if got := notifier.count(notifications.EventQueueStarted); got != 1 {
		t.Fatalf("expected one queue start event, got %d", got)
	}
	deadline := time.After(10 * time.Second)
	for notifier.count(notifications.EventQueueDrained) == 0 {
		select {
		case <-deadline:
			t.Fatal("expected queue drained event")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	if got := notifier.count(notifications.EventJobCompleted); got != 1 {
		t.Fatalf("expected one job completed event, got %d", got)
	}
}

func TestManagerStartWithoutStagesFails(t *testing.T) {
	cfg := managerTestConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	mgr := worker.NewManager(cfg, store, logging.NewNop())
	if err := mgr.Start(context.Background()); err == nil {
		t.Fatal("expected Start to fail without configured stages")
	}
}

func TestManagerStatusIncludesStageHealth(t *testing.T) {
	cfg := managerTestConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	handler := newStubStage("intake")
	handler.health = stage.Unhealthy(handler.name, "audio-separator not found")

	mgr := worker.NewManager(cfg, store, logging.NewNop())
	mgr.ConfigureStages(worker.StageSet{Intake: handler})

	status := mgr.Status(context.Background())
	if status.Running {
		t.Fatal("expected stopped manager")
	}
	health, ok := status.StageHealth[handler.name]
	if !ok {
		t.Fatalf("expected stage health entry for %s", handler.name)
	}
	if health.Ready {
		t.Fatalf("expected not ready health, got %+v", health)
	}
	if health.Detail != handler.health.Detail {
		t.Fatalf("expected detail %q, got %q", handler.health.Detail, health.Detail)
	}
	if status.QueueStats == nil {
		t.Fatal("expected queue stats")
	}
}

func TestManagerFailureRecordsClass(t *testing.T) {
	cfg := managerTestConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	failing := newStubStage("separation")
	failing.executeErr = services.Wrap(services.ErrValidation, "separation", "execute", "unsupported sample rate", nil)

	notifier := &recordingNotifier{}
	mgr := worker.NewManagerWithNotifier(cfg, store, logging.NewNop(), notifier)
	mgr.ConfigureStages(worker.StageSet{Separation: failing})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(mgr.Stop)

	job := seedSeparateJob(t, store)
	job.Status = queue.StatusStaged
	if err := store.Update(ctx, job); err != nil {
		t.Fatalf("Update: %v", err)
	}

	failed := waitForStatus(t, store, job.ID, queue.StatusFailed)
	if failed.ErrorClass != services.ClassValidation.String() {
		t.Fatalf("expected validation class, got %q", failed.ErrorClass)
	}
	if !strings.Contains(failed.ErrorMessage, "unsupported sample rate") {
		t.Fatalf("expected failure detail in error message, got %q", failed.ErrorMessage)
	}
	if strings.Contains(failed.ErrorMessage, "validation error:") {
		t.Fatalf("expected sentinel prefix stripped, got %q", failed.ErrorMessage)
	}
	if failed.ProgressStage != "Failed" {
		t.Fatalf("expected progress stage 'Failed', got %q", failed.ProgressStage)
	}

	deadline := time.After(10 * time.Second)
	for notifier.count(notifications.EventJobFailed) == 0 {
		select {
		case <-deadline:
			t.Fatal("expected job failed event")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func TestManagerFailureDefaultsToInternal(t *testing.T) {
	cfg := managerTestConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	failing := newStubStage("separation")
	failing.executeErr = errors.New("boom")

	mgr := worker.NewManager(cfg, store, logging.NewNop())
	mgr.ConfigureStages(worker.StageSet{Separation: failing})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(mgr.Stop)

	job := seedSeparateJob(t, store)
	job.Status = queue.StatusStaged
	if err := store.Update(ctx, job); err != nil {
		t.Fatalf("Update: %v", err)
	}

	failed := waitForStatus(t, store, job.ID, queue.StatusFailed)
	if failed.ErrorClass != services.ClassInternal.String() {
		t.Fatalf("expected internal class, got %q", failed.ErrorClass)
	}
	if failed.ErrorMessage == "" {
		t.Fatal("expected error message to be populated")
	}
}

func TestManagerPrepareFailureStopsStage(t *testing.T) {
	cfg := managerTestConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	failing := newStubStage("intake")
	failing.prepareErr = services.Wrap(services.ErrNotFound, "intake", "prepare", "input file missing", nil)
	var executed atomic.Bool
	failing.executeHook = func(*queue.Job) { executed.Store(true) }

	mgr := worker.NewManager(cfg, store, logging.NewNop())
	mgr.ConfigureStages(worker.StageSet{Intake: failing})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(mgr.Stop)

	job := seedSeparateJob(t, store)
	failed := waitForStatus(t, store, job.ID, queue.StatusFailed)
	if failed.ErrorClass != services.ClassNotFound.String() {
		t.Fatalf("expected not_found class, got %q", failed.ErrorClass)
	}
	if executed.Load() {
		t.Fatal("expected Execute to be skipped after Prepare failure")
	}
}

func TestManagerTerminalHookReceivesJob(t *testing.T) {
	cfg := managerTestConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	var mu sync.Mutex
	var terminal []*queue.Job
	hook := func(_ context.Context, job *queue.Job) {
		mu.Lock()
		terminal = append(terminal, job)
		mu.Unlock()
	}

	mgr := worker.NewManagerWithOptions(cfg, store, logging.NewNop(), &recordingNotifier{}, worker.WithJobTerminalHook(hook))
	mgr.ConfigureStages(worker.StageSet{
		Intake:     newStubStage("intake"),
		Separation: newStubStage("separation"),
		Delivery:   newStubStage("delivery"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(mgr.Stop)

	job := seedSeparateJob(t, store)
	waitForStatus(t, store, job.ID, queue.StatusCompleted)

	deadline := time.After(10 * time.Second)
	for {
		mu.Lock()
		done := len(terminal) > 0
		mu.Unlock()
		if done {
			break
		}
		select {
		case <-deadline:
			t.Fatal("expected terminal hook invocation")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if terminal[0].UUID != job.UUID {
		t.Fatalf("hook job mismatch: %s != %s", terminal[0].UUID, job.UUID)
	}
	if terminal[0].Status != queue.StatusCompleted {
		t.Fatalf("expected completed job in hook, got %s", terminal[0].Status)
	}
}

func TestManagerStageProgressFlows(t *testing.T) {
	cfg := managerTestConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	separation := newStubStage("separation")
	separation.executeHook = func(job *queue.Job) {
		job.SetProgress("Separating", "vocals pass", 50)
	}
	delivery := newStubStage("delivery")

	mgr := worker.NewManager(cfg, store, logging.NewNop())
	mgr.ConfigureStages(worker.StageSet{Separation: separation, Delivery: delivery})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(mgr.Stop)

	job := seedSeparateJob(t, store)
	job.Status = queue.StatusStaged
	if err := store.Update(ctx, job); err != nil {
		t.Fatalf("Update: %v", err)
	}

	completed := waitForStatus(t, store, job.ID, queue.StatusCompleted)
	if completed.ProgressPercent != 100 {
		t.Fatalf("expected completion to force 100%%, got %.0f", completed.ProgressPercent)
	}
	if completed.StartedAt == nil {
		t.Fatal("expected start timestamp")
	}
}
