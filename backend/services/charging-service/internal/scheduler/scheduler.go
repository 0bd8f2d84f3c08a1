package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"solarcharge/backend/services/charging-service/internal/metrics"
)

// Task is one named polling loop against an upstream feed. Refresh
// replaces the cached snapshot for that feed; a failed refresh leaves
// the previous snapshot in place.
type Task struct {
	Name     string
	Interval time.Duration
	Refresh  func(ctx context.Context) error
}

// Scheduler drives the polling tasks on independent tickers so a slow
// or failing feed never delays the others. Push events from the change
// feed funnel through a debouncer into one coalesced refresh of all
// tasks, and Pause/Resume gates everything while no client is watching.
type Scheduler struct {
	tasks   []Task
	kicks   map[string]chan struct{}
	timeout time.Duration
	logger  *zap.Logger

	debounce *Debouncer

	mu     sync.Mutex
	paused bool
}

// New builds a scheduler over the given tasks. Push events coalesced by
// debounceWindow trigger one refresh of every task; refreshTimeout
// bounds each individual refresh call.
func New(tasks []Task, debounceWindow, refreshTimeout time.Duration, logger *zap.Logger) *Scheduler {
	s := &Scheduler{
		tasks:   tasks,
		kicks:   make(map[string]chan struct{}, len(tasks)),
		timeout: refreshTimeout,
		logger:  logger.With(zap.String("component", "scheduler")),
	}
	for _, task := range tasks {
		s.kicks[task.Name] = make(chan struct{}, 1)
	}
	s.debounce = NewDebouncer(debounceWindow, s.kickAll)
	return s
}

// Run refreshes every task once, then ticks each on its own interval
// until ctx is cancelled. It blocks until all task loops have exited.
func (s *Scheduler) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := range s.tasks {
		task := s.tasks[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.loop(ctx, task)
		}()
	}
	s.kickAll()

	<-ctx.Done()
	s.debounce.Stop()
	wg.Wait()
	return ctx.Err()
}

func (s *Scheduler) loop(ctx context.Context, task Task) {
	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	kick := s.kicks[task.Name]
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.isPaused() {
				continue
			}
			s.runTask(ctx, task)
		case <-kick:
			if s.isPaused() {
				continue
			}
			s.runTask(ctx, task)
		}
	}
}

func (s *Scheduler) runTask(ctx context.Context, task Task) {
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := task.Refresh(runCtx); err != nil {
		metrics.IncRefresh(task.Name, "error")
		s.logger.Warn("refresh failed, keeping last snapshot",
			zap.String("task", task.Name),
			zap.Error(err))
		return
	}
	metrics.IncRefresh(task.Name, "ok")
}

// Pause suspends all refreshes. Tickers keep running but their ticks
// are discarded until Resume.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		return
	}
	s.paused = true
	s.logger.Info("scheduler paused")
}

// Resume lifts the pause and synchronously refreshes every task once,
// so callers see fresh state before the tickers take over again.
func (s *Scheduler) Resume(ctx context.Context) {
	s.mu.Lock()
	if !s.paused {
		s.mu.Unlock()
		return
	}
	s.paused = false
	s.mu.Unlock()

	s.logger.Info("scheduler resumed")
	s.RefreshAll(ctx)
}

// RefreshAll runs every task once, in parallel, and waits for all of
// them to finish.
func (s *Scheduler) RefreshAll(ctx context.Context) {
	var wg sync.WaitGroup
	for i := range s.tasks {
		task := s.tasks[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runTask(ctx, task)
		}()
	}
	wg.Wait()
}

// TriggerRefresh requests a refresh of all tasks. Bursts of triggers
// within the debounce window collapse into a single refresh.
func (s *Scheduler) TriggerRefresh() {
	s.debounce.Trigger()
}

func (s *Scheduler) kickAll() {
	for _, kick := range s.kicks {
		select {
		case kick <- struct{}{}:
		default:
		}
	}
}

func (s *Scheduler) isPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}
