package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Task is a named periodic job. Run is invoked on every tick; a returned
// error is logged and the task keeps its schedule.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler owns a bounded, explicitly registered set of periodic tasks.
// All registration happens before Start; the running set never changes.
type Scheduler struct {
	mu      sync.Mutex
	tasks   []Task
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an empty scheduler.
func New() *Scheduler {
	return &Scheduler{}
}

// Register adds a task. Returns an error after Start, on a duplicate name,
// or on a non-positive interval.
func (s *Scheduler) Register(task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("cannot register task %q: scheduler already started", task.Name)
	}
	if task.Name == "" || task.Run == nil {
		return fmt.Errorf("task requires a name and a run function")
	}
	if task.Interval <= 0 {
		return fmt.Errorf("task %q requires a positive interval", task.Name)
	}
	for _, existing := range s.tasks {
		if existing.Name == task.Name {
			return fmt.Errorf("task %q already registered", task.Name)
		}
	}

	s.tasks = append(s.tasks, task)
	return nil
}

// Start launches one goroutine per registered task.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)

	for _, task := range s.tasks {
		s.wg.Add(1)
		go s.run(ctx, task)
	}

	log.Info().Int("tasks", len(s.tasks)).Msg("Scheduler started")
	return nil
}

func (s *Scheduler) run(ctx context.Context, task Task) {
	defer s.wg.Done()

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := task.Run(ctx); err != nil {
				log.Error().Err(err).Str("task", task.Name).Msg("Scheduled task failed")
			}
		}
	}
}

// Stop cancels all tasks and waits for their goroutines to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started || s.cancel == nil {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()

	log.Info().Msg("Scheduler stopped")
}
