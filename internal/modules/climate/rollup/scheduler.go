package rollup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Task is a job fired every Period. Run receives the scheduled tick time.
type Task struct {
	Name   string
	Period time.Duration
	Run    func(ctx context.Context, now time.Time) error
}

// Scheduler fires each task one period after Run starts and every period
// after that. A tick that fires late runs once; missed ticks are skipped,
// never replayed.
type Scheduler struct {
	clock  clockwork.Clock
	logger *slog.Logger
	tasks  []Task

	mu   sync.Mutex
	next map[string]time.Time
}

func NewScheduler(clock clockwork.Clock, logger *slog.Logger, tasks ...Task) (*Scheduler, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	seen := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if t.Period <= 0 {
			return nil, fmt.Errorf("task %q: period must be positive, got %v", t.Name, t.Period)
		}
		if t.Run == nil {
			return nil, fmt.Errorf("task %q: nil run func", t.Name)
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("duplicate task %q", t.Name)
		}
		seen[t.Name] = true
	}
	return &Scheduler{clock: clock, logger: logger, tasks: tasks, next: make(map[string]time.Time)}, nil
}

// NextFire reports when the named task fires next. ok is false before Run
// has scheduled it.
func (s *Scheduler) NextFire(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.next[name]
	return t, ok
}

// Run blocks until ctx is done. Task errors are logged and do not stop the
// scheduler or trigger a retry.
func (s *Scheduler) Run(ctx context.Context) error {
	start := s.clock.Now()

	var wg sync.WaitGroup
	for _, t := range s.tasks {
		t := t
		s.setNext(t.Name, start.Add(t.Period))
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.loop(ctx, t)
		}()
	}
	s.logger.Info("rollup scheduler started", "tasks", len(s.tasks))

	wg.Wait()
	s.logger.Info("rollup scheduler stopped")
	return nil
}

func (s *Scheduler) loop(ctx context.Context, t Task) {
	for {
		next, _ := s.NextFire(t.Name)
		timer := s.clock.NewTimer(next.Sub(s.clock.Now()))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.Chan():
		}

		now := s.clock.Now()
		s.logger.Debug("rollup tick", "task", t.Name, "scheduled", next, "now", now)
		if err := t.Run(ctx, now); err != nil {
			s.logger.Error("scheduled task failed", "task", t.Name, "error", err)
		}

		after := s.clock.Now()
		for !next.After(after) {
			next = next.Add(t.Period)
		}
		s.setNext(t.Name, next)
	}
}

func (s *Scheduler) setNext(name string, t time.Time) {
	s.mu.Lock()
	s.next[name] = t
	s.mu.Unlock()
}
