// Package scheduler runs background jobs on fixed intervals for the lifetime
// of a context. A job never overlaps itself: a manual trigger that arrives
// while a tick is running waits for that tick and shares its result.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrUnknownJob is returned by Trigger for a name no schedule registered.
var ErrUnknownJob = errors.New("unknown job")

// Job is one unit of periodic work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Schedule says when a job runs. The first run happens after InitialDelay,
// later runs Interval after the previous one finished, or RetryDelay after
// a failed one.
type Schedule struct {
	Job          Job
	InitialDelay time.Duration
	Interval     time.Duration
	RetryDelay   time.Duration
}

// Scheduler owns one loop goroutine per schedule.
type Scheduler struct {
	schedules map[string]Schedule
	log       *slog.Logger
	group     singleflight.Group
	wg        sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// New returns a Scheduler for schedules. A zero RetryDelay falls back to
// Interval.
func New(logger *slog.Logger, schedules ...Schedule) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{schedules: make(map[string]Schedule, len(schedules)), log: logger}
	for _, sc := range schedules {
		if sc.RetryDelay <= 0 {
			sc.RetryDelay = sc.Interval
		}
		s.schedules[sc.Job.Name()] = sc
	}
	return s
}

// Jobs lists registered job names in order.
func (s *Scheduler) Jobs() []string {
	names := make([]string, 0, len(s.schedules))
	for name := range s.schedules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start launches the loops. They stop when ctx is cancelled; use Wait to
// block until they have. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	for _, name := range s.Jobs() {
		sc := s.schedules[name]
		s.wg.Add(1)
		go s.loop(ctx, sc)
	}
	s.log.Info("scheduler started", "jobs", s.Jobs())
}

// Wait blocks until every loop started by Start has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Trigger runs the named job now, or joins the run already in flight.
// The run is detached from ctx cancellation so a dropped caller does not
// abort a pass halfway.
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	if _, ok := s.schedules[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.run(context.WithoutCancel(ctx), name)
}

func (s *Scheduler) loop(ctx context.Context, sc Schedule) {
	defer s.wg.Done()
	name := sc.Job.Name()
	delay := sc.InitialDelay
	for {
		if !wait(ctx, delay) {
			s.log.Info("job loop stopped", "job", name)
			return
		}
		if err := s.run(ctx, name); err != nil {
			s.log.Error("job failed", "job", name, "error", err, "retry_in", sc.RetryDelay.String())
			delay = sc.RetryDelay
			continue
		}
		delay = sc.Interval
	}
}

func (s *Scheduler) run(ctx context.Context, name string) error {
	_, err, shared := s.group.Do(name, func() (any, error) {
		return nil, s.runJob(ctx, s.schedules[name].Job)
	})
	if shared {
		s.log.Debug("job run shared", "job", name)
	}
	return err
}

func (s *Scheduler) runJob(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("job panicked", "job", job.Name(), "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("job %s panicked: %v", job.Name(), r)
		}
	}()
	start := time.Now()
	err = job.Run(ctx)
	s.log.Debug("job run finished", "job", job.Name(), "elapsed", time.Since(start).String(), "ok", err == nil)
	return err
}

// wait sleeps for d, returning false if ctx ends first.
func wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
