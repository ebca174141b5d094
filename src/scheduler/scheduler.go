// Package scheduler runs named jobs on fixed intervals. Jobs never overlap
// with themselves; errors and panics are logged and the next tick still runs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"budgee-sync/src/logger"
)

var (
	ErrDuplicateJob = errors.New("job already registered")
	ErrUnknownJob   = errors.New("unknown job")
	ErrJobRunning   = errors.New("job is already running")
)

type Handler func(ctx context.Context) error

// JobInfo is a snapshot of one job's state.
type JobInfo struct {
	Name      string        `json:"name"`
	Interval  time.Duration `json:"interval"`
	Running   bool          `json:"running"`
	LastStart time.Time     `json:"last_start,omitempty"`
	LastEnd   time.Time     `json:"last_end,omitempty"`
	LastError string        `json:"last_error,omitempty"`
	Runs      int           `json:"runs"`
	Failures  int           `json:"failures"`
}

type JobOption func(*job)

// Immediately runs the job once as soon as the scheduler starts.
func Immediately() JobOption {
	return func(j *job) { j.immediate = true }
}

type job struct {
	name      string
	interval  time.Duration
	handler   Handler
	immediate bool
	cancel    context.CancelFunc

	mu   sync.Mutex
	info JobInfo
}

type Scheduler struct {
	mu      sync.Mutex
	jobs    map[string]*job
	ctx     context.Context
	started bool
	wg      sync.WaitGroup
	now     func() time.Time
}

func New() *Scheduler {
	return &Scheduler{jobs: make(map[string]*job), now: time.Now}
}

// Register adds a job. Jobs registered after Start begin immediately.
func (s *Scheduler) Register(name string, interval time.Duration, h Handler, opts ...JobOption) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, name)
	}
	j := &job{name: name, interval: interval, handler: h, info: JobInfo{Name: name, Interval: interval}}
	for _, opt := range opts {
		opt(j)
	}
	s.jobs[name] = j
	if s.started {
		s.launch(j)
	}
	return nil
}

// Start launches every registered job. It returns immediately; jobs stop when
// ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.ctx = ctx
	for _, j := range s.jobs {
		s.launch(j)
	}
}

// launch must be called with s.mu held.
func (s *Scheduler) launch(j *job) {
	ctx, cancel := context.WithCancel(s.ctx)
	j.cancel = cancel
	s.wg.Add(1)
	go s.loop(ctx, j)
}

func (s *Scheduler) loop(ctx context.Context, j *job) {
	defer s.wg.Done()
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	if j.immediate {
		_ = s.run(ctx, j)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.run(ctx, j); errors.Is(err, ErrJobRunning) {
				lg := logger.FromContext(ctx)
				lg.Warn().Str("job", j.name).Msg("previous run still in progress, skipping tick")
			}
		}
	}
}

// Cancel stops and removes a job. It reports whether the job existed.
func (s *Scheduler) Cancel(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[name]
	if !ok {
		return false
	}
	if j.cancel != nil {
		j.cancel()
	}
	delete(s.jobs, name)
	return true
}

// RunNow runs a job synchronously and returns its error. It fails with
// ErrJobRunning when the job is already in progress.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.run(ctx, j)
}

// Jobs lists job snapshots sorted by name.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	jobs := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	out := make([]JobInfo, 0, len(jobs))
	for _, j := range jobs {
		j.mu.Lock()
		out = append(out, j.info)
		j.mu.Unlock()
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// Stop cancels every job and waits for running handlers until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	for _, j := range s.jobs {
		if j.cancel != nil {
			j.cancel()
		}
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for jobs: %w", ctx.Err())
	}
}

func (s *Scheduler) run(ctx context.Context, j *job) (err error) {
	j.mu.Lock()
	if j.info.Running {
		j.mu.Unlock()
		return ErrJobRunning
	}
	j.info.Running = true
	j.info.LastStart = s.now()
	j.mu.Unlock()

	log := logger.FromContext(ctx).With().Str("job", j.name).Logger()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", j.name, r)
			log.Error().Str("stack", string(debug.Stack())).Msg("job panicked")
		}

		j.mu.Lock()
		j.info.Running = false
		j.info.LastEnd = s.now()
		j.info.Runs++
		j.info.LastError = ""
		if err != nil {
			j.info.Failures++
			j.info.LastError = err.Error()
		}
		j.mu.Unlock()

		if err != nil {
			log.Error().Err(err).Msg("job failed")
		}
	}()

	log.Debug().Msg("job started")
	return j.handler(logger.WithContext(ctx, log))
}
