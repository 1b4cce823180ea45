// Package scheduler dispatches recurring jobs to agents and persists them to a JSON file.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/Alias1177/Correlator/internal/agent"
)

var (
	// ErrJobNotFound is returned for unknown job ids
	ErrJobNotFound = errors.New("job not found")
	// ErrStopped is returned by RunNow after Stop
	ErrStopped = errors.New("scheduler stopped")
)

// Job is a recurring task submission
type Job struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Schedule  Schedule       `json:"schedule"`
	Agent     string         `json:"agent"`
	TaskType  string         `json:"task_type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Priority  agent.Priority `json:"priority"`
	Enabled   bool           `json:"enabled"`
	LastRun   time.Time      `json:"last_run,omitempty"`
	NextRun   time.Time      `json:"next_run,omitempty"`
	RunCount  int            `json:"run_count"`
	FailCount int            `json:"fail_count"`
	LastError string         `json:"last_error,omitempty"`
	Running   bool           `json:"running"`
}

// Dispatcher runs a job's task to completion
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}

// DispatchFunc adapts a function to Dispatcher
type DispatchFunc func(ctx context.Context, job Job) error

func (f DispatchFunc) Dispatch(ctx context.Context, job Job) error { return f(ctx, job) }

// Config tunes the scheduler
type Config struct {
	File          string
	MaxConcurrent int
	RetryAttempts int
	RetryDelay    time.Duration
	Tick          time.Duration
}

// Scheduler keeps jobs and dispatches those that are due
type Scheduler struct {
	dispatcher Dispatcher
	cfg        Config
	sem        *semaphore.Weighted
	now        func() time.Time
	logger     zerolog.Logger

	mu      sync.RWMutex
	jobs    map[string]*Job
	running bool
	wg      sync.WaitGroup
	cancel  context.CancelFunc

	// runs bounds manual dispatches; Stop cancels it
	runs       context.Context
	cancelRuns context.CancelFunc

	saveMu sync.Mutex
}

// New creates a scheduler; call Load to restore persisted jobs
func New(d Dispatcher, cfg Config) *Scheduler {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 5
	}
	if cfg.RetryAttempts < 0 {
		cfg.RetryAttempts = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 300 * time.Second
	}
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	s := &Scheduler{
		dispatcher: d,
		cfg:        cfg,
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		now:        time.Now,
		logger:     log.With().Str("component", "scheduler").Logger(),
		jobs:       map[string]*Job{},
	}
	s.runs, s.cancelRuns = context.WithCancel(context.Background())
	return s
}

// DefaultJobs is the schedule installed when no jobs file exists
func DefaultJobs() []Job {
	return []Job{
		{
			Name:     "data_collection",
			Schedule: Every(1, "hours"),
			Agent:    agent.Collector,
			TaskType: agent.TaskCollectData,
			Priority: agent.PriorityHigh,
			Enabled:  true,
		},
		{
			Name:     "comprehensive_analysis",
			Schedule: DailyAt("06:00"),
			Agent:    agent.Analyzer,
			TaskType: agent.TaskAnalyze,
			Payload:  map[string]any{"analysis_type": "comprehensive"},
			Priority: agent.PriorityMedium,
			Enabled:  true,
		},
		{
			Name:     "daily_report",
			Schedule: DailyAt("07:00"),
			Agent:    agent.Reporter,
			TaskType: agent.TaskGenerateReport,
			Payload:  map[string]any{"report_type": "daily_summary"},
			Priority: agent.PriorityMedium,
			Enabled:  true,
		},
		{
			Name:     "health_check",
			Schedule: Every(5, "minutes"),
			Agent:    agent.Reporter,
			TaskType: agent.TaskHealthCheck,
			Priority: agent.PriorityLow,
			Enabled:  true,
		},
		{
			Name:     "cleanup",
			Schedule: WeeklyOn("sunday", "03:00"),
			Agent:    agent.Reporter,
			TaskType: agent.TaskCleanup,
			Priority: agent.PriorityLow,
			Enabled:  true,
		},
	}
}

// Add validates and stores a job, computing its next run
func (s *Scheduler) Add(job Job) (Job, error) {
	if job.Name == "" || job.Agent == "" || job.TaskType == "" {
		return Job{}, errors.New("job needs a name, agent and task type")
	}
	next, err := job.Schedule.Next(s.now())
	if err != nil {
		return Job{}, fmt.Errorf("job %s: %w", job.Name, err)
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Priority == 0 {
		job.Priority = agent.PriorityMedium
	}
	if job.NextRun.IsZero() {
		job.NextRun = next
	}
	job.Running = false

	s.mu.Lock()
	s.jobs[job.ID] = &job
	s.mu.Unlock()
	s.logger.Info().Str("job", job.Name).Str("schedule", job.Schedule.String()).Time("next_run", job.NextRun).Msg("Job added")
	return job, s.Save()
}

// Get returns a job by id
func (s *Scheduler) Get(id string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return *j, nil
}

// List returns all jobs sorted by name
func (s *Scheduler) List() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// Remove deletes a job
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	if _, ok := s.jobs[id]; !ok {
		s.mu.Unlock()
		return ErrJobNotFound
	}
	delete(s.jobs, id)
	s.mu.Unlock()
	return s.Save()
}

// Enable turns a job on and reschedules it from now
func (s *Scheduler) Enable(id string) error {
	return s.update(id, func(j *Job) {
		j.Enabled = true
		if next, err := j.Schedule.Next(s.now()); err == nil {
			j.NextRun = next
		}
	})
}

// Disable turns a job off
func (s *Scheduler) Disable(id string) error {
	return s.update(id, func(j *Job) { j.Enabled = false })
}

func (s *Scheduler) update(id string, fn func(*Job)) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return ErrJobNotFound
	}
	fn(j)
	s.mu.Unlock()
	return s.Save()
}

// RunNow dispatches a job immediately, waiting for a free slot. The run
// outlives ctx but is cancelled by Stop.
func (s *Scheduler) RunNow(ctx context.Context, id string) error {
	s.mu.Lock()
	runs := s.runs
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return ErrJobNotFound
	}
	if runs.Err() != nil {
		s.mu.Unlock()
		return ErrStopped
	}
	if j.Running {
		s.mu.Unlock()
		return fmt.Errorf("job %s is already running", j.Name)
	}
	s.mu.Unlock()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	s.mu.Lock()
	j.Running = true
	j.LastRun = s.now().UTC()
	j.RunCount++
	job := *j
	s.mu.Unlock()

	s.wg.Add(1)
	go s.execute(runs, job)
	return nil
}

// Start runs the tick loop until ctx is cancelled or Stop is called
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	if s.runs.Err() != nil {
		s.runs, s.cancelRuns = context.WithCancel(context.Background())
	}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.Tick)
		defer ticker.Stop()
		s.logger.Info().Int("jobs", len(s.List())).Dur("tick", s.cfg.Tick).Msg("Scheduler started")
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()
}

// Stop ends the tick loop, cancels every dispatch in flight and waits for them
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, cancelRuns := s.cancel, s.cancelRuns
	s.running = false
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	cancelRuns()
	s.wg.Wait()
	if err := s.Save(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to save jobs")
	}
	s.logger.Info().Msg("Scheduler stopped")
}

// Tick dispatches every enabled job that is due, up to the concurrency limit.
// It returns the number of jobs started.
func (s *Scheduler) Tick(ctx context.Context) int {
	now := s.now()
	var due []Job

	s.mu.Lock()
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, k int) bool {
		a, b := s.jobs[ids[i]], s.jobs[ids[k]]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.NextRun.Before(b.NextRun)
	})
	for _, id := range ids {
		j := s.jobs[id]
		if !j.Enabled || j.Running || j.NextRun.After(now) {
			continue
		}
		if !s.sem.TryAcquire(1) {
			break
		}
		j.Running = true
		j.LastRun = now.UTC()
		j.RunCount++
		if next, err := j.Schedule.Next(now); err == nil {
			j.NextRun = next
		}
		due = append(due, *j)
	}
	s.mu.Unlock()

	for _, job := range due {
		s.wg.Add(1)
		go s.execute(ctx, job)
	}
	if len(due) > 0 {
		if err := s.Save(); err != nil {
			s.logger.Error().Err(err).Msg("Failed to save jobs")
		}
	}
	return len(due)
}

// execute dispatches a job, retrying failed dispatches after the retry delay
func (s *Scheduler) execute(ctx context.Context, job Job) {
	defer s.wg.Done()
	defer s.sem.Release(1)

	logger := s.logger.With().Str("job", job.Name).Str("agent", job.Agent).Logger()
	var err error
	for attempt := 0; attempt <= s.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			logger.Warn().Err(err).Int("attempt", attempt).Dur("delay", s.cfg.RetryDelay).Msg("Retrying job")
			select {
			case <-ctx.Done():
				err = ctx.Err()
				attempt = s.cfg.RetryAttempts + 1
				continue
			case <-time.After(s.cfg.RetryDelay):
			}
		}
		if err = s.dispatcher.Dispatch(ctx, job); err == nil {
			break
		}
	}

	s.mu.Lock()
	if j, ok := s.jobs[job.ID]; ok {
		j.Running = false
		j.LastError = ""
		if err != nil {
			j.FailCount++
			j.LastError = err.Error()
		}
	}
	s.mu.Unlock()

	if err != nil {
		logger.Error().Err(err).Msg("Job failed")
		return
	}
	logger.Info().Msg("Job completed")
}

// Status summarises the scheduler
type Status struct {
	Running   bool `json:"running"`
	Jobs      int  `json:"total_jobs"`
	Enabled   int  `json:"enabled_jobs"`
	InFlight  int  `json:"running_jobs"`
	Failures  int  `json:"total_failures"`
	TotalRuns int  `json:"total_runs"`
}

// Status reports job counts
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{Running: s.running, Jobs: len(s.jobs)}
	for _, j := range s.jobs {
		if j.Enabled {
			st.Enabled++
		}
		if j.Running {
			st.InFlight++
		}
		st.Failures += j.FailCount
		st.TotalRuns += j.RunCount
	}
	return st
}

// Load restores jobs from the jobs file, installing the defaults when it does not exist
func (s *Scheduler) Load() error {
	if s.cfg.File == "" {
		return s.installDefaults()
	}
	b, err := os.ReadFile(s.cfg.File)
	if errors.Is(err, os.ErrNotExist) {
		return s.installDefaults()
	}
	if err != nil {
		return fmt.Errorf("reading jobs file: %w", err)
	}
	var jobs []Job
	if err := json.Unmarshal(b, &jobs); err != nil {
		return fmt.Errorf("parsing jobs file %s: %w", s.cfg.File, err)
	}

	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range jobs {
		j := jobs[i]
		if err := j.Schedule.Validate(); err != nil {
			s.logger.Warn().Err(err).Str("job", j.Name).Msg("Skipping job with invalid schedule")
			continue
		}
		j.Running = false
		if j.NextRun.IsZero() {
			j.NextRun, _ = j.Schedule.Next(now)
		}
		s.jobs[j.ID] = &j
	}
	s.logger.Info().Int("jobs", len(s.jobs)).Str("file", s.cfg.File).Msg("Jobs loaded")
	return nil
}

func (s *Scheduler) installDefaults() error {
	for _, j := range DefaultJobs() {
		if _, err := s.Add(j); err != nil {
			return err
		}
	}
	return nil
}

// Save writes all jobs to the jobs file; a no-op without one
func (s *Scheduler) Save() error {
	if s.cfg.File == "" {
		return nil
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	b, err := json.MarshalIndent(s.List(), "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.cfg.File)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating jobs dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.cfg.File)+".*.tmp")
	if err != nil {
		return fmt.Errorf("writing jobs file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("writing jobs file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing jobs file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.cfg.File)
}
