// Package agent runs typed tasks on named worker pools with priorities,
// retries and timeouts, and connects agents through a message bus.
package agent

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Alias1177/Correlator/internal/metrics"
)

// Status is the lifecycle state of an agent
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
	StatusError   Status = "error"
	StatusStopped Status = "stopped"
)

var (
	ErrQueueFull    = errors.New("task queue is full")
	ErrStopped      = errors.New("agent is stopped")
	ErrNoHandler    = errors.New("no handler for task type")
	ErrTaskNotFound = errors.New("task not found")
	ErrNotPending   = errors.New("task is not pending")
)

// Handler executes one task and returns its result
type Handler func(ctx context.Context, t Task) (any, error)

// Config sizes an agent
type Config struct {
	Workers     int
	QueueSize   int
	TaskTimeout time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
	HistorySize int
}

func (c *Config) setDefaults() {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 100
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 5 * time.Minute
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Second
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 1000
	}
}

// Stats counts what an agent has processed
type Stats struct {
	Completed       int           `json:"tasks_completed"`
	Failed          int           `json:"tasks_failed"`
	Retried         int           `json:"tasks_retried"`
	Cancelled       int           `json:"tasks_cancelled"`
	AverageDuration time.Duration `json:"average_duration"`
	LastActivity    time.Time     `json:"last_activity,omitempty"`
}

// FailureRate is failed over finished tasks
func (s Stats) FailureRate() float64 {
	total := s.Completed + s.Failed
	if total == 0 {
		return 0
	}
	return float64(s.Failed) / float64(total)
}

// Snapshot is a point-in-time view of an agent
type Snapshot struct {
	Name       string   `json:"name"`
	Status     Status   `json:"status"`
	Healthy    bool     `json:"healthy"`
	Workers    int      `json:"workers"`
	QueueDepth int      `json:"queue_depth"`
	Running    int      `json:"running"`
	TaskTypes  []string `json:"task_types"`
	Stats      Stats    `json:"stats"`
}

// Agent is a named worker pool over a priority queue
type Agent struct {
	name     string
	cfg      Config
	metrics  *metrics.Registry
	logger   zerolog.Logger
	now      func() time.Time
	handlers map[string]Handler

	mu      sync.Mutex
	status  Status
	paused  bool
	queue   taskQueue
	delayed []*Task
	tasks   map[string]*Task
	done    map[string]chan struct{}
	history []string
	running int
	seq     uint64
	stats   Stats

	wake    chan struct{}
	stopCh  chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New creates an agent; register handlers before Start
func New(name string, cfg Config, m *metrics.Registry) *Agent {
	cfg.setDefaults()
	return &Agent{
		name:     name,
		cfg:      cfg,
		metrics:  m,
		logger:   log.With().Str("component", "agent").Str("agent", name).Logger(),
		now:      time.Now,
		handlers: map[string]Handler{},
		status:   StatusIdle,
		tasks:    map[string]*Task{},
		done:     map[string]chan struct{}{},
		wake:     make(chan struct{}, cfg.Workers),
		stopCh:   make(chan struct{}),
	}
}

// Name returns the agent's name
func (a *Agent) Name() string { return a.name }

// Handle registers the handler for a task type
func (a *Agent) Handle(taskType string, h Handler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers[taskType] = h
}

// Handles reports whether a handler exists for the task type
func (a *Agent) Handles(taskType string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.handlers[taskType]
	return ok
}

// Start launches the workers. Tasks may be submitted before Start.
func (a *Agent) Start(ctx context.Context) {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return
	}
	a.started = true
	a.status = StatusRunning
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.mu.Unlock()

	for i := 0; i < a.cfg.Workers; i++ {
		a.wg.Add(1)
		go a.worker(runCtx)
	}
	a.logger.Info().Int("workers", a.cfg.Workers).Msg("Agent started")
}

// Stop refuses new tasks, lets workers drain ready tasks and waits for them.
// When ctx expires first, running tasks are cancelled.
func (a *Agent) Stop(ctx context.Context) error {
	a.mu.Lock()
	if a.status == StatusStopped {
		a.mu.Unlock()
		return nil
	}
	a.status = StatusStopped
	a.paused = false
	pending := a.delayed
	if !a.started {
		pending = append(pending, a.queue...)
		a.queue = nil
	}
	for _, t := range pending {
		a.finishLocked(t, TaskCancelled, nil, "agent stopped")
	}
	a.delayed = nil
	started := a.started
	a.mu.Unlock()
	close(a.stopCh)

	if !started {
		return nil
	}
	finished := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(finished)
	}()
	var err error
	select {
	case <-finished:
	case <-ctx.Done():
		a.cancel()
		<-finished
		err = fmt.Errorf("agent %s: %w", a.name, ctx.Err())
	}
	a.cancel()
	a.logger.Info().Msg("Agent stopped")
	return err
}

// Pause stops workers from taking new tasks
func (a *Agent) Pause() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status == StatusStopped {
		return
	}
	a.paused = true
	a.status = StatusPaused
}

// Resume lets workers take tasks again
func (a *Agent) Resume() {
	a.mu.Lock()
	if a.status == StatusStopped {
		a.mu.Unlock()
		return
	}
	a.paused = false
	a.status = StatusRunning
	if !a.started {
		a.status = StatusIdle
	}
	a.mu.Unlock()
	a.signal(a.cfg.Workers)
}

// Submit queues a task and returns its id
func (a *Agent) Submit(t Task) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.status == StatusStopped {
		return "", ErrStopped
	}
	if _, ok := a.handlers[t.Type]; !ok {
		return "", fmt.Errorf("%w %q on agent %s", ErrNoHandler, t.Type, a.name)
	}
	if len(a.queue)+len(a.delayed) >= a.cfg.QueueSize {
		return "", ErrQueueFull
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Priority == 0 {
		t.Priority = PriorityMedium
	}
	if t.Name == "" {
		t.Name = t.Type
	}
	t.CreatedAt = a.now().UTC()
	t.Status = TaskPending
	t.Attempts = 0

	task := &t
	a.tasks[task.ID] = task
	a.done[task.ID] = make(chan struct{})
	a.enqueueLocked(task)
	a.logger.Debug().Str("task_id", task.ID).Str("type", task.Type).Stringer("priority", task.Priority).Msg("Task submitted")
	return task.ID, nil
}

func (a *Agent) enqueueLocked(t *Task) {
	a.seq++
	t.seq = a.seq
	if t.ScheduledAt.After(a.now()) {
		a.delayed = append(a.delayed, t)
	} else {
		heap.Push(&a.queue, t)
	}
	a.metrics.SetQueueDepth(a.name, len(a.queue)+len(a.delayed))
	a.signal(1)
}

func (a *Agent) signal(n int) {
	for i := 0; i < n; i++ {
		select {
		case a.wake <- struct{}{}:
		default:
			return
		}
	}
}

// Cancel removes a pending task from the queue
func (a *Agent) Cancel(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	if t.Status != TaskPending {
		return ErrNotPending
	}
	if a.queue.remove(id) == nil {
		for i, d := range a.delayed {
			if d.ID == id {
				a.delayed = append(a.delayed[:i], a.delayed[i+1:]...)
				break
			}
		}
	}
	a.finishLocked(t, TaskCancelled, nil, "cancelled")
	return nil
}

// Task returns a copy of a known task
func (a *Agent) Task(id string) (Task, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// Wait blocks until the task reaches a final state
func (a *Agent) Wait(ctx context.Context, id string) (Task, error) {
	a.mu.Lock()
	ch, ok := a.done[id]
	t, known := a.tasks[id]
	a.mu.Unlock()
	if !known {
		return Task{}, ErrTaskNotFound
	}
	if !ok {
		// already finished and its channel released
		return a.snapshotTask(t), nil
	}
	select {
	case <-ch:
		return a.snapshotTask(t), nil
	case <-ctx.Done():
		return Task{}, ctx.Err()
	}
}

func (a *Agent) snapshotTask(t *Task) Task {
	a.mu.Lock()
	defer a.mu.Unlock()
	return *t
}

// dequeue pops the next ready task, or reports how long until a delayed one is due
func (a *Agent) dequeue() (*Task, time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	var wait time.Duration
	kept := a.delayed[:0]
	for _, t := range a.delayed {
		if !t.ScheduledAt.After(now) {
			heap.Push(&a.queue, t)
			continue
		}
		if d := t.ScheduledAt.Sub(now); wait == 0 || d < wait {
			wait = d
		}
		kept = append(kept, t)
	}
	a.delayed = kept

	if a.paused || len(a.queue) == 0 {
		return nil, wait
	}
	t := heap.Pop(&a.queue).(*Task)
	t.Status = TaskRunning
	t.Attempts++
	t.StartedAt = now.UTC()
	a.running++
	a.metrics.SetQueueDepth(a.name, len(a.queue)+len(a.delayed))
	return t, 0
}

func (a *Agent) stopping() bool {
	select {
	case <-a.stopCh:
		return true
	default:
		return false
	}
}

func (a *Agent) worker(ctx context.Context) {
	defer a.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		t, wait := a.dequeue()
		if t != nil {
			a.execute(ctx, t)
			continue
		}
		if a.stopping() || ctx.Err() != nil {
			return
		}
		var timer *time.Timer
		var due <-chan time.Time
		if wait > 0 {
			timer = time.NewTimer(wait)
			due = timer.C
		}
		select {
		case <-ctx.Done():
		case <-a.stopCh:
		case <-a.wake:
		case <-due:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

func (a *Agent) execute(ctx context.Context, t *Task) {
	a.mu.Lock()
	h := a.handlers[t.Type]
	input := *t
	a.mu.Unlock()

	result, err := a.run(ctx, h, input)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.running--
	t.FinishedAt = a.now().UTC()

	if err != nil && t.Attempts <= a.cfg.MaxRetries && ctx.Err() == nil && !a.stopping() {
		a.stats.Retried++
		t.Status = TaskPending
		t.Error = err.Error()
		t.ScheduledAt = a.now().Add(a.cfg.RetryDelay)
		a.enqueueLocked(t)
		a.logger.Warn().Err(err).Str("task_id", t.ID).Int("attempt", t.Attempts).Msg("Task failed, retrying")
		return
	}
	if err != nil {
		a.finishLocked(t, TaskFailed, nil, err.Error())
		a.logger.Error().Err(err).Str("task_id", t.ID).Str("type", t.Type).Int("attempts", t.Attempts).Msg("Task failed")
		return
	}
	if a.status == StatusError {
		a.status = StatusRunning
	}
	a.finishLocked(t, TaskCompleted, result, "")
	a.logger.Debug().Str("task_id", t.ID).Dur("took", t.Duration()).Msg("Task completed")
}

type outcome struct {
	result any
	err    error
}

// run executes the handler under the task timeout. A handler that ignores its
// context is abandoned when the timeout fires.
func (a *Agent) run(ctx context.Context, h Handler, t Task) (any, error) {
	tctx, cancel := context.WithTimeout(ctx, a.cfg.TaskTimeout)
	defer cancel()

	ch := make(chan outcome, 1)
	go func() {
		res, err := a.call(tctx, h, t)
		ch <- outcome{res, err}
	}()
	select {
	case o := <-ch:
		return o.result, o.err
	case <-tctx.Done():
		if errors.Is(tctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("task timed out after %s", a.cfg.TaskTimeout)
		}
		return nil, tctx.Err()
	}
}

// call runs the handler, turning a panic into an error and the agent status into error
func (a *Agent) call(ctx context.Context, h Handler, t Task) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Str("task_id", t.ID).Msg("Task panicked")
			a.mu.Lock()
			if a.status == StatusRunning {
				a.status = StatusError
			}
			a.mu.Unlock()
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(ctx, t)
}

func (a *Agent) finishLocked(t *Task, status TaskStatus, result any, errMsg string) {
	t.Status = status
	t.Result = result
	t.Error = errMsg
	if t.FinishedAt.IsZero() || status == TaskCancelled {
		t.FinishedAt = a.now().UTC()
	}
	switch status {
	case TaskCompleted:
		n := time.Duration(a.stats.Completed)
		a.stats.AverageDuration = (a.stats.AverageDuration*n + t.Duration()) / (n + 1)
		a.stats.Completed++
	case TaskFailed:
		a.stats.Failed++
	case TaskCancelled:
		a.stats.Cancelled++
	}
	a.stats.LastActivity = t.FinishedAt
	a.metrics.Task(a.name, string(status))
	a.metrics.SetQueueDepth(a.name, len(a.queue)+len(a.delayed))

	if ch, ok := a.done[t.ID]; ok {
		close(ch)
		delete(a.done, t.ID)
	}
	a.history = append(a.history, t.ID)
	if over := len(a.history) - a.cfg.HistorySize; over > 0 {
		for _, id := range a.history[:over] {
			delete(a.tasks, id)
		}
		a.history = append([]string(nil), a.history[over:]...)
	}
}

// Recent returns up to n finished tasks, newest first
func (a *Agent) Recent(n int) []Task {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []Task
	for i := len(a.history) - 1; i >= 0 && len(out) < n; i-- {
		if t, ok := a.tasks[a.history[i]]; ok {
			out = append(out, *t)
		}
	}
	return out
}

// Healthy is false when the agent is in error or fails more than half of at least 10 tasks
func (a *Agent) Healthy() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.healthyLocked()
}

func (a *Agent) healthyLocked() bool {
	if a.status == StatusError {
		return false
	}
	if a.stats.Completed+a.stats.Failed >= 10 && a.stats.FailureRate() > 0.5 {
		return false
	}
	return true
}

// Status returns the agent's lifecycle state
func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Snapshot describes the agent's current state
func (a *Agent) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	types := make([]string, 0, len(a.handlers))
	for k := range a.handlers {
		types = append(types, k)
	}
	sort.Strings(types)
	return Snapshot{
		Name:       a.name,
		Status:     a.status,
		Healthy:    a.healthyLocked(),
		Workers:    a.cfg.Workers,
		QueueDepth: len(a.queue) + len(a.delayed),
		Running:    a.running,
		TaskTypes:  types,
		Stats:      a.stats,
	}
}
