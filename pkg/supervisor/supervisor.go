// Package supervisor wires config, state, scheduler, queue, and the job
// executor together into a single fleet state machine: the one public
// surface cmd/herdctl and any embedder talks to.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/herdctl/herdctl/pkg/cleanup"
	"github.com/herdctl/herdctl/pkg/config"
	"github.com/herdctl/herdctl/pkg/events"
	"github.com/herdctl/herdctl/pkg/job"
	"github.com/herdctl/herdctl/pkg/queue"
	"github.com/herdctl/herdctl/pkg/runtime"
	"github.com/herdctl/herdctl/pkg/scheduler"
	"github.com/herdctl/herdctl/pkg/state"
)

// Status is the supervisor's lifecycle stage.
type Status string

const (
	StatusUninitialized Status = "uninitialized"
	StatusInitialized   Status = "initialized"
	StatusRunning       Status = "running"
	StatusStopped       Status = "stopped"
	StatusError         Status = "error"
)

// ErrInvalidTransition is returned when an operation is attempted from a
// lifecycle stage that doesn't permit it.
var ErrInvalidTransition = errors.New("supervisor: invalid state transition")

// StopOptions configures Stop's shutdown behavior.
type StopOptions struct {
	// Timeout bounds how long Stop waits for running jobs to finish on their
	// own before CancelOnTimeout decides what happens next.
	Timeout time.Duration
	// CancelOnTimeout cancels any jobs still running once Timeout elapses.
	// Without it, Stop returns after Timeout and leaves those jobs running.
	CancelOnTimeout bool
}

// Options configures New.
type Options struct {
	ConfigPath   string
	StateDir     string
	Lookup       func(string) (string, bool) // env var lookup for config interpolation; defaults to os.LookupEnv
	TickInterval time.Duration                // scheduler tick interval; 0 uses scheduler.DefaultTickInterval
	Retention    state.RetentionPolicy
	Runtimes     map[config.RuntimeKind]runtime.Runtime
}

// Supervisor owns one fleet's full lifecycle: loading config, persisting
// state, scheduling, admission, and execution.
type Supervisor struct {
	opts Options

	mu       sync.RWMutex
	status   Status
	lastErr  error
	resolved *config.ResolvedConfig
	registry *config.AgentRegistry

	store     *state.Store
	bus       *events.Bus
	queue     *queue.Manager
	scheduler *scheduler.Scheduler
	executor  *job.Executor
	cleanup   *cleanup.Service
}

// New constructs a Supervisor in the uninitialized state. Call Initialize
// before Start.
func New(opts Options) *Supervisor {
	return &Supervisor{opts: opts, status: StatusUninitialized, bus: events.NewBus(), queue: queue.NewManager()}
}

// Status reports the supervisor's current lifecycle stage.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Subscribe registers a new event subscriber; see events.Bus.Subscribe.
func (s *Supervisor) Subscribe(bufferSize int) *events.Subscription {
	return s.bus.Subscribe(bufferSize)
}

// Initialize loads the fleet config and opens the state store. Valid from
// uninitialized only.
func (s *Supervisor) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusUninitialized {
		return &InvalidStateError{Operation: "Initialize", Required: string(StatusUninitialized), Current: s.status}
	}

	if err := s.loadLocked(); err != nil {
		s.status = StatusError
		s.lastErr = err
		return err
	}

	store, err := state.Open(s.opts.StateDir)
	if err != nil {
		s.status = StatusError
		s.lastErr = err
		return fmt.Errorf("supervisor: opening state store: %w", err)
	}
	s.store = store
	s.executor = job.NewExecutor(s.store, s.bus, s.queue, s.registry, s.opts.Runtimes)

	policy := s.opts.Retention
	if policy == (state.RetentionPolicy{}) {
		policy = state.DefaultRetentionPolicy
	}
	s.cleanup = cleanup.NewService(s.store, policy, 0)

	s.status = StatusInitialized
	s.bus.Publish(events.Event{Kind: events.KindInitialized, Time: time.Now()})
	return nil
}

func (s *Supervisor) loadLocked() error {
	resolved, err := config.Load(s.opts.ConfigPath, config.LoadOptions{Lookup: s.opts.Lookup})
	if err != nil {
		return fmt.Errorf("supervisor: loading config: %w", err)
	}
	s.resolved = resolved
	s.registry = config.NewAgentRegistry(resolved.Agents)
	for _, a := range resolved.Agents {
		maxConcurrent := a.MaxConcurrent
		if maxConcurrent <= 0 {
			maxConcurrent = 1
		}
		s.queue.Configure(a.QualifiedName, maxConcurrent, 0)
	}
	return nil
}

// Start transitions to running: launches the scheduler and retention
// cleanup loop. Valid from initialized only.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusInitialized {
		return &InvalidStateError{Operation: "Start", Required: string(StatusInitialized), Current: s.status}
	}

	s.scheduler = scheduler.New(s.resolved.Agents, s.store, s.fire, s.opts.TickInterval)
	s.scheduler.Start(ctx)
	s.cleanup.Start(ctx)

	if fs, err := s.store.ReadFleetState(); err == nil {
		fs.StartedAt = time.Now()
		if err := s.store.WriteFleetState(fs); err != nil {
			slog.Error("supervisor: persisting fleet started_at", "error", err)
		}
	} else {
		slog.Error("supervisor: reading fleet state to record started_at", "error", err)
	}

	s.status = StatusRunning
	s.bus.Publish(events.Event{Kind: events.KindStarted, Time: time.Now()})
	slog.Info("supervisor started", "agents", len(s.resolved.Agents))
	return nil
}

// fire is the scheduler.TriggerFunc: it submits a job for a due schedule.
func (s *Supervisor) fire(ctx context.Context, agent *config.Agent, sched *config.Schedule) scheduler.Decision {
	s.mu.RLock()
	executor := s.executor
	s.mu.RUnlock()

	j, decision := executor.Submit(ctx, agent, job.TriggerScheduled, sched.Name, "", "", "")
	if !decision.Accepted {
		return scheduler.Decision{Skipped: true, Reason: decision.Reason}
	}
	s.bus.Publish(events.Event{
		Kind: events.KindScheduleTriggered, AgentName: agent.QualifiedName, JobID: j.ID, Time: time.Now(),
		Payload: events.ScheduleTriggeredPayload{ScheduleName: sched.Name, JobID: j.ID},
	})
	return scheduler.Decision{}
}

// Stop transitions to stopped, waiting up to opts.Timeout for running jobs
// to finish (cancelling them on timeout if CancelOnTimeout is set). Valid
// from running only.
func (s *Supervisor) Stop(opts StopOptions) error {
	s.mu.Lock()
	if s.status != StatusRunning {
		s.mu.Unlock()
		return &InvalidStateError{Operation: "Stop", Required: string(StatusRunning), Current: s.status}
	}
	sch := s.scheduler
	cleanup := s.cleanup
	s.mu.Unlock()

	sch.Stop()
	cleanup.Stop()

	if opts.Timeout > 0 {
		s.awaitIdle(opts.Timeout, opts.CancelOnTimeout)
	}

	s.mu.Lock()
	s.status = StatusStopped
	s.mu.Unlock()
	s.bus.Publish(events.Event{Kind: events.KindStopped, Time: time.Now()})
	slog.Info("supervisor stopped")
	return nil
}

func (s *Supervisor) awaitIdle(timeout time.Duration, cancelOnTimeout bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.idle() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	if cancelOnTimeout {
		s.cancelAllRunning()
	}
}

func (s *Supervisor) idle() bool {
	for _, a := range s.resolved.Agents {
		if s.queue.Status(a.QualifiedName).Running > 0 {
			return false
		}
	}
	return true
}

func (s *Supervisor) cancelAllRunning() {
	page, err := s.store.ListJobs(state.JobFilter{Status: state.JobRunning})
	if err != nil {
		slog.Error("supervisor: listing running jobs for shutdown cancel", "error", err)
		return
	}
	for _, j := range page.Jobs {
		s.executor.Cancel(j.AgentName, j.ID)
	}
}

// Reload reloads config and the agent registry while keeping queue state, so
// jobs already running or pending carry on. A running supervisor stays
// running: its scheduler is stopped and restarted over the reloaded agents.
// An initialized supervisor stays initialized.
func (s *Supervisor) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusInitialized && s.status != StatusRunning {
		return &InvalidStateError{Operation: "Reload", Required: "initialized or running", Current: s.status}
	}
	wasRunning := s.status == StatusRunning
	if wasRunning {
		s.scheduler.Stop()
	}

	if err := s.loadLocked(); err != nil {
		s.status = StatusError
		s.lastErr = err
		return err
	}
	s.executor = job.NewExecutor(s.store, s.bus, s.queue, s.registry, s.opts.Runtimes)

	s.status = StatusInitialized
	s.bus.Publish(events.Event{Kind: events.KindConfigReloaded, Time: time.Now()})

	if wasRunning {
		s.scheduler = scheduler.New(s.resolved.Agents, s.store, s.fire, s.opts.TickInterval)
		s.scheduler.Start(ctx)
		s.status = StatusRunning
	}
	return nil
}

// Trigger manually submits a job for agentName, honoring promptOverride if
// non-empty. scheduleName, if non-empty, runs that schedule's own prompt
// (subject to promptOverride taking precedence) and fails with
// ScheduleNotFoundError if agentName defines no such schedule. A manual
// trigger never queues behind a running job — an agent already at its
// max_concurrent limit fails fast with ConcurrencyLimitError instead.
func (s *Supervisor) Trigger(ctx context.Context, agentName, scheduleName, promptOverride string) (*state.Job, error) {
	agent, err := s.registry.Lookup(agentName)
	if err != nil {
		return nil, err
	}
	if scheduleName != "" {
		if _, ok := agent.Schedules[scheduleName]; !ok {
			return nil, &ScheduleNotFoundError{AgentName: agent.QualifiedName, ScheduleName: scheduleName}
		}
	}

	limit := s.queue.Limit(agent.QualifiedName)
	status := s.queue.Status(agent.QualifiedName)
	if limit > 0 && status.Running >= limit {
		return nil, &ConcurrencyLimitError{AgentName: agent.QualifiedName, Limit: limit, CurrentJobs: status.Running}
	}

	j, decision := s.executor.Submit(ctx, agent, job.TriggerManual, scheduleName, promptOverride, "", "")
	if !decision.Accepted {
		if decision.Reason == queue.ReasonAtCapacity || decision.Reason == queue.ReasonQueueFull {
			return nil, &ConcurrencyLimitError{AgentName: agent.QualifiedName, Limit: limit, CurrentJobs: status.Running}
		}
		return nil, fmt.Errorf("supervisor: trigger rejected: %s", decision.Reason)
	}
	return j, nil
}

// ForkJob creates a new job that inherits parentJobID's prompt and session
// unless promptOverride is given.
func (s *Supervisor) ForkJob(ctx context.Context, parentJobID, promptOverride string) (*state.Job, queue.Decision, error) {
	return s.executor.Fork(ctx, parentJobID, promptOverride)
}

// CancelJob interrupts a running job.
func (s *Supervisor) CancelJob(agentName, jobID string) bool {
	return s.executor.Cancel(agentName, jobID)
}

// EnableSchedule re-enables a disabled schedule in persisted state.
func (s *Supervisor) EnableSchedule(agentName, scheduleName string) error {
	return s.setScheduleEnabled(agentName, scheduleName, true)
}

// DisableSchedule disables a schedule so the scheduler stops firing it.
func (s *Supervisor) DisableSchedule(agentName, scheduleName string) error {
	return s.setScheduleEnabled(agentName, scheduleName, false)
}

func (s *Supervisor) setScheduleEnabled(agentName, scheduleName string, enabled bool) error {
	return s.store.UpdateAgentState(agentName, func(a *state.AgentState) {
		if a.Schedules == nil {
			a.Schedules = make(map[string]*state.ScheduleState)
		}
		st, ok := a.Schedules[scheduleName]
		if !ok {
			st = &state.ScheduleState{}
			a.Schedules[scheduleName] = st
		}
		st.Enabled = enabled
	})
}

// FleetStatus summarizes supervisor status for external reporting.
type FleetStatus struct {
	Status Status
	Agents int
	Error  string
}

// GetFleetStatus reports the supervisor's current summary status.
func (s *Supervisor) GetFleetStatus() FleetStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fs := FleetStatus{Status: s.status}
	if s.resolved != nil {
		fs.Agents = len(s.resolved.Agents)
	}
	if s.lastErr != nil {
		fs.Error = s.lastErr.Error()
	}
	return fs
}

// AgentInfo summarizes one agent's config, live queue occupancy, and
// persisted fleet-state (status, current_job, last_job_id, error_message).
type AgentInfo struct {
	Agent  *config.Agent
	Status queue.Status
	State  *state.AgentState
}

// GetAgentInfo returns every agent's info.
func (s *Supervisor) GetAgentInfo() []AgentInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fs, _ := s.store.ReadFleetState()
	out := make([]AgentInfo, 0, len(s.resolved.Agents))
	for _, a := range s.resolved.Agents {
		out = append(out, AgentInfo{Agent: a, Status: s.queue.Status(a.QualifiedName), State: agentStateOf(fs, a.QualifiedName)})
	}
	return out
}

// GetAgentInfoByName resolves name (qualified or unambiguous local) and
// returns its info.
func (s *Supervisor) GetAgentInfoByName(name string) (AgentInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, err := s.registry.Lookup(name)
	if err != nil {
		return AgentInfo{}, err
	}
	fs, _ := s.store.ReadFleetState()
	return AgentInfo{Agent: a, Status: s.queue.Status(a.QualifiedName), State: agentStateOf(fs, a.QualifiedName)}, nil
}

// agentStateOf returns fs's persisted state for agentName, or nil if fs is
// nil (e.g. ReadFleetState failed) or the agent has no recorded state yet.
func agentStateOf(fs *state.FleetState, agentName string) *state.AgentState {
	if fs == nil {
		return nil
	}
	return fs.Agents[agentName]
}

// GetSchedules returns the persisted ScheduleState for every schedule on
// agentName.
func (s *Supervisor) GetSchedules(agentName string) (map[string]*state.ScheduleState, error) {
	fs, err := s.store.ReadFleetState()
	if err != nil {
		return nil, err
	}
	a, ok := fs.Agents[agentName]
	if !ok {
		return map[string]*state.ScheduleState{}, nil
	}
	return a.Schedules, nil
}

// GetJob returns one job's metadata.
func (s *Supervisor) GetJob(jobID string) (*state.Job, error) {
	return s.store.ReadJob(jobID)
}

// GetJobs lists jobs matching filter, with pagination and unreadable-file
// metadata; see state.JobsPage.
func (s *Supervisor) GetJobs(filter state.JobFilter) (*state.JobsPage, error) {
	return s.store.ListJobs(filter)
}

// StreamJobOutput tails a job's transcript from fromOffset, invoking emit
// for each complete line until ctx is cancelled.
func (s *Supervisor) StreamJobOutput(ctx context.Context, jobID string, fromOffset int64, emit func([]byte) error) error {
	return s.store.TailJobOutput(ctx, jobID, fromOffset, emit)
}

// Close releases the underlying state store's lock. Call after Stop.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}
