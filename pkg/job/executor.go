// Package job drives one agent turn end to end: admission through the
// queue, invoking the agent's Runtime, persisting the transcript as it
// streams in, and recording the terminal outcome.
package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/herdctl/herdctl/pkg/config"
	"github.com/herdctl/herdctl/pkg/events"
	"github.com/herdctl/herdctl/pkg/queue"
	"github.com/herdctl/herdctl/pkg/runtime"
	"github.com/herdctl/herdctl/pkg/state"
)

// Exit reasons, per the job lifecycle's terminal vocabulary. Exactly one is
// set on every terminal job.
const (
	ExitSuccess   = "success"
	ExitError     = "error"
	ExitTimeout   = "timeout"
	ExitCancelled = "cancelled"
	ExitMaxTurns  = "max_turns"
)

// TriggerKind is how a job came to be submitted.
type TriggerKind string

const (
	TriggerScheduled TriggerKind = "scheduled"
	TriggerManual    TriggerKind = "manual"
	TriggerChat      TriggerKind = "chat"
	TriggerFork      TriggerKind = "fork"
)

func (k TriggerKind) priority() queue.Priority {
	switch k {
	case TriggerFork:
		return queue.PriorityFork
	case TriggerScheduled:
		return queue.PriorityScheduled
	default:
		return queue.PriorityManual
	}
}

// Executor submits and runs jobs for a resolved fleet's agents.
type Executor struct {
	store    *state.Store
	bus      *events.Bus
	queue    *queue.Manager
	runtimes map[config.RuntimeKind]runtime.Runtime
	registry *config.AgentRegistry
}

// NewExecutor constructs an Executor. runtimes maps each RuntimeKind an
// agent may declare to the Runtime implementation that drives it.
func NewExecutor(store *state.Store, bus *events.Bus, q *queue.Manager, registry *config.AgentRegistry, runtimes map[config.RuntimeKind]runtime.Runtime) *Executor {
	return &Executor{store: store, bus: bus, queue: q, registry: registry, runtimes: runtimes}
}

// Submit admits a job for agent and, if the queue starts it immediately,
// launches it in the background. promptOverride, if non-empty, takes
// precedence over the schedule's own prompt and the agent's system prompt.
func (e *Executor) Submit(ctx context.Context, agent *config.Agent, kind TriggerKind, scheduleName, promptOverride, parentJobID, sessionID string) (*state.Job, queue.Decision) {
	jobID := state.NewJobID(time.Now())
	decision := e.queue.Submit(queue.SubmitRequest{
		AgentName:      agent.QualifiedName,
		JobID:          jobID,
		Priority:       kind.priority(),
		ScheduleName:   scheduleName,
		DedupSinceLast: kind == TriggerScheduled,
	})
	if !decision.Accepted {
		if kind == TriggerScheduled {
			e.bus.Publish(events.Event{
				Kind: events.KindScheduleSkipped, AgentName: agent.QualifiedName, Time: time.Now(),
				Payload: events.ScheduleSkippedPayload{ScheduleName: scheduleName, Reason: decision.Reason},
			})
		}
		return nil, decision
	}

	if sessionID == "" && agent.Session.Reuse {
		sessionID = parentSessionID(e.store, parentJobID)
	}

	j := &state.Job{
		ID:           jobID,
		AgentName:    agent.QualifiedName,
		ScheduleName: scheduleName,
		TriggerKind:  string(kind),
		Priority:     priorityLabel(kind),
		Prompt:       resolvePrompt(agent, scheduleName, promptOverride),
		SessionID:    sessionID,
		ParentJobID:  parentJobID,
		Status:       state.JobPending,
		CreatedAt:    time.Now(),
	}
	if err := e.store.WriteJob(j); err != nil {
		slog.Error("job: persisting new job", "job_id", jobID, "error", err)
	}
	e.bus.Publish(events.Event{Kind: events.KindJobCreated, AgentName: agent.QualifiedName, JobID: jobID, Time: time.Now()})

	if !decision.Queued {
		go e.run(context.Background(), agent, j)
	}
	return j, decision
}

// Fork creates a new job that inherits its parent's prompt and session
// (unless overridden) and is admitted at high priority.
func (e *Executor) Fork(ctx context.Context, parentJobID, promptOverride string) (*state.Job, queue.Decision, error) {
	parent, err := e.store.ReadJob(parentJobID)
	if err != nil {
		return nil, queue.Decision{}, fmt.Errorf("job: fork: reading parent job %s: %w", parentJobID, err)
	}
	agent, err := e.registry.Lookup(parent.AgentName)
	if err != nil {
		return nil, queue.Decision{}, err
	}

	prompt := parent.Prompt
	if promptOverride != "" {
		prompt = promptOverride
	}
	j, decision := e.Submit(ctx, agent, TriggerFork, "", prompt, parent.ID, parent.SessionID)
	if decision.Accepted {
		e.bus.Publish(events.Event{
			Kind: events.KindJobForked, AgentName: agent.QualifiedName, JobID: j.ID, Time: time.Now(),
			Payload: events.JobForkedPayload{ParentJobID: parent.ID, JobID: j.ID},
		})
	}
	return j, decision, nil
}

// Cancel interrupts a running job. Returns true if a running job was found.
func (e *Executor) Cancel(agentName, jobID string) bool {
	return e.queue.Cancel(agentName, jobID)
}

func (e *Executor) run(ctx context.Context, agent *config.Agent, j *state.Job) {
	j.Status = state.JobRunning
	j.StartedAt = time.Now()
	if err := e.store.WriteJob(j); err != nil {
		slog.Error("job: persisting running state", "job_id", j.ID, "error", err)
	}
	if err := e.store.UpdateAgentState(agent.QualifiedName, func(a *state.AgentState) {
		a.Status = state.AgentRunning
		a.CurrentJob = j.ID
		a.ErrorMessage = ""
	}); err != nil {
		slog.Error("job: persisting agent running state", "agent", agent.QualifiedName, "error", err)
	}
	e.bus.Publish(events.Event{Kind: events.KindAgentStarted, AgentName: agent.QualifiedName, JobID: j.ID, Time: time.Now()})

	runCtx, cancel := context.WithCancel(ctx)
	if agent.Session.Deadline > 0 {
		var timeoutCancel context.CancelFunc
		runCtx, timeoutCancel = context.WithTimeout(runCtx, agent.Session.Deadline)
		defer timeoutCancel()
	}
	defer cancel()
	e.queue.RegisterCancel(agent.QualifiedName, j.ID, cancel)

	exitReason, runErr := e.stream(runCtx, agent, j)

	j.EndedAt = time.Now()
	j.ExitReason = exitReason
	j.DurationSeconds = int64(j.EndedAt.Sub(j.StartedAt).Seconds())
	switch exitReason {
	case ExitCancelled, ExitTimeout:
		j.Status = state.JobFailed
		if exitReason == ExitCancelled {
			j.Status = state.JobCancelled
		}
		if runErr != nil {
			j.ErrorMessage = runErr.Error()
		}
	case ExitSuccess, ExitMaxTurns:
		j.Status = state.JobCompleted
	default: // ExitError
		j.Status = state.JobFailed
		if runErr != nil {
			j.ErrorMessage = runErr.Error()
		}
	}
	if err := e.store.WriteJob(j); err != nil {
		slog.Error("job: persisting terminal state", "job_id", j.ID, "error", err)
	}

	agentState := state.AgentIdle
	if j.Status == state.JobFailed {
		agentState = state.AgentError
	}
	if err := e.store.UpdateAgentState(agent.QualifiedName, func(a *state.AgentState) {
		a.Status = agentState
		a.CurrentJob = ""
		a.LastJobID = j.ID
		a.ErrorMessage = j.ErrorMessage
	}); err != nil {
		slog.Error("job: persisting agent terminal state", "agent", agent.QualifiedName, "error", err)
	}
	e.bus.Publish(events.Event{Kind: events.KindAgentStopped, AgentName: agent.QualifiedName, JobID: j.ID, Time: time.Now()})

	kind := events.KindJobCompleted
	if j.Status == state.JobFailed {
		kind = events.KindJobFailed
	} else if j.Status == state.JobCancelled {
		kind = events.KindJobCancelled
	}
	e.bus.Publish(events.Event{
		Kind: kind, AgentName: agent.QualifiedName, JobID: j.ID, Time: time.Now(),
		Payload: events.JobTerminalPayload{ExitReason: exitReason, Err: runErr},
	})

	if promoted := e.queue.Complete(agent.QualifiedName, j.ID); promoted != "" {
		e.runPromoted(agent, promoted)
	}
}

func (e *Executor) runPromoted(agent *config.Agent, jobID string) {
	next, err := e.store.ReadJob(jobID)
	if err != nil {
		slog.Error("job: loading promoted job", "job_id", jobID, "error", err)
		return
	}
	go e.run(context.Background(), agent, next)
}

func (e *Executor) stream(ctx context.Context, agent *config.Agent, j *state.Job) (exitReason string, err error) {
	rt, ok := e.runtimes[agent.Runtime]
	if !ok {
		return ExitError, fmt.Errorf("job: no runtime registered for kind %q", agent.Runtime)
	}

	s, err := rt.Run(ctx, runtime.Request{
		AgentName:   agent.QualifiedName,
		Prompt:      j.Prompt,
		Model:       agent.Model,
		MaxTurns:    agent.MaxTurns,
		Permissions: agent.Permissions,
		Docker:      agent.Docker,
		SessionID:   j.SessionID,
	})
	if err != nil {
		return ExitError, err
	}

	for {
		msg, ok, streamErr := s.Next(ctx)
		if !ok {
			if streamErr != nil {
				if errors.Is(streamErr, runtime.ErrMaxTurns) {
					return ExitMaxTurns, nil
				}
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return ExitTimeout, streamErr
				}
				if ctx.Err() != nil {
					return ExitCancelled, ctx.Err()
				}
				return ExitError, streamErr
			}
			return ExitSuccess, nil
		}
		e.persist(j.ID, agent.QualifiedName, msg)
	}
}

func (e *Executor) persist(jobID, agentName string, msg runtime.Message) {
	if msg.Time.IsZero() {
		msg.Time = time.Now()
	}
	line, err := json.Marshal(msg)
	if err != nil {
		slog.Error("job: marshaling transcript message", "job_id", jobID, "error", err)
		return
	}
	if err := e.store.AppendJobOutput(jobID, line); err != nil {
		slog.Error("job: appending transcript", "job_id", jobID, "error", err)
	}
	e.bus.Publish(events.Event{Kind: events.KindJobOutput, AgentName: agentName, JobID: jobID, Time: msg.Time, Payload: msg})
}

func resolvePrompt(agent *config.Agent, scheduleName, override string) string {
	if override != "" {
		return override
	}
	if scheduleName != "" {
		if sched, ok := agent.Schedules[scheduleName]; ok && sched.Prompt != "" {
			return sched.Prompt
		}
	}
	return agent.SystemPrompt
}

func priorityLabel(kind TriggerKind) string {
	switch kind.priority() {
	case queue.PriorityHigh:
		return "high"
	case queue.PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

func parentSessionID(store *state.Store, parentJobID string) string {
	if parentJobID == "" {
		return ""
	}
	parent, err := store.ReadJob(parentJobID)
	if err != nil {
		return ""
	}
	return parent.SessionID
}
