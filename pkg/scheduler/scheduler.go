// Package scheduler evaluates agent schedules on a fixed tick and fires a
// caller-supplied trigger function when one comes due.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/herdctl/herdctl/pkg/config"
	"github.com/herdctl/herdctl/pkg/state"
)

// DefaultTickInterval is how often the scheduler re-evaluates every
// schedule when none is given to New.
const DefaultTickInterval = 5 * time.Second

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Decision is what a TriggerFunc reports back about one schedule firing.
type Decision struct {
	Skipped bool
	Reason  string // set when Skipped
}

// TriggerFunc runs one agent's schedule, e.g. by submitting a job. It is
// called synchronously from the scheduler's tick goroutine, so it must not
// block — admission and execution happen asynchronously on the caller's
// side (the job queue and executor).
type TriggerFunc func(ctx context.Context, agent *config.Agent, schedule *config.Schedule) Decision

// Scheduler evaluates every interval/cron schedule across a fleet's agents
// on a fixed tick, the same run-loop shape as a retention ticker: an
// initial pass, then re-evaluate on every tick until stopped.
type Scheduler struct {
	agents  []*config.Agent
	store   *state.Store
	trigger TriggerFunc
	tick    time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Scheduler over agents, persisting run history to store
// and firing trigger when a schedule comes due. tickInterval <= 0 uses
// DefaultTickInterval.
func New(agents []*config.Agent, store *state.Store, trigger TriggerFunc, tickInterval time.Duration) *Scheduler {
	if tickInterval <= 0 {
		tickInterval = DefaultTickInterval
	}
	return &Scheduler{agents: agents, store: store, trigger: trigger, tick: tickInterval}
}

// Start launches the background evaluation loop.
func (s *Scheduler) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx)
	slog.Info("scheduler started", "tick_interval", s.tick)
}

// Stop signals the evaluation loop to exit and waits for it to finish.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	s.evaluateAll(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.evaluateAll(ctx)
		}
	}
}

func (s *Scheduler) evaluateAll(ctx context.Context) {
	now := time.Now()
	for _, agent := range s.agents {
		for name, sched := range agent.Schedules {
			if sched.Type != config.ScheduleInterval && sched.Type != config.ScheduleCron {
				continue // webhook/chat schedules are triggered externally, not on a tick
			}
			s.evaluateOne(ctx, agent, name, sched, now)
		}
	}
}

func (s *Scheduler) evaluateOne(ctx context.Context, agent *config.Agent, name string, sched *config.Schedule, now time.Time) {
	due, next, err := s.isDue(agent, name, sched, now)
	if err != nil {
		slog.Error("scheduler: computing next run", "agent", agent.QualifiedName, "schedule", name, "error", err)
		return
	}
	if !due {
		return
	}

	// Record last_run_at/next_run_at before firing, so a crash between this
	// write and the trigger call never causes a double-fire on restart —
	// worst case a due schedule is silently skipped once.
	if err := s.store.UpdateAgentState(agent.QualifiedName, func(a *state.AgentState) {
		st := scheduleState(a, name)
		st.LastRunAt = timePtr(now)
		st.NextRunAt = timePtr(next)
	}); err != nil {
		slog.Error("scheduler: persisting run state", "agent", agent.QualifiedName, "schedule", name, "error", err)
		return
	}

	decision := s.trigger(ctx, agent, sched)
	if decision.Skipped {
		slog.Info("schedule skipped", "agent", agent.QualifiedName, "schedule", name, "reason", decision.Reason)
	}
}

// scheduleState returns (creating if absent) the ScheduleState entry for
// name on agent state a.
func scheduleState(a *state.AgentState, name string) *state.ScheduleState {
	if a.Schedules == nil {
		a.Schedules = make(map[string]*state.ScheduleState)
	}
	st, ok := a.Schedules[name]
	if !ok {
		st = &state.ScheduleState{Enabled: true}
		a.Schedules[name] = st
	}
	return st
}

// isDue reports whether sched should fire now, and the next_run_at to
// record for it regardless.
func (s *Scheduler) isDue(agent *config.Agent, name string, sched *config.Schedule, now time.Time) (bool, time.Time, error) {
	fs, err := s.store.ReadFleetState()
	if err != nil {
		return false, time.Time{}, err
	}
	a := fs.Agents[agent.QualifiedName]
	var last *time.Time
	if a != nil && a.Schedules[name] != nil {
		st := a.Schedules[name]
		if !st.Enabled {
			return false, time.Time{}, nil
		}
		last = st.LastRunAt
	}

	switch sched.Type {
	case config.ScheduleInterval:
		if last == nil {
			return true, now.Add(sched.Interval), nil
		}
		next := last.Add(sched.Interval)
		return !now.Before(next), now.Add(sched.Interval), nil
	case config.ScheduleCron:
		schedule, err := cronParser.Parse(sched.Expression)
		if err != nil {
			return false, time.Time{}, err
		}
		if last == nil {
			// Never run: due immediately, next occurrence computed from now.
			return true, schedule.Next(now), nil
		}
		next := schedule.Next(*last)
		return !now.Before(next), schedule.Next(now), nil
	default:
		return false, time.Time{}, nil
	}
}

func timePtr(t time.Time) *time.Time { return &t }
