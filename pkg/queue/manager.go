package queue

import (
	"context"
	"sort"
	"sync"
)

// Manager tracks one FIFO per agent, admits jobs against each agent's
// max_concurrent limit, and holds the cancel handles active jobs register
// so CancelJob can interrupt them by ID. It is the generalized descendant
// of a worker-pool session registry: instead of a fixed worker count
// claiming rows from a database, each agent gets its own bounded queue and
// jobs are promoted into it as capacity frees up.
type Manager struct {
	mu     sync.Mutex
	agents map[string]*agentQueue
	seq    int
}

type agentQueue struct {
	maxConcurrent int
	maxPending    int
	disabled      bool

	running map[string]context.CancelFunc // jobID -> cancel
	pending []pendingEntry
}

type pendingEntry struct {
	jobID          string
	priority       Priority
	scheduleName   string
	dedupSinceLast bool
	seq            int
}

// NewManager constructs an empty Manager.
func NewManager() *Manager {
	return &Manager{agents: make(map[string]*agentQueue)}
}

// Configure (re)establishes the concurrency limits for an agent. Safe to
// call repeatedly, e.g. on every config reload; existing running/pending
// state is preserved.
func (m *Manager) Configure(agentName string, maxConcurrent, maxPending int) {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.agentLocked(agentName)
	q.maxConcurrent = maxConcurrent
	q.maxPending = maxPending
	q.disabled = false
}

// SetDisabled marks an agent as refusing new admissions (e.g. its fleet was
// disabled or is being reloaded out from under it). Jobs already running or
// pending are unaffected.
func (m *Manager) SetDisabled(agentName string, disabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.agents[agentName]; ok {
		q.disabled = disabled
	}
}

func (m *Manager) agentLocked(agentName string) *agentQueue {
	q, ok := m.agents[agentName]
	if !ok {
		q = &agentQueue{maxConcurrent: 1, running: make(map[string]context.CancelFunc)}
		m.agents[agentName] = q
	}
	return q
}

// Submit admits or defers req.JobID against its agent's queue. If agentName
// was never Configure'd, the submission is rejected with ReasonAgentNotFound.
func (m *Manager) Submit(req SubmitRequest) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.agents[req.AgentName]
	if !ok {
		return Decision{Reason: ReasonAgentNotFound}
	}
	if q.disabled {
		return Decision{Reason: ReasonAgentDisabled}
	}
	if req.DedupSinceLast && req.ScheduleName != "" && q.scheduleActiveLocked(req.ScheduleName) {
		return Decision{Reason: ReasonAtCapacity}
	}

	if len(q.running) < q.maxConcurrent {
		q.running[req.JobID] = nil
		return Decision{Accepted: true}
	}

	if q.maxPending > 0 && len(q.pending) >= q.maxPending {
		return Decision{Reason: ReasonQueueFull}
	}

	m.seq++
	q.pending = append(q.pending, pendingEntry{
		jobID:          req.JobID,
		priority:       req.Priority,
		scheduleName:   req.ScheduleName,
		dedupSinceLast: req.DedupSinceLast,
		seq:            m.seq,
	})
	sortPending(q.pending)
	return Decision{Accepted: true, Queued: true}
}

// scheduleActiveLocked reports whether a job for scheduleName is pending in
// this agent's queue. Running jobs are not checked, so a job for a schedule
// can be admitted while another job for the same schedule is still running.
// Callers must hold m.mu.
func (q *agentQueue) scheduleActiveLocked(scheduleName string) bool {
	for _, p := range q.pending {
		if p.scheduleName == scheduleName {
			return true
		}
	}
	// Running jobs aren't tagged with their schedule name here (the executor
	// owns that association), so only the pending queue is checked. That
	// still prevents unbounded pileup behind one slow run.
	return false
}

// sortPending orders by descending priority, then ascending seq (FIFO
// within a tier).
func sortPending(p []pendingEntry) {
	sort.SliceStable(p, func(i, j int) bool {
		if p[i].priority != p[j].priority {
			return p[i].priority > p[j].priority
		}
		return p[i].seq < p[j].seq
	})
}

// RegisterCancel attaches the cancel function for a running job so Cancel
// can later interrupt it. jobID must already be running (admitted via
// Submit or promoted via Complete).
func (m *Manager) RegisterCancel(agentName, jobID string, cancel context.CancelFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.agents[agentName]; ok {
		if _, running := q.running[jobID]; running {
			q.running[jobID] = cancel
		}
	}
}

// Cancel invokes the cancel function registered for jobID, if running.
// Returns true if a running job was found and cancelled.
func (m *Manager) Cancel(agentName, jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.agents[agentName]
	if !ok {
		return false
	}
	cancel, ok := q.running[jobID]
	if !ok || cancel == nil {
		return false
	}
	cancel()
	return true
}

// Complete marks jobID as finished, freeing a concurrency slot, and
// promotes the next pending job (if any) into the running set. It returns
// the promoted job's ID, or "" if nothing was waiting.
func (m *Manager) Complete(agentName, jobID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.agents[agentName]
	if !ok {
		return ""
	}
	delete(q.running, jobID)

	if len(q.pending) == 0 {
		return ""
	}
	next := q.pending[0]
	q.pending = q.pending[1:]
	q.running[next.jobID] = nil
	return next.jobID
}

// Status reports current occupancy for an agent.
type Status struct {
	Running int
	Pending int
}

// Status returns the current running/pending counts for an agent.
func (m *Manager) Status(agentName string) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.agents[agentName]
	if !ok {
		return Status{}
	}
	return Status{Running: len(q.running), Pending: len(q.pending)}
}

// Limit returns the configured max_concurrent for an agent, or 0 if it was
// never Configure'd.
func (m *Manager) Limit(agentName string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.agents[agentName]
	if !ok {
		return 0
	}
	return q.maxConcurrent
}
