// Package queue admits jobs onto a per-agent, concurrency-limited FIFO and
// tracks the cancel handles needed to interrupt a running job.
package queue

// Priority orders pending jobs within an agent's queue. Higher values run
// first; jobs of equal priority run in enqueue order.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// Default priorities by trigger kind, per the fleet's admission policy:
// background schedules yield to anything a human or another job asked for
// directly.
const (
	PriorityScheduled = PriorityLow
	PriorityManual    = PriorityNormal
	PriorityChat      = PriorityNormal
	PriorityFork      = PriorityHigh
)

// Skip reasons returned on a rejected admission.
const (
	ReasonAgentNotFound = "agent_not_found"
	ReasonAgentDisabled = "agent_disabled"
	ReasonAtCapacity    = "at_capacity"
	ReasonQueueFull     = "queue_full"
)

// Decision is the outcome of a Submit call.
type Decision struct {
	Accepted bool
	// Queued is true when Accepted but the job was placed in the pending
	// FIFO rather than started immediately (the agent was already at its
	// concurrency limit).
	Queued bool
	Reason string // set when !Accepted
}

// SubmitRequest describes one job asking to run against an agent's queue.
type SubmitRequest struct {
	AgentName string
	JobID     string
	Priority  Priority

	// ScheduleName identifies the schedule that produced this job, when
	// triggered by one. DedupSinceLast, if true, skips admission with
	// ReasonAtCapacity when a prior job for the same schedule is still
	// pending in the agent's queue (a running one is not checked) — the
	// "don't pile up behind a slow run" rule for interval/cron schedules.
	ScheduleName   string
	DedupSinceLast bool
}
