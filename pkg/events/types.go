// Package events fans supervisor activity out to subscribers: the ambient
// HTTP status surface, the CLI's follow mode, and anything else watching a
// running fleet.
package events

import "time"

// Kind names a category of fleet activity.
type Kind string

const (
	KindInitialized       Kind = "initialized"
	KindStarted           Kind = "started"
	KindStopped           Kind = "stopped"
	KindError             Kind = "error"
	KindConfigReloaded    Kind = "config:reloaded"
	KindAgentStarted      Kind = "agent:started"
	KindAgentStopped      Kind = "agent:stopped"
	KindScheduleTriggered Kind = "schedule:triggered"
	KindScheduleSkipped   Kind = "schedule:skipped"
	KindJobCreated        Kind = "job:created"
	KindJobOutput         Kind = "job:output"
	KindJobCompleted      Kind = "job:completed"
	KindJobFailed         Kind = "job:failed"
	KindJobCancelled      Kind = "job:cancelled"
	KindJobForked         Kind = "job:forked"
)

// Event is one fleet activity notification delivered to subscribers.
// Payload holds kind-specific data (e.g. a transcript message for
// KindJobOutput, a skip reason for KindScheduleSkipped) — consumers type
// switch on Kind to interpret it.
type Event struct {
	Kind      Kind
	Time      time.Time
	AgentName string // qualified agent name, when applicable
	JobID     string // when applicable
	Payload   any
}

// ScheduleSkippedPayload is the Payload for KindScheduleSkipped.
type ScheduleSkippedPayload struct {
	ScheduleName string
	Reason       string // a queue skip reason, e.g. "at_capacity", "agent_disabled", "queue_full"
}

// JobTerminalPayload is the Payload for KindJobCompleted/KindJobFailed/KindJobCancelled.
type JobTerminalPayload struct {
	ExitReason string
	Err        error
}

// ScheduleTriggeredPayload is the Payload for KindScheduleTriggered.
type ScheduleTriggeredPayload struct {
	ScheduleName string
	JobID        string
}

// JobForkedPayload is the Payload for KindJobForked.
type JobForkedPayload struct {
	ParentJobID string
	JobID       string
}
