// Package state persists fleet, agent, and job state to the state
// directory as YAML files and append-only JSONL transcripts. Every YAML file
// is written atomically (write-to-temp-then-rename in the same directory) so
// a crash mid-write never leaves a half-written one behind; transcripts are
// appended in place.
package state

import "time"

// JobStatus is a job's lifecycle stage.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status represents a finished job.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// Job is one job's persisted metadata (jobs/job-*.yaml). Its transcript
// lives alongside it as jobs/job-*.jsonl.
type Job struct {
	ID           string    `yaml:"id"`
	AgentName    string    `yaml:"agent_name"`
	ScheduleName string    `yaml:"schedule_name,omitempty"`
	TriggerKind  string    `yaml:"trigger_kind"` // scheduled, manual, chat, fork
	Priority     string    `yaml:"priority"`
	Prompt       string    `yaml:"prompt"`
	SessionID    string    `yaml:"session_id,omitempty"`
	ParentJobID  string    `yaml:"parent_job_id,omitempty"`
	Status       JobStatus `yaml:"status"`
	ExitReason   string    `yaml:"exit_reason,omitempty"` // success, error, timeout, cancelled, max_turns
	ErrorMessage string    `yaml:"error_message,omitempty"`
	Summary      string    `yaml:"summary,omitempty"`
	CreatedAt    time.Time `yaml:"created_at"`
	StartedAt    time.Time `yaml:"started_at,omitempty"`
	EndedAt      time.Time `yaml:"ended_at,omitempty"`
	// DurationSeconds is floor((EndedAt - StartedAt) / 1s), set once the job
	// reaches a terminal status.
	DurationSeconds int64 `yaml:"duration_seconds,omitempty"`
}

// ScheduleState is the persisted run history for one agent schedule.
type ScheduleState struct {
	Enabled    bool       `yaml:"enabled"`
	LastRunAt  *time.Time `yaml:"last_run_at,omitempty"`
	NextRunAt  *time.Time `yaml:"next_run_at,omitempty"`
	LastError  string     `yaml:"last_error,omitempty"`
}

// AgentStatus is an agent's live status, derived from its most recent job.
type AgentStatus string

const (
	AgentIdle    AgentStatus = "idle"
	AgentRunning AgentStatus = "running"
	AgentError   AgentStatus = "error"
)

// AgentState is the persisted runtime state for one agent: its live status
// and its schedules' run history. Job history itself lives separately under
// jobs/.
type AgentState struct {
	Name         string                    `yaml:"name"`
	Status       AgentStatus               `yaml:"status,omitempty"`
	CurrentJob   string                    `yaml:"current_job,omitempty"`
	LastJobID    string                    `yaml:"last_job_id,omitempty"`
	ErrorMessage string                    `yaml:"error_message,omitempty"`
	Schedules    map[string]*ScheduleState `yaml:"schedules,omitempty"`
}

// FleetState is the top-level state.yaml document.
type FleetState struct {
	StartedAt time.Time              `yaml:"started_at,omitempty"`
	Agents    map[string]*AgentState `yaml:"agents"`
	UpdatedAt time.Time              `yaml:"updated_at"`
}

func newFleetState() *FleetState {
	return &FleetState{Agents: make(map[string]*AgentState)}
}

// JobFilter narrows ListJobs.
type JobFilter struct {
	AgentName     string // exact match, empty matches any
	Status        JobStatus
	StartedAfter  time.Time // zero value matches any; compared against CreatedAt
	StartedBefore time.Time // zero value matches any; compared against CreatedAt
	Limit         int       // 0 means unlimited
	Offset        int       // applied after Limit's implicit ordering, before truncation
}

// JobsPage is the result of ListJobs: the page of jobs matching filter,
// alongside pagination and integrity metadata.
type JobsPage struct {
	Jobs []*Job
	// Total is the count of jobs matching filter before Offset/Limit are
	// applied.
	Total int
	// Unreadable is the count of job files skipped because they could not
	// be read or parsed.
	Unreadable int
}
