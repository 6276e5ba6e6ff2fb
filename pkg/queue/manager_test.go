package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitRejectsUnknownAgent(t *testing.T) {
	m := NewManager()
	d := m.Submit(SubmitRequest{AgentName: "ghost", JobID: "job-1"})
	assert.False(t, d.Accepted)
	assert.Equal(t, ReasonAgentNotFound, d.Reason)
}

func TestSubmitAdmitsImmediatelyUnderLimit(t *testing.T) {
	m := NewManager()
	m.Configure("watcher", 1, 10)

	d := m.Submit(SubmitRequest{AgentName: "watcher", JobID: "job-1"})
	require.True(t, d.Accepted)
	assert.False(t, d.Queued)
	assert.Equal(t, Status{Running: 1, Pending: 0}, m.Status("watcher"))
}

func TestSubmitQueuesWhenAtCapacity(t *testing.T) {
	m := NewManager()
	m.Configure("watcher", 1, 10)

	m.Submit(SubmitRequest{AgentName: "watcher", JobID: "job-1"})
	d := m.Submit(SubmitRequest{AgentName: "watcher", JobID: "job-2"})

	require.True(t, d.Accepted)
	assert.True(t, d.Queued)
	assert.Equal(t, Status{Running: 1, Pending: 1}, m.Status("watcher"))
}

func TestSubmitRejectsWhenQueueFull(t *testing.T) {
	m := NewManager()
	m.Configure("watcher", 1, 1)

	m.Submit(SubmitRequest{AgentName: "watcher", JobID: "job-1"})
	m.Submit(SubmitRequest{AgentName: "watcher", JobID: "job-2"}) // fills the 1-slot pending queue

	d := m.Submit(SubmitRequest{AgentName: "watcher", JobID: "job-3"})
	assert.False(t, d.Accepted)
	assert.Equal(t, ReasonQueueFull, d.Reason)
}

func TestSubmitRejectsWhenDisabled(t *testing.T) {
	m := NewManager()
	m.Configure("watcher", 1, 10)
	m.SetDisabled("watcher", true)

	d := m.Submit(SubmitRequest{AgentName: "watcher", JobID: "job-1"})
	assert.False(t, d.Accepted)
	assert.Equal(t, ReasonAgentDisabled, d.Reason)
}

func TestSubmitDedupSinceLastSkipsWhilePending(t *testing.T) {
	m := NewManager()
	m.Configure("watcher", 1, 10)

	m.Submit(SubmitRequest{AgentName: "watcher", JobID: "job-1"})
	m.Submit(SubmitRequest{AgentName: "watcher", JobID: "job-2", ScheduleName: "tick", DedupSinceLast: true})

	d := m.Submit(SubmitRequest{AgentName: "watcher", JobID: "job-3", ScheduleName: "tick", DedupSinceLast: true})
	assert.False(t, d.Accepted)
	assert.Equal(t, ReasonAtCapacity, d.Reason)
}

func TestCompletePromotesHighestPriorityPendingJob(t *testing.T) {
	m := NewManager()
	m.Configure("watcher", 1, 10)

	m.Submit(SubmitRequest{AgentName: "watcher", JobID: "job-1"})
	m.Submit(SubmitRequest{AgentName: "watcher", JobID: "low", Priority: PriorityLow})
	m.Submit(SubmitRequest{AgentName: "watcher", JobID: "high", Priority: PriorityHigh})

	promoted := m.Complete("watcher", "job-1")
	assert.Equal(t, "high", promoted)
	assert.Equal(t, Status{Running: 1, Pending: 1}, m.Status("watcher"))
}

func TestCancelInvokesRegisteredCancelFunc(t *testing.T) {
	m := NewManager()
	m.Configure("watcher", 1, 10)
	m.Submit(SubmitRequest{AgentName: "watcher", JobID: "job-1"})

	cancelled := false
	m.RegisterCancel("watcher", "job-1", func() { cancelled = true })

	assert.True(t, m.Cancel("watcher", "job-1"))
	assert.True(t, cancelled)
}

func TestCancelReturnsFalseForUnknownJob(t *testing.T) {
	m := NewManager()
	m.Configure("watcher", 1, 10)
	assert.False(t, m.Cancel("watcher", "no-such-job"))
}
