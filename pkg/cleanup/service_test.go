package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/herdctl/herdctl/pkg/state"
)

func newTestStore(t *testing.T) *state.Store {
	t.Helper()
	s, err := state.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestServiceDeletesTerminalJobsBeyondPolicy(t *testing.T) {
	store := newTestStore(t)
	base := time.Now()
	for i := 0; i < 5; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		require.NoError(t, store.WriteJob(&state.Job{
			ID: state.NewJobID(ts), AgentName: "watcher", Status: state.JobCompleted, CreatedAt: ts,
		}))
	}

	svc := NewService(store, state.RetentionPolicy{MaxPerAgent: 2}, time.Hour)
	svc.runOnce()

	remaining, err := store.ListJobs(state.JobFilter{AgentName: "watcher"})
	require.NoError(t, err)
	assert.Len(t, remaining.Jobs, 2)
}

func TestServicePreservesRunningJobs(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()
	require.NoError(t, store.WriteJob(&state.Job{
		ID: state.NewJobID(now), AgentName: "watcher", Status: state.JobRunning, CreatedAt: now,
	}))

	svc := NewService(store, state.RetentionPolicy{MaxPerAgent: 0}, time.Hour)
	svc.runOnce()

	jobs, err := store.ListJobs(state.JobFilter{})
	require.NoError(t, err)
	assert.Len(t, jobs.Jobs, 1)
}

func TestServiceRunsOnceImmediatelyOnStart(t *testing.T) {
	store := newTestStore(t)
	base := time.Now()
	for i := 0; i < 3; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		require.NoError(t, store.WriteJob(&state.Job{
			ID: state.NewJobID(ts), AgentName: "watcher", Status: state.JobFailed, CreatedAt: ts,
		}))
	}

	svc := NewService(store, state.RetentionPolicy{MaxPerAgent: 1}, time.Hour)
	svc.Start(context.Background())
	defer svc.Stop()

	require.Eventually(t, func() bool {
		jobs, err := store.ListJobs(state.JobFilter{AgentName: "watcher"})
		return err == nil && len(jobs.Jobs) == 1
	}, time.Second, 10*time.Millisecond)
}
