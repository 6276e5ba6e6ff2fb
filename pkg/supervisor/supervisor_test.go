package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/herdctl/herdctl/pkg/config"
	"github.com/herdctl/herdctl/pkg/events"
	"github.com/herdctl/herdctl/pkg/job"
	"github.com/herdctl/herdctl/pkg/runtime"
	"github.com/herdctl/herdctl/pkg/state"
)

func writeFleet(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "agents"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "herdctl.yaml"), []byte(`
version: 1
agents:
  - path: agents/watcher.yaml
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "agents/watcher.yaml"), []byte(`
name: watcher
system_prompt: "watch things"
schedules:
  tick:
    type: interval
    interval: 20ms
`), 0o644))
	return dir
}

func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	fleetDir := writeFleet(t)
	stateDir := t.TempDir()
	sup := New(Options{
		ConfigPath:   fleetDir,
		StateDir:     stateDir,
		TickInterval: 20 * time.Millisecond,
		Runtimes:     map[config.RuntimeKind]runtime.Runtime{config.RuntimeSDK: &runtime.Stub{}},
	})
	t.Cleanup(func() { sup.Close() })
	return sup
}

func TestInitializeStartStopLifecycle(t *testing.T) {
	sup := newTestSupervisor(t)
	assert.Equal(t, StatusUninitialized, sup.Status())

	require.NoError(t, sup.Initialize(context.Background()))
	assert.Equal(t, StatusInitialized, sup.Status())

	require.NoError(t, sup.Start(context.Background()))
	assert.Equal(t, StatusRunning, sup.Status())

	require.NoError(t, sup.Stop(StopOptions{Timeout: time.Second}))
	assert.Equal(t, StatusStopped, sup.Status())
}

func TestStartBeforeInitializeIsRejected(t *testing.T) {
	sup := newTestSupervisor(t)
	err := sup.Start(context.Background())
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestStopBeforeStartIsRejected(t *testing.T) {
	sup := newTestSupervisor(t)
	require.NoError(t, sup.Initialize(context.Background()))
	err := sup.Stop(StopOptions{})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTriggerSubmitsAndRunsJob(t *testing.T) {
	sup := newTestSupervisor(t)
	require.NoError(t, sup.Initialize(context.Background()))
	require.NoError(t, sup.Start(context.Background()))
	defer sup.Stop(StopOptions{Timeout: time.Second})

	j, err := sup.Trigger(context.Background(), "watcher", "", "custom task")
	require.NoError(t, err)
	assert.Equal(t, "custom task", j.Prompt)

	require.Eventually(t, func() bool {
		got, err := sup.GetJob(j.ID)
		return err == nil && got.Status.Terminal()
	}, time.Second, 10*time.Millisecond)
}

func TestSchedulerFiresRegisteredSchedule(t *testing.T) {
	sup := newTestSupervisor(t)
	require.NoError(t, sup.Initialize(context.Background()))
	require.NoError(t, sup.Start(context.Background()))
	defer sup.Stop(StopOptions{Timeout: time.Second})

	require.Eventually(t, func() bool {
		page, err := sup.GetJobs(state.JobFilter{AgentName: "watcher"})
		return err == nil && len(page.Jobs) > 0
	}, time.Second, 10*time.Millisecond)
}

func TestSchedulerEmitsScheduleTriggeredEvent(t *testing.T) {
	sup := newTestSupervisor(t)
	require.NoError(t, sup.Initialize(context.Background()))

	sub := sup.Subscribe(16)
	defer sub.Close()

	require.NoError(t, sup.Start(context.Background()))
	defer sup.Stop(StopOptions{Timeout: time.Second})

	require.Eventually(t, func() bool {
		for {
			select {
			case ev := <-sub.C:
				if ev.Kind == events.KindScheduleTriggered {
					return true
				}
			default:
				return false
			}
		}
	}, time.Second, 10*time.Millisecond)
}

func TestForkInheritsParentJob(t *testing.T) {
	sup := newTestSupervisor(t)
	require.NoError(t, sup.Initialize(context.Background()))
	require.NoError(t, sup.Start(context.Background()))
	defer sup.Stop(StopOptions{Timeout: time.Second})

	parent, err := sup.Trigger(context.Background(), "watcher", "", "parent task")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := sup.GetJob(parent.ID)
		return err == nil && got.Status.Terminal()
	}, time.Second, 10*time.Millisecond)

	child, decision2, err := sup.ForkJob(context.Background(), parent.ID, "")
	require.NoError(t, err)
	require.True(t, decision2.Accepted)
	assert.Equal(t, "parent task", child.Prompt)
	assert.Equal(t, string(job.TriggerFork), child.TriggerKind)
}

func TestEnableDisableSchedule(t *testing.T) {
	sup := newTestSupervisor(t)
	require.NoError(t, sup.Initialize(context.Background()))

	require.NoError(t, sup.DisableSchedule("watcher", "tick"))
	schedules, err := sup.GetSchedules("watcher")
	require.NoError(t, err)
	require.NotNil(t, schedules["tick"])
	assert.False(t, schedules["tick"].Enabled)

	require.NoError(t, sup.EnableSchedule("watcher", "tick"))
	schedules, err = sup.GetSchedules("watcher")
	require.NoError(t, err)
	assert.True(t, schedules["tick"].Enabled)
}

func TestGetFleetStatusReportsAgentCount(t *testing.T) {
	sup := newTestSupervisor(t)
	require.NoError(t, sup.Initialize(context.Background()))
	status := sup.GetFleetStatus()
	assert.Equal(t, StatusInitialized, status.Status)
	assert.Equal(t, 1, status.Agents)
}

func TestGetAgentInfoByNameResolvesLocalName(t *testing.T) {
	sup := newTestSupervisor(t)
	require.NoError(t, sup.Initialize(context.Background()))
	info, err := sup.GetAgentInfoByName("watcher")
	require.NoError(t, err)
	assert.Equal(t, "watcher", info.Agent.LocalName)
}

func TestTriggerUnknownScheduleFails(t *testing.T) {
	sup := newTestSupervisor(t)
	require.NoError(t, sup.Initialize(context.Background()))
	require.NoError(t, sup.Start(context.Background()))
	defer sup.Stop(StopOptions{Timeout: time.Second})

	_, err := sup.Trigger(context.Background(), "watcher", "nightly", "")
	var scheduleErr *ScheduleNotFoundError
	require.ErrorAs(t, err, &scheduleErr)
	assert.Equal(t, "nightly", scheduleErr.ScheduleName)
}

// blockingRuntime never produces a message until released, letting the
// concurrency-cap test hold jobs open deterministically.
type blockingRuntime struct{ release chan struct{} }

func (b *blockingRuntime) Run(ctx context.Context, req runtime.Request) (runtime.Stream, error) {
	return &blockingStream{release: b.release}, nil
}

type blockingStream struct{ release chan struct{} }

func (s *blockingStream) Next(ctx context.Context) (runtime.Message, bool, error) {
	select {
	case <-ctx.Done():
		return runtime.Message{}, false, ctx.Err()
	case <-s.release:
		return runtime.Message{}, false, nil
	}
}

func TestTriggerRejectsAtConcurrencyLimit(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "agents"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "herdctl.yaml"), []byte(`
version: 1
agents:
  - path: agents/watcher.yaml
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "agents/watcher.yaml"), []byte(`
name: watcher
system_prompt: "watch things"
max_concurrent: 2
`), 0o644))

	release := make(chan struct{})
	sup := New(Options{
		ConfigPath: dir,
		StateDir:   t.TempDir(),
		Runtimes:   map[config.RuntimeKind]runtime.Runtime{config.RuntimeSDK: &blockingRuntime{release: release}},
	})
	t.Cleanup(func() { sup.Close() })
	require.NoError(t, sup.Initialize(context.Background()))
	require.NoError(t, sup.Start(context.Background()))
	defer func() {
		close(release)
		sup.Stop(StopOptions{Timeout: time.Second})
	}()

	_, err := sup.Trigger(context.Background(), "watcher", "", "first")
	require.NoError(t, err)
	_, err = sup.Trigger(context.Background(), "watcher", "", "second")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		info, err := sup.GetAgentInfoByName("watcher")
		return err == nil && info.Status.Running == 2
	}, time.Second, 10*time.Millisecond)

	_, err = sup.Trigger(context.Background(), "watcher", "", "third")
	var limitErr *ConcurrencyLimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, 2, limitErr.Limit)
	assert.Equal(t, 2, limitErr.CurrentJobs)
}
