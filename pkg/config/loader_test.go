package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadSingleFleetResolvesAgent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "herdctl.yaml"), `
version: 1
agents:
  - path: agents/triager.yaml
`)
	writeFile(t, filepath.Join(dir, "agents/triager.yaml"), `
name: triager
description: triages incoming issues
system_prompt: "you triage issues"
permissions:
  mode: acceptEdits
  allow_tools: ["Bash", "Read"]
schedules:
  tick:
    type: interval
    interval: 30s
`)

	cfg, err := Load(dir, LoadOptions{})
	require.NoError(t, err)
	require.Len(t, cfg.Agents, 1)

	a := cfg.Agents[0]
	assert.Equal(t, "triager", a.LocalName)
	assert.Equal(t, "triager", a.QualifiedName)
	assert.Empty(t, a.FleetPath)
	assert.Equal(t, "you triage issues", a.SystemPrompt)
	assert.Equal(t, PermissionAcceptEdits, a.Permissions.Mode)
	assert.Equal(t, []string{"Bash", "Read"}, a.Permissions.AllowTools)
	assert.Equal(t, RuntimeSDK, a.Runtime) // defaulted
	assert.Equal(t, 1, a.MaxConcurrent)    // defaulted
	require.Contains(t, a.Schedules, "tick")
	assert.Equal(t, ScheduleInterval, a.Schedules["tick"].Type)
}

func TestLoadSubFleetQualifiesAgentName(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "herdctl.yaml"), `
version: 1
fleets:
  - path: ops/herdctl.yaml
    name: ops
`)
	writeFile(t, filepath.Join(dir, "ops/herdctl.yaml"), `
version: 1
agents:
  - path: watcher.yaml
`)
	writeFile(t, filepath.Join(dir, "ops/watcher.yaml"), `
name: watcher
`)

	cfg, err := Load(dir, LoadOptions{})
	require.NoError(t, err)
	require.Len(t, cfg.Agents, 1)
	assert.Equal(t, "ops.watcher", cfg.Agents[0].QualifiedName)
	assert.Equal(t, []string{"ops"}, cfg.Agents[0].FleetPath)
}

func TestLoadDefaultsCascadeFromRootToSubFleetToAgent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "herdctl.yaml"), `
version: 1
defaults:
  system_prompt: "root default prompt"
  model: root-model
fleets:
  - path: ops/herdctl.yaml
    name: ops
`)
	writeFile(t, filepath.Join(dir, "ops/herdctl.yaml"), `
version: 1
defaults:
  permissions:
    mode: plan
agents:
  - path: watcher.yaml
`)
	writeFile(t, filepath.Join(dir, "ops/watcher.yaml"), `
name: watcher
model: watcher-model
`)

	cfg, err := Load(dir, LoadOptions{})
	require.NoError(t, err)
	require.Len(t, cfg.Agents, 1)

	a := cfg.Agents[0]
	assert.Equal(t, "root default prompt", a.SystemPrompt, "inherited from root defaults")
	assert.Equal(t, "watcher-model", a.Model, "agent's own value wins over inherited defaults")
	assert.Equal(t, PermissionPlan, a.Permissions.Mode, "inherited from sub-fleet defaults")
}

func TestLoadDetectsFleetCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "herdctl.yaml"), `
version: 1
fleets:
  - path: a/herdctl.yaml
`)
	writeFile(t, filepath.Join(dir, "a/herdctl.yaml"), `
version: 1
fleet:
  name: a
fleets:
  - path: ../b/herdctl.yaml
`)
	writeFile(t, filepath.Join(dir, "b/herdctl.yaml"), `
version: 1
fleet:
  name: b
fleets:
  - path: ../a/herdctl.yaml
`)

	_, err := Load(dir, LoadOptions{})
	require.Error(t, err)

	var cycleErr *FleetCycleError
	require.True(t, errors.As(err, &cycleErr))
	assert.Contains(t, cycleErr.Error(), filepath.Join("a", "herdctl.yaml"))
	assert.Contains(t, cycleErr.Error(), filepath.Join("b", "herdctl.yaml"))
}

func TestLoadDetectsFleetNameCollision(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "herdctl.yaml"), `
version: 1
fleets:
  - path: one/herdctl.yaml
    name: duplicate-name
  - path: two/herdctl.yaml
    name: duplicate-name
`)
	writeFile(t, filepath.Join(dir, "one/herdctl.yaml"), "version: 1\n")
	writeFile(t, filepath.Join(dir, "two/herdctl.yaml"), "version: 1\n")

	_, err := Load(dir, LoadOptions{})
	require.Error(t, err)

	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))

	var collisionErr *FleetNameCollisionError
	found := false
	for _, e := range cfgErr.Errors {
		if errors.As(e, &collisionErr) {
			found = true
		}
	}
	require.True(t, found, "expected a FleetNameCollisionError among: %v", cfgErr.Errors)
	assert.Equal(t, "duplicate-name", collisionErr.Name)
}

func TestLoadUndefinedEnvVariableSurfacesDottedPath(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "herdctl.yaml"), `
version: 1
agents:
  - path: agents/builder.yaml
`)
	writeFile(t, filepath.Join(dir, "agents/builder.yaml"), `
name: builder
docker:
  image: "builder:latest"
  env:
    TOKEN: "${MISSING_TOKEN}"
`)

	_, err := Load(dir, LoadOptions{Lookup: func(string) (string, bool) { return "", false }})
	require.Error(t, err)

	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))

	var undef *UndefinedVariableError
	found := false
	for _, e := range cfgErr.Errors {
		if errors.As(e, &undef) {
			found = true
		}
	}
	require.True(t, found)
	assert.Equal(t, "MISSING_TOKEN", undef.VariableName)
	assert.Equal(t, "docker.env.TOKEN", undef.Path)
}

func TestLoadRejectsInvalidAgentName(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "herdctl.yaml"), `
version: 1
agents:
  - path: agents/bad.yaml
`)
	writeFile(t, filepath.Join(dir, "agents/bad.yaml"), `
name: "not a valid name!"
`)

	_, err := Load(dir, LoadOptions{})
	require.Error(t, err)

	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))

	var nameErr *InvalidFleetNameError
	found := false
	for _, e := range cfgErr.Errors {
		if errors.As(e, &nameErr) {
			found = true
		}
	}
	require.True(t, found)
}

func TestLoadRejectsInvalidIntervalAndCronSchedules(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "herdctl.yaml"), `
version: 1
agents:
  - path: agents/sched.yaml
`)
	writeFile(t, filepath.Join(dir, "agents/sched.yaml"), `
name: sched
schedules:
  bad_interval:
    type: interval
    interval: "not-a-duration"
  bad_cron:
    type: cron
    expression: "not a cron expression"
`)

	_, err := Load(dir, LoadOptions{})
	require.Error(t, err)

	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))

	var intervalErr *IntervalParseError
	var cronErr *CronParseError
	for _, e := range cfgErr.Errors {
		if errors.As(e, &intervalErr) {
			continue
		}
		errors.As(e, &cronErr)
	}
	assert.NotNil(t, intervalErr)
	assert.NotNil(t, cronErr)
}

func TestLoadRejectsUnknownTopLevelKeys(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "herdctl.yaml"), `
version: 1
totally_unknown_section:
  foo: bar
`)
	_, err := Load(dir, LoadOptions{})
	require.Error(t, err)

	var loadErr *FleetLoadError
	require.True(t, errors.As(err, &loadErr))
}

func TestLoadMissingConfigReturnsNotFound(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(dir, LoadOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfigNotFound))
}
