// Package config loads and resolves herdctl fleet configuration: recursive
// fleet composition, agent/schedule parsing, defaults merging, and
// environment-variable interpolation.
package config

import "time"

// PermissionMode controls how much latitude an agent's runtime has to act
// without asking for confirmation.
type PermissionMode string

const (
	PermissionDefault           PermissionMode = "default"
	PermissionAcceptEdits       PermissionMode = "acceptEdits"
	PermissionBypassPermissions PermissionMode = "bypassPermissions"
	PermissionPlan              PermissionMode = "plan"
)

// RuntimeKind selects which collaborator executes an agent turn.
type RuntimeKind string

const (
	RuntimeSDK RuntimeKind = "sdk"
	RuntimeCLI RuntimeKind = "cli"
)

// ScheduleType distinguishes time-triggered schedules from kick-only ones.
type ScheduleType string

const (
	ScheduleInterval ScheduleType = "interval"
	ScheduleCron     ScheduleType = "cron"
	ScheduleWebhook  ScheduleType = "webhook"
	ScheduleChat     ScheduleType = "chat"
)

// RawRootConfig is the top-level shape of a fleet's YAML file.
type RawRootConfig struct {
	Version   int              `yaml:"version"`
	Fleet     *FleetMeta       `yaml:"fleet,omitempty"`
	Defaults  *RawAgentDefaults `yaml:"defaults,omitempty"`
	Agents    []AgentRef       `yaml:"agents,omitempty"`
	Fleets    []FleetRef       `yaml:"fleets,omitempty"`
	Web       map[string]any   `yaml:"web,omitempty"`
	Chat      map[string]any   `yaml:"chat,omitempty"`
	Webhooks  map[string]any   `yaml:"webhooks,omitempty"`
	Docker    map[string]any   `yaml:"docker,omitempty"`
}

// FleetMeta names and describes the fleet defined by one config file.
type FleetMeta struct {
	Name        string `yaml:"name,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// AgentRef points at an agent definition file, relative to the containing
// fleet file's directory.
type AgentRef struct {
	Path string `yaml:"path"`
}

// FleetRef points at a sub-fleet file, with an optional name override.
type FleetRef struct {
	Path string `yaml:"path"`
	Name string `yaml:"name,omitempty"`
}

// RawAgentDefaults holds the subset of agent fields that may be set at
// fleet scope and merged down into every agent beneath it.
type RawAgentDefaults struct {
	SystemPrompt string              `yaml:"system_prompt,omitempty"`
	Permissions  *RawPermissions     `yaml:"permissions,omitempty"`
	Runtime      RuntimeKind         `yaml:"runtime,omitempty"`
	Model        string              `yaml:"model,omitempty"`
	MaxTurns     *int                `yaml:"max_turns,omitempty"`
	Docker       *RawDockerConfig    `yaml:"docker,omitempty"`
	Session      *RawSessionPolicy   `yaml:"session,omitempty"`
	MaxConcurrent *int               `yaml:"max_concurrent,omitempty"`
}

// RawAgentConfig is one agent definition file's shape.
type RawAgentConfig struct {
	Name          string                   `yaml:"name"`
	Description   string                   `yaml:"description,omitempty"`
	SystemPrompt  string                   `yaml:"system_prompt,omitempty"`
	Schedules     map[string]RawSchedule   `yaml:"schedules,omitempty"`
	Permissions   *RawPermissions          `yaml:"permissions,omitempty"`
	Runtime       RuntimeKind              `yaml:"runtime,omitempty"`
	Model         string                   `yaml:"model,omitempty"`
	MaxTurns      *int                     `yaml:"max_turns,omitempty"`
	Docker        *RawDockerConfig         `yaml:"docker,omitempty"`
	Session       *RawSessionPolicy        `yaml:"session,omitempty"`
	Chat          map[string]any           `yaml:"chat,omitempty"`
	MaxConcurrent *int                     `yaml:"max_concurrent,omitempty"`
}

// RawPermissions is the permission-mode and tool-list section of an agent.
type RawPermissions struct {
	Mode       PermissionMode `yaml:"mode,omitempty"`
	AllowTools []string       `yaml:"allow_tools,omitempty"`
	DenyTools  []string       `yaml:"deny_tools,omitempty"`
}

// RawDockerConfig describes optional containerization for an agent's runtime.
type RawDockerConfig struct {
	Image string            `yaml:"image,omitempty"`
	Env   map[string]string `yaml:"env,omitempty"`
}

// RawSessionPolicy controls session reuse and the per-job deadline.
type RawSessionPolicy struct {
	Reuse    bool   `yaml:"reuse,omitempty"`
	Deadline string `yaml:"deadline,omitempty"` // human duration, e.g. "30m"
}

// RawSchedule is one schedule entry under an agent's `schedules` map.
type RawSchedule struct {
	Type       ScheduleType `yaml:"type"`
	Interval   string       `yaml:"interval,omitempty"`
	Expression string       `yaml:"expression,omitempty"`
	Prompt     string       `yaml:"prompt,omitempty"`
}

// Schedule is a resolved, validated schedule attached to an Agent.
type Schedule struct {
	Name       string
	Type       ScheduleType
	Interval   time.Duration // set when Type == ScheduleInterval
	Expression string        // set when Type == ScheduleCron
	Prompt     string
}

// Agent is a fully resolved agent: defaults merged, name qualified,
// schedules parsed. This is the value type the rest of the supervisor
// consumes; it is immutable after Load returns.
type Agent struct {
	LocalName    string
	FleetPath    []string // fleet names from root (exclusive) to this agent's parent, in order
	QualifiedName string

	Description   string
	SystemPrompt  string
	Permissions   Permissions
	Runtime       RuntimeKind
	Model         string
	MaxTurns      int
	Docker        *DockerConfig
	Session       SessionPolicy
	MaxConcurrent int
	Schedules     map[string]*Schedule
}

// Permissions is the resolved permission-mode + tool-list for an agent.
type Permissions struct {
	Mode       PermissionMode
	AllowTools []string
	DenyTools  []string
}

// DockerConfig is the resolved containerization setting for an agent.
type DockerConfig struct {
	Image string
	Env   map[string]string
}

// SessionPolicy is the resolved session-reuse and deadline setting.
type SessionPolicy struct {
	Reuse    bool
	Deadline time.Duration // zero means no deadline
}

// ResolvedConfig is the output of Load: every agent in the composed fleet
// graph, plus bookkeeping about where the config came from.
type ResolvedConfig struct {
	Agents    []*Agent
	ConfigPath string
	ConfigDir  string
}

// ByQualifiedName indexes the resolved agents for lookup.
func (c *ResolvedConfig) ByQualifiedName() map[string]*Agent {
	m := make(map[string]*Agent, len(c.Agents))
	for _, a := range c.Agents {
		m[a.QualifiedName] = a
	}
	return m
}
