package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

const defaultConfigFileName = "herdctl.yaml"

// LoadOptions configures Load.
type LoadOptions struct {
	// Lookup resolves environment variable references during interpolation.
	// Defaults to os.LookupEnv.
	Lookup func(string) (string, bool)
}

// Load reads the fleet rooted at path (a file, or a directory containing
// herdctl.yaml), recursively composing any referenced sub-fleets, merging
// defaults down the tree, interpolating environment variables, and
// validating every agent and schedule it finds.
//
// A missing root config, a root or sub-fleet file that cannot be read or
// parsed, and a reference cycle abort the load immediately (a sub-fleet
// without a name override is first read to resolve its name, and a failure
// there is collected instead). Everything else (an unreadable agent file, a
// bad agent or fleet name, a fleet-name collision, an undefined variable, an
// invalid schedule) is collected and returned together as a single
// *ConfigurationError so a user sees every mistake in one pass.
func Load(path string, opts LoadOptions) (*ResolvedConfig, error) {
	lookup := opts.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}

	rootPath, err := resolveConfigPath(path)
	if err != nil {
		return nil, &FleetLoadError{Path: path, Err: err}
	}

	l := &loader{lookup: lookup}
	agents, err := l.loadFleet(rootPath, "", nil, RawAgentDefaults{}, nil)
	if err != nil {
		return nil, err
	}
	if cfgErr := NewConfigurationError(l.errs); cfgErr != nil {
		return nil, cfgErr
	}
	return &ResolvedConfig{
		Agents:     agents,
		ConfigPath: rootPath,
		ConfigDir:  filepath.Dir(rootPath),
	}, nil
}

type loader struct {
	lookup func(string) (string, bool)
	errs   []error
}

// loadFleet loads one fleet file and every agent and sub-fleet it
// references. chain is the ordered list of realpaths from the root down to
// (and including) path's parent, used for cycle detection.
func (l *loader) loadFleet(path, parentPath string, fleetPath []string, inherited RawAgentDefaults, chain []string) ([]*Agent, error) {
	realPath := path
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		realPath = resolved
	}
	for _, p := range chain {
		if p == realPath {
			return nil, &FleetCycleError{Chain: append(append([]string{}, chain...), realPath)}
		}
	}
	nextChain := append(append([]string{}, chain...), realPath)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &FleetLoadError{Path: path, ParentPath: parentPath, Err: err}
	}
	var raw RawRootConfig
	if err := decodeStrict(data, &raw); err != nil {
		return nil, &FleetLoadError{Path: path, ParentPath: parentPath, Err: err}
	}
	if err := ExpandEnv(&raw, l.lookup); err != nil {
		l.collect(err)
	}

	localDefaults := RawAgentDefaults{}
	if raw.Defaults != nil {
		localDefaults = *raw.Defaults
	}
	mergedDefaults := localDefaults
	if err := mergo.Merge(&mergedDefaults, inherited); err != nil {
		l.errs = append(l.errs, fmt.Errorf("fleet %q: merging defaults: %w", path, err))
	}

	dir := filepath.Dir(path)
	var agents []*Agent

	for _, ref := range raw.Agents {
		agentPath := filepath.Join(dir, ref.Path)
		agent, err := l.loadAgent(agentPath, path, fleetPath, mergedDefaults)
		if err != nil {
			l.collect(err)
			continue
		}
		agents = append(agents, agent)
	}

	seenFleetNames := map[string]string{} // name -> sub-fleet path
	for _, ref := range raw.Fleets {
		subPath := filepath.Join(dir, ref.Path)
		name, err := l.subFleetName(ref, subPath)
		if err != nil {
			l.errs = append(l.errs, &FleetLoadError{Path: subPath, ParentPath: path, Err: err})
			continue
		}
		if err := validateName("fleet", name, subPath); err != nil {
			l.errs = append(l.errs, err)
			continue
		}
		if prevPath, ok := seenFleetNames[name]; ok {
			l.errs = append(l.errs, &FleetNameCollisionError{Name: name, PathA: prevPath, PathB: subPath, Parent: path})
			continue
		}
		seenFleetNames[name] = subPath

		childFleetPath := append(append([]string{}, fleetPath...), name)
		subAgents, err := l.loadFleet(subPath, path, childFleetPath, mergedDefaults, nextChain)
		if err != nil {
			return nil, err // structural error: abort the whole load
		}
		agents = append(agents, subAgents...)
	}

	return agents, nil
}

// collect unwraps a *ConfigurationError into its constituent errors (so
// they flatten into one aggregate at the top), or appends err directly.
func (l *loader) collect(err error) {
	if err == nil {
		return
	}
	if cfgErr, ok := err.(*ConfigurationError); ok {
		l.errs = append(l.errs, cfgErr.Errors...)
		return
	}
	l.errs = append(l.errs, err)
}

// subFleetName resolves the name a sub-fleet reference contributes to its
// parent's qualified-name prefix: the reference's own override if present,
// else the sub-fleet file's own `fleet.name`, else its containing directory.
func (l *loader) subFleetName(ref FleetRef, subPath string) (string, error) {
	if ref.Name != "" {
		return ref.Name, nil
	}
	data, err := os.ReadFile(subPath)
	if err != nil {
		return "", err
	}
	var raw RawRootConfig
	if err := decodeStrict(data, &raw); err != nil {
		return "", err
	}
	if raw.Fleet != nil && raw.Fleet.Name != "" {
		return raw.Fleet.Name, nil
	}
	return filepath.Base(filepath.Dir(subPath)), nil
}

func (l *loader) loadAgent(path, parentPath string, fleetPath []string, defaults RawAgentDefaults) (*Agent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &FleetLoadError{Path: path, ParentPath: parentPath, Err: err}
	}
	var raw RawAgentConfig
	if err := decodeStrict(data, &raw); err != nil {
		return nil, &FleetLoadError{Path: path, ParentPath: parentPath, Err: err}
	}

	var errs []error
	if err := ExpandEnv(&raw, l.lookup); err != nil {
		if cfgErr, ok := err.(*ConfigurationError); ok {
			errs = append(errs, cfgErr.Errors...)
		} else {
			errs = append(errs, err)
		}
	}
	if err := validateName("agent", raw.Name, path); err != nil {
		errs = append(errs, err)
	}

	qualifiedName := raw.Name
	if len(fleetPath) > 0 {
		qualifiedName = strings.Join(fleetPath, ".") + "." + raw.Name
	}

	merged := RawAgentDefaults{
		SystemPrompt:  raw.SystemPrompt,
		Permissions:   raw.Permissions,
		Runtime:       raw.Runtime,
		Model:         raw.Model,
		MaxTurns:      raw.MaxTurns,
		Docker:        raw.Docker,
		Session:       raw.Session,
		MaxConcurrent: raw.MaxConcurrent,
	}
	if err := mergo.Merge(&merged, defaults); err != nil {
		errs = append(errs, fmt.Errorf("agent %q: merging defaults: %w", qualifiedName, err))
	}

	agent := &Agent{
		LocalName:     raw.Name,
		FleetPath:     append([]string{}, fleetPath...),
		QualifiedName: qualifiedName,
		Description:   raw.Description,
		SystemPrompt:  merged.SystemPrompt,
		Runtime:       resolveRuntime(merged.Runtime),
		Model:         merged.Model,
		MaxTurns:      resolveMaxTurns(merged.MaxTurns),
		MaxConcurrent: resolveMaxConcurrent(merged.MaxConcurrent),
		Permissions:   resolvePermissions(merged.Permissions),
		Schedules:     map[string]*Schedule{},
	}

	if !validPermissionModes[agent.Permissions.Mode] {
		errs = append(errs, NewValidationError("agent", qualifiedName, "permissions.mode", fmt.Errorf("unknown mode %q", agent.Permissions.Mode)))
	}
	if !validRuntimeKinds[agent.Runtime] {
		errs = append(errs, NewValidationError("agent", qualifiedName, "runtime", fmt.Errorf("unknown runtime %q", agent.Runtime)))
	}

	if merged.Docker != nil {
		agent.Docker = &DockerConfig{Image: merged.Docker.Image, Env: merged.Docker.Env}
	}
	if merged.Session != nil {
		deadline, err := parseSessionDeadline(merged.Session.Deadline)
		if err != nil {
			errs = append(errs, NewValidationError("agent", qualifiedName, "session.deadline", err))
		}
		agent.Session = SessionPolicy{Reuse: merged.Session.Reuse, Deadline: deadline}
	}

	for name, rawSched := range raw.Schedules {
		sched, err := resolveSchedule(name, rawSched, qualifiedName)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		agent.Schedules[name] = sched
	}

	return agent, NewConfigurationError(errs)
}

func resolveConfigPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrConfigNotFound
		}
		return "", err
	}
	if info.IsDir() {
		abs = filepath.Join(abs, defaultConfigFileName)
		if _, err := os.Stat(abs); err != nil {
			if os.IsNotExist(err) {
				return "", ErrConfigNotFound
			}
			return "", err
		}
	}
	return abs, nil
}

func decodeStrict(data []byte, v interface{}) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(v)
}

func resolveRuntime(k RuntimeKind) RuntimeKind {
	if k == "" {
		return RuntimeSDK
	}
	return k
}

func resolveMaxTurns(p *int) int {
	if p == nil {
		return 0 // unlimited
	}
	return *p
}

func resolveMaxConcurrent(p *int) int {
	if p == nil || *p <= 0 {
		return 1
	}
	return *p
}

func resolvePermissions(p *RawPermissions) Permissions {
	if p == nil {
		return Permissions{Mode: PermissionDefault}
	}
	mode := p.Mode
	if mode == "" {
		mode = PermissionDefault
	}
	return Permissions{Mode: mode, AllowTools: p.AllowTools, DenyTools: p.DenyTools}
}

func parseSessionDeadline(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

func resolveSchedule(name string, raw RawSchedule, agentQualifiedName string) (*Schedule, error) {
	sched := &Schedule{Name: name, Type: raw.Type, Prompt: raw.Prompt}
	switch raw.Type {
	case ScheduleInterval:
		d, err := parseInterval(raw.Interval)
		if err != nil {
			return nil, &IntervalParseError{AgentName: agentQualifiedName, ScheduleName: name, Raw: raw.Interval, Err: err}
		}
		sched.Interval = d
	case ScheduleCron:
		if err := validateCronExpression(raw.Expression); err != nil {
			return nil, &CronParseError{AgentName: agentQualifiedName, ScheduleName: name, Raw: raw.Expression, Err: err}
		}
		sched.Expression = raw.Expression
	case ScheduleWebhook, ScheduleChat:
		// no time-based fields to validate
	default:
		return nil, NewValidationError("schedule", agentQualifiedName+"."+name, "type", fmt.Errorf("unknown schedule type %q", raw.Type))
	}
	return sched, nil
}
