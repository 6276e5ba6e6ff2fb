package config

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors used for internal comparisons with errors.Is.
var (
	// ErrConfigNotFound indicates the root configuration file or directory was not found.
	ErrConfigNotFound = errors.New("configuration file not found")

	// ErrInvalidYAML indicates YAML parsing failed.
	ErrInvalidYAML = errors.New("invalid YAML syntax")
)

// FleetLoadError wraps a file-read or parse error encountered while loading
// a fleet file, carrying the path of the parent that referenced it.
type FleetLoadError struct {
	Path       string // the fleet file that failed to load
	ParentPath string // the file that referenced Path (empty for the root)
	Err        error
}

func (e *FleetLoadError) Error() string {
	if e.ParentPath == "" {
		return fmt.Sprintf("failed to load fleet %q: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("failed to load fleet %q (referenced from %q): %v", e.Path, e.ParentPath, e.Err)
}

func (e *FleetLoadError) Unwrap() error { return e.Err }

// FleetCycleError indicates a sub-fleet reference graph contains a cycle.
// Chain holds the ordered, realpath'd chain of fleet paths from the root
// down to the path that closed the cycle.
type FleetCycleError struct {
	Chain []string
}

func (e *FleetCycleError) Error() string {
	return fmt.Sprintf("fleet composition cycle detected: %s", strings.Join(e.Chain, " -> "))
}

// FleetNameCollisionError indicates two sub-fleet references under the same
// parent resolved to the same fleet name.
type FleetNameCollisionError struct {
	Name   string
	PathA  string
	PathB  string
	Parent string
}

func (e *FleetNameCollisionError) Error() string {
	return fmt.Sprintf("fleet name %q is used by both %q and %q under %q",
		e.Name, e.PathA, e.PathB, e.Parent)
}

// InvalidFleetNameError indicates a fleet or agent local name does not match
// the required `^[A-Za-z0-9][A-Za-z0-9_-]*$` pattern.
type InvalidFleetNameError struct {
	Kind string // "agent" or "fleet"
	Name string
	Path string
}

func (e *InvalidFleetNameError) Error() string {
	return fmt.Sprintf("invalid %s name %q in %q: must match ^[A-Za-z0-9][A-Za-z0-9_-]*$", e.Kind, e.Name, e.Path)
}

// UndefinedVariableError indicates ${VAR} interpolation referenced a variable
// with no value and no default, at the given dotted config path.
type UndefinedVariableError struct {
	VariableName string
	Path         string
}

func (e *UndefinedVariableError) Error() string {
	return fmt.Sprintf("undefined environment variable %q referenced at %q", e.VariableName, e.Path)
}

// IntervalParseError indicates a schedule's `interval` string did not match
// the accepted `\d+(ms|s|m|h|d)` grammar.
type IntervalParseError struct {
	AgentName    string
	ScheduleName string
	Raw          string
	Err          error
}

func (e *IntervalParseError) Error() string {
	return fmt.Sprintf("agent %q schedule %q: invalid interval %q: %v", e.AgentName, e.ScheduleName, e.Raw, e.Err)
}

func (e *IntervalParseError) Unwrap() error { return e.Err }

// CronParseError indicates a schedule's `expression` string is not a valid
// cron expression.
type CronParseError struct {
	AgentName    string
	ScheduleName string
	Raw          string
	Err          error
}

func (e *CronParseError) Error() string {
	return fmt.Sprintf("agent %q schedule %q: invalid cron expression %q: %v", e.AgentName, e.ScheduleName, e.Raw, e.Err)
}

func (e *CronParseError) Unwrap() error { return e.Err }

// AgentNotFoundError indicates a lookup name matched no agent, by qualified
// or local name.
type AgentNotFoundError struct {
	Name string
}

func (e *AgentNotFoundError) Error() string {
	return fmt.Sprintf("no agent matches %q", e.Name)
}

// AmbiguousAgentNameError indicates a bare local name matched agents in more
// than one fleet; the caller must use a qualified name instead.
type AmbiguousAgentNameError struct {
	Name       string
	Candidates []string // qualified names of the matching agents
}

func (e *AmbiguousAgentNameError) Error() string {
	return fmt.Sprintf("agent name %q is ambiguous, matches: %s", e.Name, strings.Join(e.Candidates, ", "))
}

// ValidationError wraps a single configuration validation failure with
// structured context: which component, which field, and why.
type ValidationError struct {
	Component string // e.g. "agent", "schedule", "fleet"
	ID        string // qualified name or path of the offending component
	Field     string // dotted field name, optional
	Err       error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s %q: field %q: %v", e.Component, e.ID, e.Field, e.Err)
	}
	return fmt.Sprintf("%s %q: %v", e.Component, e.ID, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func NewValidationError(component, id, field string, err error) *ValidationError {
	return &ValidationError{Component: component, ID: id, Field: field, Err: err}
}

// ConfigurationError aggregates zero-or-more field-level validation errors
// encountered while resolving a fleet configuration. Load returns it for
// every collected per-agent, per-schedule and per-fleet-reference problem;
// structural failures (*FleetLoadError, *FleetCycleError) are returned on
// their own, unwrapped. errors.As against a ConfigurationError reaches each
// entry of the Errors slice.
type ConfigurationError struct {
	Errors []error
}

func (e *ConfigurationError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	parts := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		parts[i] = err.Error()
	}
	return fmt.Sprintf("%d configuration errors: %s", len(e.Errors), strings.Join(parts, "; "))
}

func (e *ConfigurationError) Unwrap() []error { return e.Errors }

// NewConfigurationError wraps the given errors into a ConfigurationError.
// Returns nil if errs is empty.
func NewConfigurationError(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return &ConfigurationError{Errors: errs}
}
