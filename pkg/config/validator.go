package config

import "regexp"

// namePattern is the accepted shape for both agent and fleet local names.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// validateName checks a local agent or fleet name against namePattern,
// returning an *InvalidFleetNameError naming the offending file on failure.
func validateName(kind, name, path string) error {
	if !namePattern.MatchString(name) {
		return &InvalidFleetNameError{Kind: kind, Name: name, Path: path}
	}
	return nil
}

// validPermissionModes lists the permission modes an agent may declare.
var validPermissionModes = map[PermissionMode]bool{
	PermissionDefault:           true,
	PermissionAcceptEdits:       true,
	PermissionBypassPermissions: true,
	PermissionPlan:              true,
	"":                          true, // resolved later to PermissionDefault
}

var validRuntimeKinds = map[RuntimeKind]bool{
	RuntimeSDK: true,
	RuntimeCLI: true,
	"":         true, // resolved later to RuntimeSDK
}
