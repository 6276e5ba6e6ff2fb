package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentRegistryLookupByQualifiedName(t *testing.T) {
	a := &Agent{LocalName: "watcher", QualifiedName: "ops.watcher"}
	r := NewAgentRegistry([]*Agent{a})

	got, err := r.Lookup("ops.watcher")
	require.NoError(t, err)
	assert.Same(t, a, got)
}

func TestAgentRegistryLookupByUnambiguousLocalName(t *testing.T) {
	a := &Agent{LocalName: "watcher", QualifiedName: "ops.watcher"}
	r := NewAgentRegistry([]*Agent{a})

	got, err := r.Lookup("watcher")
	require.NoError(t, err)
	assert.Same(t, a, got)
}

func TestAgentRegistryLookupAmbiguousLocalName(t *testing.T) {
	a := &Agent{LocalName: "watcher", QualifiedName: "ops.watcher"}
	b := &Agent{LocalName: "watcher", QualifiedName: "infra.watcher"}
	r := NewAgentRegistry([]*Agent{a, b})

	_, err := r.Lookup("watcher")
	require.Error(t, err)

	var ambiguous *AmbiguousAgentNameError
	require.True(t, errors.As(err, &ambiguous))
	assert.ElementsMatch(t, []string{"ops.watcher", "infra.watcher"}, ambiguous.Candidates)
}

func TestAgentRegistryLookupNotFound(t *testing.T) {
	r := NewAgentRegistry(nil)
	_, err := r.Lookup("ghost")
	require.Error(t, err)

	var notFound *AgentNotFoundError
	require.True(t, errors.As(err, &notFound))
}
