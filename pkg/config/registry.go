package config

// AgentRegistry indexes a resolved fleet's agents for name-based lookup, the
// way the supervisor and CLI need to resolve a user-supplied agent name that
// may be qualified ("ops.watcher") or bare ("watcher").
type AgentRegistry struct {
	byQualified map[string]*Agent
	byLocal     map[string][]*Agent
}

// NewAgentRegistry indexes agents by both their qualified and local names.
func NewAgentRegistry(agents []*Agent) *AgentRegistry {
	r := &AgentRegistry{
		byQualified: make(map[string]*Agent, len(agents)),
		byLocal:     make(map[string][]*Agent, len(agents)),
	}
	for _, a := range agents {
		r.byQualified[a.QualifiedName] = a
		r.byLocal[a.LocalName] = append(r.byLocal[a.LocalName], a)
	}
	return r
}

// Lookup resolves name against qualified names first, then falls back to a
// bare local name match — succeeding only when exactly one agent carries
// that local name across the whole fleet tree.
func (r *AgentRegistry) Lookup(name string) (*Agent, error) {
	if a, ok := r.byQualified[name]; ok {
		return a, nil
	}
	candidates := r.byLocal[name]
	switch len(candidates) {
	case 0:
		return nil, &AgentNotFoundError{Name: name}
	case 1:
		return candidates[0], nil
	default:
		names := make([]string, len(candidates))
		for i, a := range candidates {
			names[i] = a.QualifiedName
		}
		return nil, &AmbiguousAgentNameError{Name: name, Candidates: names}
	}
}

// All returns every registered agent in no particular order.
func (r *AgentRegistry) All() []*Agent {
	out := make([]*Agent, 0, len(r.byQualified))
	for _, a := range r.byQualified {
		out = append(out, a)
	}
	return out
}
