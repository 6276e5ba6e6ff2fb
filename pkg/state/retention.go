package state

import "sort"

// RetentionPolicy bounds how many terminal jobs the store keeps.
// MaxPerAgent applies first (default 100; 0 disables the per-agent bound),
// then MaxTotal across the whole fleet (0 disables it). Only terminal jobs
// (JobStatus.Terminal) are ever deleted — pending/running jobs are never
// touched by retention.
type RetentionPolicy struct {
	MaxPerAgent int
	MaxTotal    int
}

// DefaultRetentionPolicy is applied when a fleet sets no explicit policy.
var DefaultRetentionPolicy = RetentionPolicy{MaxPerAgent: 100}

// EnforceRetention deletes the oldest terminal jobs beyond policy's bounds
// and returns how many were removed.
func (s *Store) EnforceRetention(policy RetentionPolicy) (int, error) {
	page, err := s.ListJobs(JobFilter{})
	if err != nil {
		return 0, err
	}
	jobs := page.Jobs

	toDelete := map[string]*Job{}

	if policy.MaxPerAgent > 0 {
		byAgent := map[string][]*Job{}
		for _, j := range jobs {
			if j.Status.Terminal() {
				byAgent[j.AgentName] = append(byAgent[j.AgentName], j)
			}
		}
		for _, agentJobs := range byAgent {
			sort.Slice(agentJobs, func(i, j int) bool { return agentJobs[i].CreatedAt.After(agentJobs[j].CreatedAt) })
			for _, j := range agentJobs[min(policy.MaxPerAgent, len(agentJobs)):] {
				toDelete[j.ID] = j
			}
		}
	}

	if policy.MaxTotal > 0 {
		var terminal []*Job
		for _, j := range jobs {
			if j.Status.Terminal() && toDelete[j.ID] == nil {
				terminal = append(terminal, j)
			}
		}
		sort.Slice(terminal, func(i, j int) bool { return terminal[i].CreatedAt.After(terminal[j].CreatedAt) })
		for _, j := range terminal[min(policy.MaxTotal, len(terminal)):] {
			toDelete[j.ID] = j
		}
	}

	for id := range toDelete {
		if err := s.DeleteJob(id); err != nil {
			return len(toDelete), err
		}
	}
	return len(toDelete), nil
}
