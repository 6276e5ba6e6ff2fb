package state

import "fmt"

// JobNotFoundError indicates no job metadata file exists for the given ID.
type JobNotFoundError struct {
	JobID string
}

func (e *JobNotFoundError) Error() string {
	return fmt.Sprintf("state: job %q not found", e.JobID)
}
