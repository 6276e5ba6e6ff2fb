package state

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// NewJobID generates a "job-YYYY-MM-DD-xxxxxx" identifier: today's date
// plus a 6-character lowercase alphanumeric suffix derived from a fresh
// UUID, so IDs sort by date (not by time within a day) and collisions are
// practically impossible without a central counter.
func NewJobID(now time.Time) string {
	suffix := strings.ToLower(strings.ReplaceAll(uuid.NewString(), "-", ""))
	if len(suffix) < 6 {
		suffix = suffix + strings.Repeat("0", 6-len(suffix))
	}
	suffix = suffix[:6]
	return fmt.Sprintf("job-%s-%s", now.Format("2006-01-02"), suffix)
}

// WriteJob atomically persists a job's metadata.
func (s *Store) WriteJob(job *Job) error {
	data, err := yaml.Marshal(job)
	if err != nil {
		return fmt.Errorf("state: marshaling job %s: %w", job.ID, err)
	}
	return writeFileAtomic(s.jobPath(job.ID), data)
}

// ReadJob loads one job's metadata.
func (s *Store) ReadJob(id string) (*Job, error) {
	data, err := os.ReadFile(s.jobPath(id))
	if os.IsNotExist(err) {
		return nil, &JobNotFoundError{JobID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("state: reading job %s: %w", id, err)
	}
	var job Job
	if err := yaml.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("state: job %s metadata is corrupt: %w", id, err)
	}
	return &job, nil
}

// ListJobs returns jobs matching filter, newest first, paginated by
// filter.Offset/filter.Limit, along with the total count matching filter
// before pagination and the number of job files skipped as unreadable.
func (s *Store) ListJobs(filter JobFilter) (*JobsPage, error) {
	entries, err := os.ReadDir(s.jobsDir())
	if err != nil {
		return nil, fmt.Errorf("state: listing jobs: %w", err)
	}

	var jobs []*Job
	var unreadable int
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".yaml")
		job, err := s.ReadJob(id)
		if err != nil {
			unreadable++ // corrupt job file: skip rather than fail the whole listing
			continue
		}
		if filter.AgentName != "" && job.AgentName != filter.AgentName {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if !filter.StartedAfter.IsZero() && job.CreatedAt.Before(filter.StartedAfter) {
			continue
		}
		if !filter.StartedBefore.IsZero() && !job.CreatedAt.Before(filter.StartedBefore) {
			continue
		}
		jobs = append(jobs, job)
	}

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })

	page := &JobsPage{Total: len(jobs), Unreadable: unreadable}

	if filter.Offset > 0 {
		if filter.Offset >= len(jobs) {
			jobs = nil
		} else {
			jobs = jobs[filter.Offset:]
		}
	}
	if filter.Limit > 0 && len(jobs) > filter.Limit {
		jobs = jobs[:filter.Limit]
	}
	page.Jobs = jobs
	return page, nil
}

// DeleteJob removes a job's metadata and transcript.
func (s *Store) DeleteJob(id string) error {
	if err := os.Remove(s.jobPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("state: deleting job %s metadata: %w", id, err)
	}
	if err := os.Remove(s.transcriptPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("state: deleting job %s transcript: %w", id, err)
	}
	return nil
}

// AppendJobOutput appends one JSON line to a job's transcript file,
// creating it if necessary. Each call opens and closes the file, so no
// handle is held between appends. The line and its newline are separate
// writes; a crash between them leaves an unterminated trailing line, which
// readLinesFrom leaves unconsumed.
func (s *Store) AppendJobOutput(id string, line []byte) error {
	f, err := os.OpenFile(s.transcriptPath(id), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("state: opening transcript for job %s: %w", id, err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return err
	}
	if !strings.HasSuffix(string(line), "\n") {
		if _, err := f.Write([]byte("\n")); err != nil {
			return err
		}
	}
	return nil
}

// TranscriptPath exposes the transcript file path for a job, for tailing.
func (s *Store) TranscriptPath(id string) string {
	return s.transcriptPath(id)
}
