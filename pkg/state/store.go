package state

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const (
	stateFileName = "state.yaml"
	lockFileName  = ".herdctl.lock"
	jobsDirName   = "jobs"
	sessionsDirName = "sessions"
	logsDirName   = "logs"
)

// Store is the file-backed state store rooted at one state directory.
// A single Store instance must own a given directory — Open takes an
// exclusive file lock so a second herdctl process pointed at the same
// directory fails fast instead of corrupting state.
type Store struct {
	dir  string
	lock *flock.Flock

	mu sync.Mutex // serializes read-modify-write of state.yaml
}

// Open creates the state directory layout if needed and acquires the
// single-writer lock. Callers must call Close when done.
func Open(dir string) (*Store, error) {
	for _, sub := range []string{"", jobsDirName, sessionsDirName, logsDirName} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("state: creating %s: %w", sub, err)
		}
	}

	lock := flock.New(filepath.Join(dir, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("state: acquiring lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("state: directory %s is locked by another herdctl process", dir)
	}

	return &Store{dir: dir, lock: lock}, nil
}

// Close releases the single-writer lock.
func (s *Store) Close() error {
	return s.lock.Unlock()
}

// Dir returns the state directory root.
func (s *Store) Dir() string { return s.dir }

func (s *Store) statePath() string   { return filepath.Join(s.dir, stateFileName) }
func (s *Store) jobsDir() string     { return filepath.Join(s.dir, jobsDirName) }
func (s *Store) jobPath(id string) string { return filepath.Join(s.jobsDir(), id+".yaml") }
func (s *Store) transcriptPath(id string) string { return filepath.Join(s.jobsDir(), id+".jsonl") }

// ReadFleetState loads state.yaml. A missing file returns a fresh empty
// state (first run). A corrupt file is logged and treated the same way,
// rather than failing startup outright — the state directory is a cache of
// recoverable facts, not a source of truth a corrupt copy should block on.
func (s *Store) ReadFleetState() (*FleetState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readFleetStateLocked()
}

func (s *Store) readFleetStateLocked() (*FleetState, error) {
	data, err := os.ReadFile(s.statePath())
	if os.IsNotExist(err) {
		return newFleetState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: reading %s: %w", s.statePath(), err)
	}
	fs := newFleetState()
	if err := yaml.Unmarshal(data, fs); err != nil {
		slog.Warn("state: state.yaml is corrupt, starting from empty state", "path", s.statePath(), "error", err)
		return newFleetState(), nil
	}
	if fs.Agents == nil {
		fs.Agents = make(map[string]*AgentState)
	}
	return fs, nil
}

// WriteFleetState atomically overwrites state.yaml.
func (s *Store) WriteFleetState(fs *FleetState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeFleetStateLocked(fs)
}

func (s *Store) writeFleetStateLocked(fs *FleetState) error {
	data, err := yaml.Marshal(fs)
	if err != nil {
		return fmt.Errorf("state: marshaling state: %w", err)
	}
	return writeFileAtomic(s.statePath(), data)
}

// UpdateAgentState applies fn to the named agent's state (creating it if
// absent) and persists the result, under the store's write lock.
func (s *Store) UpdateAgentState(agentName string, fn func(*AgentState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fs, err := s.readFleetStateLocked()
	if err != nil {
		return err
	}
	a, ok := fs.Agents[agentName]
	if !ok {
		a = &AgentState{Name: agentName, Schedules: make(map[string]*ScheduleState)}
		fs.Agents[agentName] = a
	}
	fn(a)
	fs.UpdatedAt = time.Now()
	return s.writeFleetStateLocked(fs)
}

// RemoveAgentState deletes an agent's entry, e.g. after it's removed from
// config on reload.
func (s *Store) RemoveAgentState(agentName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fs, err := s.readFleetStateLocked()
	if err != nil {
		return err
	}
	delete(fs.Agents, agentName)
	fs.UpdatedAt = time.Now()
	return s.writeFleetStateLocked(fs)
}

// writeFileAtomic writes data to a temp file in dir's own directory, then
// renames it over path — rename is atomic on the same filesystem, so
// readers never observe a partially-written file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-"+uuid.NewString())
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
