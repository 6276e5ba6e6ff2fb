package state

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// tailPollInterval is the periodic fallback poll, covering filesystems
// (network mounts, some container overlays) where fsnotify doesn't
// reliably deliver write events.
const tailPollInterval = 500 * time.Millisecond

// TailJobOutput streams newly-appended lines of a job's transcript to
// emit, starting at byte offset fromOffset, until ctx is cancelled or emit
// returns an error. A trailing line with no terminating newline (the
// writer is mid-append) is left unconsumed and picked up on the next read.
func (s *Store) TailJobOutput(ctx context.Context, id string, fromOffset int64, emit func(line []byte) error) error {
	path := s.transcriptPath(id)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	_ = watcher.Add(filepath.Dir(path)) // best-effort; poll ticker covers failures too

	offset := fromOffset
	ticker := time.NewTicker(tailPollInterval)
	defer ticker.Stop()

	drain := func() error {
		next, err := readLinesFrom(path, offset, emit)
		if err != nil {
			return err
		}
		offset = next
		return nil
	}

	if err := drain(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				continue
			}
			if ev.Name == path && (ev.Op&(fsnotify.Write|fsnotify.Create) != 0) {
				if err := drain(); err != nil {
					return err
				}
			}
		case <-ticker.C:
			if err := drain(); err != nil {
				return err
			}
		}
	}
}

// readLinesFrom reads path from offset to EOF, emitting each complete
// ('\n'-terminated) line, and returns the offset immediately after the
// last complete line consumed. A missing file is treated as empty (the
// transcript may not exist yet when tailing starts before the job runs).
func readLinesFrom(path string, offset int64, emit func(line []byte) error) (int64, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return offset, nil
	}
	if err != nil {
		return offset, err
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return offset, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return offset, err
	}

	consumed := int64(0)
	for {
		idx := bytes.IndexByte(data[consumed:], '\n')
		if idx < 0 {
			break
		}
		line := data[consumed : consumed+int64(idx)]
		if err := emit(line); err != nil {
			return offset + consumed, err
		}
		consumed += int64(idx) + 1
	}
	return offset + consumed, nil
}
