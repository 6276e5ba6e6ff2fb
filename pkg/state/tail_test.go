package state

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTailJobOutputStreamsAppendedLines(t *testing.T) {
	s := newTestStore(t)
	id := NewJobID(time.Now())
	require.NoError(t, s.AppendJobOutput(id, []byte(`{"seq":1}`)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lines := make(chan []byte, 8)
	go func() {
		_ = s.TailJobOutput(ctx, id, 0, func(line []byte) error {
			lines <- append([]byte{}, line...)
			return nil
		})
	}()

	select {
	case l := <-lines:
		assert.Contains(t, string(l), `"seq":1`)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for initial line")
	}

	require.NoError(t, s.AppendJobOutput(id, []byte(`{"seq":2}`)))

	select {
	case l := <-lines:
		assert.Contains(t, string(l), `"seq":2`)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for appended line")
	}
}

func TestReadLinesFromToleratesPartialTrailingLine(t *testing.T) {
	s := newTestStore(t)
	id := NewJobID(time.Now())
	require.NoError(t, s.AppendJobOutput(id, []byte(`{"seq":1}`)))

	// Append a partial line with no trailing newline, bypassing
	// AppendJobOutput's auto-newline so we can exercise the tolerant case.
	f, err := os.OpenFile(s.TranscriptPath(id), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"seq":2`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	var lines [][]byte
	next, err := readLinesFrom(s.TranscriptPath(id), 0, func(line []byte) error {
		lines = append(lines, append([]byte{}, line...))
		return nil
	})
	require.NoError(t, err)
	require.Len(t, lines, 1, "the incomplete second line must not be emitted yet")
	assert.Contains(t, string(lines[0]), `"seq":1`)

	require.NoError(t, s.AppendJobOutput(id, []byte(`}`)))
	_, err = readLinesFrom(s.TranscriptPath(id), next, func(line []byte) error {
		lines = append(lines, append([]byte{}, line...))
		return nil
	})
	require.NoError(t, err)
}
