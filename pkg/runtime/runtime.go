// Package runtime defines the pluggable contract a Runtime implementation
// satisfies to actually drive an agent turn — an SDK-backed in-process
// runner, a CLI subprocess, or a container-backed one. The job executor
// only ever talks to this interface.
package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/herdctl/herdctl/pkg/config"
)

// ErrMaxTurns is the terminal error a Stream's Next returns when the
// runtime stopped itself after reaching Request.MaxTurns, rather than
// completing on its own or failing. The executor checks for it with
// errors.Is to set exit_reason=max_turns instead of exit_reason=error.
var ErrMaxTurns = errors.New("runtime: max turns reached")

// MessageType classifies one entry in a runtime's output stream.
type MessageType string

const (
	MessageSystem       MessageType = "system"
	MessageAssistant    MessageType = "assistant"
	MessageToolUse      MessageType = "tool_use"
	MessageToolResult   MessageType = "tool_result"
	MessageError        MessageType = "error"
)

// Message is one unit of a runtime's output stream, persisted verbatim to
// a job's transcript and fanned out as a job:output event.
type Message struct {
	Type MessageType `json:"type"`
	Time time.Time   `json:"time"`

	Content    string `json:"content,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
	ToolInput  any    `json:"tool_input,omitempty"`
	ToolResult any    `json:"tool_result,omitempty"`
	Err        string `json:"error,omitempty"`
}

// Request describes one agent turn for a Runtime to execute.
type Request struct {
	AgentName   string
	Prompt      string
	Model       string
	MaxTurns    int
	Permissions config.Permissions
	Docker      *config.DockerConfig

	// SessionID, when non-empty, asks the runtime to resume a prior
	// session rather than starting fresh (config.SessionPolicy.Reuse).
	SessionID string
	WorkDir   string
}

// Stream is a lazy, finite sequence of Messages. Next blocks until the next
// message is available, the stream is exhausted (ok == false, err == nil),
// the runtime hit Request.MaxTurns (ok == false, err == ErrMaxTurns), or the
// context passed to Run is cancelled (err == ctx.Err()).
type Stream interface {
	Next(ctx context.Context) (msg Message, ok bool, err error)
}

// Runtime executes one agent turn and streams its messages back. Run
// itself should return quickly (after any setup needed to begin producing
// messages); the bulk of the work happens as the caller drains the
// returned Stream. Cancelling ctx must cause the Stream to stop producing
// further messages and Run's side effects (subprocess, container) to be
// torn down.
type Runtime interface {
	Run(ctx context.Context, req Request) (Stream, error)
}
