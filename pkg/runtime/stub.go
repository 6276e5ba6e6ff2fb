package runtime

import "context"

// Stub is a canned Runtime for tests: it replays Messages in order,
// ignoring Request, and fails with Err if set (after emitting Messages, or
// immediately if Messages is empty). MaxTurnsReached, if set, reports
// ErrMaxTurns instead once Messages is exhausted, taking precedence over Err.
type Stub struct {
	Messages        []Message
	Err             error
	MaxTurnsReached bool
}

// Run returns a stream that replays s.Messages.
func (s *Stub) Run(ctx context.Context, req Request) (Stream, error) {
	err := s.Err
	if s.MaxTurnsReached {
		err = ErrMaxTurns
	}
	return &stubStream{messages: s.Messages, err: err}, nil
}

type stubStream struct {
	messages []Message
	i        int
	err      error
}

func (s *stubStream) Next(ctx context.Context) (Message, bool, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, false, err
	}
	if s.i >= len(s.messages) {
		return Message{}, false, s.err
	}
	m := s.messages[s.i]
	s.i++
	return m, true, nil
}
