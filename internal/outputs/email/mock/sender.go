package mock

import (
	"context"
	"sync"

	"github.com/bakkerme/filepoll/internal/outputs/email"
)

type Sender struct {
	mu       sync.Mutex
	Messages []email.Message
	Err      error
}

func (s *Sender) Send(ctx context.Context, message email.Message) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.Messages = append(s.Messages, message)
	return nil
}

// Sent returns a copy of the delivered messages.
func (s *Sender) Sent() []email.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]email.Message, len(s.Messages))
	copy(out, s.Messages)
	return out
}
