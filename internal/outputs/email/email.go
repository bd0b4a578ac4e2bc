package email

import "context"

// Message is a rendered notification ready for delivery. Body is HTML; Text,
// when set, is sent as the plain-text alternative.
type Message struct {
	From    string
	To      string
	Subject string
	Body    string
	Text    string
	Headers map[string]string
}

type Sender interface {
	Send(ctx context.Context, message Message) error
}
