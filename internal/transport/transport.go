// Package transport defines the mail transport used by the dispatcher and the
// decorators shared by every implementation.
package transport

import "context"

// Message is a single outbound email.
type Message struct {
	To       string
	ToName   string
	Subject  string
	Body     string
	FromName string
	// Reference is an opaque id echoed in headers, usually the queue entry id.
	Reference string
}

// Receipt is returned on successful delivery to the transport.
type Receipt struct {
	MessageID string
}

// Transport sends email.
//
// Errors implementing IsRetryable() bool control retry behavior. Errors
// without that method are treated as retryable.
type Transport interface {
	Send(ctx context.Context, msg Message) (Receipt, error)
}
