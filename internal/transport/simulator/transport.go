// Package simulator provides a mail transport that accepts every message
// without delivering it.
package simulator

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bissquit/outreach-queue/internal/transport"
	"github.com/google/uuid"
)

// Transport records messages in memory and returns synthetic ids.
type Transport struct {
	mu   sync.Mutex
	sent []transport.Message
}

// New creates a new simulator transport.
func New() *Transport {
	slog.Warn("simulator transport configured, emails will not be delivered")
	return &Transport{}
}

// Send records the message.
func (t *Transport) Send(_ context.Context, msg transport.Message) (transport.Receipt, error) {
	t.mu.Lock()
	t.sent = append(t.sent, msg)
	t.mu.Unlock()

	id := "sim-" + uuid.NewString()
	slog.Info("simulated email send",
		"message_id", id,
		"reference", msg.Reference,
		"subject", msg.Subject,
	)
	return transport.Receipt{MessageID: id}, nil
}

// Sent returns a copy of every message accepted so far.
func (t *Transport) Sent() []transport.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]transport.Message, len(t.sent))
	copy(out, t.sent)
	return out
}
