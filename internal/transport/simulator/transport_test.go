package simulator

import (
	"strings"
	"testing"

	"github.com/bissquit/outreach-queue/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransport_Send(t *testing.T) {
	tr := New()

	r1, err := tr.Send(t.Context(), transport.Message{To: "a@example.com", Subject: "one"})
	require.NoError(t, err)
	r2, err := tr.Send(t.Context(), transport.Message{To: "b@example.com", Subject: "two"})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(r1.MessageID, "sim-"))
	assert.NotEqual(t, r1.MessageID, r2.MessageID)

	sent := tr.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "one", sent[0].Subject)
	assert.Equal(t, "b@example.com", sent[1].To)
}
