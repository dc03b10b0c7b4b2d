//go:build integration

package integration

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/bissquit/outreach-queue/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// createOwner inserts an owner read model row. A zero limit means the
// configured default applies.
func createOwner(t *testing.T, displayName string, dailyLimit int) string {
	t.Helper()

	var id string
	err := testDB.QueryRow(context.Background(),
		`INSERT INTO owners (display_name, daily_limit) VALUES ($1, $2) RETURNING id`,
		displayName, dailyLimit,
	).Scan(&id)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx := context.Background()
		_, _ = testDB.Exec(ctx, `DELETE FROM email_queue WHERE owner_id = $1`, id)
		_, _ = testDB.Exec(ctx, `DELETE FROM daily_send_limits WHERE owner_id = $1`, id)
		_, _ = testDB.Exec(ctx, `DELETE FROM email_deliveries WHERE owner_id = $1`, id)
		_, _ = testDB.Exec(ctx, `DELETE FROM analytics_events WHERE owner_id = $1`, id)
		_, _ = testDB.Exec(ctx, `DELETE FROM owners WHERE id = $1`, id)
	})
	return id
}

// createLead inserts a lead owned by ownerID. An empty email stores NULL.
func createLead(t *testing.T, ownerID, email, contactName string) string {
	t.Helper()

	var address *string
	if email != "" {
		address = &email
	}

	var id string
	err := testDB.QueryRow(context.Background(),
		`INSERT INTO leads (owner_id, email, contact_name, company) VALUES ($1, $2, $3, 'Acme') RETURNING id`,
		ownerID, address, contactName,
	).Scan(&id)
	require.NoError(t, err)
	return id
}

// uniqueAddress returns a recipient address that no other test uses.
func uniqueAddress(prefix string) string {
	return fmt.Sprintf("%s-%s@example.com", prefix, uuid.NewString()[:8])
}

// enqueueEmail queues an email through the API and returns the entry id.
func enqueueEmail(t *testing.T, client *testutil.Client, ownerID, leadID string, priority int) string {
	t.Helper()

	resp, err := client.POST(testutil.OwnerPath(ownerID, "/queue"), map[string]interface{}{
		"target_id": leadID,
		"subject":   "Quick question",
		"body":      "Hi, do you have a minute this week?",
		"category":  "introduction",
		"priority":  priority,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var result struct {
		Data struct {
			QueueID string `json:"queue_id"`
		} `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	require.NotEmpty(t, result.Data.QueueID)
	return result.Data.QueueID
}

type outcome struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Attempts  int    `json:"attempts"`
	MessageID string `json:"message_id"`
	Error     string `json:"error"`
}

// dispatchBatch triggers one batch for ownerID.
func dispatchBatch(t *testing.T, client *testutil.Client, ownerID string) []outcome {
	t.Helper()

	resp, err := client.POST(testutil.OwnerPath(ownerID, "/dispatch"), nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data struct {
			Outcomes []outcome `json:"outcomes"`
		} `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	return result.Data.Outcomes
}

type quotaStatus struct {
	Sent      int  `json:"sent"`
	Remaining int  `json:"remaining"`
	Limit     int  `json:"limit"`
	CanSend   bool `json:"can_send"`
}

func getQuota(t *testing.T, client *testutil.Client, ownerID string) quotaStatus {
	t.Helper()

	resp, err := client.GET(testutil.OwnerPath(ownerID, "/quota"))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data quotaStatus `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	return result.Data
}
