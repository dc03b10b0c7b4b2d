//go:build integration

package integration

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/bissquit/outreach-queue/internal/quota"
	quotaredis "github.com/bissquit/outreach-queue/internal/quota/redis"
	"github.com/bissquit/outreach-queue/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuota_DefaultsAndOwnerLimit(t *testing.T) {
	client := newTestClient(t)

	withLimit := createOwner(t, "Dana Reyes", 3)
	status := getQuota(t, client, withLimit)
	assert.Equal(t, 3, status.Limit)
	assert.Equal(t, 3, status.Remaining)
	assert.True(t, status.CanSend)

	withoutLimit := createOwner(t, "Sam Ortiz", 0)
	assert.Equal(t, testDailyLimit, getQuota(t, client, withoutLimit).Limit, "configured default applies")
}

func TestQuota_EnqueueRejectedWhenExhausted(t *testing.T) {
	require.NoError(t, mailpitClient.DeleteAllMessages())

	client := newTestClient(t)
	owner := createOwner(t, "Dana Reyes", 1)
	lead := createLead(t, owner, uniqueAddress("quota"), "Jordan Lee")

	enqueueEmail(t, client, owner, lead, 0)
	outcomes := dispatchBatch(t, client, owner)
	require.Len(t, outcomes, 1)
	require.Equal(t, "sent", outcomes[0].Status)

	status := getQuota(t, client, owner)
	assert.Equal(t, 1, status.Sent)
	assert.False(t, status.CanSend)

	resp, err := client.POST(testutil.OwnerPath(owner, "/queue"), map[string]interface{}{
		"target_id": lead,
		"subject":   "Another one",
		"body":      "Body",
		"category":  "follow-up",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	var errResp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	testutil.DecodeJSON(t, resp, &errResp)
	assert.Equal(t, "QuotaExceeded", errResp.Error.Code)
}

func TestQuota_DispatchStopsAtLimit(t *testing.T) {
	require.NoError(t, mailpitClient.DeleteAllMessages())

	client := newTestClient(t)
	owner := createOwner(t, "Dana Reyes", 2)
	lead := createLead(t, owner, uniqueAddress("cap"), "Jordan Lee")

	// Both admissions pass the same check; the dispatcher enforces the cap.
	enqueueEmail(t, client, owner, lead, 0)
	enqueueEmail(t, client, owner, lead, 0)
	_, err := testDB.Exec(context.Background(), `
		INSERT INTO email_queue (owner_id, target_id, subject, body, category)
		VALUES ($1, $2, 'Extra', 'Body', 'introduction')`, owner, lead)
	require.NoError(t, err)

	outcomes := dispatchBatch(t, client, owner)
	assert.Len(t, outcomes, 2)
	assert.Equal(t, 2, getQuota(t, client, owner).Sent)
}

func TestRedisQuotaStore_ConcurrentIncrements(t *testing.T) {
	ctx := context.Background()

	redisClient, err := quotaredis.Connect(ctx, redisContainer.URL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = redisClient.Close() })

	store := quotaredis.NewStore(redisClient, quotaredis.Config{KeyPrefix: "itest:quota", TTL: time.Hour})
	owner := createOwner(t, "Dana Reyes", 50)
	day := time.Now().UTC().Truncate(24 * time.Hour)

	tracker := quota.NewTracker(store, staticLimit(50), quota.DefaultConfig())

	const senders = 20
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, tracker.RecordSend(ctx, owner, day))
		}()
	}
	wg.Wait()

	record, err := store.Get(ctx, owner, day)
	require.NoError(t, err)
	assert.Equal(t, senders, record.SentCount)
	assert.Equal(t, 50, record.Limit)
}

type staticLimit int

func (s staticLimit) DailyLimit(context.Context, string) (int, error) { return int(s), nil }
