package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestStore(t *testing.T, maxAttempts int) (*Store, *testClock, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	store := NewStore(db, maxAttempts)
	require.NoError(t, store.Migrate())

	clock := &testClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	store.now = clock.Now
	return store, clock, db
}

func TestEnqueueDeduplicatesByKey(t *testing.T) {
	store, _, db := newTestStore(t, 3)
	ctx := context.Background()

	require.NoError(t, store.Enqueue(ctx, "analysis", "a-1", map[string]interface{}{"assessment_id": "a-1"}))
	require.NoError(t, store.Enqueue(ctx, "analysis", "a-1", map[string]interface{}{"assessment_id": "a-1"}))
	require.NoError(t, store.Enqueue(ctx, "analysis", "", nil))
	require.NoError(t, store.Enqueue(ctx, "analysis", "", nil))

	var count int64
	require.NoError(t, db.Model(&Job{}).Count(&count).Error)
	require.Equal(t, int64(3), count)
}

func TestEnqueueRequiresName(t *testing.T) {
	store, _, _ := newTestStore(t, 3)
	require.Error(t, store.Enqueue(context.Background(), " ", "", nil))
}

func TestLeaseCountsAttemptsAndRedeliversExpiredLease(t *testing.T) {
	store, clock, _ := newTestStore(t, 3)
	ctx := context.Background()
	require.NoError(t, store.Enqueue(ctx, "analysis", "a-1", map[string]interface{}{"assessment_id": "a-1"}))

	leased, err := store.Lease(ctx, "worker-a", 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, leased, 1)
	require.Equal(t, 1, leased[0].Attempt)
	require.Equal(t, 3, leased[0].MaxAttempts)
	require.Equal(t, "a-1", leased[0].String("assessment_id"))
	require.False(t, leased[0].Final())

	again, err := store.Lease(ctx, "worker-b", 10, time.Minute)
	require.NoError(t, err)
	require.Empty(t, again, "an active lease hides the job from other consumers")

	clock.Advance(2 * time.Minute)
	again, err = store.Lease(ctx, "worker-b", 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, again, 1)
	require.Equal(t, 2, again[0].Attempt)

	require.ErrorIs(t, store.Ack(ctx, leased[0].JobID, "worker-a"), ErrLeaseLost)
	require.NoError(t, store.Ack(ctx, again[0].JobID, "worker-b"))

	job, err := store.Get(ctx, again[0].JobID)
	require.NoError(t, err)
	require.Equal(t, StatusDone, job.Status)
	require.NotNil(t, job.ProcessedAt)
}

func TestRetryDelaysNextAttempt(t *testing.T) {
	store, clock, _ := newTestStore(t, 3)
	ctx := context.Background()
	require.NoError(t, store.Enqueue(ctx, "analysis", "", nil))

	leased, err := store.Lease(ctx, "worker", 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, leased, 1)

	require.NoError(t, store.Retry(ctx, leased[0].JobID, "worker", clock.Now().Add(5*time.Minute), errors.New("analysis timeout")))

	job, err := store.Get(ctx, leased[0].JobID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, job.Status)
	require.Equal(t, "analysis timeout", job.LastError)

	none, err := store.Lease(ctx, "worker", 1, time.Minute)
	require.NoError(t, err)
	require.Empty(t, none)

	clock.Advance(5 * time.Minute)
	leased, err = store.Lease(ctx, "worker", 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, leased, 1)
	require.Equal(t, 2, leased[0].Attempt)
}

func TestReapExhaustedMovesExpiredFinalLeaseToDead(t *testing.T) {
	store, clock, _ := newTestStore(t, 1)
	ctx := context.Background()
	require.NoError(t, store.Enqueue(ctx, "analysis", "a-9", map[string]interface{}{"assessment_id": "a-9"}))

	leased, err := store.Lease(ctx, "worker", 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, leased, 1)
	require.True(t, leased[0].Final())

	reaped, err := store.ReapExhausted(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, reaped, "lease has not expired yet")

	clock.Advance(2 * time.Minute)
	none, err := store.Lease(ctx, "worker", 1, time.Minute)
	require.NoError(t, err)
	require.Empty(t, none, "exhausted jobs are not redelivered")

	reaped, err = store.ReapExhausted(ctx, 10)
	require.NoError(t, err)
	require.Len(t, reaped, 1)
	require.Equal(t, "a-9", reaped[0].Payload["assessment_id"])

	job, err := store.Get(ctx, leased[0].JobID)
	require.NoError(t, err)
	require.Equal(t, StatusDead, job.Status)
}

func TestDeadErrorIsTruncated(t *testing.T) {
	store, _, _ := newTestStore(t, 3)
	ctx := context.Background()
	require.NoError(t, store.Enqueue(ctx, "analysis", "", nil))
	leased, err := store.Lease(ctx, "worker", 1, time.Minute)
	require.NoError(t, err)

	long := make([]byte, 2*LastErrorMaxLength)
	for i := range long {
		long[i] = 'x'
	}
	require.NoError(t, store.Dead(ctx, leased[0].JobID, "worker", errors.New(string(long))))

	job, err := store.Get(ctx, leased[0].JobID)
	require.NoError(t, err)
	require.Len(t, job.LastError, LastErrorMaxLength)
	require.Equal(t, StatusDead, job.Status)
}

func TestTruncateErrorKeepsValidUTF8(t *testing.T) {
	msg := strings.Repeat("x", LastErrorMaxLength-1) + "ş and more"

	truncated := truncateError(errors.New(msg))
	require.True(t, utf8.ValidString(truncated))
	require.Equal(t, strings.Repeat("x", LastErrorMaxLength-1), truncated)

	require.Equal(t, "short", truncateError(errors.New("short")))
	require.Empty(t, truncateError(nil))
}
