package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type exhaustingHandler struct {
	HandlerFunc
	exhausted chan Job
}

func (h exhaustingHandler) Exhausted(_ context.Context, job Job) error {
	h.exhausted <- job
	return nil
}

func leaseOne(t *testing.T, store *Store, consumer string) Delivery {
	t.Helper()
	leased, err := store.Lease(context.Background(), consumer, 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, leased, 1)
	return leased[0]
}

func TestPoolProcessOutcomes(t *testing.T) {
	cases := []struct {
		name        string
		maxAttempts int
		handlerErr  error
		panics      bool
		wantStatus  string
		wantOutcome string
	}{
		{name: "success acks", maxAttempts: 3, wantStatus: StatusDone, wantOutcome: OutcomeAcked},
		{name: "transient error retries", maxAttempts: 3, handlerErr: errors.New("timeout"), wantStatus: StatusPending, wantOutcome: OutcomeRetried},
		{name: "permanent error is dead", maxAttempts: 3, handlerErr: Permanent(errors.New("bad payload")), wantStatus: StatusDead, wantOutcome: OutcomeDead},
		{name: "final attempt error is dead", maxAttempts: 1, handlerErr: errors.New("timeout"), wantStatus: StatusDead, wantOutcome: OutcomeDead},
		{name: "panic retries", maxAttempts: 3, panics: true, wantStatus: StatusPending, wantOutcome: OutcomeRetried},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store, _, _ := newTestStore(t, tc.maxAttempts)
			require.NoError(t, store.Enqueue(context.Background(), "analysis", "", nil))

			var outcome string
			pool := NewPool(store, PoolConfig{
				Consumer: "worker",
				OnOutcome: func(_ string, o string, _ time.Duration) {
					outcome = o
				},
			}, zerolog.Nop())
			pool.Register("analysis", HandlerFunc(func(context.Context, Delivery) error {
				if tc.panics {
					panic("boom")
				}
				return tc.handlerErr
			}))

			delivery := leaseOne(t, store, "worker")
			pool.Process(context.Background(), delivery)

			job, err := store.Get(context.Background(), delivery.JobID)
			require.NoError(t, err)
			require.Equal(t, tc.wantStatus, job.Status)
			require.Equal(t, tc.wantOutcome, outcome)
		})
	}
}

func TestPoolProcessWithoutHandlerIsDead(t *testing.T) {
	store, _, _ := newTestStore(t, 3)
	require.NoError(t, store.Enqueue(context.Background(), "unknown", "", nil))

	pool := NewPool(store, PoolConfig{Consumer: "worker"}, zerolog.Nop())
	delivery := leaseOne(t, store, "worker")
	pool.Process(context.Background(), delivery)

	job, err := store.Get(context.Background(), delivery.JobID)
	require.NoError(t, err)
	require.Equal(t, StatusDead, job.Status)
}

func TestPoolRunDrainsQueue(t *testing.T) {
	store, _, _ := newTestStore(t, 3)
	store.now = func() time.Time { return time.Now().UTC() }
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Enqueue(context.Background(), "analysis", "", nil))
	}

	var handled atomic.Int32
	pool := NewPool(store, PoolConfig{Consumer: "worker", Concurrency: 2, PollInterval: 10 * time.Millisecond}, zerolog.Nop())
	pool.Register("analysis", HandlerFunc(func(context.Context, Delivery) error {
		handled.Add(1)
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	require.Eventually(t, func() bool { return handled.Load() == 5 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestPoolReapHandsExhaustedJobsToHandler(t *testing.T) {
	store, clock, _ := newTestStore(t, 1)
	require.NoError(t, store.Enqueue(context.Background(), "analysis", "a-1", map[string]interface{}{"assessment_id": "a-1"}))
	leaseOne(t, store, "crashed-worker")
	clock.Advance(time.Hour)

	handler := exhaustingHandler{
		HandlerFunc: func(context.Context, Delivery) error { return nil },
		exhausted:   make(chan Job, 1),
	}
	pool := NewPool(store, PoolConfig{Consumer: "worker"}, zerolog.Nop())
	pool.Register("analysis", handler)

	pool.reap(context.Background())

	select {
	case job := <-handler.exhausted:
		require.Equal(t, "a-1", job.Payload["assessment_id"])
	default:
		t.Fatal("expected exhausted job to be handed to handler")
	}
}

func TestPoolProcessHandsDeadJobsToExhaustedHandler(t *testing.T) {
	cases := []struct {
		name        string
		maxAttempts int
		handle      HandlerFunc
	}{
		{name: "panic on final attempt", maxAttempts: 1, handle: func(context.Context, Delivery) error { panic("boom") }},
		{name: "error on final attempt", maxAttempts: 1, handle: func(context.Context, Delivery) error { return errors.New("timeout") }},
		{name: "permanent error", maxAttempts: 3, handle: func(context.Context, Delivery) error { return Permanent(errors.New("bad payload")) }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store, _, _ := newTestStore(t, tc.maxAttempts)
			require.NoError(t, store.Enqueue(context.Background(), "analysis", "a-1", map[string]interface{}{"assessment_id": "a-1"}))

			handler := exhaustingHandler{HandlerFunc: tc.handle, exhausted: make(chan Job, 1)}
			pool := NewPool(store, PoolConfig{Consumer: "worker"}, zerolog.Nop())
			pool.Register("analysis", handler)

			delivery := leaseOne(t, store, "worker")
			pool.Process(context.Background(), delivery)

			job, err := store.Get(context.Background(), delivery.JobID)
			require.NoError(t, err)
			require.Equal(t, StatusDead, job.Status)

			select {
			case exhausted := <-handler.exhausted:
				require.Equal(t, delivery.JobID, exhausted.ID)
				require.Equal(t, "a-1", exhausted.Payload["assessment_id"])
			default:
				t.Fatal("expected dead job to be handed to handler")
			}
		})
	}
}

func TestPoolProcessRetryDoesNotExhaust(t *testing.T) {
	store, _, _ := newTestStore(t, 3)
	require.NoError(t, store.Enqueue(context.Background(), "analysis", "", nil))

	handler := exhaustingHandler{
		HandlerFunc: func(context.Context, Delivery) error { return errors.New("timeout") },
		exhausted:   make(chan Job, 1),
	}
	pool := NewPool(store, PoolConfig{Consumer: "worker"}, zerolog.Nop())
	pool.Register("analysis", handler)
	pool.Process(context.Background(), leaseOne(t, store, "worker"))

	require.Empty(t, handler.exhausted)
}
