package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Handler processes one delivery. Returning nil acknowledges the job; any
// other error schedules a retry unless it is Permanent or attempts ran out.
type Handler interface {
	Handle(ctx context.Context, delivery Delivery) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, delivery Delivery) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, delivery Delivery) error {
	return f(ctx, delivery)
}

// ExhaustedHandler is implemented by handlers that need to record jobs reaped
// after their final lease expired.
type ExhaustedHandler interface {
	Exhausted(ctx context.Context, job Job) error
}

// Outcome labels reported to the pool observer.
const (
	OutcomeAcked     = "acked"
	OutcomeRetried   = "retried"
	OutcomeDead      = "dead"
	OutcomeExhausted = "exhausted"
)

// PoolConfig tunes a worker pool.
type PoolConfig struct {
	Consumer     string
	Concurrency  int
	PollInterval time.Duration
	LeaseTTL     time.Duration
	RetryDelay   time.Duration
	// OnOutcome is called after every processed delivery.
	OnOutcome func(name, outcome string, duration time.Duration)
}

// Pool leases jobs from a Store and runs them on a fixed number of workers.
type Pool struct {
	store    *Store
	cfg      PoolConfig
	logger   zerolog.Logger
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewPool constructs a pool. Zero config values fall back to defaults.
func NewPool(store *Store, cfg PoolConfig, logger zerolog.Logger) *Pool {
	if cfg.Consumer == "" {
		host, _ := os.Hostname()
		cfg.Consumer = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 10 * time.Minute
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Minute
	}

	return &Pool{
		store:    store,
		cfg:      cfg,
		logger:   logger.With().Str("component", "queue_pool").Str("consumer", cfg.Consumer).Logger(),
		handlers: make(map[string]Handler),
	}
}

// Register binds a handler to a job name.
func (p *Pool) Register(name string, handler Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[name] = handler
}

func (p *Pool) handler(name string) (Handler, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.handlers[name]
	return h, ok
}

// Run polls until ctx is cancelled. In-flight deliveries finish before Run returns.
func (p *Pool) Run(ctx context.Context) error {
	deliveries := make(chan Delivery)
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		defer close(deliveries)
		ticker := time.NewTicker(p.cfg.PollInterval)
		defer ticker.Stop()

		for {
			p.reap(groupCtx)
			p.poll(groupCtx, deliveries)

			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})

	for i := 0; i < p.cfg.Concurrency; i++ {
		group.Go(func() error {
			for delivery := range deliveries {
				// Deliveries already leased are finished even during shutdown.
				p.Process(context.WithoutCancel(groupCtx), delivery)
			}
			return nil
		})
	}

	p.logger.Info().Int("concurrency", p.cfg.Concurrency).Msg("queue pool started")
	err := group.Wait()
	p.logger.Info().Msg("queue pool stopped")
	return err
}

func (p *Pool) poll(ctx context.Context, out chan<- Delivery) {
	if ctx.Err() != nil {
		return
	}
	leased, err := p.store.Lease(ctx, p.cfg.Consumer, p.cfg.Concurrency, p.cfg.LeaseTTL)
	if err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Error().Err(err).Msg("lease jobs")
	}
	for _, delivery := range leased {
		out <- delivery
	}
}

func (p *Pool) reap(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	jobs, err := p.store.ReapExhausted(ctx, 50)
	if err != nil {
		p.logger.Error().Err(err).Msg("reap exhausted jobs")
	}
	for _, job := range jobs {
		p.report(job.Name, OutcomeExhausted, 0)
		if handler, ok := p.handler(job.Name); ok {
			p.exhaust(ctx, handler, job)
		}
	}
}

// exhaust hands a job that will never run again to its handler's cleanup hook.
func (p *Pool) exhaust(ctx context.Context, handler Handler, job Job) {
	exhausted, ok := handler.(ExhaustedHandler)
	if !ok {
		return
	}
	if err := exhausted.Exhausted(ctx, job); err != nil {
		p.logger.Error().Err(err).Str("job_id", job.ID).Str("job", job.Name).Msg("record exhausted job")
	}
}

// Process runs one delivery and records its outcome on the store.
func (p *Pool) Process(ctx context.Context, delivery Delivery) {
	started := time.Now()
	log := p.logger.With().
		Str("job_id", delivery.JobID).
		Str("job", delivery.Name).
		Int("attempt", delivery.Attempt).
		Logger()

	handler, ok := p.handler(delivery.Name)
	if !ok {
		err := fmt.Errorf("no handler registered for %s", delivery.Name)
		log.Error().Err(err).Msg("dropping job")
		p.finish(log, delivery, p.store.Dead(ctx, delivery.JobID, p.cfg.Consumer, err), OutcomeDead, started)
		return
	}

	err := p.safeHandle(ctx, handler, delivery)
	switch {
	case err == nil:
		p.finish(log, delivery, p.store.Ack(ctx, delivery.JobID, p.cfg.Consumer), OutcomeAcked, started)
	case IsPermanent(err) || delivery.Final():
		log.Warn().Err(err).Msg("job failed permanently")
		deadErr := p.store.Dead(ctx, delivery.JobID, p.cfg.Consumer, err)
		p.finish(log, delivery, deadErr, OutcomeDead, started)
		if deadErr == nil {
			p.exhaust(ctx, handler, Job{ID: delivery.JobID, Name: delivery.Name, Payload: delivery.Payload})
		}
	default:
		log.Warn().Err(err).Dur("retry_in", p.cfg.RetryDelay).Msg("job failed, scheduling retry")
		next := p.store.now().Add(p.cfg.RetryDelay)
		p.finish(log, delivery, p.store.Retry(ctx, delivery.JobID, p.cfg.Consumer, next, err), OutcomeRetried, started)
	}
}

func (p *Pool) safeHandle(ctx context.Context, handler Handler, delivery Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler.Handle(ctx, delivery)
}

func (p *Pool) finish(log zerolog.Logger, delivery Delivery, err error, outcome string, started time.Time) {
	if err != nil {
		log.Error().Err(err).Str("outcome", outcome).Msg("record job outcome")
		return
	}
	p.report(delivery.Name, outcome, time.Since(started))
}

func (p *Pool) report(name, outcome string, duration time.Duration) {
	if p.cfg.OnOutcome != nil {
		p.cfg.OnOutcome(name, outcome, duration)
	}
}
