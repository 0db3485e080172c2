package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"okx_relay/internal/domain"
	"okx_relay/internal/infra"
	"okx_relay/internal/infra/okx"
)

// Caller performs one signed outbound attempt. *okx.Client satisfies it;
// tests inject fakes.
type Caller interface {
	Call(ctx context.Context, route okx.Route) (*okx.Result, error)
}

// ForwarderConfig holds delivery policy: retry budget, backoff shape,
// rate-limit ceiling and queue bounds.
type ForwarderConfig struct {
	MaxRetries       int
	BackoffBase      time.Duration
	BackoffCap       time.Duration
	RateLimitRPS     float64
	RateLimitBurst   int
	QueueCapacity    int
	Workers          int
	BreakerThreshold uint32
	BreakerCooldown  time.Duration
}

type deliveryJob struct {
	requestID string
	msg       domain.InboundMessage
	result    chan domain.DeliveryResult // nil for fire-and-report jobs
	done      func(domain.DeliveryResult)
}

// Forwarder turns approved messages into outbound OKX calls. Admission is
// a token bucket shared by all workers; messages wait in a bounded FIFO
// queue, and a full queue is an immediate queue-overflow outcome rather
// than unbounded buffering. Per message it runs the retry state machine:
// retriable failures (429, 5xx, network, open breaker) back off
// exponentially with jitter up to MaxRetries, other 4xx end the chain on
// the first attempt.
type Forwarder struct {
	cfg     ForwarderConfig
	caller  Caller
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	clock   infra.Clock
	metrics *infra.Metrics
	logger  *slog.Logger
	queue   chan deliveryJob
	wg      sync.WaitGroup
}

// NewForwarder creates a forwarder. Start must be called before use.
func NewForwarder(cfg ForwarderConfig, caller Caller, clock infra.Clock, metrics *infra.Metrics, logger *slog.Logger) *Forwarder {
	logger = logger.With("module", "forwarder")

	settings := gobreaker.Settings{
		Name:    "okx",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.SetCircuitState(to == gobreaker.StateOpen)
			logger.Warn("circuit breaker state changed",
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	}

	return &Forwarder{
		cfg:     cfg,
		caller:  caller,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst),
		breaker: gobreaker.NewCircuitBreaker(settings),
		clock:   clock,
		metrics: metrics,
		logger:  logger,
		queue:   make(chan deliveryJob, cfg.QueueCapacity),
	}
}

// Start launches the delivery workers. They stop when ctx is canceled;
// in-flight attempt chains are abandoned at the next suspension point.
func (f *Forwarder) Start(ctx context.Context) {
	for i := 0; i < f.cfg.Workers; i++ {
		f.wg.Add(1)
		go f.worker(ctx)
	}
}

// Wait blocks until all workers have exited.
func (f *Forwarder) Wait() {
	f.wg.Wait()
}

// Forward delivers msg synchronously, blocking until the attempt chain
// reaches a terminal state or ctx is canceled.
func (f *Forwarder) Forward(ctx context.Context, requestID string, msg domain.InboundMessage) domain.DeliveryResult {
	job := deliveryJob{
		requestID: requestID,
		msg:       msg,
		result:    make(chan domain.DeliveryResult, 1),
	}
	if !f.enqueue(job) {
		return domain.DeliveryResult{Status: domain.StatusQueueOverflow, Err: domain.ErrQueueOverflow}
	}

	select {
	case res := <-job.result:
		return res
	case <-ctx.Done():
		return domain.DeliveryResult{Status: domain.StatusCanceled, Err: ctx.Err()}
	}
}

// ForwardAsync queues msg and reports the terminal result through done.
// Returns domain.ErrQueueOverflow when the queue is full; no outbound
// call is attempted in that case.
func (f *Forwarder) ForwardAsync(requestID string, msg domain.InboundMessage, done func(domain.DeliveryResult)) error {
	job := deliveryJob{requestID: requestID, msg: msg, done: done}
	if !f.enqueue(job) {
		return domain.ErrQueueOverflow
	}
	return nil
}

func (f *Forwarder) enqueue(job deliveryJob) bool {
	select {
	case f.queue <- job:
		f.metrics.IncrementQueueDepth()
		return true
	default:
		f.metrics.RecordQueueOverflow()
		return false
	}
}

func (f *Forwarder) worker(ctx context.Context) {
	defer f.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-f.queue:
			f.metrics.DecrementQueueDepth()
			res := f.deliver(ctx, job)
			if job.result != nil {
				job.result <- res
			}
			if job.done != nil {
				job.done(res)
			}
		}
	}
}

// deliver runs the attempt chain for one message. The retry counter and
// next delay live only here, created at the first attempt and discarded
// on any terminal state.
func (f *Forwarder) deliver(ctx context.Context, job deliveryJob) domain.DeliveryResult {
	route, err := okx.RouteFor(job.msg, job.requestID)
	if err != nil {
		return domain.DeliveryResult{Status: domain.StatusClientError, Err: err}
	}

	attempt := 0
	for {
		// Admission gate: shared across all messages.
		if err := f.limiter.Wait(ctx); err != nil {
			return domain.DeliveryResult{Status: domain.StatusCanceled, Attempts: attempt, Err: err}
		}

		res, err := f.attempt(ctx, route)
		if err == nil {
			return domain.DeliveryResult{
				Status:   domain.StatusDelivered,
				Attempts: attempt + 1,
				Response: res.Data,
			}
		}

		if !domain.IsRetriable(err) {
			return domain.DeliveryResult{Status: domain.StatusClientError, Attempts: attempt + 1, Err: err}
		}
		if attempt >= f.cfg.MaxRetries {
			return domain.DeliveryResult{Status: domain.StatusServerError, Attempts: attempt + 1, Err: err}
		}

		delay := f.backoff(attempt)
		f.logger.Warn("delivery attempt failed, backing off",
			slog.String("request_id", job.requestID),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay))
		f.metrics.RecordRetry()

		if err := f.clock.Sleep(ctx, delay); err != nil {
			return domain.DeliveryResult{Status: domain.StatusCanceled, Attempts: attempt + 1, Err: err}
		}
		attempt++
	}
}

// attempt issues one call through the circuit breaker. An open breaker
// surfaces as a retriable delivery error so the normal backoff path
// spaces the message out past the cooldown.
func (f *Forwarder) attempt(ctx context.Context, route okx.Route) (*okx.Result, error) {
	out, err := f.breaker.Execute(func() (interface{}, error) {
		return f.caller.Call(ctx, route)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, domain.NewRetriableDelivery("breaker", 0, domain.ErrCircuitOpen)
		}
		return nil, err
	}
	return out.(*okx.Result), nil
}

// backoff computes the delay before retry number attempt+1:
// base * 2^attempt, clamped to the cap, plus up to 20% jitter.
func (f *Forwarder) backoff(attempt int) time.Duration {
	// Cap the shift to prevent overflow before clamping.
	if attempt > 16 {
		attempt = 16
	}
	delay := f.cfg.BackoffBase << uint(attempt)
	if delay <= 0 || delay > f.cfg.BackoffCap {
		delay = f.cfg.BackoffCap
	}
	jitter := time.Duration(rand.Int63n(int64(delay/5) + 1))
	return delay + jitter
}
