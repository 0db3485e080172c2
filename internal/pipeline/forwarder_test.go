package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"okx_relay/internal/domain"
	"okx_relay/internal/infra"
	"okx_relay/internal/infra/okx"
)

// scriptedCaller replays a fixed sequence of attempt results. When the
// script runs out, the last entry repeats.
type scriptedCaller struct {
	mu      sync.Mutex
	script  []error // nil entry = success
	calls   int
	routes  []okx.Route
	blockCh chan struct{} // when set, Call blocks until the channel closes
}

func (c *scriptedCaller) Call(ctx context.Context, route okx.Route) (*okx.Result, error) {
	// Record the call on entry so tests can observe a blocked attempt.
	c.mu.Lock()
	idx := c.calls
	if idx >= len(c.script) {
		idx = len(c.script) - 1
	}
	c.calls++
	c.routes = append(c.routes, route)
	scripted := c.script[idx]
	c.mu.Unlock()

	if c.blockCh != nil {
		select {
		case <-c.blockCh:
		case <-ctx.Done():
			return nil, domain.NewRetriableDelivery("call", 0, ctx.Err())
		}
	}

	if scripted != nil {
		return nil, scripted
	}
	return &okx.Result{StatusCode: 200, Code: okx.SuccessCode, Data: []byte(`[]`)}, nil
}

func (c *scriptedCaller) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func testForwarderConfig() ForwarderConfig {
	return ForwarderConfig{
		MaxRetries:       3,
		BackoffBase:      time.Second,
		BackoffCap:       60 * time.Second,
		RateLimitRPS:     1000,
		RateLimitBurst:   100,
		QueueCapacity:    16,
		Workers:          2,
		BreakerThreshold: 100, // effectively disabled unless a test lowers it
		BreakerCooldown:  30 * time.Second,
	}
}

func startForwarder(t *testing.T, cfg ForwarderConfig, caller Caller, clock infra.Clock) *Forwarder {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fwd := NewForwarder(cfg, caller, clock, infra.NewMetrics(), logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		fwd.Wait()
	})
	fwd.Start(ctx)
	return fwd
}

func orderMessage() domain.InboundMessage {
	return domain.InboundMessage{
		Sender:    "bot1",
		Content:   domain.Content{Text: "BUY:BTC-USDT"},
		Timestamp: testNow,
	}
}

func TestForwarder_DeliversFirstTry(t *testing.T) {
	caller := &scriptedCaller{script: []error{nil}}
	fwd := startForwarder(t, testForwarderConfig(), caller, newFakeClock(testNow))

	res := fwd.Forward(context.Background(), "req-1", orderMessage())

	require.Equal(t, domain.StatusDelivered, res.Status)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, caller.Calls())
	assert.NotNil(t, res.Response)
}

func TestForwarder_TerminalErrorNoRetry(t *testing.T) {
	// A 401 cannot succeed on retry: exactly one outbound attempt.
	caller := &scriptedCaller{script: []error{
		domain.NewTerminalDelivery("call", 401, errors.New("invalid key")),
	}}
	clock := newFakeClock(testNow)
	fwd := startForwarder(t, testForwarderConfig(), caller, clock)

	res := fwd.Forward(context.Background(), "req-1", orderMessage())

	require.Equal(t, domain.StatusClientError, res.Status)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, caller.Calls())
	assert.Empty(t, clock.Sleeps(), "terminal failures must not back off")
}

func TestForwarder_RetriesUntilBudgetExhausted(t *testing.T) {
	rateLimited := domain.NewRetriableDelivery("call", 429, errors.New("rate limited"))
	caller := &scriptedCaller{script: []error{rateLimited}}
	clock := newFakeClock(testNow)
	cfg := testForwarderConfig()
	cfg.MaxRetries = 3
	fwd := startForwarder(t, cfg, caller, clock)

	res := fwd.Forward(context.Background(), "req-1", orderMessage())

	require.Equal(t, domain.StatusServerError, res.Status)
	assert.Equal(t, cfg.MaxRetries+1, res.Attempts, "attempts never exceed maxRetries+1")
	assert.Equal(t, cfg.MaxRetries+1, caller.Calls())

	sleeps := clock.Sleeps()
	require.Len(t, sleeps, cfg.MaxRetries)
	for i, d := range sleeps {
		expected := cfg.BackoffBase << uint(i)
		if expected > cfg.BackoffCap {
			expected = cfg.BackoffCap
		}
		assert.GreaterOrEqual(t, d, expected, "delay %d below exponential floor", i)
		assert.LessOrEqual(t, d, expected+expected/5, "delay %d above jitter ceiling", i)
		if i > 0 {
			assert.GreaterOrEqual(t, d, sleeps[i-1], "delays must be non-decreasing")
		}
	}
}

func TestForwarder_BackoffCapped(t *testing.T) {
	serverErr := domain.NewRetriableDelivery("call", 503, errors.New("unavailable"))
	caller := &scriptedCaller{script: []error{serverErr}}
	clock := newFakeClock(testNow)
	cfg := testForwarderConfig()
	cfg.MaxRetries = 8
	cfg.BackoffBase = time.Second
	cfg.BackoffCap = 4 * time.Second
	fwd := startForwarder(t, cfg, caller, clock)

	fwd.Forward(context.Background(), "req-1", orderMessage())

	for i, d := range clock.Sleeps() {
		assert.LessOrEqual(t, d, cfg.BackoffCap+cfg.BackoffCap/5, "delay %d exceeds cap plus jitter", i)
	}
}

func TestForwarder_RecoversMidChain(t *testing.T) {
	serverErr := domain.NewRetriableDelivery("call", 502, errors.New("bad gateway"))
	caller := &scriptedCaller{script: []error{serverErr, serverErr, nil}}
	fwd := startForwarder(t, testForwarderConfig(), caller, newFakeClock(testNow))

	res := fwd.Forward(context.Background(), "req-1", orderMessage())

	require.Equal(t, domain.StatusDelivered, res.Status)
	assert.Equal(t, 3, res.Attempts)
}

func TestForwarder_NetworkFailureRetried(t *testing.T) {
	netErr := domain.NewRetriableDelivery("call", 0, errors.New("connection refused"))
	caller := &scriptedCaller{script: []error{netErr, nil}}
	fwd := startForwarder(t, testForwarderConfig(), caller, newFakeClock(testNow))

	res := fwd.Forward(context.Background(), "req-1", orderMessage())

	require.Equal(t, domain.StatusDelivered, res.Status)
	assert.Equal(t, 2, res.Attempts)
}

func TestForwarder_QueueOverflow(t *testing.T) {
	block := make(chan struct{})
	caller := &scriptedCaller{script: []error{nil}, blockCh: block}
	cfg := testForwarderConfig()
	cfg.Workers = 1
	cfg.QueueCapacity = 2
	fwd := startForwarder(t, cfg, caller, newFakeClock(testNow))

	var accepted int
	var overflowed int

	// One message occupies the worker, two fill the queue; everything
	// beyond capacity must be rejected immediately with no outbound call.
	for i := 0; i < 6; i++ {
		err := fwd.ForwardAsync("req", orderMessage(), func(domain.DeliveryResult) {})
		if errors.Is(err, domain.ErrQueueOverflow) {
			overflowed++
		} else {
			require.NoError(t, err)
			accepted++
		}
		if i == 0 {
			// Give the single worker time to pick up the first job so
			// the queue slots are counted deterministically.
			waitForCalls(t, caller, 1)
		}
	}

	assert.Equal(t, 3, accepted, "worker + queue capacity")
	assert.Equal(t, 3, overflowed)

	close(block)
}

func TestForwarder_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	serverErr := domain.NewRetriableDelivery("call", 503, errors.New("unavailable"))
	caller := &scriptedCaller{script: []error{serverErr}}
	cfg := testForwarderConfig()
	cfg.MaxRetries = 0
	cfg.BreakerThreshold = 2
	fwd := startForwarder(t, cfg, caller, newFakeClock(testNow))

	// Two failed deliveries trip the breaker.
	fwd.Forward(context.Background(), "req-1", orderMessage())
	fwd.Forward(context.Background(), "req-2", orderMessage())
	callsBefore := caller.Calls()

	res := fwd.Forward(context.Background(), "req-3", orderMessage())

	require.Equal(t, domain.StatusServerError, res.Status)
	assert.ErrorIs(t, res.Err, domain.ErrCircuitOpen)
	assert.Equal(t, callsBefore, caller.Calls(), "open breaker must short-circuit the outbound call")
}

func TestForwarder_ShutdownAbandonsDelivery(t *testing.T) {
	serverErr := domain.NewRetriableDelivery("call", 503, errors.New("unavailable"))
	caller := &scriptedCaller{script: []error{serverErr}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fwd := NewForwarder(testForwarderConfig(), caller, newFakeClock(testNow), infra.NewMetrics(), logger)

	ctx, cancel := context.WithCancel(context.Background())
	fwd.Start(ctx)
	cancel()
	fwd.Wait()

	res := fwd.Forward(ctx, "req-1", orderMessage())
	assert.Equal(t, domain.StatusCanceled, res.Status)
}

func waitForCalls(t *testing.T, caller *scriptedCaller, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for caller.Calls() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d calls, have %d", n, caller.Calls())
		}
		time.Sleep(time.Millisecond)
	}
}
