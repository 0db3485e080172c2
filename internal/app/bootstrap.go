package app

import (
	"log/slog"
	"net/http"
	"time"

	"okx_relay/internal/domain"
	"okx_relay/internal/infra"
	"okx_relay/internal/infra/okx"
	"okx_relay/internal/pipeline"
	"okx_relay/internal/server"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config       *infra.Config
	Metrics      *infra.Metrics
	Forwarder    *pipeline.Forwarder
	Orchestrator *pipeline.Orchestrator
	Server       *server.Server
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize wires the relay: config, logger, OKX client, delivery
// pipeline, and the webhook server. The forwarder is constructed but not
// started; main owns its lifecycle context.
func (b *Bootstrap) Initialize() error {
	slog.Info("🚀 Bootstrapping OKX Relay...")

	// 1. Load Config
	cfg, err := infra.LoadConfig("configs/config.yaml")
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	// 3. OKX client with signed requests
	if !cfg.HasCredentials() {
		return domain.ErrMissingCredentials
	}
	clock := infra.NewClock()
	metrics := infra.NewMetrics()
	b.Metrics = metrics

	signer := okx.NewSigner(cfg.API.OKX.AccessKey, cfg.API.OKX.SecretKey, cfg.API.OKX.Passphrase)
	transport := &http.Client{Timeout: time.Duration(cfg.API.OKX.TimeoutSec) * time.Second}
	client := okx.NewClient(cfg.API.OKX.RestURL, signer, transport, clock, logger)
	slog.Info("✅ OKX client ready", slog.String("rest_url", cfg.API.OKX.RestURL))

	// 4. Delivery pipeline
	validator := pipeline.NewValidator(cfg.Filter.MaxPayloadBytes, cfg.Filter.MaxContentLength, clock)
	filter := pipeline.NewFilter(pipeline.FilterConfig{
		MaxAge:          time.Duration(cfg.Filter.MaxAgeSec) * time.Second,
		SkewTolerance:   time.Duration(cfg.Filter.SkewToleranceSec) * time.Second,
		AllowedKinds:    cfg.Filter.AllowedKinds,
		BlockedKeywords: cfg.Filter.BlockedKeywords,
	})
	b.Forwarder = pipeline.NewForwarder(pipeline.ForwarderConfig{
		MaxRetries:       cfg.Forwarder.MaxRetries,
		BackoffBase:      time.Duration(cfg.Forwarder.BackoffBaseMS) * time.Millisecond,
		BackoffCap:       time.Duration(cfg.Forwarder.BackoffCapMS) * time.Millisecond,
		RateLimitRPS:     cfg.Forwarder.RateLimitRPS,
		RateLimitBurst:   cfg.Forwarder.RateLimitBurst,
		QueueCapacity:    cfg.Forwarder.QueueCapacity,
		Workers:          cfg.Forwarder.Workers,
		BreakerThreshold: cfg.Forwarder.Breaker.ConsecutiveFailures,
		BreakerCooldown:  time.Duration(cfg.Forwarder.Breaker.CooldownSec) * time.Second,
	}, client, clock, metrics, logger)
	b.Orchestrator = pipeline.NewOrchestrator(validator, filter, b.Forwarder, clock, metrics, logger)
	slog.Info("✅ Delivery pipeline initialized",
		slog.Int("workers", cfg.Forwarder.Workers),
		slog.Int("queue_capacity", cfg.Forwarder.QueueCapacity))

	// 5. Webhook server
	b.Server = server.NewServer(b.Orchestrator, metrics, logger,
		cfg.Server.WebhookSecret, int64(cfg.Filter.MaxPayloadBytes))
	slog.Info("✅ Webhook server ready", slog.String("listen_addr", cfg.Server.ListenAddr))

	return nil
}
