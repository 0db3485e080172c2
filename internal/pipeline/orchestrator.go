package pipeline

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"okx_relay/internal/domain"
	"okx_relay/internal/infra"
)

// Orchestrator wires Validator → Filter → Forwarder. It is the only
// component that sees all stages, the single place a stage result becomes
// the final loggable Outcome, and it never calls a later stage once an
// earlier one has rejected.
type Orchestrator struct {
	validator *Validator
	filter    *Filter
	forwarder *Forwarder
	clock     infra.Clock
	metrics   *infra.Metrics
	logger    *slog.Logger
}

// NewOrchestrator assembles the pipeline.
func NewOrchestrator(validator *Validator, filter *Filter, forwarder *Forwarder, clock infra.Clock, metrics *infra.Metrics, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		validator: validator,
		filter:    filter,
		forwarder: forwarder,
		clock:     clock,
		metrics:   metrics,
		logger:    logger.With("module", "pipeline"),
	}
}

// Process runs the full pipeline for one raw payload, blocking through
// delivery. Every call gets a fresh request ID for correlation.
func (o *Orchestrator) Process(ctx context.Context, raw []byte) domain.Outcome {
	start := o.clock.Now()
	requestID := uuid.NewString()
	o.metrics.RecordReceived()

	msg, rejected := o.admit(requestID, raw)
	if rejected != nil {
		rejected.Elapsed = o.clock.Now().Sub(start)
		return *rejected
	}

	res := o.forwarder.Forward(ctx, requestID, msg)
	out := domain.Outcome{
		RequestID: requestID,
		Sender:    msg.Sender,
		Stage:     domain.StageDelivery,
		Delivery:  &res,
		Elapsed:   o.clock.Now().Sub(start),
	}
	o.recordDelivery(out)
	return out
}

// Submit is the decoupled acknowledgment mode: validation and filtering
// run inline, delivery is dispatched asynchronously. The returned outcome
// is either a rejection, a queue-overflow, or StageQueued; for queued
// messages the delivery outcome is reported through recordDelivery when
// the attempt chain finishes.
func (o *Orchestrator) Submit(ctx context.Context, raw []byte) domain.Outcome {
	start := o.clock.Now()
	requestID := uuid.NewString()
	o.metrics.RecordReceived()

	msg, rejected := o.admit(requestID, raw)
	if rejected != nil {
		rejected.Elapsed = o.clock.Now().Sub(start)
		return *rejected
	}

	sender := msg.Sender
	err := o.forwarder.ForwardAsync(requestID, msg, func(res domain.DeliveryResult) {
		o.recordDelivery(domain.Outcome{
			RequestID: requestID,
			Sender:    sender,
			Stage:     domain.StageDelivery,
			Delivery:  &res,
			Elapsed:   o.clock.Now().Sub(start),
		})
	})
	if err != nil {
		res := domain.DeliveryResult{Status: domain.StatusQueueOverflow, Err: err}
		out := domain.Outcome{
			RequestID: requestID,
			Sender:    sender,
			Stage:     domain.StageDelivery,
			Delivery:  &res,
			Elapsed:   o.clock.Now().Sub(start),
		}
		o.recordDelivery(out)
		return out
	}

	return domain.Outcome{
		RequestID: requestID,
		Sender:    sender,
		Stage:     domain.StageQueued,
		Elapsed:   o.clock.Now().Sub(start),
	}
}

// admit runs the rejection stages. Returns the sanitized message, or the
// rejection outcome when an earlier stage already decided.
func (o *Orchestrator) admit(requestID string, raw []byte) (domain.InboundMessage, *domain.Outcome) {
	vres := o.validator.Validate(raw)
	if !vres.Valid() {
		o.metrics.RecordValidationReject()
		// Payload content is deliberately not logged.
		o.logger.Warn("validation rejected",
			slog.String("request_id", requestID),
			slog.String("reason", string(vres.Reason)))
		return domain.InboundMessage{}, &domain.Outcome{
			RequestID: requestID,
			Stage:     domain.StageValidation,
			Reason:    vres.Reason,
		}
	}

	fdec := o.filter.Apply(vres.Message, o.clock.Now())
	if !fdec.Accepted() {
		o.metrics.RecordFilterReject()
		o.logger.Warn("filter rejected",
			slog.String("request_id", requestID),
			slog.String("sender", vres.Message.Sender),
			slog.String("reason", string(fdec.Reason)))
		return domain.InboundMessage{}, &domain.Outcome{
			RequestID: requestID,
			Sender:    vres.Message.Sender,
			Stage:     domain.StageFilter,
			Reason:    fdec.Reason,
		}
	}

	return fdec.Message, nil
}

func (o *Orchestrator) recordDelivery(out domain.Outcome) {
	res := out.Delivery

	switch res.Status {
	case domain.StatusDelivered:
		o.metrics.RecordDelivered(out.Elapsed.Nanoseconds())
		o.logger.Info("message delivered",
			slog.String("request_id", out.RequestID),
			slog.String("sender", out.Sender),
			slog.Int("attempts", res.Attempts),
			slog.Duration("elapsed", out.Elapsed))

	case domain.StatusQueueOverflow:
		// Overflow is already counted at the queue; log the backpressure.
		o.logger.Warn("delivery queue full, message rejected",
			slog.String("request_id", out.RequestID),
			slog.String("sender", out.Sender))

	case domain.StatusCanceled:
		o.logger.Info("delivery abandoned",
			slog.String("request_id", out.RequestID),
			slog.Int("attempts", res.Attempts))

	default:
		o.metrics.RecordDeliveryFailed()
		o.logger.Error("delivery failed",
			slog.String("request_id", out.RequestID),
			slog.String("sender", out.Sender),
			slog.String("status", string(res.Status)),
			slog.Int("attempts", res.Attempts),
			slog.Any("error", res.Err))
	}
}
