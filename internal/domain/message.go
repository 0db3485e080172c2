package domain

import (
	"time"
)

// Kind classifies the content of an inbound message. Routing to the OKX API
// is decided by kind: order payloads hit the trade endpoint, market-data
// requests hit the ticker endpoint, plain text falls through to the
// read-only default.
type Kind string

const (
	KindOrder      Kind = "order"
	KindMarketData Kind = "market_data"
	KindText       Kind = "text"
)

// Content holds either a plain text command or a structured payload.
// Exactly one of Text or Fields is set.
type Content struct {
	Text   string
	Fields map[string]any
}

// Structured reports whether the content carried a JSON object.
func (c Content) Structured() bool {
	return c.Fields != nil
}

// Kind classifies the content shape.
func (c Content) Kind() Kind {
	if !c.Structured() {
		return KindText
	}
	if _, ok := c.Fields["instId"]; ok {
		if _, ok := c.Fields["side"]; ok {
			if _, ok := c.Fields["sz"]; ok {
				return KindOrder
			}
		}
		if t, ok := c.Fields["type"].(string); ok && t == "market_data" {
			return KindMarketData
		}
	}
	return KindText
}

// InboundMessage is a webhook notification. Once it passes validation,
// Sender and Content are non-empty and Timestamp is a valid UTC instant
// (reception time when the payload carried none).
type InboundMessage struct {
	Sender    string
	Content   Content
	Timestamp time.Time
}

// RejectReason identifies why a message was turned away.
type RejectReason string

const (
	// Validation reasons (structural).
	ReasonMalformedJSON RejectReason = "malformed-json"
	ReasonMissingField  RejectReason = "missing-field"
	ReasonWrongType     RejectReason = "wrong-type"
	ReasonTooLarge      RejectReason = "too-large"
	ReasonBadTimestamp  RejectReason = "bad-timestamp"

	// Filter reasons (policy).
	ReasonStaleTimestamp    RejectReason = "stale-timestamp"
	ReasonFutureTimestamp   RejectReason = "future-timestamp"
	ReasonDisallowedContent RejectReason = "disallowed-content"
	ReasonSensitiveContent  RejectReason = "sensitive-content"
)

// ValidationResult is the outcome of structural validation.
// Reason is empty when the message is valid.
type ValidationResult struct {
	Message InboundMessage
	Reason  RejectReason
}

// Valid reports whether the message passed validation.
func (r ValidationResult) Valid() bool {
	return r.Reason == ""
}

// FilterDecision is the outcome of the content filter. When accepted,
// Message is the sanitized copy that downstream signing operates on.
type FilterDecision struct {
	Message InboundMessage
	Reason  RejectReason
}

// Accepted reports whether the message passed filtering.
func (d FilterDecision) Accepted() bool {
	return d.Reason == ""
}

// DeliveryStatus is the terminal state of one message's delivery attempts.
type DeliveryStatus string

const (
	StatusDelivered     DeliveryStatus = "delivered"
	StatusClientError   DeliveryStatus = "client-error"
	StatusServerError   DeliveryStatus = "rate-limited-or-server-error"
	StatusQueueOverflow DeliveryStatus = "queue-overflow"
	StatusCanceled      DeliveryStatus = "canceled"
)

// DeliveryResult records how a delivery attempt chain ended.
type DeliveryResult struct {
	Status   DeliveryStatus
	Attempts int
	Response []byte // OKX data payload on success, nil otherwise
	Err      error
}

// Delivered reports terminal success.
func (r DeliveryResult) Delivered() bool {
	return r.Status == StatusDelivered
}

// Stage names the pipeline stage that produced the final decision.
type Stage string

const (
	StageValidation Stage = "validation"
	StageFilter     Stage = "filter"
	StageDelivery   Stage = "delivery"
	// StageQueued marks a message accepted for asynchronous delivery;
	// the delivery outcome follows through the outcome sink.
	StageQueued Stage = "queued"
)

// Outcome is the per-message result the orchestrator reports.
type Outcome struct {
	RequestID string
	Sender    string
	Stage     Stage
	Reason    RejectReason    // set for validation/filter rejections
	Delivery  *DeliveryResult // set for StageDelivery
	Elapsed   time.Duration
}

// Delivered reports whether the message reached OKX successfully.
func (o Outcome) Delivered() bool {
	return o.Stage == StageDelivery && o.Delivery != nil && o.Delivery.Delivered()
}

// Rejected reports whether the message was turned away before forwarding.
func (o Outcome) Rejected() bool {
	return o.Stage == StageValidation || o.Stage == StageFilter
}
