package pipeline

import (
	"encoding/json"
	"time"

	"okx_relay/internal/domain"
	"okx_relay/internal/infra"
)

// Validator checks structural validity of raw webhook payloads. It never
// touches policy (freshness, allow-lists); that belongs to the filter.
type Validator struct {
	maxPayloadBytes  int
	maxContentLength int
	clock            infra.Clock
}

// NewValidator creates a validator with the given size bounds.
func NewValidator(maxPayloadBytes, maxContentLength int, clock infra.Clock) *Validator {
	return &Validator{
		maxPayloadBytes:  maxPayloadBytes,
		maxContentLength: maxContentLength,
		clock:            clock,
	}
}

// Validate parses and checks one raw payload. A message that comes back
// valid has non-empty sender and content and a usable UTC timestamp
// (reception time when the payload carried none). No side effects.
func (v *Validator) Validate(raw []byte) domain.ValidationResult {
	if len(raw) > v.maxPayloadBytes {
		return domain.ValidationResult{Reason: domain.ReasonTooLarge}
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(raw, &payload); err != nil {
		return domain.ValidationResult{Reason: domain.ReasonMalformedJSON}
	}

	sender, reason := v.parseSender(payload)
	if reason != "" {
		return domain.ValidationResult{Reason: reason}
	}

	content, reason := v.parseContent(payload)
	if reason != "" {
		return domain.ValidationResult{Reason: reason}
	}

	ts, reason := v.parseTimestamp(payload)
	if reason != "" {
		return domain.ValidationResult{Reason: reason}
	}

	return domain.ValidationResult{Message: domain.InboundMessage{
		Sender:    sender,
		Content:   content,
		Timestamp: ts,
	}}
}

func (v *Validator) parseSender(payload map[string]json.RawMessage) (string, domain.RejectReason) {
	raw, ok := payload["sender"]
	if !ok {
		return "", domain.ReasonMissingField
	}
	var sender string
	if err := json.Unmarshal(raw, &sender); err != nil {
		return "", domain.ReasonWrongType
	}
	if sender == "" {
		return "", domain.ReasonMissingField
	}
	return sender, ""
}

func (v *Validator) parseContent(payload map[string]json.RawMessage) (domain.Content, domain.RejectReason) {
	raw, ok := payload["content"]
	if !ok {
		return domain.Content{}, domain.ReasonMissingField
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if text == "" {
			return domain.Content{}, domain.ReasonMissingField
		}
		if len(text) > v.maxContentLength {
			return domain.Content{}, domain.ReasonTooLarge
		}
		return domain.Content{Text: text}, ""
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err == nil {
		if len(fields) == 0 {
			return domain.Content{}, domain.ReasonMissingField
		}
		return domain.Content{Fields: fields}, ""
	}

	// Numbers, booleans, arrays and null are not message content.
	return domain.Content{}, domain.ReasonWrongType
}

func (v *Validator) parseTimestamp(payload map[string]json.RawMessage) (time.Time, domain.RejectReason) {
	raw, ok := payload["timestamp"]
	if !ok {
		// Absent timestamp defaults to reception time.
		return v.clock.Now(), ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, domain.ReasonBadTimestamp
	}

	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, domain.ReasonBadTimestamp
	}
	return ts.UTC(), ""
}
