package pipeline

import (
	"regexp"
	"strings"
	"time"

	"okx_relay/internal/domain"
)

// Redaction patterns, applied before content is embedded in a signed
// request body: card-number shapes and long token-like runs.
var (
	cardPattern  = regexp.MustCompile(`\b\d{4}[- ]?\d{4}[- ]?\d{4}[- ]?\d{4}\b`)
	tokenPattern = regexp.MustCompile(`[a-zA-Z0-9_-]{32,}`)
)

const redacted = "[REDACTED]"

// FilterConfig holds the content policy knobs.
type FilterConfig struct {
	MaxAge          time.Duration
	SkewTolerance   time.Duration
	AllowedKinds    []string
	BlockedKeywords []string
}

// Filter applies policy to structurally valid messages: freshness with
// forward clock-skew tolerance, a content-kind allow-list, a sensitive
// keyword block-list, and sanitization of the accepted copy.
// Deterministic: the same (msg, now) always yields the same decision.
type Filter struct {
	cfg     FilterConfig
	allowed map[domain.Kind]bool
}

// NewFilter creates a filter from the given policy.
func NewFilter(cfg FilterConfig) *Filter {
	allowed := make(map[domain.Kind]bool, len(cfg.AllowedKinds))
	for _, kind := range cfg.AllowedKinds {
		allowed[domain.Kind(kind)] = true
	}
	return &Filter{cfg: cfg, allowed: allowed}
}

// Apply decides whether msg may be forwarded, evaluated at now. The
// accepted decision carries a sanitized copy; the input is not mutated.
func (f *Filter) Apply(msg domain.InboundMessage, now time.Time) domain.FilterDecision {
	if now.Sub(msg.Timestamp) > f.cfg.MaxAge {
		return domain.FilterDecision{Reason: domain.ReasonStaleTimestamp}
	}
	if msg.Timestamp.Sub(now) > f.cfg.SkewTolerance {
		return domain.FilterDecision{Reason: domain.ReasonFutureTimestamp}
	}

	if !f.allowed[msg.Content.Kind()] {
		return domain.FilterDecision{Reason: domain.ReasonDisallowedContent}
	}

	if f.containsBlockedKeyword(msg.Content) {
		return domain.FilterDecision{Reason: domain.ReasonSensitiveContent}
	}

	sanitized := msg
	sanitized.Content = sanitizeContent(msg.Content)
	return domain.FilterDecision{Message: sanitized}
}

func (f *Filter) containsBlockedKeyword(content domain.Content) bool {
	check := func(s string) bool {
		lower := strings.ToLower(s)
		for _, keyword := range f.cfg.BlockedKeywords {
			if strings.Contains(lower, strings.ToLower(keyword)) {
				return true
			}
		}
		return false
	}

	if !content.Structured() {
		return check(content.Text)
	}
	for k, v := range content.Fields {
		if check(k) {
			return true
		}
		if s, ok := v.(string); ok && check(s) {
			return true
		}
	}
	return false
}

// sanitizeContent redacts card numbers and token-like runs from text and
// from string values of structured payloads. Returns a copy.
func sanitizeContent(content domain.Content) domain.Content {
	if !content.Structured() {
		return domain.Content{Text: sanitizeString(content.Text)}
	}

	fields := make(map[string]any, len(content.Fields))
	for k, v := range content.Fields {
		if s, ok := v.(string); ok {
			fields[k] = sanitizeString(s)
		} else {
			fields[k] = v
		}
	}
	return domain.Content{Fields: fields}
}

func sanitizeString(s string) string {
	s = cardPattern.ReplaceAllString(s, redacted)
	s = tokenPattern.ReplaceAllString(s, redacted)
	return s
}
