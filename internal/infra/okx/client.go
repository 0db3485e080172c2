package okx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"okx_relay/internal/domain"
	"okx_relay/internal/infra"
)

// Doer abstracts the HTTP transport so tests can stub outbound calls.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is the OKX V5 REST API client (Boundary Layer). Each Call is a
// single signed attempt; retry policy lives in the forwarder.
type Client struct {
	baseURL   string
	transport Doer
	signer    *Signer
	clock     infra.Clock
	logger    *slog.Logger
}

// NewClient creates a new OKX API client. A nil transport gets a default
// http.Client with sane timeouts.
func NewClient(baseURL string, signer *Signer, transport Doer, clock infra.Clock, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = BaseURLProduction
	}
	if transport == nil {
		transport = &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		}
	}
	return &Client{
		baseURL:   baseURL,
		transport: transport,
		signer:    signer,
		clock:     clock,
		logger:    logger.With("module", "okx_client"),
	}
}

// Call performs one signed request attempt. The timestamp and signature
// are generated here, per attempt, so a retried call never reuses a
// signature. Errors are domain.DeliveryError values classified as
// retriable (429, 5xx, network) or terminal (other 4xx, business codes).
func (c *Client) Call(ctx context.Context, route Route) (*Result, error) {
	var bodyReader io.Reader
	bodyStr := ""
	if len(route.Body) > 0 {
		bodyReader = bytes.NewReader(route.Body)
		bodyStr = string(route.Body)
	}

	req, err := http.NewRequestWithContext(ctx, route.Method, c.baseURL+route.Path, bodyReader)
	if err != nil {
		return nil, domain.NewTerminalDelivery("request", 0, err)
	}

	timestamp := infra.Timestamp(c.clock.Now())
	for k, v := range c.signer.Headers(timestamp, route.Method, route.Path, bodyStr) {
		req.Header.Set(k, v)
	}

	resp, err := c.transport.Do(req)
	if err != nil {
		// Timeouts and refused connections are transport-level: retriable.
		return nil, domain.NewRetriableDelivery("call", 0, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewRetriableDelivery("read", resp.StatusCode, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, domain.NewRetriableDelivery("call", resp.StatusCode,
			fmt.Errorf("okx api error: %s", statusSummary(respBody)))
	}
	if resp.StatusCode >= 400 {
		return nil, domain.NewTerminalDelivery("call", resp.StatusCode,
			fmt.Errorf("okx api error: %s", statusSummary(respBody)))
	}

	var envelope apiResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, domain.NewTerminalDelivery("parse", resp.StatusCode, err)
	}

	if envelope.Code != SuccessCode {
		delErr := domain.NewTerminalDelivery("call", resp.StatusCode,
			fmt.Errorf("okx business error: %s", envelope.Msg))
		delErr.Code = envelope.Code
		return nil, delErr
	}

	c.logger.Debug("okx call succeeded",
		slog.String("method", route.Method),
		slog.String("path", route.Path))

	return &Result{
		StatusCode: resp.StatusCode,
		Code:       envelope.Code,
		Msg:        envelope.Msg,
		Data:       envelope.Data,
	}, nil
}

// statusSummary extracts the envelope message from an error body without
// leaking the full payload into logs or error chains.
func statusSummary(body []byte) string {
	var envelope apiResponse
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Msg == "" {
		return "unparsable error body"
	}
	return fmt.Sprintf("code=%s msg=%s", envelope.Code, envelope.Msg)
}
