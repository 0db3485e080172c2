package okx

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/shopspring/decimal"

	"okx_relay/internal/domain"
)

// OKX API Constants
const (
	BaseURLProduction = "https://www.okx.com"

	// SuccessCode is the business-level success code in the V5 envelope.
	SuccessCode = "0"

	pathPlaceOrder = "/api/v5/trade/order"
	pathTicker     = "/api/v5/market/ticker"
	pathTickers    = "/api/v5/market/tickers"

	defaultInstType = "SPOT"
)

// apiResponse is the OKX V5 response envelope.
type apiResponse struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// Result is a successful API call outcome.
type Result struct {
	StatusCode int
	Code       string
	Msg        string
	Data       json.RawMessage
}

// Route is one fully resolved outbound request: method, path (with query),
// and the exact body bytes that will be signed and sent.
type Route struct {
	Method string
	Path   string
	Body   []byte
}

// placeOrderRequest - Internal Struct for JSON Marshaling
type placeOrderRequest struct {
	InstID  string `json:"instId"`
	TdMode  string `json:"tdMode"`
	Side    string `json:"side"`
	OrdType string `json:"ordType"`
	Sz      string `json:"sz"`
	Px      string `json:"px,omitempty"`
	ClOrdID string `json:"clOrdId,omitempty"`
}

// RouteFor resolves the API endpoint for a message by content shape:
// order payloads go to the trade endpoint, market-data requests to the
// ticker endpoint, and everything else to the read-only tickers default.
// requestID becomes the client order ID on trade calls (dashes stripped,
// OKX allows at most 32 alphanumeric characters).
func RouteFor(msg domain.InboundMessage, requestID string) (Route, error) {
	switch msg.Content.Kind() {
	case domain.KindOrder:
		return orderRoute(msg.Content.Fields, requestID)

	case domain.KindMarketData:
		instID, _ := msg.Content.Fields["instId"].(string)
		q := url.Values{"instId": {instID}}
		return Route{Method: "GET", Path: pathTicker + "?" + q.Encode()}, nil

	default:
		q := url.Values{"instType": {defaultInstType}}
		return Route{Method: "GET", Path: pathTickers + "?" + q.Encode()}, nil
	}
}

// orderRoute builds the trade request. Sizes and prices pass through
// decimal so numeric JSON inputs are re-serialized without float artifacts.
func orderRoute(fields map[string]any, requestID string) (Route, error) {
	instID, ok := fields["instId"].(string)
	if !ok || instID == "" {
		return Route{}, domain.NewTerminalDelivery("route", 0, fmt.Errorf("order instId must be a non-empty string"))
	}

	side, ok := fields["side"].(string)
	if !ok || (side != "buy" && side != "sell") {
		return Route{}, domain.NewTerminalDelivery("route", 0, fmt.Errorf("order side must be buy or sell"))
	}

	sz, err := decimalField(fields, "sz")
	if err != nil {
		return Route{}, domain.NewTerminalDelivery("route", 0, err)
	}

	req := placeOrderRequest{
		InstID:  instID,
		TdMode:  "cash",
		Side:    side,
		OrdType: "market",
		Sz:      sz.String(),
		ClOrdID: clientOrderID(requestID),
	}

	if _, present := fields["px"]; present {
		px, err := decimalField(fields, "px")
		if err != nil {
			return Route{}, domain.NewTerminalDelivery("route", 0, err)
		}
		req.OrdType = "limit"
		req.Px = px.String()
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Route{}, domain.NewTerminalDelivery("marshal", 0, err)
	}

	return Route{Method: "POST", Path: pathPlaceOrder, Body: body}, nil
}

// decimalField parses a JSON string or number field as a positive decimal.
func decimalField(fields map[string]any, key string) (decimal.Decimal, error) {
	var d decimal.Decimal
	var err error

	switch v := fields[key].(type) {
	case string:
		d, err = decimal.NewFromString(v)
	case float64:
		d = decimal.NewFromFloat(v)
	case json.Number:
		d, err = decimal.NewFromString(v.String())
	default:
		return decimal.Zero, fmt.Errorf("order %s must be a string or number", key)
	}

	if err != nil {
		return decimal.Zero, fmt.Errorf("order %s is not a valid decimal: %w", key, err)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("order %s must be positive", key)
	}
	return d, nil
}

// clientOrderID strips dashes from a UUID so the result fits OKX's
// 32-character alphanumeric clOrdId constraint.
func clientOrderID(requestID string) string {
	out := make([]byte, 0, 32)
	for i := 0; i < len(requestID) && len(out) < 32; i++ {
		c := requestID[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			out = append(out, c)
		}
	}
	return string(out)
}
