package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"okx_relay/internal/domain"
	"okx_relay/internal/infra"
	"okx_relay/internal/pipeline"
)

// signatureHeader carries the hex-encoded HMAC-SHA256 of the raw request
// body, keyed with the shared webhook secret.
const signatureHeader = "X-Webhook-Signature"

// Server exposes the inbound webhook endpoint plus health and metrics.
type Server struct {
	router        *mux.Router
	orch          *pipeline.Orchestrator
	metrics       *infra.Metrics
	logger        *slog.Logger
	webhookSecret string
	maxBodyBytes  int64
}

func NewServer(orch *pipeline.Orchestrator, metrics *infra.Metrics, logger *slog.Logger, webhookSecret string, maxBodyBytes int64) *Server {
	s := &Server{
		router:        mux.NewRouter(),
		orch:          orch,
		metrics:       metrics,
		logger:        logger,
		webhookSecret: webhookSecret,
		maxBodyBytes:  maxBodyBytes,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/webhook", s.handleWebhook).Methods("POST")
	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/metrics", s.handleMetrics).Methods("GET")
}

// Handler returns the routing entry point for an http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

type webhookResponse struct {
	Status    string `json:"status"`
	RequestID string `json:"request_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, webhookResponse{
			Status: "rejected",
			Reason: string(domain.ReasonTooLarge),
		})
		return
	}

	if !s.verifySignature(raw, r.Header.Get(signatureHeader)) {
		s.logger.Warn("webhook signature mismatch",
			slog.String("remote_addr", r.RemoteAddr))
		writeJSON(w, http.StatusUnauthorized, webhookResponse{
			Status: "rejected",
			Reason: "invalid signature",
		})
		return
	}

	out := s.orch.Submit(r.Context(), raw)
	switch {
	case out.Stage == domain.StageQueued:
		writeJSON(w, http.StatusAccepted, webhookResponse{
			Status:    "accepted",
			RequestID: out.RequestID,
		})
	case out.Rejected():
		writeJSON(w, http.StatusBadRequest, webhookResponse{
			Status:    "rejected",
			RequestID: out.RequestID,
			Reason:    string(out.Reason),
		})
	case out.Delivery != nil && out.Delivery.Status == domain.StatusQueueOverflow:
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusServiceUnavailable, webhookResponse{
			Status:    "queue_overflow",
			RequestID: out.RequestID,
		})
	default:
		writeJSON(w, http.StatusInternalServerError, webhookResponse{
			Status:    "error",
			RequestID: out.RequestID,
		})
	}
}

// verifySignature compares the presented signature against the HMAC of the
// body. An empty configured secret disables verification.
func (s *Server) verifySignature(body []byte, presented string) bool {
	if s.webhookSecret == "" {
		return true
	}
	if presented == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(s.webhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(presented))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
