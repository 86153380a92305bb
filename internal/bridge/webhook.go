// ABOUTME: HTTP surface for the messaging provider: subscription verification and inbound delivery.
// ABOUTME: Inbound messages are acknowledged immediately and processed in the background.

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// maxWebhookBody caps inbound webhook payloads.
const maxWebhookBody = 1 << 20

// processTimeout bounds the handling of a single inbound message.
const processTimeout = 2 * time.Minute

// Webhook serves GET and POST /webhook.
type Webhook struct {
	bridge      *Bridge
	verifyToken string
	logger      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWebhook creates the webhook handler. An empty verifyToken rejects every
// subscription attempt.
func NewWebhook(bridge *Bridge, verifyToken string, logger *slog.Logger) *Webhook {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Webhook{
		bridge:      bridge,
		verifyToken: verifyToken,
		logger:      logger.With("component", "webhook"),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// RegisterRoutes registers the webhook endpoints on mux.
func (h *Webhook) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /webhook", h.handleVerify)
	mux.HandleFunc("POST /webhook", h.handleInbound)
}

func (h *Webhook) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") != "subscribe" || h.verifyToken == "" || q.Get("hub.verify_token") != h.verifyToken {
		h.logger.Warn("webhook verification rejected", "mode", q.Get("hub.mode"))
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, q.Get("hub.challenge"))
}

func (h *Webhook) handleInbound(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)
	var payload WebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.logger.Warn("invalid webhook payload", "error", err)
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	messages := payload.TextMessages()
	for _, msg := range messages {
		h.wg.Add(1)
		go h.process(msg)
	}

	h.logger.Debug("webhook accepted", "messages", len(messages))
	w.WriteHeader(http.StatusOK)
}

func (h *Webhook) process(msg TextMessage) {
	defer h.wg.Done()
	ctx, cancel := context.WithTimeout(h.ctx, processTimeout)
	defer cancel()

	if err := h.bridge.Handle(ctx, msg); err != nil && !errors.Is(err, ErrDuplicate) {
		h.logger.Error("processing inbound message failed", "id", msg.ID, "from", msg.From, "error", err)
	}
}

// Wait blocks until every accepted message has been processed.
func (h *Webhook) Wait() {
	h.wg.Wait()
}

// Close cancels in-flight processing and waits for it to stop.
func (h *Webhook) Close() {
	h.cancel()
	h.wg.Wait()
}
