// ABOUTME: WhatsApp Cloud API webhook payload types and the outbound text sender.
// ABOUTME: Only text messages are extracted; statuses and media are ignored.

package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultAPIBaseURL is the Graph API root used when none is configured.
const DefaultAPIBaseURL = "https://graph.facebook.com/v21.0"

// ErrSendFailed is returned when the provider rejects an outbound message.
var ErrSendFailed = errors.New("sending message failed")

// WebhookPayload is the body of a provider webhook POST.
type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry groups changes for one business account.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change is one field update inside an entry.
type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

// ChangeValue carries the inbound messages of a change.
type ChangeValue struct {
	MessagingProduct string           `json:"messaging_product"`
	Metadata         Metadata         `json:"metadata"`
	Messages         []InboundMessage `json:"messages"`
}

// Metadata identifies the receiving phone number.
type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

// InboundMessage is a single message from a user.
type InboundMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
}

// TextMessage is an inbound text message flattened out of a payload.
type TextMessage struct {
	ID   string
	From string
	Body string
}

// TextMessages returns every non-empty text message in the payload, in order.
func (p *WebhookPayload) TextMessages() []TextMessage {
	var out []TextMessage
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				if msg.Type != "text" || msg.Text == nil {
					continue
				}
				body := strings.TrimSpace(msg.Text.Body)
				if body == "" {
					continue
				}
				out = append(out, TextMessage{ID: msg.ID, From: msg.From, Body: body})
			}
		}
	}
	return out
}

// Sender delivers a reply to a user.
type Sender interface {
	Send(ctx context.Context, to, body string) error
}

// WhatsAppConfig configures the Cloud API sender.
type WhatsAppConfig struct {
	APIBaseURL    string
	AccessToken   string
	PhoneNumberID string
	HTTPClient    *http.Client
}

// WhatsAppSender posts text messages to the Cloud API.
type WhatsAppSender struct {
	endpoint string
	token    string
	client   *http.Client
}

// NewWhatsAppSender creates a sender for the configured phone number.
func NewWhatsAppSender(cfg WhatsAppConfig) (*WhatsAppSender, error) {
	if cfg.PhoneNumberID == "" {
		return nil, errors.New("phone number id is required")
	}
	if cfg.AccessToken == "" {
		return nil, errors.New("access token is required")
	}
	base := cfg.APIBaseURL
	if base == "" {
		base = DefaultAPIBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &WhatsAppSender{
		endpoint: strings.TrimRight(base, "/") + "/" + cfg.PhoneNumberID + "/messages",
		token:    cfg.AccessToken,
		client:   client,
	}, nil
}

type outboundText struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		Body string `json:"body"`
	} `json:"text"`
}

// Send implements Sender.
func (s *WhatsAppSender) Send(ctx context.Context, to, body string) error {
	msg := outboundText{MessagingProduct: "whatsapp", To: to, Type: "text"}
	msg.Text.Body = body

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrSendFailed, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
