// ABOUTME: Bridge ties rule routing, tool invocation, reply formatting, and delivery together.
// ABOUTME: Inbound messages are deduplicated by provider message id through the session store.

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/market-gateway/internal/session"
)

// DedupeTTL is how long a provider message id is remembered.
const DedupeTTL = 5 * time.Minute

// ErrDuplicate is returned by Handle for a message id that was already processed.
var ErrDuplicate = errors.New("duplicate message")

// Config holds the bridge collaborators. Invoker is required; every other field is optional.
type Config struct {
	Rules     []Rule
	Invoker   Invoker
	Formatter *Formatter
	Sender    Sender
	Dedupe    session.Store
	Logger    *slog.Logger
}

// Bridge translates free text into one tool call and formats the answer for a chat channel.
type Bridge struct {
	rules     []Rule
	invoker   Invoker
	formatter *Formatter
	sender    Sender
	dedupe    session.Store
	logger    *slog.Logger
}

// New creates a Bridge.
func New(cfg Config) (*Bridge, error) {
	if cfg.Invoker == nil {
		return nil, errors.New("bridge: invoker is required")
	}
	rules := cfg.Rules
	if rules == nil {
		rules = DefaultRules()
	}
	formatter := cfg.Formatter
	if formatter == nil {
		formatter = NewFormatter(DefaultMaxReplyBytes)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		rules:     rules,
		invoker:   cfg.Invoker,
		formatter: formatter,
		sender:    cfg.Sender,
		dedupe:    cfg.Dedupe,
		logger:    logger.With("component", "bridge"),
	}, nil
}

// HandleText routes text to a tool and returns the formatted reply. Tool failures come
// back as reply text; only invoker transport errors are returned.
func (b *Bridge) HandleText(ctx context.Context, text string) (string, error) {
	route := Resolve(b.rules, text)
	b.logger.Debug("routed message", "rule", route.Rule, "tool", route.Tool)

	result, err := b.invoker.Invoke(ctx, route.Tool, route.Args)
	if err != nil {
		return "", fmt.Errorf("invoking %s: %w", route.Tool, err)
	}
	if result.IsError {
		b.logger.Warn("tool reported failure", "tool", route.Tool, "text", result.Text())
	}
	return b.formatter.Format(result.Text()), nil
}

// Handle processes one inbound message end to end and delivers the reply through the
// configured Sender.
func (b *Bridge) Handle(ctx context.Context, msg TextMessage) error {
	if b.dedupe != nil && msg.ID != "" {
		fresh, err := b.dedupe.SetNX(ctx, "bridge:msg:"+msg.ID, []byte(msg.From), DedupeTTL)
		if err != nil {
			b.logger.Warn("dedupe check failed, processing anyway", "id", msg.ID, "error", err)
		} else if !fresh {
			b.logger.Debug("dropping duplicate message", "id", msg.ID)
			return ErrDuplicate
		}
	}

	reply, err := b.HandleText(ctx, msg.Body)
	if err != nil {
		b.logger.Error("handling message failed", "id", msg.ID, "error", err)
		reply = "Sorry, something went wrong while handling your request. Please try again."
	}

	if b.sender == nil {
		b.logger.Info("no sender configured, dropping reply", "to", msg.From, "length", len(reply))
		return err
	}
	if sendErr := b.sender.Send(ctx, msg.From, reply); sendErr != nil {
		return errors.Join(err, sendErr)
	}
	b.logger.Info("sent reply", "to", msg.From, "length", len(reply))
	return err
}
