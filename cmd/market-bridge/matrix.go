// ABOUTME: Matrix channel for market-bridge
// ABOUTME: Syncs with the homeserver and answers room messages through the rule bridge

package main

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/market-gateway/internal/bridge"
)

// typingTimeout is the duration the typing indicator shows.
const typingTimeout = 30 * time.Second

// networkTimeout bounds individual Matrix API calls.
const networkTimeout = 10 * time.Second

// MatrixChannel connects Matrix rooms to a Bridge.
type MatrixChannel struct {
	config MatrixConfig
	opts   BridgeConfig
	client *mautrix.Client
	bridge *bridge.Bridge
	logger *slog.Logger

	// rooms with a message in flight; later messages in the same room are dropped
	processing sync.Map
	wg         sync.WaitGroup
}

// NewMatrixChannel creates the Matrix client. Login happens in Run when only a
// password is configured.
func NewMatrixChannel(cfg MatrixConfig, opts BridgeConfig, b *bridge.Bridge, logger *slog.Logger) (*MatrixChannel, error) {
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	return &MatrixChannel{
		config: cfg,
		opts:   opts,
		client: client,
		bridge: b,
		logger: logger.With("component", "matrix"),
	}, nil
}

func (m *MatrixChannel) login(ctx context.Context) error {
	if m.config.AccessToken != "" {
		return nil
	}
	resp, err := m.client.Login(ctx, &mautrix.ReqLogin{
		Type:             mautrix.AuthTypePassword,
		Identifier:       mautrix.UserIdentifier{Type: mautrix.IdentifierTypeUser, User: m.config.Username},
		Password:         m.config.Password,
		StoreCredentials: true,
	})
	if err != nil {
		return fmt.Errorf("matrix login: %w", err)
	}
	m.logger.Info("logged in", "user_id", resp.UserID.String(), "device_id", string(resp.DeviceID))
	return nil
}

// Run syncs until ctx is cancelled, then waits for in-flight replies.
func (m *MatrixChannel) Run(ctx context.Context) error {
	if err := m.login(ctx); err != nil {
		return err
	}

	syncer, ok := m.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", m.client.Syncer)
	}
	syncer.OnSync(m.client.DontProcessOldEvents)
	syncer.OnEventType(event.EventMessage, func(_ context.Context, evt *event.Event) {
		m.handleMessageEvent(ctx, evt)
	})

	m.logger.Info("connecting to matrix homeserver", "homeserver", m.config.Homeserver)
	err := m.client.SyncWithContext(ctx)
	m.wg.Wait()
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("matrix sync failed: %w", err)
	}
	return nil
}

// messageText extracts the command text, or "" when the event should be ignored.
func (m *MatrixChannel) messageText(evt *event.Event) string {
	if evt.Sender == m.client.UserID {
		return ""
	}
	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return ""
	}
	if !m.isRoomAllowed(evt.RoomID.String()) {
		m.logger.Debug("ignoring message from non-allowed room", "room", evt.RoomID.String())
		return ""
	}

	body := content.Body
	if prefix := m.opts.CommandPrefix; prefix != "" {
		if !strings.HasPrefix(body, prefix) {
			return ""
		}
		body = strings.TrimPrefix(body, prefix)
	}
	return strings.TrimSpace(body)
}

func (m *MatrixChannel) handleMessageEvent(ctx context.Context, evt *event.Event) {
	text := m.messageText(evt)
	if text == "" {
		return
	}

	room := evt.RoomID
	if _, busy := m.processing.LoadOrStore(room, true); busy {
		m.logger.Debug("already processing message in room, dropping", "room", room.String())
		return
	}

	m.logger.Info("received message", "room", room.String(), "sender", evt.Sender.String())
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.processing.Delete(room)
		m.reply(ctx, room, text)
	}()
}

func (m *MatrixChannel) reply(ctx context.Context, room id.RoomID, text string) {
	if m.opts.TypingIndicator {
		m.setTyping(room, true)
		defer m.setTyping(room, false)
	}

	reply, err := m.bridge.HandleText(ctx, text)
	if err != nil {
		m.logger.Error("bridge request failed", "room", room.String(), "error", err)
		reply = "Sorry, the market gateway is unavailable right now."
	}

	sendCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := m.client.SendText(sendCtx, room, reply); err != nil {
		m.logger.Error("failed to send message", "room", room.String(), "error", err)
	}
}

func (m *MatrixChannel) isRoomAllowed(roomID string) bool {
	return len(m.opts.AllowedRooms) == 0 || slices.Contains(m.opts.AllowedRooms, roomID)
}

func (m *MatrixChannel) setTyping(room id.RoomID, typing bool) {
	var timeout time.Duration
	if typing {
		timeout = typingTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), networkTimeout)
	defer cancel()
	if _, err := m.client.UserTyping(ctx, room, typing, timeout); err != nil {
		m.logger.Debug("failed to set typing indicator", "room", room.String(), "error", err)
	}
}
