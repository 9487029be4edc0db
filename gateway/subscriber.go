// Package gateway maintains a websocket subscription to the chat platform's
// event stream and dispatches message and reaction events to a Handler.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onnwee/guild-mirror/backend/discord"
	"github.com/onnwee/guild-mirror/backend/telemetry"
)

const (
	reconnectBackoff  = 5 * time.Second
	statsLogInterval  = 30 * time.Second
	defaultGatewayURL = "wss://gateway.discord.gg/?v=10&encoding=json"
)

// Handler receives decoded gateway events. Implementations must be safe to
// call from the subscriber's read loop.
type Handler interface {
	HandleMessageCreate(ctx context.Context, msg discord.Message)
	HandleMessageUpdate(ctx context.Context, msg discord.Message)
	HandleMessageDelete(ctx context.Context, channelID, messageID string)
	HandleReactionAdd(ctx context.Context, r discord.Reaction)
	HandleReactionRemove(ctx context.Context, r discord.Reaction)
}

// Subscriber connects to the gateway and processes dispatch events.
type Subscriber struct {
	url     string
	token   string
	handler Handler
	logger  *slog.Logger
}

// NewSubscriber creates a subscriber for the given gateway URL. An empty URL
// selects the platform default.
func NewSubscriber(gatewayURL, token string, handler Handler, logger *slog.Logger) *Subscriber {
	if gatewayURL == "" {
		gatewayURL = defaultGatewayURL
	}
	return &Subscriber{
		url:     gatewayURL,
		token:   token,
		handler: handler,
		logger:  logger,
	}
}

// Start connects to the gateway and processes events until the context is
// cancelled. It automatically reconnects on transient errors.
func (s *Subscriber) Start(ctx context.Context) error {
	first := true
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if !first {
				telemetry.IncGatewayReconnects()
			}
			first = false
			if err := s.subscribe(ctx); err != nil {
				s.logger.Error("gateway connection error, reconnecting", "error", err)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(reconnectBackoff):
					// backoff before reconnecting
				}
			}
		}
	}
}

func (s *Subscriber) subscribe(ctx context.Context) error {
	s.logger.Info("connecting to gateway", "url", s.url)

	rawConn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}
	defer rawConn.Close()
	// The heartbeat goroutine and the read loop both write frames; the
	// connection permits one writer at a time.
	conn := &lockedConn{Conn: rawConn}

	interval, err := s.readHello(conn)
	if err != nil {
		return err
	}

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	var lastSeq atomic.Int64
	go s.heartbeatLoop(heartbeatCtx, conn, interval, &lastSeq)

	if err := s.identify(conn); err != nil {
		return err
	}

	s.logger.Info("connected to gateway", "heartbeat_interval", interval)

	var eventsReceived, messagesSeen, reactionsSeen int64
	lastStatsLog := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var p payload
		if err := conn.ReadJSON(&p); err != nil {
			return fmt.Errorf("read frame: %w", err)
		}
		if p.S > 0 {
			lastSeq.Store(p.S)
		}

		switch p.Op {
		case opDispatch:
			eventsReceived++
			kind := s.dispatch(ctx, p)
			switch kind {
			case dispatchMessage:
				messagesSeen++
			case dispatchReaction:
				reactionsSeen++
			}
		case opHeartbeat:
			if err := writeHeartbeat(conn, lastSeq.Load()); err != nil {
				return fmt.Errorf("heartbeat on request: %w", err)
			}
		case opReconnect:
			return fmt.Errorf("server requested reconnect")
		case opInvalidSession:
			return fmt.Errorf("session invalidated")
		case opHeartbeatACK:
			// nothing to do
		}

		if time.Since(lastStatsLog) >= statsLogInterval {
			s.logger.Info("gateway stats",
				"events_received", eventsReceived,
				"messages_seen", messagesSeen,
				"reactions_seen", reactionsSeen,
			)
			lastStatsLog = time.Now()
		}
	}
}

func (s *Subscriber) readHello(conn *lockedConn) (time.Duration, error) {
	var p payload
	if err := conn.ReadJSON(&p); err != nil {
		return 0, fmt.Errorf("read hello: %w", err)
	}
	if p.Op != opHello {
		return 0, fmt.Errorf("expected hello, got op %d", p.Op)
	}
	var hello helloData
	if err := json.Unmarshal(p.D, &hello); err != nil {
		return 0, fmt.Errorf("unmarshal hello: %w", err)
	}
	if hello.HeartbeatInterval <= 0 {
		return 0, fmt.Errorf("hello without heartbeat interval")
	}
	return time.Duration(hello.HeartbeatInterval) * time.Millisecond, nil
}

func (s *Subscriber) identify(conn *lockedConn) error {
	d, err := json.Marshal(identifyData{
		Token:   s.token,
		Intents: identifyIntents,
		Properties: identifyProperties{
			OS:      runtime.GOOS,
			Browser: "guild-mirror",
			Device:  "guild-mirror",
		},
	})
	if err != nil {
		return fmt.Errorf("marshal identify: %w", err)
	}
	if err := conn.WriteJSON(payload{Op: opIdentify, D: d}); err != nil {
		return fmt.Errorf("send identify: %w", err)
	}
	return nil
}

func (s *Subscriber) heartbeatLoop(ctx context.Context, conn *lockedConn, interval time.Duration, lastSeq *atomic.Int64) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writeHeartbeat(conn, lastSeq.Load()); err != nil {
				s.logger.Error("heartbeat failed", "error", err)
				conn.Close()
				return
			}
		}
	}
}

func writeHeartbeat(conn *lockedConn, seq int64) error {
	var d json.RawMessage
	if seq > 0 {
		d = json.RawMessage(fmt.Sprintf("%d", seq))
	} else {
		d = json.RawMessage("null")
	}
	return conn.WriteJSON(payload{Op: opHeartbeat, D: d})
}

// lockedConn serializes frame writes on a shared connection.
type lockedConn struct {
	*websocket.Conn
	writeMu sync.Mutex
}

func (c *lockedConn) WriteJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.WriteJSON(v)
}

type dispatchKind int

const (
	dispatchOther dispatchKind = iota
	dispatchMessage
	dispatchReaction
)

func (s *Subscriber) dispatch(ctx context.Context, p payload) dispatchKind {
	switch p.T {
	case "MESSAGE_CREATE":
		msg, err := parseMessage(p.D)
		if err != nil {
			s.logger.Error("failed to parse message create", "error", err)
			return dispatchOther
		}
		s.handler.HandleMessageCreate(ctx, msg)
		return dispatchMessage

	case "MESSAGE_UPDATE":
		msg, err := parseMessage(p.D)
		if err != nil {
			// partial updates without an id or author are not actionable
			s.logger.Debug("skipping partial message update", "error", err)
			return dispatchOther
		}
		s.handler.HandleMessageUpdate(ctx, msg)
		return dispatchMessage

	case "MESSAGE_DELETE":
		var wd wireDelete
		if err := json.Unmarshal(p.D, &wd); err != nil {
			s.logger.Error("failed to parse message delete", "error", err)
			return dispatchOther
		}
		s.handler.HandleMessageDelete(ctx, wd.ChannelID, wd.ID)
		return dispatchMessage

	case "MESSAGE_REACTION_ADD":
		r, err := parseReaction(p.D)
		if err != nil {
			s.logger.Error("failed to parse reaction add", "error", err)
			return dispatchOther
		}
		s.handler.HandleReactionAdd(ctx, r)
		return dispatchReaction

	case "MESSAGE_REACTION_REMOVE":
		r, err := parseReaction(p.D)
		if err != nil {
			s.logger.Error("failed to parse reaction remove", "error", err)
			return dispatchOther
		}
		s.handler.HandleReactionRemove(ctx, r)
		return dispatchReaction
	}
	return dispatchOther
}
