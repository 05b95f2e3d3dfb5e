// Package websocket adapts a gorilla connection to the matchmaker transport.
package websocket

import (
	"chat-roulette/contract"
	"chat-roulette/domain/matchmaking"
	"chat-roulette/domain/protocol"
	"chat-roulette/errors"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type Settings struct {
	BufferSize   int
	WriteWait    time.Duration
	PongWait     time.Duration
	MaxFrameSize int64
}

func DefaultSettings(bufferSize int) Settings {
	return Settings{
		BufferSize:   bufferSize,
		WriteWait:    10 * time.Second,
		PongWait:     60 * time.Second,
		MaxFrameSize: 4096,
	}
}

func (s Settings) pingPeriod() time.Duration {
	return (s.PongWait * 9) / 10
}

// Conn is one client connection.
// Frames sent to it are queued and written by a single writer goroutine,
// Send never blocks.
type Conn struct {
	id         string
	ws         *websocket.Conn
	settings   Settings
	matchmaker contract.IMatchmaker
	log        *slog.Logger
	send       chan protocol.Outbound
	done       chan struct{}
	closeOnce  sync.Once
}

func NewConn(ws *websocket.Conn, matchmaker contract.IMatchmaker, settings Settings, log *slog.Logger) *Conn {
	id := uuid.NewString()
	return &Conn{
		id:         id,
		ws:         ws,
		settings:   settings,
		matchmaker: matchmaker,
		log:        log.With("session_id", id),
		send:       make(chan protocol.Outbound, settings.BufferSize),
		done:       make(chan struct{}),
	}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Send(out protocol.Outbound) error {
	select {
	case <-c.done:
		return errors.ErrPartnerGone
	default:
	}
	select {
	case c.send <- out:
		return nil
	case <-c.done:
		return errors.ErrPartnerGone
	default:
		return fmt.Errorf("%w: send buffer full", errors.ErrPartnerGone)
	}
}

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		deadline := time.Now().Add(c.settings.WriteWait)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Serve pumps frames until either side closes, then reports the departure.
// It blocks for the whole life of the connection.
func (c *Conn) Serve(ctx context.Context, sessionID matchmaking.SessionID) {
	go c.writePump()
	c.readPump(ctx, sessionID)

	disconnectCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.settings.WriteWait)
	defer cancel()
	if err := c.matchmaker.Disconnect(disconnectCtx, sessionID); err != nil {
		c.log.Debug("Disconnect not delivered", "error", err)
	}
	_ = c.Close()
}

func (c *Conn) readPump(ctx context.Context, sessionID matchmaking.SessionID) {
	c.ws.SetReadLimit(c.settings.MaxFrameSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.settings.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.settings.PongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("Read error", "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.settings.PongWait))

		in, err := protocol.Decode(data)
		if err != nil {
			c.log.Debug("Malformed frame", "error", err)
			_ = c.Send(protocol.Error(protocol.MsgInvalid))
			continue
		}
		if err := c.matchmaker.Deliver(ctx, sessionID, in); err != nil {
			if errors.Is(err, errors.ErrMatchmakerStopped) {
				return
			}
			c.log.Warn("Frame not delivered", "error", err)
			_ = c.Send(protocol.Error(protocol.MsgUnavailable))
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.settings.pingPeriod())
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case out := <-c.send:
			data, err := protocol.Encode(out)
			if err != nil {
				c.log.Warn("Failed to encode frame", "type", out.Type, "error", err)
				continue
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.settings.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = c.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.settings.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}
