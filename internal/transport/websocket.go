package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/danmuck/edgerpc/internal/protocol"
	"github.com/danmuck/edgerpc/internal/protocol/schema"
	"github.com/danmuck/edgerpc/internal/protocol/session"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// WebSocket carries one JSON envelope per text message.
type WebSocket struct {
	conn *websocket.Conn
	wto  time.Duration

	wmu       sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func NewWebSocket(conn *websocket.Conn, writeTimeout time.Duration, heartbeat time.Duration) *WebSocket {
	ws := &WebSocket{conn: conn, wto: writeTimeout, done: make(chan struct{})}
	if heartbeat > 0 {
		go ws.heartbeat(heartbeat)
	}
	return ws
}

func (w *WebSocket) Send(msg protocol.Message) error {
	select {
	case <-w.done:
		return ErrClosed
	default:
	}
	w.wmu.Lock()
	defer w.wmu.Unlock()
	if w.wto > 0 {
		_ = w.conn.SetWriteDeadline(time.Now().Add(w.wto))
	}
	if err := w.conn.WriteJSON(msg); err != nil {
		if w.isClosed() {
			return ErrClosed
		}
		return err
	}
	return nil
}

// Recv blocks for the next envelope. Cancelling ctx closes the socket.
func (w *WebSocket) Recv(ctx context.Context) (protocol.Message, error) {
	stop := context.AfterFunc(ctx, func() { _ = w.Close() })
	defer stop()
	var msg protocol.Message
	if err := w.conn.ReadJSON(&msg); err != nil {
		if ctx.Err() != nil {
			return protocol.Message{}, ctx.Err()
		}
		var closeErr *websocket.CloseError
		if w.isClosed() || errors.As(err, &closeErr) {
			return protocol.Message{}, fmt.Errorf("%w: %v", ErrClosed, err)
		}
		return protocol.Message{}, err
	}
	return msg, nil
}

func (w *WebSocket) heartbeat(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(every)
			if err := w.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Debug().Err(err).Msg("transport.WebSocket.heartbeat stopped")
				_ = w.Close()
				return
			}
		}
	}
}

func (w *WebSocket) isClosed() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// Close sends a normal close frame best-effort and closes the socket.
func (w *WebSocket) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		_ = w.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = w.conn.Close()
	})
	return err
}

func (w *WebSocket) Encoding() schema.Encoding {
	return schema.EncodingBase64
}

// DialWebSocket opens a websocket session at url (ws:// or wss://).
func DialWebSocket(ctx context.Context, url string, cfg session.Config) (*WebSocket, error) {
	cfg = cfg.WithDefaults()
	tlsCfg, err := cfg.ClientTLS()
	if err != nil {
		return nil, err
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
		TLSClientConfig:  tlsCfg,
	}
	header := http.Header{}
	if cfg.AuthToken != "" {
		header.Set("Authorization", "Bearer "+cfg.AuthToken)
	}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("transport: websocket dial %s: %s: %w", url, resp.Status, err)
		}
		return nil, err
	}
	return NewWebSocket(conn, cfg.WriteTimeout, cfg.HeartbeatInterval), nil
}
