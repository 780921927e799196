package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/danmuck/edgerpc/internal/protocol"
	"github.com/danmuck/edgerpc/internal/protocol/frame"
	"github.com/danmuck/edgerpc/internal/protocol/schema"
	"github.com/danmuck/edgerpc/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

// Frame kinds beyond protocol.Kind values.
const (
	frameKindPing uint32 = 0x100
)

type StreamOptions struct {
	// Reader replaces conn for reads, e.g. the buffered reader left over
	// from the handshake.
	Reader       io.Reader
	Limits       frame.Limits
	WriteTimeout time.Duration
	Heartbeat    time.Duration
}

// Stream carries JSON envelopes in length-delimited frames.
type Stream struct {
	conn   io.ReadWriteCloser
	r      io.Reader
	limits frame.Limits
	wto    time.Duration

	wmu       sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func NewStream(conn io.ReadWriteCloser, opts StreamOptions) *Stream {
	s := &Stream{
		conn:   conn,
		r:      opts.Reader,
		limits: opts.Limits,
		wto:    opts.WriteTimeout,
		done:   make(chan struct{}),
	}
	if s.r == nil {
		s.r = conn
	}
	if s.limits.MaxPayloadBytes == 0 {
		s.limits = frame.DefaultLimits()
	}
	if opts.Heartbeat > 0 {
		go s.heartbeat(opts.Heartbeat)
	}
	return s
}

func (s *Stream) Send(msg protocol.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("transport: encode envelope: %w", err)
	}
	var flags uint32
	if msg.Kind() == protocol.KindReply {
		flags |= frame.FlagIsReply
		if msg.Error != nil {
			flags |= frame.FlagIsError
		}
	}
	return s.write(frame.New(msg.ID, uint32(msg.Kind()), flags, payload))
}

func (s *Stream) write(f frame.Frame) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if nc, ok := s.conn.(net.Conn); ok && s.wto > 0 {
		_ = nc.SetWriteDeadline(time.Now().Add(s.wto))
	}
	if err := frame.WriteFrame(s.conn, f, s.limits); err != nil {
		if s.isClosed() {
			return ErrClosed
		}
		return err
	}
	return nil
}

// Recv blocks for the next envelope. Cancelling ctx closes the stream.
func (s *Stream) Recv(ctx context.Context) (protocol.Message, error) {
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()
	for {
		f, err := frame.ReadFrame(s.r, s.limits)
		if err != nil {
			if ctx.Err() != nil {
				return protocol.Message{}, ctx.Err()
			}
			if s.isClosed() || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return protocol.Message{}, fmt.Errorf("%w: %v", ErrClosed, err)
			}
			return protocol.Message{}, err
		}
		if f.Header.MessageKind == frameKindPing {
			continue
		}
		var msg protocol.Message
		if err := json.Unmarshal(f.Payload, &msg); err != nil {
			log.Warn().Err(err).Uint64("frame_id", f.Header.MessageID).Msg("transport.Stream.Recv bad payload")
			return protocol.Message{}, fmt.Errorf("transport: decode envelope: %w", err)
		}
		return msg, nil
	}
}

func (s *Stream) heartbeat(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.write(frame.New(0, frameKindPing, 0, nil)); err != nil {
				log.Debug().Err(err).Msg("transport.Stream.heartbeat stopped")
				_ = s.Close()
				return
			}
		}
	}
}

func (s *Stream) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

func (s *Stream) Encoding() schema.Encoding {
	return schema.EncodingBase64
}

// DialStream connects to a stream listener, upgrades to TLS when cfg asks
// for it, and performs the hello exchange.
func DialStream(ctx context.Context, addr string, clientID string, cfg session.Config) (*Stream, session.HelloAck, error) {
	cfg = cfg.WithDefaults()
	tlsCfg, err := cfg.ClientTLS()
	if err != nil {
		return nil, session.HelloAck{}, err
	}
	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	var conn net.Conn
	if tlsCfg != nil {
		d := &tls.Dialer{Config: tlsCfg}
		conn, err = d.DialContext(dialCtx, "tcp", addr)
	} else {
		var d net.Dialer
		conn, err = d.DialContext(dialCtx, "tcp", addr)
	}
	if err != nil {
		return nil, session.HelloAck{}, err
	}

	_ = conn.SetDeadline(time.Now().Add(cfg.HandshakeTimeout))
	hello := session.Hello{
		ClientID: clientID,
		Version:  session.ProtocolVersion,
		Encoding: schema.EncodingBase64.String(),
		Token:    cfg.AuthToken,
	}
	if err := session.WriteHello(conn, hello); err != nil {
		_ = conn.Close()
		return nil, session.HelloAck{}, err
	}
	br := bufio.NewReader(conn)
	ack, err := session.ReadHelloAck(br)
	if err != nil {
		_ = conn.Close()
		return nil, ack, err
	}
	_ = conn.SetDeadline(time.Time{})

	log.Debug().Str("addr", addr).Str("conn_id", ack.ConnID).Str("server", ack.ServerName).Msg("transport.DialStream connected")
	return NewStream(conn, StreamOptions{
		Reader:       br,
		WriteTimeout: cfg.WriteTimeout,
		Heartbeat:    cfg.HeartbeatInterval,
	}), ack, nil
}

// AdmitFunc accepts or rejects a hello; a non-nil error is sent back as
// the rejection message.
type AdmitFunc func(hello session.Hello) error

// AcceptStream runs the server side of the hello exchange on an accepted
// connection. The connection is closed on failure.
func AcceptStream(conn net.Conn, cfg session.Config, serverName string, connID string, admit AdmitFunc) (*Stream, session.Hello, error) {
	cfg = cfg.WithDefaults()
	_ = conn.SetDeadline(time.Now().Add(cfg.HandshakeTimeout))
	br := bufio.NewReader(conn)
	hello, err := session.ReadHello(br)
	if err != nil {
		_ = conn.Close()
		return nil, hello, err
	}
	ack := session.HelloAck{
		Status:      session.AckStatusAccepted,
		ConnID:      connID,
		ServerName:  serverName,
		TimestampMS: uint64(time.Now().UnixMilli()),
	}
	if admit != nil {
		if rejectErr := admit(hello); rejectErr != nil {
			ack.Status = session.AckStatusRejected
			ack.ConnID = ""
			ack.Message = rejectErr.Error()
			_ = session.WriteHelloAck(conn, ack)
			_ = conn.Close()
			return nil, hello, rejectErr
		}
	}
	if err := session.WriteHelloAck(conn, ack); err != nil {
		_ = conn.Close()
		return nil, hello, err
	}
	_ = conn.SetDeadline(time.Time{})
	return NewStream(conn, StreamOptions{
		Reader:       br,
		WriteTimeout: cfg.WriteTimeout,
		Heartbeat:    cfg.HeartbeatInterval,
	}), hello, nil
}
