package transport

import (
	"context"
	"errors"

	"github.com/danmuck/edgerpc/internal/protocol"
	"github.com/danmuck/edgerpc/internal/protocol/schema"
)

var ErrClosed = errors.New("transport: closed")

// Transport is a bidirectional envelope stream. Send is safe for
// concurrent use; Recv is called from one reader goroutine.
type Transport interface {
	Send(msg protocol.Message) error
	Recv(ctx context.Context) (protocol.Message, error)
	Close() error
	// Encoding reports how binary values cross this transport.
	Encoding() schema.Encoding
}
