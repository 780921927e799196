package transport

import (
	"context"
	"sync"

	"github.com/danmuck/edgerpc/internal/protocol"
	"github.com/danmuck/edgerpc/internal/protocol/schema"
)

// pipeShared is the closed state of a pipe pair.
type pipeShared struct {
	once sync.Once
	done chan struct{}
}

type inbox struct {
	mu     sync.Mutex
	items  []protocol.Message
	notify chan struct{}
}

func newInbox() *inbox {
	return &inbox{notify: make(chan struct{}, 1)}
}

func (q *inbox) push(msg protocol.Message) {
	q.mu.Lock()
	q.items = append(q.items, msg)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *inbox) pop() (protocol.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return protocol.Message{}, false
	}
	msg := q.items[0]
	q.items[0] = protocol.Message{}
	q.items = q.items[1:]
	return msg, true
}

// PipeEnd is one side of an in-process transport pair. Sends never block;
// values are handed over without serialization.
type PipeEnd struct {
	in     *inbox
	out    *inbox
	shared *pipeShared
}

// NewPipe returns two connected ends.
func NewPipe() (*PipeEnd, *PipeEnd) {
	shared := &pipeShared{done: make(chan struct{})}
	a, b := newInbox(), newInbox()
	return &PipeEnd{in: a, out: b, shared: shared}, &PipeEnd{in: b, out: a, shared: shared}
}

func (p *PipeEnd) Send(msg protocol.Message) error {
	select {
	case <-p.shared.done:
		return ErrClosed
	default:
	}
	p.out.push(msg)
	return nil
}

// Recv returns queued envelopes in order; after Close it drains what was
// already queued and then reports ErrClosed.
func (p *PipeEnd) Recv(ctx context.Context) (protocol.Message, error) {
	for {
		if msg, ok := p.in.pop(); ok {
			return msg, nil
		}
		select {
		case <-ctx.Done():
			return protocol.Message{}, ctx.Err()
		case <-p.shared.done:
			if msg, ok := p.in.pop(); ok {
				return msg, nil
			}
			return protocol.Message{}, ErrClosed
		case <-p.in.notify:
		}
	}
}

// Close closes both ends.
func (p *PipeEnd) Close() error {
	p.shared.once.Do(func() { close(p.shared.done) })
	return nil
}

func (p *PipeEnd) Encoding() schema.Encoding {
	return schema.EncodingBuffer
}
