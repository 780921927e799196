package resources

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	EventChanged = "changed"
	EventClosed  = "closed"
)

var (
	ErrStoreClosed = errors.New("resources: store closed")
	ErrMissingKey  = errors.New("resources: missing key")
)

// Change is the payload of EventChanged.
type Change struct {
	Key     string
	Value   []byte
	Deleted bool
}

// KV is a named in-memory key/value store.
type KV struct {
	Emitter

	name   string
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
	reason string
}

func NewKV(name string) *KV {
	return &KV{name: name, data: make(map[string][]byte)}
}

func (k *KV) Name() string {
	return k.name
}

func (k *KV) Put(key string, value []byte) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrMissingKey
	}
	stored := append([]byte(nil), value...)
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrStoreClosed, k.name)
	}
	k.data[key] = stored
	k.mu.Unlock()

	k.Emit(EventChanged, Change{Key: key, Value: stored})
	return nil
}

// Get returns a copy of the stored value.
func (k *KV) Get(key string) ([]byte, bool, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed {
		return nil, false, fmt.Errorf("%w: %s", ErrStoreClosed, k.name)
	}
	v, ok := k.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// Delete removes key and reports whether it existed.
func (k *KV) Delete(key string) (bool, error) {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrStoreClosed, k.name)
	}
	_, ok := k.data[key]
	delete(k.data, key)
	k.mu.Unlock()

	if ok {
		k.Emit(EventChanged, Change{Key: key, Deleted: true})
	}
	return ok, nil
}

// Keys lists keys with the given prefix in sorted order.
func (k *KV) Keys(prefix string) []string {
	k.mu.RLock()
	keys := make([]string, 0, len(k.data))
	for key := range k.data {
		if prefix == "" || strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	k.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

func (k *KV) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.data)
}

// Close drops the contents and emits EventClosed with the reason once.
func (k *KV) Close(reason string) {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return
	}
	k.closed = true
	k.reason = reason
	k.data = make(map[string][]byte)
	k.mu.Unlock()

	log.Debug().Str("store", k.name).Str("reason", reason).Msg("resources.KV.Close")
	k.Emit(EventClosed, reason)
}

func (k *KV) Closed() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.closed
}

// CloseReason is the reason given to Close, empty while open.
func (k *KV) CloseReason() string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.reason
}
