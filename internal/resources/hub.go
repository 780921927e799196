package resources

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var ErrInvalidStoreName = errors.New("resources: invalid store name")

// Hub is the process-wide set of named stores shared by all connections.
type Hub struct {
	mu     sync.Mutex
	stores map[string]*KV
}

func NewHub() *Hub {
	return &Hub{stores: make(map[string]*KV)}
}

// ValidateName checks the store name format: lowercase letters, digits and
// single '.', '-', '_' separators, not leading or trailing.
func ValidateName(name string) error {
	if !isValidName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidStoreName, name)
	}
	return nil
}

// Open returns the named store, creating it on first use. A closed store
// is replaced by a fresh one.
func (h *Hub) Open(name string) (*KV, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if kv, ok := h.stores[name]; ok && !kv.Closed() {
		return kv, nil
	}
	kv := NewKV(name)
	h.stores[name] = kv
	return kv, nil
}

func (h *Hub) Lookup(name string) (*KV, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	kv, ok := h.stores[name]
	if !ok || kv.Closed() {
		return nil, false
	}
	return kv, true
}

// Names lists open stores in sorted order.
func (h *Hub) Names() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.stores))
	for name, kv := range h.stores {
		if !kv.Closed() {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// CloseStore closes and forgets the named store.
func (h *Hub) CloseStore(name string, reason string) bool {
	h.mu.Lock()
	kv, ok := h.stores[name]
	delete(h.stores, name)
	h.mu.Unlock()
	if ok {
		kv.Close(reason)
	}
	return ok
}

// Close closes every store.
func (h *Hub) Close(reason string) {
	h.mu.Lock()
	stores := h.stores
	h.stores = make(map[string]*KV)
	h.mu.Unlock()
	for _, kv := range stores {
		kv.Close(reason)
	}
}

func isValidName(name string) bool {
	if name == "" || len(name) > 128 {
		return false
	}
	lastSep := false
	for i := 0; i < len(name); i++ {
		c := name[i]
		isLower := c >= 'a' && c <= 'z'
		isDigit := c >= '0' && c <= '9'
		isSep := c == '.' || c == '-' || c == '_'
		if !(isLower || isDigit || isSep) {
			return false
		}
		if (i == 0 || i == len(name)-1) && isSep {
			return false
		}
		if isSep && lastSep {
			return false
		}
		lastSep = isSep
	}
	return true
}
