package dispatcher

// Handle is a generation-checked reference to an arena slot. A handle to
// a disposed object never resolves, even after its slot is reused.
type Handle struct {
	index uint32
	gen   uint32
}

func (h Handle) Valid() bool { return h.gen != 0 }

type slot struct {
	obj  *Object
	gen  uint32
	live bool
}

// arena owns the guid table. Callers hold Connection.mu.
type arena struct {
	slots  []slot
	free   []uint32
	byGUID map[string]Handle
}

func newArena() *arena {
	return &arena{byGUID: make(map[string]Handle)}
}

func (a *arena) insert(obj *Object) Handle {
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.slots = append(a.slots, slot{})
		idx = uint32(len(a.slots) - 1)
	}
	s := &a.slots[idx]
	s.gen++
	s.obj = obj
	s.live = true
	h := Handle{index: idx, gen: s.gen}
	a.byGUID[obj.guid] = h
	return h
}

func (a *arena) get(h Handle) (*Object, bool) {
	if !h.Valid() || int(h.index) >= len(a.slots) {
		return nil, false
	}
	s := a.slots[h.index]
	if !s.live || s.gen != h.gen {
		return nil, false
	}
	return s.obj, true
}

func (a *arena) lookup(guid string) (*Object, bool) {
	h, ok := a.byGUID[guid]
	if !ok {
		return nil, false
	}
	return a.get(h)
}

func (a *arena) has(guid string) bool {
	_, ok := a.byGUID[guid]
	return ok
}

// remove marks the slot dead. The slot is recycled by a later insert with
// a bumped generation.
func (a *arena) remove(h Handle) {
	if !h.Valid() || int(h.index) >= len(a.slots) {
		return
	}
	s := &a.slots[h.index]
	if !s.live || s.gen != h.gen {
		return
	}
	delete(a.byGUID, s.obj.guid)
	s.live = false
	s.obj = nil
	a.free = append(a.free, h.index)
}

func (a *arena) len() int {
	return len(a.byGUID)
}
