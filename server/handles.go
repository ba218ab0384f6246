package server

import (
	"sync"

	"github.com/telekv/telekv/kv"
)

// handleEntry is the server-side state behind one iterator handle: the live cursor and
// the connection that owns it. Clients only ever hold the numeric id.
type handleEntry struct {
	iter   kv.Iterator
	connID int64
}

// handleTable is the one shared mutable structure in the server. It maps handle ids to
// iterator state behind a narrow add/get/remove interface; ids come from a counter that
// never repeats for the lifetime of the server.
type handleTable struct {
	lock     sync.Mutex
	sequence uint64
	entries  map[uint64]*handleEntry
}

func newHandleTable() *handleTable {
	return &handleTable{entries: map[uint64]*handleEntry{}}
}

func (h *handleTable) add(iter kv.Iterator, connID int64) uint64 {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.sequence++
	id := h.sequence
	h.entries[id] = &handleEntry{iter: iter, connID: connID}
	return id
}

func (h *handleTable) get(id uint64) (kv.Iterator, bool) {
	h.lock.Lock()
	defer h.lock.Unlock()
	entry, ok := h.entries[id]
	if !ok {
		return nil, false
	}
	return entry.iter, true
}

func (h *handleTable) remove(id uint64) (kv.Iterator, bool) {
	h.lock.Lock()
	defer h.lock.Unlock()
	entry, ok := h.entries[id]
	if !ok {
		return nil, false
	}
	delete(h.entries, id)
	return entry.iter, true
}

// removeConnection removes and returns every handle owned by connID, so abandoned
// cursors are reclaimed when their connection goes away.
func (h *handleTable) removeConnection(connID int64) []kv.Iterator {
	h.lock.Lock()
	defer h.lock.Unlock()
	var iters []kv.Iterator
	for id, entry := range h.entries {
		if entry.connID == connID {
			delete(h.entries, id)
			iters = append(iters, entry.iter)
		}
	}
	return iters
}

func (h *handleTable) count() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.entries)
}
