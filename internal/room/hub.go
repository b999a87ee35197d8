package room

import (
	"log"
	"sync"
)

// Info is the REST projection of one live room.
type Info struct {
	ID           string `json:"id"`
	Participants int    `json:"participants"`
	Host         string `json:"host,omitempty"`
}

// Hub owns room lifecycle: rooms are created lazily on first join and
// destroyed when empty. Rooms are fully independent of each other.
type Hub struct {
	mu        sync.RWMutex
	rooms     map[string]*Room
	opts      Options
	onDestroy func(roomID string)
}

// NewHub creates a hub applying opts to every room it creates.
func NewHub(opts Options) *Hub {
	return &Hub{
		rooms: make(map[string]*Room),
		opts:  opts,
	}
}

// SetOnDestroy registers a hook run after a room is removed, used to drop
// the room's cache mirror.
func (h *Hub) SetOnDestroy(fn func(roomID string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onDestroy = fn
}

// GetOrCreate returns the room for id, creating it on first join.
func (h *Hub) GetOrCreate(id string) (*Room, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if rm, ok := h.rooms[id]; ok {
		return rm, false
	}
	rm := New(id, h.opts)
	h.rooms[id] = rm
	log.Printf("[Hub] created room %s", id)
	return rm, true
}

// Get looks up a room without creating it.
func (h *Hub) Get(id string) (*Room, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rm, ok := h.rooms[id]
	return rm, ok
}

// Remove destroys a room unconditionally.
func (h *Hub) Remove(id string) {
	h.mu.Lock()
	_, ok := h.rooms[id]
	if ok {
		delete(h.rooms, id)
	}
	fn := h.onDestroy
	h.mu.Unlock()

	if ok {
		log.Printf("[Hub] removed room %s", id)
		if fn != nil {
			fn(id)
		}
	}
}

// RemoveIfEmpty destroys a room once its last participant has left.
func (h *Hub) RemoveIfEmpty(id string) {
	h.mu.Lock()
	rm, ok := h.rooms[id]
	if ok && rm.Empty() {
		delete(h.rooms, id)
	} else {
		ok = false
	}
	fn := h.onDestroy
	h.mu.Unlock()

	if ok {
		log.Printf("[Hub] removed empty room %s", id)
		if fn != nil {
			fn(id)
		}
	}
}

// CleanupEmptyRooms sweeps rooms that went quiet without a clean leave.
func (h *Hub) CleanupEmptyRooms() {
	h.mu.RLock()
	ids := make([]string, 0, len(h.rooms))
	for id, rm := range h.rooms {
		if rm.Empty() {
			ids = append(ids, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range ids {
		h.RemoveIfEmpty(id)
	}
}

// List projects every live room for the REST surface.
func (h *Hub) List() []Info {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Info, 0, len(h.rooms))
	for id, rm := range h.rooms {
		out = append(out, Info{
			ID:           id,
			Participants: rm.Size(),
			Host:         rm.HostID(),
		})
	}
	return out
}
