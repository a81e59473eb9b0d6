package preview

import (
	"fmt"
	"sync"
)

// Room tracks the connected viewers.
type Room struct {
	mu      sync.Mutex
	limit   int
	viewers map[string]*Viewer
}

func NewRoom(limit int) *Room {
	return &Room{
		limit:   limit,
		viewers: make(map[string]*Viewer),
	}
}

func (r *Room) Add(v *Viewer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.limit > 0 && len(r.viewers) >= r.limit {
		return fmt.Errorf("room full")
	}

	r.viewers[v.ID] = v
	return nil
}

func (r *Room) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.viewers, id)
}

// All returns a copy of the current viewers.
func (r *Room) All() []*Viewer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Viewer, 0, len(r.viewers))
	for _, v := range r.viewers {
		out = append(out, v)
	}
	return out
}

func (r *Room) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.viewers)
}
