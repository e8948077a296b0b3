package runtime

import (
	"sync"
)

// registry assigns slot ids to live instances. Freed slots are reused
// lowest first; when every slot is taken the table doubles. Ids never change
// once issued.
type registry struct {
	slots []*Instance
	live  int
	mu    sync.RWMutex
}

func newRegistry(initial int) *registry {
	if initial < 1 {
		initial = 1
	}
	return &registry{slots: make([]*Instance, initial)}
}

// acquire stores inst in the lowest free slot and returns its id.
func (r *registry) acquire(inst *Instance) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, s := range r.slots {
		if s == nil {
			r.slots[id] = inst
			r.live++
			return id
		}
	}
	id := len(r.slots)
	r.slots = append(r.slots, make([]*Instance, len(r.slots))...)
	r.slots[id] = inst
	r.live++
	return id
}

// release frees slot id if it still holds inst.
func (r *registry) release(id int, inst *Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id >= 0 && id < len(r.slots) && r.slots[id] == inst {
		r.slots[id] = nil
		r.live--
	}
}

func (r *registry) get(id int) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id < 0 || id >= len(r.slots) || r.slots[id] == nil {
		return nil, false
	}
	return r.slots[id], true
}

// instances returns the live instances in slot order.
func (r *registry) instances() []*Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Instance, 0, r.live)
	for _, s := range r.slots {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (r *registry) capacity() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.slots)
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.live
}
