package pipeline

import "sync"

// Ownership records which broker message IDs are currently held somewhere
// in the pipeline.
type Ownership struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func NewOwnership() *Ownership {
	return &Ownership{ids: make(map[string]struct{})}
}

// Acquire marks id as owned. It returns false if id was already owned.
func (o *Ownership) Acquire(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.ids[id]; ok {
		return false
	}
	o.ids[id] = struct{}{}
	return true
}

// Release forgets ids. Unknown ids are ignored.
func (o *Ownership) Release(ids ...string) {
	if len(ids) == 0 {
		return
	}
	o.mu.Lock()
	for _, id := range ids {
		delete(o.ids, id)
	}
	o.mu.Unlock()
}

// Owns reports whether id is held.
func (o *Ownership) Owns(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.ids[id]
	return ok
}

// Len returns the number of owned ids.
func (o *Ownership) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.ids)
}
