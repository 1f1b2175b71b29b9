package tracking

import "sync"

// Interest tracks distinct responders per deal, in first-click order.
type Interest struct {
	mu    sync.Mutex
	deals map[string]*responders
}

type responders struct {
	seen  map[string]struct{}
	order []string
}

func NewInterest() *Interest {
	return &Interest{deals: map[string]*responders{}}
}

// Add records responder for id. isFirst is true only the first time the
// (id, responder) pair is seen; count is the number of distinct responders after the call.
func (t *Interest) Add(id, responder string) (isFirst bool, count int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.deals[id]
	if r == nil {
		r = &responders{seen: map[string]struct{}{}}
		t.deals[id] = r
	}
	if _, ok := r.seen[responder]; ok {
		return false, len(r.order)
	}
	r.seen[responder] = struct{}{}
	r.order = append(r.order, responder)
	return true, len(r.order)
}

// List returns the responders of id in the order they first appeared.
func (t *Interest) List(id string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.deals[id]
	if r == nil {
		return nil
	}
	return append([]string(nil), r.order...)
}

func (t *Interest) Count(id string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r := t.deals[id]; r != nil {
		return len(r.order)
	}
	return 0
}
