package tracking

import "sync"

// Gate is the first-caller-wins claim set for initial deal posts.
type Gate struct {
	mu     sync.Mutex
	posted map[string]struct{}
}

func NewGate() *Gate {
	return &Gate{posted: map[string]struct{}{}}
}

// Claim returns true exactly once per id; every later caller gets false.
func (g *Gate) Claim(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.posted[id]; ok {
		return false
	}
	g.posted[id] = struct{}{}
	return true
}

// Seed marks ids as already claimed, e.g. from a persisted record set.
// It returns how many ids were new.
func (g *Gate) Seed(ids []string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := g.posted[id]; !ok {
			g.posted[id] = struct{}{}
			n++
		}
	}
	return n
}

// Release drops a claim whose work failed so a later caller can retry.
func (g *Gate) Release(id string) {
	g.mu.Lock()
	delete(g.posted, id)
	g.mu.Unlock()
}

func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.posted)
}
