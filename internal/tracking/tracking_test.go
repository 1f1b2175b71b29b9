package tracking

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

func TestGateClaimConcurrent(t *testing.T) {
	t.Parallel()
	for _, n := range []int{1, 2, 16, 200} {
		g := NewGate()
		var wins atomic.Int64
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				if g.Claim("deal-1") {
					wins.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()
		if got := wins.Load(); got != 1 {
			t.Fatalf("n=%d: wins = %d, want 1", n, got)
		}
	}
}

func TestGateIndependentIDs(t *testing.T) {
	t.Parallel()
	g := NewGate()
	for i := 0; i < 10; i++ {
		if !g.Claim(fmt.Sprint(i)) {
			t.Fatalf("first claim of %d lost", i)
		}
	}
	if g.Claim("3") {
		t.Fatal("second claim of 3 won")
	}
	if g.Len() != 10 {
		t.Fatalf("Len = %d, want 10", g.Len())
	}
}

func TestGateSeed(t *testing.T) {
	t.Parallel()
	g := NewGate()
	g.Claim("a")
	if n := g.Seed([]string{"a", "b", "", "b", "c"}); n != 2 {
		t.Fatalf("Seed new = %d, want 2", n)
	}
	if g.Claim("b") {
		t.Fatal("seeded id claimed again")
	}
	if g.Claim("c") || !g.Claim("d") {
		t.Fatal("Claim after Seed mismatch")
	}
}

func TestGateRelease(t *testing.T) {
	t.Parallel()
	g := NewGate()
	if !g.Claim("a") {
		t.Fatal("first Claim = false")
	}
	g.Release("a")
	if !g.Claim("a") {
		t.Fatal("Claim after Release = false, want true")
	}
	if g.Claim("a") {
		t.Fatal("second Claim after Release = true, want false")
	}
	g.Release("missing")
	if g.Len() != 1 {
		t.Fatalf("Len = %d, want 1", g.Len())
	}
}

func TestInterestAdd(t *testing.T) {
	t.Parallel()
	tr := NewInterest()
	first, n := tr.Add("d1", "alice")
	if !first || n != 1 {
		t.Fatalf("Add #1 = (%v, %d), want (true, 1)", first, n)
	}
	first, n = tr.Add("d1", "alice")
	if first || n != 1 {
		t.Fatalf("Add #2 = (%v, %d), want (false, 1)", first, n)
	}
	if c := tr.Count("d1"); c != 1 {
		t.Fatalf("Count = %d, want 1", c)
	}
	tr.Add("d1", "bob")
	tr.Add("d2", "alice")
	if got := tr.List("d1"); len(got) != 2 || got[0] != "alice" || got[1] != "bob" {
		t.Fatalf("List = %v", got)
	}
	if tr.Count("nope") != 0 || tr.List("nope") != nil {
		t.Fatal("unknown id should be empty")
	}
}

func TestInterestConcurrent(t *testing.T) {
	t.Parallel()
	tr := NewInterest()
	var firsts atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		for _, r := range []string{"a", "b", "c"} {
			wg.Add(1)
			go func(r string) {
				defer wg.Done()
				if ok, _ := tr.Add("d", r); ok {
					firsts.Add(1)
				}
			}(r)
		}
	}
	wg.Wait()
	if firsts.Load() != 3 || tr.Count("d") != 3 {
		t.Fatalf("firsts = %d count = %d, want 3/3", firsts.Load(), tr.Count("d"))
	}
}
