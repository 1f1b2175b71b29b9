package recovery

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"

	"dealbot/internal/crm/hubspot"
	logx "dealbot/pkg/logx"
)

type fakeStore map[string][]string

func (f fakeStore) ListIDs(_ context.Context, set string) ([]string, error) {
	if ids, ok := f[set]; ok {
		return ids, nil
	}
	if set == "broken" {
		return nil, errors.New("disk on fire")
	}
	return nil, nil
}

type fakeCRM map[string]hubspot.Record

func (f fakeCRM) FetchRecord(_ context.Context, id string) (hubspot.Record, error) {
	r, ok := f[id]
	if !ok {
		return hubspot.Record{}, hubspot.ErrNotFound
	}
	return r, nil
}

type fakeReminders struct {
	mu      sync.Mutex
	running map[string]string
}

func newFakeReminders(ids ...string) *fakeReminders {
	f := &fakeReminders{running: map[string]string{}}
	for _, id := range ids {
		f.running[id] = "pre"
	}
	return f
}

func (f *fakeReminders) IsActive(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.running[id]
	return ok
}

func (f *fakeReminders) Start(id, owner string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.running[id]; ok {
		return false
	}
	f.running[id] = owner
	return true
}

func (f *fakeReminders) ids() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for id := range f.running {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func TestCandidates(t *testing.T) {
	t.Parallel()
	got := Candidates([]string{"1", "2", "3", "1", "4"}, []string{"2", "9"})
	if want := []string{"1", "3", "4"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Candidates = %v, want %v", got, want)
	}
	if got := Candidates(nil, []string{"1"}); got != nil {
		t.Fatalf("Candidates(nil) = %v", got)
	}
}

func TestScanRestoresQualifying(t *testing.T) {
	t.Parallel()
	store := fakeStore{"deals": {"1", "2", "3"}, "filled": {"2"}}
	crm := fakeCRM{
		"1": {ID: "1", Gating: true, Owner: "o1"},
		"2": {ID: "2", Gating: true, Owner: "o2"},
		"3": {ID: "3", Gating: false, Owner: "o3"},
	}
	rem := newFakeReminders()
	s := NewScanner(Config{}, store, crm, rem, logx.Nop(), nil)

	res, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.Candidates != 2 || res.Restored != 1 || res.Skipped != 1 || res.Errored != 0 {
		t.Fatalf("result = %+v", res)
	}
	if got := rem.ids(); !reflect.DeepEqual(got, []string{"1"}) {
		t.Fatalf("running = %v, want [1]", got)
	}
	if rem.running["1"] != "o1" {
		t.Fatalf("owner = %q, want o1", rem.running["1"])
	}
}

func TestScanSkipsAndCountsErrors(t *testing.T) {
	t.Parallel()
	store := fakeStore{"deals": {"run", "term", "noowner", "gone", "ok"}}
	crm := fakeCRM{
		"run":     {Gating: true, Owner: "o"},
		"term":    {Gating: true, Owner: "o", Terminal: "Oslo"},
		"noowner": {Gating: true, Owner: " "},
		"ok":      {Gating: true, Owner: "o"},
	}
	rem := newFakeReminders("run")
	s := NewScanner(Config{Concurrency: 2}, store, crm, rem, logx.Nop(), nil)

	res, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.Restored != 1 || res.Skipped != 3 || res.Errored != 1 {
		t.Fatalf("result = %+v", res)
	}
	if got := rem.ids(); !reflect.DeepEqual(got, []string{"ok", "run"}) {
		t.Fatalf("running = %v", got)
	}
}

func TestScanListFailure(t *testing.T) {
	t.Parallel()
	s := NewScanner(Config{TrackedSet: "broken"}, fakeStore{}, fakeCRM{}, newFakeReminders(), logx.Nop(), nil)
	if _, err := s.Scan(context.Background()); err == nil {
		t.Fatal("expected list error")
	}
}

func TestResyncerSchedule(t *testing.T) {
	t.Parallel()
	s := NewScanner(Config{}, fakeStore{}, fakeCRM{}, newFakeReminders(), logx.Nop(), nil)
	if _, err := NewResyncer("not a cron", time.UTC, s, logx.Nop()); err == nil {
		t.Fatal("invalid schedule accepted")
	}
	if _, err := NewResyncer("", time.UTC, s, logx.Nop()); err == nil {
		t.Fatal("empty schedule accepted")
	}
	r, err := NewResyncer("0 9 * * 1-5", time.UTC, s, logx.Nop())
	if err != nil {
		t.Fatalf("NewResyncer: %v", err)
	}
	r.Start()
	defer r.Stop(context.Background())
	next := r.Next()
	if next.IsZero() || next.Hour() != 9 {
		t.Fatalf("Next = %v", next)
	}
	if wd := next.Weekday(); wd == time.Saturday || wd == time.Sunday {
		t.Fatalf("Next on weekend: %v", next)
	}
}
