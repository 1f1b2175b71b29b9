package webhook

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	logx "dealbot/pkg/logx"
)

func TestParseEvents(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		want    []string
		wantErr bool
	}{
		{name: "list", body: `[{"objectId": 101}, {"objectId": "102"}, {"id": 103}]`, want: []string{"101", "102", "103"}},
		{name: "object id", body: `{"objectId": 12345678901}`, want: []string{"12345678901"}},
		{name: "nested event", body: `{"event": {"objectId": "7"}}`, want: []string{"7"}},
		{name: "deal id", body: `{"id": "8", "objectType": "DEALS"}`, want: []string{"8"}},
		{name: "blank id kept", body: `[{"objectId": "  "}]`, want: []string{""}},
		{name: "contact id", body: `{"id": "9", "objectType": "contact"}`, wantErr: true},
		{name: "scalar", body: `"hello"`, wantErr: true},
		{name: "broken", body: `{`, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			evs, err := ParseEvents([]byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			var ids []string
			for _, e := range evs {
				ids = append(ids, e.ObjectID)
			}
			if !reflect.DeepEqual(ids, tt.want) {
				t.Fatalf("ids = %v, want %v", ids, tt.want)
			}
		})
	}
}

type fakeEvents struct {
	mu   sync.Mutex
	ids  []string
	fail map[string]bool
}

func (f *fakeEvents) OnObjectEvent(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
	if f.fail[id] {
		return errors.New("boom")
	}
	return nil
}

type fakeRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *fakeRecorder) IncrementWebhook(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = map[string]int{}
	}
	r.counts[result]++
}

func TestHandleHubSpotAlwaysOK(t *testing.T) {
	t.Parallel()

	ev := &fakeEvents{fail: map[string]bool{"2": true}}
	rec := &fakeRecorder{}
	srv := httptest.NewServer(Router(New(ev, logx.Nop(), rec), nil))
	defer srv.Close()

	for _, body := range []string{
		`[{"objectId":"1"},{"objectId":"2"},{"objectId":""}]`,
		`not json`,
		`{"foo":"bar"}`,
	} {
		resp, err := http.Post(srv.URL+"/hubspot/webhook", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200 for %q", resp.StatusCode, body)
		}
	}

	if !reflect.DeepEqual(ev.ids, []string{"1", "2"}) {
		t.Fatalf("handled = %v, want [1 2]", ev.ids)
	}
	if rec.counts["accepted"] != 1 || rec.counts["rejected"] != 2 {
		t.Fatalf("counts = %v, want accepted=1 rejected=2", rec.counts)
	}
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	h := Router(New(&fakeEvents{}, logx.Nop(), nil), promhttp.Handler())
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/"},
		{http.MethodHead, "/"},
		{http.MethodGet, "/healthz"},
		{http.MethodGet, "/metrics"},
	} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(tc.method, tc.path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s %s = %d, want 200", tc.method, tc.path, rr.Code)
		}
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if got := strings.TrimSpace(rr.Body.String()); got != `{"status":"ok"}` {
		t.Fatalf("body = %s, want {\"status\":\"ok\"}", got)
	}
}

func TestServerStopsOnCancel(t *testing.T) {
	t.Parallel()

	s := NewServer("127.0.0.1:0", http.NotFoundHandler(), 0, logx.Nop())
	ln, err := s.Listen()
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Serve() = %v, want nil", err)
	}
}
