package storage

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	logx "dealbot/pkg/logx"
)

func openDriver(t *testing.T, driver string) Store {
	t.Helper()
	dir := t.TempDir()
	st, err := Open(Config{Driver: driver, Path: filepath.Join(dir, "dealbot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s): %v", driver, err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	t.Parallel()
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		if st != nil || err != nil {
			t.Fatalf("Open(%q) = %v, %v; want nil, nil", d, st, err)
		}
	}
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver accepted")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("file driver without path accepted")
	}
}

func TestRecordSets(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			st := openDriver(t, driver)
			ctx := context.Background()

			ids, err := st.ListIDs(ctx, SetDeals)
			if err != nil || len(ids) != 0 {
				t.Fatalf("empty ListIDs = %v, %v", ids, err)
			}
			for _, id := range []string{"3", "1", "3", "2"} {
				if err := st.AppendRecord(ctx, SetDeals, Record{DealID: id, Fields: map[string]string{"owner": "o"}}); err != nil {
					t.Fatalf("AppendRecord: %v", err)
				}
			}
			if err := st.AppendRecord(ctx, SetFilled, Record{DealID: "1"}); err != nil {
				t.Fatalf("AppendRecord filled: %v", err)
			}

			ids, err = st.ListIDs(ctx, SetDeals)
			if err != nil {
				t.Fatalf("ListIDs: %v", err)
			}
			if want := []string{"3", "1", "2"}; !reflect.DeepEqual(ids, want) {
				t.Fatalf("ListIDs = %v, want %v", ids, want)
			}
			ids, _ = st.ListIDs(ctx, SetFilled)
			if want := []string{"1"}; !reflect.DeepEqual(ids, want) {
				t.Fatalf("filled = %v, want %v", ids, want)
			}

			if err := st.AppendRecord(ctx, SetDeals, Record{}); err == nil {
				t.Fatal("record without id accepted")
			}
			if err := st.AppendRecord(ctx, "../etc", Record{DealID: "1"}); err == nil {
				t.Fatal("bad set name accepted")
			}
			if err := st.AppendAudit(ctx, AuditEntry{ActorID: 5, Action: "assign", Target: "1"}); err != nil {
				t.Fatalf("AppendAudit: %v", err)
			}
		})
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state.json")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()
	_ = st.AppendRecord(ctx, SetDeals, Record{DealID: "10"})
	_ = st.Close()

	// A torn trailing line must not hide earlier rows.
	f, err := os.OpenFile(filepath.Join(filepath.Dir(path), "state.set.deals.jsonl"), os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("open set file: %v", err)
	}
	_, _ = f.WriteString(`{"deal_id":"11"`)
	_ = f.Close()

	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	ids, err := st.ListIDs(ctx, SetDeals)
	if err != nil || !reflect.DeepEqual(ids, []string{"10"}) {
		t.Fatalf("ListIDs = %v, %v", ids, err)
	}
}
