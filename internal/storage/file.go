package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "dealbot/pkg/logx"
)

// fileStore keeps one append-only JSON Lines file per record set:
//
//	<prefix>.audit.jsonl
//	<prefix>.set.<name>.jsonl
type fileStore struct {
	log    logx.Logger
	prefix string

	mu        sync.Mutex
	auditFile *os.File
	sets      map[string]*os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	prefix := filepath.Join(dir, base)

	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileStore{log: log, prefix: prefix, auditFile: af, sets: map[string]*os.File{}}, nil
}

func (s *fileStore) setPath(set string) string {
	return s.prefix + ".set." + set + ".jsonl"
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.auditFile != nil {
		errs = append(errs, s.auditFile.Close())
		s.auditFile = nil
	}
	for name, f := range s.sets {
		errs = append(errs, f.Close())
		delete(s.sets, name)
	}
	return errors.Join(errs...)
}

func (s *fileStore) AppendAudit(_ context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) AppendRecord(_ context.Context, set string, r Record) error {
	if err := validSet(set); err != nil {
		return err
	}
	if strings.TrimSpace(r.DealID) == "" {
		return errors.New("record without deal id")
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("store closed")
	}
	f := s.sets[set]
	if f == nil {
		var err error
		f, err = os.OpenFile(s.setPath(set), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return err
		}
		s.sets[set] = f
	}
	return json.NewEncoder(f).Encode(r)
}

func (s *fileStore) ListIDs(_ context.Context, set string) ([]string, error) {
	if err := validSet(set); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.setPath(set))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var ids []string
	seen := map[string]bool{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	bad := 0
	for sc.Scan() {
		var r Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.DealID == "" {
			bad++
			continue
		}
		if !seen[r.DealID] {
			seen[r.DealID] = true
			ids = append(ids, r.DealID)
		}
	}
	if bad > 0 {
		s.log.Warn("skipped unreadable record lines", logx.String("set", set), logx.Int("count", bad))
	}
	return ids, sc.Err()
}
