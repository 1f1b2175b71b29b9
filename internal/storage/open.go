package storage

import (
	"context"
	"errors"
	"regexp"
	"strings"

	logx "dealbot/pkg/logx"
)

// Store is the persistence API used by the deal pipeline.
type Store interface {
	AppendRecord(ctx context.Context, set string, r Record) error
	// ListIDs returns the distinct deal ids of a set in first-appended order.
	ListIDs(ctx context.Context, set string) ([]string, error)
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

var setNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]{0,31}$`)

func validSet(set string) error {
	if !setNameRe.MatchString(set) {
		return errors.New("invalid record set name: " + set)
	}
	return nil
}

// Open initializes the configured store. It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
