package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/Cathyyyy1/anomaly-monitor/internal/config"
	"github.com/Cathyyyy1/anomaly-monitor/internal/model"
)

// Journal persists analyzed-frame reports for operators. Disabled
// journals are represented by a nil Journal; callers must tolerate it.
type Journal interface {
	Init(ctx context.Context) error
	Close() error
	SaveReport(ctx context.Context, report model.FrameReport) error
	SaveStats(ctx context.Context, run string, stats model.RunStats) error
}

func NewJournal(cfg config.JournalConfig) (Journal, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported journal driver")
	}
}

type baseJournal struct {
	db *sql.DB
}

func (b *baseJournal) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
