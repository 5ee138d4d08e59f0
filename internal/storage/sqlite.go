package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/Cathyyyy1/anomaly-monitor/internal/model"
)

type sqliteJournal struct {
	baseJournal
}

func NewSQLite(dsn string) (Journal, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:anomaly-monitor.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteJournal{baseJournal{db: db}}, nil
}

func (s *sqliteJournal) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS reports (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			report_id TEXT NOT NULL,
			ts TEXT NOT NULL,
			frame_seq INTEGER NOT NULL,
			has_anomaly INTEGER NOT NULL,
			anomaly_score REAL NOT NULL,
			detections_json TEXT NOT NULL,
			anomalies_json TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reports_ts ON reports(ts)`,
		`CREATE TABLE IF NOT EXISTS run_stats (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			run TEXT NOT NULL,
			ticks INTEGER NOT NULL,
			analyzed INTEGER NOT NULL,
			skipped INTEGER NOT NULL,
			not_ready INTEGER NOT NULL,
			failures INTEGER NOT NULL,
			anomalies INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_run_stats_run ON run_stats(run)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteJournal) SaveReport(ctx context.Context, report model.FrameReport) error {
	if s.db == nil {
		return nil
	}
	hasAnomaly := 0
	if report.Result.HasAnomaly {
		hasAnomaly = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reports (report_id, ts, frame_seq, has_anomaly, anomaly_score, detections_json, anomalies_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		report.ID,
		report.Timestamp.UTC(),
		report.FrameSeq,
		hasAnomaly,
		report.Result.AnomalyScore,
		encodeJSON(report.Detections),
		encodeJSON(report.Result.Anomalies),
	)
	return err
}

func (s *sqliteJournal) SaveStats(ctx context.Context, run string, stats model.RunStats) error {
	if s.db == nil || run == "" {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_stats (ts, run, ticks, analyzed, skipped, not_ready, failures, anomalies)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		nowUTC(),
		run,
		stats.Ticks,
		stats.Analyzed,
		stats.Skipped,
		stats.NotReady,
		stats.Failures,
		stats.Anomalies,
	)
	return err
}
