package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Cathyyyy1/anomaly-monitor/internal/model"
)

type postgresJournal struct {
	baseJournal
}

func NewPostgres(dsn string) (Journal, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/anomaly_monitor?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresJournal{baseJournal{db: db}}, nil
}

func (s *postgresJournal) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS reports (
			id BIGSERIAL PRIMARY KEY,
			report_id TEXT NOT NULL,
			ts TIMESTAMPTZ NOT NULL,
			frame_seq BIGINT NOT NULL,
			has_anomaly BOOLEAN NOT NULL,
			anomaly_score DOUBLE PRECISION NOT NULL,
			detections_json JSONB NOT NULL,
			anomalies_json JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reports_ts ON reports(ts)`,
		`CREATE TABLE IF NOT EXISTS run_stats (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			run TEXT NOT NULL,
			ticks BIGINT NOT NULL,
			analyzed BIGINT NOT NULL,
			skipped BIGINT NOT NULL,
			not_ready BIGINT NOT NULL,
			failures BIGINT NOT NULL,
			anomalies BIGINT NOT NULL
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

func (s *postgresJournal) SaveReport(ctx context.Context, report model.FrameReport) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reports (report_id, ts, frame_seq, has_anomaly, anomaly_score, detections_json, anomalies_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		report.ID,
		report.Timestamp.UTC(),
		report.FrameSeq,
		report.Result.HasAnomaly,
		report.Result.AnomalyScore,
		encodeJSON(report.Detections),
		encodeJSON(report.Result.Anomalies),
	)
	return err
}

func (s *postgresJournal) SaveStats(ctx context.Context, run string, stats model.RunStats) error {
	if s.db == nil || run == "" {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_stats (ts, run, ticks, analyzed, skipped, not_ready, failures, anomalies)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
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
