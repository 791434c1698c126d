// Package store persists raw events, shadow readings, historical averages,
// fused points, lineage records, and anomalies in SQLite.
//
// The modernc driver is pure Go, no cgo needed. A single *sql.DB is safe
// for concurrent use.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/time/rate"
	_ "modernc.org/sqlite"

	"github.com/mkuiper/daylight/internal/event"
	"github.com/mkuiper/daylight/internal/fusion"
	"github.com/mkuiper/daylight/internal/lineage"
	"github.com/mkuiper/daylight/internal/logging"
	"github.com/mkuiper/daylight/internal/shadow"
)

// shadowWindowMs bounds how far from a slot start a stored shadow reading
// may sit and still count as "the same moment": one hour either way.
const shadowWindowMs int64 = 60 * 60 * 1000

// Store handles all persistence for the fusion pipeline.
type Store struct {
	db *sql.DB

	// limiter throttles shadow lookups, which run once per (slot, type)
	// and would otherwise hammer the database during a backfill.
	limiter *rate.Limiter
}

// Open opens (creating if needed) the database at path and migrates the
// schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		logging.Error("Failed to open database", "path", path, "error", err)
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	s := &Store{
		db:      db,
		limiter: rate.NewLimiter(rate.Limit(200), 20),
	}
	if err := s.migrate(); err != nil {
		logging.Error("Failed to migrate database", "error", err)
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	logging.Info("Database initialized", "path", path)
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		source TEXT NOT NULL,
		ts INTEGER NOT NULL,
		value REAL NOT NULL,
		confidence_hint REAL DEFAULT 0,
		attributes TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
	CREATE INDEX IF NOT EXISTS idx_events_type_ts ON events(type, ts);

	CREATE TABLE IF NOT EXISTS shadow_readings (
		type TEXT NOT NULL,
		source TEXT NOT NULL,
		ts INTEGER NOT NULL,
		value REAL NOT NULL,
		PRIMARY KEY (type, source, ts)
	);

	CREATE INDEX IF NOT EXISTS idx_shadow_type_ts ON shadow_readings(type, ts);

	CREATE TABLE IF NOT EXISTS historical_averages (
		type TEXT NOT NULL,
		hour INTEGER NOT NULL,
		avg REAL NOT NULL,
		samples INTEGER NOT NULL,
		PRIMARY KEY (type, hour)
	);

	CREATE TABLE IF NOT EXISTS fused_points (
		run_id TEXT NOT NULL,
		ts INTEGER NOT NULL,
		type TEXT NOT NULL,
		value REAL NOT NULL,
		source TEXT NOT NULL,
		confidence REAL NOT NULL,
		boost_reasons TEXT,
		lineage_id TEXT NOT NULL,
		PRIMARY KEY (run_id, ts, type)
	);

	CREATE TABLE IF NOT EXISTS lineage_records (
		id TEXT PRIMARY KEY,
		ts INTEGER NOT NULL,
		type TEXT NOT NULL,
		value REAL NOT NULL,
		primary_source TEXT NOT NULL,
		confidence REAL NOT NULL,
		contributors TEXT,
		transformations TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_lineage_ts ON lineage_records(ts);

	CREATE TABLE IF NOT EXISTS anomalies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts INTEGER NOT NULL,
		type TEXT NOT NULL,
		primary_source TEXT NOT NULL,
		shadow_source TEXT NOT NULL,
		primary_value REAL NOT NULL,
		shadow_value REAL NOT NULL,
		deviation REAL NOT NULL,
		severity TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_anomalies_ts ON anomalies(ts DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveEvents upserts raw events and returns the number of new rows.
func (s *Store) SaveEvents(ctx context.Context, events []event.Raw) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO events (id, type, source, ts, value, confidence_hint, attributes)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			value = excluded.value,
			confidence_hint = excluded.confidence_hint,
			attributes = excluded.attributes
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	newCount := 0
	for _, ev := range events {
		attrs, err := json.Marshal(ev.Attributes)
		if err != nil {
			logging.Warn("Skipping event with unserializable attributes", "id", ev.ID, "error", err)
			continue
		}
		result, err := stmt.Exec(ev.ID, string(ev.Type), ev.SourceName,
			ev.Timestamp, ev.Value, ev.ConfidenceHint, string(attrs))
		if err != nil {
			logging.Warn("Failed to save event", "id", ev.ID, "error", err)
			continue
		}
		if rows, _ := result.RowsAffected(); rows > 0 {
			newCount++
		}
	}

	return newCount, tx.Commit()
}

// EventsForDay returns one calendar day's events grouped by source name.
// The day boundary follows date's location.
func (s *Store) EventsForDay(ctx context.Context, date time.Time) (map[string][]event.Raw, error) {
	start := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	end := start.AddDate(0, 0, 1)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, source, ts, value, confidence_hint, attributes
		FROM events
		WHERE ts >= ? AND ts < ?
		ORDER BY ts
	`, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bySource := make(map[string][]event.Raw)
	for rows.Next() {
		var ev event.Raw
		var typ string
		var attrs sql.NullString
		if err := rows.Scan(&ev.ID, &typ, &ev.SourceName, &ev.Timestamp,
			&ev.Value, &ev.ConfidenceHint, &attrs); err != nil {
			logging.Warn("Skipping unreadable event row", "error", err)
			continue
		}
		ev.Type = event.Type(typ)
		if attrs.Valid && attrs.String != "" {
			if err := json.Unmarshal([]byte(attrs.String), &ev.Attributes); err != nil {
				logging.Warn("Event has malformed attributes", "id", ev.ID, "error", err)
			}
		}
		bySource[ev.SourceName] = append(bySource[ev.SourceName], ev)
	}
	return bySource, rows.Err()
}

// SaveShadowReading stores one secondary reading for cross-validation.
func (s *Store) SaveShadowReading(ctx context.Context, t event.Type, ts int64, r shadow.Reading) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shadow_readings (type, source, ts, value)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(type, source, ts) DO UPDATE SET value = excluded.value
	`, string(t), r.Source, ts, r.Value)
	return err
}

// ShadowReadings returns the stored secondary readings for a type near a
// timestamp, one per source (the closest). Throttled by the lookup limiter.
func (s *Store) ShadowReadings(ctx context.Context, t event.Type, ts int64) ([]shadow.Reading, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	// SQLite resolves the bare value column to the row that achieves the
	// per-source minimum distance.
	rows, err := s.db.QueryContext(ctx, `
		SELECT source, value, MIN(ABS(ts - ?)) AS distance
		FROM shadow_readings
		WHERE type = ? AND ts >= ? AND ts <= ?
		GROUP BY source
		ORDER BY source
	`, ts, string(t), ts-shadowWindowMs, ts+shadowWindowMs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readings []shadow.Reading
	for rows.Next() {
		var r shadow.Reading
		var distance int64
		if err := rows.Scan(&r.Source, &r.Value, &distance); err != nil {
			continue
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

// HistoricalAverage implements confidence.HistoryProvider: the stored
// average for this type at this hour of day (UTC), false when no pattern
// has been observed yet.
func (s *Store) HistoricalAverage(ctx context.Context, t event.Type, ts int64) (float64, bool) {
	hour := time.UnixMilli(ts).UTC().Hour()

	var avg float64
	err := s.db.QueryRowContext(ctx, `
		SELECT avg FROM historical_averages WHERE type = ? AND hour = ?
	`, string(t), hour).Scan(&avg)
	if err == sql.ErrNoRows {
		return 0, false
	}
	if err != nil {
		logging.Debug("Historical average lookup failed", "type", t, "error", err)
		return 0, false
	}
	return avg, true
}

// ObserveHistorical folds a value into the running average for its type
// and hour of day.
func (s *Store) ObserveHistorical(ctx context.Context, t event.Type, ts int64, value float64) error {
	hour := time.UnixMilli(ts).UTC().Hour()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO historical_averages (type, hour, avg, samples)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(type, hour) DO UPDATE SET
			samples = samples + 1,
			avg = avg + (excluded.avg - avg) / (samples + 1)
	`, string(t), hour, value)
	return err
}

// SaveRun persists everything one analysis pass produced.
func (s *Store) SaveRun(ctx context.Context, res *fusion.DayResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, p := range res.Points {
		reasons, _ := json.Marshal(p.BoostReasons)
		if _, err := tx.Exec(`
			INSERT INTO fused_points (run_id, ts, type, value, source, confidence, boost_reasons, lineage_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(run_id, ts, type) DO UPDATE SET
				value = excluded.value,
				source = excluded.source,
				confidence = excluded.confidence,
				boost_reasons = excluded.boost_reasons,
				lineage_id = excluded.lineage_id
		`, res.RunID, p.Timestamp, string(p.Type), p.Value, p.SourceName,
			p.Confidence, string(reasons), p.LineageID); err != nil {
			return err
		}
	}

	for _, a := range res.Anomalies {
		if _, err := tx.Exec(`
			INSERT INTO anomalies (ts, type, primary_source, shadow_source, primary_value, shadow_value, deviation, severity)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, a.Timestamp, string(a.Type), a.PrimarySource, a.ShadowSource,
			a.PrimaryValue, a.ShadowValue, a.Deviation, string(a.Severity)); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	logging.Debug("Run saved", "run", res.RunID,
		"points", len(res.Points), "anomalies", len(res.Anomalies))
	return nil
}

// SaveLineage persists lineage records for later audit.
func (s *Store) SaveLineage(ctx context.Context, records []lineage.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO lineage_records (id, ts, type, value, primary_source, confidence, contributors, transformations)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			value = excluded.value,
			confidence = excluded.confidence,
			contributors = excluded.contributors,
			transformations = excluded.transformations
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rec := range records {
		contribs, _ := json.Marshal(rec.Contributors)
		transforms, _ := json.Marshal(rec.Transformations)
		if _, err := stmt.Exec(rec.ID, rec.Timestamp, string(rec.Type), rec.Value,
			rec.PrimarySource, rec.Confidence, string(contribs), string(transforms)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Lineage returns a persisted lineage record by ID.
func (s *Store) Lineage(ctx context.Context, id string) (lineage.Record, bool, error) {
	var rec lineage.Record
	var typ string
	var contribs, transforms sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, ts, type, value, primary_source, confidence, contributors, transformations
		FROM lineage_records WHERE id = ?
	`, id).Scan(&rec.ID, &rec.Timestamp, &typ, &rec.Value,
		&rec.PrimarySource, &rec.Confidence, &contribs, &transforms)
	if err == sql.ErrNoRows {
		return lineage.Record{}, false, nil
	}
	if err != nil {
		return lineage.Record{}, false, err
	}
	rec.Type = event.Type(typ)
	if contribs.Valid {
		json.Unmarshal([]byte(contribs.String), &rec.Contributors)
	}
	if transforms.Valid {
		json.Unmarshal([]byte(transforms.String), &rec.Transformations)
	}
	return rec, true, nil
}

// RecentAnomalies returns the most recent persisted anomalies, newest first.
func (s *Store) RecentAnomalies(ctx context.Context, limit int) ([]shadow.Result, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, type, primary_source, shadow_source, primary_value, shadow_value, deviation, severity
		FROM anomalies
		ORDER BY ts DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []shadow.Result
	for rows.Next() {
		var r shadow.Result
		var typ, severity string
		if err := rows.Scan(&r.Timestamp, &typ, &r.PrimarySource, &r.ShadowSource,
			&r.PrimaryValue, &r.ShadowValue, &r.Deviation, &severity); err != nil {
			continue
		}
		r.Type = event.Type(typ)
		r.Severity = shadow.Severity(severity)
		out = append(out, r)
	}
	return out, rows.Err()
}

// EventCount returns the total stored event count.
func (s *Store) EventCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&count)
	return count, err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
