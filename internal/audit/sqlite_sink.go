package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteSink appends events to a local table so the chain survives restarts
// and can be verified offline.
type SQLiteSink struct {
	db *sql.DB
}

func NewSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes
	// appends.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("audit: pragma %q: %w", p, err)
		}
	}
	s := &SQLiteSink{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: init schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteSink) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS audit_events (
		seq INTEGER PRIMARY KEY,
		ts INTEGER NOT NULL,
		type TEXT NOT NULL,
		actor TEXT NOT NULL DEFAULT '',
		device_id TEXT NOT NULL DEFAULT '',
		target_id TEXT NOT NULL DEFAULT '',
		result TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '{}',
		prev_hash TEXT NOT NULL,
		hash TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_device ON audit_events(device_id);
	CREATE INDEX IF NOT EXISTS idx_audit_type ON audit_events(type);
	`)
	return err
}

func (s *SQLiteSink) Record(ctx context.Context, e Event) error {
	detail, err := json.Marshal(e.Detail)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_events (seq, ts, type, actor, device_id, target_id, result, detail, prev_hash, hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Seq, e.Time.UnixNano(), e.Type, e.Actor, e.DeviceID, e.TargetID, e.Result, string(detail), e.PrevHash, e.Hash,
	)
	return err
}

// Head returns the last sequence number and hash, or zero values for an
// empty table.
func (s *SQLiteSink) Head(ctx context.Context) (uint64, string, error) {
	var (
		seq  uint64
		hash string
	)
	err := s.db.QueryRowContext(ctx, `SELECT seq, hash FROM audit_events ORDER BY seq DESC LIMIT 1`).Scan(&seq, &hash)
	if err == sql.ErrNoRows {
		return 0, "", nil
	}
	return seq, hash, err
}

// Events returns events with seq > after in order, at most limit of them
// (all when limit <= 0).
func (s *SQLiteSink) Events(ctx context.Context, after uint64, limit int) ([]Event, error) {
	q := `SELECT seq, ts, type, actor, device_id, target_id, result, detail, prev_hash, hash
	      FROM audit_events WHERE seq > ? ORDER BY seq`
	args := []any{after}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e      Event
			ts     int64
			detail string
		)
		if err := rows.Scan(&e.Seq, &ts, &e.Type, &e.Actor, &e.DeviceID, &e.TargetID, &e.Result, &detail, &e.PrevHash, &e.Hash); err != nil {
			return nil, err
		}
		e.Time = time.Unix(0, ts).UTC()
		if detail != "" && detail != "null" {
			if err := json.Unmarshal([]byte(detail), &e.Detail); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Verify re-checks the whole stored chain.
func (s *SQLiteSink) Verify(ctx context.Context) error {
	events, err := s.Events(ctx, 0, 0)
	if err != nil {
		return err
	}
	return Verify(events)
}

func (s *SQLiteSink) Close() error { return s.db.Close() }
