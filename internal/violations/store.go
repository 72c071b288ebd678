// Package violations is the append-only sink for contract violations from
// both the test-time validator and the runtime enforcer, plus the derived
// reporting over that log.
package violations

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ppiankov/capwatch/internal/model"
)

// Store manages the SQLite connection and schema. Writes are append-only;
// a violation is never updated once recorded.
type Store struct {
	db *sql.DB
}

// Open initializes the SQLite database at path, enabling WAL mode so the
// enforcer's appends and the dashboard's range reads can run concurrently.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping sqlite db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS violations (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		category TEXT NOT NULL,
		severity TEXT NOT NULL,
		source TEXT NOT NULL,
		detail TEXT,
		tool TEXT,
		blocked INTEGER NOT NULL DEFAULT 0,
		detected_at INTEGER NOT NULL,
		recommended_fix TEXT,
		context JSON NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_violations_detected ON violations(detected_at);
	CREATE INDEX IF NOT EXISTS idx_violations_tool ON violations(tool);

	CREATE TABLE IF NOT EXISTS invocations (
		day TEXT NOT NULL,
		tool TEXT NOT NULL,
		n INTEGER NOT NULL,
		PRIMARY KEY (day, tool)
	);

	CREATE TABLE IF NOT EXISTS intelligence_snapshots (
		run_id TEXT PRIMARY KEY,
		ts INTEGER NOT NULL,
		payload JSON NOT NULL
	);
	`
	_, err := s.db.Exec(query)
	return err
}

// Record appends one violation. Content-addressed ids from the validator
// are deduplicated (re-running the same validation is a no-op), runtime
// UUIDs always insert.
func (s *Store) Record(v model.Violation) error {
	ctx, err := json.Marshal(v.Context)
	if err != nil {
		return fmt.Errorf("marshal violation context: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT OR IGNORE INTO violations
		(id, type, category, severity, source, detail, tool, blocked, detected_at, recommended_fix, context)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, string(v.Type), string(v.Category), string(v.Severity), string(v.Source),
		v.Detail, v.Context.Tool, boolToInt(v.Blocked), v.DetectedAt.UnixNano(),
		v.RecommendedFix, string(ctx),
	)
	if err != nil {
		return fmt.Errorf("record violation: %w", err)
	}
	return nil
}

// Filter narrows a violation query. Zero values mean "no constraint".
type Filter struct {
	From     time.Time
	To       time.Time
	Severity model.Severity
	Category model.Category
	Source   model.Source
	Tool     string
}

// Query returns violations matching the filter, oldest first.
func (s *Store) Query(f Filter) ([]model.Violation, error) {
	q := `SELECT id, type, category, severity, source, detail, blocked, detected_at, recommended_fix, context
	      FROM violations WHERE 1=1`
	var args []any
	if !f.From.IsZero() {
		q += " AND detected_at >= ?"
		args = append(args, f.From.UnixNano())
	}
	if !f.To.IsZero() {
		q += " AND detected_at <= ?"
		args = append(args, f.To.UnixNano())
	}
	if f.Severity != "" {
		q += " AND severity = ?"
		args = append(args, string(f.Severity))
	}
	if f.Category != "" {
		q += " AND category = ?"
		args = append(args, string(f.Category))
	}
	if f.Source != "" {
		q += " AND source = ?"
		args = append(args, string(f.Source))
	}
	if f.Tool != "" {
		q += " AND tool = ?"
		args = append(args, f.Tool)
	}
	q += " ORDER BY detected_at ASC"

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query violations: %w", err)
	}
	defer rows.Close()

	var out []model.Violation
	for rows.Next() {
		var v model.Violation
		var blocked int
		var detectedAt int64
		var ctxJSON string
		if err := rows.Scan(&v.ID, &v.Type, &v.Category, &v.Severity, &v.Source,
			&v.Detail, &blocked, &detectedAt, &v.RecommendedFix, &ctxJSON); err != nil {
			return nil, fmt.Errorf("scan violation: %w", err)
		}
		v.Blocked = blocked != 0
		v.DetectedAt = time.Unix(0, detectedAt).UTC()
		if err := json.Unmarshal([]byte(ctxJSON), &v.Context); err != nil {
			return nil, fmt.Errorf("unmarshal violation context: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// AddInvocations increments the per-tool invocation counter for a day
// bucket (day is "2006-01-02" in UTC).
func (s *Store) AddInvocations(day, tool string, n int) error {
	_, err := s.db.Exec(`
		INSERT INTO invocations (day, tool, n) VALUES (?, ?, ?)
		ON CONFLICT(day, tool) DO UPDATE SET n = n + excluded.n`,
		day, tool, n,
	)
	if err != nil {
		return fmt.Errorf("count invocations: %w", err)
	}
	return nil
}

// InvocationCount sums invocations over day buckets in [from, to].
// Empty tool counts across all tools.
func (s *Store) InvocationCount(from, to time.Time, tool string) (int, error) {
	q := "SELECT COALESCE(SUM(n), 0) FROM invocations WHERE day >= ? AND day <= ?"
	args := []any{from.UTC().Format("2006-01-02"), to.UTC().Format("2006-01-02")}
	if tool != "" {
		q += " AND tool = ?"
		args = append(args, tool)
	}
	var total int
	if err := s.db.QueryRow(q, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum invocations: %w", err)
	}
	return total, nil
}

// EarliestRuntime returns the timestamp of the oldest runtime violation,
// or ok=false when none exist. The transition gate uses this to measure
// how long runtime data has been collected.
func (s *Store) EarliestRuntime() (time.Time, bool, error) {
	var ns sql.NullInt64
	err := s.db.QueryRow(
		"SELECT MIN(detected_at) FROM violations WHERE source = ?",
		string(model.SourceRuntime),
	).Scan(&ns)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("earliest runtime violation: %w", err)
	}
	if !ns.Valid {
		return time.Time{}, false, nil
	}
	return time.Unix(0, ns.Int64).UTC(), true, nil
}

// AppendSnapshot stores a serialized intelligence snapshot keyed by run id.
func (s *Store) AppendSnapshot(runID string, ts time.Time, payload []byte) error {
	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO intelligence_snapshots (run_id, ts, payload) VALUES (?, ?, ?)",
		runID, ts.UnixNano(), string(payload),
	)
	if err != nil {
		return fmt.Errorf("append snapshot: %w", err)
	}
	return nil
}

// Snapshots returns all snapshot payloads in run order (oldest first).
func (s *Store) Snapshots() ([][]byte, error) {
	rows, err := s.db.Query("SELECT payload FROM intelligence_snapshots ORDER BY ts ASC")
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, []byte(p))
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
