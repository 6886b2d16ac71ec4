// Package runlog keeps a SQLite journal of every task run.
package runlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a run id does not exist.
var ErrNotFound = errors.New("run not found")

// Status is the lifecycle state of a journaled run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const defaultListLimit = 20

// Run is one journaled task execution.
type Run struct {
	ID            string            `json:"id" yaml:"id"`
	RawQuery      string            `json:"rawQuery" yaml:"rawQuery"`
	EnhancedQuery string            `json:"enhancedQuery" yaml:"enhancedQuery"`
	Facts         map[string]string `json:"facts,omitempty" yaml:"facts,omitempty"`
	Status        Status            `json:"status" yaml:"status"`
	ExitCode      int               `json:"exitCode" yaml:"exitCode"`
	Events        int               `json:"events" yaml:"events"`
	Output        string            `json:"output,omitempty" yaml:"output,omitempty"`
	Error         string            `json:"error,omitempty" yaml:"error,omitempty"`
	MemoryIDs     []string          `json:"memoryIds,omitempty" yaml:"memoryIds,omitempty"`
	StartedAt     time.Time         `json:"startedAt" yaml:"startedAt"`
	FinishedAt    *time.Time        `json:"finishedAt,omitempty" yaml:"finishedAt,omitempty"`
}

// Duration is the wall time of a finished run, zero while running.
func (r Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// StartParams holds the query side of a run.
type StartParams struct {
	RawQuery      string
	EnhancedQuery string
	Facts         map[string]string
}

// FinishParams holds the outcome of a run.
type FinishParams struct {
	Status    Status
	ExitCode  int
	Events    int
	Output    string
	Error     string
	MemoryIDs []string
}

// ListParams filters List. Since limits to runs started within that window.
type ListParams struct {
	Status Status
	Since  time.Duration
	Limit  int
}

// Journal is the SQLite-backed run history.
type Journal struct {
	db      *sql.DB
	entropy *rand.Rand
}

// Open opens or creates the journal database at path.
func Open(dbPath string) (*Journal, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	j := &Journal{
		db:      db,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return j, nil
}

func (j *Journal) newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), j.entropy).String()
}

func (j *Journal) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id             TEXT PRIMARY KEY,
		raw_query      TEXT NOT NULL,
		enhanced_query TEXT NOT NULL DEFAULT '',
		facts          TEXT,
		status         TEXT NOT NULL,
		exit_code      INTEGER NOT NULL DEFAULT 0,
		events         INTEGER NOT NULL DEFAULT 0,
		output         TEXT NOT NULL DEFAULT '',
		error          TEXT NOT NULL DEFAULT '',
		memory_ids     TEXT,
		started_at     TEXT NOT NULL,
		finished_at    TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);

	CREATE VIRTUAL TABLE IF NOT EXISTS runs_fts USING fts5(
		raw_query,
		enhanced_query,
		content=runs,
		content_rowid=rowid
	);

	CREATE TRIGGER IF NOT EXISTS runs_ai AFTER INSERT ON runs BEGIN
		INSERT INTO runs_fts(rowid, raw_query, enhanced_query)
		VALUES (new.rowid, new.raw_query, new.enhanced_query);
	END;
	CREATE TRIGGER IF NOT EXISTS runs_ad AFTER DELETE ON runs BEGIN
		INSERT INTO runs_fts(runs_fts, rowid, raw_query, enhanced_query)
		VALUES ('delete', old.rowid, old.raw_query, old.enhanced_query);
	END;
	CREATE TRIGGER IF NOT EXISTS runs_au AFTER UPDATE ON runs BEGIN
		INSERT INTO runs_fts(runs_fts, rowid, raw_query, enhanced_query)
		VALUES ('delete', old.rowid, old.raw_query, old.enhanced_query);
		INSERT INTO runs_fts(rowid, raw_query, enhanced_query)
		VALUES (new.rowid, new.raw_query, new.enhanced_query);
	END;
	`
	_, err := j.db.Exec(schema)
	return err
}

// Start journals a new run in the running state.
func (j *Journal) Start(ctx context.Context, p StartParams) (*Run, error) {
	if strings.TrimSpace(p.RawQuery) == "" {
		return nil, fmt.Errorf("raw query is required")
	}
	r := &Run{
		ID:            j.newID(),
		RawQuery:      p.RawQuery,
		EnhancedQuery: p.EnhancedQuery,
		Facts:         p.Facts,
		Status:        StatusRunning,
		StartedAt:     time.Now().UTC(),
	}

	var facts sql.NullString
	if len(p.Facts) > 0 {
		b, _ := json.Marshal(p.Facts)
		facts = sql.NullString{String: string(b), Valid: true}
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO runs (id, raw_query, enhanced_query, facts, status, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.RawQuery, r.EnhancedQuery, facts, string(r.Status), r.StartedAt.Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return r, nil
}

// Finish records the outcome of a running run.
func (j *Journal) Finish(ctx context.Context, id string, p FinishParams) error {
	if p.Status == "" || p.Status == StatusRunning {
		return fmt.Errorf("finish run %s: invalid status %q", id, p.Status)
	}
	var memIDs sql.NullString
	if len(p.MemoryIDs) > 0 {
		b, _ := json.Marshal(p.MemoryIDs)
		memIDs = sql.NullString{String: string(b), Valid: true}
	}

	res, err := j.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, exit_code = ?, events = ?, output = ?, error = ?, memory_ids = ?, finished_at = ? WHERE id = ?`,
		string(p.Status), p.ExitCode, p.Events, p.Output, p.Error, memIDs, time.Now().UTC().Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: %w", id, ErrNotFound)
	}
	return nil
}

const selectRun = `SELECT id, raw_query, enhanced_query, facts, status, exit_code, events, output, error, memory_ids, started_at, finished_at FROM runs`

// Get returns one run by id.
func (j *Journal) Get(ctx context.Context, id string) (*Run, error) {
	row := j.db.QueryRowContext(ctx, selectRun+` WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// List returns runs newest first.
func (j *Journal) List(ctx context.Context, p ListParams) ([]Run, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	var where []string
	var args []interface{}
	if p.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(p.Status))
	}
	if p.Since > 0 {
		where = append(where, "started_at >= ?")
		args = append(args, time.Now().UTC().Add(-p.Since).Format(timeLayout))
	}

	query := selectRun
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC LIMIT ?"
	args = append(args, limit)

	return j.query(ctx, query, args...)
}

// Search matches runs whose raw or enhanced query shares a term with q.
func (j *Journal) Search(ctx context.Context, q string, limit int) ([]Run, error) {
	match := ftsQuery(q)
	if match == "" {
		return []Run{}, nil
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := `SELECT r.id, r.raw_query, r.enhanced_query, r.facts, r.status, r.exit_code, r.events, r.output, r.error, r.memory_ids, r.started_at, r.finished_at
		FROM runs_fts f
		JOIN runs r ON r.rowid = f.rowid
		WHERE runs_fts MATCH ?
		ORDER BY f.rank, r.started_at DESC
		LIMIT ?`
	return j.query(ctx, query, match, limit)
}

func (j *Journal) query(ctx context.Context, query string, args ...interface{}) ([]Run, error) {
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (Run, error) {
	var r Run
	var status, startedAt string
	var facts, memIDs, finishedAt sql.NullString

	err := row.Scan(&r.ID, &r.RawQuery, &r.EnhancedQuery, &facts, &status, &r.ExitCode,
		&r.Events, &r.Output, &r.Error, &memIDs, &startedAt, &finishedAt)
	if err != nil {
		return r, err
	}

	r.Status = Status(status)
	r.StartedAt, _ = time.Parse(timeLayout, startedAt)
	if finishedAt.Valid {
		t, _ := time.Parse(timeLayout, finishedAt.String)
		r.FinishedAt = &t
	}
	if facts.Valid {
		json.Unmarshal([]byte(facts.String), &r.Facts)
	}
	if memIDs.Valid {
		json.Unmarshal([]byte(memIDs.String), &r.MemoryIDs)
	}
	return r, nil
}

// ftsQuery turns free text into an OR of quoted FTS5 terms.
func ftsQuery(q string) string {
	var terms []string
	for _, f := range strings.Fields(q) {
		f = strings.ReplaceAll(f, `"`, "")
		if f == "" {
			continue
		}
		terms = append(terms, `"`+f+`"`)
	}
	return strings.Join(terms, " OR ")
}

var sinceRegex = regexp.MustCompile(`^(\d+)([dhms])$`)

// ParseSince parses a window like "7d", "24h", "30m" into a duration.
func ParseSince(s string) (time.Duration, error) {
	m := sinceRegex.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid format %q (use e.g. 7d, 24h, 30m, 60s)", s)
	}
	n, _ := strconv.Atoi(m[1])
	switch m[2] {
	case "d":
		return time.Duration(n) * 24 * time.Hour, nil
	case "h":
		return time.Duration(n) * time.Hour, nil
	case "m":
		return time.Duration(n) * time.Minute, nil
	default:
		return time.Duration(n) * time.Second, nil
	}
}
