package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattjoyce/hostdispatch/internal/operation"
	"github.com/mattjoyce/hostdispatch/internal/result"
)

// ErrNotFound is returned by Get for an unknown dispatch id.
var ErrNotFound = errors.New("dispatch not found")

// Entry is one completed dispatch.
type Entry struct {
	ID          string          `json:"id"`
	Host        string          `json:"host"`
	Operation   operation.Kind  `json:"operation"`
	Variant     string          `json:"variant"`
	Failed      bool            `json:"failed"`
	Msg         string          `json:"msg,omitempty"`
	Facts       operation.Facts `json:"facts"`
	Result      result.Record   `json:"result"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at"`
}

// Store persists dispatch outcomes in the dispatch_log table.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record appends e to the log. An empty ID is filled with a new UUID, which is
// returned.
func (s *Store) Record(ctx context.Context, e Entry) (string, error) {
	if e.Host == "" {
		return "", fmt.Errorf("host is empty")
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CompletedAt.IsZero() {
		e.CompletedAt = time.Now()
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = e.CompletedAt
	}

	factsJSON, err := json.Marshal(e.Facts)
	if err != nil {
		return "", fmt.Errorf("encode facts: %w", err)
	}
	rec := e.Result
	if rec == nil {
		rec = result.Record{}
	}
	resultJSON, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}

	failed := 0
	if e.Failed {
		failed = 1
	}
	var msg sql.NullString
	if e.Msg != "" {
		msg = sql.NullString{String: e.Msg, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO dispatch_log(id, host, operation, variant, failed, msg, facts, result, started_at, completed_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, e.ID, e.Host, string(e.Operation), e.Variant, failed, msg, string(factsJSON), string(resultJSON),
		e.StartedAt.UTC().Format(time.RFC3339Nano), e.CompletedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("insert dispatch_log: %w", err)
	}
	return e.ID, nil
}

const selectColumns = `SELECT id, host, operation, variant, failed, msg, facts, result, started_at, completed_at FROM dispatch_log`

// Get returns the entry with the given id.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?;`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// ListByHost returns the newest entries for host, newest first.
func (s *Store) ListByHost(ctx context.Context, host string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, selectColumns+` WHERE host = ? ORDER BY started_at DESC LIMIT ?;`, host, limit)
	if err != nil {
		return nil, fmt.Errorf("query dispatch_log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dispatch_log: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (*Entry, error) {
	var (
		e                    Entry
		op                   string
		failed               int
		msg                  sql.NullString
		factsRaw, resultRaw  string
		startedAt, completed string
	)
	if err := sc.Scan(&e.ID, &e.Host, &op, &e.Variant, &failed, &msg, &factsRaw, &resultRaw, &startedAt, &completed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan dispatch_log: %w", err)
	}
	e.Operation = operation.Kind(op)
	e.Failed = failed != 0
	e.Msg = msg.String

	if err := json.Unmarshal([]byte(factsRaw), &e.Facts); err != nil {
		return nil, fmt.Errorf("decode facts for %s: %w", e.ID, err)
	}
	if err := json.Unmarshal([]byte(resultRaw), &e.Result); err != nil {
		return nil, fmt.Errorf("decode result for %s: %w", e.ID, err)
	}

	var err error
	if e.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at for %s: %w", e.ID, err)
	}
	if e.CompletedAt, err = time.Parse(time.RFC3339Nano, completed); err != nil {
		return nil, fmt.Errorf("parse completed_at for %s: %w", e.ID, err)
	}
	return &e, nil
}
