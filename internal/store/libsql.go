package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/obwan02/Actionator/pkg/schema"
)

const invocationColumns = "id, action, status, source, payload, result, error, error_code, created_at, started_at, completed_at, updated_at"

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/actionator.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	if !strings.HasPrefix(dbPath, "file:") && !strings.Contains(dbPath, "://") {
		dbPath = "file:" + dbPath
	}
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

func (s *LibSQLStore) CreateInvocation(ctx context.Context, inv *Invocation) error {
	if inv.ID == "" || inv.Action == "" {
		return schema.NewError(schema.ErrCodeStore, "invocation id and action are required")
	}
	if inv.Status == "" {
		inv.Status = schema.InvocationStatusPending
	}
	inv.CreatedAt = timeOrNow(inv.CreatedAt)
	inv.UpdatedAt = timeOrNow(inv.UpdatedAt)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO invocations (`+invocationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.Action, string(inv.Status), nullStr(inv.Source),
		nullRaw(inv.Payload), nullRaw(inv.Result), nullStr(inv.Error), nullStr(inv.ErrorCode),
		inv.CreatedAt, nullTime(inv.StartedAt), nullTime(inv.CompletedAt), inv.UpdatedAt,
	)
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "unique") {
		return schema.NewErrorf(schema.ErrCodeConflict, "invocation %q already exists", inv.ID).WithCause(err)
	}
	return err
}

func (s *LibSQLStore) GetInvocation(ctx context.Context, id string) (*Invocation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+invocationColumns+` FROM invocations WHERE id = ?`, id)
	inv, err := scanInvocation(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("invocation", id)
	}
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *LibSQLStore) UpdateInvocation(ctx context.Context, id string, update InvocationUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Result != nil {
		sets = append(sets, "result = ?")
		args = append(args, string(update.Result))
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, *update.Error)
	}
	if update.ErrorCode != nil {
		sets = append(sets, "error_code = ?")
		args = append(args, *update.ErrorCode)
	}
	if update.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, *update.StartedAt)
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC(), id)

	query := fmt.Sprintf("UPDATE invocations SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "invocation", id)
}

func (s *LibSQLStore) ListInvocations(ctx context.Context, filter InvocationFilter) ([]*Invocation, error) {
	var where []string
	var args []any

	if filter.Action != "" {
		where = append(where, "action = ?")
		args = append(args, filter.Action)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *filter.Since)
	}

	query := "SELECT " + invocationColumns + " FROM invocations"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Invocation
	for rows.Next() {
		inv, err := scanInvocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanInvocation(sc scanner) (*Invocation, error) {
	inv := &Invocation{}
	var (
		status                  string
		source, payload, result sql.NullString
		errMsg, errCode         sql.NullString
		startedAt, completedAt  sql.NullTime
	)
	if err := sc.Scan(&inv.ID, &inv.Action, &status, &source, &payload, &result, &errMsg, &errCode,
		&inv.CreatedAt, &startedAt, &completedAt, &inv.UpdatedAt); err != nil {
		return nil, err
	}
	inv.Status = schema.InvocationStatus(status)
	inv.Source = source.String
	inv.Payload = rawOrNil(payload)
	inv.Result = rawOrNil(result)
	inv.Error = errMsg.String
	inv.ErrorCode = errCode.String
	if startedAt.Valid {
		inv.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		inv.CompletedAt = &completedAt.Time
	}
	return inv, nil
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.ActionatorError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

var _ Store = (*LibSQLStore)(nil)
