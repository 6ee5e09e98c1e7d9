package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/rigflow/internal/variables"
	"github.com/rendis/rigflow/pkg/schema"
)

// LibSQLStore implements Store on an embedded libSQL database.
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens the database at dbPath. A plain filesystem path is
// opened as a local file; "file:", "libsql://" and "http(s)://" URLs are
// passed through. Call Migrate before use.
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", DSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return a row, so they go through QueryRow.
	for _, p := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		var ignored string
		_ = db.QueryRow(p).Scan(&ignored)
	}
	return &LibSQLStore{db: db}, nil
}

// DSN turns a database path into a URL the libsql driver accepts.
func DSN(dbPath string) string {
	for _, scheme := range []string{"file:", "libsql://", "http://", "https://"} {
		if strings.HasPrefix(dbPath, scheme) {
			return dbPath
		}
	}
	return "file:" + dbPath
}

// DB returns the underlying handle.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate applies pending schema migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum compacts the database file.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Workflows ---

// SaveWorkflow inserts wf or replaces the stored copy with the same ID.
// Runtime step status is not persisted.
func (s *LibSQLStore) SaveWorkflow(ctx context.Context, wf *schema.Workflow) error {
	if wf == nil || wf.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "workflow has no id")
	}
	def, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, name, description, definition, step_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, description=excluded.description,
		   definition=excluded.definition, step_count=excluded.step_count, updated_at=excluded.updated_at`,
		wf.ID, wf.Name, nullStr(wf.Description), string(def), len(wf.Steps),
		timeOrNow(wf.CreatedAt), timeOrNow(wf.UpdatedAt),
	)
	if err != nil {
		return storeError("save workflow", err)
	}
	return nil
}

// GetWorkflow loads a workflow by ID.
func (s *LibSQLStore) GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error) {
	return s.scanWorkflow(ctx, "workflow", id,
		`SELECT definition FROM workflows WHERE id = ?`, id)
}

// FindWorkflowByName loads the most recently updated workflow with name.
func (s *LibSQLStore) FindWorkflowByName(ctx context.Context, name string) (*schema.Workflow, error) {
	return s.scanWorkflow(ctx, "workflow named", name,
		`SELECT definition FROM workflows WHERE name = ? ORDER BY updated_at DESC LIMIT 1`, name)
}

func (s *LibSQLStore) scanWorkflow(ctx context.Context, resource, key, query string, args ...any) (*schema.Workflow, error) {
	var def string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&def)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound(resource, key)
	}
	if err != nil {
		return nil, storeError("get workflow", err)
	}
	wf := &schema.Workflow{}
	if err := json.Unmarshal([]byte(def), wf); err != nil {
		return nil, fmt.Errorf("unmarshal workflow %s: %w", key, err)
	}
	return wf, nil
}

// ListWorkflows returns summaries ordered by name.
func (s *LibSQLStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*WorkflowSummary, error) {
	query := `SELECT id, name, description, step_count, updated_at FROM workflows`
	var args []any
	if filter.NameLike != "" {
		query += ` WHERE LOWER(name) LIKE ?`
		args = append(args, "%"+strings.ToLower(filter.NameLike)+"%")
	}
	query += ` ORDER BY name, updated_at DESC`
	query += limitClause(filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("list workflows", err)
	}
	defer rows.Close()

	var out []*WorkflowSummary
	for rows.Next() {
		w := &WorkflowSummary{}
		var desc sql.NullString
		if err := rows.Scan(&w.ID, &w.Name, &desc, &w.StepCount, &w.UpdatedAt); err != nil {
			return nil, err
		}
		w.Description = desc.String
		out = append(out, w)
	}
	return out, rows.Err()
}

// DeleteWorkflow removes a workflow. Its run history is kept.
func (s *LibSQLStore) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return storeError("delete workflow", err)
	}
	return checkRowsAffected(res, "workflow", id)
}

// --- Variables ---

// SaveVariables replaces the stored user variables with vars. System
// variables are skipped.
func (s *LibSQLStore) SaveVariables(ctx context.Context, vars []schema.Variable) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeError("begin save variables", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM variables`); err != nil {
		return storeError("clear variables", err)
	}
	for _, v := range vars {
		if v.IsSystem {
			continue
		}
		value, err := json.Marshal(v.Value)
		if err != nil {
			return fmt.Errorf("marshal variable %s: %w", v.Name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO variables (name, type, value, scope, is_read_only, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
			v.Name, string(v.Type), string(value), string(v.Scope), v.IsReadOnly, timeOrNow(v.UpdatedAt),
		); err != nil {
			return storeError("insert variable "+v.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storeError("commit variables", err)
	}
	return nil
}

// LoadVariables returns the stored user variables, values coerced to their
// declared types, ordered by name.
func (s *LibSQLStore) LoadVariables(ctx context.Context) ([]schema.Variable, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, type, value, scope, is_read_only, updated_at FROM variables ORDER BY name`)
	if err != nil {
		return nil, storeError("load variables", err)
	}
	defer rows.Close()

	var out []schema.Variable
	for rows.Next() {
		var (
			v          schema.Variable
			typ, scope string
			raw        sql.NullString
		)
		if err := rows.Scan(&v.Name, &typ, &raw, &scope, &v.IsReadOnly, &v.UpdatedAt); err != nil {
			return nil, err
		}
		v.Type = schema.VariableType(typ)
		v.Scope = schema.VariableScope(scope)
		if raw.Valid && raw.String != "" {
			var decoded any
			if err := json.Unmarshal([]byte(raw.String), &decoded); err != nil {
				return nil, fmt.Errorf("unmarshal variable %s: %w", v.Name, err)
			}
			coerced, err := variables.Coerce(v.Type, decoded)
			if err != nil {
				return nil, fmt.Errorf("variable %s: %w", v.Name, err)
			}
			v.Value = coerced
		}
		v.DisplayText = variables.DisplayText(v.Type, v.Value)
		out = append(out, v)
	}
	return out, rows.Err()
}

// --- Runs ---

// RecordRun stores a finished run. Recording the same run twice overwrites it.
func (s *LibSQLStore) RecordRun(ctx context.Context, r *schema.RunResult) error {
	if r == nil || r.RunID == "" {
		return schema.NewError(schema.ErrCodeValidation, "run has no id")
	}
	stepsJSON, err := json.Marshal(r.Steps)
	if err != nil {
		return fmt.Errorf("marshal run steps: %w", err)
	}
	var errJSON any
	if r.Error != nil {
		b, err := json.Marshal(r.Error)
		if err != nil {
			return fmt.Errorf("marshal run error: %w", err)
		}
		errJSON = string(b)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, workflow_id, workflow_name, status, failed_step_index, message, error, steps, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status=excluded.status, failed_step_index=excluded.failed_step_index,
		   message=excluded.message, error=excluded.error, steps=excluded.steps, completed_at=excluded.completed_at`,
		r.RunID, r.WorkflowID, nullStr(r.WorkflowName), string(r.Status), r.FailedStepIndex,
		nullStr(r.Message), errJSON, string(stepsJSON), timeOrNow(r.StartedAt), timeOrNow(r.CompletedAt),
	)
	if err != nil {
		return storeError("record run", err)
	}
	return nil
}

const runColumns = `id, workflow_id, workflow_name, status, failed_step_index, message, error, steps, started_at, completed_at`

// GetRun loads one run.
func (s *LibSQLStore) GetRun(ctx context.Context, id string) (*schema.RunResult, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("run", id)
	}
	return r, err
}

// ListRuns returns runs newest first.
func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*schema.RunResult, error) {
	var where []string
	var args []any
	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Since != nil {
		where = append(where, "started_at >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC"
	query += limitClause(filter.Limit, 0)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("list runs", err)
	}
	defer rows.Close()

	var out []*schema.RunResult
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*schema.RunResult, error) {
	r := &schema.RunResult{}
	var (
		name, message, errJSON, stepsJSON sql.NullString
		status                            string
	)
	if err := row.Scan(&r.RunID, &r.WorkflowID, &name, &status, &r.FailedStepIndex,
		&message, &errJSON, &stepsJSON, &r.StartedAt, &r.CompletedAt); err != nil {
		return nil, err
	}
	r.WorkflowName = name.String
	r.Status = schema.RunStatus(status)
	r.Message = message.String
	if errJSON.Valid && errJSON.String != "" {
		r.Error = &schema.Error{}
		if err := json.Unmarshal([]byte(errJSON.String), r.Error); err != nil {
			return nil, fmt.Errorf("unmarshal run error: %w", err)
		}
	}
	if stepsJSON.Valid && stepsJSON.String != "" {
		if err := json.Unmarshal([]byte(stepsJSON.String), &r.Steps); err != nil {
			return nil, fmt.Errorf("unmarshal run steps: %w", err)
		}
	}
	return r, nil
}

// --- Run events ---

// GetRunEvents returns the events of runID with sequence > since, in order.
func (s *LibSQLStore) GetRunEvents(ctx context.Context, runID string, since int64) ([]*RunEventRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, sequence, event_type, step_index, payload, timestamp
		 FROM run_events WHERE run_id = ? AND sequence > ? ORDER BY sequence`, runID, since)
	if err != nil {
		return nil, storeError("get run events", err)
	}
	defer rows.Close()

	var out []*RunEventRecord
	for rows.Next() {
		e := &RunEventRecord{}
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &e.Sequence, &e.Type, &e.StepIndex, &payload, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Payload = rawOrNil(payload)
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.Error {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func storeError(op string, err error) *schema.Error {
	return schema.NewErrorf(schema.ErrCodeStore, "%s: %s", op, err.Error()).WithCause(err)
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

func limitClause(limit, offset int) string {
	if limit <= 0 {
		return ""
	}
	if offset > 0 {
		return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	}
	return fmt.Sprintf(" LIMIT %d", limit)
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}
