package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/qubitlab/runcache/internal/descriptions"
	"github.com/qubitlab/runcache/internal/ndarray"
)

// sqliteTimeLayout is the format produced by SQLite's datetime('now').
const sqliteTimeLayout = "2006-01-02 15:04:05"

// identRe restricts parameter names to safe SQL identifiers, since they
// become column names of the per-run result tables.
var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLiteRunStore implements RunStore on a single SQLite database file.
// Run metadata lives in the runs table; each run's result rows live in
// their own table with one column per parameter.
type SQLiteRunStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	dbPath string
}

// OpenSQLite opens (creating if needed) a run store at path.
func OpenSQLite(path string) (*SQLiteRunStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with a single writer
	db.SetMaxOpenConns(1)

	if err := InitSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteRunStore{db: db, dbPath: path}, nil
}

// Close closes the underlying database.
func (s *SQLiteRunStore) Close() error {
	return s.db.Close()
}

// CreateRun registers a run and creates its result table.
func (s *SQLiteRunStore) CreateRun(ctx context.Context, name string, desc *descriptions.RunDescriber) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if name == "" {
		return 0, fmt.Errorf("run name is required")
	}
	for _, p := range desc.Params {
		if !identRe.MatchString(p.Name) {
			return 0, fmt.Errorf("parameter name %q is not a valid identifier", p.Name)
		}
	}
	descJSON, err := descriptions.Marshal(desc)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO runs (name, description, started_at) VALUES (?, ?, datetime('now'))`,
		name, string(descJSON))
	if err != nil {
		return 0, fmt.Errorf("failed to insert run: %w", err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get run id: %w", err)
	}

	table := resultTable(runID)
	cols := make([]string, 0, len(desc.Params)+1)
	cols = append(cols, "id INTEGER PRIMARY KEY AUTOINCREMENT")
	for _, p := range desc.Params {
		cols = append(cols, fmt.Sprintf("%q %s", p.Name, columnType(p.Type)))
	}
	createStmt := fmt.Sprintf("CREATE TABLE %q (%s)", table, strings.Join(cols, ", "))
	if _, err := tx.ExecContext(ctx, createStmt); err != nil {
		return 0, fmt.Errorf("failed to create result table: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE runs SET result_table = ? WHERE run_id = ?`, table, runID); err != nil {
		return 0, fmt.Errorf("failed to record result table: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit run creation: %w", err)
	}
	return runID, nil
}

// Append adds result rows to a run. Appending to a completed run is an
// error; the row values must match the run's parameter types.
func (s *SQLiteRunStore) Append(ctx context.Context, runID int64, rows []Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, err := s.getRunRow(ctx, runID)
	if err != nil {
		return err
	}
	if run.completed {
		return fmt.Errorf("run %d is completed, no further rows accepted", runID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i, row := range rows {
		cols := make([]string, 0, len(row))
		marks := make([]string, 0, len(row))
		args := make([]any, 0, len(row))
		// Iterate the spec order so statements are deterministic.
		for _, p := range run.desc.Params {
			v, ok := row[p.Name]
			if !ok {
				continue
			}
			enc, err := encodeValue(p.Type, v)
			if err != nil {
				return fmt.Errorf("row %d, parameter %q: %w", i, p.Name, err)
			}
			cols = append(cols, fmt.Sprintf("%q", p.Name))
			marks = append(marks, "?")
			args = append(args, enc)
		}
		if len(cols) != len(row) {
			for name := range row {
				if run.desc.Param(name) == nil {
					return fmt.Errorf("row %d: unknown parameter %q", i, name)
				}
			}
		}
		if len(cols) == 0 {
			continue
		}
		stmt := fmt.Sprintf("INSERT INTO %q (%s) VALUES (%s)",
			run.table, strings.Join(cols, ", "), strings.Join(marks, ", "))
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// ReadNew returns per-tree result rows appended since the given read
// cursors. Trees whose parameters are unknown to the stored run yield no
// data rather than an error. The returned cursor map carries every entry
// of the input map forward.
func (s *SQLiteRunStore) ReadNew(
	ctx context.Context,
	runID int64,
	desc *descriptions.RunDescriber,
	readStatus map[string]int,
) (map[string]map[string]*ndarray.Array, map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, err := s.getRunRow(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	stored := make(map[string]descriptions.ParamType, len(run.desc.Params))
	for _, p := range run.desc.Params {
		stored[p.Name] = p.Type
	}

	newData := make(map[string]map[string]*ndarray.Array)
	updated := make(map[string]int, len(readStatus))
	for name, n := range readStatus {
		updated[name] = n
	}

	for _, param := range desc.TopLevel() {
		tree := desc.TreeParams(param)
		known := true
		for _, member := range tree {
			if _, ok := stored[member]; !ok {
				known = false
				break
			}
		}
		if !known {
			continue
		}

		vals, n, err := s.readTree(ctx, run.table, param, tree, readStatus[param])
		if err != nil {
			return nil, nil, fmt.Errorf("tree %q: %w", param, err)
		}
		if n == 0 {
			continue
		}

		arrays := make(map[string]*ndarray.Array, len(tree))
		for i, member := range tree {
			arr, err := columnArray(stored[member], vals[i])
			if err != nil {
				return nil, nil, fmt.Errorf("tree %q, parameter %q: %w", param, member, err)
			}
			arrays[member] = arr
		}
		newData[param] = arrays
		updated[param] = readStatus[param] + n
	}

	return newData, updated, nil
}

// readTree fetches the rows of one tree past the given offset. Rows count
// for a tree only when the tree's own (dependent) parameter is non-NULL.
func (s *SQLiteRunStore) readTree(ctx context.Context, table, param string, tree []string, offset int) ([][]any, int, error) {
	quoted := make([]string, len(tree))
	for i, member := range tree {
		quoted[i] = fmt.Sprintf("%q", member)
	}
	query := fmt.Sprintf(
		"SELECT %s FROM %q WHERE %q IS NOT NULL ORDER BY id LIMIT -1 OFFSET ?",
		strings.Join(quoted, ", "), table, param)

	rows, err := s.db.QueryContext(ctx, query, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	vals := make([][]any, len(tree))
	n := 0
	for rows.Next() {
		dest := make([]any, len(tree))
		for i := range dest {
			dest[i] = new(any)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, 0, err
		}
		for i := range tree {
			vals[i] = append(vals[i], *(dest[i].(*any)))
		}
		n++
	}
	return vals, n, rows.Err()
}

// Completed reports whether the run has been marked completed.
func (s *SQLiteRunStore) Completed(ctx context.Context, runID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var completed int
	err := s.db.QueryRowContext(ctx,
		`SELECT completed FROM runs WHERE run_id = ?`, runID).Scan(&completed)
	if err == sql.ErrNoRows {
		return false, fmt.Errorf("run %d: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("failed to query completion: %w", err)
	}
	return completed != 0, nil
}

// MarkCompleted marks a run as completed. Idempotent.
func (s *SQLiteRunStore) MarkCompleted(ctx context.Context, runID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET completed = 1, completed_at = datetime('now') WHERE run_id = ?`, runID)
	if err != nil {
		return fmt.Errorf("failed to mark run completed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("run %d: %w", runID, ErrRunNotFound)
	}
	return nil
}

// Runs lists all stored runs, oldest first.
func (s *SQLiteRunStore) Runs(ctx context.Context) ([]RunInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, name, result_table, completed, started_at, completed_at FROM runs ORDER BY run_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var infos []RunInfo
	var tables []string
	for rows.Next() {
		info, table, err := scanRunInfo(rows)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
		tables = append(tables, table)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, table := range tables {
		count, err := s.countRows(ctx, table)
		if err != nil {
			return nil, err
		}
		infos[i].Rows = count
	}
	return infos, nil
}

// GetRun returns the listing entry for one run.
func (s *SQLiteRunStore) GetRun(ctx context.Context, runID int64) (*RunInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, name, result_table, completed, started_at, completed_at FROM runs WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("run %d: %w", runID, ErrRunNotFound)
	}
	info, table, err := scanRunInfo(rows)
	if err != nil {
		return nil, err
	}
	rows.Close()

	info.Rows, err = s.countRows(ctx, table)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// Describe returns the run's stored description.
func (s *SQLiteRunStore) Describe(ctx context.Context, runID int64) (*descriptions.RunDescriber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, err := s.getRunRow(ctx, runID)
	if err != nil {
		return nil, err
	}
	return run.desc, nil
}

// runRow is the internal view of one runs-table row.
type runRow struct {
	table     string
	desc      *descriptions.RunDescriber
	completed bool
}

func (s *SQLiteRunStore) getRunRow(ctx context.Context, runID int64) (*runRow, error) {
	var table, descJSON string
	var completed int
	err := s.db.QueryRowContext(ctx,
		`SELECT result_table, description, completed FROM runs WHERE run_id = ?`, runID).
		Scan(&table, &descJSON, &completed)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %d: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}

	desc, err := descriptions.Unmarshal([]byte(descJSON))
	if err != nil {
		return nil, fmt.Errorf("run %d: %w", runID, err)
	}
	return &runRow{table: table, desc: desc, completed: completed != 0}, nil
}

func (s *SQLiteRunStore) countRows(ctx context.Context, table string) (int, error) {
	var count int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %q", table)
	if err := s.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count rows of %s: %w", table, err)
	}
	return count, nil
}

// scanRunInfo scans one row of the runs-table listing query.
func scanRunInfo(rows *sql.Rows) (RunInfo, string, error) {
	var info RunInfo
	var table, startedAt string
	var completed int
	var completedAt sql.NullString
	if err := rows.Scan(&info.ID, &info.Name, &table, &completed, &startedAt, &completedAt); err != nil {
		return RunInfo{}, "", fmt.Errorf("failed to scan run: %w", err)
	}
	info.Completed = completed != 0
	if t, err := time.Parse(sqliteTimeLayout, startedAt); err == nil {
		info.StartedAt = t.UTC()
	}
	if completedAt.Valid {
		if t, err := time.Parse(sqliteTimeLayout, completedAt.String); err == nil {
			info.CompletedAt = t.UTC()
		}
	}
	return info, table, nil
}

// resultTable returns the result table name for a run.
func resultTable(runID int64) string {
	return fmt.Sprintf("results_%d", runID)
}
