package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const (
	StatusRunning = "running"
	StatusOK      = "ok"
	StatusFailed  = "failed"
)

// Store is the build journal: one row per extbuild invocation and one per stage run.
type Store struct {
	db *sql.DB
}

var ErrNotFound = errors.New("not found")

// Run is one recorded build invocation.
type Run struct {
	ID         string   `json:"id"`
	Targets    []string `json:"targets"`
	Status     string   `json:"status"`
	StartedAt  string   `json:"started_at"`
	FinishedAt string   `json:"finished_at,omitempty"`
	Error      string   `json:"error,omitempty"`
	Stages     []Stage  `json:"stages,omitempty"`
}

// Stage is one stage execution within a run.
type Stage struct {
	RunID      string `json:"run_id"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
	Error      string `json:"error,omitempty"`
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open opens (creating if needed) the sqlite journal at path and migrates it.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// stages record concurrently; a single connection serialises writers
	db.SetMaxOpenConns(1)
	s := New(db)
	if err := s.Init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Init runs migrations using PRAGMA user_version.
func (s *Store) Init() error {
	var ver int
	if err := s.db.QueryRow(`PRAGMA user_version`).Scan(&ver); err != nil {
		return err
	}
	if ver >= 1 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// v1 schema
	if _, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS runs (
  id TEXT PRIMARY KEY,
  targets TEXT NOT NULL,
  status TEXT NOT NULL,
  started_at TEXT NOT NULL,
  finished_at TEXT,
  error TEXT
);
`); err != nil {
		return err
	}

	if _, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS stages (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
  name TEXT NOT NULL,
  status TEXT NOT NULL,
  started_at TEXT NOT NULL,
  finished_at TEXT,
  error TEXT,
  UNIQUE(run_id, name)
);
`); err != nil {
		return err
	}

	if _, err := tx.Exec(`PRAGMA user_version = 1`); err != nil {
		return err
	}

	return tx.Commit()
}

// timestamps are fixed width so they sort as text
const timeFormat = "2006-01-02T15:04:05.000000000Z"

func now() string {
	return time.Now().UTC().Format(timeFormat)
}

func errText(err error) sql.NullString {
	if err == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: err.Error(), Valid: true}
}

func statusOf(err error) string {
	if err != nil {
		return StatusFailed
	}
	return StatusOK
}

// StartRun records a new running build for targets and returns its id.
func (s *Store) StartRun(targets []string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(`INSERT INTO runs (id, targets, status, started_at) VALUES (?, ?, ?, ?)`,
		id, strings.Join(targets, " "), StatusRunning, now())
	if err != nil {
		return "", err
	}
	return id, nil
}

// FinishRun marks a run ok, or failed with runErr.
func (s *Store) FinishRun(id string, runErr error) error {
	res, err := s.db.Exec(`UPDATE runs SET status = ?, finished_at = ?, error = ? WHERE id = ?`,
		statusOf(runErr), now(), errText(runErr), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// StageStarted records that stage began within run runID.
func (s *Store) StageStarted(runID, stage string) error {
	_, err := s.db.Exec(`INSERT INTO stages (run_id, name, status, started_at) VALUES (?, ?, ?, ?)`,
		runID, stage, StatusRunning, now())
	return err
}

// StageFinished records the outcome of stage within run runID.
func (s *Store) StageFinished(runID, stage string, stageErr error) error {
	res, err := s.db.Exec(`UPDATE stages SET status = ?, finished_at = ?, error = ? WHERE run_id = ? AND name = ?`,
		statusOf(stageErr), now(), errText(stageErr), runID, stage)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRun returns a run together with its stages in start order.
func (s *Store) GetRun(id string) (*Run, error) {
	row := s.db.QueryRow(`SELECT id, targets, status, started_at, finished_at, error FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	stages, err := s.listStages(id)
	if err != nil {
		return nil, err
	}
	r.Stages = stages
	return r, nil
}

// ListRuns returns runs newest first. If limit <= 0, return all.
func (s *Store) ListRuns(limit int) ([]*Run, error) {
	q := `SELECT id, targets, status, started_at, finished_at, error FROM runs ORDER BY started_at DESC, rowid DESC`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.Query(q+` LIMIT ?`, limit)
	} else {
		rows, err = s.db.Query(q)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, r := range out {
		if r.Stages, err = s.listStages(r.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) listStages(runID string) ([]Stage, error) {
	rows, err := s.db.Query(`SELECT run_id, name, status, started_at, finished_at, error FROM stages WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Stage
	for rows.Next() {
		var st Stage
		var finished, errMsg sql.NullString
		if err := rows.Scan(&st.RunID, &st.Name, &st.Status, &st.StartedAt, &finished, &errMsg); err != nil {
			return nil, err
		}
		st.FinishedAt = finished.String
		st.Error = errMsg.String
		out = append(out, st)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var r Run
	var targets string
	var finished, errMsg sql.NullString
	if err := sc.Scan(&r.ID, &targets, &r.Status, &r.StartedAt, &finished, &errMsg); err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	r.Targets = strings.Fields(targets)
	r.FinishedAt = finished.String
	r.Error = errMsg.String
	return &r, nil
}
