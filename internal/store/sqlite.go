package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/landcover/internal/geo"
	"github.com/sells-group/landcover/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	params     TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	result     TEXT,
	error      TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_phases (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	name       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	result     TEXT,
	started_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS labels (
	id         TEXT PRIMARY KEY,
	class      INTEGER NOT NULL,
	geom       BLOB NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS regions (
	name       TEXT PRIMARY KEY,
	geom       BLOB NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_run_phases_run_id ON run_phases(run_id);
CREATE INDEX IF NOT EXISTS idx_labels_class ON labels(class);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, params model.RunParams) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal params")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, params, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, string(paramsJSON), string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		Params:    params,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error {
	return s.finishRun(ctx, runID, model.RunStatusComplete, result, "")
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, result *model.RunResult, reason string) error {
	return s.finishRun(ctx, runID, model.RunStatusFailed, result, reason)
}

func (s *SQLiteStore) finishRun(ctx context.Context, runID string, status model.RunStatus, result *model.RunResult, reason string) error {
	var resultJSON sql.NullString
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal result")
		}
		resultJSON = sql.NullString{String: string(b), Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET result = ?, status = ?, error = ?, updated_at = ? WHERE id = ?`,
		resultJSON, string(status), reason, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, params, status, result, error, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	r, err := scanRun(row)
	if errors.Is(err, ErrNotFound) {
		return nil, eris.Wrapf(err, "sqlite: run %s", runID)
	}
	return r, err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, params, status, result, error, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Year > 0 {
		query += ` AND json_extract(params, '$.year') = ?`
		args = append(args, filter.Year)
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.CreatedAfter.UTC())
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_phases (id, run_id, name, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, runID, name, string(model.PhaseStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert phase for run %s", runID)
	}

	return &model.RunPhase{
		ID:        id,
		RunID:     runID,
		Name:      name,
		Status:    model.PhaseStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *SQLiteStore) CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal phase result")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE run_phases SET status = ?, result = ? WHERE id = ?`,
		string(result.Status), string(resultJSON), phaseID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete phase %s", phaseID)
	}
	return checkRowsAffected(res, "phase", phaseID)
}

func (s *SQLiteStore) ListPhases(ctx context.Context, runID string) ([]model.RunPhase, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, name, status, result, started_at FROM run_phases WHERE run_id = ? ORDER BY started_at, rowid`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list phases %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	var phases []model.RunPhase
	for rows.Next() {
		var p model.RunPhase
		var resultJSON sql.NullString
		if err := rows.Scan(&p.ID, &p.RunID, &p.Name, &p.Status, &resultJSON, &p.StartedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan phase")
		}
		if resultJSON.Valid {
			p.Result = &model.PhaseResult{}
			if err := json.Unmarshal([]byte(resultJSON.String), p.Result); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal phase result")
			}
		}
		phases = append(phases, p)
	}
	return phases, eris.Wrap(rows.Err(), "sqlite: list phases iterate")
}

func (s *SQLiteStore) SaveLabels(ctx context.Context, samples []model.LabeledSample) (int, error) {
	if len(samples) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin labels tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO labels (id, class, geom, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET class = excluded.class, geom = excluded.geom`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare labels insert")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	for _, row := range labelRows(samples) {
		if row.err != nil {
			return 0, row.err
		}
		if _, err := stmt.ExecContext(ctx, row.id, row.class, row.geom, now); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert label %s", row.id)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit labels")
	}
	return len(samples), nil
}

func (s *SQLiteStore) LoadLabeledGeometries(ctx context.Context, class model.Class) ([]model.LabeledSample, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, class, geom FROM labels WHERE class = ? ORDER BY id`, int(class),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load labels %s", class)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.LabeledSample
	for rows.Next() {
		var ls model.LabeledSample
		var code int
		var wkb []byte
		if err := rows.Scan(&ls.ID, &code, &wkb); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan label")
		}
		if ls.Geometry, err = geo.DecodeEWKB(wkb); err != nil {
			return nil, eris.Wrapf(err, "sqlite: label %s", ls.ID)
		}
		ls.Class = model.Class(code)
		out = append(out, ls)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: load labels iterate")
}

func (s *SQLiteStore) CountLabels(ctx context.Context) (map[model.Class]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT class, COUNT(*) FROM labels GROUP BY class`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count labels")
	}
	defer rows.Close() //nolint:errcheck

	counts := make(map[model.Class]int)
	for rows.Next() {
		var code, n int
		if err := rows.Scan(&code, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan label count")
		}
		counts[model.Class(code)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: count labels iterate")
}

func (s *SQLiteStore) SaveRegions(ctx context.Context, regions []model.Region) (int, error) {
	if len(regions) == 0 {
		return 0, nil
	}
	rows, err := regionRows(regions)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin regions tx")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, r := range rows {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO regions (name, geom, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT (name) DO UPDATE SET geom = excluded.geom, updated_at = excluded.updated_at`,
			r...,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert region %v", r[0])
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit regions")
	}
	return len(rows), nil
}

func (s *SQLiteStore) LoadRegionGeometry(ctx context.Context, name string) (geo.Geometry, error) {
	var wkb []byte
	err := s.db.QueryRowContext(ctx, `SELECT geom FROM regions WHERE name = ?`, RegionKey(name)).Scan(&wkb)
	if errors.Is(err, sql.ErrNoRows) {
		return geo.Geometry{}, eris.Wrapf(ErrNotFound, "sqlite: region %s", name)
	}
	if err != nil {
		return geo.Geometry{}, eris.Wrapf(err, "sqlite: load region %s", name)
	}
	g, err := geo.DecodeEWKB(wkb)
	return g, eris.Wrapf(err, "sqlite: region %s", name)
}

func (s *SQLiteStore) ListRegions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM regions ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list regions")
	}
	defer rows.Close() //nolint:errcheck

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan region")
		}
		names = append(names, n)
	}
	return names, eris.Wrap(rows.Err(), "sqlite: list regions iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var paramsJSON string
	var resultJSON sql.NullString

	err := row.Scan(&r.ID, &paramsJSON, &r.Status, &resultJSON, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if err := json.Unmarshal([]byte(paramsJSON), &r.Params); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal params")
	}
	if resultJSON.Valid {
		r.Result = &model.RunResult{}
		if err := json.Unmarshal([]byte(resultJSON.String), r.Result); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal result")
		}
	}
	return &r, nil
}

type labelRow struct {
	id    string
	class int
	geom  []byte
	err   error
}

func labelRows(samples []model.LabeledSample) []labelRow {
	out := make([]labelRow, len(samples))
	for i, ls := range samples {
		id := ls.ID
		if id == "" {
			id = uuid.New().String()
		}
		row := labelRow{id: id, class: int(ls.Class)}
		if !ls.Class.Valid() {
			row.err = eris.Errorf("store: label %s has unknown class %d", id, int(ls.Class))
		} else if row.geom, row.err = geo.EncodeEWKB(ls.Geometry); row.err != nil {
			row.err = eris.Wrapf(row.err, "store: label %s", id)
		}
		out[i] = row
	}
	return out
}

func regionRows(regions []model.Region) ([][]any, error) {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(regions))
	seen := make(map[string]int, len(regions))
	for _, r := range regions {
		key := RegionKey(r.Name)
		if key == "" {
			return nil, eris.New("store: region without a name")
		}
		if !r.Geometry.Polygonal() {
			return nil, eris.Errorf("store: region %s is not a polygon", r.Name)
		}
		wkb, err := geo.EncodeEWKB(r.Geometry)
		if err != nil {
			return nil, eris.Wrapf(err, "store: region %s", r.Name)
		}
		// Later duplicates win within one batch.
		if i, ok := seen[key]; ok {
			rows[i][1] = wkb
			continue
		}
		seen[key] = len(rows)
		rows = append(rows, []any{key, wkb, now})
	}
	return rows, nil
}
