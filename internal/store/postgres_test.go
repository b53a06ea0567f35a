package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/paulmach/orb"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/landcover/internal/geo"
	"github.com/sells-group/landcover/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, params, status, result, error, created_at, updated_at FROM runs WHERE id = \$1`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "get run")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()
	result := []byte(`{"scenes":3}`)

	rows := pgxmock.NewRows([]string{"id", "params", "status", "result", "error", "created_at", "updated_at"}).
		AddRow("run-1", []byte(`{"year":2010,"aoi":"alabama"}`), model.RunStatusComplete,
			&result, "", now, now)
	mock.ExpectQuery(`FROM runs WHERE id = \$1`).WithArgs("run-1").WillReturnRows(rows)

	run, err := s.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, 2010, run.Params.Year)
	require.NotNil(t, run.Result)
	assert.Equal(t, 3, run.Result.Scenes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateRunStatus_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status = \$1`).
		WithArgs(string(model.RunStatusTraining), pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateRunStatus(context.Background(), "missing", model.RunStatusTraining)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FailRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET result = \$1, status = \$2, error = \$3`).
		WithArgs(pgxmock.AnyArg(), string(model.RunStatusFailed), "boom", pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.FailRun(context.Background(), "run-1", nil, "boom"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns_Filters(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`AND status = \$1 AND \(params->>'year'\)::int = \$2 ORDER BY created_at DESC LIMIT \$3 OFFSET \$4`).
		WithArgs(string(model.RunStatusComplete), 2010, 5, 10).
		WillReturnRows(pgxmock.NewRows([]string{"id", "params", "status", "result", "error", "created_at", "updated_at"}))

	runs, err := s.ListRuns(context.Background(), RunFilter{Status: model.RunStatusComplete, Year: 2010, Limit: 5, Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveLabels_Copy(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"labels"}, []string{"id", "class", "geom", "created_at"}).WillReturnResult(2)

	pt, _ := geo.New(orb.Point{-86.5, 33.2}, 4326)
	n, err := s.SaveLabels(context.Background(), []model.LabeledSample{
		{ID: "a", Class: model.ClassUrban, Geometry: pt},
		{ID: "b", Class: model.ClassBarren, Geometry: pt},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LoadLabeledGeometries(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	pt, _ := geo.New(orb.Point{-86.5, 33.2}, 4326)
	wkb, err := geo.EncodeEWKB(pt)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT id, class, geom FROM labels WHERE class = \$1`).
		WithArgs(int16(model.ClassWater)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "class", "geom"}).AddRow("w1", int16(2), wkb))

	got, err := s.LoadLabeledGeometries(context.Background(), model.ClassWater)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.ClassWater, got[0].Class)
	assert.True(t, orb.Equal(pt.Geom, got[0].Geometry.Geom))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveRegions_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_regions"}, []string{"name", "geom", "updated_at"}).WillReturnResult(1)
	mock.ExpectExec(`ON CONFLICT \("name"\) DO UPDATE`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	g, _ := geo.New(square(-86.7, 34.6, 0.2), 4326)
	n, err := s.SaveRegions(context.Background(), []model.Region{{Name: "Huntsville", Geometry: g}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LoadRegionGeometry_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT geom FROM regions WHERE name = \$1`).
		WithArgs("atlantis").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.LoadRegionGeometry(context.Background(), "Atlantis")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS runs`).WillReturnError(fmt.Errorf("permission denied"))

	err := s.Migrate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: migrate")
	assert.NoError(t, mock.ExpectationsWereMet())
}
