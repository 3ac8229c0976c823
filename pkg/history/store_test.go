package history

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/platinummonkey/webcompile/pkg/compilation"
	"github.com/platinummonkey/webcompile/pkg/compilation/orchestrator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store, err := New(db, SQLite)
	require.NoError(t, err)
	return store
}

func record(assembly, language string, success bool, started time.Time) *orchestrator.BuildRecord {
	rec := &orchestrator.BuildRecord{
		Assembly:  assembly,
		Language:  language,
		Units:     []string{"~/" + assembly + "/a.aspx", "~/" + assembly + "/b.aspx"},
		Success:   success,
		StartedAt: started,
		Duration:  1500 * time.Millisecond,
	}
	if !success {
		rec.Errors = 1
		rec.Diagnostics = []compilation.Diagnostic{{
			File:        "a.aspx.cs",
			Line:        3,
			Severity:    compilation.SeverityError,
			Code:        "CS1002",
			Message:     "; expected",
			VirtualPath: "~/" + assembly + "/a.aspx",
		}}
	}
	return rec
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, SQLite)
	assert.Error(t, err)

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	_, err = New(db, Dialect("mongo"))
	assert.Error(t, err)
}

func TestStore_RecordAndGet(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rec := record("admin", "csharp", false, started)
	require.NoError(t, store.RecordBuild(ctx, rec))
	require.NotEmpty(t, rec.ID)

	got, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "admin", got.Assembly)
	assert.Equal(t, "csharp", got.Language)
	assert.False(t, got.Success)
	assert.Equal(t, 1, got.Errors)
	assert.Equal(t, rec.Units, got.Units)
	require.Len(t, got.Diagnostics, 1)
	assert.Equal(t, "CS1002", got.Diagnostics[0].Code)
	assert.Equal(t, "~/admin/a.aspx", got.Diagnostics[0].VirtualPath)
	assert.True(t, started.Equal(got.StartedAt))
	assert.Equal(t, 1500*time.Millisecond, got.Duration)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_SearchAndStats(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.RecordBuild(ctx, record("root", "csharp", true, base)))
	require.NoError(t, store.RecordBuild(ctx, record("admin", "csharp", false, base.Add(time.Minute))))
	require.NoError(t, store.RecordBuild(ctx, record("admin", "vb", true, base.Add(2*time.Minute))))

	all, err := store.Search(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "vb", all[0].Language, "newest first")

	failed := false
	failures, err := store.Search(ctx, Filter{Success: &failed})
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "admin", failures[0].Assembly)

	admin, err := store.Search(ctx, Filter{Assembly: "admin", Language: "vb"})
	require.NoError(t, err)
	assert.Len(t, admin, 1)

	since := base.Add(30 * time.Second)
	recent, err := store.Search(ctx, Filter{Since: &since, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, recent, 1)

	stats, err := store.Stats(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(1), stats.Failures)
	assert.Equal(t, map[string]int64{"csharp": 2, "vb": 1}, stats.ByLanguage)
	assert.Equal(t, 1500*time.Millisecond, stats.AverageDuration)

	removed, err := store.Cleanup(ctx, since)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	stats, err = store.Stats(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Total)
}

func TestStore_PostgresInsert(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS build_records").WillReturnResult(sqlmock.NewResult(0, 0))
	store, err := New(db, Postgres)
	require.NoError(t, err)

	rec := record("root", "csharp", true, time.Now())
	rec.ID = "build-1"
	mock.ExpectExec(`INSERT INTO build_records \(.+\)\s+VALUES \(\$1, \$2, .*\$11\)`).
		WithArgs("build-1", "root", "csharp", "", sqlmock.AnyArg(), true, 0,
			nil, false, sqlmock.AnyArg(), int64(1500)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.RecordBuild(ctx, rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Errors(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE").WillReturnResult(sqlmock.NewResult(0, 0))
	store, err := New(db, Postgres)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO build_records").WillReturnError(errors.New("disk full"))
	err = store.RecordBuild(ctx, record("root", "csharp", true, time.Now()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	mock.ExpectQuery(`SELECT (.+) FROM build_records WHERE 1=1 AND assembly = \$1 ORDER BY started_at DESC LIMIT \$2`).
		WithArgs("root", 100).
		WillReturnError(errors.New("timeout"))
	_, err = store.Search(ctx, Filter{Assembly: "root"})
	assert.Error(t, err)

	mock.ExpectQuery("SELECT COUNT").WillReturnError(errors.New("timeout"))
	_, err = store.Stats(ctx, nil)
	assert.Error(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNew_SchemaError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("permission denied"))
	_, err = New(db, Postgres)
	assert.Error(t, err)
}
