package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/platinummonkey/webcompile/pkg/compilation"
	"github.com/platinummonkey/webcompile/pkg/compilation/orchestrator"
)

// Dialect names a supported SQL driver
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite3"
)

// ErrNotFound is returned when a build record does not exist
var ErrNotFound = errors.New("build record not found")

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS build_records (
		id VARCHAR(36) PRIMARY KEY,
		assembly VARCHAR(255) NOT NULL,
		language VARCHAR(32) NOT NULL,
		culture VARCHAR(32),
		units TEXT NOT NULL,
		success BOOLEAN NOT NULL,
		error_count INTEGER NOT NULL,
		diagnostics TEXT,
		precompile BOOLEAN NOT NULL,
		started_at TIMESTAMP WITH TIME ZONE NOT NULL,
		duration_ms BIGINT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_build_records_started_at ON build_records(started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_build_records_assembly ON build_records(assembly);
`

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS build_records (
		id TEXT PRIMARY KEY,
		assembly TEXT NOT NULL,
		language TEXT NOT NULL,
		culture TEXT,
		units TEXT NOT NULL,
		success BOOLEAN NOT NULL,
		error_count INTEGER NOT NULL,
		diagnostics TEXT,
		precompile BOOLEAN NOT NULL,
		started_at TIMESTAMP NOT NULL,
		duration_ms INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_build_records_started_at ON build_records(started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_build_records_assembly ON build_records(assembly);
`

const selectColumns = `id, assembly, language, culture, units, success, error_count,
	diagnostics, precompile, started_at, duration_ms`

// Filter narrows a Search
type Filter struct {
	Assembly   string
	Language   string
	Success    *bool
	Precompile *bool
	Since      *time.Time
	Limit      int
}

// Stats summarizes recorded builds
type Stats struct {
	Total           int64            `json:"total"`
	Failures        int64            `json:"failures"`
	ByLanguage      map[string]int64 `json:"by_language"`
	AverageDuration time.Duration    `json:"average_duration"`
}

// Store persists build records in a SQL database. It implements
// orchestrator.Recorder.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects to the database and ensures the schema exists
func Open(ctx context.Context, dialect Dialect, dsn string) (*Store, error) {
	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect, err)
	}
	if dialect == SQLite {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", dialect, err)
	}

	store, err := New(db, dialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// New wraps an open database and ensures the build_records table exists
func New(db *sql.DB, dialect Dialect) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	schema := postgresSchema
	switch dialect {
	case Postgres:
	case SQLite:
		schema = sqliteSchema
	default:
		return nil, fmt.Errorf("unsupported history dialect: %s", dialect)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to ensure build_records table: %w", err)
	}
	return &Store{db: db, dialect: dialect}, nil
}

// DB returns the underlying connection, for health checks
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) placeholder(n int) string {
	if s.dialect == Postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *Store) placeholders(count int) string {
	ph := make([]string, count)
	for i := range ph {
		ph[i] = s.placeholder(i + 1)
	}
	return strings.Join(ph, ", ")
}

// RecordBuild inserts one build record
func (s *Store) RecordBuild(ctx context.Context, rec *orchestrator.BuildRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	units, err := json.Marshal(rec.Units)
	if err != nil {
		return fmt.Errorf("failed to marshal units: %w", err)
	}
	var diagnostics []byte
	if len(rec.Diagnostics) > 0 {
		diagnostics, err = json.Marshal(rec.Diagnostics)
		if err != nil {
			return fmt.Errorf("failed to marshal diagnostics: %w", err)
		}
	}

	query := fmt.Sprintf(`
		INSERT INTO build_records (%s)
		VALUES (%s)
	`, selectColumns, s.placeholders(11))

	_, err = s.db.ExecContext(ctx, query,
		rec.ID, rec.Assembly, rec.Language, rec.Culture, string(units),
		rec.Success, rec.Errors, nullableString(diagnostics), rec.Precompile,
		rec.StartedAt.UTC(), rec.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert build record: %w", err)
	}
	return nil
}

// Get retrieves one build record
func (s *Store) Get(ctx context.Context, id string) (*orchestrator.BuildRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM build_records WHERE id = %s", selectColumns, s.placeholder(1))
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get build record: %w", err)
	}
	return rec, nil
}

// Search returns build records matching the filter, newest first
func (s *Store) Search(ctx context.Context, filter Filter) ([]*orchestrator.BuildRecord, error) {
	where, args := s.where(filter)
	query := fmt.Sprintf("SELECT %s FROM build_records %s ORDER BY started_at DESC", selectColumns, where)

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT %s", s.placeholder(len(args)+1))
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search build records: %w", err)
	}
	defer rows.Close()

	var records []*orchestrator.BuildRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan build record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Stats summarizes builds started at or after since. A nil since covers all
// records.
func (s *Store) Stats(ctx context.Context, since *time.Time) (*Stats, error) {
	where, args := s.where(Filter{Since: since})
	stats := &Stats{ByLanguage: make(map[string]int64)}

	var avg sql.NullFloat64
	query := fmt.Sprintf(`
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN success THEN 0 ELSE 1 END), 0), AVG(duration_ms)
		FROM build_records %s
	`, where)
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&stats.Total, &stats.Failures, &avg); err != nil {
		return nil, fmt.Errorf("failed to get build totals: %w", err)
	}
	if avg.Valid {
		stats.AverageDuration = time.Duration(avg.Float64 * float64(time.Millisecond))
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT language, COUNT(*) FROM build_records %s GROUP BY language", where), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get builds by language: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var language string
		var count int64
		if err := rows.Scan(&language, &count); err != nil {
			return nil, err
		}
		stats.ByLanguage[language] = count
	}
	return stats, rows.Err()
}

// Cleanup removes records started before cutoff and returns how many were
// deleted
func (s *Store) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM build_records WHERE started_at < %s", s.placeholder(1)), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to clean up build records: %w", err)
	}
	return result.RowsAffected()
}

func (s *Store) where(filter Filter) (string, []interface{}) {
	clause := "WHERE 1=1"
	var args []interface{}
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		clause += fmt.Sprintf(" AND %s %s", cond, s.placeholder(len(args)))
	}

	if filter.Assembly != "" {
		add("assembly =", filter.Assembly)
	}
	if filter.Language != "" {
		add("language =", filter.Language)
	}
	if filter.Success != nil {
		add("success =", *filter.Success)
	}
	if filter.Precompile != nil {
		add("precompile =", *filter.Precompile)
	}
	if filter.Since != nil {
		add("started_at >=", filter.Since.UTC())
	}
	return clause, args
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (*orchestrator.BuildRecord, error) {
	var (
		rec         orchestrator.BuildRecord
		culture     sql.NullString
		units       string
		diagnostics sql.NullString
		durationMS  int64
	)
	err := row.Scan(&rec.ID, &rec.Assembly, &rec.Language, &culture, &units,
		&rec.Success, &rec.Errors, &diagnostics, &rec.Precompile, &rec.StartedAt, &durationMS)
	if err != nil {
		return nil, err
	}

	rec.Culture = culture.String
	rec.Duration = time.Duration(durationMS) * time.Millisecond
	if err := json.Unmarshal([]byte(units), &rec.Units); err != nil {
		return nil, fmt.Errorf("failed to unmarshal units: %w", err)
	}
	if diagnostics.Valid && diagnostics.String != "" {
		var diags []compilation.Diagnostic
		if err := json.Unmarshal([]byte(diagnostics.String), &diags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal diagnostics: %w", err)
		}
		rec.Diagnostics = diags
	}
	return &rec, nil
}

func nullableString(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
