package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/artpar/deployer/internal/core/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// =============================================================================
// Executor Interface
// =============================================================================

// executor is the subset of sqlx the history queries use.
type executor interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
}

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens the database at dsn and runs migrations.
// ":memory:" gives a private in-memory history.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "failed to open database", ErrConnectionFailed)
	}
	// One writer; also keeps ":memory:" on a single connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) RecordDeployment(ctx context.Context, record *domain.DeploymentRecord) error {
	return recordDeployment(ctx, s.db, record)
}

func (s *SQLiteStore) GetDeployment(ctx context.Context, id string) (*domain.DeploymentRecord, error) {
	return getDeployment(ctx, s.db, id)
}

func (s *SQLiteStore) ListDeployments(ctx context.Context, opts ListOptions) ([]domain.DeploymentRecord, error) {
	return listDeployments(ctx, s.db, opts)
}

// =============================================================================
// Shared Implementation Functions
// =============================================================================

// recordRow represents a deployment_history row in the database.
type recordRow struct {
	ID              string `db:"id"`
	Operation       string `db:"operation"`
	Target          string `db:"target"`
	ApplicationName string `db:"application_name"`
	Artifact        string `db:"artifact"`
	RuntimeVersion  string `db:"runtime_version"`
	Outcome         string `db:"outcome"`
	ErrorMessage    string `db:"error_message"`
	StartedAt       string `db:"started_at"`
	FinishedAt      string `db:"finished_at"`
}

func recordDeployment(ctx context.Context, exec executor, record *domain.DeploymentRecord) error {
	if record.ID == "" || record.ApplicationName == "" || record.Outcome == "" {
		return NewStoreError("RecordDeployment", record.ID, "id, application name and outcome are required", ErrInvalidRecord)
	}

	query := `
		INSERT INTO deployment_history (
			id, operation, target, application_name, artifact, runtime_version,
			outcome, error_message, started_at, finished_at
		) VALUES (
			:id, :operation, :target, :application_name, :artifact, :runtime_version,
			:outcome, :error_message, :started_at, :finished_at
		)`

	row := recordRow{
		ID:              record.ID,
		Operation:       string(record.Operation),
		Target:          string(record.Target),
		ApplicationName: record.ApplicationName,
		Artifact:        record.Artifact,
		RuntimeVersion:  record.RuntimeVersion,
		Outcome:         string(record.Outcome),
		ErrorMessage:    record.Error,
		StartedAt:       record.StartedAt.UTC().Format(timeLayout),
		FinishedAt:      record.FinishedAt.UTC().Format(timeLayout),
	}

	if _, err := exec.NamedExecContext(ctx, query, row); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: deployment_history.id") {
			return NewStoreError("RecordDeployment", record.ID, "record with this ID already exists", ErrDuplicateID)
		}
		return NewStoreError("RecordDeployment", record.ID, err.Error(), err)
	}
	return nil
}

func getDeployment(ctx context.Context, exec executor, id string) (*domain.DeploymentRecord, error) {
	query := `SELECT * FROM deployment_history WHERE id = ?`

	var row recordRow
	if err := exec.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetDeployment", id, "record not found", ErrNotFound)
		}
		return nil, NewStoreError("GetDeployment", id, err.Error(), err)
	}
	return rowToRecord(&row)
}

func listDeployments(ctx context.Context, exec executor, opts ListOptions) ([]domain.DeploymentRecord, error) {
	opts = opts.Normalize()

	var (
		where []string
		args  []any
	)
	if opts.ApplicationName != "" {
		where = append(where, "application_name = ?")
		args = append(args, opts.ApplicationName)
	}
	if opts.Target != "" {
		where = append(where, "target = ?")
		args = append(args, string(opts.Target))
	}

	query := `SELECT * FROM deployment_history`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, opts.Limit, opts.Offset)

	var rows []recordRow
	if err := exec.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, NewStoreError("ListDeployments", "", err.Error(), err)
	}

	records := make([]domain.DeploymentRecord, 0, len(rows))
	for i := range rows {
		r, err := rowToRecord(&rows[i])
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, nil
}

func rowToRecord(row *recordRow) (*domain.DeploymentRecord, error) {
	started, err := time.Parse(timeLayout, row.StartedAt)
	if err != nil {
		return nil, NewStoreError("rowToRecord", row.ID, "invalid started_at", err)
	}
	finished, err := time.Parse(timeLayout, row.FinishedAt)
	if err != nil {
		return nil, NewStoreError("rowToRecord", row.ID, "invalid finished_at", err)
	}
	return &domain.DeploymentRecord{
		ID:              row.ID,
		Operation:       domain.Operation(row.Operation),
		Target:          domain.TargetType(row.Target),
		ApplicationName: row.ApplicationName,
		Artifact:        row.Artifact,
		RuntimeVersion:  row.RuntimeVersion,
		Outcome:         domain.Outcome(row.Outcome),
		Error:           row.ErrorMessage,
		StartedAt:       started,
		FinishedAt:      finished,
	}, nil
}
