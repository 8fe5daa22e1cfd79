package db

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/anstrom/ipsweep/internal/logging"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migration is an applied migration as recorded in schema_migrations.
type Migration struct {
	ID        int       `db:"id"`
	Name      string    `db:"name"`
	AppliedAt time.Time `db:"applied_at"`
	Checksum  string    `db:"checksum"`
}

// MigrationState describes one embedded migration and whether it has run.
type MigrationState struct {
	Name      string
	Applied   bool
	AppliedAt *time.Time
	// Modified is set when the embedded file no longer matches the
	// checksum recorded at apply time.
	Modified bool
}

// Migrator handles database migrations.
type Migrator struct {
	db     *sqlx.DB
	logger *logging.Logger
}

// NewMigrator creates a new migrator instance.
func NewMigrator(db *sqlx.DB) *Migrator {
	return &Migrator{db: db, logger: logging.Default().WithComponent("migrate")}
}

func (m *Migrator) ensureMigrationsTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id SERIAL PRIMARY KEY,
			name VARCHAR(255) NOT NULL UNIQUE,
			applied_at TIMESTAMPTZ DEFAULT NOW(),
			checksum VARCHAR(64) NOT NULL
		)`

	if _, err := m.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

func (m *Migrator) appliedMigrations(ctx context.Context) (map[string]Migration, error) {
	var migrations []Migration
	query := `SELECT id, name, applied_at, checksum FROM schema_migrations ORDER BY id`

	if err := m.db.SelectContext(ctx, &migrations, query); err != nil {
		return nil, fmt.Errorf("failed to get applied migrations: %w", err)
	}

	applied := make(map[string]Migration, len(migrations))
	for _, migration := range migrations {
		applied[migration.Name] = migration
	}
	return applied, nil
}

// migrationNames returns the embedded migration files in apply order.
func migrationNames() ([]string, error) {
	files, err := fs.Glob(migrationFiles, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("failed to read migration files: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

func migrationName(file string) string {
	return strings.TrimSuffix(path.Base(file), ".sql")
}

func checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func (m *Migrator) executeMigration(ctx context.Context, file string) error {
	content, err := migrationFiles.ReadFile(file)
	if err != nil {
		return fmt.Errorf("failed to read migration file %s: %w", file, err)
	}

	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return fmt.Errorf("failed to execute migration %s: %w", file, err)
	}

	insertQuery := `INSERT INTO schema_migrations (name, checksum) VALUES ($1, $2)`
	if _, err := tx.ExecContext(ctx, insertQuery, migrationName(file), checksum(content)); err != nil {
		return fmt.Errorf("failed to record migration %s: %w", file, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %s: %w", file, err)
	}
	return nil
}

// Up runs all pending migrations in file order.
func (m *Migrator) Up(ctx context.Context) error {
	if err := m.ensureMigrationsTable(ctx); err != nil {
		return err
	}
	applied, err := m.appliedMigrations(ctx)
	if err != nil {
		return err
	}
	files, err := migrationNames()
	if err != nil {
		return err
	}

	for _, file := range files {
		name := migrationName(file)
		if _, ok := applied[name]; ok {
			m.logger.Debug("Migration already applied", "migration", name)
			continue
		}
		m.logger.Info("Applying migration", "migration", name)
		if err := m.executeMigration(ctx, file); err != nil {
			return fmt.Errorf("migration %s failed: %w", name, err)
		}
	}
	return nil
}

// Status reports every embedded migration in apply order.
func (m *Migrator) Status(ctx context.Context) ([]MigrationState, error) {
	if err := m.ensureMigrationsTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.appliedMigrations(ctx)
	if err != nil {
		return nil, err
	}
	files, err := migrationNames()
	if err != nil {
		return nil, err
	}

	states := make([]MigrationState, 0, len(files))
	for _, file := range files {
		st := MigrationState{Name: migrationName(file)}
		if rec, ok := applied[st.Name]; ok {
			at := rec.AppliedAt
			st.Applied = true
			st.AppliedAt = &at
			if content, err := migrationFiles.ReadFile(file); err == nil {
				st.Modified = checksum(content) != rec.Checksum
			}
		}
		states = append(states, st)
	}
	return states, nil
}

// Reset drops every ipsweep table and re-runs migrations.
func (m *Migrator) Reset(ctx context.Context) error {
	m.logger.Warn("Dropping all ipsweep tables")

	dropQueries := []string{
		"DROP TABLE IF EXISTS scan_results CASCADE",
		"DROP TABLE IF EXISTS ip_records CASCADE",
		"DROP TABLE IF EXISTS scan_jobs CASCADE",
		"DROP TABLE IF EXISTS schema_migrations CASCADE",
	}

	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, query := range dropQueries {
		if _, err := tx.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute drop query: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reset: %w", err)
	}

	return m.Up(ctx)
}

// ConnectAndMigrate connects to the database and runs pending migrations.
func ConnectAndMigrate(ctx context.Context, config *Config) (*DB, error) {
	db, err := Connect(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return db, nil
}
