package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// schemaMigrator runs the embedded migrations over its own connection so the
// repository pool is never left holding migrate's lock.
type schemaMigrator struct {
	db *sql.DB
	m  *migrate.Migrate
}

func openMigrator(dsn string) (*schemaMigrator, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open migration database: %w", err)
	}

	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create sqlite driver: %w", err)
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("read embedded migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}
	return &schemaMigrator{db: db, m: m}, nil
}

func (s *schemaMigrator) close() {
	s.m.Close()
	s.db.Close()
}

// version reports the applied schema version, 0 for an empty database.
func (s *schemaMigrator) version() (uint, error) {
	v, dirty, err := s.m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("read schema version: %w", err)
	case dirty:
		return v, fmt.Errorf("schema version %d is dirty, fix it by hand and force the version", v)
	}
	return v, nil
}

// Migrate brings the database at dsn to the latest schema and returns the
// resulting version. An up-to-date database is not an error.
func Migrate(dsn string) (uint, error) {
	s, err := openMigrator(dsn)
	if err != nil {
		return 0, err
	}
	defer s.close()

	if err := s.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("apply migrations: %w", err)
	}
	return s.version()
}

// MigrateDown rolls back the given number of migrations and returns the
// version left applied.
func MigrateDown(dsn string, steps int) (uint, error) {
	if steps < 1 {
		return 0, fmt.Errorf("rollback steps must be positive, got %d", steps)
	}
	s, err := openMigrator(dsn)
	if err != nil {
		return 0, err
	}
	defer s.close()

	if err := s.m.Steps(-steps); err != nil {
		return 0, fmt.Errorf("roll back %d migration(s): %w", steps, err)
	}
	return s.version()
}
