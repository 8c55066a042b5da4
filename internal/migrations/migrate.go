package migrations

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	pg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
)

const migrationsDir = "migrations"

// RunMigrations applies the file-based migrations in ./migrations.
// A database that already carries the quiz schema but no migrate
// metadata (restored from a dump, or created before migrations were
// introduced) is baselined to the newest migration first so Up does
// not trip over existing tables.
func RunMigrations(databaseURL string) error {
	if databaseURL == "" {
		return fmt.Errorf("database URL is empty")
	}

	sqlDB, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer sqlDB.Close()

	driver, err := pg.WithInstance(sqlDB, &pg.Config{})
	if err != nil {
		return fmt.Errorf("create migrate driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsDir, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if version := baselineVersion(sqlDB); version > 0 {
		log.Printf("[MIGRATE] Existing schema without migrate metadata, baselining to version %d", version)
		if err := m.Force(version); err != nil {
			log.Printf("[MIGRATE] Baseline to version %d failed: %v", version, err)
		}
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migration up failed: %w", err)
	}

	log.Printf("[MIGRATE] Schema up to date")
	return nil
}

// baselineVersion returns the version to force when the games table
// exists but migrate's schema_migrations table does not, and 0 when no
// baseline is needed.
func baselineVersion(db *sql.DB) int {
	if !tableExists(db, "games") || tableExists(db, "schema_migrations") {
		return 0
	}
	return latestMigrationVersion(migrationsDir)
}

func tableExists(db *sql.DB, name string) bool {
	var exists bool
	row := db.QueryRow("SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)", name)
	if err := row.Scan(&exists); err != nil {
		return false
	}
	return exists
}

// latestMigrationVersion scans dir for files named like 000002_*.up.sql
// and returns the highest numeric prefix.
func latestMigrationVersion(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}

	var latest int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		prefix, _, ok := strings.Cut(e.Name(), "_")
		if !ok {
			continue
		}
		v, err := strconv.Atoi(prefix)
		if err != nil {
			continue
		}
		if v > latest {
			latest = v
		}
	}
	return latest
}
