package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lgulliver/photoflow/pkg/config"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

const (
	upMarker   = "-- +migrate Up"
	downMarker = "-- +migrate Down"
)

// Migration is one versioned SQL file
type Migration struct {
	Version int
	Name    string
	UpSQL   string
	DownSQL string
}

// StatusEntry reports whether a migration has been applied
type StatusEntry struct {
	Version int
	Name    string
	Applied bool
}

// Migrator applies the journal schema migrations
type Migrator struct {
	db            *sql.DB
	migrationsFS  fs.FS
	migrationsDir string
}

// NewMigrator connects to the postgres journal database
func NewMigrator(ctx context.Context, cfg *config.DatabaseConfig, migrationsFS fs.FS, migrationsDir string) (*Migrator, error) {
	if cfg.Driver != "" && cfg.Driver != "postgres" {
		return nil, fmt.Errorf("sql migrations support postgres only, got %q", cfg.Driver)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Migrator{db: db, migrationsFS: migrationsFS, migrationsDir: migrationsDir}, nil
}

// ensureTable creates the tracking table if needed
func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]bool, []int, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	set := make(map[int]bool)
	var ordered []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		set[v] = true
		ordered = append(ordered, v)
	}
	return set, ordered, rows.Err()
}

// Up applies every pending migration in version order
func (m *Migrator) Up(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}
	done, _, err := m.applied(ctx)
	if err != nil {
		return err
	}
	migrations, err := Load(m.migrationsFS, m.migrationsDir)
	if err != nil {
		return err
	}

	pending := 0
	for _, mig := range migrations {
		if done[mig.Version] {
			continue
		}
		pending++
		if err := m.exec(ctx, mig.UpSQL, "INSERT INTO schema_migrations (version, name) VALUES ($1, $2)", mig.Version, mig.Name); err != nil {
			return fmt.Errorf("failed to apply migration %d (%s): %w", mig.Version, mig.Name, err)
		}
		log.Info().Int("version", mig.Version).Str("name", mig.Name).Msg("applied migration")
	}
	if pending == 0 {
		log.Info().Msg("journal schema is up to date")
	}
	return nil
}

// Down rolls back the most recent migration
func (m *Migrator) Down(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}
	_, ordered, err := m.applied(ctx)
	if err != nil {
		return err
	}
	if len(ordered) == 0 {
		log.Info().Msg("no migrations to roll back")
		return nil
	}
	last := ordered[len(ordered)-1]

	migrations, err := Load(m.migrationsFS, m.migrationsDir)
	if err != nil {
		return err
	}
	for _, mig := range migrations {
		if mig.Version != last {
			continue
		}
		if err := m.exec(ctx, mig.DownSQL, "DELETE FROM schema_migrations WHERE version = $1", mig.Version); err != nil {
			return fmt.Errorf("failed to roll back migration %d (%s): %w", mig.Version, mig.Name, err)
		}
		log.Info().Int("version", mig.Version).Str("name", mig.Name).Msg("rolled back migration")
		return nil
	}
	return fmt.Errorf("migration file for version %d not found", last)
}

// Status lists every known migration and whether it is applied
func (m *Migrator) Status(ctx context.Context) ([]StatusEntry, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	done, _, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	migrations, err := Load(m.migrationsFS, m.migrationsDir)
	if err != nil {
		return nil, err
	}
	out := make([]StatusEntry, len(migrations))
	for i, mig := range migrations {
		out[i] = StatusEntry{Version: mig.Version, Name: mig.Name, Applied: done[mig.Version]}
	}
	return out, nil
}

// exec runs a migration body and its bookkeeping statement in one transaction
func (m *Migrator) exec(ctx context.Context, body, record string, args ...interface{}) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if strings.TrimSpace(body) != "" {
		if _, err := tx.ExecContext(ctx, body); err != nil {
			return fmt.Errorf("failed to execute migration SQL: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return tx.Commit()
}

// Close closes the database connection
func (m *Migrator) Close() error {
	return m.db.Close()
}

// Load reads every NNN_name.sql file in dir, sorted by version. Files that do
// not follow the naming scheme are skipped with a warning; duplicate versions
// are an error.
func Load(fsys fs.FS, dir string) ([]*Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrations []*Migration
	seen := make(map[int]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, name, err := parseFileName(entry.Name())
		if err != nil {
			log.Warn().Err(err).Str("file", entry.Name()).Msg("skipping migration file")
			continue
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("duplicate migration version %d: %s and %s", version, prev, entry.Name())
		}
		seen[version] = entry.Name()

		content, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read migration file %s: %w", entry.Name(), err)
		}
		up, down := split(string(content))
		migrations = append(migrations, &Migration{Version: version, Name: name, UpSQL: up, DownSQL: down})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// parseFileName splits "001_upload_events.sql" into 1 and "upload_events"
func parseFileName(fileName string) (int, string, error) {
	base := strings.TrimSuffix(fileName, ".sql")
	prefix, name, ok := strings.Cut(base, "_")
	if !ok || name == "" {
		return 0, "", fmt.Errorf("invalid migration filename format: %s", fileName)
	}
	version, err := strconv.Atoi(prefix)
	if err != nil || version <= 0 {
		return 0, "", fmt.Errorf("invalid migration version in %s", fileName)
	}
	return version, name, nil
}

// split separates the up and down sections. Lines before any marker belong
// to the up section.
func split(content string) (string, string) {
	var up, down []string
	inDown := false
	for _, line := range strings.Split(content, "\n") {
		switch strings.TrimSpace(line) {
		case upMarker:
			inDown = false
			continue
		case downMarker:
			inDown = true
			continue
		}
		if inDown {
			down = append(down, line)
		} else {
			up = append(up, line)
		}
	}
	return strings.TrimSpace(strings.Join(up, "\n")), strings.TrimSpace(strings.Join(down, "\n"))
}
