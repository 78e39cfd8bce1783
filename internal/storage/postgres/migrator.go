package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"
)

//go:embed sql/migrations/*.sql
var migrationFiles embed.FS

const (
	migrationsDir = "sql/migrations"
	// schemaLockKey — ключ advisory lock миграций. Один на все инстансы
	// сервиса: параллельный деплой не должен гонять DDL наперегонки.
	schemaLockKey = int64(1885435245)

	migrationLockTimeout = 5 * time.Second
)

const schemaMigrationsDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// migrationScript — пара up/down файлов одной версии схемы.
type migrationScript struct {
	version int64
	name    string
	up      string
	down    string
}

func (m migrationScript) label() string {
	return fmt.Sprintf("%04d_%s", m.version, m.name)
}

// appliedMigration — строка журнала schema_migrations.
type appliedMigration struct {
	version int64
	name    string
}

// MigrateUp применяет up-миграции.
// steps=0 означает "применить все доступные".
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	scripts, err := loadMigrationScripts(migrationFiles)
	if err != nil {
		return err
	}
	return s.withSchemaLock(ctx, func(m *migrator) error {
		return m.up(ctx, scripts, steps)
	})
}

// MigrateDown откатывает миграции.
// steps<=0 интерпретируется как 1 шаг для безопасного поведения.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	scripts, err := loadMigrationScripts(migrationFiles)
	if err != nil {
		return err
	}
	return s.withSchemaLock(ctx, func(m *migrator) error {
		return m.down(ctx, scripts, steps)
	})
}

// MigrationStatus возвращает текущую версию и количество применённых миграций.
func (s *Store) MigrationStatus(ctx context.Context) (int64, int, error) {
	if s == nil || s.db == nil {
		return 0, 0, fmt.Errorf("postgres store is not initialized")
	}

	queryCtx, cancel := context.WithTimeout(ctx, migrationLockTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(queryCtx, schemaMigrationsDDL); err != nil {
		return 0, 0, fmt.Errorf("ensure migration journal: %w", err)
	}

	var (
		version int64
		count   int
	)
	if err := s.db.QueryRowContext(queryCtx, `
		SELECT COALESCE(MAX(version), 0), COUNT(*)
		FROM schema_migrations
	`).Scan(&version, &count); err != nil {
		return 0, 0, fmt.Errorf("query migration status: %w", err)
	}

	return version, count, nil
}

// withSchemaLock выделяет соединение, берёт advisory lock и готовит журнал.
// Весь прогон миграций живёт на одном соединении: lock в PostgreSQL
// сессионный.
func (s *Store) withSchemaLock(ctx context.Context, fn func(*migrator) error) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store is not initialized")
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, migrationLockTimeout)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, "SELECT pg_advisory_lock($1)", schemaLockKey); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", schemaLockKey)
	}()

	if _, err := conn.ExecContext(ctx, schemaMigrationsDDL); err != nil {
		return fmt.Errorf("ensure migration journal: %w", err)
	}

	return fn(&migrator{conn: conn})
}

type migrator struct {
	conn *sql.Conn
}

func (m *migrator) up(ctx context.Context, scripts []migrationScript, steps int) error {
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}

	done := 0
	for _, script := range scripts {
		if _, ok := applied[script.version]; ok {
			continue
		}
		if err := m.runTx(ctx, script.up, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO schema_migrations (version, name, applied_at)
				VALUES ($1, $2, NOW())
			`, script.version, script.name)
			return err
		}); err != nil {
			return fmt.Errorf("apply migration %s: %w", script.label(), err)
		}
		done++
		if steps > 0 && done >= steps {
			break
		}
	}

	return nil
}

func (m *migrator) down(ctx context.Context, scripts []migrationScript, steps int) error {
	byVersion := make(map[int64]migrationScript, len(scripts))
	for _, script := range scripts {
		byVersion[script.version] = script
	}

	records, err := m.lastApplied(ctx, steps)
	if err != nil {
		return err
	}

	for _, record := range records {
		script, ok := byVersion[record.version]
		if !ok {
			return fmt.Errorf("cannot rollback version %d: no migration files for it", record.version)
		}
		// Журнал и файлы должны называть версию одинаково, иначе
		// откатывается не то, что применялось.
		if script.name != record.name {
			return fmt.Errorf("version %d recorded as %q but files name it %q", record.version, record.name, script.name)
		}
		if err := m.runTx(ctx, script.down, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = $1`, script.version)
			return err
		}); err != nil {
			return fmt.Errorf("rollback migration %s: %w", script.label(), err)
		}
	}

	return nil
}

// runTx выполняет тело миграции и запись в журнал одной транзакцией.
func (m *migrator) runTx(ctx context.Context, body string, journal func(*sql.Tx) error) error {
	tx, err := m.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if _, err := tx.ExecContext(ctx, body); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := journal(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("update migration journal: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return nil
}

func (m *migrator) applied(ctx context.Context) (map[int64]string, error) {
	rows, err := m.conn.QueryContext(ctx, `SELECT version, name FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int64]string)
	for rows.Next() {
		var record appliedMigration
		if err := rows.Scan(&record.version, &record.name); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		applied[record.version] = record.name
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}

	return applied, nil
}

func (m *migrator) lastApplied(ctx context.Context, limit int) ([]appliedMigration, error) {
	rows, err := m.conn.QueryContext(ctx, `
		SELECT version, name
		FROM schema_migrations
		ORDER BY version DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query last applied migrations: %w", err)
	}
	defer rows.Close()

	records := make([]appliedMigration, 0, limit)
	for rows.Next() {
		var record appliedMigration
		if err := rows.Scan(&record.version, &record.name); err != nil {
			return nil, fmt.Errorf("scan last applied migration: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate last applied migrations: %w", err)
	}

	return records, nil
}

// parseMigrationFilename разбирает имя вида "0003_idempotency_outbox.up.sql".
func parseMigrationFilename(base string) (version int64, name, direction string, err error) {
	stem, ok := strings.CutSuffix(base, ".sql")
	if !ok {
		return 0, "", "", fmt.Errorf("not a sql file: %s", base)
	}

	dot := strings.LastIndex(stem, ".")
	if dot < 0 {
		return 0, "", "", fmt.Errorf("missing direction in migration file name: %s", base)
	}
	direction = stem[dot+1:]
	if direction != "up" && direction != "down" {
		return 0, "", "", fmt.Errorf("unsupported migration direction %q in %s", direction, base)
	}

	versionPart, namePart, ok := strings.Cut(stem[:dot], "_")
	if !ok || namePart == "" {
		return 0, "", "", fmt.Errorf("migration file name must be <version>_<name>.<up|down>.sql: %s", base)
	}
	version, err = strconv.ParseInt(versionPart, 10, 64)
	if err != nil || version <= 0 {
		return 0, "", "", fmt.Errorf("invalid migration version in %s", base)
	}

	return version, namePart, direction, nil
}

// loadMigrationScripts читает каталог миграций и собирает пары up/down.
func loadMigrationScripts(fsys fs.FS) ([]migrationScript, error) {
	entries, err := fs.ReadDir(fsys, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	scripts := make(map[int64]*migrationScript)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		version, name, direction, err := parseMigrationFilename(entry.Name())
		if err != nil {
			return nil, err
		}

		raw, err := fs.ReadFile(fsys, migrationsDir+"/"+entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration file is empty: %s", entry.Name())
		}

		script, ok := scripts[version]
		if !ok {
			script = &migrationScript{version: version, name: name}
			scripts[version] = script
		} else if script.name != name {
			return nil, fmt.Errorf("version %d has conflicting names %q and %q", version, script.name, name)
		}

		switch direction {
		case "up":
			if script.up != "" {
				return nil, fmt.Errorf("duplicate up migration for version %d", version)
			}
			script.up = body
		case "down":
			if script.down != "" {
				return nil, fmt.Errorf("duplicate down migration for version %d", version)
			}
			script.down = body
		}
	}

	if len(scripts) == 0 {
		return nil, errors.New("no migration files found")
	}

	ordered := make([]migrationScript, 0, len(scripts))
	for _, script := range scripts {
		if script.up == "" || script.down == "" {
			return nil, fmt.Errorf("migration %s must have both up and down files", script.label())
		}
		ordered = append(ordered, *script)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].version < ordered[j].version })

	return ordered, nil
}
