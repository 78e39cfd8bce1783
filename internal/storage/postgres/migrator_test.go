package postgres

import (
	"strings"
	"testing"
	"testing/fstest"
)

func TestParseMigrationFilename(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		file      string
		version   int64
		migName   string
		direction string
		wantErr   bool
	}{
		{name: "up file", file: "0001_orders.up.sql", version: 1, migName: "orders", direction: "up"},
		{name: "down file", file: "0003_idempotency_outbox.down.sql", version: 3, migName: "idempotency_outbox", direction: "down"},
		{name: "not sql", file: "0001_orders.up.txt", wantErr: true},
		{name: "no direction", file: "0001_orders.sql", wantErr: true},
		{name: "bad direction", file: "0001_orders.sideways.sql", wantErr: true},
		{name: "no name", file: "0001_.up.sql", wantErr: true},
		{name: "no version separator", file: "orders.up.sql", wantErr: true},
		{name: "non numeric version", file: "abc_orders.up.sql", wantErr: true},
		{name: "zero version", file: "0000_orders.up.sql", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			version, name, direction, err := parseMigrationFilename(tc.file)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for %s", tc.file)
				}
				return
			}
			if err != nil {
				t.Fatalf("parse %s: %v", tc.file, err)
			}
			if version != tc.version || name != tc.migName || direction != tc.direction {
				t.Fatalf("parse %s = (%d, %s, %s)", tc.file, version, name, direction)
			}
		})
	}
}

func TestLoadMigrationScripts(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/0002_payments.up.sql":   {Data: []byte("CREATE TABLE payments_t (id INT);")},
		"sql/migrations/0002_payments.down.sql": {Data: []byte("DROP TABLE IF EXISTS payments_t;")},
		"sql/migrations/0001_orders.up.sql":     {Data: []byte("CREATE TABLE orders_t (id INT);")},
		"sql/migrations/0001_orders.down.sql":   {Data: []byte("DROP TABLE IF EXISTS orders_t;")},
	}

	scripts, err := loadMigrationScripts(fsys)
	if err != nil {
		t.Fatalf("loadMigrationScripts failed: %v", err)
	}
	if len(scripts) != 2 {
		t.Fatalf("expected 2 scripts, got %d", len(scripts))
	}

	// Порядок — по возрастанию версии, независимо от порядка файлов.
	if scripts[0].version != 1 || scripts[0].name != "orders" {
		t.Fatalf("unexpected first script: %+v", scripts[0])
	}
	if scripts[1].version != 2 || scripts[1].name != "payments" {
		t.Fatalf("unexpected second script: %+v", scripts[1])
	}
	if scripts[0].label() != "0001_orders" {
		t.Fatalf("unexpected label: %s", scripts[0].label())
	}
}

func TestLoadMigrationScripts_MissingDown(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/0001_orders.up.sql": {Data: []byte("CREATE TABLE orders_t (id INT);")},
	}

	_, err := loadMigrationScripts(fsys)
	if err == nil {
		t.Fatal("expected error for missing down migration")
	}
	if !strings.Contains(err.Error(), "both up and down") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadMigrationScripts_NameConflict(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/0001_orders.up.sql":     {Data: []byte("CREATE TABLE orders_t (id INT);")},
		"sql/migrations/0001_payments.down.sql": {Data: []byte("DROP TABLE IF EXISTS orders_t;")},
	}

	_, err := loadMigrationScripts(fsys)
	if err == nil {
		t.Fatal("expected error for conflicting names within one version")
	}
	if !strings.Contains(err.Error(), "conflicting names") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadMigrationScripts_EmptyBody(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/0001_orders.up.sql":   {Data: []byte("   \n")},
		"sql/migrations/0001_orders.down.sql": {Data: []byte("DROP TABLE IF EXISTS orders_t;")},
	}

	_, err := loadMigrationScripts(fsys)
	if err == nil {
		t.Fatal("expected error for empty migration body")
	}
}

func TestLoadMigrationScripts_Embedded(t *testing.T) {
	t.Parallel()

	// Встроенные миграции сервиса обязаны парситься и идти парами.
	scripts, err := loadMigrationScripts(migrationFiles)
	if err != nil {
		t.Fatalf("embedded migrations are broken: %v", err)
	}
	if len(scripts) == 0 {
		t.Fatal("expected embedded migrations")
	}
	for i := 1; i < len(scripts); i++ {
		if scripts[i].version <= scripts[i-1].version {
			t.Fatalf("versions must be strictly increasing: %+v", scripts)
		}
	}
}
