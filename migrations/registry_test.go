package migrations

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	changefeed "github.com/goliatone/go-changefeed"
	_ "github.com/mattn/go-sqlite3"
)

func TestFilesystems_ReturnsPostgresAndSQLite(t *testing.T) {
	filesystems, err := Filesystems()
	if err != nil {
		t.Fatalf("filesystems: %v", err)
	}
	if len(filesystems) != 2 {
		t.Fatalf("expected 2 filesystems, got %d", len(filesystems))
	}

	var postgresFound bool
	var sqliteFound bool
	for _, entry := range filesystems {
		matches, globErr := fs.Glob(entry.FS, "*.up.sql")
		if globErr != nil {
			t.Fatalf("glob %s: %v", entry.Dialect, globErr)
		}
		if len(matches) == 0 {
			t.Fatalf("expected %s migration files, got none", entry.Dialect)
		}
		switch entry.Dialect {
		case DialectPostgres:
			postgresFound = true
		case DialectSQLite:
			sqliteFound = true
		}
	}

	if !postgresFound {
		t.Fatalf("expected postgres filesystem")
	}
	if !sqliteFound {
		t.Fatalf("expected sqlite filesystem")
	}
}

func TestFilesystems_RejectsTreeWithoutMigrations(t *testing.T) {
	empty := fstest.MapFS{
		"data/sql/migrations/README":        &fstest.MapFile{Data: []byte("none")},
		"data/sql/migrations/sqlite/README": &fstest.MapFile{Data: []byte("none")},
	}
	if _, err := Filesystems(empty); err == nil {
		t.Fatalf("expected error for tree without up migrations")
	}
}

func TestFilesystems_RejectsMissingDownFile(t *testing.T) {
	tree := fstest.MapFS{
		"data/sql/migrations/00001_a.up.sql":          &fstest.MapFile{Data: []byte("SELECT 1;")},
		"data/sql/migrations/sqlite/00001_a.up.sql":   &fstest.MapFile{Data: []byte("SELECT 1;")},
		"data/sql/migrations/sqlite/00001_a.down.sql": &fstest.MapFile{Data: []byte("SELECT 1;")},
	}
	_, err := Filesystems(tree)
	if err == nil || !strings.Contains(err.Error(), "no down file") {
		t.Fatalf("expected missing down file error, got %v", err)
	}
}

func TestFilesystems_RejectsDialectDrift(t *testing.T) {
	tree := fstest.MapFS{
		"data/sql/migrations/00001_a.up.sql":          &fstest.MapFile{Data: []byte("SELECT 1;")},
		"data/sql/migrations/00001_a.down.sql":        &fstest.MapFile{Data: []byte("SELECT 1;")},
		"data/sql/migrations/00002_b.up.sql":          &fstest.MapFile{Data: []byte("SELECT 1;")},
		"data/sql/migrations/00002_b.down.sql":        &fstest.MapFile{Data: []byte("SELECT 1;")},
		"data/sql/migrations/sqlite/00001_a.up.sql":   &fstest.MapFile{Data: []byte("SELECT 1;")},
		"data/sql/migrations/sqlite/00001_a.down.sql": &fstest.MapFile{Data: []byte("SELECT 1;")},
	}
	if _, err := Filesystems(tree); err == nil {
		t.Fatalf("expected error when sqlite lags postgres")
	}
}

func TestFilesystems_ListsNamesInOrder(t *testing.T) {
	filesystems, err := Filesystems()
	if err != nil {
		t.Fatalf("filesystems: %v", err)
	}
	want := []string{"00001_changefeed_state", "00002_changefeed_dispatches", "00003_changefeed_rate_limits"}
	for _, spec := range filesystems {
		if strings.Join(spec.Names, ",") != strings.Join(want, ",") {
			t.Fatalf("%s: expected %v, got %v", spec.Dialect, want, spec.Names)
		}
	}
}

func TestRegister_UsesValidationTargets(t *testing.T) {
	var calls []string
	reg, err := Register(context.Background(), func(_ context.Context, dialect string, _ string, _ fs.FS) error {
		calls = append(calls, dialect)
		return nil
	}, WithValidationTargets(DialectSQLite))
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if len(calls) != 1 {
		t.Fatalf("expected 1 registration call, got %d", len(calls))
	}
	if calls[0] != DialectSQLite {
		t.Fatalf("expected sqlite registration, got %q", calls[0])
	}
	if reg.SourceLabel != "go-changefeed" {
		t.Fatalf("expected default source label, got %q", reg.SourceLabel)
	}
}

func TestRegister_PropagatesRegisterError(t *testing.T) {
	sentinel := errors.New("register failed")
	_, err := Register(context.Background(), func(context.Context, string, string, fs.FS) error {
		return sentinel
	}, WithDialectSourceLabel("custom"))
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected wrapped register error, got %v", err)
	}
}

func TestRegister_RequiresRegisterFunc(t *testing.T) {
	if _, err := Register(context.Background(), nil); err == nil {
		t.Fatalf("expected missing register function error")
	}
}

func TestChangefeedMigrationPairs_ExistForBothDialects(t *testing.T) {
	root := changefeed.GetMigrationsFS()
	names := []string{"00001_changefeed_state", "00002_changefeed_dispatches", "00003_changefeed_rate_limits"}
	for _, name := range names {
		for _, dir := range []string{"data/sql/migrations", "data/sql/migrations/sqlite"} {
			for _, suffix := range []string{".up.sql", ".down.sql"} {
				migrationPath := dir + "/" + name + suffix
				content, err := fs.ReadFile(root, migrationPath)
				if err != nil {
					t.Fatalf("read migration %s: %v", migrationPath, err)
				}
				if strings.TrimSpace(string(content)) == "" {
					t.Fatalf("expected migration %s to have SQL content", migrationPath)
				}
			}
		}
	}
}

func TestSQLiteStateMigration_EnforcesUniqueKeyAndRollsBack(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite3", "file:migrations-changefeed-state?mode=memory&cache=shared&_foreign_keys=on")
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	defer func() { _ = db.Close() }()

	sqliteMigrations, err := fs.Sub(changefeed.GetMigrationsFS(), "data/sql/migrations/sqlite")
	if err != nil {
		t.Fatalf("resolve sqlite migrations: %v", err)
	}
	if err := execSQLMigration(ctx, db, sqliteMigrations, "00001_changefeed_state.up.sql"); err != nil {
		t.Fatalf("apply state migration: %v", err)
	}

	insert := `INSERT INTO changefeed_state (id, state_key, data, encoding, size_bytes) VALUES (?, ?, ?, ?, ?)`
	if _, err := db.ExecContext(ctx, insert, "row-1", "pages/state.json", []byte(`{}`), "json", 2); err != nil {
		t.Fatalf("insert first state row: %v", err)
	}
	if _, err := db.ExecContext(ctx, insert, "row-2", "pages/state.json", []byte(`{}`), "json", 2); err == nil {
		t.Fatalf("expected unique state_key violation")
	}

	if err := execSQLMigration(ctx, db, sqliteMigrations, "00001_changefeed_state.down.sql"); err != nil {
		t.Fatalf("apply state migration down: %v", err)
	}
	var name string
	err = db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
		"changefeed_state",
	).Scan(&name)
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected changefeed_state dropped, got name=%q err=%v", name, err)
	}
}

func execSQLMigration(ctx context.Context, db *sql.DB, fsys fs.FS, filename string) error {
	content, err := fs.ReadFile(fsys, filepath.Clean(filename))
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, string(content))
	return err
}
