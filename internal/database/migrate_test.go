package database

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"testing"
)

// validAuthActions must match the ENUM values on auth_events.action and the
// action constants of the auth plugin.
var validAuthActions = map[string]bool{
	"auth.signed_in":      true,
	"auth.session_synced": true,
	"auth.signed_out":     true,
	"auth.sync_failed":    true,
}

// migrationsDir returns the absolute path to db/migrations/ from the project root.
func migrationsDir(t *testing.T) string {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("cannot determine test file path")
	}
	// thisFile is internal/database/migrate_test.go, project root is two dirs up.
	projectRoot := filepath.Join(filepath.Dir(thisFile), "..", "..")
	dir := filepath.Join(projectRoot, "db", "migrations")
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("migrations directory not found at %s: %v", dir, err)
	}
	return dir
}

// TestMigrations_AuthActionEnum checks that the action ENUM declared on
// auth_events lists exactly the actions the application records. A value
// missing from the ENUM fails inserts with "Data truncated" (Error 1265).
func TestMigrations_AuthActionEnum(t *testing.T) {
	dir := migrationsDir(t)
	files, err := filepath.Glob(filepath.Join(dir, "*.up.sql"))
	if err != nil {
		t.Fatalf("globbing migration files: %v", err)
	}
	if len(files) == 0 {
		t.Fatal("no migration files found")
	}

	enumPattern := regexp.MustCompile(`(?i)action\s+ENUM\(([^)]*)\)`)
	valuePattern := regexp.MustCompile(`'([^']+)'`)

	found := false
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			t.Fatalf("reading %s: %v", f, err)
		}
		content := string(data)
		if !strings.Contains(content, "auth_events") {
			continue
		}

		for _, enum := range enumPattern.FindAllStringSubmatch(content, -1) {
			found = true
			declared := map[string]bool{}
			for _, v := range valuePattern.FindAllStringSubmatch(enum[1], -1) {
				declared[v[1]] = true
				if !validAuthActions[v[1]] {
					t.Errorf("%s: unknown auth action %q in ENUM", filepath.Base(f), v[1])
				}
			}
			for action := range validAuthActions {
				if !declared[action] {
					t.Errorf("%s: auth action %q missing from ENUM", filepath.Base(f), action)
				}
			}
		}
	}
	if !found {
		t.Fatal("no auth_events action ENUM found in migrations")
	}
}

// TestMigrations_UpDownPairs ensures every .up.sql has a matching .down.sql.
func TestMigrations_UpDownPairs(t *testing.T) {
	dir := migrationsDir(t)
	upFiles, err := filepath.Glob(filepath.Join(dir, "*.up.sql"))
	if err != nil {
		t.Fatalf("globbing up files: %v", err)
	}

	for _, up := range upFiles {
		down := strings.Replace(up, ".up.sql", ".down.sql", 1)
		if _, err := os.Stat(down); err != nil {
			t.Errorf("missing down migration for %s", filepath.Base(up))
		}
	}
}

// TestMigrations_SequentialVersions ensures version prefixes have no gaps
// or duplicates, which golang-migrate rejects at runtime.
func TestMigrations_SequentialVersions(t *testing.T) {
	dir := migrationsDir(t)
	upFiles, err := filepath.Glob(filepath.Join(dir, "*.up.sql"))
	if err != nil {
		t.Fatalf("globbing up files: %v", err)
	}

	versionPattern := regexp.MustCompile(`^(\d{6})_`)
	seen := map[string]bool{}
	for i, up := range upFiles {
		m := versionPattern.FindStringSubmatch(filepath.Base(up))
		if m == nil {
			t.Errorf("%s: missing 6-digit version prefix", filepath.Base(up))
			continue
		}
		if seen[m[1]] {
			t.Errorf("duplicate migration version %s", m[1])
		}
		seen[m[1]] = true
		want := fmt.Sprintf("%06d", i+1)
		if m[1] != want {
			t.Errorf("%s: expected version %s", filepath.Base(up), want)
		}
	}
}
