package migrate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"
)

func TestEmbeddedMigrationsValidate(t *testing.T) {
	if err := Validate(Embedded()); err != nil {
		t.Fatalf("embedded migrations should validate: %v", err)
	}
	if err := Validate(Disk("migrations")); err != nil {
		t.Fatalf("on-disk migrations should validate: %v", err)
	}
}

func TestResolvePrefersDisk(t *testing.T) {
	if got := Resolve("").String(); got != "embedded:"+DefaultDir {
		t.Fatalf("expected embedded source, got %s", got)
	}
	if got := Resolve("migrations"); got.Dir != "." {
		t.Fatalf("expected disk source rooted at dir, got %+v", got)
	}
}

func TestCreateSQLMigrationSanitizesName(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	path, err := createAt(dir, "Add Seats Index!", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filepath.Base(path) != "20260304050607_add_seats_index.sql" {
		t.Fatalf("unexpected filename %s", path)
	}
	if err := Validate(Disk(dir)); err != nil {
		t.Fatalf("created migration should validate: %v", err)
	}
	if _, err := createAt(dir, "add seats index", now); err == nil {
		t.Fatalf("expected existing file to be refused")
	}
	if _, err := createAt(dir, "!!!", now); err == nil {
		t.Fatalf("expected empty slug to be refused")
	}
}

func TestValidateRejectsBadFiles(t *testing.T) {
	cases := map[string]fstest.MapFS{
		"bad filename": {"001_init.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")}},
		"missing down": {"20260101000000_init.sql": {Data: []byte("-- +goose Up\n")}},
		"down first":   {"20260101000000_init.sql": {Data: []byte("-- +goose Down\n-- +goose Up\n")}},
		"unbalanced": {"20260101000000_init.sql": {Data: []byte(
			"-- +goose Up\n-- +goose StatementBegin\nSELECT 1;\n-- +goose Down\n")}},
		"empty": {"README.md": {Data: []byte("notes")}},
	}
	for name, fsys := range cases {
		if err := Validate(Source{FS: fsys, Dir: "."}); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestValidateRejectsDuplicateVersions(t *testing.T) {
	dir := t.TempDir()
	body := []byte("-- +goose Up\nSELECT 1;\n-- +goose Down\nSELECT 1;\n")
	for _, name := range []string{"20260101000000_a.sql", "20260101000000_b.sql"} {
		if err := os.WriteFile(filepath.Join(dir, name), body, 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	err := Validate(Disk(dir))
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate version error, got %v", err)
	}
}

func TestParseVersion(t *testing.T) {
	if v, err := parseVersion("20260301090100"); err != nil || v != 20260301090100 {
		t.Fatalf("unexpected parse %d %v", v, err)
	}
	for _, bad := range []string{"", "2026", "2026030109010x"} {
		if _, err := parseVersion(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
