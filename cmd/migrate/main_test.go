package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestRunOfflineCreateAndValidate(t *testing.T) {
	dir := t.TempDir()
	if err := runOffline(options{cmd: "create", dir: dir, name: "add owner index"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one migration file, got %v (%v)", entries, err)
	}
	if filepath.Ext(entries[0].Name()) != ".sql" {
		t.Fatalf("unexpected file %s", entries[0].Name())
	}
	if err := runOffline(options{cmd: "validate", dir: dir}); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestRunOfflineEdgeCases(t *testing.T) {
	if err := runOffline(options{cmd: "create", dir: t.TempDir()}); err == nil {
		t.Fatalf("expected missing name error")
	}
	if err := runOffline(options{cmd: "validate"}); err != nil {
		t.Fatalf("embedded set should validate: %v", err)
	}
	if err := runOffline(options{cmd: "up"}); !errors.Is(err, errNeedsDB) {
		t.Fatalf("expected up to need a database, got %v", err)
	}
}
