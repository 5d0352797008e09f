package database

import (
	"context"
	"io/fs"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/xiaojiou176/CodexMonitor-sub005/internal/config"
	apperrors "github.com/xiaojiou176/CodexMonitor-sub005/pkg/errors"
)

func TestLoadAppliedVersions_NilPool(t *testing.T) {
	_, err := loadAppliedVersions(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error for nil pool")
	}
}

func TestApplyOneMigration_NilPool(t *testing.T) {
	err := applyOneMigration(context.Background(), nil, fstest.MapFS{}, "001_init.sql")
	if err == nil {
		t.Fatal("expected error for nil pool")
	}
}

func TestMigrate_NilPool(t *testing.T) {
	if err := Migrate(context.Background(), nil, Migrations()); err == nil {
		t.Fatal("expected error for nil pool")
	}
}

func TestListMigrations_SortsAndFilters(t *testing.T) {
	fsys := fstest.MapFS{
		"002_b.sql":        {Data: []byte("SELECT 2")},
		"001_a.sql":        {Data: []byte("SELECT 1")},
		"README.md":        {Data: []byte("docs")},
		"nested/003_c.sql": {Data: []byte("SELECT 3")},
	}
	got, err := listMigrations(fsys)
	if err != nil {
		t.Fatalf("listMigrations: %v", err)
	}
	if strings.Join(got, ",") != "001_a.sql,002_b.sql" {
		t.Fatalf("files = %v", got)
	}
}

func TestListMigrations_NilFS(t *testing.T) {
	if _, err := listMigrations(nil); err == nil {
		t.Fatal("expected error for nil fs")
	}
}

func TestPendingMigrations(t *testing.T) {
	got := pendingMigrations([]string{"001.sql", "002.sql", "003.sql"}, map[string]bool{"002.sql": true})
	if strings.Join(got, ",") != "001.sql,003.sql" {
		t.Fatalf("pending = %v", got)
	}
	if got := pendingMigrations([]string{"001.sql"}, map[string]bool{"001.sql": true}); len(got) != 0 {
		t.Fatalf("pending = %v", got)
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	files, err := listMigrations(Migrations())
	if err != nil || len(files) == 0 {
		t.Fatalf("embedded migrations = %v, err = %v", files, err)
	}
	data, err := fs.ReadFile(Migrations(), files[0])
	if err != nil {
		t.Fatalf("read %s: %v", files[0], err)
	}
	for _, table := range []string{"console_logs", "console_diagnostics"} {
		if !strings.Contains(string(data), table) {
			t.Errorf("migration should create %s", table)
		}
	}
}

func TestNewPool_RequiresConnString(t *testing.T) {
	_, err := NewPool(context.Background(), &config.Config{})
	if err == nil {
		t.Fatal("expected error without connection string")
	}
	if apperrors.CodeOf(err) != apperrors.CodeConfig {
		t.Fatalf("code = %v", apperrors.CodeOf(err))
	}
	if Enabled(nil) {
		t.Fatal("nil config should not be enabled")
	}
}

func TestSafeInt32(t *testing.T) {
	if got := safeInt32(-1, "x"); got != 0 {
		t.Fatalf("negative = %d", got)
	}
	if got := safeInt32(8, "x"); got != 8 {
		t.Fatalf("value = %d", got)
	}
}
