package migration

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"add job status", "add_job_status"},
		{"Add-Job-Status", "add_job_status"},
		{"ADD__JOB__STATUS", "add_job_status"},
		{"   spaces   ", "spaces"},
		{"special!@#$chars", "specialchars"},
		{"_leading", "leading"},
		{"trailing_", "trailing"},
		{"Склады", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeName(tt.input))
		})
	}
}

func TestCreateMigration(t *testing.T) {
	t.Run("first migration is version 1", func(t *testing.T) {
		dir := t.TempDir()
		m, err := CreateMigration(dir, "create alloc table", "Published allocation")
		require.NoError(t, err)

		assert.Equal(t, uint64(1), m.Version)
		assert.Equal(t, filepath.Join(dir, "000001_create_alloc_table.up.sql"), m.UpPath)
		assert.Equal(t, filepath.Join(dir, "000001_create_alloc_table.down.sql"), m.DownPath)

		up, err := os.ReadFile(m.UpPath)
		require.NoError(t, err)
		assert.Contains(t, string(up), "-- Migration: create_alloc_table\n")
		assert.Contains(t, string(up), "-- Description: Published allocation")

		down, err := os.ReadFile(m.DownPath)
		require.NoError(t, err)
		assert.Contains(t, string(down), "(Rollback)")
	})

	t.Run("numbers after the newest migration", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "000007_base.up.sql"), nil, 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "000007_base.down.sql"), nil, 0o644))

		m, err := CreateMigration(dir, "next", "")
		require.NoError(t, err)
		assert.Equal(t, uint64(8), m.Version)
		assert.Equal(t, "000008_next", m.Base())
	})

	t.Run("rejects names without usable characters", func(t *testing.T) {
		_, err := CreateMigration(t.TempDir(), "!!!", "")
		assert.Error(t, err)
	})
}

func TestListMigrations(t *testing.T) {
	t.Run("missing directory", func(t *testing.T) {
		migrations, err := ListMigrations(filepath.Join(t.TempDir(), "absent"))
		require.NoError(t, err)
		assert.Empty(t, migrations)
	})

	t.Run("pairs files and orders by version", func(t *testing.T) {
		dir := t.TempDir()
		for _, name := range []string{
			"000010_later.up.sql",
			"000002_early.up.sql",
			"000002_early.down.sql",
			"README.md",
			"not_a_migration.sql",
		} {
			require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
		}
		require.NoError(t, os.Mkdir(filepath.Join(dir, "000003_dir.up.sql"), 0o755))

		migrations, err := ListMigrations(dir)
		require.NoError(t, err)
		require.Len(t, migrations, 2)

		assert.Equal(t, uint64(2), migrations[0].Version)
		assert.Equal(t, "early", migrations[0].Name)
		assert.NotEmpty(t, migrations[0].DownPath)
		assert.Equal(t, uint64(10), migrations[1].Version)
		assert.Empty(t, migrations[1].DownPath)
	})

	t.Run("repository migrations are complete pairs", func(t *testing.T) {
		migrations, err := ListMigrations(filepath.Join("..", "..", "..", "migrations"))
		require.NoError(t, err)
		require.NotEmpty(t, migrations)
		for i, m := range migrations {
			assert.Equal(t, uint64(i+1), m.Version, m.Base())
			assert.NotEmpty(t, m.UpPath, m.Base())
			assert.NotEmpty(t, m.DownPath, m.Base())
		}
	})
}
