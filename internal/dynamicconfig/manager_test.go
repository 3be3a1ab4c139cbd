package dynamicconfig

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/niyusum/luminescence-sub000/internal/database"
	"github.com/niyusum/luminescence-sub000/internal/resilience"
	"github.com/niyusum/luminescence-sub000/internal/store"
)

func newTestManager(t *testing.T, yamlDir string) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	db := database.NewForTest(mockDB, resilience.New(resilience.DefaultConfig()))
	st := store.New(db)

	m := New(Config{YAMLDir: yamlDir}, st.Config, nil)
	return m, mock
}

func writeYAML(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadYAMLMergesAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	writeYAML(t, dir, "economy.yaml", "economy:\n  grace_max_cap: 1000\n  rikis_enabled: true\n")
	writeYAML(t, dir, "combat.yaml", "combat:\n  base_damage: 50\n")

	m, mock := newTestManager(t, dir)
	mock.ExpectQuery("SELECT config_key, config_value, modified_by, updated_at FROM game_config").
		WillReturnRows(sqlmock.NewRows([]string{"config_key", "config_value", "modified_by", "updated_at"}))

	require.NoError(t, m.Initialize(context.Background()))
	m.Stop()

	require.Equal(t, 1000, m.Get("economy.grace_max_cap", nil))
	require.Equal(t, true, m.Get("economy.rikis_enabled", nil))
	require.Equal(t, 50, m.Get("combat.base_damage", nil))
	require.Equal(t, "fallback", m.Get("combat.missing", "fallback"))
}

func TestDBOverlayWinsOverYAMLDefault(t *testing.T) {
	dir := t.TempDir()
	writeYAML(t, dir, "economy.yaml", "economy:\n  grace_max_cap: 1000\n")

	m, mock := newTestManager(t, dir)
	rows := sqlmock.NewRows([]string{"config_key", "config_value", "modified_by", "updated_at"}).
		AddRow("economy.grace_max_cap", "5000", "admin", time.Now())
	mock.ExpectQuery("SELECT config_key, config_value, modified_by, updated_at FROM game_config").
		WillReturnRows(rows)

	require.NoError(t, m.Initialize(context.Background()))
	m.Stop()

	require.Equal(t, 5000, m.Get("economy.grace_max_cap", nil))
}

func TestSetValidatesAndPersists(t *testing.T) {
	dir := t.TempDir()
	m, mock := newTestManager(t, dir)
	mock.ExpectQuery("SELECT config_key, config_value, modified_by, updated_at FROM game_config").
		WillReturnRows(sqlmock.NewRows([]string{"config_key", "config_value", "modified_by", "updated_at"}))
	require.NoError(t, m.Initialize(context.Background()))
	m.Stop()

	m.schema = &Schema{Fields: map[string]FieldSpec{
		"economy": &Schema{Fields: map[string]FieldSpec{"grace_max_cap": float64(0)}, AllowExtra: true},
	}}

	mock.ExpectExec("INSERT INTO game_config").WillReturnResult(sqlmock.NewResult(0, 1))
	err := m.Set(context.Background(), nil, "economy.grace_max_cap", 2000, "admin")
	require.NoError(t, err)
	require.Equal(t, 2000, m.Get("economy.grace_max_cap", nil))
}

func TestSetRejectsSchemaViolation(t *testing.T) {
	m, _ := newTestManager(t, t.TempDir())
	m.schema = &Schema{Fields: map[string]FieldSpec{
		"economy": &Schema{Fields: map[string]FieldSpec{"grace_max_cap": float64(0)}},
	}}

	err := m.Set(context.Background(), nil, "economy.grace_max_cap", "not-a-number", "admin")
	require.Error(t, err)
}
