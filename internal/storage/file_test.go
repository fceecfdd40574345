package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MacJediWizard/ocaquery/internal/license"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_License(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(filepath.Join(t.TempDir(), "data"))
	require.NoError(t, err)

	_, err = s.LoadLicense(ctx)
	assert.True(t, errors.Is(err, license.ErrNotFound))

	require.NoError(t, s.SaveLicense(ctx, []byte(`{"type":"trial"}`)))
	got, err := s.LoadLicense(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"trial"}`, string(got))

	require.NoError(t, s.SaveLicense(ctx, []byte(`{"type":"paid"}`)))
	got, err = s.LoadLicense(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"paid"}`, string(got))

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestFileStore_EmptyLicenseIsNotFound(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.LicensePath(), []byte("  \n"), 0600))

	_, err = s.LoadLicense(context.Background())
	assert.True(t, errors.Is(err, license.ErrNotFound))
}

func TestFileStore_InstallDate(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.LoadInstallDate(ctx)
	assert.True(t, errors.Is(err, license.ErrNotFound))

	installed := time.Date(2024, 2, 29, 13, 45, 10, 123456789, time.FixedZone("CET", 3600))
	require.NoError(t, s.SaveInstallDate(ctx, installed))

	got, err := s.LoadInstallDate(ctx)
	require.NoError(t, err)
	assert.True(t, got.Equal(installed))
	assert.Equal(t, time.UTC, got.Location())
}

func TestFileStore_CorruptInstallDate(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), InstallDateFile), []byte("last tuesday"), 0600))

	_, err = s.LoadInstallDate(context.Background())
	assert.Error(t, err)
	assert.False(t, errors.Is(err, license.ErrNotFound))
}

func TestFileStore_CanceledContext(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.SaveLicense(ctx, []byte("{}")), context.Canceled)
	_, err = s.LoadLicense(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewFileStore_RequiresDir(t *testing.T) {
	_, err := NewFileStore("")
	assert.Error(t, err)
}

func TestFileStore_WithManager(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	m, err := license.NewManager(license.ManagerConfig{
		Store:     s,
		Validator: license.NewValidator(license.ValidatorConfig{Machine: license.MachineIDFunc(func() string { return "host" })}),
		Machine:   license.MachineIDFunc(func() string { return "host" }),
	})
	require.NoError(t, err)

	created, err := m.InitializeTrial(context.Background())
	require.NoError(t, err)
	assert.True(t, created)

	_, err = s.LoadInstallDate(context.Background())
	require.NoError(t, err)
	data, err := s.LoadLicense(context.Background())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type": "trial"`)
}
