package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadGenerator_Defaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadGenerator(filepath.Join(dir, "config.yml"))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "keys"), cfg.KeysDir)
	assert.Equal(t, filepath.Join(dir, "generated"), cfg.OutputDir)
	assert.Equal(t, DefaultLicenseDuration, cfg.DefaultDuration)
	assert.Equal(t, 2048, cfg.KeyBits)
	assert.NoError(t, cfg.Validate())
}

func TestLoadGenerator_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("keys_dir: /secure/keys\ndefault_duration: 720h\nkey_bits: 4096\n"), 0600))

	t.Setenv("LICENSEGEN_OUTPUT_DIR", "/tmp/out")
	t.Setenv("LICENSEGEN_DEFAULT_DURATION", "-5h")

	cfg, err := LoadGenerator(path)
	require.NoError(t, err)
	assert.Equal(t, "/secure/keys", cfg.KeysDir)
	assert.Equal(t, "/tmp/out", cfg.OutputDir)
	assert.Equal(t, 720*time.Hour, cfg.DefaultDuration, "invalid env duration keeps file value")
	assert.Equal(t, 4096, cfg.KeyBits)
}

func TestGeneratorConfig_SaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yml")
	original := &GeneratorConfig{
		KeysDir:         "/k",
		OutputDir:       "/o",
		DefaultDuration: 90 * 24 * time.Hour,
		KeyBits:         3072,
	}
	require.NoError(t, original.Save(path))

	loaded, err := LoadGenerator(path)
	require.NoError(t, err)
	assert.Equal(t, original, loaded)
}

func TestGeneratorConfig_Validate(t *testing.T) {
	base := GeneratorConfig{KeysDir: "/k", OutputDir: "/o", DefaultDuration: time.Hour, KeyBits: 2048}
	assert.NoError(t, base.Validate())

	weak := base
	weak.KeyBits = 1024
	assert.Error(t, weak.Validate())

	noDur := base
	noDur.DefaultDuration = 0
	assert.Error(t, noDur.Validate())

	noKeys := base
	noKeys.KeysDir = ""
	assert.Error(t, noKeys.Validate())
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("CFG_TEST_BOOL", "no")
	t.Setenv("CFG_TEST_INT", "42")
	t.Setenv("CFG_TEST_STR", "  value ")

	assert.False(t, getEnvBool("CFG_TEST_BOOL", true))
	assert.True(t, getEnvBool("CFG_TEST_UNSET", true))
	assert.Equal(t, 42, getEnvInt("CFG_TEST_INT", 0))
	assert.Equal(t, "value", getEnv("CFG_TEST_STR", ""))
	assert.Equal(t, time.Minute, getEnvDuration("CFG_TEST_UNSET", time.Minute))
}
