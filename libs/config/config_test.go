package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Port    string        `env:"SAMPLE_PORT" envDefault:"8083"`
	Buffer  int           `env:"SAMPLE_BUFFER_MINUTES" envDefault:"15"`
	LockTTL time.Duration `env:"SAMPLE_LOCK_TTL" envDefault:"5s"`
	DBURL   string        `env:"SAMPLE_DATABASE_URL"`
}

func TestParse_DefaultsAndOverrides(t *testing.T) {
	t.Setenv("SAMPLE_BUFFER_MINUTES", "20")
	t.Setenv("SAMPLE_DATABASE_URL", "postgres://localhost/spa")

	var cfg sample
	require.NoError(t, Parse(&cfg))

	assert.Equal(t, "8083", cfg.Port)
	assert.Equal(t, 20, cfg.Buffer)
	assert.Equal(t, 5*time.Second, cfg.LockTTL)
	assert.Equal(t, "postgres://localhost/spa", cfg.DBURL)
}

func TestParse_InvalidValue(t *testing.T) {
	t.Setenv("SAMPLE_BUFFER_MINUTES", "fifteen")

	var cfg sample
	require.Error(t, Parse(&cfg))
}

func TestValidatePort(t *testing.T) {
	assert.NoError(t, ValidatePort("PORT", "8083"))
	assert.Error(t, ValidatePort("PORT", "0"))
	assert.Error(t, ValidatePort("PORT", "70000"))
	assert.Error(t, ValidatePort("PORT", "http"))
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("DOTENV_SAMPLE_KEY=from-file\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("DOTENV_SAMPLE_KEY") })

	require.NoError(t, LoadDotEnv(path, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "from-file", os.Getenv("DOTENV_SAMPLE_KEY"))
}
