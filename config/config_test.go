package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		root := t.TempDir()
		t.Setenv("WARF_ROOT", root)
		t.Setenv("LOG_LEVEL", "")
		t.Setenv("SERVICE_NAME", "")
		t.Setenv("CARGO", "")
		t.Setenv("WARF_SKIP_EXISTING", "")

		cfg, err := LoadConfig()
		require.NoError(t, err)
		assert.Equal(t, root, cfg.RootDir)
		assert.Equal(t, "info", cfg.LogLevel)
		assert.Equal(t, "warf", cfg.ServiceName)
		assert.Equal(t, "cargo", cfg.Cargo)
		assert.Equal(t, defaultSkipExisting, cfg.SkipExisting)
	})

	t.Run("engine args and skip list", func(t *testing.T) {
		t.Setenv("WARF_ROOT", t.TempDir())
		t.Setenv("HFUZZ_RUN_ARGS", "-n 4")
		t.Setenv("WARF_AFL_ARGS", "-m none")
		t.Setenv("WARF_SKIP_EXISTING", "queue, crashes ,")

		cfg, err := LoadConfig()
		require.NoError(t, err)
		assert.Equal(t, "-n 4", cfg.EngineArgs.Honggfuzz)
		assert.Equal(t, "-m none", cfg.EngineArgs.AFL)
		assert.Equal(t, []string{"queue", "crashes"}, cfg.SkipExisting)
	})

	t.Run("empty root falls back to working directory", func(t *testing.T) {
		t.Setenv("WARF_ROOT", "")
		cwd, err := os.Getwd()
		require.NoError(t, err)

		cfg, err := LoadConfig()
		require.NoError(t, err)
		assert.Equal(t, cwd, cfg.RootDir)
	})
}

func TestParseTimeout(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"10", 10 * time.Second, false},
		{"0", 0, false},
		{"90s", 90 * time.Second, false},
		{"2h", 2 * time.Hour, false},
		{"-1", 0, true},
		{"-5m", 0, true},
		{"soon", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimeout(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadCampaignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "campaign.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fuzzer: afl\nfilter: wasmi\ntimeout: 5m\ninfinite: true\n"), 0644))

	base := CampaignConfig{Backend: DefaultBackend, Timeout: DefaultTimeout, Update: true}
	cfg, err := LoadCampaignFile(path, base)
	require.NoError(t, err)

	assert.Equal(t, "afl", cfg.Backend)
	assert.Equal(t, "wasmi", cfg.Filter)
	assert.Equal(t, 5*time.Minute, cfg.Timeout)
	assert.True(t, cfg.Infinite)
	assert.True(t, cfg.Update, "keys missing from the file keep the base value")
}

func TestLoadCampaignFileErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadCampaignFile(filepath.Join(dir, "missing.yaml"), DefaultCampaignConfig())
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("timeout: forever\n"), 0644))
	_, err = LoadCampaignFile(bad, DefaultCampaignConfig())
	assert.ErrorContains(t, err, "invalid timeout")
}

func TestCampaignConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultCampaignConfig().Validate())

	err := CampaignConfig{Timeout: -time.Second, MaxCycles: -1}.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "no fuzzer selected")
	assert.ErrorContains(t, err, "timeout must not be negative")
	assert.ErrorContains(t, err, "max cycles must not be negative")
}
