package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Worker.BatchSize)
	assert.Equal(t, 5, cfg.Worker.LeaseTTLMinutes)
	assert.Equal(t, 3, cfg.Keywords.PagesPerDay)
	assert.Equal(t, 30, cfg.Keywords.MinVolume)
	assert.InDelta(t, 60, cfg.Keywords.MaxKD, 0.001)
	assert.Equal(t, "hybrid", cfg.OpenAI.Mode)
	assert.Equal(t, 2840, cfg.DataForSEO.LocationCode)
	assert.False(t, cfg.SafeMode)
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
server:
  port: 9090
keywords:
  pages_per_day: 1
  max_kd: 45
openai:
  mode: bulk
  model_bulk: gpt-4o-mini
safe_mode: true
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 1, cfg.Keywords.PagesPerDay)
	assert.InDelta(t, 45, cfg.Keywords.MaxKD, 0.001)
	assert.True(t, cfg.SafeMode)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAI.ModelForQuality())
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"zero batch", func(c *Config) { c.Worker.BatchSize = 0 }},
		{"zero lease", func(c *Config) { c.Worker.LeaseTTLMinutes = 0 }},
		{"kd out of range", func(c *Config) { c.Keywords.MaxKD = 101 }},
		{"bad openai mode", func(c *Config) { c.OpenAI.Mode = "turbo" }},
	}

	base, err := Load("")
	require.NoError(t, err)

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestCompetitorDomainsNormalized(t *testing.T) {
	t.Parallel()

	cfg := KeywordsConfig{CompetitorList: "https://www.example.com/path\nexample.com\n\n other.net/rooms \n"}
	assert.Equal(t, []string{"example.com", "other.net"}, cfg.CompetitorDomains())
}

func TestModelRouting(t *testing.T) {
	t.Parallel()

	c := OpenAIConfig{Mode: "hybrid", ModelPrimary: "gpt-4o", ModelBulk: "gpt-4o-mini"}
	assert.Equal(t, "gpt-4o", c.ModelForQuality())
	assert.Equal(t, "gpt-4o-mini", c.ModelForBulk())

	c.Mode = "bulk"
	assert.Equal(t, "gpt-4o-mini", c.ModelForQuality())

	c.Mode = "quality"
	assert.Equal(t, "gpt-4o", c.ModelForBulk())
}
