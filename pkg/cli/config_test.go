package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserConfig_ActiveProfile(t *testing.T) {
	cfg := &UserConfig{
		CurrentProfile: "default",
		Profiles: map[string]Profile{
			"default": {Project: "acme-dev", Output: "table"},
			"prod":    {Project: "acme-prod", Location: "EU", Output: "json"},
		},
	}

	tests := []struct {
		name        string
		override    string
		wantProject string
		wantErr     string
	}{
		{name: "uses current profile", wantProject: "acme-dev"},
		{name: "override", override: "prod", wantProject: "acme-prod"},
		{name: "unknown override", override: "staging", wantErr: `profile "staging" not found`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := cfg.ActiveProfile(tt.override)
			if tt.wantErr != "" {
				require.EqualError(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantProject, p.Project)
		})
	}

	empty := &UserConfig{CurrentProfile: "default"}
	p, err := empty.ActiveProfile("")
	require.NoError(t, err)
	assert.Equal(t, Profile{}, p, "missing current profile is not an error")
}

func TestLoadSaveUserConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)

	require.NoError(t, SaveUserConfig(&UserConfig{
		CurrentProfile: "dev",
		Profiles: map[string]Profile{
			"dev": {Project: "acme-dev", Pipeline: "pipelines/sales.yaml", TemplateDir: "sql"},
		},
	}))

	info, err := os.Stat(filepath.Join(dir, ".bqflow", "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := LoadUserConfig()
	require.NoError(t, err)
	assert.Equal(t, "dev", loaded.CurrentProfile)
	require.Contains(t, loaded.Profiles, "dev")
	assert.Equal(t, "pipelines/sales.yaml", loaded.Profiles["dev"].Pipeline)
	assert.Equal(t, "sql", loaded.Profiles["dev"].TemplateDir)
}

func TestLoadUserConfig_Missing(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := LoadUserConfig()
	require.NoError(t, err)
	assert.Equal(t, "default", cfg.CurrentProfile)
	assert.Empty(t, cfg.Profiles)
}

func TestLoadUserConfig_Malformed(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".bqflow"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".bqflow", "config.yaml"), []byte("profiles: [oops"), 0o600))

	_, err := LoadUserConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestProfile_ApplyEnv(t *testing.T) {
	t.Setenv("BQ_PROJECT_ID", "from-env")
	t.Setenv("BQ_LOCATION", "")
	os.Unsetenv("BQ_LOCATION") //nolint:errcheck
	t.Setenv("TEMPLATE_DIR", "")
	os.Unsetenv("TEMPLATE_DIR") //nolint:errcheck

	p := Profile{Project: "from-profile", Location: "EU", TemplateDir: "sql"}
	require.NoError(t, p.applyEnv())

	assert.Equal(t, "from-env", os.Getenv("BQ_PROJECT_ID"), "environment wins")
	assert.Equal(t, "EU", os.Getenv("BQ_LOCATION"))
	assert.Equal(t, "sql", os.Getenv("TEMPLATE_DIR"))
}
