package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// UserConfig represents ~/.bqflow/config.yaml.
type UserConfig struct {
	CurrentProfile string             `yaml:"current-profile"`
	Profiles       map[string]Profile `yaml:"profiles"`
}

// Profile holds per-user defaults. Environment variables and flags win.
type Profile struct {
	Project     string `yaml:"project,omitempty"`
	Location    string `yaml:"location,omitempty"`
	Credentials string `yaml:"credentials,omitempty"`
	Pipeline    string `yaml:"pipeline,omitempty"` // default for run -f
	TemplateDir string `yaml:"template-dir,omitempty"`
	Output      string `yaml:"output,omitempty"`
}

// ActiveProfile returns the named profile, or the current one when override
// is empty. A missing current profile yields an empty Profile; a missing
// override is an error.
func (c *UserConfig) ActiveProfile(override string) (Profile, error) {
	name := c.CurrentProfile
	if override != "" {
		name = override
	}
	if p, ok := c.Profiles[name]; ok {
		return p, nil
	}
	if override != "" {
		return Profile{}, fmt.Errorf("profile %q not found", override)
	}
	return Profile{}, nil
}

// profileEnv maps profile fields to the environment variables they default.
func (p Profile) env() map[string]string {
	return map[string]string{
		"BQ_PROJECT_ID":       p.Project,
		"BQ_LOCATION":         p.Location,
		"BQ_CREDENTIALS_FILE": p.Credentials,
		"TEMPLATE_DIR":        p.TemplateDir,
	}
}

// applyEnv sets every non-empty profile value whose variable is unset.
func (p Profile) applyEnv() error {
	for key, val := range p.env() {
		if val == "" {
			continue
		}
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, val); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
	}
	return nil
}

// ConfigDir returns the path to ~/.bqflow/.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".bqflow")
}

// ConfigPath returns the path to ~/.bqflow/config.yaml.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// LoadUserConfig reads ~/.bqflow/config.yaml. A missing file is an empty config.
func LoadUserConfig() (*UserConfig, error) {
	cfg := &UserConfig{CurrentProfile: "default", Profiles: map[string]Profile{}}
	data, err := os.ReadFile(ConfigPath())
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = map[string]Profile{}
	}
	return cfg, nil
}

// SaveUserConfig writes ~/.bqflow/config.yaml.
func SaveUserConfig(cfg *UserConfig) error {
	if err := os.MkdirAll(ConfigDir(), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(ConfigPath(), data, 0o600)
}
