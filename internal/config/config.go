package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	StorageDir string `toml:"storage_dir"`
	ArchiveDir string `toml:"archive_dir"`
	StagingDir string `toml:"staging_dir"`
	LogDir     string `toml:"log_dir"`
	APIBind    string `toml:"api_bind"`
}

// Workflow contains pipeline scheduling knobs.
type Workflow struct {
	MaxConcurrentJobs     int `toml:"max_concurrent_jobs"`
	MaxJobSeconds         int `toml:"max_job_seconds"`
	ReservationTTLSeconds int `toml:"reservation_ttl_seconds"`
}

// Processing contains engine binaries and request defaults.
type Processing struct {
	DemucsBin           string  `toml:"demucs_bin"`
	YtdlpBin            string  `toml:"ytdlp_bin"`
	AubioBin            string  `toml:"aubio_bin"`
	DefaultQuality      string  `toml:"default_quality"`
	DefaultMode         string  `toml:"default_mode"`
	ComplexityThreshold float64 `toml:"complexity_threshold"`
	DownloadTimeout     int     `toml:"download_timeout"`
	AnalyzeTimeout      int     `toml:"analyze_timeout"`
	ProcessTimeout      int     `toml:"process_timeout"`
}

// Token maps a bearer token onto a caller identity.
type Token struct {
	Token string `toml:"token"`
	User  string `toml:"user"`
	Role  string `toml:"role"`
	Plan  string `toml:"plan"`
}

// Auth contains API authentication configuration.
type Auth struct {
	Tokens []Token `toml:"tokens"`
}

// Activity contains configuration for the SQLite activity log.
type Activity struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Logging contains log output configuration.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config is the root configuration document.
type Config struct {
	Paths      Paths      `toml:"paths"`
	Workflow   Workflow   `toml:"workflow"`
	Processing Processing `toml:"processing"`
	Auth       Auth       `toml:"auth"`
	Activity   Activity   `toml:"activity"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the conventional config file location.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "harmonix", "config.toml"), nil
}

// Load reads configuration from path (or the default location when path is
// empty), overlaying values onto Default(). A missing file is not an error;
// defaults are returned and the second result reports whether a file was read.
func Load(path string) (*Config, bool, error) {
	cfg := Default()

	resolved := strings.TrimSpace(path)
	if resolved == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return nil, false, err
		}
		resolved = defaultPath
	}
	resolved = ExpandPath(resolved)

	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg.normalize()
			return &cfg, false, nil
		}
		return nil, false, fmt.Errorf("read config %s: %w", resolved, err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, false, fmt.Errorf("parse config %s: %w", resolved, err)
	}
	cfg.normalize()
	return &cfg, true, nil
}

// WriteSample writes the embedded sample configuration to path.
func WriteSample(path string) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure config directory: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	return os.WriteFile(path, []byte(sampleConfig), 0o644)
}

// EnsureDirectories creates the directories the daemon needs at runtime.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.StorageDir, c.Paths.ArchiveDir, c.Paths.StagingDir, c.Paths.LogDir}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ExpandPath resolves a leading ~ against the current user's home directory.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}

func (c *Config) normalize() {
	c.Paths.StorageDir = ExpandPath(strings.TrimSpace(c.Paths.StorageDir))
	c.Paths.ArchiveDir = ExpandPath(strings.TrimSpace(c.Paths.ArchiveDir))
	c.Paths.StagingDir = ExpandPath(strings.TrimSpace(c.Paths.StagingDir))
	c.Paths.LogDir = ExpandPath(strings.TrimSpace(c.Paths.LogDir))
	c.Activity.Path = ExpandPath(strings.TrimSpace(c.Activity.Path))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Processing.DefaultQuality = strings.ToLower(strings.TrimSpace(c.Processing.DefaultQuality))
	c.Processing.DefaultMode = strings.ToLower(strings.TrimSpace(c.Processing.DefaultMode))
	for i := range c.Auth.Tokens {
		c.Auth.Tokens[i].Role = strings.ToLower(strings.TrimSpace(c.Auth.Tokens[i].Role))
		c.Auth.Tokens[i].Plan = strings.ToLower(strings.TrimSpace(c.Auth.Tokens[i].Plan))
		c.Auth.Tokens[i].User = strings.TrimSpace(c.Auth.Tokens[i].User)
		c.Auth.Tokens[i].Token = strings.TrimSpace(c.Auth.Tokens[i].Token)
	}
	if c.Activity.Enabled && c.Activity.Path == "" && c.Paths.LogDir != "" {
		c.Activity.Path = filepath.Join(c.Paths.LogDir, "activity.db")
	}
}
