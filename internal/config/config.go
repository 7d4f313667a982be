package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
)

// DefaultSuffix is the extension of capture files.
const DefaultSuffix = ".snap"

// Config holds application configuration.
type Config struct {
	// SaveDir is the directory holding capture files.
	SaveDir string `json:"save_dir,omitempty"`

	// RequestFile lists the item names in scope. Its base name is the request name
	// used to match capture files in SaveDir.
	RequestFile string `json:"request_file,omitempty"`

	// SaveSuffix is the capture file extension (default ".snap").
	SaveSuffix string `json:"save_suffix,omitempty"`

	// Macros are substituted into item names, e.g. {"SYS": "TST"} turns $(SYS):X into TST:X.
	Macros map[string]string `json:"macros,omitempty"`

	// DefaultLabels are always offered as label suggestions.
	DefaultLabels []string `json:"default_labels,omitempty"`

	// ForceDefaultLabels restricts labels on save/edit to DefaultLabels.
	ForceDefaultLabels bool `json:"force_default_labels,omitempty"`

	// ForceRestore makes restores proceed despite disconnected items unless overridden per call.
	ForceRestore bool `json:"force_restore,omitempty"`

	// Live configures the live-value layer.
	Live LiveConfig `json:"live,omitempty"`

	// Log configures logging.
	Log LogConfig `json:"log,omitempty"`

	// IndexDisabled turns off the SQLite index; every process start then re-parses all headers.
	IndexDisabled bool `json:"index_disabled,omitempty"`

	// DBMaxOpenConns limits the maximum number of open index database connections.
	// 0 means use sql.DB default.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle index database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// HTTPAddr is the listen address of `snapkeep serve`.
	HTTPAddr string `json:"http_addr,omitempty"`
}

// LiveConfig selects the live-value layer implementation.
type LiveConfig struct {
	// Mode is "sim" (in-process simulator) or "ws" (websocket gateway).
	Mode string `json:"mode,omitempty"`
	// URL is the gateway websocket URL for mode "ws".
	URL string `json:"url,omitempty"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level      string `json:"level,omitempty"`
	File       string `json:"file,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		SaveDir:    filepath.Join(xdg.DataHome, "snapkeep", "saves"),
		SaveSuffix: DefaultSuffix,
		Live:       LiveConfig{Mode: "sim"},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  16,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		HTTPAddr: "127.0.0.1:8642",
	}
}

// GlobalDir returns the global configuration directory.
// SNAPKEEP_HOME overrides the XDG location.
func GlobalDir() string {
	if explicit := os.Getenv("SNAPKEEP_HOME"); explicit != "" {
		return explicit
	}
	return filepath.Join(xdg.ConfigHome, "snapkeep")
}

// RequestName returns the base name of the configured request file.
func (c *Config) RequestName() string {
	if c.RequestFile == "" {
		return ""
	}
	return filepath.Base(c.RequestFile)
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithRepo loads configuration from both the global directory and the nearest repo
// .snapkeep/config.json found by walking upward from startDir.
// Repo config takes precedence for scalar values; arrays are merged (deduplicated).
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repoConfigPath := FindRepoConfig(startDir)
	repo, err := loadFileRaw(repoConfigPath)
	if err != nil {
		return nil, err
	}

	// Relative paths in the repo config are relative to the repo root.
	if repoConfigPath != "" {
		root := filepath.Dir(filepath.Dir(repoConfigPath))
		repo.SaveDir = resolveRelative(root, repo.SaveDir)
		repo.RequestFile = resolveRelative(root, repo.RequestFile)
	}

	return Merge(Merge(DefaultConfig(), global), repo), nil
}

// FindRepoConfig walks upward from startDir to find the nearest .snapkeep/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".snapkeep", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func resolveRelative(root, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated;
// maps are merged key-wise with overlay keys winning.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	// Scalars: overlay wins if non-zero, else base
	result.SaveDir = pick(overlay.SaveDir, base.SaveDir)
	result.RequestFile = pick(overlay.RequestFile, base.RequestFile)
	result.SaveSuffix = pick(overlay.SaveSuffix, base.SaveSuffix)
	result.HTTPAddr = pick(overlay.HTTPAddr, base.HTTPAddr)
	result.Live.Mode = pick(overlay.Live.Mode, base.Live.Mode)
	result.Live.URL = pick(overlay.Live.URL, base.Live.URL)
	result.Log.Level = pick(overlay.Log.Level, base.Log.Level)
	result.Log.File = pick(overlay.Log.File, base.Log.File)
	result.Log.MaxSizeMB = pickInt(overlay.Log.MaxSizeMB, base.Log.MaxSizeMB)
	result.Log.MaxBackups = pickInt(overlay.Log.MaxBackups, base.Log.MaxBackups)
	result.Log.MaxAgeDays = pickInt(overlay.Log.MaxAgeDays, base.Log.MaxAgeDays)
	result.DBMaxOpenConns = pickInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = pickInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns)

	// Booleans: overlay wins if true, else base
	result.ForceDefaultLabels = base.ForceDefaultLabels || overlay.ForceDefaultLabels
	result.ForceRestore = base.ForceRestore || overlay.ForceRestore
	result.IndexDisabled = base.IndexDisabled || overlay.IndexDisabled

	// Arrays: merge and deduplicate
	result.DefaultLabels = mergeStringSlice(base.DefaultLabels, overlay.DefaultLabels)
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	// Maps: key-wise
	if len(base.Macros)+len(overlay.Macros) > 0 {
		result.Macros = make(map[string]string, len(base.Macros)+len(overlay.Macros))
		for k, v := range base.Macros {
			result.Macros[k] = v
		}
		for k, v := range overlay.Macros {
			result.Macros[k] = v
		}
	}

	return result
}

func pick(overlay, base string) string {
	if overlay != "" {
		return overlay
	}
	return base
}

func pickInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
