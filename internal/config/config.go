package config

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"

	"github.com/oshokin/rkflash/internal/domain/flash"
	"github.com/oshokin/rkflash/internal/logger"
)

// Config holds the settings shared by all rkflash commands.
type Config struct {
	// ToolPath is the vendor upgrade tool binary.
	ToolPath string `yaml:"tool_path"`
	// ReleaseDir holds one <version>.zip per release.
	ReleaseDir string `yaml:"release_dir"`
	// ArtifactsDir holds the base image, the common update tarball and boot artifacts.
	ArtifactsDir string `yaml:"artifacts_dir"`
	// WorkspaceDir receives assembled images and per-call scratch space.
	WorkspaceDir string `yaml:"workspace_dir"`
	// PollInterval is the device enumeration cadence.
	PollInterval time.Duration `yaml:"poll_interval"`
	// ListenAddress is the HTTP control API address of `rkflash serve`.
	ListenAddress string `yaml:"listen_address"`
	// HealthAddress is the gRPC health endpoint address of `rkflash serve`.
	HealthAddress string `yaml:"health_address"`
	// SessionFile persists board, version and device selection.
	SessionFile string `yaml:"session_file"`
	// SelectNewDevices makes freshly plugged devices selected for flashing.
	SelectNewDevices bool `yaml:"select_new_devices"`
	// LogLevel is the minimum log level.
	LogLevel string `yaml:"log_level"`
	// Boards extends or overrides the built-in board table.
	Boards flash.BoardTable `yaml:"boards"`
}

const (
	// DefaultConfigFilename is the default settings file name.
	DefaultConfigFilename = "rkflash.yaml"

	// DefaultToolPath is where the vendor tool ships inside the SDK.
	DefaultToolPath = "tools/rk_flash_tools/upgrade_tool"

	// DefaultReleaseDir holds release archives.
	DefaultReleaseDir = "upgrade"

	// DefaultArtifactsDir holds base board artifacts.
	DefaultArtifactsDir = "rockdev"

	// DefaultWorkspaceDir receives assembled images.
	DefaultWorkspaceDir = "tmp"

	// DefaultPollInterval is the device enumeration cadence.
	DefaultPollInterval = 500 * time.Millisecond

	// DefaultListenAddress is the HTTP control API address.
	DefaultListenAddress = "127.0.0.1:8780"

	// DefaultHealthAddress is the gRPC health endpoint address.
	DefaultHealthAddress = "127.0.0.1:8781"

	// DefaultSessionFilename persists operator selection.
	DefaultSessionFilename = "rkflash-session.yaml"

	// DefaultFilePermissions is the file permission for settings files.
	DefaultFilePermissions = 0o600
)

// Environment variables overriding file settings.
const (
	EnvToolPath     = "RKFLASH_TOOL"
	EnvReleaseDir   = "RKFLASH_RELEASE_DIR"
	EnvArtifactsDir = "RKFLASH_ARTIFACTS_DIR"
	EnvWorkspaceDir = "RKFLASH_WORKSPACE_DIR"
	EnvLogLevel     = "RKFLASH_LOG_LEVEL"
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errToolPathRequired is returned when the upgrade tool path is blank.
	errToolPathRequired = errors.New("tool path must be provided")
	// errBadLogLevel is returned for unknown log levels.
	errBadLogLevel = errors.New("unknown log level")
	// errBadPollInterval is returned for a negative poll interval.
	errBadPollInterval = errors.New("poll interval must not be negative")
)

// Default returns the built-in settings.
func Default() *Config {
	cfg := new(Config)
	_ = Validate(cfg)

	return cfg
}

// Load reads settings from path, applies environment overrides and validates them.
// An empty path means DefaultConfigFilename, and a missing default file
// yields the built-in defaults. A missing explicit path is an error.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFilename
	}

	var cfg Config

	contents, err := os.ReadFile(filepath.Clean(path))

	switch {
	case err == nil:
		if err = yaml.Unmarshal(contents, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal settings: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// Built-in defaults.
	default:
		return nil, fmt.Errorf("read settings: %w", err)
	}

	applyEnv(&cfg)

	if err = Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes settings to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	path = filepath.Clean(path)

	if err = atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	if err = os.Chmod(path, DefaultFilePermissions); err != nil {
		return fmt.Errorf("chmod settings: %w", err)
	}

	return nil
}

// Validate fills defaults and checks the provided settings.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	setDefaults(cfg)

	if cfg.ToolPath == "" {
		return errToolPathRequired
	}

	if cfg.PollInterval < 0 {
		return errBadPollInterval
	}

	if _, ok := logger.ParseLogLevel(cfg.LogLevel); !ok {
		return fmt.Errorf("%w: %q", errBadLogLevel, cfg.LogLevel)
	}

	for _, address := range []string{cfg.ListenAddress, cfg.HealthAddress} {
		if _, _, err := net.SplitHostPort(address); err != nil {
			return fmt.Errorf("invalid listen address %q: %w", address, err)
		}
	}

	return nil
}

// BoardTable returns the built-in boards merged with the configured ones.
func (c *Config) BoardTable() flash.BoardTable {
	table := flash.DefaultBoards()
	for name, profile := range c.Boards {
		table[name] = profile
	}

	return table
}

func setDefaults(cfg *Config) {
	if cfg.ToolPath == "" {
		cfg.ToolPath = DefaultToolPath
	}

	if cfg.ReleaseDir == "" {
		cfg.ReleaseDir = DefaultReleaseDir
	}

	if cfg.ArtifactsDir == "" {
		cfg.ArtifactsDir = DefaultArtifactsDir
	}

	if cfg.WorkspaceDir == "" {
		cfg.WorkspaceDir = DefaultWorkspaceDir
	}

	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultListenAddress
	}

	if cfg.HealthAddress == "" {
		cfg.HealthAddress = DefaultHealthAddress
	}

	if cfg.SessionFile == "" {
		cfg.SessionFile = DefaultSessionFilename
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

func applyEnv(cfg *Config) {
	overrides := map[string]*string{
		EnvToolPath:     &cfg.ToolPath,
		EnvReleaseDir:   &cfg.ReleaseDir,
		EnvArtifactsDir: &cfg.ArtifactsDir,
		EnvWorkspaceDir: &cfg.WorkspaceDir,
		EnvLogLevel:     &cfg.LogLevel,
	}

	for name, field := range overrides {
		if value, ok := os.LookupEnv(name); ok && value != "" {
			*field = value
		}
	}
}
