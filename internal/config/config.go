package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"solveeverylight/internal/imaging"
	"solveeverylight/internal/options"
	"solveeverylight/internal/platesolve"
)

const (
	defaultConfigPath = "~/.config/solveeverylight/config.json"
	envConfigPath     = "SOLVEEVERYLIGHT_CONFIG"
	envPrefix         = "SEL"
)

// Config holds user-editable settings.
type Config struct {
	Logging  Logging  `mapstructure:"logging" json:"logging"`
	Paths    Paths    `mapstructure:"paths" json:"paths"`
	Plugin   Plugin   `mapstructure:"plugin" json:"plugin"`
	Profile  Profile  `mapstructure:"profile" json:"profile"`
	Solvers  Solvers  `mapstructure:"solvers" json:"solvers"`
	Server   Server   `mapstructure:"server" json:"server"`
	Database Database `mapstructure:"database" json:"database"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `mapstructure:"level" json:"level"`             // debug, info, warn, error
	Format     string `mapstructure:"format" json:"format"`           // text, json
	FileOutput bool   `mapstructure:"file_output" json:"file_output"` // Enable file logging
	LogDir     string `mapstructure:"log_dir" json:"log_dir"`         // Directory for log files
}

// Paths configures watched and scratch locations.
type Paths struct {
	WatchDirs []string `mapstructure:"watch_dirs" json:"watch_dirs"`
	TempDir   string   `mapstructure:"temp_dir" json:"temp_dir"`
}

// Plugin identifies the plugin in written headers and carries the option
// defaults used before a profile has its own values.
type Plugin struct {
	Name        string                `mapstructure:"name" json:"name"`
	Version     string                `mapstructure:"version" json:"version"`
	HostVersion string                `mapstructure:"host_version" json:"host_version"`
	Defaults    options.PluginOptions `mapstructure:"defaults" json:"defaults"`
}

// Profile describes the active equipment profile.
type Profile struct {
	ID         string                     `mapstructure:"id" json:"id"`
	Name       string                     `mapstructure:"name" json:"name"`
	FileType   string                     `mapstructure:"file_type" json:"file_type"`
	PlateSolve platesolve.ProfileSettings `mapstructure:"plate_solve" json:"plate_solve"`
}

// Solvers locates the solver executables.
type Solvers struct {
	ASTAPPath string   `mapstructure:"astap_path" json:"astap_path"`
	ASTAPArgs []string `mapstructure:"astap_args" json:"astap_args"`
	ASPSPath  string   `mapstructure:"asps_path" json:"asps_path"`
}

// Server configures the HTTP status endpoint.
type Server struct {
	Addr string `mapstructure:"addr" json:"addr"`
}

// Database selects the sqlite driver and file.
type Database struct {
	Driver string `mapstructure:"driver" json:"driver"` // sqlite (pure Go) or sqlite3 (cgo)
	Path   string `mapstructure:"path" json:"path"`
}

// Load reads configuration from disk, falling back to sensible defaults.
// SEL_* environment variables override file values, e.g. SEL_SERVER_ADDR.
func Load() (*Config, error) {
	configPath := os.Getenv(envConfigPath)
	if configPath == "" {
		configPath = defaultConfigPath
	}
	return LoadFile(configPath)
}

// LoadFile reads the JSON config at path. A missing file yields defaults.
func LoadFile(path string) (*Config, error) {
	expanded, err := expandUser(path)
	if err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v, defaultConfig())
	v.SetConfigType("json")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if expanded != "" {
		v.SetConfigFile(expanded)
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config %s: %w", expanded, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	if c.Profile.FileType != "" {
		ft, err := imaging.ParseFileFormat(c.Profile.FileType)
		if err != nil {
			return fmt.Errorf("profile.file_type: %w", err)
		}
		c.Profile.FileType = string(ft)
	}
	if c.Profile.PlateSolve.SolverType != "" {
		st, err := platesolve.ParseSolverType(string(c.Profile.PlateSolve.SolverType))
		if err != nil {
			return fmt.Errorf("profile.plate_solve.solver_type: %w", err)
		}
		c.Profile.PlateSolve.SolverType = st
	}
	if c.Paths.TempDir == "" {
		c.Paths.TempDir = os.TempDir()
	}
	db, err := expandUser(c.Database.Path)
	if err != nil {
		return err
	}
	c.Database.Path = db
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: false,
			LogDir:     "./logs",
		},
		Paths: Paths{
			TempDir: os.TempDir(),
		},
		Plugin: Plugin{
			Name:        "Solve Every Light",
			Version:     "1.0.0",
			HostVersion: "3.1",
			Defaults:    options.DefaultPluginOptions(),
		},
		Profile: Profile{
			Name:     "Default",
			FileType: string(imaging.FormatFITS),
			PlateSolve: platesolve.ProfileSettings{
				SolverType:       platesolve.SolverASTAP,
				DownSampleFactor: 0, // auto
				MaxObjects:       500,
				SearchRadius:     30,
				Regions:          5000,
				FocalLength:      0, // <= 0 means unset
			},
		},
		// empty solver paths search the standard install locations, then PATH
		Solvers: Solvers{},
		Server: Server{
			Addr: "127.0.0.1:8765",
		},
		Database: Database{
			Driver: "sqlite",
			Path:   filepath.Join(os.TempDir(), "solveeverylight.db"),
		},
	}
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file_output", d.Logging.FileOutput)
	v.SetDefault("logging.log_dir", d.Logging.LogDir)

	v.SetDefault("paths.watch_dirs", d.Paths.WatchDirs)
	v.SetDefault("paths.temp_dir", d.Paths.TempDir)

	v.SetDefault("plugin.name", d.Plugin.Name)
	v.SetDefault("plugin.version", d.Plugin.Version)
	v.SetDefault("plugin.host_version", d.Plugin.HostVersion)
	v.SetDefault("plugin.defaults.plugin_enabled", d.Plugin.Defaults.PluginEnabled)
	v.SetDefault("plugin.defaults.snapshots_enabled", d.Plugin.Defaults.SnapshotsEnabled)
	v.SetDefault("plugin.defaults.notifications_enabled", d.Plugin.Defaults.NotificationsEnabled)
	v.SetDefault("plugin.defaults.optimized_solver_parameter_enabled", d.Plugin.Defaults.OptimizedSolverParameterEnabled)
	v.SetDefault("plugin.defaults.down_sample_factor", d.Plugin.Defaults.DownSampleFactor)
	v.SetDefault("plugin.defaults.search_radius", d.Plugin.Defaults.SearchRadius)
	v.SetDefault("plugin.defaults.max_objects", d.Plugin.Defaults.MaxObjects)

	v.SetDefault("profile.id", d.Profile.ID)
	v.SetDefault("profile.name", d.Profile.Name)
	v.SetDefault("profile.file_type", d.Profile.FileType)
	v.SetDefault("profile.plate_solve.solver_type", string(d.Profile.PlateSolve.SolverType))
	v.SetDefault("profile.plate_solve.down_sample_factor", d.Profile.PlateSolve.DownSampleFactor)
	v.SetDefault("profile.plate_solve.max_objects", d.Profile.PlateSolve.MaxObjects)
	v.SetDefault("profile.plate_solve.search_radius", d.Profile.PlateSolve.SearchRadius)
	v.SetDefault("profile.plate_solve.regions", d.Profile.PlateSolve.Regions)
	v.SetDefault("profile.plate_solve.focal_length", d.Profile.PlateSolve.FocalLength)

	v.SetDefault("solvers.astap_path", d.Solvers.ASTAPPath)
	v.SetDefault("solvers.astap_args", d.Solvers.ASTAPArgs)
	v.SetDefault("solvers.asps_path", d.Solvers.ASPSPath)

	v.SetDefault("server.addr", d.Server.Addr)

	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.path", d.Database.Path)
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
