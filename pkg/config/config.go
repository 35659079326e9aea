// Package config loads and merges the TOML configuration file that governs a run: generation
// depth and parallelism, the storage backend and path, optional evaluation, and the read-API
// HTTP server.
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Config is the full merged configuration for one run.
type Config struct {
	Generation Generation `toml:"generation"`
	Storage    Storage    `toml:"storage"`
	Evaluation Evaluation `toml:"evaluation"`
	Server     Server     `toml:"server"`
}

// Generation controls the expansion engine.
type Generation struct {
	MaxDepth   int `toml:"max_depth"`
	Threads    int `toml:"threads"`
	BufferSize int `toml:"buffer_size"`
}

// Storage names the persistence backend and file path.
type Storage struct {
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
}

// Evaluation configures the optional external UCI evaluator.
type Evaluation struct {
	Path    string `toml:"path"`
	Depth   int    `toml:"depth"`
	Enabled bool   `toml:"enabled"`
}

// Server configures the read-path HTTP surface.
type Server struct {
	Port    int  `toml:"port"`
	Enabled bool `toml:"enabled"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Generation: Generation{MaxDepth: 10, Threads: 0, BufferSize: 1000},
		Storage:    Storage{Backend: "sqlite", Path: "chesstree.db"},
		Evaluation: Evaluation{Depth: 10, Enabled: false},
		Server:     Server{Port: 8080, Enabled: false},
	}
}

// Load reads and parses a TOML configuration file, starting from Default() so any field the
// file omits keeps its default value.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %q: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// Overrides carries CLI flag values that, when set, take precedence over whatever the config
// file (or defaults) supplied. A nil pointer field means "flag not passed."
type Overrides struct {
	Depth      *int
	DBPath     *string
	Threads    *int
	BufferSize *int
	Port       *int
	Serve      *bool
	Evaluate   *bool
	EnginePath *string
}

// Apply merges o into cfg in place, CLI values winning over file/default values.
func (cfg *Config) Apply(o Overrides) {
	if o.Depth != nil {
		cfg.Generation.MaxDepth = *o.Depth
	}
	if o.Threads != nil {
		cfg.Generation.Threads = *o.Threads
	}
	if o.BufferSize != nil {
		cfg.Generation.BufferSize = *o.BufferSize
	}
	if o.DBPath != nil {
		cfg.Storage.Path = *o.DBPath
	}
	if o.Port != nil {
		cfg.Server.Port = *o.Port
	}
	if o.Serve != nil && *o.Serve {
		cfg.Server.Enabled = true
	}
	if o.Evaluate != nil && *o.Evaluate {
		cfg.Evaluation.Enabled = true
	}
	if o.EnginePath != nil {
		cfg.Evaluation.Path = *o.EnginePath
	}
}
