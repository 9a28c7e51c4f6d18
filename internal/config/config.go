// Package config loads fdio configuration from JSONC files and CLI overrides.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/calvinalkan/fdio/pkg/fdio"
	"github.com/mitchellh/mapstructure"
	"github.com/tailscale/hujson"
)

// Error variables for configuration.
var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigFileRead     = errors.New("cannot read config file")
	ErrConfigInvalid      = errors.New("invalid config file")
	ErrChunkSizeInvalid   = errors.New("chunk_size must be positive")
	ErrMaxBufferInvalid   = errors.New("max_buffer_size must not be negative")
	ErrTraceInvalid       = errors.New("trace_capacity must not be negative")
	ErrRateInvalid        = errors.New("chaos rate must be between 0 and 1")
	ErrInterruptRateOne   = errors.New("chaos interrupt rate must be below 1")
)

// ConfigFileName is the project config file looked up in the working
// directory.
const ConfigFileName = ".fdio.json"

// DefaultTraceCapacity is used when --trace is given and no trace_capacity
// is configured.
const DefaultTraceCapacity = 256

// Rates are fault injection probabilities, see [fdio.ChaosConfig].
type Rates struct {
	Open         float64 `json:"open"`
	Read         float64 `json:"read"`
	PartialRead  float64 `json:"partial_read"`
	Interrupt    float64 `json:"interrupt"`
	Write        float64 `json:"write"`
	PartialWrite float64 `json:"partial_write"`
	Stat         float64 `json:"stat"`
	Seek         float64 `json:"seek"`
	Truncate     float64 `json:"truncate"`
	Sync         float64 `json:"sync"`
	Close        float64 `json:"close"`
	Pipe         float64 `json:"pipe"`
}

// Chaos configures fault injection.
type Chaos struct {
	Enabled bool  `json:"enabled"`
	Seed    int64 `json:"seed"`
	Rates   Rates `json:"rates"`
}

// Settings are the values that can be set in config files.
type Settings struct {
	ChunkSize     int   `json:"chunk_size"`
	MaxBufferSize int   `json:"max_buffer_size"`
	TraceCapacity int   `json:"trace_capacity"`
	Chaos         Chaos `json:"chaos"`
}

// Config is the resolved configuration.
type Config struct {
	Settings

	// EffectiveCwd is the absolute working directory (-C flag or os.Getwd).
	EffectiveCwd string

	// Sources tracks which config files were loaded.
	Sources Sources
}

// Sources tracks which config files were loaded.
type Sources struct {
	Global  string // Path to global config if loaded, empty otherwise
	Project string // Path to project or explicit config if loaded, empty otherwise
}

// DefaultSettings returns the built-in defaults.
func DefaultSettings() Settings {
	return Settings{
		ChunkSize: fdio.DefaultChunkSize,
	}
}

// Input holds the inputs for [Load].
type Input struct {
	WorkDirOverride string            // -C/--cwd flag value; if empty, os.Getwd() is used
	ConfigPath      string            // -c/--config flag value
	Env             map[string]string // environment variables

	Trace        bool  // --trace flag
	ChaosSeed    int64 // --chaos-seed flag value
	HasChaosSeed bool  // whether --chaos-seed was given
}

// getGlobalConfigPath returns $XDG_CONFIG_HOME/fdio/config.json if set,
// otherwise ~/.config/fdio/config.json, or "" if neither can be determined.
func getGlobalConfigPath(env map[string]string) string {
	if xdgConfig := env["XDG_CONFIG_HOME"]; xdgConfig != "" {
		return filepath.Join(xdgConfig, "fdio", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "fdio", "config.json")
	}

	return ""
}

// Load loads configuration with the following precedence (highest wins):
// 1. Defaults
// 2. Global user config ($XDG_CONFIG_HOME/fdio/config.json or ~/.config/fdio/config.json)
// 3. Project config file in the working directory (.fdio.json, if exists)
// 4. Explicit config file via ConfigPath (if non-empty, replaces 3)
// 5. CLI overrides.
//
// Each file only overrides the keys it sets.
func Load(input Input) (Config, error) {
	workDir := input.WorkDirOverride
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	workDir, err := filepath.Abs(workDir)
	if err != nil {
		return Config{}, fmt.Errorf("cannot resolve working directory: %w", err)
	}

	cfg := Config{Settings: DefaultSettings(), EffectiveCwd: workDir}

	if globalPath := getGlobalConfigPath(input.Env); globalPath != "" {
		loaded, err := loadConfigFile(globalPath, false, &cfg.Settings)
		if err != nil {
			return Config{}, err
		}

		if loaded {
			cfg.Sources.Global = globalPath
		}
	}

	projectPath, mustExist := filepath.Join(workDir, ConfigFileName), false

	if input.ConfigPath != "" {
		projectPath, mustExist = input.ConfigPath, true
		if !filepath.IsAbs(projectPath) {
			projectPath = filepath.Join(workDir, projectPath)
		}
	}

	loaded, err := loadConfigFile(projectPath, mustExist, &cfg.Settings)
	if err != nil {
		return Config{}, err
	}

	if loaded {
		cfg.Sources.Project = projectPath
	}

	if input.Trace && cfg.TraceCapacity == 0 {
		cfg.TraceCapacity = DefaultTraceCapacity
	}

	if input.HasChaosSeed {
		cfg.Chaos.Enabled = true
		cfg.Chaos.Seed = input.ChaosSeed
	}

	err = Validate(cfg.Settings)
	if err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// loadConfigFile decodes path onto dst. If mustExist is false a missing file
// is not an error and leaves dst untouched. Reports whether the file was
// loaded.
func loadConfigFile(path string, mustExist bool, dst *Settings) (bool, error) {
	data, err := readFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if mustExist {
				return false, fmt.Errorf("%w: %s", ErrConfigFileNotFound, path)
			}

			return false, nil
		}

		return false, fmt.Errorf("%w: %s: %w", ErrConfigFileRead, path, err)
	}

	err = Parse(data, dst)
	if err != nil {
		return false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	return true, nil
}

func readFile(path string) ([]byte, error) {
	h, err := fdio.OpenForReading(path)
	if err != nil {
		return nil, err
	}
	defer h.Close()

	return h.ReadToEnd()
}

// Parse decodes JSONC data onto dst, overriding only the keys present.
// Unknown keys are errors.
func Parse(data []byte, dst *Settings) error {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fmt.Errorf("invalid JSONC: %w", err)
	}

	var raw map[string]any

	dec := json.NewDecoder(bytes.NewReader(standardized))
	dec.UseNumber()

	err = dec.Decode(&raw)
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "json",
		ErrorUnused: true,
		Result:      dst,
	})
	if err != nil {
		return err
	}

	return decoder.Decode(raw)
}

// Validate checks settings for values the engine cannot use.
func Validate(s Settings) error {
	if s.ChunkSize <= 0 {
		return ErrChunkSizeInvalid
	}

	if s.MaxBufferSize < 0 {
		return ErrMaxBufferInvalid
	}

	if s.TraceCapacity < 0 {
		return ErrTraceInvalid
	}

	r := s.Chaos.Rates

	for name, rate := range map[string]float64{
		"open":          r.Open,
		"read":          r.Read,
		"partial_read":  r.PartialRead,
		"interrupt":     r.Interrupt,
		"write":         r.Write,
		"partial_write": r.PartialWrite,
		"stat":          r.Stat,
		"seek":          r.Seek,
		"truncate":      r.Truncate,
		"sync":          r.Sync,
		"close":         r.Close,
		"pipe":          r.Pipe,
	} {
		if rate < 0 || rate > 1 {
			return fmt.Errorf("%w: %s=%v", ErrRateInvalid, name, rate)
		}
	}

	if r.Interrupt >= 1 {
		return ErrInterruptRateOne
	}

	return nil
}

// EngineOptions returns the read buffering options.
func (c Config) EngineOptions() fdio.Options {
	return fdio.Options{
		ChunkSize:     c.ChunkSize,
		MaxBufferSize: c.MaxBufferSize,
	}
}

// ChaosConfig converts the chaos settings for [fdio.NewChaos].
func (c Config) ChaosConfig() fdio.ChaosConfig {
	r := c.Chaos.Rates

	return fdio.ChaosConfig{
		OpenFailRate:     r.Open,
		ReadFailRate:     r.Read,
		PartialReadRate:  r.PartialRead,
		InterruptRate:    r.Interrupt,
		WriteFailRate:    r.Write,
		PartialWriteRate: r.PartialWrite,
		StatFailRate:     r.Stat,
		SeekFailRate:     r.Seek,
		TruncateFailRate: r.Truncate,
		SyncFailRate:     r.Sync,
		CloseFailRate:    r.Close,
		PipeFailRate:     r.Pipe,
		TraceCapacity:    c.TraceCapacity,
	}
}

// Sys builds the syscall layer over base. When chaos is enabled or tracing
// is requested the result is a [fdio.Chaos] (in no-op mode if only tracing),
// which is also returned for access to its trace and stats; otherwise base is
// returned as is and the second result is nil.
func (c Config) Sys(base fdio.Sys) (fdio.Sys, *fdio.Chaos) {
	if !c.Chaos.Enabled && c.TraceCapacity == 0 {
		return base, nil
	}

	chaos := fdio.NewChaos(base, c.Chaos.Seed, c.ChaosConfig())
	if !c.Chaos.Enabled {
		chaos.SetMode(fdio.ChaosModeNoOp)
	}

	return chaos, chaos
}

// Format renders settings as indented JSON.
func Format(s Settings) (string, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("format config: %w", err)
	}

	return string(data), nil
}
