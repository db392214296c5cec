package config

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// ErrUnknownPlatform indicates a platform name with no built-in layout and no
// override.
var ErrUnknownPlatform = errors.New("unknown platform")

// PlatformConfig describes the binary layout and tolerance scale of a target
// platform.
type PlatformConfig struct {
	BigEndian      bool    `mapstructure:"big_endian"`
	PointerSize    int     `mapstructure:"pointer_size"`
	ToleranceScale float64 `mapstructure:"tolerance_scale"`
}

// DBAConfig holds archive packing options.
type DBAConfig struct {
	StreamPrepare      bool   `mapstructure:"stream_prepare"`
	PayloadCompression string `mapstructure:"payload_compression"`
}

// Config holds all runtime configuration for a compile session.
// Values are populated from .animc.yaml, ANIMC_* env vars, and CLI flags.
type Config struct {
	SourceRoot       string                    `mapstructure:"source_root"`
	TargetRoot       string                    `mapstructure:"target_root"`
	ConfigFolder     string                    `mapstructure:"config_folder"`
	Platform         string                    `mapstructure:"platform"`
	Platforms        map[string]PlatformConfig `mapstructure:"platforms"`
	Refresh          bool                      `mapstructure:"refresh"`
	SkipDBA          bool                      `mapstructure:"skip_dba"`
	IgnorePresets    bool                      `mapstructure:"ignore_presets"`
	DebugCompression bool                      `mapstructure:"debug_compression"`
	AlignTracks      bool                      `mapstructure:"align_tracks"`
	MaxWorkers       int                       `mapstructure:"max_workers"`
	PreloadThreshold int                       `mapstructure:"preload_threshold"`
	AnimSettingsFile string                    `mapstructure:"anim_settings_file"`
	DBA              DBAConfig                 `mapstructure:"dba"`
	TelemetryPath    string                    `mapstructure:"telemetry_path"`
	HistoryPath      string                    `mapstructure:"history_path"`
	Verbose          bool                      `mapstructure:"verbose"`
}

// Load reads configuration from viper, applying built-in defaults for any
// values not set by config file, environment, or flags.
func Load() (Config, error) {
	viper.SetDefault("source_root", ".")
	viper.SetDefault("target_root", "")
	viper.SetDefault("config_folder", "Animations")
	viper.SetDefault("platform", "pc")
	viper.SetDefault("refresh", false)
	viper.SetDefault("skip_dba", false)
	viper.SetDefault("ignore_presets", false)
	viper.SetDefault("debug_compression", false)
	viper.SetDefault("align_tracks", false)
	viper.SetDefault("max_workers", runtime.NumCPU())
	viper.SetDefault("preload_threshold", 64)
	viper.SetDefault("anim_settings_file", "")
	viper.SetDefault("dba.stream_prepare", false)
	viper.SetDefault("dba.payload_compression", "none")
	viper.SetDefault("telemetry_path", "")
	viper.SetDefault("history_path", "")
	viper.SetDefault("verbose", false)

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if cfg.TargetRoot == "" {
		cfg.TargetRoot = cfg.SourceRoot
	}
	return cfg, nil
}

// BuiltinPlatforms returns the layouts of the known platforms.
func BuiltinPlatforms() map[string]PlatformConfig {
	return map[string]PlatformConfig{
		"pc":      {PointerSize: 8, ToleranceScale: 1},
		"orbis":   {PointerSize: 8, ToleranceScale: 1},
		"durango": {PointerSize: 8, ToleranceScale: 1},
		"x360":    {BigEndian: true, PointerSize: 4, ToleranceScale: 1},
		"ps3":     {BigEndian: true, PointerSize: 4, ToleranceScale: 1},
	}
}

// ResolvePlatform returns the selected platform's layout. Overrides under
// platforms.<name> replace the built-in values they set.
func (c Config) ResolvePlatform() (PlatformConfig, error) {
	name := strings.ToLower(c.Platform)
	p, builtin := BuiltinPlatforms()[name]
	o, override := c.Platforms[name]
	if !builtin && !override {
		return PlatformConfig{}, fmt.Errorf("config: platform %q: %w", c.Platform, ErrUnknownPlatform)
	}
	if override {
		if o.PointerSize != 0 {
			p.PointerSize = o.PointerSize
		}
		if o.ToleranceScale != 0 {
			p.ToleranceScale = o.ToleranceScale
		}
		if o.BigEndian {
			p.BigEndian = true
		}
	}
	if p.ToleranceScale == 0 {
		p.ToleranceScale = 1
	}
	return p, nil
}

// Validate reports configuration values the compiler cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.SourceRoot == "" {
		errs = append(errs, errors.New("config: source_root is empty"))
	}
	p, err := c.ResolvePlatform()
	if err != nil {
		errs = append(errs, err)
	} else if p.PointerSize != 4 && p.PointerSize != 8 {
		errs = append(errs, fmt.Errorf("config: platform %q: pointer_size %d must be 4 or 8", c.Platform, p.PointerSize))
	}
	switch strings.ToLower(c.DBA.PayloadCompression) {
	case "", "none", "lz4", "zstd":
	default:
		errs = append(errs, fmt.Errorf("config: dba.payload_compression %q must be one of none, lz4, zstd", c.DBA.PayloadCompression))
	}
	if c.MaxWorkers < 1 {
		errs = append(errs, fmt.Errorf("config: max_workers %d must be at least 1", c.MaxWorkers))
	}
	return errors.Join(errs...)
}

// PlatformNames lists the built-in platform names, sorted.
func PlatformNames() []string {
	names := make([]string, 0, 5)
	for n := range BuiltinPlatforms() {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
