package config

import (
	"errors"
	"os"
	"runtime"
	"testing"

	"github.com/spf13/viper"
)

// resetViper clears all viper state between tests to avoid cross-contamination.
func resetViper() {
	viper.Reset()
}

func TestLoad_Defaults(t *testing.T) {
	resetViper()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"SourceRoot", cfg.SourceRoot, "."},
		{"TargetRoot", cfg.TargetRoot, "."},
		{"ConfigFolder", cfg.ConfigFolder, "Animations"},
		{"Platform", cfg.Platform, "pc"},
		{"Refresh", cfg.Refresh, false},
		{"SkipDBA", cfg.SkipDBA, false},
		{"MaxWorkers", cfg.MaxWorkers, runtime.NumCPU()},
		{"PreloadThreshold", cfg.PreloadThreshold, 64},
		{"PayloadCompression", cfg.DBA.PayloadCompression, "none"},
		{"Verbose", cfg.Verbose, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	resetViper()

	tests := []struct {
		name   string
		envKey string
		envVal string
		field  func(Config) any
		want   any
	}{
		{
			name:   "source_root",
			envKey: "ANIMC_SOURCE_ROOT",
			envVal: "/game/assets",
			field:  func(c Config) any { return c.SourceRoot },
			want:   "/game/assets",
		},
		{
			name:   "platform",
			envKey: "ANIMC_PLATFORM",
			envVal: "ps3",
			field:  func(c Config) any { return c.Platform },
			want:   "ps3",
		},
		{
			name:   "max_workers",
			envKey: "ANIMC_MAX_WORKERS",
			envVal: "3",
			field:  func(c Config) any { return c.MaxWorkers },
			want:   3,
		},
		{
			name:   "skip_dba",
			envKey: "ANIMC_SKIP_DBA",
			envVal: "true",
			field:  func(c Config) any { return c.SkipDBA },
			want:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetViper()
			// Set env prefix so ANIMC_* env vars map to config keys.
			viper.SetEnvPrefix("ANIMC")
			viper.AutomaticEnv()

			os.Setenv(tt.envKey, tt.envVal)
			defer os.Unsetenv(tt.envKey)

			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load() returned unexpected error: %v", err)
			}
			got := tt.field(cfg)
			if got != tt.want {
				t.Errorf("%s: got %v (%T), want %v (%T)", tt.name, got, got, tt.want, tt.want)
			}
		})
	}
}

func TestResolvePlatform(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		cfg      Config
		want     PlatformConfig
		wantErr  error
	}{
		{"pc", Config{Platform: "PC"}, PlatformConfig{PointerSize: 8, ToleranceScale: 1}, nil},
		{"ps3", Config{Platform: "ps3"}, PlatformConfig{BigEndian: true, PointerSize: 4, ToleranceScale: 1}, nil},
		{
			"override scale",
			Config{Platform: "pc", Platforms: map[string]PlatformConfig{"pc": {ToleranceScale: 0.5}}},
			PlatformConfig{PointerSize: 8, ToleranceScale: 0.5},
			nil,
		},
		{
			"custom platform",
			Config{Platform: "handheld", Platforms: map[string]PlatformConfig{"handheld": {PointerSize: 4}}},
			PlatformConfig{PointerSize: 4, ToleranceScale: 1},
			nil,
		},
		{"unknown", Config{Platform: "amiga"}, PlatformConfig{}, ErrUnknownPlatform},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cfg.ResolvePlatform()
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ResolvePlatform = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	good := Config{SourceRoot: ".", Platform: "pc", MaxWorkers: 2, DBA: DBAConfig{PayloadCompression: "zstd"}}
	if err := good.Validate(); err != nil {
		t.Fatalf("Validate(good) = %v", err)
	}

	bad := good
	bad.DBA.PayloadCompression = "brotli"
	bad.MaxWorkers = 0
	bad.Platform = "amiga"
	err := bad.Validate()
	if err == nil {
		t.Fatal("Validate(bad) = nil")
	}
	if !errors.Is(err, ErrUnknownPlatform) {
		t.Errorf("Validate error %v does not wrap ErrUnknownPlatform", err)
	}

	badPtr := good
	badPtr.Platforms = map[string]PlatformConfig{"pc": {PointerSize: 2}}
	if err := badPtr.Validate(); err == nil {
		t.Error("Validate accepted pointer_size 2")
	}
}

func TestPlatformNames(t *testing.T) {
	t.Parallel()
	names := PlatformNames()
	if len(names) != 5 || names[0] != "durango" {
		t.Errorf("PlatformNames = %v", names)
	}
}
