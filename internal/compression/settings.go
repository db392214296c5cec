package compression

import (
	"fmt"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// Settings-file format tags.
const (
	FormatLegacy         = "legacy"
	FormatPerAxis        = "per_axis"
	FormatPerAxisDefault = "per_axis_default"
)

// Settings is the parsed content of an .animsettings file.
type Settings struct {
	Skeleton     string   `toml:"skeleton"`
	Additive     bool     `toml:"additive"`
	Tags         []string `toml:"tags"`
	SkipDatabase bool     `toml:"skip_database"`
	Format       string   `toml:"format"`

	Legacy *struct {
		Quality         *int     `toml:"quality"`
		PositionEpsilon *float64 `toml:"position_epsilon"`
		RotationEpsilon *float64 `toml:"rotation_epsilon"`
		ScaleEpsilon    *float64 `toml:"scale_epsilon"`
	} `toml:"legacy"`

	PerAxis *struct {
		Position *float64 `toml:"position"`
		Rotation *float64 `toml:"rotation"`
		Scale    *float64 `toml:"scale"`
	} `toml:"per_axis"`

	Bones []SettingsBone `toml:"bone"`
}

// SettingsBone is one [[bone]] entry of a settings file.
type SettingsBone struct {
	Pattern         string   `toml:"pattern"`
	Position        string   `toml:"position"`
	Rotation        string   `toml:"rotation"`
	Scale           string   `toml:"scale"`
	Multiplier      *float64 `toml:"multiplier"`
	PositionEpsilon *float64 `toml:"position_epsilon"`
	RotationEpsilon *float64 `toml:"rotation_epsilon"`
	ScaleEpsilon    *float64 `toml:"scale_epsilon"`
}

// ReadSettings parses a settings file.
func ReadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("compression: read settings %s: %w", path, err)
	}
	var s Settings
	if err := toml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("compression: parse settings %s: %w", path, err)
	}
	s.Skeleton = strings.TrimSpace(s.Skeleton)
	return &s, nil
}

// PeekSettings reads only what discovery needs from a settings file: the
// skeleton alias. Unknown keys and bone blocks are ignored.
func PeekSettings(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("compression: read settings %s: %w", path, err)
	}
	var peek struct {
		Skeleton string `toml:"skeleton"`
	}
	if err := toml.Unmarshal(data, &peek); err != nil {
		return "", fmt.Errorf("compression: parse settings %s: %w", path, err)
	}
	return strings.TrimSpace(peek.Skeleton), nil
}

// format builds the tagged global format. Missing values fall back to the
// built-in defaults of the selected form.
func (s *Settings) format() (Format, error) {
	switch strings.ToLower(s.Format) {
	case "", FormatLegacy:
		l := DefaultLegacy()
		if s.Legacy != nil {
			if s.Legacy.Quality != nil {
				l.Quality = *s.Legacy.Quality
			}
			if s.Legacy.PositionEpsilon != nil {
				l.PositionEpsilon = *s.Legacy.PositionEpsilon
			}
			if s.Legacy.RotationEpsilon != nil {
				l.RotationEpsilon = *s.Legacy.RotationEpsilon
			}
			if s.Legacy.ScaleEpsilon != nil {
				l.ScaleEpsilon = *s.Legacy.ScaleEpsilon
			}
		}
		return l, nil
	case FormatPerAxis:
		p := DefaultPerAxis()
		if s.PerAxis != nil {
			if s.PerAxis.Position != nil {
				p.Position = *s.PerAxis.Position
			}
			if s.PerAxis.Rotation != nil {
				p.Rotation = *s.PerAxis.Rotation
			}
			if s.PerAxis.Scale != nil {
				p.Scale = *s.PerAxis.Scale
			}
		}
		return p, nil
	case FormatPerAxisDefault:
		return DefaultPerAxis(), nil
	default:
		return nil, fmt.Errorf("compression: unknown format %q", s.Format)
	}
}

func (s *Settings) boneRules() ([]BoneRule, error) {
	rules := make([]BoneRule, 0, len(s.Bones))
	for i, b := range s.Bones {
		if b.Pattern == "" {
			return nil, fmt.Errorf("compression: bone %d: empty pattern", i)
		}
		r := BoneRule{
			Pattern:          b.Pattern,
			Multiplier:       1,
			PositionOverride: b.PositionEpsilon,
			RotationOverride: b.RotationEpsilon,
			ScaleOverride:    b.ScaleEpsilon,
		}
		if b.Multiplier != nil {
			r.Multiplier = *b.Multiplier
		}
		var err error
		if r.Position, err = ParseAxisMode(b.Position); err != nil {
			return nil, fmt.Errorf("bone %q position: %w", b.Pattern, err)
		}
		if r.Rotation, err = ParseAxisMode(b.Rotation); err != nil {
			return nil, fmt.Errorf("bone %q rotation: %w", b.Pattern, err)
		}
		if r.Scale, err = ParseAxisMode(b.Scale); err != nil {
			return nil, fmt.Errorf("bone %q scale: %w", b.Pattern, err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}
