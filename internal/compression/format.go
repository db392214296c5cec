// Package compression resolves the per-animation compression descriptor:
// global tolerances in one of two mutually exclusive formats, plus ordered
// per-bone rules, layered from built-in defaults, the preset table, and the
// animation's settings file.
package compression

import (
	"fmt"
	"strings"
)

// AxisMode selects how a joint's track on one axis is treated.
type AxisMode uint8

const (
	AxisAuto   AxisMode = iota // Compress with the computed tolerance
	AxisKeep                   // Keep every key
	AxisDelete                 // Drop the track
)

// String returns the settings-file spelling of the mode.
func (m AxisMode) String() string {
	switch m {
	case AxisKeep:
		return "keep"
	case AxisDelete:
		return "delete"
	default:
		return "auto"
	}
}

// ParseAxisMode parses a settings-file axis mode. The empty string is auto.
func ParseAxisMode(s string) (AxisMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return AxisAuto, nil
	case "keep":
		return AxisKeep, nil
	case "delete":
		return AxisDelete, nil
	default:
		return AxisAuto, fmt.Errorf("compression: unknown axis mode %q", s)
	}
}

// Format is the tagged global tolerance record. It is implemented only by
// Legacy and PerAxis.
type Format interface {
	// Globals returns position (distance), rotation (degrees) and scale
	// tolerances in final units.
	Globals() (position, rotation, scale float64)
	// Name returns the settings-file format tag.
	Name() string
	sealed()
}

// Legacy is the numeric-quality form. PositionEpsilon is a squared distance
// and RotationEpsilon a quaternion dot-product deviation.
type Legacy struct {
	Quality         int
	PositionEpsilon float64
	RotationEpsilon float64
	ScaleEpsilon    float64
}

// PerAxis carries per-axis tolerances already in final units.
type PerAxis struct {
	Position float64
	Rotation float64 // degrees
	Scale    float64
}

// Built-in defaults.
const (
	DefaultQuality         = 10
	DefaultPositionEpsilon = 0.0001
	DefaultRotationEpsilon = 0.00002
	DefaultScaleEpsilon    = 0.001

	DefaultAxisPosition = 0.01
	DefaultAxisRotation = 0.5
	DefaultAxisScale    = 0.001
)

// DefaultLegacy returns the built-in legacy globals.
func DefaultLegacy() Legacy {
	return Legacy{
		Quality:         DefaultQuality,
		PositionEpsilon: DefaultPositionEpsilon,
		RotationEpsilon: DefaultRotationEpsilon,
		ScaleEpsilon:    DefaultScaleEpsilon,
	}
}

// DefaultPerAxis returns the built-in per-axis globals.
func DefaultPerAxis() PerAxis {
	return PerAxis{
		Position: DefaultAxisPosition,
		Rotation: DefaultAxisRotation,
		Scale:    DefaultAxisScale,
	}
}

// Globals converts the legacy epsilons: position from squared distance to
// distance, rotation from dot deviation to the angle 2·acos(1−ε) in degrees.
func (l Legacy) Globals() (float64, float64, float64) {
	return legacyPosition(l.PositionEpsilon), legacyRotation(l.RotationEpsilon), l.ScaleEpsilon
}

// Name implements Format.
func (Legacy) Name() string { return "legacy" }

func (Legacy) sealed() {}

// Globals implements Format.
func (p PerAxis) Globals() (float64, float64, float64) {
	return p.Position, p.Rotation, p.Scale
}

// Name implements Format.
func (PerAxis) Name() string { return "per_axis" }

func (PerAxis) sealed() {}

// BoneRule applies to every joint whose name matches Pattern. Overrides are
// in final units and replace the scaled global for their axis.
type BoneRule struct {
	Pattern    string
	Position   AxisMode
	Rotation   AxisMode
	Scale      AxisMode
	Multiplier float64

	PositionOverride *float64
	RotationOverride *float64
	ScaleOverride    *float64
}

// Descriptor is the resolved compression policy for one animation. It is
// not modified after resolution.
type Descriptor struct {
	Skeleton     string
	Additive     bool
	Tags         []string
	SkipDatabase bool
	Format       Format
	Bones        []BoneRule
	Preset       string // name of the applied preset, if any
}

// Lossless returns a copy with zero tolerances and no bone rules, as used for
// pose-reference animations.
func (d *Descriptor) Lossless() *Descriptor {
	cp := *d
	cp.Format = Legacy{}
	cp.Bones = nil
	cp.Preset = ""
	cp.Tags = append([]string(nil), d.Tags...)
	return &cp
}

// HasTag reports whether the descriptor carries tag, ignoring case.
func (d *Descriptor) HasTag(tag string) bool {
	for _, t := range d.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}
