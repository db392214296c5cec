package compression

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/papapumpkin/animc/internal/glob"
)

// PresetFile is the preset table file name inside the config folder.
const PresetFile = "CompressionPresets.json"

// Joint states understood by preset entries.
const (
	stateForceKeep   = "force_keep"
	stateForceDelete = "force_delete"
	stateAuto        = "auto"
)

type presetFile struct {
	Entries []presetEntry `json:"entries"`
}

type presetEntry struct {
	Name   string `json:"name"`
	Filter struct {
		Path     string   `json:"path"`
		Tags     []string `json:"tags"`
		Skeleton string   `json:"skeleton"`
	} `json:"filter"`
	Settings struct {
		Compression     *int     `json:"compression"`
		PositionEpsilon *float64 `json:"position_epsilon"`
		RotationEpsilon *float64 `json:"rotation_epsilon"`
		ScaleEpsilon    *float64 `json:"scale_epsilon"`
		Joints          []struct {
			Name     string   `json:"name"`
			State    string   `json:"state"`
			Multiply *float64 `json:"multiply"`
		} `json:"joints"`
	} `json:"settings"`
}

// Preset is one compiled entry of the preset table.
type Preset struct {
	Name   string
	Legacy Legacy
	Bones  []BoneRule

	path     glob.Matcher
	hasPath  bool
	tags     []string
	skeleton string
}

// PresetTable is the ordered preset list. The first matching entry wins.
type PresetTable struct {
	presets []Preset
}

// LoadPresets reads a preset table. A missing file yields (nil, nil): the
// absence of a table only disables presets.
func LoadPresets(path string) (*PresetTable, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("compression: read presets %s: %w", path, err)
	}
	return ParsePresets(data)
}

// ParsePresets parses preset table content. Comments and trailing commas are
// accepted.
func ParsePresets(data []byte) (*PresetTable, error) {
	var pf presetFile
	if err := json.Unmarshal(jsonc.ToJSON(data), &pf); err != nil {
		return nil, fmt.Errorf("compression: parse presets: %w", err)
	}
	t := &PresetTable{presets: make([]Preset, 0, len(pf.Entries))}
	for i, e := range pf.Entries {
		p, err := compilePreset(e)
		if err != nil {
			return nil, fmt.Errorf("compression: preset %d (%s): %w", i, e.Name, err)
		}
		t.presets = append(t.presets, p)
	}
	return t, nil
}

func compilePreset(e presetEntry) (Preset, error) {
	p := Preset{
		Name:     e.Name,
		Legacy:   DefaultLegacy(),
		tags:     e.Filter.Tags,
		skeleton: strings.TrimSpace(e.Filter.Skeleton),
	}
	if e.Filter.Path != "" {
		m, err := glob.Path(e.Filter.Path)
		if err != nil {
			return Preset{}, err
		}
		p.path, p.hasPath = m, true
	}

	s := e.Settings
	if s.Compression != nil {
		p.Legacy.Quality = *s.Compression
	}
	if s.PositionEpsilon != nil {
		p.Legacy.PositionEpsilon = *s.PositionEpsilon
	}
	if s.RotationEpsilon != nil {
		p.Legacy.RotationEpsilon = *s.RotationEpsilon
	}
	if s.ScaleEpsilon != nil {
		p.Legacy.ScaleEpsilon = *s.ScaleEpsilon
	}

	for _, j := range s.Joints {
		if j.Name == "" {
			return Preset{}, errors.New("joint with empty name")
		}
		r := BoneRule{Pattern: j.Name, Multiplier: 1}
		if j.Multiply != nil {
			r.Multiplier = *j.Multiply
		}
		switch strings.ToLower(j.State) {
		case stateForceKeep:
			r.Position, r.Rotation, r.Scale = AxisKeep, AxisKeep, AxisKeep
		case stateForceDelete:
			r.Position, r.Rotation, r.Scale = AxisDelete, AxisDelete, AxisDelete
		case stateAuto, "":
		default:
			return Preset{}, fmt.Errorf("joint %q: unknown state %q", j.Name, j.State)
		}
		p.Bones = append(p.Bones, r)
	}
	return p, nil
}

// Len returns the number of presets.
func (t *PresetTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.presets)
}

// Match returns the first preset whose filter accepts the animation. A nil
// table matches nothing.
func (t *PresetTable) Match(animationPath, skeleton string, tags []string) (*Preset, bool) {
	if t == nil {
		return nil, false
	}
	for i := range t.presets {
		p := &t.presets[i]
		if p.matches(animationPath, skeleton, tags) {
			return p, true
		}
	}
	return nil, false
}

func (p *Preset) matches(animationPath, skeleton string, tags []string) bool {
	if p.hasPath && !p.path.Match(animationPath) {
		return false
	}
	if p.skeleton != "" && !strings.EqualFold(p.skeleton, skeleton) {
		return false
	}
	return containsAllFold(tags, p.tags)
}

// containsAllFold reports whether every required tag is present in have.
func containsAllFold(have, required []string) bool {
	for _, r := range required {
		found := false
		for _, h := range have {
			if strings.EqualFold(h, r) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
