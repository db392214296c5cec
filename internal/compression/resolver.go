package compression

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// Sentinel errors for descriptor resolution. Both are fatal to one
// animation only.
var (
	// ErrNoSettings indicates there is neither a settings file nor a skeleton
	// membership that names the animation's skeleton.
	ErrNoSettings = errors.New("no compression settings")
	// ErrMissingSkeletonAlias indicates a settings file without a skeleton.
	ErrMissingSkeletonAlias = errors.New("settings file has no skeleton alias")
)

// AliasFinder maps an animation back to the skeleton whose membership list
// claims it.
type AliasFinder interface {
	AliasForAnimation(animationPath string) (string, bool)
}

// Request identifies the animation to resolve.
type Request struct {
	AnimationPath string // unified logical path
	SettingsPath  string // per-animation settings file, may not exist
	OverridePath  string // global settings file used instead, if set
}

// Resolver builds descriptors from defaults, the preset table and settings
// files. It is read-only after construction and safe for concurrent use.
type Resolver struct {
	presets *PresetTable
	aliases AliasFinder
	debug   io.Writer
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithPresets installs the preset table. A nil table disables presets.
func WithPresets(t *PresetTable) ResolverOption {
	return func(r *Resolver) { r.presets = t }
}

// WithDebugLog writes one line per preset application to w.
func WithDebugLog(w io.Writer) ResolverOption {
	return func(r *Resolver) { r.debug = w }
}

// NewResolver creates a Resolver. aliases may be nil, in which case a
// missing settings file is always ErrNoSettings.
func NewResolver(aliases AliasFinder, opts ...ResolverOption) *Resolver {
	r := &Resolver{aliases: aliases}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve returns the descriptor for one animation. A matching preset becomes
// the baseline: its legacy globals replace the settings-file globals and its
// joint rules follow the settings-file rules, so explicit rules win under
// first-match.
func (r *Resolver) Resolve(req Request) (*Descriptor, error) {
	settingsPath := req.SettingsPath
	if req.OverridePath != "" {
		settingsPath = req.OverridePath
		if _, err := os.Stat(settingsPath); err != nil {
			return nil, fmt.Errorf("compression: settings override: %v: %w", err, ErrNoSettings)
		}
	}

	found := false
	if settingsPath != "" {
		_, err := os.Stat(settingsPath)
		switch {
		case err == nil:
			found = true
		case !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("compression: %w", err)
		}
	}

	var s *Settings
	if found {
		var err error
		s, err = ReadSettings(settingsPath)
		if err != nil {
			return nil, err
		}
		if s.Skeleton == "" {
			return nil, fmt.Errorf("compression: %s: %w", settingsPath, ErrMissingSkeletonAlias)
		}
	} else {
		alias, ok := r.inferAlias(req.AnimationPath)
		if !ok {
			return nil, fmt.Errorf("compression: %s: %w", req.AnimationPath, ErrNoSettings)
		}
		s = &Settings{Skeleton: alias}
	}

	format, err := s.format()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", settingsPath, err)
	}
	bones, err := s.boneRules()
	if err != nil {
		return nil, fmt.Errorf("compression: %s: %w", settingsPath, err)
	}

	d := &Descriptor{
		Skeleton:     s.Skeleton,
		Additive:     s.Additive,
		Tags:         s.Tags,
		SkipDatabase: s.SkipDatabase,
		Format:       format,
		Bones:        bones,
	}

	if p, ok := r.presets.Match(req.AnimationPath, d.Skeleton, d.Tags); ok {
		d.Format = p.Legacy
		d.Bones = append(append(make([]BoneRule, 0, len(bones)+len(p.Bones)), bones...), p.Bones...)
		d.Preset = p.Name
		if r.debug != nil {
			fmt.Fprintf(r.debug, "preset %q applied to %s (%d joint rules)\n", p.Name, req.AnimationPath, len(p.Bones))
		}
	}
	return d, nil
}

func (r *Resolver) inferAlias(animationPath string) (string, bool) {
	if r.aliases == nil {
		return "", false
	}
	return r.aliases.AliasForAnimation(animationPath)
}
