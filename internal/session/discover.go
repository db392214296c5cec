package session

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/papapumpkin/animc/internal/animpath"
	"github.com/papapumpkin/animc/internal/compression"
	"github.com/papapumpkin/animc/internal/config"
	"github.com/papapumpkin/animc/internal/dba"
	"github.com/papapumpkin/animc/internal/dbatable"
	"github.com/papapumpkin/animc/internal/skeleton"
	"github.com/papapumpkin/animc/internal/telemetry"
)

// env holds everything loaded before compilation fans out. It is read-only
// while jobs run.
type env struct {
	layout    animpath.Layout
	platform  config.PlatformConfig
	target    dba.Target
	configDir string
	presets   *compression.PresetTable
	catalog   *skeleton.Catalog
	table     *dbatable.Table
	tableErr  error
}

// init resolves roots and platform, then loads the preset table and the
// skeleton list.
func (s *Session) init() (*env, error) {
	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}
	src, err := filepath.Abs(s.cfg.SourceRoot)
	if err != nil {
		return nil, fmt.Errorf("session: source root: %w", err)
	}
	tgt := src
	if s.cfg.TargetRoot != "" {
		if tgt, err = filepath.Abs(s.cfg.TargetRoot); err != nil {
			return nil, fmt.Errorf("session: target root: %w", err)
		}
	}
	platform, err := s.cfg.ResolvePlatform()
	if err != nil {
		return nil, err
	}
	tag, err := dba.ParseCompressionTag(s.cfg.DBA.PayloadCompression)
	if err != nil {
		return nil, err
	}
	var order binary.ByteOrder = binary.LittleEndian
	if platform.BigEndian {
		order = binary.BigEndian
	}

	e := &env{
		layout:    animpath.Layout{SourceRoot: src, TargetRoot: tgt},
		platform:  platform,
		target:    dba.Target{Order: order, PointerSize: platform.PointerSize, StreamPrepare: s.cfg.DBA.StreamPrepare, Compression: tag},
		configDir: ConfigDir(src, s.cfg.ConfigFolder),
	}

	if !s.cfg.IgnorePresets {
		if e.presets, err = compression.LoadPresets(filepath.Join(e.configDir, compression.PresetFile)); err != nil {
			return nil, err
		}
	}
	entries, err := skeleton.ReadList(filepath.Join(e.configDir, skeleton.ListFile))
	if err != nil {
		return nil, err
	}
	e.catalog = skeleton.NewCatalog(src, entries)
	fmt.Fprintf(s.log, "source %s, target %s, platform %s (%d skeletons)\n", src, tgt, s.cfg.Platform, len(entries))
	return e, nil
}

// ConfigDir returns the config folder for a source root. An absolute folder
// is used as is.
func ConfigDir(sourceRoot, folder string) string {
	if filepath.IsAbs(folder) {
		return folder
	}
	return filepath.Join(sourceRoot, folder)
}

// discover expands the inputs, loads the skeletons they need and the
// database table. It returns the sources to compile, sorted.
func (s *Session) discover(e *env, inputs []string, rep *Report) ([]string, error) {
	if len(inputs) == 0 {
		inputs = []string{e.layout.SourceRoot}
	}
	sources, err := ExpandInputs(inputs)
	if err != nil {
		return nil, err
	}
	sources = s.dropCaseCollisions(e, sources, rep)

	aliases, missing := s.peekAliases(sources)
	var loadErr error
	if missing || len(sources) >= s.cfg.PreloadThreshold {
		loadErr = e.catalog.PreloadAll()
	} else {
		loadErr = e.catalog.Preload(aliases)
	}
	if loadErr != nil {
		// Jobs of unloadable skeletons fail on their own.
		fmt.Fprintf(s.log, "skeleton preload: %v\n", loadErr)
	}

	if s.cfg.SkipDBA {
		return sources, nil
	}
	path, err := dbatable.Locate(e.configDir)
	if err != nil {
		e.tableErr = err
		fmt.Fprintf(s.log, "%v\n", err)
		return sources, nil
	}
	anims, err := s.scanAnimations(e)
	if err != nil {
		return nil, err
	}
	table, warnings, err := dbatable.Load(path, anims)
	if err != nil {
		e.tableErr = err
		fmt.Fprintf(s.log, "%v\n", err)
		return sources, nil
	}
	e.table = table
	rep.TableWarnings = warnings
	for _, w := range warnings {
		fmt.Fprintf(s.log, "dba table: %s\n", w)
	}
	return sources, nil
}

// dropCaseCollisions fails every source whose logical path another source
// also maps to. Outputs are named by the lowercased logical path, so such
// sources would overwrite each other.
func (s *Session) dropCaseCollisions(e *env, sources []string, rep *Report) []string {
	byPath := make(map[string][]string, len(sources))
	for _, src := range sources {
		if animPath, ok := animpath.AnimationPath(src, e.layout.SourceRoot); ok {
			byPath[animPath] = append(byPath[animPath], src)
		}
	}
	kept := sources[:0:0]
	for _, src := range sources {
		animPath, ok := animpath.AnimationPath(src, e.layout.SourceRoot)
		group := byPath[animPath]
		if !ok || len(group) < 2 {
			kept = append(kept, src)
			continue
		}
		err := fmt.Errorf("session: %s: %w: %s", animPath, ErrCaseCollision, strings.Join(group, ", "))
		fmt.Fprintf(s.log, "FAILED %s: %v\n", animPath, err)
		s.emit(telemetry.KindJobFailed, animPath, map[string]string{"error": err.Error()})
		rep.Failed = append(rep.Failed, Failure{Source: src, Animation: animPath, Err: err})
	}
	return kept
}

// peekAliases reads the skeleton alias of every source's settings. missing
// reports a source without usable settings.
func (s *Session) peekAliases(sources []string) (aliases []string, missing bool) {
	if s.cfg.AnimSettingsFile != "" {
		alias, err := compression.PeekSettings(s.cfg.AnimSettingsFile)
		if err != nil || alias == "" {
			return nil, true
		}
		return []string{alias}, false
	}
	seen := make(map[string]bool)
	for _, src := range sources {
		alias, err := compression.PeekSettings(animpath.SettingsPath(src))
		if err != nil || alias == "" {
			missing = true
			continue
		}
		if !seen[alias] {
			seen[alias] = true
			aliases = append(aliases, alias)
		}
	}
	return aliases, missing
}

// scanAnimations lists every animation of the source tree with the skeleton
// and tags filter-based table membership needs. The table always sees the
// whole tree so archives keep their members when only a few inputs compile.
func (s *Session) scanAnimations(e *env) ([]dbatable.Animation, error) {
	sources, err := ExpandInputs([]string{e.layout.SourceRoot})
	if err != nil {
		return nil, err
	}
	out := make([]dbatable.Animation, 0, len(sources))
	for _, src := range sources {
		animPath, ok := animpath.AnimationPath(src, e.layout.SourceRoot)
		if !ok {
			continue
		}
		a := dbatable.Animation{Path: animPath}
		settingsPath := animpath.SettingsPath(src)
		if s.cfg.AnimSettingsFile != "" {
			settingsPath = s.cfg.AnimSettingsFile
		}
		if st, err := compression.ReadSettings(settingsPath); err == nil {
			a.Skeleton, a.Tags = st.Skeleton, st.Tags
		}
		if a.Skeleton == "" {
			a.Skeleton, _ = e.catalog.AliasForAnimation(animPath)
		}
		out = append(out, a)
	}
	return out, nil
}

// ExpandInputs resolves files and directories into absolute animation
// source paths, sorted and without duplicates. Directories are walked for
// source files.
func ExpandInputs(inputs []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, in := range inputs {
		abs, err := filepath.Abs(in)
		if err != nil {
			return nil, fmt.Errorf("session: input %s: %w", in, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("session: input %s: %w", in, err)
		}
		if !info.IsDir() {
			if !isSource(abs) {
				return nil, fmt.Errorf("session: input %s: not a %s file", in, animpath.SourceExt)
			}
			add(abs)
			continue
		}
		err = filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrPermission) {
					return nil
				}
				return err
			}
			if !d.IsDir() && isSource(p) {
				add(p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("session: walk %s: %w", in, err)
		}
	}
	sort.Strings(out)
	return out, nil
}

func isSource(p string) bool {
	base := filepath.Base(p)
	return !strings.HasPrefix(base, ".tmp-") && strings.EqualFold(filepath.Ext(base), animpath.SourceExt)
}
