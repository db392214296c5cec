package rebuild

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/papapumpkin/animc/internal/animpath"
	"github.com/papapumpkin/animc/internal/artifact"
	"github.com/papapumpkin/animc/internal/compiler"
	"github.com/papapumpkin/animc/internal/dba"
	"github.com/papapumpkin/animc/internal/skeleton"
)

// collectCompiled gathers metadata for every source animation under the
// source root that has a compiled intermediate. Sources without one (never
// compiled, or failed) are left out, and so are intermediates whose source
// was deleted. Metadata from this session's results is used as is.
func (r *Rebuilder) collectCompiled(results []*compiler.Result, rep *Report) (map[string]*artifact.Metadata, error) {
	known := make(map[string]*artifact.Metadata, len(results))
	for _, res := range results {
		if res != nil && res.Meta != nil {
			known[res.Meta.AnimationPath] = res.Meta
		}
	}
	out := make(map[string]*artifact.Metadata, len(known))
	err := filepath.WalkDir(r.layout.SourceRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrPermission) {
				return nil
			}
			return err
		}
		name := d.Name()
		if d.IsDir() || strings.HasPrefix(name, ".tmp-") || !strings.EqualFold(filepath.Ext(name), animpath.SourceExt) {
			return nil
		}
		animPath, ok := animpath.AnimationPath(p, r.layout.SourceRoot)
		if !ok {
			return nil
		}
		if meta, ok := known[animPath]; ok {
			out[animPath] = meta
			return nil
		}
		meta, err := r.codec.ReadMetadata(r.layout.Intermediate(animPath))
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			rep.warn("", animPath, err)
		default:
			out[animPath] = meta
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("rebuild: scan %s: %w", r.layout.SourceRoot, err)
	}
	return out, nil
}

// writeIndexes splits compiled animations into pose and standard entries and
// writes both index files.
func (r *Rebuilder) writeIndexes(packer *dba.Packer, compiled map[string]*artifact.Metadata, packed map[string]string, rep *Report) error {
	var (
		standard []dba.IndexEntry
		blends   []dba.BlendEntry
	)
	paths := make([]string, 0, len(compiled))
	for p := range compiled {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, animPath := range paths {
		meta := compiled[animPath]
		kind, idx := r.poseKind(animPath, meta, rep)
		if kind != skeleton.PoseNone {
			blends = append(blends, dba.BlendEntry{Path: animPath, Skeleton: meta.Skeleton, Kind: kind.String(), Index: idx})
			continue
		}
		standard = append(standard, dba.IndexEntry{
			Path:        animPath,
			Archive:     packed[animPath],
			Skeleton:    meta.Skeleton,
			Controllers: meta.Controllers,
			Additive:    meta.Additive,
		})
	}
	rep.Animations = len(standard)
	rep.Poses = len(blends)

	var err error
	rep.IndexWritten, err = dba.WriteIfChanged(r.layout.Target(animpath.AnimationsIndex), packer.AnimationIndex(standard))
	if err != nil {
		return fmt.Errorf("rebuild: animation index: %w", err)
	}
	rep.BlendWritten, err = dba.WriteIfChanged(r.layout.Target(animpath.DirectionalBlendIndex), packer.BlendIndex(blends))
	if err != nil {
		return fmt.Errorf("rebuild: blend index: %w", err)
	}
	return nil
}

// poseKind classifies an animation from its skeleton when it loads, falling
// back to the compiled flag and the file-name convention.
func (r *Rebuilder) poseKind(animPath string, meta *artifact.Metadata, rep *Report) (skeleton.PoseKind, int) {
	if r.skeletons != nil {
		if sk, err := r.skeletons.Load(meta.Skeleton); err == nil {
			return sk.PoseKind(animPath)
		}
	}
	rep.warn("", animPath, ErrPoseFallback)
	switch {
	case meta.Pose == skeleton.PoseAim.String():
		return skeleton.PoseAim, meta.PoseIndex
	case meta.Pose == skeleton.PoseLook.String():
		return skeleton.PoseLook, meta.PoseIndex
	case skeleton.IsAimPoseFilename(animPath):
		return skeleton.PoseAim, skeleton.NoJoint
	}
	return skeleton.PoseNone, skeleton.NoJoint
}

// Unused lists archive files under targetRoot that the table does not
// declare, as sorted slash-separated relative paths in their on-disk case.
func Unused(targetRoot string, declared []string) ([]string, error) {
	known := make(map[string]bool, len(declared))
	for _, a := range declared {
		known[animpath.Unified(a)] = true
	}
	var unused []string
	err := filepath.WalkDir(targetRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && p == targetRoot {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(d.Name()), animpath.ArchiveExt) {
			return nil
		}
		rel, ok := animpath.Relative(p, targetRoot)
		if !ok {
			return nil
		}
		if !known[animpath.Unified(rel)] {
			unused = append(unused, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("rebuild: scan archives in %s: %w", targetRoot, err)
	}
	sort.Strings(unused)
	return unused, nil
}
