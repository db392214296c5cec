// Package animpath holds the path conventions shared by the compiler stages:
// logical animation paths, settings and marker files, and the output
// locations under the target root.
package animpath

import (
	"path"
	"path/filepath"
	"strings"
)

// File extensions used by the pipeline.
const (
	SourceExt       = ".i_caf"
	CompiledExt     = ".caf"
	IntermediateExt = ".$caf"
	SettingsExt     = ".animsettings"
	MarkerExt       = ".$animsettings"
	ArchiveExt      = ".dba"
)

// Index file names, relative to the target root.
const (
	AnimationsIndex       = "Animations/Animations.img"
	DirectionalBlendIndex = "Animations/DirectionalBlends.img"
)

// Unified lowercases p and converts it to forward slashes. Logical animation
// and archive identifiers are always unified; on-disk paths keep their case.
func Unified(p string) string {
	return strings.ToLower(filepath.ToSlash(p))
}

// Relative returns p relative to root as a slash-separated path. The second
// result is false when p does not live under root.
func Relative(p, root string) (string, bool) {
	absP, err := filepath.Abs(p)
	if err != nil {
		return "", false
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(absRoot, absP)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// ReplaceExt swaps the extension of p for ext. A path without an extension
// simply gains ext.
func ReplaceExt(p, ext string) string {
	return strings.TrimSuffix(p, filepath.Ext(p)) + ext
}

// AnimationPath derives the logical animation path for a source file: relative
// to the source root, unified, with the compiled extension.
func AnimationPath(sourcePath, sourceRoot string) (string, bool) {
	rel, ok := Relative(sourcePath, sourceRoot)
	if !ok {
		return "", false
	}
	return Unified(ReplaceExt(rel, CompiledExt)), true
}

// SettingsPath returns the human-authored settings file next to a source.
func SettingsPath(sourcePath string) string {
	return ReplaceExt(sourcePath, SettingsExt)
}

// Layout maps logical animation paths onto the target tree.
type Layout struct {
	SourceRoot string
	TargetRoot string
}

// Source returns the on-disk source file for a logical animation path.
func (l Layout) Source(animationPath string) string {
	return filepath.Join(l.SourceRoot, filepath.FromSlash(ReplaceExt(animationPath, SourceExt)))
}

// Destination returns the standalone compiled output for an animation.
func (l Layout) Destination(animationPath string) string {
	return filepath.Join(l.TargetRoot, filepath.FromSlash(animationPath))
}

// Intermediate returns the little-endian intermediate consumed by the
// archive rebuild.
func (l Layout) Intermediate(animationPath string) string {
	return filepath.Join(l.TargetRoot, filepath.FromSlash(ReplaceExt(animationPath, IntermediateExt)))
}

// Marker returns the up-to-date marker recording when the settings file was
// last honored.
func (l Layout) Marker(animationPath string) string {
	return filepath.Join(l.TargetRoot, filepath.FromSlash(ReplaceExt(animationPath, MarkerExt)))
}

// Target resolves a slash-separated path relative to the target root.
func (l Layout) Target(rel string) string {
	return filepath.Join(l.TargetRoot, filepath.FromSlash(rel))
}

// Base returns the file name of a logical path without its extension.
func Base(animationPath string) string {
	b := path.Base(animationPath)
	return strings.TrimSuffix(b, path.Ext(b))
}
