// Package skeleton loads character joint topologies together with the
// animation membership, pose blend tokens, and IK metadata declared by their
// parameter files.
package skeleton

import (
	"errors"
	"path"
	"strings"

	"github.com/papapumpkin/animc/internal/glob"
)

// Sentinel errors for skeleton loading.
var (
	// ErrMissingSkeleton indicates an alias or character file that cannot be
	// resolved to a loadable skeleton.
	ErrMissingSkeleton = errors.New("missing skeleton")
	// ErrIncludeCycle indicates a parameter file that includes itself,
	// directly or through other files.
	ErrIncludeCycle = errors.New("parameter include cycle")
)

// NoJoint is returned by JointIndex when the name is not part of the skeleton.
const NoJoint = -1

// aimPoseMarker in a file name marks an aim pose regardless of blend tokens.
const aimPoseMarker = "aimposes"

// PoseKind classifies pose-reference animations used for directional blends.
type PoseKind int

const (
	PoseNone PoseKind = iota // Regular clip
	PoseAim                  // Aim directional blend pose
	PoseLook                 // Look directional blend pose
)

// String returns the short label used in logs and artifact metadata.
func (k PoseKind) String() string {
	switch k {
	case PoseAim:
		return "AIM"
	case PoseLook:
		return "LOOK"
	default:
		return ""
	}
}

// Joint is one entry of a skeleton's joint hierarchy.
type Joint struct {
	Name   string
	Parent int
}

// IKLimb describes an IK chain declared in the parameter file.
type IKLimb struct {
	Handle string
	Root   string
	End    string
}

type membership struct {
	matcher  glob.Matcher
	nameOnly bool
}

// Skeleton is an immutable, loaded character definition.
type Skeleton struct {
	Alias      string
	Path       string // absolute character file path
	Joints     []Joint
	AimTokens  []string
	LookTokens []string
	IKLimbs    []IKLimb

	index   map[string]int
	members []membership
}

func newSkeleton(alias, chrPath string, joints []Joint, p *params) *Skeleton {
	s := &Skeleton{
		Alias:  alias,
		Path:   chrPath,
		Joints: joints,
		index:  make(map[string]int, len(joints)),
	}
	for i, j := range joints {
		if _, dup := s.index[j.Name]; !dup {
			s.index[j.Name] = i
		}
	}
	if p != nil {
		s.AimTokens = p.aimTokens
		s.LookTokens = p.lookTokens
		s.IKLimbs = p.ikLimbs
		s.members = p.members
	}
	return s
}

// JointIndex returns the index of the joint with exactly the given name, or
// NoJoint.
func (s *Skeleton) JointIndex(name string) int {
	if i, ok := s.index[name]; ok {
		return i
	}
	return NoJoint
}

// JointNames returns the joint names in hierarchy order.
func (s *Skeleton) JointNames() []string {
	names := make([]string, len(s.Joints))
	for i, j := range s.Joints {
		names[i] = j.Name
	}
	return names
}

// Claims reports whether the skeleton's membership list covers the unified
// animation path.
func (s *Skeleton) Claims(animationPath string) bool {
	base := path.Base(animationPath)
	for _, m := range s.members {
		target := animationPath
		if m.nameOnly {
			target = base
		}
		if m.matcher.Match(target) {
			return true
		}
	}
	return false
}

// PoseKind classifies an animation against the skeleton's blend tokens. The
// returned index is the matching blend, or -1 for the file-name convention.
func (s *Skeleton) PoseKind(animationPath string) (PoseKind, int) {
	lower := strings.ToLower(animationPath)
	for i, tok := range s.AimTokens {
		if tok != "" && strings.Contains(lower, strings.ToLower(tok)) {
			return PoseAim, i
		}
	}
	for i, tok := range s.LookTokens {
		if tok != "" && strings.Contains(lower, strings.ToLower(tok)) {
			return PoseLook, i
		}
	}
	if IsAimPoseFilename(animationPath) {
		return PoseAim, -1
	}
	return PoseNone, -1
}

// IsAimPoseFilename reports whether the file name follows the AimPoses
// naming convention.
func IsAimPoseFilename(animationPath string) bool {
	return strings.Contains(strings.ToLower(path.Base(filepathToSlash(animationPath))), aimPoseMarker)
}

func filepathToSlash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

// MissingIKJoints lists IK limb joints that do not exist in the skeleton.
func (s *Skeleton) MissingIKJoints() []string {
	var missing []string
	for _, limb := range s.IKLimbs {
		for _, name := range []string{limb.Handle, limb.Root, limb.End} {
			if name != "" && s.JointIndex(name) == NoJoint {
				missing = append(missing, name)
			}
		}
	}
	return missing
}
