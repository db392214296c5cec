package compiler

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/papapumpkin/animc/internal/animpath"
	"github.com/papapumpkin/animc/internal/compression"
	"github.com/papapumpkin/animc/internal/skeleton"
)

// Job is one animation to compile. It is created by Prepare and consumed
// once by Dispatch.
type Job struct {
	SourcePath    string
	SettingsPath  string
	AnimationPath string // unified logical path with the compiled extension
	Destination   string
	Intermediate  string
	Marker        string

	Descriptor *compression.Descriptor
	Skeleton   *skeleton.Skeleton
	Pose       skeleton.PoseKind
	PoseIndex  int
	Archive    string // target archive id, empty when standalone
	Order      binary.ByteOrder

	WriteIntermediate bool
	WriteDestination  bool
	Stale             bool
	StaleReason       string

	sourceTime time.Time
	sourceSize int64
}

// IsPose reports whether the job compiles a pose-reference animation.
func (j *Job) IsPose() bool {
	return j.Pose != skeleton.PoseNone
}

// primaryOutput is the file whose metadata represents the compiled state.
func (j *Job) primaryOutput() string {
	if j.WriteIntermediate {
		return j.Intermediate
	}
	return j.Destination
}

// markStale records the first reason a job must recompile. Staleness is
// sticky: later checks never clear it.
func (j *Job) markStale(reason string) {
	if j.Stale {
		return
	}
	j.Stale = true
	j.StaleReason = reason
}

// Prepare resolves everything a job needs before dispatch. Failures are
// returned as *JobError.
func (c *Compiler) Prepare(sourcePath string) (*Job, error) {
	animPath, ok := animpath.AnimationPath(sourcePath, c.opts.Layout.SourceRoot)
	if !ok {
		return nil, &JobError{Animation: sourcePath, Stage: StagePrepare,
			Err: fmt.Errorf("source is outside %s: %w", c.opts.Layout.SourceRoot, ErrCompileFailure)}
	}
	info, err := os.Stat(sourcePath)
	if err != nil {
		return nil, &JobError{Animation: animPath, Stage: StagePrepare, Err: err}
	}

	j := &Job{
		SourcePath:    sourcePath,
		SettingsPath:  animpath.SettingsPath(sourcePath),
		AnimationPath: animPath,
		Destination:   c.opts.Layout.Destination(animPath),
		Intermediate:  c.opts.Layout.Intermediate(animPath),
		Marker:        c.opts.Layout.Marker(animPath),
		Order:         c.opts.Order,
		PoseIndex:     skeleton.NoJoint,
		sourceTime:    info.ModTime(),
		sourceSize:    info.Size(),
	}

	desc, err := c.resolver.Resolve(compression.Request{
		AnimationPath: animPath,
		SettingsPath:  j.SettingsPath,
		OverridePath:  c.opts.OverridePath,
	})
	if err != nil {
		return nil, &JobError{Animation: animPath, Stage: StageSettings, Err: err}
	}
	sk, err := c.skeletons.Load(desc.Skeleton)
	if err != nil {
		return nil, &JobError{Animation: animPath, Stage: StageSkeleton, Err: err}
	}
	j.Skeleton = sk
	j.Pose, j.PoseIndex = sk.PoseKind(animPath)
	if j.IsPose() {
		desc = desc.Lossless()
	}
	j.Descriptor = desc

	if !j.IsPose() && !c.opts.LocalUpdate && !desc.SkipDatabase && c.archives != nil {
		if id, ok := c.archives.FindArchiveFor(animPath, desc.Skeleton, desc.Tags); ok {
			j.Archive = id
		}
	}

	if c.opts.LocalUpdate {
		j.WriteDestination = true
	} else {
		j.WriteIntermediate = true
		j.WriteDestination = j.Archive == ""
	}

	if err := c.checkStale(j); err != nil {
		return nil, &JobError{Animation: animPath, Stage: StagePrepare, Err: err}
	}
	return j, nil
}

// checkStale applies the staleness rules in order.
func (c *Compiler) checkStale(j *Job) error {
	if c.opts.Refresh {
		j.markStale("refresh requested")
	}
	if j.IsPose() {
		j.markStale("pose animation")
	}
	if j.WriteIntermediate {
		if err := c.checkOutput(j, j.Intermediate); err != nil {
			return err
		}
	}
	if j.WriteDestination {
		if err := c.checkOutput(j, j.Destination); err != nil {
			return err
		}
	}

	settings, err := statOptional(j.SettingsPath)
	if err != nil {
		return err
	}
	marker, err := statOptional(j.Marker)
	if err != nil {
		return err
	}
	switch {
	case settings != nil && marker == nil:
		j.markStale("settings marker missing")
	case settings != nil && !settings.ModTime().Equal(marker.ModTime()):
		j.markStale("settings changed")
	case settings == nil && marker != nil:
		j.markStale("settings removed")
	}
	return nil
}

func (c *Compiler) checkOutput(j *Job, path string) error {
	info, err := statOptional(path)
	if err != nil {
		return err
	}
	switch {
	case info == nil:
		j.markStale("output missing: " + path)
	case !info.ModTime().Equal(j.sourceTime):
		j.markStale("source changed: " + path)
	}
	return nil
}

// statOptional returns nil info for a missing file.
func statOptional(path string) (os.FileInfo, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return info, nil
}
