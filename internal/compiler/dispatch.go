package compiler

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/papapumpkin/animc/internal/artifact"
)

// Result is the outcome of a dispatched job.
type Result struct {
	Job        *Job
	Meta       *artifact.Metadata
	Recompiled bool
	Elapsed    time.Duration
}

// Dispatch completes a job: an up-to-date job only loads the metadata of its
// existing output, anything else is recompiled. Failures are *JobError.
func (c *Compiler) Dispatch(ctx context.Context, j *Job) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, &JobError{Animation: j.AnimationPath, Stage: StagePrepare, Err: err}
	}
	start := time.Now()

	if !j.Stale {
		meta, err := c.codec.ReadMetadata(j.primaryOutput())
		switch {
		case err != nil:
			fmt.Fprintf(c.log, "failed to load compressed %s (%v), recompiling\n", j.AnimationPath, err)
			j.markStale("failed to load compressed")
		case meta.Archive != j.Archive:
			j.markStale("archive assignment changed")
		default:
			return &Result{Job: j, Meta: meta, Elapsed: time.Since(start)}, nil
		}
	}

	meta, err := c.compile(ctx, j)
	if err != nil {
		return nil, err
	}
	c.recompiled.Add(1)
	elapsed := time.Since(start)
	c.logProgress(j, meta, elapsed)
	return &Result{Job: j, Meta: meta, Recompiled: true, Elapsed: elapsed}, nil
}

func (c *Compiler) compile(ctx context.Context, j *Job) (*artifact.Metadata, error) {
	plan, err := c.plans.Plan(j.Skeleton.Alias, j.Skeleton.JointNames(), j.Descriptor, c.opts.ToleranceScale)
	if err != nil {
		return nil, &JobError{Animation: j.AnimationPath, Stage: StageCompress, Err: fmt.Errorf("%v: %w", err, ErrCompileFailure)}
	}
	src, err := os.ReadFile(j.SourcePath)
	if err != nil {
		return nil, &JobError{Animation: j.AnimationPath, Stage: StageCompress, Err: fmt.Errorf("%v: %w", err, ErrCompileFailure)}
	}
	out, err := c.backend.Compress(ctx, &Input{
		AnimationPath: j.AnimationPath,
		Source:        src,
		Descriptor:    j.Descriptor,
		Plan:          plan,
	})
	if err != nil {
		if !errors.Is(err, ErrCompileFailure) {
			err = fmt.Errorf("%v: %w", err, ErrCompileFailure)
		}
		return nil, &JobError{Animation: j.AnimationPath, Stage: StageCompress, Err: err}
	}

	a := &artifact.Artifact{
		Meta: artifact.Metadata{
			AnimationPath: j.AnimationPath,
			Archive:       j.Archive,
			Skeleton:      j.Descriptor.Skeleton,
			Pose:          j.Pose.String(),
			PoseIndex:     j.PoseIndex,
			Additive:      j.Descriptor.Additive,
			Controllers:   out.Controllers,
			Format:        j.Descriptor.Format.Name(),
			Preset:        j.Descriptor.Preset,
			SourceSize:    j.sourceSize,
			Tolerances:    out.Tolerances,
		},
		Payload: out.Payload,
	}

	if j.WriteIntermediate {
		if err := c.codec.WriteFile(j.Intermediate, a, binary.LittleEndian, j.sourceTime); err != nil {
			return nil, &JobError{Animation: j.AnimationPath, Stage: StageWrite, Err: fmt.Errorf("%v: %w", err, ErrCompileFailure)}
		}
	}
	if j.WriteDestination {
		if err := c.codec.WriteFile(j.Destination, a, j.Order, j.sourceTime); err != nil {
			return nil, &JobError{Animation: j.AnimationPath, Stage: StageWrite, Err: fmt.Errorf("%v: %w", err, ErrCompileFailure)}
		}
	}
	if err := c.stampMarker(j); err != nil {
		return nil, &JobError{Animation: j.AnimationPath, Stage: StageWrite, Err: err}
	}
	return &a.Meta, nil
}

// stampMarker ties the marker to the settings file it honored, or removes a
// marker whose settings file is gone.
func (c *Compiler) stampMarker(j *Job) error {
	settings, err := statOptional(j.SettingsPath)
	if err != nil {
		return err
	}
	if settings == nil {
		if err := os.Remove(j.Marker); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("compiler: remove marker %s: %w", j.Marker, err)
		}
		return nil
	}
	return artifact.WriteStamped(j.Marker, nil, settings.ModTime())
}

func (c *Compiler) logProgress(j *Job, meta *artifact.Metadata, elapsed time.Duration) {
	n := c.fancy.Add(1)
	fmt.Fprintf(c.log, "CAF-%04d in %.1f sec %-4s ctrls:%03d %s %s\n",
		n, elapsed.Seconds(), meta.Pose, meta.Controllers, j.AnimationPath, j.Archive)
}
