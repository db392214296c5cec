// Package compiler turns one animation source into its compiled artifact.
// Prepare builds a Job (paths, descriptor, skeleton, archive, staleness) and
// Dispatch either trusts the existing output or recompiles it.
package compiler

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/papapumpkin/animc/internal/animpath"
	"github.com/papapumpkin/animc/internal/artifact"
	"github.com/papapumpkin/animc/internal/compression"
	"github.com/papapumpkin/animc/internal/skeleton"
)

// ErrCompileFailure indicates the backend or the output writes failed for
// one animation.
var ErrCompileFailure = errors.New("compile failure")

// Stage names the step of a job that failed.
type Stage string

// Job stages.
const (
	StagePrepare  Stage = "prepare"
	StageSettings Stage = "settings"
	StageSkeleton Stage = "skeleton"
	StageCompress Stage = "compress"
	StageWrite    Stage = "write"
)

// JobError records a per-animation failure. It never aborts other jobs.
type JobError struct {
	Animation string
	Stage     Stage
	Err       error
}

// Error formats the failure with its animation and stage.
func (e *JobError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Animation, e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *JobError) Unwrap() error {
	return e.Err
}

// SkeletonSource loads skeletons by alias.
type SkeletonSource interface {
	Load(alias string) (*skeleton.Skeleton, error)
}

// ArchiveFinder decides which archive, if any, an animation belongs to.
type ArchiveFinder interface {
	FindArchiveFor(animationPath, skeleton string, tags []string) (string, bool)
}

// Options are the session-wide settings every job shares.
type Options struct {
	Layout         animpath.Layout
	Order          binary.ByteOrder // target byte order of standalone outputs
	ToleranceScale float64
	Refresh        bool
	LocalUpdate    bool   // write .caf directly, no intermediates or archives
	OverridePath   string // global settings file replacing per-animation ones
}

// Compiler prepares and dispatches jobs. It is safe for concurrent use once
// its collaborators are loaded.
type Compiler struct {
	opts      Options
	skeletons SkeletonSource
	resolver  *compression.Resolver
	archives  ArchiveFinder
	backend   Backend
	codec     *artifact.Codec
	plans     *compression.PlanCache
	log       io.Writer

	recompiled atomic.Int64
	fancy      atomic.Int64
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithArchives installs the database table lookup. Without it every
// animation is standalone.
func WithArchives(a ArchiveFinder) Option {
	return func(c *Compiler) { c.archives = a }
}

// WithBackend replaces the default PlanBackend.
func WithBackend(b Backend) Option {
	return func(c *Compiler) { c.backend = b }
}

// WithLogger sets the writer for per-job progress lines.
func WithLogger(w io.Writer) Option {
	return func(c *Compiler) { c.log = w }
}

// WithPlanCache shares a plan cache between compilers.
func WithPlanCache(p *compression.PlanCache) Option {
	return func(c *Compiler) { c.plans = p }
}

// New creates a Compiler.
func New(opts Options, skeletons SkeletonSource, resolver *compression.Resolver, options ...Option) (*Compiler, error) {
	if skeletons == nil || resolver == nil {
		return nil, errors.New("compiler: skeleton source and resolver are required")
	}
	codec, err := artifact.NewCodec()
	if err != nil {
		return nil, err
	}
	if opts.Order == nil {
		opts.Order = binary.LittleEndian
	}
	if opts.ToleranceScale == 0 {
		opts.ToleranceScale = 1
	}
	c := &Compiler{
		opts:      opts,
		skeletons: skeletons,
		resolver:  resolver,
		backend:   &PlanBackend{},
		codec:     codec,
		log:       io.Discard,
	}
	for _, o := range options {
		o(c)
	}
	if c.plans == nil {
		c.plans = compression.NewPlanCache()
	}
	return c, nil
}

// Recompiled returns how many jobs have recompiled so far.
func (c *Compiler) Recompiled() int64 {
	return c.recompiled.Load()
}

// Codec returns the artifact codec used for outputs.
func (c *Compiler) Codec() *artifact.Codec {
	return c.codec
}
