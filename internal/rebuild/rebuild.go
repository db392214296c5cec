// Package rebuild packs compiled animations into their database archives and
// regenerates the global animation and directional-blend indexes. It runs
// once, single-threaded, after every compile job has finished.
package rebuild

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/papapumpkin/animc/internal/animpath"
	"github.com/papapumpkin/animc/internal/artifact"
	"github.com/papapumpkin/animc/internal/compiler"
	"github.com/papapumpkin/animc/internal/dba"
	"github.com/papapumpkin/animc/internal/dbatable"
	"github.com/papapumpkin/animc/internal/skeleton"
)

// Warning causes. None of them abort the rebuild.
var (
	// ErrArchiveMemberMissing indicates a listed member has no readable
	// compiled intermediate.
	ErrArchiveMemberMissing = errors.New("archive member missing")
	// ErrEmptyArchive indicates an archive with no packable members.
	ErrEmptyArchive = errors.New("archive has no members")
	// ErrArchiveSkew indicates the compiled metadata names another archive
	// than the table.
	ErrArchiveSkew = errors.New("compiled archive differs from table")
	// ErrPoseInArchive indicates a pose-reference animation listed as an
	// archive member.
	ErrPoseInArchive = errors.New("pose animation cannot be archived")
	// ErrPoseFallback indicates the pose category came from the compiled
	// metadata because the skeleton could not be loaded.
	ErrPoseFallback = errors.New("skeleton unavailable, pose category from compiled data")
)

// Warning is one non-fatal rebuild problem.
type Warning struct {
	Archive   string
	Animation string
	Err       error
}

// String formats the warning for logs.
func (w Warning) String() string {
	switch {
	case w.Archive == "":
		return fmt.Sprintf("%s: %v", w.Animation, w.Err)
	case w.Animation == "":
		return fmt.Sprintf("%s: %v", w.Archive, w.Err)
	default:
		return fmt.Sprintf("%s: %s: %v", w.Archive, w.Animation, w.Err)
	}
}

// ArchiveReport summarizes one packed archive.
type ArchiveReport struct {
	Archive  string
	Members  int // packed members
	InBytes  int64
	OutBytes int64
	Written  bool // false when empty or byte-identical to the file on disk
}

// Report is the rebuild summary.
type Report struct {
	Archives     []ArchiveReport
	Animations   int // entries in the animation index
	Poses        int // entries in the directional-blend index
	IndexWritten bool
	BlendWritten bool
	Unused       []string
	Warnings     []Warning
}

func (r *Report) warn(archive, animation string, err error) {
	r.Warnings = append(r.Warnings, Warning{Archive: archive, Animation: animation, Err: err})
}

// SkeletonSource loads skeletons for pose classification.
type SkeletonSource interface {
	Load(alias string) (*skeleton.Skeleton, error)
}

// Rebuilder regenerates archives and indexes for one target.
type Rebuilder struct {
	layout    animpath.Layout
	target    dba.Target
	table     *dbatable.Table
	skeletons SkeletonSource
	codec     *artifact.Codec
	log       io.Writer
}

// Option configures a Rebuilder.
type Option func(*Rebuilder)

// WithLogger sets the writer for per-archive size lines.
func WithLogger(w io.Writer) Option {
	return func(r *Rebuilder) { r.log = w }
}

// WithCodec shares an artifact codec.
func WithCodec(c *artifact.Codec) Option {
	return func(r *Rebuilder) { r.codec = c }
}

// New creates a Rebuilder. A nil table is reported by Rebuild as
// dbatable.ErrMissingTable.
func New(layout animpath.Layout, target dba.Target, table *dbatable.Table, skeletons SkeletonSource, opts ...Option) (*Rebuilder, error) {
	r := &Rebuilder{
		layout:    layout,
		target:    target,
		table:     table,
		skeletons: skeletons,
		log:       io.Discard,
	}
	for _, o := range opts {
		o(r)
	}
	if r.codec == nil {
		c, err := artifact.NewCodec()
		if err != nil {
			return nil, err
		}
		r.codec = c
	}
	return r, nil
}

// Rebuild runs the archive pass in table order, then the index pass over
// every compiled animation of the source tree, then lists unused
// archives. results carry metadata already known from this session.
func (r *Rebuilder) Rebuild(ctx context.Context, results []*compiler.Result) (*Report, error) {
	if r.table == nil {
		return nil, fmt.Errorf("rebuild: %w", dbatable.ErrMissingTable)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	packer, err := dba.NewPacker(r.target)
	if err != nil {
		return nil, err
	}
	defer packer.Close()

	rep := &Report{}
	packed, err := r.packArchives(packer, rep)
	if err != nil {
		return rep, err
	}

	compiled, err := r.collectCompiled(results, rep)
	if err != nil {
		return rep, err
	}
	if err := r.writeIndexes(packer, compiled, packed, rep); err != nil {
		return rep, err
	}

	rep.Unused, err = Unused(r.layout.TargetRoot, r.table.Archives())
	if err != nil {
		return rep, err
	}
	return rep, nil
}
