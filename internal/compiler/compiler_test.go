package compiler

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/papapumpkin/animc/internal/animpath"
	"github.com/papapumpkin/animc/internal/artifact"
	"github.com/papapumpkin/animc/internal/compression"
	"github.com/papapumpkin/animc/internal/dbatable"
	"github.com/papapumpkin/animc/internal/skeleton"
)

var sourceTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

const heroChr = `joints:
  - name: Bip01
  - name: Bip01 Pelvis
    parent: 0
  - name: L_Hand
    parent: 1
  - name: L_Hand_Weapon
    parent: 2
`

const heroParams = `
[[animation]]
name = "#filepath"
path = "animations/hero"

[[animation]]
name = "*"
path = "run_*.caf"

[[aim_blend]]
token = "aim_"
`

const tableJSON = `{
  "databases": [
    {"path": "animations/hero/movement", "filters": [{"path": "animations/hero/run_*.caf", "skeleton": "hero"}]},
    {"path": "animations/hero/everything", "filters": [{"path": "animations/hero/**"}]}
  ]
}`

type fixture struct {
	source  string
	target  string
	catalog *skeleton.Catalog
	table   *dbatable.Table
}

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func stamp(t *testing.T, p string, when time.Time) {
	t.Helper()
	if err := os.Chtimes(p, when, when); err != nil {
		t.Fatal(err)
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{source: t.TempDir(), target: t.TempDir()}
	writeFile(t, f.source, "objects/hero/hero.chr", heroChr)
	writeFile(t, f.source, "objects/hero/hero.chrparams", heroParams)
	f.catalog = skeleton.NewCatalog(f.source, []skeleton.ListEntry{{Alias: "hero", Path: "objects/hero/hero.chr"}})
	if err := f.catalog.PreloadAll(); err != nil {
		t.Fatalf("PreloadAll: %v", err)
	}
	tb, _, err := dbatable.Parse([]byte(tableJSON), nil)
	if err != nil {
		t.Fatalf("dbatable.Parse: %v", err)
	}
	f.table = tb
	return f
}

// addAnimation writes a source and, when settings is non-empty, its settings
// file. Both get fixed timestamps.
func (f *fixture) addAnimation(t *testing.T, rel, settings string) string {
	t.Helper()
	src := writeFile(t, f.source, rel, "tracks:"+rel)
	stamp(t, src, sourceTime)
	if settings != "" {
		sp := writeFile(t, f.source, animpath.ReplaceExt(rel, animpath.SettingsExt), settings)
		stamp(t, sp, sourceTime.Add(-time.Hour))
	}
	return src
}

func (f *fixture) compiler(t *testing.T, mutate func(*Options)) *Compiler {
	t.Helper()
	opts := Options{
		Layout: animpath.Layout{SourceRoot: f.source, TargetRoot: f.target},
		Order:  binary.LittleEndian,
	}
	if mutate != nil {
		mutate(&opts)
	}
	c, err := New(opts, f.catalog, compression.NewResolver(f.catalog), WithArchives(f.table), WithLogger(io.Discard))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func run(t *testing.T, c *Compiler, src string) *Result {
	t.Helper()
	j, err := c.Prepare(src)
	if err != nil {
		t.Fatalf("Prepare(%s): %v", src, err)
	}
	r, err := c.Dispatch(context.Background(), j)
	if err != nil {
		t.Fatalf("Dispatch(%s): %v", src, err)
	}
	return r
}

func mtime(t *testing.T, p string) time.Time {
	t.Helper()
	info, err := os.Stat(p)
	if err != nil {
		t.Fatalf("stat %s: %v", p, err)
	}
	return info.ModTime()
}

func TestCompile_ArchivedAnimation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	src := f.addAnimation(t, "animations/hero/run_forward.i_caf", `skeleton = "hero"`)
	c := f.compiler(t, nil)

	j, err := c.Prepare(src)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if j.AnimationPath != "animations/hero/run_forward.caf" {
		t.Errorf("AnimationPath = %q", j.AnimationPath)
	}
	if j.Archive != "animations/hero/movement.dba" {
		t.Errorf("Archive = %q, want movement.dba", j.Archive)
	}
	if !j.WriteIntermediate || j.WriteDestination {
		t.Errorf("write flags = %v/%v, want intermediate only", j.WriteIntermediate, j.WriteDestination)
	}
	if !j.Stale {
		t.Fatal("fresh job not stale")
	}

	r, err := c.Dispatch(context.Background(), j)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !r.Recompiled || c.Recompiled() != 1 {
		t.Errorf("Recompiled = %v, counter = %d", r.Recompiled, c.Recompiled())
	}
	if r.Meta.Archive != j.Archive || r.Meta.Controllers != 4 || r.Meta.Skeleton != "hero" {
		t.Errorf("meta = %+v", r.Meta)
	}
	if !mtime(t, j.Intermediate).Equal(sourceTime) {
		t.Error("intermediate not stamped with source mtime")
	}
	if _, err := os.Stat(j.Destination); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("archived animation wrote a standalone destination: %v", err)
	}
	if !mtime(t, j.Marker).Equal(mtime(t, j.SettingsPath)) {
		t.Error("marker not stamped with settings mtime")
	}
}

func TestCompile_UpToDateIsSkipped(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	src := f.addAnimation(t, "animations/hero/run_forward.i_caf", `skeleton = "hero"`)
	c := f.compiler(t, nil)
	run(t, c, src)

	r := run(t, c, src)
	if r.Recompiled || r.Job.Stale {
		t.Errorf("second run recompiled (reason %q)", r.Job.StaleReason)
	}
	if c.Recompiled() != 1 {
		t.Errorf("counter = %d, want 1", c.Recompiled())
	}
	if r.Meta.Archive != "animations/hero/movement.dba" {
		t.Errorf("metadata not loaded from the existing output: %+v", r.Meta)
	}
}

func TestCompile_StalenessRules(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(t *testing.T, f *fixture, src string)
		reason string
	}{
		{
			name: "settings touched",
			mutate: func(t *testing.T, f *fixture, src string) {
				stamp(t, animpath.SettingsPath(src), sourceTime.Add(time.Hour))
			},
			reason: "settings changed",
		},
		{
			name: "settings removed",
			mutate: func(t *testing.T, f *fixture, src string) {
				if err := os.Remove(animpath.SettingsPath(src)); err != nil {
					t.Fatal(err)
				}
			},
			reason: "settings removed",
		},
		{
			name: "source touched",
			mutate: func(t *testing.T, f *fixture, src string) {
				stamp(t, src, sourceTime.Add(time.Minute))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			src := f.addAnimation(t, "animations/hero/run_forward.i_caf", `skeleton = "hero"`)
			c := f.compiler(t, nil)
			run(t, c, src)

			tt.mutate(t, f, src)
			j, err := c.Prepare(src)
			if err != nil {
				t.Fatalf("Prepare: %v", err)
			}
			if !j.Stale {
				t.Fatal("job not stale after change")
			}
			if tt.reason != "" && j.StaleReason != tt.reason {
				t.Errorf("StaleReason = %q, want %q", j.StaleReason, tt.reason)
			}
			if _, err := c.Dispatch(context.Background(), j); err != nil {
				t.Fatalf("Dispatch: %v", err)
			}
			again, err := c.Prepare(src)
			if err != nil {
				t.Fatalf("Prepare: %v", err)
			}
			if again.Stale {
				t.Errorf("still stale after recompiling: %q", again.StaleReason)
			}
		})
	}
}

func TestCompile_PoseIsStandaloneLosslessAndAlwaysStale(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	src := f.addAnimation(t, "animations/hero/aim_up.i_caf", "skeleton = \"hero\"\n[legacy]\nquality = 30\n")
	c := f.compiler(t, nil)

	r := run(t, c, src)
	if r.Job.Pose != skeleton.PoseAim || r.Meta.Pose != "AIM" {
		t.Errorf("pose = %v / %q", r.Job.Pose, r.Meta.Pose)
	}
	if r.Job.Archive != "" || r.Meta.Archive != "" {
		t.Errorf("pose archived into %q", r.Job.Archive)
	}
	if !r.Job.WriteDestination {
		t.Error("pose has no standalone destination")
	}
	if r.Job.Descriptor.Format != (compression.Legacy{}) {
		t.Errorf("pose format = %#v, want lossless", r.Job.Descriptor.Format)
	}
	for _, tol := range r.Meta.Tolerances {
		if tol.Position != 0 || tol.Rotation != 0 {
			t.Errorf("pose joint %s tolerance = %+v", tol.Joint, tol)
		}
	}

	again, err := c.Prepare(src)
	if err != nil {
		t.Fatal(err)
	}
	if !again.Stale {
		t.Error("pose animation considered up to date")
	}
}

func TestCompile_LocalUpdateWritesTargetOrderDirectly(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	src := f.addAnimation(t, "animations/hero/run_forward.i_caf", `skeleton = "hero"`)
	c := f.compiler(t, func(o *Options) {
		o.LocalUpdate = true
		o.Order = binary.BigEndian
	})

	r := run(t, c, src)
	if r.Job.Archive != "" || r.Job.WriteIntermediate {
		t.Errorf("local update job = archive %q, intermediate %v", r.Job.Archive, r.Job.WriteIntermediate)
	}
	if _, err := os.Stat(r.Job.Intermediate); !errors.Is(err, os.ErrNotExist) {
		t.Error("local update wrote an intermediate")
	}
	data, err := os.ReadFile(r.Job.Destination)
	if err != nil {
		t.Fatal(err)
	}
	if data[4] != artifact.BigEndian {
		t.Errorf("endian marker = %d, want big-endian", data[4])
	}
}

func TestCompile_UnreadableOutputRecompiles(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	src := f.addAnimation(t, "animations/hero/run_forward.i_caf", `skeleton = "hero"`)
	c := f.compiler(t, nil)
	first := run(t, c, src)

	if err := os.WriteFile(first.Job.Intermediate, []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	stamp(t, first.Job.Intermediate, sourceTime)

	r := run(t, c, src)
	if !r.Recompiled || r.Job.StaleReason != "failed to load compressed" {
		t.Errorf("Recompiled = %v, reason %q", r.Recompiled, r.Job.StaleReason)
	}
	if _, err := c.Codec().ReadFile(r.Job.Intermediate); err != nil {
		t.Errorf("intermediate still unreadable: %v", err)
	}
}

func TestPrepare_Errors(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ghost := f.addAnimation(t, "animations/ghost/float.i_caf", `skeleton = "ghost"`)
	orphan := f.addAnimation(t, "animations/misc/wave.i_caf", "")
	noAlias := f.addAnimation(t, "animations/misc/blank.i_caf", "additive = true")
	c := f.compiler(t, nil)

	tests := []struct {
		name  string
		src   string
		stage Stage
		want  error
	}{
		{"missing skeleton", ghost, StageSkeleton, skeleton.ErrMissingSkeleton},
		{"no settings", orphan, StageSettings, compression.ErrNoSettings},
		{"settings without skeleton", noAlias, StageSettings, compression.ErrMissingSkeletonAlias},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Prepare(tt.src)
			var je *JobError
			if !errors.As(err, &je) {
				t.Fatalf("error %v is not a *JobError", err)
			}
			if je.Stage != tt.stage || !errors.Is(err, tt.want) {
				t.Errorf("got stage %s err %v, want %s %v", je.Stage, err, tt.stage, tt.want)
			}
		})
	}
}

func TestDispatch_CanceledContext(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	src := f.addAnimation(t, "animations/hero/run_forward.i_caf", `skeleton = "hero"`)
	c := f.compiler(t, nil)
	j, err := c.Prepare(src)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Dispatch(ctx, j); !errors.Is(err, context.Canceled) {
		t.Errorf("Dispatch error = %v, want context.Canceled", err)
	}
	if c.Recompiled() != 0 {
		t.Error("canceled dispatch counted as recompiled")
	}
}
