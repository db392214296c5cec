package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/papapumpkin/animc/internal/animpath"
	"github.com/papapumpkin/animc/internal/config"
	"github.com/papapumpkin/animc/internal/dbatable"
	"github.com/papapumpkin/animc/internal/history"
	"github.com/papapumpkin/animc/internal/skeleton"
	"github.com/papapumpkin/animc/internal/telemetry"
)

const heroChr = `joints:
  - name: Bip01
  - name: L_Hand
    parent: 0
`

const heroParams = `
[[aim_blend]]
token = "aim_"
`

const skeletonList = `
[[skeleton]]
alias = "hero"
path = "objects/hero/hero.chr"
`

const tableJSON = `{
  "databases": [
    {"path": "animations/hero/movement", "filters": [{"path": "animations/hero/run_*.caf", "skeleton": "hero"}]}
  ]
}`

var sourceTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	source, target string
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

func mtime(t *testing.T, p string) time.Time {
	t.Helper()
	info, err := os.Stat(p)
	if err != nil {
		t.Fatal(err)
	}
	return info.ModTime()
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{source: t.TempDir(), target: t.TempDir()}
	writeFile(t, f.source, "objects/hero/hero.chr", heroChr)
	writeFile(t, f.source, "objects/hero/hero.chrparams", heroParams)
	writeFile(t, f.source, "Animations/"+skeleton.ListFile, skeletonList)
	writeFile(t, f.source, "Animations/"+dbatable.TableFile, tableJSON)
	return f
}

// addAnimation writes a source with fixed timestamps and a settings file
// naming skeleton.
func (f *fixture) addAnimation(t *testing.T, rel, skel string) string {
	t.Helper()
	src := writeFile(t, f.source, rel, "tracks:"+rel)
	stamp(t, src, sourceTime)
	sp := writeFile(t, f.source, animpath.ReplaceExt(rel, animpath.SettingsExt), `skeleton = "`+skel+`"`)
	stamp(t, sp, sourceTime.Add(-time.Hour))
	return src
}

func (f *fixture) config() config.Config {
	return config.Config{
		SourceRoot:       f.source,
		TargetRoot:       f.target,
		ConfigFolder:     "Animations",
		Platform:         "pc",
		MaxWorkers:       2,
		PreloadThreshold: 64,
	}
}

func (f *fixture) out(rel string) string {
	return filepath.Join(f.target, filepath.FromSlash(rel))
}

func run(t *testing.T, cfg config.Config, opts ...Option) *Report {
	t.Helper()
	rep, err := New(cfg, opts...).Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return rep
}

func TestRun_EndToEnd(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.addAnimation(t, "animations/hero/run_forward.i_caf", "hero")
	f.addAnimation(t, "animations/hero/run_back.i_caf", "hero")
	f.addAnimation(t, "animations/hero/aim_up.i_caf", "hero")

	s := New(f.config())
	rep, err := s.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.State() != StateDone {
		t.Errorf("state = %s, want done", s.State())
	}
	if rep.Recompiled != 3 || rep.Skipped != 0 || len(rep.Failed) != 0 {
		t.Fatalf("recompiled=%d skipped=%d failed=%v", rep.Recompiled, rep.Skipped, rep.Failed)
	}
	if rep.RebuildErr != nil || rep.Rebuild == nil {
		t.Fatalf("rebuild = %+v, %v", rep.Rebuild, rep.RebuildErr)
	}
	if rep.Rebuild.Animations != 2 || rep.Rebuild.Poses != 1 {
		t.Errorf("index counts = %d animations, %d poses, want 2, 1", rep.Rebuild.Animations, rep.Rebuild.Poses)
	}

	for _, p := range []string{
		"animations/hero/movement.dba",
		animpath.AnimationsIndex,
		animpath.DirectionalBlendIndex,
		"animations/hero/aim_up.caf",
	} {
		if !exists(f.out(p)) {
			t.Errorf("%s not written", p)
		}
	}
	if exists(f.out("animations/hero/run_forward.caf")) {
		t.Error("archived animation also written standalone")
	}
}

func TestRun_Idempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.addAnimation(t, "animations/hero/run_forward.i_caf", "hero")

	first := run(t, f.config())
	if first.Recompiled != 1 {
		t.Fatalf("first run recompiled %d, want 1", first.Recompiled)
	}
	archive := f.out("animations/hero/movement.dba")
	before := mtime(t, archive)

	second := run(t, f.config())
	if second.Recompiled != 0 || second.Skipped != 1 {
		t.Errorf("second run recompiled=%d skipped=%d, want 0, 1", second.Recompiled, second.Skipped)
	}
	if second.Rebuild != nil {
		t.Error("rebuild ran with nothing recompiled")
	}
	if !mtime(t, archive).Equal(before) {
		t.Error("archive rewritten by an up-to-date run")
	}
}

func TestRun_SettingsTouchForcesRecompile(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	src := f.addAnimation(t, "animations/hero/run_forward.i_caf", "hero")
	run(t, f.config())

	stamp(t, animpath.SettingsPath(src), sourceTime.Add(time.Hour))
	rep := run(t, f.config())
	if rep.Recompiled != 1 {
		t.Errorf("recompiled = %d, want 1 after touching settings", rep.Recompiled)
	}
	if got := rep.Results[0].Job.StaleReason; got != "settings changed" {
		t.Errorf("stale reason = %q", got)
	}
}

func TestRun_FailuresDoNotAbortBatch(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.addAnimation(t, "animations/hero/run_forward.i_caf", "hero")
	f.addAnimation(t, "animations/ghost/float.i_caf", "ghost")

	rep := run(t, f.config())
	if rep.Recompiled != 1 {
		t.Errorf("recompiled = %d, want 1", rep.Recompiled)
	}
	if len(rep.Failed) != 1 {
		t.Fatalf("failed = %v, want one failure", rep.Failed)
	}
	fail := rep.Failed[0]
	if fail.Animation != "animations/ghost/float.caf" || !errors.Is(fail.Err, skeleton.ErrMissingSkeleton) {
		t.Errorf("failure = %+v", fail)
	}
}

func TestRun_LocalUpdate(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.addAnimation(t, "animations/hero/run_forward.i_caf", "hero")
	cfg := f.config()
	cfg.SkipDBA = true

	rep := run(t, cfg)
	if !rep.LocalUpdate || rep.Rebuild != nil {
		t.Errorf("local update report = %+v", rep)
	}
	if !exists(f.out("animations/hero/run_forward.caf")) {
		t.Error("destination not written in local update mode")
	}
	if exists(f.out("animations/hero/run_forward.$caf")) || exists(f.out("animations/hero/movement.dba")) {
		t.Error("local update mode wrote intermediates or archives")
	}
}

func TestRun_MissingTableAbortsOnlyRebuild(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.addAnimation(t, "animations/hero/run_forward.i_caf", "hero")
	if err := os.Remove(filepath.Join(f.source, "Animations", dbatable.TableFile)); err != nil {
		t.Fatal(err)
	}

	rep := run(t, f.config())
	if rep.Recompiled != 1 {
		t.Errorf("recompiled = %d, want 1", rep.Recompiled)
	}
	if !errors.Is(rep.RebuildErr, dbatable.ErrMissingTable) {
		t.Errorf("RebuildErr = %v, want ErrMissingTable", rep.RebuildErr)
	}
	if !exists(f.out("animations/hero/run_forward.caf")) {
		t.Error("animation without a table is not written standalone")
	}
}

func TestRun_ReportsUnusedArchives(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.addAnimation(t, "animations/hero/run_forward.i_caf", "hero")
	writeFile(t, f.target, "animations/old.dba", "stale")

	rep := run(t, f.config())
	if diff := cmp.Diff([]string{"animations/old.dba"}, rep.Unused()); diff != "" {
		t.Errorf("unused mismatch (-want +got):\n%s", diff)
	}
	if !exists(f.out("animations/old.dba")) {
		t.Error("unused archive deleted by the session")
	}
}

func TestRun_RecordsHistoryAndTelemetry(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.addAnimation(t, "animations/hero/run_forward.i_caf", "hero")
	f.addAnimation(t, "animations/ghost/float.i_caf", "ghost")

	ctx := context.Background()
	store, err := history.Open(ctx, filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	telemetryPath := filepath.Join(t.TempDir(), "events.jsonl")
	em, err := telemetry.NewEmitter(telemetryPath)
	if err != nil {
		t.Fatal(err)
	}

	run(t, f.config(), WithRecorder(store), WithTelemetry(em))
	if err := em.Close(); err != nil {
		t.Fatal(err)
	}

	builds, err := store.Recent(ctx, 5)
	if err != nil || len(builds) != 1 {
		t.Fatalf("Recent = %+v, %v", builds, err)
	}
	if b := builds[0]; b.Recompiled != 1 || b.Failed != 1 || b.Platform != "pc" {
		t.Errorf("build = %+v", b)
	}
	jobs, err := store.Jobs(ctx, builds[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	var outcomes []string
	for _, j := range jobs {
		outcomes = append(outcomes, j.Animation+"="+j.Outcome)
	}
	want := []string{"animations/ghost/float.caf=failed", "animations/hero/run_forward.caf=recompiled"}
	if diff := cmp.Diff(want, outcomes); diff != "" {
		t.Errorf("jobs mismatch (-want +got):\n%s", diff)
	}

	events, err := telemetry.ReadFile(telemetryPath)
	if err != nil {
		t.Fatal(err)
	}
	kinds := make(map[string]int)
	for _, e := range events {
		kinds[e.Kind]++
	}
	if events[0].Kind != telemetry.KindSessionStart || events[len(events)-1].Kind != telemetry.KindSessionDone {
		t.Errorf("first/last events = %s/%s", events[0].Kind, events[len(events)-1].Kind)
	}
	if kinds[telemetry.KindJobDone] != 1 || kinds[telemetry.KindJobFailed] != 1 || kinds[telemetry.KindStateChange] != 4 {
		t.Errorf("event kinds = %v", kinds)
	}
}

func TestRun_CanceledStartsNoJobs(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.addAnimation(t, "animations/hero/run_forward.i_caf", "hero")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rep, err := New(f.config()).Run(ctx, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Recompiled != 0 || rep.Skipped != 0 || len(rep.Failed) != 0 {
		t.Errorf("canceled run = %+v", rep)
	}
	if exists(f.out("animations/hero/run_forward.$caf")) {
		t.Error("canceled run compiled an animation")
	}
}

func TestRun_InvalidConfigAndReuse(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	cfg := f.config()
	cfg.Platform = "dreamcast"
	if _, err := New(cfg).Run(context.Background(), nil); !errors.Is(err, config.ErrUnknownPlatform) {
		t.Errorf("Run error = %v, want ErrUnknownPlatform", err)
	}

	s := New(f.config())
	if _, err := s.Run(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Run(context.Background(), nil); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second Run error = %v, want ErrInvalidTransition", err)
	}
}
