package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/papapumpkin/animc/internal/compiler"
	"github.com/papapumpkin/animc/internal/compression"
	"github.com/papapumpkin/animc/internal/history"
	"github.com/papapumpkin/animc/internal/rebuild"
	"github.com/papapumpkin/animc/internal/telemetry"
)

func (s *Session) newCompiler(e *env) (*compiler.Compiler, error) {
	ropts := []compression.ResolverOption{compression.WithPresets(e.presets)}
	if s.cfg.DebugCompression {
		ropts = append(ropts, compression.WithDebugLog(s.log))
	}
	resolver := compression.NewResolver(e.catalog, ropts...)

	copts := []compiler.Option{compiler.WithLogger(s.log)}
	if e.table != nil {
		copts = append(copts, compiler.WithArchives(e.table))
	}
	backend := s.backend
	if backend == nil {
		backend = &compiler.PlanBackend{AlignTracks: s.cfg.AlignTracks}
	}
	copts = append(copts, compiler.WithBackend(backend))

	return compiler.New(compiler.Options{
		Layout:         e.layout,
		Order:          e.target.Order,
		ToleranceScale: e.platform.ToleranceScale,
		Refresh:        s.cfg.Refresh,
		LocalUpdate:    s.cfg.SkipDBA,
		OverridePath:   s.cfg.AnimSettingsFile,
	}, e.catalog, resolver, copts...)
}

// outcome is the result of one source, success or failure.
type outcome struct {
	result  *compiler.Result
	failure *Failure
}

// compileAll runs one job per source on a bounded worker pool. A canceled
// context stops scheduling; jobs already started run to completion.
func (s *Session) compileAll(ctx context.Context, comp *compiler.Compiler, sources []string, buildID int64, rep *Report) {
	outcomes := make([]outcome, len(sources))
	sem := make(chan struct{}, s.cfg.MaxWorkers)
	var wg sync.WaitGroup

schedule:
	for i, src := range sources {
		select {
		case <-ctx.Done():
			fmt.Fprintf(s.log, "canceled, %d job(s) not started\n", len(sources)-i)
			break schedule
		case sem <- struct{}{}:
		}
		if ctx.Err() != nil {
			<-sem
			fmt.Fprintf(s.log, "canceled, %d job(s) not started\n", len(sources)-i)
			break
		}
		wg.Add(1)
		go func(i int, src string) {
			defer wg.Done()
			defer func() { <-sem }()
			outcomes[i] = s.runJob(ctx, comp, src, buildID)
		}(i, src)
	}
	wg.Wait()

	for _, o := range outcomes {
		switch {
		case o.failure != nil:
			rep.Failed = append(rep.Failed, *o.failure)
		case o.result == nil:
			// Not started.
		case o.result.Recompiled:
			rep.Recompiled++
			rep.Results = append(rep.Results, o.result)
		default:
			rep.Skipped++
			rep.Results = append(rep.Results, o.result)
		}
	}
}

func (s *Session) runJob(ctx context.Context, comp *compiler.Compiler, src string, buildID int64) outcome {
	start := time.Now()
	job, err := comp.Prepare(src)
	var res *compiler.Result
	if err == nil {
		res, err = comp.Dispatch(ctx, job)
	}

	rec := history.Job{BuildID: buildID, Elapsed: time.Since(start)}
	var out outcome
	if err != nil {
		f := Failure{Source: src, Animation: src, Err: err}
		var je *compiler.JobError
		if errors.As(err, &je) {
			f.Animation = je.Animation
		}
		fmt.Fprintf(s.log, "FAILED %s: %v\n", f.Animation, err)
		s.emit(telemetry.KindJobFailed, f.Animation, map[string]string{"error": err.Error()})
		rec.Animation, rec.Outcome, rec.Error = f.Animation, history.OutcomeFailed, err.Error()
		out.failure = &f
	} else {
		rec.Animation, rec.Archive, rec.StaleReason = res.Job.AnimationPath, res.Job.Archive, res.Job.StaleReason
		rec.Outcome = history.OutcomeSkipped
		if res.Recompiled {
			rec.Outcome = history.OutcomeRecompiled
		}
		s.emit(telemetry.KindJobDone, res.Job.AnimationPath, map[string]any{
			"recompiled": res.Recompiled, "archive": res.Job.Archive, "reason": res.Job.StaleReason, "elapsed_ms": res.Elapsed.Milliseconds(),
		})
		out.result = res
	}
	s.record(ctx, rec)
	return out
}

// rebuild runs the archive and index pass when anything was recompiled.
func (s *Session) rebuild(ctx context.Context, e *env, comp *compiler.Compiler, rep *Report) {
	switch {
	case s.cfg.SkipDBA:
		fmt.Fprintln(s.log, "local update mode: database rebuild skipped")
		return
	case rep.Recompiled == 0:
		fmt.Fprintln(s.log, "nothing recompiled: database rebuild skipped")
		return
	case e.table == nil:
		rep.RebuildErr = fmt.Errorf("session: rebuild: %w", e.tableErr)
		fmt.Fprintf(s.log, "database rebuild aborted: %v\n", e.tableErr)
		return
	}

	rb, err := rebuild.New(e.layout, e.target, e.table, e.catalog,
		rebuild.WithLogger(s.log), rebuild.WithCodec(comp.Codec()))
	if err != nil {
		rep.RebuildErr = err
		return
	}
	rrep, err := rb.Rebuild(ctx, rep.Results)
	rep.Rebuild = rrep
	if err != nil {
		rep.RebuildErr = err
		fmt.Fprintf(s.log, "database rebuild failed: %v\n", err)
	}
	if rrep == nil {
		return
	}
	for _, a := range rrep.Archives {
		s.emit(telemetry.KindArchivePacked, "", map[string]any{
			"archive": a.Archive, "members": a.Members, "in_bytes": a.InBytes, "out_bytes": a.OutBytes, "written": a.Written,
		})
	}
	for _, w := range rrep.Warnings {
		s.emit(telemetry.KindRebuildWarning, w.Animation, map[string]string{"archive": w.Archive, "warning": w.Err.Error()})
	}
}

func (s *Session) beginBuild(ctx context.Context, started time.Time) int64 {
	if s.recorder == nil {
		return 0
	}
	id, err := s.recorder.BeginBuild(ctx, started, s.cfg.Platform, s.cfg.SourceRoot)
	if err != nil {
		fmt.Fprintf(s.log, "history: %v\n", err)
		return 0
	}
	return id
}

func (s *Session) record(ctx context.Context, j history.Job) {
	if s.recorder == nil || j.BuildID == 0 {
		return
	}
	// History outlives a canceled batch.
	if err := s.recorder.RecordJob(context.WithoutCancel(ctx), j); err != nil {
		fmt.Fprintf(s.log, "history: %v\n", err)
	}
}

func (s *Session) finishBuild(ctx context.Context, id int64, rep *Report) {
	if s.recorder == nil || id == 0 {
		return
	}
	b := history.Build{
		ID:         id,
		FinishedAt: time.Now(),
		Recompiled: rep.Recompiled,
		Skipped:    rep.Skipped,
		Failed:     len(rep.Failed),
		Unused:     len(rep.Unused()),
	}
	if err := s.recorder.FinishBuild(context.WithoutCancel(ctx), b); err != nil {
		fmt.Fprintf(s.log, "history: %v\n", err)
	}
}
