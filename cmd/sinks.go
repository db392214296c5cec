package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/papapumpkin/animc/internal/config"
	"github.com/papapumpkin/animc/internal/history"
	"github.com/papapumpkin/animc/internal/session"
	"github.com/papapumpkin/animc/internal/telemetry"
	"github.com/papapumpkin/animc/internal/ui"
)

// stateDir is where animc keeps its own files under the target root.
func stateDir(cfg config.Config) string {
	return filepath.Join(cfg.TargetRoot, ".animc")
}

func telemetryDir(cfg config.Config) string {
	return filepath.Join(stateDir(cfg), "telemetry")
}

func historyPath(cfg config.Config) string {
	if cfg.HistoryPath != "" {
		return cfg.HistoryPath
	}
	return filepath.Join(stateDir(cfg), "history.db")
}

// sinks are the telemetry stream and history store of one compile.
type sinks struct {
	emitter *telemetry.Emitter
	store   *history.Store
}

// openSinks opens the telemetry file and the history database. A history
// database that cannot be opened only disables history.
func openSinks(ctx context.Context, cfg config.Config) (*sinks, error) {
	path := cfg.TelemetryPath
	if path == "" {
		path = filepath.Join(telemetryDir(cfg), time.Now().Format("20060102-150405")+".jsonl")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("telemetry: mkdir: %w", err)
	}
	em, err := telemetry.NewEmitter(path)
	if err != nil {
		return nil, err
	}
	s := &sinks{emitter: em}
	if store, err := history.Open(ctx, historyPath(cfg)); err != nil {
		fmt.Fprintf(os.Stderr, "history disabled: %v\n", err)
	} else {
		s.store = store
	}
	return s, nil
}

// Close closes both sinks.
func (s *sinks) Close() error {
	var errs []error
	errs = append(errs, s.emitter.Close())
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	return errors.Join(errs...)
}

// summaryData converts a session report for the printer.
func summaryData(rep *session.Report) ui.SummaryData {
	d := ui.SummaryData{
		Skipped:     rep.Skipped,
		Recompiled:  rep.Recompiled,
		LocalUpdate: rep.LocalUpdate,
		Unused:      rep.Unused(),
		Elapsed:     rep.Elapsed,
	}
	for _, f := range rep.Failed {
		d.Failures = append(d.Failures, ui.FailureLine{Animation: f.Animation, Error: f.Err.Error()})
	}
	for _, w := range rep.TableWarnings {
		d.Warnings = append(d.Warnings, "dba table: "+w.String())
	}
	if rep.RebuildErr != nil {
		d.Warnings = append(d.Warnings, "database rebuild: "+rep.RebuildErr.Error())
	}
	if rb := rep.Rebuild; rb != nil {
		d.Rebuilt = true
		d.Animations, d.Poses = rb.Animations, rb.Poses
		for _, a := range rb.Archives {
			d.Archives = append(d.Archives, ui.ArchiveLine{
				Archive: a.Archive, Members: a.Members, InBytes: a.InBytes, OutBytes: a.OutBytes, Written: a.Written,
			})
		}
		for _, w := range rb.Warnings {
			d.Warnings = append(d.Warnings, w.String())
		}
	}
	return d
}

// deleteArchives removes unused archives given relative to the target root.
func deleteArchives(targetRoot string, rel []string) error {
	for _, r := range rel {
		p := filepath.Join(targetRoot, filepath.FromSlash(r))
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("delete unused archive %s: %w", r, err)
		}
	}
	return nil
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
