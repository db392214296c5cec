package cmd

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/papapumpkin/animc/internal/config"
	"github.com/papapumpkin/animc/internal/session"
	"github.com/papapumpkin/animc/internal/ui"
	"github.com/papapumpkin/animc/internal/watch"
)

// settle is how long watch mode collects changes before compiling.
const settle = 300 * time.Millisecond

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Compile, then recompile whenever sources or settings change",
	Long: `Runs a full compile, then watches the source root. Changed sources and
settings files recompile only their animation; skeleton, preset or table
changes and deleted sources trigger a full compile.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	printer := ui.New()
	printer.Banner(cfg.SourceRoot, cfg.TargetRoot, cfg.Platform)

	ctx, cancel := setupSignalContext(printer)
	defer cancel()

	w, err := watch.NewWatcher(cfg.SourceRoot, session.ConfigDir(cfg.SourceRoot, cfg.ConfigFolder))
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	if err := w.Start(); err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer w.Stop()

	if _, err := compileOnce(ctx, cfg, printer, nil); err != nil {
		printer.Error(err.Error())
	}
	printer.Info("watching " + cfg.SourceRoot)

	for {
		changes, ok := collect(ctx, w.Changes)
		if !ok {
			return nil
		}
		inputs, full := plan(changes)
		switch {
		case full:
			printer.Info("configuration or removal detected, full compile")
		case len(inputs) == 0:
			continue
		}
		if _, err := compileOnce(ctx, cfg, printer, inputs); err != nil {
			printer.Error(err.Error())
		}
	}
}

// collect blocks for the first change, then gathers more until the stream
// is quiet for settle. ok is false once ctx is done or the stream closed.
func collect(ctx context.Context, ch <-chan watch.Change) ([]watch.Change, bool) {
	var batch []watch.Change
	select {
	case <-ctx.Done():
		return nil, false
	case c, open := <-ch:
		if !open {
			return nil, false
		}
		batch = append(batch, c)
	}
	timer := time.NewTimer(settle)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, false
		case c, open := <-ch:
			if !open {
				return batch, true
			}
			batch = append(batch, c)
			timer.Reset(settle)
		case <-timer.C:
			return batch, true
		}
	}
}

// plan turns a batch of changes into compile inputs. full reports that
// only a full compile covers the batch.
func plan(changes []watch.Change) (inputs []string, full bool) {
	seen := make(map[string]bool)
	for _, c := range changes {
		switch c.Kind {
		case watch.ChangeConfig, watch.ChangeRemoved:
			return nil, true
		}
		if c.Source != "" && !seen[c.Source] && fileExists(c.Source) {
			seen[c.Source] = true
			inputs = append(inputs, c.Source)
		}
	}
	sort.Strings(inputs)
	return inputs, false
}
