package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/papapumpkin/animc/internal/config"
	"github.com/papapumpkin/animc/internal/session"
	"github.com/papapumpkin/animc/internal/ui"
)

var compileCmd = &cobra.Command{
	Use:   "compile [sources or directories...]",
	Short: "Compile animations and rebuild database archives",
	Long: `Compiles the given animation sources, or every source under the source root
when none are given. Up-to-date animations are skipped. When anything was
recompiled the database archives and indexes are rebuilt.`,
	RunE: runCompile,
}

func init() {
	f := compileCmd.Flags()
	f.Bool("refresh", false, "recompile every animation")
	f.Bool("skip-dba", false, "local update mode: write .caf files directly, no archives")
	f.Bool("ignore-presets", false, "do not apply the compression preset table")
	f.Bool("debug-compression", false, "log which preset applies to each animation")
	f.Bool("align-tracks", false, "align compressed tracks to 16 bytes")
	f.Int("max-workers", 0, "parallel compile jobs (default: CPU count)")
	f.String("anim-settings-file", "", "settings file used instead of per-animation settings")
	f.Bool("stream-prepare", false, "align archive payloads for streaming")
	f.String("payload-compression", "", "archive payload compression: none, lz4, zstd")
	f.String("telemetry", "", "telemetry JSONL file (default <target>/.animc/telemetry/<time>.jsonl)")
	f.String("history", "", "build history database (default <target>/.animc/history.db)")
	f.Bool("delete-unused", false, "delete archives the database table no longer declares")

	for flag, key := range map[string]string{
		"refresh":             "refresh",
		"skip-dba":            "skip_dba",
		"ignore-presets":      "ignore_presets",
		"debug-compression":   "debug_compression",
		"align-tracks":        "align_tracks",
		"max-workers":         "max_workers",
		"anim-settings-file":  "anim_settings_file",
		"stream-prepare":      "dba.stream_prepare",
		"payload-compression": "dba.payload_compression",
		"telemetry":           "telemetry_path",
		"history":             "history_path",
	} {
		_ = viper.BindPFlag(key, f.Lookup(flag))
	}

	rootCmd.AddCommand(compileCmd)
}

func runCompile(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	printer := ui.New()
	printer.Banner(cfg.SourceRoot, cfg.TargetRoot, cfg.Platform)

	ctx, cancel := setupSignalContext(printer)
	defer cancel()

	rep, err := compileOnce(ctx, cfg, printer, args)
	if err != nil {
		return err
	}
	if del, _ := cmd.Flags().GetBool("delete-unused"); del && len(rep.Unused()) > 0 {
		if err := deleteArchives(cfg.TargetRoot, rep.Unused()); err != nil {
			return err
		}
		printer.UnusedArchives(rep.Unused(), true)
	}
	if n := len(rep.Failed); n > 0 {
		return fmt.Errorf("%d animation(s) failed to compile", n)
	}
	return nil
}

// compileOnce runs one session with telemetry and history attached and
// prints its summary.
func compileOnce(ctx context.Context, cfg config.Config, printer *ui.Printer, inputs []string) (*session.Report, error) {
	sinks, err := openSinks(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer sinks.Close()

	opts := []session.Option{
		session.WithLogger(printer.Writer()),
		session.WithTelemetry(sinks.emitter),
	}
	if sinks.store != nil {
		opts = append(opts, session.WithRecorder(sinks.store))
	}
	rep, err := session.New(cfg, opts...).Run(ctx, inputs)
	if err != nil {
		return nil, err
	}
	printer.Summary(summaryData(rep))
	return rep, nil
}

// setupSignalContext returns a context that is canceled on SIGINT or SIGTERM.
func setupSignalContext(printer *ui.Printer) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			printer.Info("\nshutting down, letting started jobs finish...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}
