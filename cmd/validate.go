package cmd

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/papapumpkin/animc/internal/compression"
	"github.com/papapumpkin/animc/internal/config"
	"github.com/papapumpkin/animc/internal/dbatable"
	"github.com/papapumpkin/animc/internal/session"
	"github.com/papapumpkin/animc/internal/skeleton"
	"github.com/papapumpkin/animc/internal/ui"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check configuration, skeletons, presets and the database table",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		printer := ui.NewWriter(cmd.ErrOrStderr())
		ok := true
		for _, c := range runChecks(cfg) {
			printer.CheckResult(c.name, c.errs)
			if len(c.errs) > 0 {
				ok = false
			}
		}
		if !ok {
			return errors.New("validation failed")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

// check is one named validation with its problems.
type check struct {
	name string
	errs []error
}

// runChecks validates everything a compile loads before its first job.
func runChecks(cfg config.Config) []check {
	checks := []check{{name: "configuration"}}
	if err := cfg.Validate(); err != nil {
		checks[0].errs = []error{err}
	}
	configDir := session.ConfigDir(cfg.SourceRoot, cfg.ConfigFolder)

	skel := check{name: "skeletons"}
	entries, err := skeleton.ReadList(filepath.Join(configDir, skeleton.ListFile))
	if err != nil {
		skel.errs = append(skel.errs, err)
	}
	catalog := skeleton.NewCatalog(cfg.SourceRoot, entries)
	for _, e := range entries {
		sk, err := catalog.Load(e.Alias)
		if err != nil {
			skel.errs = append(skel.errs, err)
			continue
		}
		for _, joint := range sk.MissingIKJoints() {
			skel.errs = append(skel.errs, fmt.Errorf("%s: IK joint %q not in skeleton", e.Alias, joint))
		}
	}
	checks = append(checks, skel)

	presets := check{name: "compression presets"}
	if _, err := compression.LoadPresets(filepath.Join(configDir, compression.PresetFile)); err != nil {
		presets.errs = append(presets.errs, err)
	}
	checks = append(checks, presets)

	table := check{name: "database table"}
	if path, err := dbatable.Locate(configDir); err != nil {
		table.errs = append(table.errs, err)
	} else if _, warns, err := dbatable.Load(path, nil); err != nil {
		table.errs = append(table.errs, err)
	} else {
		for _, w := range warns {
			table.errs = append(table.errs, errors.New(w.String()))
		}
	}
	return append(checks, table)
}
