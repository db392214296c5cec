package cmd

import (
	"github.com/spf13/cobra"

	"github.com/papapumpkin/animc/internal/config"
	"github.com/papapumpkin/animc/internal/dbatable"
	"github.com/papapumpkin/animc/internal/rebuild"
	"github.com/papapumpkin/animc/internal/session"
	"github.com/papapumpkin/animc/internal/ui"
)

var unusedCmd = &cobra.Command{
	Use:   "unused",
	Short: "List archives the database table no longer declares",
	Long: `Lists .dba files under the target root that no database table entry
declares. With --delete the listed archives are removed.`,
	RunE: runUnused,
}

func init() {
	unusedCmd.Flags().Bool("delete", false, "delete the unused archives")
	rootCmd.AddCommand(unusedCmd)
}

func runUnused(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	paths, err := unusedArchives(cfg)
	if err != nil {
		return err
	}
	del, _ := cmd.Flags().GetBool("delete")
	if del {
		if err := deleteArchives(cfg.TargetRoot, paths); err != nil {
			return err
		}
	}
	ui.NewWriter(cmd.OutOrStdout()).UnusedArchives(paths, del)
	return nil
}

// unusedArchives loads the database table and lists undeclared archives.
func unusedArchives(cfg config.Config) ([]string, error) {
	tablePath, err := dbatable.Locate(session.ConfigDir(cfg.SourceRoot, cfg.ConfigFolder))
	if err != nil {
		return nil, err
	}
	// Declared archive names do not depend on membership.
	table, _, err := dbatable.Load(tablePath, nil)
	if err != nil {
		return nil, err
	}
	return rebuild.Unused(cfg.TargetRoot, table.Archives())
}
