// Package cmd provides the animc command line.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "animc",
	Short: "Incremental skeleton-aware animation compiler",
	Long: `animc compiles raw animation sources into compressed platform blobs, packs
them into database archives and writes the global animation indexes. Only
animations whose sources, settings or outputs changed are recompiled.`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "config file (default .animc.yaml)")
	pf.BoolP("verbose", "v", false, "verbose output")
	pf.String("source", "", "source root (default .)")
	pf.String("target", "", "target root (default: source root)")
	pf.String("platform", "", "target platform: pc, orbis, durango, x360, ps3")
	pf.String("config-folder", "", "folder with skeleton list, presets and database table (default Animations)")

	_ = viper.BindPFlag("verbose", pf.Lookup("verbose"))
	_ = viper.BindPFlag("source_root", pf.Lookup("source"))
	_ = viper.BindPFlag("target_root", pf.Lookup("target"))
	_ = viper.BindPFlag("platform", pf.Lookup("platform"))
	_ = viper.BindPFlag("config_folder", pf.Lookup("config-folder"))
}

func initConfig() {
	if cfgFile, _ := rootCmd.Flags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName(".animc")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
	}

	viper.SetEnvPrefix("ANIMC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// It's fine if no config file is found; we use defaults.
	_ = viper.ReadInConfig()
}
