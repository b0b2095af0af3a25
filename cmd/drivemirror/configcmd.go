package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ghyeongl/drivemirror/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
	Long: `Configuration is loaded from:
  1. --config, when given
  2. $XDG_CONFIG_HOME/drivemirror/config.yaml

Environment variables override file settings using the DRIVEMIRROR_ prefix:
  DRIVEMIRROR_LOCAL_ROOT=/srv/mirror
  DRIVEMIRROR_WORKERS=8
  DRIVEMIRROR_S3_BUCKET=photos`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "# config dir: %s\n%s", config.Dir(), out)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
