package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/sipzamine/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration examine would use, after applying defaults, the
config file and SIPZAMINE_* environment overrides, as YAML.

Examples:
  sipzamine config
  sipzamine config -c sipzamine.yaml
  SIPZAMINE_DIALOG_IDLE_TIMEOUT=10m sipzamine config`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, v, err := loadConfig(cmd.Flags(), configFile, nil)
		if err != nil {
			return err
		}
		out, err := config.Render(v)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(cmd.OutOrStdout(), string(out))
		return err
	},
}
