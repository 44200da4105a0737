package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/sipzamine/internal/config"
	"firestige.xyz/sipzamine/internal/filter"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Validate a configuration file without examining anything.

This is useful for pre-checking configuration shared between runs.

Examples:
  sipzamine validate -f sipzamine.yaml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(validateConfigFile, cmd.OutOrStdout())
	},
}

var validateConfigFile string

func init() {
	validateCmd.Flags().StringVarP(&validateConfigFile, "file", "f", "",
		"configuration file to validate (required)")
	_ = validateCmd.MarkFlagRequired("file")
}

func runValidate(path string, w io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("INVALID: %w", err)
	}
	// The filter program is only assembled when built.
	if _, err := filter.New(cfg.Filter); err != nil {
		return fmt.Errorf("INVALID: %w", err)
	}

	_, err = fmt.Fprintf(w, "VALID: %s: log %s/%s, idle timeout %s, %d filter host(s), %d filter port(s)\n",
		path, cfg.Log.Level, cfg.Log.Format, cfg.Dialog.IdleTimeout,
		len(cfg.Filter.Hosts), len(cfg.Filter.Ports))
	return err
}
