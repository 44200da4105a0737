// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"firestige.xyz/sipzamine/internal/config"
)

var (
	// Global flags
	configFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sipzamine",
	Short: "sipzamine - SIP dialog examiner for capture files",
	Long: `sipzamine reads a pcap or pcapng capture, reassembles SIP over UDP and TCP,
groups the messages into dialogs and prints the dialogs matching a query.

Results go to stdout, logs to stderr.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (defaults apply when empty)")

	rootCmd.AddCommand(examineCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(validateCmd)
}

// loadConfig reads the config file and environment, then lets the flags
// named in bindings override them. bindings maps config keys below the
// root to flag names.
func loadConfig(flags *pflag.FlagSet, path string, bindings map[string]string) (*config.Config, *viper.Viper, error) {
	v, err := config.NewViper(path)
	if err != nil {
		return nil, nil, err
	}
	for key, name := range bindings {
		f := flags.Lookup(name)
		if f == nil {
			return nil, nil, fmt.Errorf("unknown flag %q", name)
		}
		if err := v.BindPFlag(config.Key(key), f); err != nil {
			return nil, nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}
	cfg, err := config.Decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}
