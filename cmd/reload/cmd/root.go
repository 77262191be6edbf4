package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:          "reload",
	Short:        "Restart worker processes when source files change",
	Long:         "reload runs a cluster of workers and signals them to restart whenever a watched file's modification time moves forward.",
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file (default ./reload.yaml if present)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "development logging at debug level")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(versionCmd)
}

func newLogger() (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
