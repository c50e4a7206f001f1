package cascade

import (
	"fmt"
	"os"

	"github.com/kamilpajak/cascade/internal/config"
	"github.com/kamilpajak/cascade/internal/logging"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "cascade",
	Short: "Confidence-based document classification",
	Long: `cascade classifies documents at up to three hierarchy levels. A fast
backend answers first; levels it is unsure about are re-classified by a
slow, more accurate backend.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init("text", logging.ParseLevel(logLevel))
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CASCADE_CONFIG"), "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(thresholdsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func loadConfig() (config.Config, error) {
	return config.Load(configPath)
}
