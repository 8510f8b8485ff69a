package cmd

import (
	"fmt"
	"os"

	"github.com/julienstroheker/tcprelay/internal/config"
	"github.com/julienstroheker/tcprelay/internal/logging"
	"github.com/spf13/cobra"
)

var (
	cfg         *config.Config
	logger      *logging.Logger
	verboseFlag bool
	jsonFlag    bool
	configFlag  string
)

var rootCmd = &cobra.Command{
	Use:     "tcprelay",
	Short:   "Transparent TCP relay",
	Long:    `tcprelay - forwards every accepted TCP connection to a fixed remote address, byte for byte`,
	Version: Version,
	// Usage is noise once flags parsed; errors are printed by Execute
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := loadConfig()
		if err != nil {
			return err
		}
		cfg = loaded

		level := logging.ParseLevel(cfg.LogLevel)
		if verboseFlag {
			level = logging.DebugLevel
		}

		format := cfg.LogFormat.Logging()
		if jsonFlag {
			format = logging.FormatJSON
		}

		logger = logging.NewWithFormatAndOutput(level, format, cmd.ErrOrStderr())
		logger.Debug("Logger initialized",
			logging.String("level", level.String()),
			logging.String("format", format.String()),
		)
		return nil
	},
}

func init() {
	// Disable default completion and help commands
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})
	rootCmd.SetVersionTemplate("{{.Version}}\n")

	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose logging (debug level)")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "YAML configuration file")
}

func loadConfig() (*config.Config, error) {
	if configFlag == "" {
		return config.Load(), nil
	}
	loaded, err := config.LoadFile(configFlag)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return loaded, nil
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
