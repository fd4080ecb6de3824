package cli

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"pdf-qa/internal/config"
)

const defaultConfigPath = "./configs/config.yaml"

var (
	cfgFile   string
	prettyLog bool
	cfg       *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "pdfqa",
	Short:         "Ask questions about PDF documents",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.LoadConfig(cfgFile)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("pretty") {
			loaded.Log.Pretty = prettyLog
		}
		setupLogger(loaded.Log)
		log.Debug().Str("embedding", loaded.Embedding.Provider).Str("llm", loaded.LLM.Provider).
			Str("store", loaded.Database.Backend).Msg("Loaded config")
		cfg = loaded
		return nil
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("Command failed")
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", defaultConfigPath, "optional YAML config file")
	rootCmd.PersistentFlags().BoolVar(&prettyLog, "pretty", true, "human readable console logs")
}

func setupLogger(lc config.LogConfig) {
	level, err := zerolog.ParseLevel(lc.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if lc.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()
		return
	}
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}
