// Command talkytalky runs a spoken-dialogue pipeline: one process per
// capability (speech-to-text, language model, speech synthesis, avatar
// action) talking plain text over local TCP, driven by a front end.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/NewComer00/TalkyTalky/internal/config"
	"github.com/NewComer00/TalkyTalky/internal/logging"
)

var (
	version = "0.1.0"
	cfgPath string
	verbose bool
	cfg     *config.Config
	logger  *logging.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "talkytalky",
		Short: "TalkyTalky - a talking avatar built from local capability services",
		Long: `TalkyTalky listens to a recording, transcribes it, asks a language model
for a reply and reads the reply aloud while animating an avatar.

Start everything and talk:   talkytalky run
Serve one capability:        talkytalky serve <stt|llm|tts|action>
Configuration:               talkytalky config show`,
		SilenceUsage:      true,
		PersistentPreRunE: initApp,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				logger.Close()
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default ~/.talkytalky/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("TalkyTalky v%s\n", version)
		},
	})

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(framesCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(monitorCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func initApp(cmd *cobra.Command, args []string) error {
	config.LoadEnv()

	c, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	cfg = c

	lc := logging.DefaultConfig()
	lc.LogDir = cfg.Log.Dir
	lc.Level = logging.ParseLevel(cfg.Log.Level)
	if verbose {
		lc.Level = logging.LevelDebug
	}
	if cmd.Name() == "serve" && len(args) > 0 {
		lc.Capability = args[0]
	}

	logger, err = logging.New(lc)
	if err != nil {
		return err
	}
	if path := logger.GetLogPath(); path != "" {
		log := logger.Component("main")
		log.Debug().Str("path", path).Msg("Logging to file")
	}
	return nil
}
