package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/NewComer00/TalkyTalky/internal/pipeline"
	"github.com/NewComer00/TalkyTalky/internal/service"
)

func runCmd() *cobra.Command {
	var (
		quiet     bool
		inbox     string
		noServers bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start every capability and hold a conversation",
		Long: `Start one process per capability, connect to them and run a turn for
every recording. Recordings are WAV paths read from stdin, one per line, or
files dropped into --inbox.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("quiet") {
				cfg.Frontend.Quiet = quiet
			}
			if cmd.Flags().Changed("inbox") {
				cfg.Frontend.InboxDir = inbox
			}
			return runPipeline(cmd.Context(), !noServers)
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "discard the output of capability processes")
	cmd.Flags().StringVar(&inbox, "inbox", "", "watch this directory for WAV files instead of reading stdin")
	cmd.Flags().BoolVar(&noServers, "no-servers", false, "connect to capabilities that are already running")
	return cmd
}

func runPipeline(ctx context.Context, startServers bool) error {
	if startServers {
		sup := &pipeline.Supervisor{
			ConfigPath: cfgPath,
			Quiet:      cfg.Frontend.Quiet,
			Log:        logger.Component("supervisor"),
		}
		if verbose {
			sup.ExtraArgs = []string{"--verbose"}
		}
		if err := sup.Start(ctx, service.Capabilities); err != nil {
			return err
		}
		defer sup.Stop()
	}

	f, err := pipeline.Connect(ctx, cfg, os.Stdout, logger.Component("frontend"))
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer f.Close()

	var src pipeline.Source
	if dir := cfg.Frontend.InboxDir; dir != "" {
		inbox, err := pipeline.NewInboxSource(dir, cfg.Frontend.RemoveAfter, logger.Component("inbox"))
		if err != nil {
			return err
		}
		defer inbox.Close()
		src = inbox
		fmt.Printf("Drop WAV files into %s to talk. Ctrl-C to quit.\n\n", dir)
	} else {
		src = pipeline.NewLineSource(os.Stdin)
		fmt.Print("Enter the path of a WAV recording per line. Ctrl-D to quit.\n\n")
	}

	return f.Run(ctx, src)
}
