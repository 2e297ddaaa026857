package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/NewComer00/TalkyTalky/internal/actor"
)

func framesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "frames",
		Short: "Record, inspect and replay avatar animation frames",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "info",
		Short: "Show the frame sequences in the frames directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := actor.LoadLibrary(cfg.Action.FramesDir, cfg.Action.FrameLen)
			if err != nil {
				return err
			}
			fmt.Printf("Frames directory: %s\n", cfg.Action.FramesDir)
			fmt.Printf("Frame length:     %d bytes\n", cfg.Action.FrameLen)
			for _, s := range actor.States {
				n := lib[s].Len()
				fmt.Printf("  %-9s %5d frames (%.1fs at %d fps)\n", s, n, float64(n)/float64(cfg.Action.FPS), cfg.Action.FPS)
			}
			return nil
		},
	})

	var (
		listen string
		count  int
	)
	record := &cobra.Command{
		Use:   "record <state>",
		Short: "Capture frames sent by a face tracker into a state's sequence file",
		Long: `Listen for UDP datagrams of exactly frame_len bytes (as sent by
OpenSeeFace) and append them to <frames_dir>/<state>. Stops after --count
frames or on Ctrl-C.`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{actor.Idle.String(), actor.Speaking.String()},
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := actor.ParseState(args[0])
			if err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.Action.FramesDir, 0755); err != nil {
				return err
			}
			path := filepath.Join(cfg.Action.FramesDir, state.String())
			f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
			if err != nil {
				return err
			}
			defer f.Close()

			pc, err := net.ListenPacket("udp", listen)
			if err != nil {
				return err
			}
			defer pc.Close()

			fmt.Printf("Recording %s frames from %s into %s\n", state, pc.LocalAddr(), path)
			n, err := actor.Record(cmd.Context(), pc, f, cfg.Action.FrameLen, count, logger.Component("frames"))
			fmt.Printf("Recorded %d frames\n", n)
			return err
		},
	}
	record.Flags().StringVar(&listen, "listen", "127.0.0.1:11573", "UDP address to capture from")
	record.Flags().IntVar(&count, "count", 0, "stop after this many frames (0: until interrupted)")
	cmd.AddCommand(record)

	var target string
	play := &cobra.Command{
		Use:   "play <state>",
		Short: "Loop one state's sequence to the animation frontend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := actor.ParseState(args[0])
			if err != nil {
				return err
			}
			lib, err := loadStateLibrary(cfg.Action.FramesDir, state, cfg.Action.FrameLen)
			if err != nil {
				return err
			}
			if target == "" {
				target = cfg.Action.FrontendAddr
			}
			sink, err := actor.NewUDPSink(target)
			if err != nil {
				return err
			}
			defer sink.Close()

			fmt.Printf("Playing %s (%d frames) to %s. Ctrl-C to stop.\n", state, lib[state].Len(), target)
			d := &actor.Daemon{
				Flag:    actor.NewStateFlag(state),
				Library: lib,
				Sink:    sink,
				FPS:     cfg.Action.FPS,
				Log:     logger.Component("frames"),
			}
			return d.Run(cmd.Context())
		},
	}
	play.Flags().StringVar(&target, "to", "", "UDP address to send to (default action.frontend_addr)")
	cmd.AddCommand(play)

	return cmd
}

// loadStateLibrary reads only the given state's sequence, so one recording can
// be replayed before the others exist.
func loadStateLibrary(dir string, state actor.State, frameLen int) (actor.Library, error) {
	path := filepath.Join(dir, state.String())
	seq, err := actor.LoadSequence(path, frameLen)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", actor.ErrMissingSequence, path)
	}
	if err != nil {
		return nil, err
	}
	return actor.Library{state: seq}, nil
}
