package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/NewComer00/TalkyTalky/internal/monitor"
)

func monitorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Follow the action capability's monitor",
	}

	var addr string
	watch := &cobra.Command{
		Use:   "watch",
		Short: "Print actor state changes as they happen",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = cfg.Action.MonitorAddr
			}
			if addr == "" {
				return fmt.Errorf("no monitor address: set action.monitor_addr or pass --addr")
			}

			speaking := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2"))
			idle := lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

			w, err := monitor.NewWatcher(addr, func(ev monitor.StateEvent) {
				style := idle
				if ev.To == "speaking" {
					style = speaking
				}
				line := ev.Time.Format("15:04:05.000") + " " + style.Render(ev.To)
				if ev.Text != "" && ev.To == "speaking" {
					line += "  " + ev.Text
				}
				fmt.Println(line)
			}, logger.Zerolog())
			if err != nil {
				return err
			}
			fmt.Printf("Watching %s. Ctrl-C to stop.\n", w.URL())
			return w.Run(cmd.Context())
		},
	}
	watch.Flags().StringVar(&addr, "addr", "", "monitor address (default action.monitor_addr)")
	cmd.AddCommand(watch)

	return cmd
}
