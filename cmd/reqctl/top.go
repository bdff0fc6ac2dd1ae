package main

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/reqstream/internal/monitor"
)

func newTopCmd(opts *options) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "top",
		Short: "Live dashboard of gateway channels and event throughput",
		Long: `Open a terminal dashboard that polls reqstreamd and shows event rate,
open channels and listener counts.

Keys: q quits, r refreshes immediately.

Examples:
  reqctl top
  reqctl top --interval 1s --server http://gateway:9191`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				return fmt.Errorf("--interval must be positive")
			}
			model := monitor.NewModel(opts.serverURL, interval)
			program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(cmd.Context()))
			_, err := program.Run()
			return err
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "refresh interval")
	return cmd
}
