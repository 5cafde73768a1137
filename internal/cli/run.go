package cli

import (
	"github.com/spf13/cobra"
)

var (
	runStdin  bool
	runListen string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll prices on the configured interval and send alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp()
		if cmd.Flags().Changed("stdin") {
			a.Config.Control.Stdin = runStdin
		}
		if cmd.Flags().Changed("listen") {
			a.Config.Control.Listen = runListen
		}
		return a.Run(cmd.Context())
	},
}

func init() {
	runCmd.Flags().BoolVar(&runStdin, "stdin", false, "Accept stop/recheck/threshold commands on standard input")
	runCmd.Flags().StringVar(&runListen, "listen", "", "Serve the control API on this address (e.g. 127.0.0.1:8089)")
}
