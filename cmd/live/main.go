// Command live runs a realtime voice and video session with Gemini Live,
// with a local dashboard for control, transcripts and recordings.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "live",
	Short:         "Realtime voice and video sessions with Gemini Live",
	SilenceUsage:  true,
	SilenceErrors: false,
	Long: `live streams your microphone, and optionally your camera or screen, to a
Gemini Live model and plays its spoken replies.

The session reconnects on its own when the connection drops, resuming the
conversation where the server allows it. A local dashboard exposes controls,
the running transcript, recordings of each model turn and metrics.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $HOME/.golive/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.AddCommand(newRunCmd(), newConfigCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
