package main

import (
	"os"

	"github.com/alfredjeanlab/chatd/internal/client"
	"github.com/alfredjeanlab/chatd/internal/ui"
	"github.com/spf13/cobra"
)

var (
	httpURL    string
	authToken  string
	jsonOutput bool
	noColor    bool

	chatClient client.ChatClient
)

func envOr(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

var rootCmd = &cobra.Command{
	Use:           "chatd <command>",
	Short:         "Multi-tenant chat core: event log, counters and update fan-out",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if noColor || !ui.ShouldUseColor() {
			ui.ForceNoColor()
		}
		chatClient = client.NewHTTPClient(httpURL, authToken)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if chatClient != nil {
			chatClient.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&httpURL, "http-url", envOr("CHATD_URL", "http://localhost:8080"), "chatd HTTP server URL")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", os.Getenv("CHATD_TOKEN"), "bearer token for the chatd API")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "events", Title: "Events:"},
		&cobra.Group{ID: "counters", Title: "Counters:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	cobra.EnableCommandSorting = false

	// Events
	rootCmd.AddCommand(emitCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(updatesCmd)
	rootCmd.AddCommand(typingCmd)
	rootCmd.AddCommand(watchCmd)

	// Counters
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(reconcileCmd)

	// System
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(reconnectCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
