package main

import (
	"context"
	"fmt"

	"github.com/alfredjeanlab/chatd/internal/ui"
	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check the health of the chatd service",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := chatClient.Health(context.Background())
		if err != nil {
			return fmt.Errorf("checking health: %w", err)
		}

		if jsonOutput {
			printJSON(h)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Health: %s\n", h.Status)
			if h.Broker != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Broker: %s\n", ui.RenderBrokerState(h.Broker))
			}
		}

		if h.Status != "ok" {
			return fmt.Errorf("unhealthy: %s", h.Status)
		}
		return nil
	},
}

var reconnectCmd = &cobra.Command{
	Use:     "reconnect",
	Short:   "Ask the server to reconnect to the broker",
	Long:    "Tears down the server's broker connection and makes one new attempt. This is the only way to re-enable a broker that was unreachable at startup.",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		state, err := chatClient.ReconnectBroker(context.Background())
		if err != nil {
			return fmt.Errorf("reconnecting broker: %w", err)
		}
		if jsonOutput {
			printJSON(map[string]string{"broker": state})
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Broker: %s\n", ui.RenderBrokerState(state))
		return nil
	},
}
