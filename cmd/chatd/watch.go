package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alfredjeanlab/chatd/internal/broker"
	"github.com/alfredjeanlab/chatd/internal/model"
	"github.com/alfredjeanlab/chatd/internal/ui"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:     "watch <user-id>",
	Short:   "Stream a user's updates from the broker",
	GroupID: "events",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		natsURL, _ := cmd.Flags().GetString("nats-url")
		exchange, _ := cmd.Flags().GetString("exchange")
		userType, _ := cmd.Flags().GetString("user-type")

		sub, err := broker.NewNATSSubscriber(natsURL,
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderWarn("disconnected:"), err)
			}),
			nats.ReconnectHandler(func(*nats.Conn) {
				fmt.Fprintln(os.Stderr, ui.RenderOK("reconnected"))
			}),
		)
		if err != nil {
			return err
		}
		defer sub.Close()

		subject := broker.Subject(exchange, broker.UserBindingPattern(userType, args[0]))
		ch, cancel, err := sub.Subscribe(subject)
		if err != nil {
			return err
		}
		defer cancel()
		fmt.Fprintf(os.Stderr, "Watching %s\n", ui.RenderMuted(subject))

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		out := cmd.OutOrStdout()
		for {
			select {
			case <-sigCh:
				return nil
			case data, ok := <-ch:
				if !ok {
					return nil
				}
				if jsonOutput {
					fmt.Fprintln(out, string(data))
					continue
				}
				var env model.UpdateEnvelope
				if err := json.Unmarshal(data, &env); err != nil {
					fmt.Fprintf(os.Stderr, "skipping malformed update: %v\n", err)
					continue
				}
				printEnvelope(out, &env)
			}
		}
	},
}

func init() {
	watchCmd.Flags().String("nats-url", envOr("CHATD_NATS_URL", nats.DefaultURL), "NATS server URL")
	watchCmd.Flags().String("exchange", envOr("CHATD_UPDATES_EXCHANGE", "chat.updates"), "updates exchange")
	watchCmd.Flags().String("user-type", model.DefaultUserType, "recipient user type")
}
