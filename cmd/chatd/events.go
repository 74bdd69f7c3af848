package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alfredjeanlab/chatd/internal/client"
	"github.com/alfredjeanlab/chatd/internal/ui"
	"github.com/spf13/cobra"
)

var emitCmd = &cobra.Command{
	Use:     "emit <event-type>",
	Short:   "Append an event and fan it out",
	GroupID: "events",
	Example: `  chatd emit message.create --tenant t1 --entity-id m1 --actor u1 \
    --data '{"message":{"message_id":"m1","dialog_id":"d1","sender_id":"u1"}}'
  chatd emit dialog.typing --tenant t1 --entity-id d1 --actor u1 --data @typing.json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant, _ := cmd.Flags().GetString("tenant")
		entityType, _ := cmd.Flags().GetString("entity-type")
		entityID, _ := cmd.Flags().GetString("entity-id")
		actorID, _ := cmd.Flags().GetString("actor")
		actorType, _ := cmd.Flags().GetString("actor-type")
		dataArg, _ := cmd.Flags().GetString("data")
		metaArg, _ := cmd.Flags().GetString("metadata")

		if entityType == "" {
			entityType, _, _ = strings.Cut(args[0], ".")
		}

		data, err := readJSONArg(dataArg, cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("--data: %w", err)
		}
		meta, err := readJSONArg(metaArg, cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("--metadata: %w", err)
		}

		resp, err := chatClient.AppendEvent(context.Background(), &client.AppendEventRequest{
			TenantID:   tenant,
			EventType:  args[0],
			EntityType: entityType,
			EntityID:   entityID,
			ActorID:    actorID,
			ActorType:  actorType,
			Data:       data,
			Metadata:   meta,
		})
		if err != nil {
			return fmt.Errorf("appending event: %w", err)
		}

		if jsonOutput {
			printJSON(resp)
			return nil
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Appended %s %s (%d updates)\n",
			ui.RenderEventType(resp.Event.EventType), ui.RenderAccent(resp.Event.EventID), resp.Updates)
		for _, w := range resp.Warnings {
			fmt.Fprintf(out, "  %s %s\n", ui.RenderWarn("warning:"), w)
		}
		return nil
	},
}

// readJSONArg accepts inline JSON, @path to read a file, or "-" for stdin.
func readJSONArg(arg string, stdin io.Reader) (json.RawMessage, error) {
	var raw []byte
	switch {
	case arg == "":
		return nil, nil
	case arg == "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, err
		}
		raw = b
	case strings.HasPrefix(arg, "@"):
		b, err := os.ReadFile(arg[1:])
		if err != nil {
			return nil, err
		}
		raw = b
	default:
		raw = []byte(arg)
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("invalid JSON")
	}
	return json.RawMessage(raw), nil
}

var showCmd = &cobra.Command{
	Use:     "show <event-id>",
	Short:   "Show a stored event by external or internal id",
	GroupID: "events",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := chatClient.GetEvent(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("getting event: %w", err)
		}
		if jsonOutput {
			printJSON(e)
			return nil
		}
		printEventTable(cmd.OutOrStdout(), e)
		return nil
	},
}

var typingCmd = &cobra.Command{
	Use:     "typing <tenant-id> <dialog-id>",
	Short:   "Show who is typing in a dialog",
	GroupID: "events",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := chatClient.Typing(context.Background(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("getting typing roster: %w", err)
		}
		if jsonOutput {
			printJSON(entries)
			return nil
		}
		out := cmd.OutOrStdout()
		if len(entries) == 0 {
			fmt.Fprintln(out, ui.RenderMuted("nobody is typing"))
			return nil
		}
		for _, e := range entries {
			fmt.Fprintf(out, "%s typing since %s (expires %s)\n",
				ui.RenderAccent(e.UserID), e.StartedAt.Format("15:04:05"), e.ExpiresAt.Format("15:04:05"))
		}
		return nil
	},
}

var updatesCmd = &cobra.Command{
	Use:     "updates",
	Short:   "List stored per-recipient updates",
	GroupID: "events",
	RunE: func(cmd *cobra.Command, args []string) error {
		req := &client.ListUpdatesRequest{}
		req.TenantID, _ = cmd.Flags().GetString("tenant")
		req.UserID, _ = cmd.Flags().GetString("user")
		req.DialogID, _ = cmd.Flags().GetString("dialog")
		req.EventType, _ = cmd.Flags().GetStringSlice("type")
		req.Limit, _ = cmd.Flags().GetInt("limit")
		req.Offset, _ = cmd.Flags().GetInt("offset")
		if cmd.Flags().Changed("unpublished") {
			unpublished, _ := cmd.Flags().GetBool("unpublished")
			published := !unpublished
			req.Published = &published
		}

		resp, err := chatClient.ListUpdates(context.Background(), req)
		if err != nil {
			return fmt.Errorf("listing updates: %w", err)
		}
		if jsonOutput {
			printJSON(resp)
			return nil
		}
		printUpdateListTable(cmd.OutOrStdout(), resp.Updates, resp.Total)
		return nil
	},
}

func init() {
	emitCmd.Flags().String("tenant", os.Getenv("CHATD_TENANT"), "tenant id (required)")
	emitCmd.Flags().String("entity-type", "", "entity type (default: the event type's first segment)")
	emitCmd.Flags().String("entity-id", "", "entity id (required)")
	emitCmd.Flags().String("actor", "", "actor id")
	emitCmd.Flags().String("actor-type", "user", "actor type")
	emitCmd.Flags().String("data", "", "snapshot JSON, @file, or - for stdin")
	emitCmd.Flags().String("metadata", "", "metadata JSON, @file, or - for stdin")
	_ = emitCmd.MarkFlagRequired("entity-id")

	updatesCmd.Flags().String("tenant", os.Getenv("CHATD_TENANT"), "tenant id (required)")
	updatesCmd.Flags().String("user", "", "recipient user id")
	updatesCmd.Flags().String("dialog", "", "dialog id")
	updatesCmd.Flags().StringSlice("type", nil, "event types (repeatable)")
	updatesCmd.Flags().Bool("unpublished", false, "only updates not yet published")
	updatesCmd.Flags().Int("limit", 50, "maximum updates to return")
	updatesCmd.Flags().Int("offset", 0, "updates to skip")
}
