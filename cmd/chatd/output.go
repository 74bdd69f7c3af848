package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/alfredjeanlab/chatd/internal/counter"
	"github.com/alfredjeanlab/chatd/internal/model"
	"github.com/alfredjeanlab/chatd/internal/ui"
)

const timeFormat = "2006-01-02 15:04:05"

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

func printEventTable(w io.Writer, e *model.Event) {
	fmt.Fprintf(w, "ID:          %d\n", e.ID)
	fmt.Fprintf(w, "Event ID:    %s\n", e.EventID)
	fmt.Fprintf(w, "Tenant:      %s\n", e.TenantID)
	fmt.Fprintf(w, "Type:        %s\n", ui.RenderEventType(e.EventType))
	fmt.Fprintf(w, "Entity:      %s %s\n", e.EntityType, e.EntityID)
	if e.ActorID != "" {
		fmt.Fprintf(w, "Actor:       %s (%s)\n", e.ActorID, e.ActorType)
	}
	if !e.CreatedAt.IsZero() {
		fmt.Fprintf(w, "Created At:  %s\n", e.CreatedAt.Format(timeFormat))
	}
	if len(e.Data) > 0 {
		fmt.Fprintf(w, "Data:        %s\n", ui.Truncate(string(e.Data), ui.Width(120)-13))
	}
}

func printUpdateListTable(w io.Writer, updates []*model.Update, total int) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tRECIPIENT\tTYPE\tEVENT\tDIALOG\tPUBLISHED")
	for _, u := range updates {
		published := ui.RenderWarn("no")
		if u.Published {
			published = ui.RenderOK("yes")
		}
		fmt.Fprintf(tw, "%d\t%s/%s\t%s\t%s\t%s\t%s\n",
			u.ID,
			u.UserType, u.UserID,
			ui.RenderEventType(u.EventType),
			u.EventID,
			u.DialogID,
			published,
		)
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d updates (%d total)\n", len(updates), total)
}

func printUserStats(w io.Writer, s *model.UserStats) {
	fmt.Fprintf(w, "User:            %s/%s\n", s.TenantID, s.UserID)
	fmt.Fprintf(w, "Dialogs:         %d\n", s.DialogsCount)
	fmt.Fprintf(w, "Unread dialogs:  %d\n", s.UnreadDialogsCount)
	fmt.Fprintf(w, "Total unread:    %d\n", s.TotalUnreadCount)
	fmt.Fprintf(w, "Messages:        %d\n", s.MessagesCount)
	if len(s.Dialogs) == 0 {
		return
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DIALOG\tUNREAD")
	for _, d := range s.Dialogs {
		fmt.Fprintf(tw, "%s\t%d\n", d.DialogID, d.UnreadCount)
	}
	tw.Flush()
}

func printReconcileReport(w io.Writer, r *counter.ReconcileReport) {
	if len(r.Corrections) == 0 {
		fmt.Fprintf(w, "%s/%s: counters consistent\n", r.TenantID, r.UserID)
		return
	}
	fmt.Fprintf(w, "%s/%s: %d corrections\n", r.TenantID, r.UserID, len(r.Corrections))
	for _, c := range r.Corrections {
		field := c.Field
		if c.DialogID != "" {
			field = c.DialogID + ":" + field
		}
		fmt.Fprintf(w, "  %s %d -> %d\n", field, c.Old, c.New)
	}
}

// printEnvelope prints one update received from the broker.
func printEnvelope(w io.Writer, env *model.UpdateEnvelope) {
	ts := ui.RenderMuted(env.CreatedAt.Format("15:04:05"))
	fmt.Fprintf(w, "%s %s %s %s", ts, ui.RenderAccent(string(env.UpdateType)), ui.RenderEventType(env.EventType), env.EntityID)
	if len(env.Data.Context.ChangedFields) > 0 {
		fmt.Fprintf(w, " [%s]", strings.Join(env.Data.Context.ChangedFields, ","))
	}
	fmt.Fprintln(w)
}
