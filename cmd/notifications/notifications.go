package notifications

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/poachwatch/poachwatch/internal/app"
	"github.com/poachwatch/poachwatch/internal/conf"
	"github.com/poachwatch/poachwatch/internal/datastore"
	"github.com/poachwatch/poachwatch/internal/errors"
	"github.com/poachwatch/poachwatch/internal/logger"
	"github.com/poachwatch/poachwatch/internal/notification"
)

// Command inspects and acknowledges a role's notification log in the
// durable store.
func Command(settings *conf.Settings) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "List, count or acknowledge a role's notifications",
	}
	cmd.PersistentFlags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")

	list := &cobra.Command{
		Use:   "list <admin|ranger>",
		Short: "Print a role's notification log, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			unreadOnly, _ := cmd.Flags().GetBool("unread")
			return withTracker(settings, args[0], func(role notification.Role, store notification.Store, tracker *notification.Tracker) error {
				var (
					out []notification.Notification
					err error
				)
				if unreadOnly {
					out, err = tracker.Unread(cmd.Context(), role)
				} else {
					out, err = store.ListSince(cmd.Context(), role, time.Time{})
				}
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), out)
				}
				return writeTable(cmd.OutOrStdout(), out)
			})
		},
	}
	list.Flags().Bool("unread", false, "Only notifications newer than the watermark")

	unread := &cobra.Command{
		Use:   "unread <admin|ranger>",
		Short: "Print how many notifications a role has not acknowledged",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTracker(settings, args[0], func(role notification.Role, _ notification.Store, tracker *notification.Tracker) error {
				n, err := tracker.UnreadCount(cmd.Context(), role)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), map[string]any{"role": role, "unread": n})
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), n)
				return err
			})
		},
	}

	ack := &cobra.Command{
		Use:   "ack <admin|ranger>",
		Short: "Mark every current notification of a role as seen",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTracker(settings, args[0], func(role notification.Role, _ notification.Store, tracker *notification.Tracker) error {
				mark, err := tracker.Acknowledge(cmd.Context(), role)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), map[string]any{"role": role, "acknowledged_at": mark})
				}
				if mark.IsZero() {
					_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: nothing to acknowledge\n", role)
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: acknowledged up to %s\n", role, mark.Format(time.RFC3339Nano))
				return err
			})
		},
	}

	cmd.AddCommand(list, unread, ack)
	return cmd
}

func withTracker(settings *conf.Settings, rawRole string, fn func(notification.Role, notification.Store, *notification.Tracker) error) error {
	role, err := notification.ParseRole(rawRole)
	if err != nil {
		return err
	}
	if settings.Datastore.Driver == conf.DriverMemory {
		return errors.Newf("the memory datastore keeps no log between runs; configure sqlite or mysql").
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	central, err := app.NewLogger(settings)
	if err != nil {
		return err
	}
	defer central.Close()

	db, err := app.OpenStore(settings, nil, central.Module("datastore"))
	if err != nil {
		return err
	}
	defer closeStore(db, central.Module("main"))

	store := db.Notifications()
	return fn(role, store, notification.NewTracker(store, nil, central.Module("notification")))
}

func closeStore(db *datastore.Store, log logger.Logger) {
	if err := db.Close(); err != nil {
		log.Warn("datastore close failed", logger.Error(err))
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeTable(w io.Writer, list []notification.Notification) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tKIND\tZONE\tMESSAGE")
	for _, n := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", n.CreatedAt.Format(time.RFC3339), n.Kind, n.Zone, n.Message)
	}
	return tw.Flush()
}
