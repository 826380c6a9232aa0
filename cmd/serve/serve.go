package serve

import (
	"github.com/spf13/cobra"

	"github.com/poachwatch/poachwatch/internal/app"
	"github.com/poachwatch/poachwatch/internal/buildinfo"
	"github.com/poachwatch/poachwatch/internal/conf"
)

// Command runs the engine, the HTTP API and the configured publishers.
func Command(settings *conf.Settings, info buildinfo.Info) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Poll the detection backend and serve alerts",
		Long: `Poll the movement and image classifiers, fuse their results into the
live poacher alert, append per-role notifications and serve them over HTTP.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.New(settings, info)
			if err != nil {
				return err
			}
			return a.Run(cmd.Context())
		},
	}

	cmd.Flags().String("webserver.listen", ":8080", "Listen address of the HTTP API")
	cmd.Flags().String("sources.baseurl", "", "Base URL of the detection backend")
	cmd.Flags().String("datastore.driver", "sqlite", "Datastore driver: sqlite, mysql or memory")
	cmd.Flags().Duration("fusion.correlation_window", 0, "Max gap between movement and image evidence, 0 for unbounded")
	cmd.Flags().Bool("alert.emit_cleared", false, "Append a cleared notification when a confirmed alert ends")
	return cmd
}
