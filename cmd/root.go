package cmd

import (
	"github.com/spf13/cobra"

	"github.com/poachwatch/poachwatch/cmd/config"
	"github.com/poachwatch/poachwatch/cmd/fuse"
	"github.com/poachwatch/poachwatch/cmd/notifications"
	"github.com/poachwatch/poachwatch/cmd/serve"
	"github.com/poachwatch/poachwatch/internal/buildinfo"
	"github.com/poachwatch/poachwatch/internal/conf"
)

// RootCommand creates the root command. settings is filled in before any
// subcommand runs.
func RootCommand(settings *conf.Settings, info buildinfo.Info) *cobra.Command {
	var (
		configFile string
		envFile    string
	)

	rootCmd := &cobra.Command{
		Use:          "poachwatch",
		Short:        "Poacher detection fusion and alerting",
		Version:      info.String(),
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config.yaml (default: search ., ~/.config/poachwatch, /etc/poachwatch)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Path to a .env file (default: ./.env if present)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")

	rootCmd.AddCommand(
		serve.Command(settings, info),
		notifications.Command(settings),
		fuse.Command(settings),
		config.Command(settings),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		loaded, err := conf.Load(conf.LoadOptions{
			ConfigFile: configFile,
			EnvFile:    envFile,
			Flags:      cmd.Flags(),
		})
		if err != nil {
			return err
		}
		*settings = *loaded
		return nil
	}

	return rootCmd
}
