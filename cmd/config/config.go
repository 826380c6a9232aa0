package config

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/poachwatch/poachwatch/internal/conf"
	"github.com/poachwatch/poachwatch/internal/errors"
)

// Command groups config file maintenance.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or save configuration files",
	}
	cmd.AddCommand(initCommand(), saveCommand(settings))
	return cmd
}

func initCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default config.yaml",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "config.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if err := refuseOverwrite(path, force); err != nil {
				return err
			}
			if err := conf.WriteDefaultConfig(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote default configuration to %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

// saveCommand writes the effective settings: file values with env and flag
// overrides applied.
func saveCommand(settings *conf.Settings) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "save <path>",
		Short: "Write the effective settings, including env and flag overrides, as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if err := refuseOverwrite(path, force); err != nil {
				return err
			}
			if err := conf.SaveYAMLConfig(path, settings); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved settings to %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

func refuseOverwrite(path string, force bool) error {
	if force {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		return errors.Newf("%s already exists, use --force to overwrite", path).
			Component("cli").
			Category(errors.CategoryValidation).
			Context("path", path).
			Build()
	}
	return nil
}
