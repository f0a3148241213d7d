package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vango-dev/circuit/internal/config"
)

func initCmd() *cobra.Command {
	var (
		format string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Long: `Write circuit.yaml (or circuit.toml with --format=toml) with default
values to the working directory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var name string
			switch format {
			case "yaml":
				name = "circuit.yaml"
			case "toml":
				name = "circuit.toml"
			default:
				return fmt.Errorf("unknown format %q (want yaml or toml)", format)
			}

			if _, err := os.Stat(name); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", name)
			}
			if err := config.New().SaveTo(name); err != nil {
				return err
			}
			success("Wrote %s", name)
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "File format: yaml or toml")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	return cmd
}
