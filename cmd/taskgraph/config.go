package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/aristath/taskgraph/internal/config"
	"github.com/aristath/taskgraph/internal/report"
)

func configCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or inspect the project configuration",
	}
	cmd.AddCommand(configInitCmd(a), configShowCmd(a))
	return cmd
}

func configInitCmd(a *app) *cobra.Command {
	var (
		format string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration to " + config.ProjectDir,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var name string
			switch format {
			case "json":
				name = "config.json"
			case "yaml", "yml":
				name = "config.yaml"
			default:
				return fmt.Errorf("unknown format %q (want json or yaml)", format)
			}
			target := filepath.Join(config.ProjectDir, name)

			// A second file would be shadowed by, or shadow, the existing one
			if existing := config.ProjectPath(); existing != target {
				if _, err := os.Stat(existing); err == nil {
					return fmt.Errorf("%s already configures this project", existing)
				}
			}
			if _, err := os.Stat(target); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", target)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("checking %s: %w", target, err)
			}

			if err := config.Save(config.DefaultConfig(), target); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Wrote %s\n", target)
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "json", "File format: json or yaml")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	return cmd
}

func configShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration after all layers are merged",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if a.dbPath != "" {
				cfg.Store.Path = a.dbPath
			}
			if a.jsonOut {
				return report.JSON(a.out, cfg)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshaling config: %w", err)
			}
			_, err = a.out.Write(data)
			return err
		},
	}
}
