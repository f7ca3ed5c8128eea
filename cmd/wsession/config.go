package main

import (
	"os"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"

	"github.com/vango-dev/wsession/internal/config"
	"github.com/vango-dev/wsession/internal/errors"
)

func configCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or check configuration files",
	}
	cmd.AddCommand(configInitCmd(), configCheckCmd(g))
	return cmd
}

func configInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a configuration file with default values",
		Long: `Write a configuration file with default values.

The format follows the extension: .json, .yaml or .yml.

Examples:
  wsession config init
  wsession config init deploy/wsession.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.FileNames[0]
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil {
				if !force {
					return errors.New(errors.CodeInvalidArgs).
						WithDetail(path + " already exists").
						WithSuggestion("Pass --force to overwrite it")
				}
				warn(cmd.OutOrStdout(), "Overwriting %s", filepath.Clean(path))
			}
			if err := config.New().SaveTo(path); err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "Wrote %s", filepath.Clean(path))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")

	return cmd
}

func configCheckCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			source := cfg.Path()
			if source == "" {
				source = "defaults"
			}
			out := cmd.OutOrStdout()
			success(out, "Configuration OK (%s)", source)
			info(out, "serve:   %s%s", cfg.Server.Addr, cfg.Server.Path)
			info(out, "connect: %s", cfg.Client.URL)
			if slices.Contains(cfg.Server.AllowedOrigins, "*") {
				warn(out, "server.allowedOrigins contains \"*\": every origin is accepted")
			}
			if cfg.Archive.Enabled {
				info(out, "archive: s3://%s/%s every %s", cfg.Archive.Bucket, cfg.Archive.Prefix, cfg.Archive.Interval)
			}
			return nil
		},
	}
}
