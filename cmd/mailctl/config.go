package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/matheus3301/mailctl/internal/config"
	"github.com/matheus3301/mailctl/internal/paths"
	"github.com/spf13/cobra"
)

func newConfigCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(newConfigInitCmd(opts), newConfigShowCmd(opts))
	return cmd
}

func newConfigInitCmd(opts *globalOptions) *cobra.Command {
	var (
		clientID string
		tenant   string
		force    bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := opts.configPath
			if path == "" {
				path = paths.ConfigPath()
			}
			path = paths.Expand(path)

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}

			cfg := config.Default()
			if clientID != "" {
				cfg.Azure.ClientID = clientID
			}
			if tenant != "" {
				cfg.Azure.Tenant = tenant
			}
			if err := config.Save(path, cfg); err != nil {
				return fmt.Errorf("write config: %w", err)
			}

			p := opts.printer(cmd)
			p.Summaryf("Wrote %s", path)
			if cfg.Azure.ClientID == "" {
				p.Infof("Set azure.client_id to your app registration's client id before running `mailctl login`.")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&clientID, "client-id", "", "Azure app registration client id")
	cmd.Flags().StringVar(&tenant, "tenant", "", "Azure tenant (default common)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func newConfigShowCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long:  "Print the configuration after merging the file, .env and MAILCTL_* environment variables.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			return toml.NewEncoder(cmd.OutOrStdout()).Encode(cfg)
		},
	}
}
