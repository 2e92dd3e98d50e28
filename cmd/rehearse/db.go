package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zulandar/rehearsal/internal/db"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBMigrateCmd())
	return cmd
}

func newDBMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the Rehearsal tables",
		Long:  "Creates the MySQL database if needed and migrates the agent and escalation tables.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if _, err := db.Open(cfg.Database); err != nil {
				return err
			}
			target := cfg.Database.Path
			if cfg.Database.Driver == "mysql" {
				target = fmt.Sprintf("%s@%s:%d/%s", cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Name)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Migrated %d tables in %s (%s)\n", len(db.AllModels()), target, cfg.Database.Driver)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Rehearsal config file")
	return cmd
}
