package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zulandar/rehearsal/internal/agent"
)

func newAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Agent configuration commands",
	}

	cmd.AddCommand(newAgentImportCmd())
	cmd.AddCommand(newAgentListCmd())
	return cmd
}

func newAgentImportCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import agent definitions from a YAML file",
		Long:  "Inserts or replaces every agent listed in the file, keyed by ID.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agents, err := agent.LoadFile(args[0])
			if err != nil {
				return err
			}
			_, _, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			store, err := agent.NewStore(gormDB)
			if err != nil {
				return err
			}
			ctx := context.Background()
			for _, a := range agents {
				if err := store.Upsert(ctx, a); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %s (%s)\n", a.ID, a.Name)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d agents imported\n", len(agents))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Rehearsal config file")
	return cmd
}

func newAgentListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			store, err := agent.NewStore(gormDB)
			if err != nil {
				return err
			}
			agents, err := store.List(context.Background())
			if err != nil {
				return err
			}
			if len(agents) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No agents stored. Use 'rehearse agent import <file>'.")
				return nil
			}
			writeAgentTable(cmd.OutOrStdout(), agents)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Rehearsal config file")
	return cmd
}

func writeAgentTable(out io.Writer, agents []*agent.Config) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCHANNEL\tSTRATEGY\tSTEPS\tWORKFLOW")
	for _, a := range agents {
		channel := a.Channel
		if channel == "" {
			channel = agent.ChannelLinkedIn
		}
		strategy := a.ConnectionStrategy
		if strategy == "" {
			strategy = "-"
		}
		workflow := "no"
		if a.WorkflowEnabled {
			workflow = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", a.ID, a.Name, channel, strategy, len(a.ConversationSteps), workflow)
	}
	w.Flush()
}
