package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/koscakluka/ema-chat/core/llms/llamastack"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List models available for direct chat",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(viper.GetViper())
		if err != nil {
			return err
		}

		models, err := newClient(cfg).ListModels(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list models: %w", err)
		}
		return printModels(cmd.OutOrStdout(), llamastack.LLMModels(models))
	},
}

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(viper.GetViper())
		if err != nil {
			return err
		}

		agents, err := newClient(cfg).ListAgents(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list agents: %w", err)
		}
		return printAgents(cmd.OutOrStdout(), agents)
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(agentsCmd)
}

func printModels(out io.Writer, models []llamastack.Model) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "IDENTIFIER\tPROVIDER")
	for _, model := range models {
		fmt.Fprintf(w, "%s\t%s\n", model.Identifier, model.ProviderID)
	}
	return w.Flush()
}

func printAgents(out io.Writer, agents []llamastack.Agent) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tMODEL")
	for _, agent := range agents {
		fmt.Fprintf(w, "%s\t%s\t%s\n", agent.AgentID, agent.DisplayName(), agent.AgentConfig.Model)
	}
	return w.Flush()
}
