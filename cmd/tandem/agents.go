package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tandem-dev/tandem/internal/registry"
	"github.com/tandem-dev/tandem/pkg/models"
)

var (
	agentKey      string
	agentName     string
	agentOwner    string
	agentEndpoint string
	agentScopes   []string
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Manage registered agents",
}

var agentsRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register an agent",
	Long: `Register an agent card so other agents can delegate tasks to it.

The command prints the agent's client secret exactly once; only its hash
is stored. Rotate the secret if it is lost.

Examples:
  tandem agents register --key reviewer --name "Code Reviewer" \
    --owner alice --endpoint https://reviewer.internal:8420 \
    --scope code:read --scope code:review`,
	Args: cobra.NoArgs,
	RunE: runAgentsRegister,
}

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered agents",
	Args:  cobra.NoArgs,
	RunE:  runAgentsList,
}

var agentsDeactivateCmd = &cobra.Command{
	Use:   "deactivate <agent-id>",
	Short: "Deactivate an agent",
	Long: `Deactivate an agent. New delegations to it are refused; tasks
already in flight are unaffected.`,
	Args: cobra.ExactArgs(1),
	RunE: runAgentsDeactivate,
}

var agentsRotateCmd = &cobra.Command{
	Use:   "rotate-secret <agent-id>",
	Short: "Rotate an agent's client secret",
	Args:  cobra.ExactArgs(1),
	RunE:  runAgentsRotate,
}

func init() {
	agentsRegisterCmd.Flags().StringVar(&agentKey, "key", "", "Unique agent key (required)")
	agentsRegisterCmd.Flags().StringVar(&agentName, "name", "", "Human-readable agent name (required)")
	agentsRegisterCmd.Flags().StringVar(&agentOwner, "owner", "", "Owner of the agent (required)")
	agentsRegisterCmd.Flags().StringVar(&agentEndpoint, "endpoint", "", "Base URL of the agent's A2A endpoint")
	agentsRegisterCmd.Flags().StringArrayVar(&agentScopes, "scope", nil, "Scope the agent exposes (repeatable)")
	agentsRegisterCmd.MarkFlagRequired("key")
	agentsRegisterCmd.MarkFlagRequired("name")
	agentsRegisterCmd.MarkFlagRequired("owner")

	agentsCmd.AddCommand(agentsRegisterCmd)
	agentsCmd.AddCommand(agentsListCmd)
	agentsCmd.AddCommand(agentsDeactivateCmd)
	agentsCmd.AddCommand(agentsRotateCmd)
}

func runAgentsRegister(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	reg := registry.New(db)
	card, secret, err := reg.Register(&models.AgentCard{
		Key:      agentKey,
		Name:     agentName,
		Owner:    agentOwner,
		Endpoint: agentEndpoint,
		Scopes:   agentScopes,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Registered agent %s (%s)\n", card.Key, card.ID)
	fmt.Printf("  client_id:     %s\n", card.ClientID)
	fmt.Printf("  client_secret: %s\n", secret)
	color.Yellow("Store the client secret now; it is not shown again.")
	return nil
}

func runAgentsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	agents, err := registry.New(db).List()
	if err != nil {
		return err
	}
	if len(agents) == 0 {
		fmt.Println("No agents registered.")
		return nil
	}

	for _, a := range agents {
		status := "active"
		if !a.Active {
			status = "inactive"
		}
		fmt.Printf("%s  %-20s %-10s %s\n", a.ID, a.Key, status, a.Endpoint)
		if len(a.Scopes) > 0 {
			fmt.Printf("  scopes: %s\n", strings.Join(a.Scopes, " "))
		}
	}
	return nil
}

func runAgentsDeactivate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := registry.New(db).Deactivate(args[0]); err != nil {
		return err
	}
	fmt.Printf("Deactivated agent %s\n", args[0])
	return nil
}

func runAgentsRotate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	secret, err := registry.New(db).RotateSecret(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("New client secret: %s\n", secret)
	color.Yellow("Store the client secret now; it is not shown again.")
	return nil
}
