package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tandem-dev/tandem/pkg/models"
)

var (
	auditTaskUID string
	auditLimit   int
	auditJSON    bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the delegation audit log",
	Long: `Inspect the append-only audit log of delegation activity.

Every protocol step (submission, consent decisions, delivery, completion)
is recorded with the task, both agents, the user, and a timestamp.

Examples:
  tandem audit                 # Most recent entries
  tandem audit --task <uid>    # Full history of one task
  tandem audit --json | jq .`,
	Args: cobra.NoArgs,
	RunE: runAuditLog,
}

func init() {
	auditCmd.Flags().StringVar(&auditTaskUID, "task", "", "Show entries for one task UID")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 50, "Max entries to show")
	auditCmd.Flags().BoolVar(&auditJSON, "json", false, "Output in JSON format")
}

func runAuditLog(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	var entries []*models.AuditEntry
	if auditTaskUID != "" {
		entries, err = db.ListAuditByTask(auditTaskUID)
	} else {
		entries, err = db.ListAudit(auditLimit)
	}
	if err != nil {
		return err
	}

	if auditJSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(entries)
	}

	if len(entries) == 0 {
		fmt.Println("No audit entries.")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%s  %-18s %s -> %s  user=%s task=%s\n",
			e.CreatedAt.Format(time.RFC3339), e.Action, e.FromAgent, e.ToAgent, e.User, e.TaskUID)
		if e.Detail != "" {
			fmt.Printf("    %s\n", e.Detail)
		}
	}
	return nil
}
