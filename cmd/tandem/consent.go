package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tandem-dev/tandem/internal/consent"
)

var (
	consentUser   string
	consentFrom   string
	consentTo     string
	consentScopes []string
	consentTTL    time.Duration
)

var consentCmd = &cobra.Command{
	Use:   "consent",
	Short: "Manage delegation consents",
	Long: `Manage per-user consents for agent-to-agent delegation.

A delegation from one agent to another on a user's behalf is only
authorized while that user holds an effective consent covering the task's
scopes. Without one the task is rejected.`,
}

var consentGrantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Grant a delegation consent",
	Long: `Grant a user's consent for one agent to delegate to another.

Granting again for the same (user, from, to) tuple updates the existing
consent in place; there is never more than one row per tuple.

Examples:
  tandem consent grant --user alice --from planner --to reviewer \
    --scope code:read --scope code:review
  tandem consent grant --user alice --from planner --to reviewer \
    --scope code:read --ttl 24h`,
	Args: cobra.NoArgs,
	RunE: runConsentGrant,
}

var consentRevokeCmd = &cobra.Command{
	Use:   "revoke <consent-id>",
	Short: "Revoke a consent",
	Long: `Revoke a consent. Tasks already authorized under it proceed;
new delegations are rejected from this point on.`,
	Args: cobra.ExactArgs(1),
	RunE: runConsentRevoke,
}

var consentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's consents",
	Args:  cobra.NoArgs,
	RunE:  runConsentList,
}

func init() {
	consentGrantCmd.Flags().StringVar(&consentUser, "user", "", "User granting the consent (required)")
	consentGrantCmd.Flags().StringVar(&consentFrom, "from", "", "Delegating agent key (required)")
	consentGrantCmd.Flags().StringVar(&consentTo, "to", "", "Performing agent key (required)")
	consentGrantCmd.Flags().StringArrayVar(&consentScopes, "scope", nil, "Scope covered by the consent (repeatable)")
	consentGrantCmd.Flags().DurationVar(&consentTTL, "ttl", 0, "Expiry relative to now (0 means no expiry)")
	consentGrantCmd.MarkFlagRequired("user")
	consentGrantCmd.MarkFlagRequired("from")
	consentGrantCmd.MarkFlagRequired("to")

	consentListCmd.Flags().StringVar(&consentUser, "user", "", "User whose consents to list (required)")
	consentListCmd.MarkFlagRequired("user")

	consentCmd.AddCommand(consentGrantCmd)
	consentCmd.AddCommand(consentRevokeCmd)
	consentCmd.AddCommand(consentListCmd)
}

func runConsentGrant(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	var expiresAt *time.Time
	if consentTTL > 0 {
		at := time.Now().UTC().Add(consentTTL)
		expiresAt = &at
	}

	c, err := consent.New(db).Grant(consentUser, consentFrom, consentTo, consentScopes, expiresAt)
	if err != nil {
		return err
	}

	fmt.Printf("Consent %s: %s may delegate to %s for %s\n", c.ID, c.FromAgent, c.ToAgent, c.User)
	if c.ExpiresAt != nil {
		fmt.Printf("  expires %s\n", c.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

func runConsentRevoke(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := consent.New(db).Revoke(args[0]); err != nil {
		return err
	}
	fmt.Printf("Revoked consent %s\n", args[0])
	return nil
}

func runConsentList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	consents, err := consent.New(db).ListByUser(consentUser)
	if err != nil {
		return err
	}
	if len(consents) == 0 {
		fmt.Printf("No consents for %s.\n", consentUser)
		return nil
	}

	now := time.Now().UTC()
	for _, c := range consents {
		status := "effective"
		switch {
		case c.RevokedAt != nil:
			status = "revoked"
		case c.ExpiresAt != nil && !c.ExpiresAt.After(now):
			status = "expired"
		case !c.Granted:
			status = "not granted"
		}
		fmt.Printf("%s  %s -> %s  %-10s scopes: %s\n",
			c.ID, c.FromAgent, c.ToAgent, status, strings.Join(c.Scopes, " "))
	}
	return nil
}
