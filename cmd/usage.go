package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/lead-radar/internal/model"
	"github.com/sells-group/lead-radar/internal/usage"
)

var (
	tenantAccount   string
	tenantUser      string
	usageWindowDays int
)

// addTenantFlags attaches the shared account/user flags.
func addTenantFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&tenantAccount, "account", "", "account ID (empty for global)")
	cmd.Flags().StringVar(&tenantUser, "user", "", "user ID")
}

func tenantFlagsValue() model.Tenant {
	return model.Tenant{AccountID: tenantAccount, UserID: tenantUser}
}

func accountLabel(accountID string) string {
	if accountID == "" {
		return usage.GlobalAccount
	}
	return accountID
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show metered usage, quota state, and recent alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		tenant := tenantFlagsValue()

		snap, err := env.Usage.Snapshot(ctx, tenant)
		if err != nil {
			return err
		}
		fmt.Printf("account %s on plan %s (%s)\n\n", accountLabel(tenant.AccountID), snap.PlanDisplayName, snap.PlanName)
		for _, q := range snap.Quotas {
			fmt.Printf("  %-28s %4d/%-4d used (%d days) [%s]\n",
				q.EventType, q.Used, q.Limit, q.WindowDays, q.Status)
		}

		summaries, err := env.Usage.Summary(ctx, tenant, usageWindowDays, "")
		if err != nil {
			return err
		}
		if len(summaries) > 0 {
			fmt.Println("\nrecent activity:")
			for _, s := range summaries {
				last := ""
				if s.LastEventAt != nil {
					last = s.LastEventAt.Format("2006-01-02 15:04")
				}
				fmt.Printf("  %-28s %4d events  last %s\n", s.EventType, s.Count, last)
			}
		}

		alerts, err := env.Usage.RecentAlerts(ctx, tenant, 5)
		if err != nil {
			return err
		}
		if len(alerts) > 0 {
			fmt.Println("\nrecent alerts:")
			for _, a := range alerts {
				fmt.Printf("  [%s] %s  %s\n", a.Status, a.CreatedAt.Format("2006-01-02 15:04"), a.Message)
			}
		}
		return nil
	},
}

var usageHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show per-day usage counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		entries, err := env.Usage.History(ctx, tenantFlagsValue(), usageWindowDays)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("%s  %-28s %d\n", e.Date, e.EventType, e.Count)
		}
		return nil
	},
}

func init() {
	usageCmd.PersistentFlags().StringVar(&tenantAccount, "account", "", "account ID (empty for global)")
	usageCmd.PersistentFlags().StringVar(&tenantUser, "user", "", "user ID")
	usageCmd.PersistentFlags().IntVar(&usageWindowDays, "window", 30, "trailing window in days")
	usageCmd.AddCommand(usageHistoryCmd)
	rootCmd.AddCommand(usageCmd)
}
