package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "List the subscribable plan tiers and their quotas",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		for _, def := range env.Usage.Plans() {
			fmt.Printf("%s (%s) %s\n", def.DisplayName, def.Name, def.Price)
			if def.Description != "" {
				fmt.Printf("  %s\n", def.Description)
			}

			eventTypes := make([]string, 0, len(def.Limits))
			for et := range def.Limits {
				eventTypes = append(eventTypes, et)
			}
			sort.Strings(eventTypes)
			for _, et := range eventTypes {
				lim := def.Limits[et]
				fmt.Printf("  %-28s %5d / %d days\n", et, lim.Limit, lim.WindowDays)
			}
			fmt.Println()
		}
		return nil
	},
}

var selectPlanCmd = &cobra.Command{
	Use:   "select <plan>",
	Short: "Subscribe an account to a plan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		tenant := tenantFlagsValue()
		if err := env.Usage.SelectPlan(cmd.Context(), tenant, args[0]); err != nil {
			return err
		}
		fmt.Printf("subscribed %s to %s\n", accountLabel(tenant.AccountID), args[0])
		return nil
	},
}

func init() {
	addTenantFlags(selectPlanCmd)
	plansCmd.AddCommand(selectPlanCmd)
	rootCmd.AddCommand(plansCmd)
}
