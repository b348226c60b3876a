package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lead-radar/internal/model"
)

var (
	refreshAccount string
	refreshUser    string
)

var refreshCmd = &cobra.Command{
	Use:   "refresh <City,ST> [<City,ST>...]",
	Short: "Force a cache refresh for one or more markets",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		tenant := model.Tenant{AccountID: refreshAccount, UserID: refreshUser}
		for _, arg := range args {
			scope, err := parseScope(arg)
			if err != nil {
				return err
			}
			res, err := env.Radar.Refresh(ctx, tenant, scope)
			if err != nil {
				return err
			}
			zap.L().Info("scope refreshed",
				zap.String("scope", scope.Key()),
				zap.Int("properties", res.Properties),
				zap.Bool("stale", res.Stale),
			)
		}
		return nil
	},
}

func init() {
	refreshCmd.Flags().StringVar(&refreshAccount, "account", "", "account ID for quota accounting")
	refreshCmd.Flags().StringVar(&refreshUser, "user", "", "user ID recorded with usage events")
	rootCmd.AddCommand(refreshCmd)
}
