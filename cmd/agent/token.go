package agent

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/db-monitor/pkg/auth"
	"github.com/db-monitor/pkg/config"
)

// tokenCmd 为指定 owner 签发访问 /api 的令牌（运维/联调用）
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API token for an owner id",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfigWithCli(cmd)
		if err != nil {
			return err
		}
		user, _ := cmd.Flags().GetString("user")
		email, _ := cmd.Flags().GetString("email")
		token, err := auth.NewJWTAuth(cfg.Auth).GenerateToken(user, email)
		if err != nil {
			return fmt.Errorf("issue token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().String("user", "", "owner id（即 user_id）")
	tokenCmd.Flags().String("email", "", "可选邮箱")
	_ = tokenCmd.MarkFlagRequired("user")
}
