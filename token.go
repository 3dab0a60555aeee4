package main

import (
	"fmt"
	"time"

	"splitpay-api/config"
	"splitpay-api/middleware"
	"splitpay-api/models"

	"github.com/spf13/cobra"
)

var (
	tokenSubject string
	tokenOrg     uint
	tokenRole    string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a staff JWT for local development",
	Long: `Issue a staff JWT signed with auth.jwt_secret.

Production tokens come from the organization's auth service; this is for
exercising the staff routes locally.

Examples:
  splitpay token --subject ana --org 1
  splitpay token --subject root --org 1 --role admin --ttl 1h`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		role := models.StaffRole(tokenRole)
		if role != models.RoleStaff && role != models.RoleAdmin {
			return fmt.Errorf("unknown role %q, want staff or admin", tokenRole)
		}
		token, err := middleware.GenerateToken([]byte(cfg.Auth.JWTSecret), tokenSubject, tokenOrg, role, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "staff member id")
	tokenCmd.Flags().UintVar(&tokenOrg, "org", 0, "organization id")
	tokenCmd.Flags().StringVar(&tokenRole, "role", string(models.RoleStaff), "staff or admin")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 12*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("subject")
	_ = tokenCmd.MarkFlagRequired("org")
}
