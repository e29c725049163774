package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jgoulah/plugshare/internal/auth"
)

var (
	tokenRole string
	tokenTTL  time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token <email>",
	Short: "Mint an HS256 token for local development",
	Long: `Signs a token with the configured jwt_secret. Use it as a Bearer header or an
auth_token cookie when calling the API without the identity provider.`,
	Args: cobra.ExactArgs(1),
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenRole, "role", auth.RoleMember, "Role claim (member or admin)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if tokenRole != auth.RoleMember && tokenRole != auth.RoleAdmin {
		return fmt.Errorf("unknown role %q", tokenRole)
	}

	tok, err := auth.Mint(cfg.Auth.JWTSecret, args[0], tokenRole, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}
