package main

import (
	"errors"
	"fmt"

	"course-intake/pkg/token"

	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	var (
		userID   uint
		username string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development access token signed with the configured secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.JWT.Secret == "" {
				return errors.New("jwt.secret is not configured")
			}
			tok, err := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours).GenerateToken(userID, username)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().UintVar(&userID, "user-id", 1, "User ID to embed in the token")
	cmd.Flags().StringVar(&username, "username", "dev", "Username to embed in the token")
	return cmd
}
