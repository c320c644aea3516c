package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-clusterstore/pkg/auth"
)

func newTokenCmd(opts *cliOptions) *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the admin API",
		Long: `Issue a bearer token signed with the configured http.jwt_secret.

Examples:
  clusterstore token --subject ops
  curl -H "Authorization: Bearer $(clusterstore token --subject ops)" -X DELETE localhost:8080/membership`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.HTTP.JWTSecret == "" {
				return errors.New("http.jwt_secret is not configured")
			}

			m, err := auth.NewJWTManager(cfg.HTTP.JWTSecret, ttl)
			if err != nil {
				return err
			}
			token, err := m.GenerateToken(subject, role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Who the token is for")
	cmd.Flags().StringVar(&role, "role", auth.RoleAdmin, "Role to grant (admin or viewer)")
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTokenDuration, "Token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
