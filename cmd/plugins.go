package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"courseframework/internal/api"
	"courseframework/internal/config"
	"courseframework/pkg/access"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newPluginsCommand(envFile *string) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Boot the built-in plugins once and print their status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			rt, err := setup(ctx, *envFile)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			results := rt.host.Registry().InitializeEach(ctx, rt.loader.PluginConfigs())
			for id, res := range results {
				if res.Err != nil {
					rt.logger.Warn("Plugin failed to initialize", zap.String("plugin", id), zap.Error(res.Err))
				}
			}

			statuses := rt.host.Registry().Statuses()
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(statuses)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tVERSION\tINITIALIZED\tERROR")
			for _, s := range statuses {
				errText := ""
				if res, ok := results[s.ID]; ok && res.Err != nil {
					errText = res.Err.Error()
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\n", s.ID, s.Name, s.Version, s.Initialized, errText)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print statuses as JSON")
	return cmd
}

func newTokenCommand(envFile *string) *cobra.Command {
	var (
		role     string
		tenantID string
		perms    []string
		admin    bool
		ttl      time.Duration
		subject  string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a signed access token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.LoadSettings(*envFile)
			if err != nil {
				return fmt.Errorf("failed to load settings: %w", err)
			}
			if settings.JWTSecret == "" {
				return fmt.Errorf("COURSEFW_JWT_SECRET must be set")
			}

			actx := access.Context{
				Role:          access.ParseRole(role),
				Permissions:   access.NewPermissions(perms...),
				TenantID:      tenantID,
				IsSystemAdmin: admin,
			}
			token, err := api.NewTokens(settings.JWTSecret).GenerateToken(api.ClaimsFor(subject, actx, ttl))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&role, "role", string(access.RoleMember), "role: admin, owner or member")
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	cmd.Flags().StringSliceVar(&perms, "perm", []string{access.PermissionView}, "permission to grant (repeatable)")
	cmd.Flags().BoolVar(&admin, "system-admin", false, "mark the caller as a system administrator")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	cmd.Flags().StringVar(&subject, "subject", "cli", "token subject")
	return cmd
}
