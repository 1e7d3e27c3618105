package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/tenantpbx/tenantpbx/internal/database"
	"github.com/tenantpbx/tenantpbx/internal/database/models"
)

func newTenantCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants and their SIP domains",
	}
	cmd.AddCommand(newTenantCreateCmd(a), newTenantListCmd(a))
	return cmd
}

func newTenantCreateCmd(a *app) *cobra.Command {
	var (
		id      string
		domains []string
	)
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a tenant and assign its domains",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			if name == "" {
				return errors.New("tenant name must not be empty")
			}
			if id == "" {
				id = uuid.NewString()
			}

			db, err := a.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := cmd.Context()
			tenants := database.NewTenantRepository(db)
			if err := tenants.Create(ctx, &models.Tenant{ID: id, Name: name}); err != nil {
				return err
			}
			for _, d := range domains {
				if err := tenants.AddDomain(ctx, id, d); err != nil {
					return fmt.Errorf("assigning domain %s: %w", d, err)
				}
			}

			a.logger.Info("tenant created", "tenant", id, "name", name, "domains", domains)
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "tenant id (generated if empty)")
	cmd.Flags().StringSliceVar(&domains, "domain", nil, "SIP domain owned by the tenant (repeatable)")
	return cmd
}

func newTenantListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tenants and their domains",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := a.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := cmd.Context()
			tenants := database.NewTenantRepository(db)
			list, err := tenants.List(ctx)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tDOMAINS")
			for _, t := range list {
				domains, err := tenants.ListDomains(ctx, t.ID)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", t.ID, t.Name, strings.Join(domains, ","))
			}
			return tw.Flush()
		},
	}
}
