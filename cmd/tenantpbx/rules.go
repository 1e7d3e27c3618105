package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tenantpbx/tenantpbx/internal/database"
	"github.com/tenantpbx/tenantpbx/internal/rules"
	"github.com/tenantpbx/tenantpbx/internal/xmldoc"
)

// scopeFlags selects the tenant rule set or the default rules.
type scopeFlags struct {
	tenant   string
	defaults bool
}

func (f *scopeFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.tenant, "tenant", "", "tenant whose rules to use")
	cmd.Flags().BoolVar(&f.defaults, "default", false, "use the global default rules")
	cmd.MarkFlagsMutuallyExclusive("tenant", "default")
	cmd.MarkFlagsOneRequired("tenant", "default")
}

func (f *scopeFlags) scope(svc *rules.Service) *rules.Scope {
	if f.defaults {
		return svc.Defaults()
	}
	return svc.Tenant(f.tenant)
}

func newImportCmd(a *app) *cobra.Command {
	var (
		flags scopeFlags
		by    string
	)
	cmd := &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Create every rule in a YAML rule file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening rule file: %w", err)
			}
			defer f.Close()

			db, err := a.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			svc, release, err := a.ruleService(cmd.Context(), db)
			if err != nil {
				return err
			}
			defer release()

			n, err := flags.scope(svc).Import(cmd.Context(), f, by)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d rules\n", n)
			return nil
		},
	}
	flags.bind(cmd)
	cmd.Flags().StringVar(&by, "by", "cli", "editor recorded on the imported rules")
	return cmd
}

func newRenderCmd(a *app) *cobra.Command {
	var (
		domain      string
		ruleContext string
	)
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Print the dialplan document for a domain, or the default document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if ruleContext == "" {
				ruleContext = a.cfg.DefaultContext
			}

			db, err := a.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := cmd.Context()
			svc := rules.NewService(
				database.NewDialplanRuleRepository(db),
				database.NewDefaultRuleRepository(db),
				a.cfg.DefaultContext,
				nil, nil, a.logger,
			)

			var doc string
			if domain == "" || ruleContext == a.cfg.DefaultContext {
				rs, err := svc.Defaults().List(ctx, ruleContext, false)
				if err != nil {
					return err
				}
				if doc, err = xmldoc.RenderDefault(ruleContext, rs); err != nil {
					return err
				}
			} else {
				tenant, err := database.NewTenantRepository(db).TenantForDomain(ctx, domain)
				if err != nil {
					return err
				}
				if tenant == "" {
					return fmt.Errorf("no tenant owns domain %q", domain)
				}
				rs, err := svc.Tenant(tenant).List(ctx, ruleContext, false)
				if err != nil {
					return err
				}
				if doc, err = xmldoc.RenderDomain(domain, ruleContext, rs); err != nil {
					return err
				}
			}

			fmt.Fprintln(cmd.OutOrStdout(), doc)
			return nil
		},
	}
	cmd.Flags().StringVar(&domain, "domain", "", "SIP domain to render (empty renders the default document)")
	cmd.Flags().StringVar(&ruleContext, "context", "", "dialplan context (defaults to default-context)")
	return cmd
}

func newCheckCmd(a *app) *cobra.Command {
	var flags scopeFlags
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Re-validate every stored rule and report problems",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := a.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			svc := rules.NewService(
				database.NewDialplanRuleRepository(db),
				database.NewDefaultRuleRepository(db),
				a.cfg.DefaultContext,
				nil, nil, a.logger,
			)
			result, err := flags.scope(svc).Check(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, issue := range result.Issues {
				fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", issue.Severity, issue.Context, issue.RuleID, issue.Message)
			}
			fmt.Fprintf(out, "%d rules checked, %d issues\n", result.Rules, len(result.Issues))
			if !result.Valid {
				return errors.New("rule check failed")
			}
			return nil
		},
	}
	flags.bind(cmd)
	return cmd
}
