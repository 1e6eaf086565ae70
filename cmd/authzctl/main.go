// Command authzctl is the operator CLI: schema migrations, session
// revocation and sweeping, and offline module and policy checks against
// the live database.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/config"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/ids"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/migrate"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/module"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/obs"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/policy"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/session"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/store/pg"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/tenant"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/migrations"
)

type globals struct {
	configPath string
	envFile    string
	dsn        string
	timeout    time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "authzctl",
		Short:         "Operator tooling for the HRMS authorization core",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = godotenv.Load(g.envFile)
			obs.Init(obs.LogConfig{Env: "dev", Level: "warn", Service: "authzctl"})
		},
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", os.Getenv("HRMS_CONFIG"), "path to YAML config")
	root.PersistentFlags().StringVar(&g.envFile, "env-file", ".env", "optional dotenv file")
	root.PersistentFlags().StringVar(&g.dsn, "dsn", "", "PostgreSQL DSN (overrides config and HRMS_PG_DSN)")
	root.PersistentFlags().DurationVar(&g.timeout, "timeout", 30*time.Second, "overall command timeout")

	root.AddCommand(newMigrateCmd(g), newSessionsCmd(g), newModulesCmd(g), newPolicyCmd(g))
	return root
}

// open resolves the DSN and returns a store plus a context bounded by --timeout.
func (g *globals) open(cmd *cobra.Command) (context.Context, *pg.Store, func(), error) {
	dsn := g.dsn
	if dsn == "" {
		cfg, err := config.Load(g.configPath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("load config: %w", err)
		}
		dsn = cfg.Storage.DSN
	}
	if dsn == "" {
		return nil, nil, nil, errors.New("missing DSN: provide --dsn, storage.dsn or HRMS_PG_DSN")
	}
	store, err := pg.Open(dsn)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open db: %w", err)
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
	return ctx, store, func() {
		cancel()
		_ = store.Close()
	}, nil
}

func newMigrateCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{Use: "migrate", Short: "Apply or inspect schema migrations"}

	run := func(fn func(ctx context.Context, m *migrate.Manager, cmd *cobra.Command) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			ctx, store, done, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer done()
			m := migrate.NewManager(store.DB(), migrations.FS, migrations.SchemaDir, migrations.SeedsDir)
			return fn(ctx, m, cmd)
		}
	}
	printList := func(cmd *cobra.Command, verb string, names []string) {
		if len(names) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "up to date")
			return
		}
		for _, n := range names {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", verb, n)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			RunE: run(func(ctx context.Context, m *migrate.Manager, cmd *cobra.Command) error {
				applied, err := m.Up(ctx)
				printList(cmd, "applied", applied)
				return err
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			RunE: run(func(ctx context.Context, m *migrate.Manager, cmd *cobra.Command) error {
				name, err := m.Down(ctx)
				if errors.Is(err, migrate.ErrNothingApplied) {
					fmt.Fprintln(cmd.OutOrStdout(), "nothing to roll back")
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rolled back %s\n", name)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "seed",
			Short: "Apply seed files not yet applied",
			RunE: run(func(ctx context.Context, m *migrate.Manager, cmd *cobra.Command) error {
				applied, err := m.Seed(ctx)
				printList(cmd, "seeded", applied)
				return err
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "List applied migrations in order",
			RunE: run(func(ctx context.Context, m *migrate.Manager, cmd *cobra.Command) error {
				history, err := m.Status(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				for _, a := range history {
					fmt.Fprintf(tw, "%s\t%s\n", a.Name, a.AppliedAt.UTC().Format(time.RFC3339))
				}
				return tw.Flush()
			}),
		},
	)
	return cmd
}

func newSessionsCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{Use: "sessions", Short: "Inspect and revoke refresh sessions"}

	var (
		reason      string
		requestedBy string
		fromNode    bool
	)
	revoke := &cobra.Command{
		Use:   "revoke <session-id>",
		Short: "Revoke the chain a session belongs to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, store, done, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer done()
			rev := session.Revocation{Reason: reason, RequestedBy: requestedBy, Scope: session.ScopeChain}
			if fromNode {
				rev.Scope = session.ScopeFromNode
			}
			n, err := session.NewService(store.Sessions()).RevokeChain(ctx, args[0], rev)
			if errors.Is(err, session.ErrNotFound) {
				return fmt.Errorf("session %s not found", args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %d session(s)\n", n)
			return nil
		},
	}
	revoke.Flags().StringVar(&reason, "reason", session.ReasonAdmin, "revocation reason")
	revoke.Flags().StringVar(&requestedBy, "requested-by", "operator", "who asked for the revocation")
	revoke.Flags().BoolVar(&fromNode, "from-node", false, "revoke only this node and its successors")

	chain := &cobra.Command{
		Use:   "chain <session-id>",
		Short: "Print every node of a session's chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, store, done, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer done()
			nodes, err := session.NewService(store.Sessions()).Chain(ctx, args[0])
			if err != nil {
				return err
			}
			now := time.Now().UTC()
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "GEN\tID\tDEVICE\tSTATE\tEXPIRES\tREASON")
			for _, s := range nodes {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
					s.Generation, s.ID, s.DeviceID, s.StateAt(now), s.ExpiresAt.Format(time.RFC3339), s.RevokeReason)
			}
			return tw.Flush()
		},
	}

	var retention time.Duration
	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Delete chains that expired before the retention window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, store, done, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer done()
			sw := &session.Sweeper{Repo: store.Sessions(), Retention: retention}
			n, err := sw.SweepOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d session(s)\n", n)
			return nil
		},
	}
	sweep.Flags().DurationVar(&retention, "retention", 7*24*time.Hour, "keep expired chains this long")

	cmd.AddCommand(revoke, chain, sweep)
	return cmd
}

func newModulesCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{Use: "modules", Short: "Module subscription checks"}
	cmd.AddCommand(&cobra.Command{
		Use:   "check <tenant-id> <module-key>",
		Short: "Report whether a module is active for a tenant",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, store, done, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer done()
			active, err := module.NewGate(store.Modules()).IsModuleActive(ctx, tenant.ID(args[0]), args[1])
			if err != nil {
				return err
			}
			state := "inactive"
			if active {
				state = "active"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", args[0], args[1], state)
			return nil
		},
	})
	return cmd
}

func newPolicyCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{Use: "policy", Short: "Evaluate and list authorization rules"}

	var (
		tenantID string
		actor    string
		target   string
		resource string
		action   string
		roles    []string
	)
	check := &cobra.Command{
		Use:   "check",
		Short: "Evaluate one request against the rule table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, store, done, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer done()
			people := store.People()
			engine, err := policy.NewEngine(policy.DefaultTable(), people)
			if err != nil {
				return err
			}
			tid := tenant.ID(tenantID)
			// Without explicit roles, use what the directory grants the actor.
			if len(roles) == 0 {
				if uid, ok := ids.ParseUser(actor); ok {
					if p, err := people.Person(ctx, tid, uid); err == nil {
						roles = p.Roles
					}
				}
			}
			d, err := engine.Evaluate(ctx, policy.Request{
				TenantID:     tid,
				ActorUserID:  actor,
				TargetUserID: target,
				Resource:     resource,
				Action:       action,
				Roles:        roles,
			})
			if err != nil {
				return err
			}
			verdict := "deny"
			if d.Allowed {
				verdict = "allow"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (roles: %s)\n", verdict, d.Reason, strings.Join(roles, ","))
			return nil
		},
	}
	check.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	check.Flags().StringVar(&actor, "actor", "", "actor user id")
	check.Flags().StringVar(&target, "target", "", "target user id")
	check.Flags().StringVar(&resource, "resource", "", "resource name")
	check.Flags().StringVar(&action, "action", "", "action name")
	check.Flags().StringSliceVar(&roles, "role", nil, "role claimed by the actor (repeatable)")
	_ = check.MarkFlagRequired("tenant")
	_ = check.MarkFlagRequired("actor")

	rules := &cobra.Command{
		Use:   "rules",
		Short: "List every declared resource and action with its rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			table := policy.DefaultTable()
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RESOURCE\tACTION\tRULES")
			for _, p := range table.Pairs() {
				var names []string
				for _, r := range table.Rules(p[0], p[1]) {
					names = append(names, r.Reason)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", p[0], p[1], strings.Join(names, ", "))
			}
			return tw.Flush()
		},
	}

	cmd.AddCommand(check, rules)
	return cmd
}
