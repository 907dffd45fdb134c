package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/garyjia/procurement-lifecycle/internal/application/workflow"
	"github.com/garyjia/procurement-lifecycle/internal/config"
	"github.com/garyjia/procurement-lifecycle/internal/container"
	"github.com/garyjia/procurement-lifecycle/internal/domain/entity"
	"github.com/garyjia/procurement-lifecycle/internal/domain/permission"
	"github.com/garyjia/procurement-lifecycle/internal/domain/registry"
	domainwf "github.com/garyjia/procurement-lifecycle/internal/domain/workflow"
	"github.com/garyjia/procurement-lifecycle/internal/infrastructure/export"
)

func migrateCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			if cfg.Database.Driver != config.DriverSQLite {
				return fmt.Errorf("migrate requires the %s driver, configured %q", config.DriverSQLite, cfg.Database.Driver)
			}

			db, err := container.OpenDatabase(cfg.Database, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := container.Migrate(cmd.Context(), db, cfg.Database, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s) to %s\n", applied, cfg.Database.Path)
			return nil
		},
	}
}

func registryCmd(opts *globalOptions) *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:   "registry [type]",
		Short: "Print the lifecycle of one or every document type",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := registry.New()
			gate := permission.NewGate()

			types := reg.Types()
			if len(args) == 1 {
				t := entity.Type(strings.ToUpper(args[0]))
				if !t.IsValid() {
					return fmt.Errorf("unknown document type %q", args[0])
				}
				types = []entity.Type{t}
			}

			r := permission.Role(strings.ToUpper(role))
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, t := range types {
				fmt.Fprintf(w, "%s (initial %s)\n", t, reg.InitialState(t))
				fmt.Fprintln(w, "FROM\tTRANSITION\tTO\tGUARDED\tROLES")
				for _, from := range reg.LegalStates(t).Slice() {
					for _, edge := range reg.LegalTransitions(t, from) {
						if r != "" && !gate.Allowed(r, t, edge.Trigger) {
							continue
						}
						fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", from, edge.Trigger, edge.ToState, edge.Guarded, joinRoles(gate.AllowedRoles(t, edge.Trigger)))
					}
				}
				fmt.Fprintln(w)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&role, "role", "", "Only list transitions this role may fire")
	return cmd
}

type actorFlags struct {
	actorID   string
	role      string
	attemptID string
}

func (a *actorFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&a.actorID, "actor", "", "Acting user id")
	cmd.Flags().StringVar(&a.role, "role", "", "Acting role (ADMIN, BUYER, MANAGER, FINANCE, VENDOR, USER)")
	cmd.Flags().StringVar(&a.attemptID, "attempt", "", "Idempotency key; generated when empty")
	_ = cmd.MarkFlagRequired("actor")
	_ = cmd.MarkFlagRequired("role")
}

// attempt returns the attempt id, generating one and reporting it so a retry can reuse it
func (a *actorFlags) attempt(cmd *cobra.Command) string {
	if a.attemptID == "" {
		a.attemptID = uuid.NewString()
		fmt.Fprintf(cmd.ErrOrStderr(), "attempt id: %s\n", a.attemptID)
	}
	return a.attemptID
}

func transitionCmd(opts *globalOptions) *cobra.Command {
	actor := &actorFlags{}

	cmd := &cobra.Command{
		Use:   "transition <entity-id> <transition>",
		Short: "Request a named transition on a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := workflow.TransitionRequest{
				EntityID:   args[0],
				Transition: domainwf.Trigger(strings.ToUpper(args[1])),
				ActorID:    actor.actorID,
				ActorRole:  permission.Role(strings.ToUpper(actor.role)),
				AttemptID:  actor.attempt(cmd),
			}
			return opts.withContainer(cmd.Context(), func(c *container.Container) error {
				res, err := c.Core().Orchestrator.RequestTransition(cmd.Context(), req)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}

	actor.bind(cmd)
	return cmd
}

func deriveInvoiceCmd(opts *globalOptions) *cobra.Command {
	actor := &actorFlags{}

	cmd := &cobra.Command{
		Use:   "derive-invoice <goods-receipt-id>",
		Short: "Raise a draft invoice from an accepted goods receipt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := workflow.DeriveInvoiceRequest{
				GoodsReceiptID: args[0],
				ActorID:        actor.actorID,
				ActorRole:      permission.Role(strings.ToUpper(actor.role)),
				AttemptID:      actor.attempt(cmd),
			}
			return opts.withContainer(cmd.Context(), func(c *container.Container) error {
				res, err := c.Core().Orchestrator.DeriveInvoice(cmd.Context(), req)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}

	actor.bind(cmd)
	return cmd
}

func sweepCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run every sweeper once: overdue invoices and expired budgets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withContainer(cmd.Context(), func(c *container.Container) error {
				handled, err := c.Workers().RunOnce(cmd.Context())
				for name, n := range handled {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %d\n", name, n)
				}
				return err
			})
		},
	}
}

func exportHistoryCmd(opts *globalOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export-history <entity-id>",
		Short: "Write a document's transition history to an Excel workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withContainer(cmd.Context(), func(c *container.Container) error {
				orch := c.Core().Orchestrator
				e, err := orch.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				records, err := orch.History(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				path := output
				if path == "" {
					path = export.Filename(e)
				}
				if err := c.Exporter().SaveAs(path, e, records); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %d record(s) to %s\n", len(records), path)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output path; defaults to <type>-<id>-history.xlsx")
	return cmd
}

func joinRoles(roles []permission.Role) string {
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.String())
	}
	return strings.Join(names, ",")
}
