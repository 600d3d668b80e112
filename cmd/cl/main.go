package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"caseline/internal/alerts"
	"caseline/internal/app"
	"caseline/internal/compliance"
	"caseline/internal/config"
	"caseline/internal/db"
	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/repo"
	"caseline/internal/server"
	"caseline/internal/stage"
)

var rootCmd = &cobra.Command{
	Use:   "cl",
	Short: "Caseline CLI",
	Long: `Caseline moves funeral-home cases through a fixed stage workflow and raises alerts when work falls behind.
- Stages: NEW -> INTAKE -> DOCUMENTS -> QUOTE -> SCHEDULED -> SERVICE_DAY -> COMPLETED, one step at a time.
- Gate: required checklist items and document requirements due by a stage must be completed, verified or waived before a case enters it.
- Alerts: sweeps evaluate rules over every open case and the home's inventory, mortuary, plots, equipment and vendor work; alerts are deduplicated and breach past their SLA.
- Workspace: the .caseline directory holding the database; caseline.yml next to it tunes rules, sweeps and webhooks.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _, err := db.EnsureWorkspace(viper.GetString("workspace")); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CASELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.StringP("config", "c", "", "config file (default <workspace>/caseline.yml)")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-user", "actor identifier")
	flags.String("role", stage.RoleAdmin, "role used for stage transitions")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")
	for _, name := range []string{"workspace", "config", "json", "actor-id", "role", "log-level", "log-format"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(caseCmd())
	rootCmd.AddCommand(gateCmd())
	rootCmd.AddCommand(checklistCmd())
	rootCmd.AddCommand(documentCmd())
	rootCmd.AddCommand(alertCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(auxCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func caseCmd() *cobra.Command {
	c := &cobra.Command{Use: "case", Short: "Manage cases"}
	c.AddCommand(caseCreateCmd())
	c.AddCommand(caseListCmd())
	c.AddCommand(caseShowCmd())
	c.AddCommand(caseStageCmd())
	c.AddCommand(caseMessageCmd())
	c.AddCommand(caseTaskCmd())
	return c
}

func caseCreateCmd() *cobra.Command {
	var opts engine.CaseCreateOptions
	var serviceDate string
	var requireDocs bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a case in the NEW stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.DeceasedName == "" {
				return fmt.Errorf("--name required")
			}
			if serviceDate != "" {
				t, err := parseTime(serviceDate)
				if err != nil {
					return fmt.Errorf("--service-date: %w", err)
				}
				opts.ServiceDate = &t
			}
			return withServices(cmd.Context(), func(ctx context.Context, s *app.Services) error {
				opts.ActorID = viper.GetString("actor-id")
				c, err := s.Engine.CreateCase(ctx, opts)
				if err != nil {
					return err
				}
				if requireDocs {
					if _, err := s.Engine.RequireConfiguredDocuments(ctx, c.ID, opts.ActorID); err != nil {
						return err
					}
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "case id (generated when empty)")
	cmd.Flags().StringVar(&opts.Reference, "reference", "", "external reference")
	cmd.Flags().StringVar(&opts.DeceasedName, "name", "", "deceased name")
	cmd.Flags().StringVar(&opts.Location, "location", "", "service location")
	cmd.Flags().StringVar(&serviceDate, "service-date", "", "service date (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().BoolVar(&requireDocs, "require-documents", false, "attach the configured required documents")
	return cmd
}

func caseListCmd() *cobra.Command {
	var f repo.CaseFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cases",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s *app.Services) error {
				cases, err := s.Engine.Repo.ListCases(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cases)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Deceased", "Stage", "Service Date", "Updated"})
				for _, c := range cases {
					tw.AppendRow(table.Row{c.ID, c.DeceasedName, c.Stage, formatTime(c.ServiceDate), c.UpdatedAt.Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Stage, "stage", "", "stage filter")
	cmd.Flags().BoolVar(&f.Open, "open", false, "only cases not yet completed")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max cases")
	return cmd
}

func caseShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <case-id>",
		Short: "Show a case with its checklist, documents and open alerts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s *app.Services) error {
				c, err := s.Engine.Repo.GetCase(ctx, args[0])
				if err != nil {
					return err
				}
				items, err := s.Engine.Repo.ListChecklistItems(ctx, s.DB, c.ID)
				if err != nil {
					return err
				}
				docs, err := s.Engine.Repo.ListDocumentRequirements(ctx, s.DB, c.ID)
				if err != nil {
					return err
				}
				open, err := s.Alerts.ListOpen(ctx, alerts.Filter{CaseID: c.ID})
				if err != nil {
					return err
				}
				detail := map[string]any{
					"case":                  c,
					"stage_meta":            stage.MetaFor(c.Stage),
					"next":                  stage.AllowedNext(c.Stage),
					"checklist":             items,
					"document_requirements": docs,
					"open_alerts":           open,
				}
				if viper.GetBool("json") {
					return printJSON(detail)
				}
				meta := stage.MetaFor(c.Stage)
				fmt.Printf("%s  %s\nstage: %s (%s)\n", c.ID, c.DeceasedName, c.Stage, meta.Label)
				if next := stage.AllowedNext(c.Stage); len(next) > 0 {
					fmt.Printf("next:  %s\n", next[0])
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Kind", "ID", "Key", "Stage", "Required", "Status"})
				for _, it := range items {
					tw.AppendRow(table.Row{"checklist", it.ID, it.ItemKey, it.RequiredStage, it.IsRequired, it.Status})
				}
				for _, d := range docs {
					tw.AppendRow(table.Row{"document", d.ID, d.DocumentType, d.RequiredStage, d.IsRequired, d.Status})
				}
				tw.Render()
				if len(open) > 0 {
					renderAlerts(open)
				}
				return nil
			})
		},
	}
	return cmd
}

func caseStageCmd() *cobra.Command {
	var force bool
	var reason string
	cmd := &cobra.Command{
		Use:   "stage <case-id> <target>",
		Short: "Move a case to the next stage through its compliance gate",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s *app.Services) error {
				res, err := s.Engine.TransitionStage(ctx, engine.TransitionRequest{
					CaseID:  args[0],
					Target:  args[1],
					Role:    viper.GetString("role"),
					ActorID: viper.GetString("actor-id"),
					Force:   force,
					Reason:  reason,
				})
				var blocked *compliance.GateBlockedError
				if errors.As(err, &blocked) && !viper.GetBool("json") {
					renderGate(blocked.Result)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				suffix := ""
				if res.Overridden {
					suffix = " (gate overridden)"
				}
				fmt.Printf("%s: %s -> %s%s\n", res.Case.ID, res.From, res.Case.Stage, suffix)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "override a blocked gate (admin only)")
	cmd.Flags().StringVar(&reason, "reason", "", "override reason")
	return cmd
}

func caseMessageCmd() *cobra.Command {
	var direction, body string
	cmd := &cobra.Command{
		Use:   "message <case-id>",
		Short: "Record a family message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s *app.Services) error {
				m, err := s.Engine.RecordMessage(ctx, domain.Message{CaseID: args[0], Direction: direction, Body: body}, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&direction, "direction", domain.DirectionInbound, "inbound or outbound")
	cmd.Flags().StringVar(&body, "body", "", "message body")
	return cmd
}

func caseTaskCmd() *cobra.Command {
	var title, due string
	cmd := &cobra.Command{
		Use:   "task <case-id>",
		Short: "Add a task to a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if title == "" {
				return fmt.Errorf("--title required")
			}
			t := domain.CaseTask{CaseID: args[0], Title: title}
			if due != "" {
				at, err := parseTime(due)
				if err != nil {
					return fmt.Errorf("--due: %w", err)
				}
				t.DueAt = &at
			}
			return withServices(cmd.Context(), func(ctx context.Context, s *app.Services) error {
				out, err := s.Engine.AddTask(ctx, t, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&due, "due", "", "due time (RFC3339 or YYYY-MM-DD)")
	return cmd
}

func gateCmd() *cobra.Command {
	g := &cobra.Command{Use: "gate", Short: "Inspect compliance gates"}
	g.AddCommand(&cobra.Command{
		Use:   "check <case-id> [target]",
		Short: "Evaluate the gate for a target stage (default: the next stage)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s *app.Services) error {
				var target stage.Stage
				if len(args) == 2 {
					t, err := stage.Require(args[1])
					if err != nil {
						return err
					}
					target = t
				} else {
					c, err := s.Engine.Repo.GetCase(ctx, args[0])
					if err != nil {
						return err
					}
					next := stage.AllowedNext(c.Stage)
					if len(next) == 0 {
						return fmt.Errorf("case %s is %s and has no next stage", c.ID, c.Stage)
					}
					target = next[0]
				}
				res, err := s.Engine.Compliance.EvaluateGate(ctx, args[0], target)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				renderGate(res)
				return nil
			})
		},
	})
	return g
}

func checklistCmd() *cobra.Command {
	c := &cobra.Command{Use: "checklist", Short: "Manage compliance checklist items"}

	var item domain.ChecklistItem
	var optional bool
	add := &cobra.Command{
		Use:   "add <case-id>",
		Short: "Add a checklist item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			item.CaseID = args[0]
			item.IsRequired = !optional
			return withServices(cmd.Context(), func(ctx context.Context, s *app.Services) error {
				out, err := s.Engine.AddChecklistItem(ctx, item, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	add.Flags().StringVar(&item.ItemKey, "key", "", "item key")
	add.Flags().StringVar(&item.Label, "label", "", "display label")
	add.Flags().StringVar(&item.Category, "category", "", "category")
	add.Flags().StringVar(&item.RequiredStage, "stage", "", "stage by which the item is due")
	add.Flags().BoolVar(&optional, "optional", false, "item does not block the gate")

	var status, reason string
	set := &cobra.Command{
		Use:   "set <item-id>",
		Short: "Set a checklist item status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s *app.Services) error {
				out, err := s.Engine.Compliance.SetChecklistStatus(ctx, compliance.ChecklistUpdate{
					ItemID:  args[0],
					Status:  status,
					ActorID: viper.GetString("actor-id"),
					Reason:  reason,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	set.Flags().StringVar(&status, "status", "", "pending, in_progress, completed or waived")
	set.Flags().StringVar(&reason, "reason", "", "waiver reason")

	c.AddCommand(add, set)
	return c
}

func documentCmd() *cobra.Command {
	c := &cobra.Command{Use: "document", Short: "Manage document requirements and received documents"}

	var req domain.DocumentRequirement
	var optional bool
	var slaDue string
	require := &cobra.Command{
		Use:   "require <case-id>",
		Short: "Add a document requirement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.CaseID = args[0]
			req.IsRequired = !optional
			if slaDue != "" {
				t, err := parseTime(slaDue)
				if err != nil {
					return fmt.Errorf("--sla-due: %w", err)
				}
				req.SLADueAt = &t
			}
			return withServices(cmd.Context(), func(ctx context.Context, s *app.Services) error {
				out, err := s.Engine.AddDocumentRequirement(ctx, req, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	require.Flags().StringVar(&req.DocumentType, "type", "", "document type")
	require.Flags().StringVar(&req.RequiredStage, "stage", "", "stage by which the document is due")
	require.Flags().BoolVar(&optional, "optional", false, "requirement does not block the gate")
	require.Flags().StringVar(&slaDue, "sla-due", "", "SLA deadline (RFC3339 or YYYY-MM-DD)")

	var status, reason string
	set := &cobra.Command{
		Use:   "set <requirement-id>",
		Short: "Set a document requirement status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s *app.Services) error {
				out, err := s.Engine.Compliance.SetDocumentStatus(ctx, compliance.DocumentUpdate{
					RequirementID: args[0],
					Status:        status,
					ActorID:       viper.GetString("actor-id"),
					Reason:        reason,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	set.Flags().StringVar(&status, "status", "", "pending, submitted, verified, rejected or waived")
	set.Flags().StringVar(&reason, "reason", "", "waiver reason")

	var doc domain.Document
	receive := &cobra.Command{
		Use:   "receive <case-id>",
		Short: "Record a received document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc.CaseID = args[0]
			return withServices(cmd.Context(), func(ctx context.Context, s *app.Services) error {
				out, err := s.Engine.AddDocument(ctx, doc, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	receive.Flags().StringVar(&doc.DocumentType, "type", "", "document type")
	receive.Flags().StringVar(&doc.FileName, "file", "", "file name")

	c.AddCommand(require, set, receive)
	return c
}

func alertCmd() *cobra.Command {
	a := &cobra.Command{Use: "alert", Short: "Inspect and resolve alerts"}

	var source, caseID string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List open alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s *app.Services) error {
				items, err := s.Alerts.ListOpen(ctx, alerts.Filter{Source: domain.AlertSource(source), CaseID: caseID, Limit: limit})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				renderAlerts(items)
				return nil
			})
		},
	}
	list.Flags().StringVar(&source, "source", "", "automation or compliance")
	list.Flags().StringVar(&caseID, "case", "", "case filter")
	list.Flags().IntVar(&limit, "limit", 50, "max alerts")

	history := &cobra.Command{
		Use:   "history <case-id>",
		Short: "List every alert raised for a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s *app.Services) error {
				items, err := s.Alerts.ListHistory(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				renderAlerts(items)
				return nil
			})
		},
	}

	resolve := &cobra.Command{
		Use:   "resolve <alert-id>",
		Short: "Resolve an open alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s *app.Services) error {
				out, err := s.Alerts.Resolve(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"resolved": out != nil, "alert": out})
				}
				if out == nil {
					fmt.Printf("alert %s is not open\n", args[0])
					return nil
				}
				fmt.Printf("resolved %s\n", out.ID)
				return nil
			})
		},
	}

	a.AddCommand(list, history, resolve)
	return a
}

func sweepCmd() *cobra.Command {
	s := &cobra.Command{Use: "sweep", Short: "Run alert sweeps"}
	s.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run one sweep over all open cases and auxiliary records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, svc *app.Services) error {
				report, err := svc.Scheduler.RunSweep(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(report)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Cases", "Evaluated", "Skipped", "Alerts", "Aux Alerts", "Failures", "Took"})
				tw.AppendRow(table.Row{report.Cases, report.Evaluated, report.Skipped, report.AlertsCreated, report.AuxCreated,
					len(report.Failures), report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond)})
				tw.Render()
				for _, f := range report.Failures {
					fmt.Printf("failure: case=%s phase=%s: %s\n", f.CaseID, f.Phase, f.Error)
				}
				return nil
			})
		},
	})
	return s
}

func auxCmd() *cobra.Command {
	a := &cobra.Command{Use: "aux", Short: "Record inventory, mortuary, plot, equipment and vendor data"}

	var inv domain.InventoryItem
	inventory := &cobra.Command{
		Use:   "inventory",
		Short: "Set an inventory item's stock level",
		RunE: func(cmd *cobra.Command, args []string) error {
			return recordAux(cmd.Context(), engine.AuxRecord{Inventory: &inv})
		},
	}
	inventory.Flags().StringVar(&inv.SKU, "sku", "", "stock keeping unit")
	inventory.Flags().StringVar(&inv.Name, "name", "", "item name")
	inventory.Flags().StringVar(&inv.Category, "category", "", "category")
	inventory.Flags().IntVar(&inv.Quantity, "quantity", 0, "quantity on hand")

	var mort domain.MortuaryRecord
	var mortCase, checkedIn string
	mortuary := &cobra.Command{
		Use:   "mortuary",
		Short: "Check a body into mortuary storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			mort.CaseID = optionalString(mortCase)
			if checkedIn != "" {
				t, err := parseTime(checkedIn)
				if err != nil {
					return fmt.Errorf("--checked-in: %w", err)
				}
				mort.CheckedInAt = t
			}
			return recordAux(cmd.Context(), engine.AuxRecord{Mortuary: &mort})
		},
	}
	mortuary.Flags().StringVar(&mort.DeceasedName, "name", "", "deceased name")
	mortuary.Flags().StringVar(&mort.StorageUnit, "unit", "", "storage unit")
	mortuary.Flags().StringVar(&mortCase, "case", "", "case id")
	mortuary.Flags().StringVar(&checkedIn, "checked-in", "", "check-in time (default now)")

	var plotRec domain.PlotAssignment
	plot := &cobra.Command{
		Use:   "plot",
		Short: "Assign a cemetery plot to a case",
		RunE: func(cmd *cobra.Command, args []string) error {
			return recordAux(cmd.Context(), engine.AuxRecord{Plot: &plotRec})
		},
	}
	plot.Flags().StringVar(&plotRec.PlotID, "plot", "", "plot id")
	plot.Flags().StringVar(&plotRec.CaseID, "case", "", "case id")
	plot.Flags().StringVar(&plotRec.Status, "status", "reserved", "assignment status")

	var eq domain.EquipmentAllocation
	var eqCase, dueBack string
	equipment := &cobra.Command{
		Use:   "equipment",
		Short: "Allocate equipment",
		RunE: func(cmd *cobra.Command, args []string) error {
			eq.CaseID = optionalString(eqCase)
			if dueBack != "" {
				t, err := parseTime(dueBack)
				if err != nil {
					return fmt.Errorf("--due-back: %w", err)
				}
				eq.DueBackAt = &t
			}
			return recordAux(cmd.Context(), engine.AuxRecord{Equipment: &eq})
		},
	}
	equipment.Flags().StringVar(&eq.EquipmentID, "equipment", "", "equipment id")
	equipment.Flags().StringVar(&eq.EquipmentName, "name", "", "equipment name")
	equipment.Flags().StringVar(&eqCase, "case", "", "case id")
	equipment.Flags().StringVar(&dueBack, "due-back", "", "return deadline")
	equipment.Flags().StringVar(&eq.Condition, "condition", domain.ConditionOK, "ok or damaged")

	var wo domain.WorkOrder
	var woCase, woDue string
	workOrder := &cobra.Command{
		Use:   "work-order",
		Short: "Record a vendor work order",
		RunE: func(cmd *cobra.Command, args []string) error {
			wo.CaseID = optionalString(woCase)
			if woDue != "" {
				t, err := parseTime(woDue)
				if err != nil {
					return fmt.Errorf("--due: %w", err)
				}
				wo.DueAt = &t
			}
			return recordAux(cmd.Context(), engine.AuxRecord{WorkOrder: &wo})
		},
	}
	workOrder.Flags().StringVar(&wo.Vendor, "vendor", "", "vendor name")
	workOrder.Flags().StringVar(&wo.Description, "description", "", "work description")
	workOrder.Flags().StringVar(&woCase, "case", "", "case id")
	workOrder.Flags().StringVar(&wo.Status, "status", "open", "work order status")
	workOrder.Flags().StringVar(&woDue, "due", "", "due time")

	a.AddCommand(inventory, mortuary, plot, equipment, workOrder)
	return a
}

func recordAux(ctx context.Context, rec engine.AuxRecord) error {
	return withServices(ctx, func(ctx context.Context, s *app.Services) error {
		id, err := s.Engine.RecordAux(ctx, rec, viper.GetString("actor-id"))
		if err != nil {
			return err
		}
		return printJSONOrTable(map[string]string{"id": id})
	})
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	var f repo.EventFilters
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s *app.Services) error {
				items, err := s.Engine.Repo.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Case", "Entity", "Actor"})
				for _, e := range items {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.CaseID, e.EntityKind + ":" + e.EntityID, e.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	tail.Flags().StringVar(&f.CaseID, "case", "", "case filter")
	tail.Flags().StringVar(&f.Type, "type", "", "event type filter")
	tail.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	tail.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	l.AddCommand(tail)
	return l
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage caseline.yml",
		Long:  "caseline.yml sits in the workspace and tunes rule thresholds, required documents, sweep scheduling and webhooks. Without it the built-in defaults apply.",
	}

	var homeID string
	var overwrite bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default caseline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !overwrite {
				return fmt.Errorf("%s already exists (use --overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(homeID)), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	initCmd.Flags().StringVar(&homeID, "home", app.DefaultHomeID, "home id")
	initCmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace an existing file")

	show := &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.ResolveConfig(viper.GetString("workspace"), viper.GetString("config"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Validate the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := app.ResolveConfig(viper.GetString("workspace"), viper.GetString("config"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}

	cfg.AddCommand(initCmd, show, validate)
	return cfg
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a bearer token for --actor-id and --role",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("CASELINE_JWT_SECRET is required")
			}
			tok, err := server.SignToken(secret, viper.GetString("actor-id"), viper.GetString("role"), ttl)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"token": tok})
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}

func apiKeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "Manage API keys"}

	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for --actor-id with --role; the key is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, rec, err := server.NewAPIKey(viper.GetString("actor-id"), viper.GetString("role"), name)
			if err != nil {
				return err
			}
			return withServices(cmd.Context(), func(ctx context.Context, s *app.Services) error {
				if err := s.Engine.Repo.InsertAPIKey(ctx, nil, rec); err != nil {
					return err
				}
				rec.KeyHash = ""
				return printJSONOrTable(map[string]any{"key": key, "api_key": rec})
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "key label")

	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s *app.Services) error {
				keys, err := s.Engine.Repo.ListAPIKeys(ctx, "")
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}

	revoke := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s *app.Services) error {
				return s.Engine.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}

	k.AddCommand(create, list, revoke)
	return k
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin, noSweep bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API with the sweep scheduler and webhook dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withServices(ctx, func(ctx context.Context, s *app.Services) error {
				authCfg := server.AuthConfig{JWTSecret: viper.GetString("jwt-secret"), AllowDevLogin: devLogin}
				if authCfg.JWTSecret == "" {
					return fmt.Errorf("CASELINE_JWT_SECRET is required for bearer auth")
				}
				cfg := server.Config{
					Engine:   s.Engine,
					Alerts:   s.Alerts,
					BasePath: basePath,
					Auth:     authCfg,
					Logger:   s.Logger.With("component", "http"),
				}
				if !noSweep {
					cfg.Sweeper = s.Scheduler
				}
				handler, err := server.New(cfg)
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					s.Logger.Info("serving caseline api", "addr", addr, "base_path", basePath, "docs", basePath+"/docs")
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					<-gctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
				if !noSweep {
					g.Go(func() error { return s.Scheduler.Run(gctx) })
				}
				g.Go(func() error { return s.Notifier.Run(gctx) })
				return g.Wait()
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "enable the unauthenticated dev login route")
	cmd.Flags().BoolVar(&noSweep, "no-sweep", false, "do not run scheduled sweeps")
	return cmd
}

// --- helpers ---

func withServices(ctx context.Context, fn func(context.Context, *app.Services) error) error {
	logger, err := newLogger(viper.GetString("log-level"), viper.GetString("log-format"))
	if err != nil {
		return err
	}
	s, err := app.Open(app.Options{
		Workspace:  viper.GetString("workspace"),
		ConfigPath: viper.GetString("config"),
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s)
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch format {
	case "", "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q", format)
	}
}

func renderGate(res compliance.GateResult) {
	state := "passed"
	if !res.Passed {
		state = "blocked"
	}
	fmt.Printf("gate %s: %s\n", res.Target, state)
	if res.Passed {
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Kind", "ID", "Key", "Due By", "Status"})
	for _, it := range res.BlockingChecklist {
		tw.AppendRow(table.Row{"checklist", it.ID, it.ItemKey, it.RequiredStage, it.Status})
	}
	for _, d := range res.BlockingDocuments {
		tw.AppendRow(table.Row{"document", d.ID, d.DocumentType, d.RequiredStage, d.Status})
	}
	tw.Render()
}

func renderAlerts(items []domain.Alert) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Case", "Type", "Severity", "Status", "SLA Due", "Breached", "Title"})
	for _, a := range items {
		tw.AppendRow(table.Row{a.ID, derefString(a.CaseID), a.Kind, a.Severity, a.Status, formatTime(a.SLADueAt), formatTime(a.BreachedAt), a.Title})
	}
	tw.Render()
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.ParseInLocation(time.DateOnly, s, time.UTC)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
