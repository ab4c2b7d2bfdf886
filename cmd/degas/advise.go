package main

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"degasline/internal/app"
	"degasline/internal/degassing"
	"degasline/internal/domain"
	"degasline/internal/engine"
)

type batchView struct {
	ID        string `json:"id"`
	Label     string `json:"label,omitempty"`
	RoastDate string `json:"roast_date"`
	Process   string `json:"process"`
	Variety   string `json:"variety,omitempty"`
	CreatedAt string `json:"created_at"`
}

func viewBatch(b domain.Batch) batchView {
	return batchView{
		ID:        b.ID,
		Label:     b.Label,
		RoastDate: domain.FormatDate(b.RoastDate),
		Process:   b.Process,
		Variety:   b.Variety,
		CreatedAt: b.CreatedAt,
	}
}

func batchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Manage roasted batches",
	}
	cmd.AddCommand(batchAddCmd())
	cmd.AddCommand(batchListCmd())
	cmd.AddCommand(batchShowCmd())
	return cmd
}

func batchAddCmd() *cobra.Command {
	var in engine.BatchInput
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a roasted batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			if in.ID == "" {
				return fmt.Errorf("--id required")
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				b, err := ws.Engine.RegisterBatch(ctx, in, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(viewBatch(b))
				}
				fmt.Fprintf(out, "registered %s (%s, roasted %s)\n", b.ID, b.Process, domain.FormatDate(b.RoastDate))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&in.ID, "id", "", "batch id")
	cmd.Flags().StringVar(&in.RoastDate, "roast-date", "", "roast date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&in.Process, "process", "", "green coffee process (washed, honey, natural...)")
	cmd.Flags().StringVar(&in.Label, "label", "", "label")
	cmd.Flags().StringVar(&in.Variety, "variety", "", "variety")
	return cmd
}

func batchListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the most recently roasted batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				if limit <= 0 {
					limit = ws.Config.Engine.RecentLimit
				}
				items, err := ws.Engine.Repo.RecentBatches(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					views := make([]batchView, 0, len(items))
					for _, b := range items {
						views = append(views, viewBatch(b))
					}
					return printJSON(views)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Roasted", "Process", "Label", "Variety"})
				for _, b := range items {
					tw.AppendRow(table.Row{b.ID, domain.FormatDate(b.RoastDate), b.Process, b.Label, b.Variety})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "number of batches (defaults to engine.recent_limit)")
	return cmd
}

func batchShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				b, err := ws.Engine.Repo.GetBatch(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(viewBatch(b))
			})
		},
	}
	return cmd
}

func adviseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "advise",
		Short: "Run the degassing models on stored batches",
		Long:  "Each run is stored as an assessment. A high rule-based risk or a critical simulation blocks dispatch and is logged as dispatch.blocked.",
	}
	cmd.AddCommand(adviseRuleCmd())
	cmd.AddCommand(advisePhysicalCmd())
	cmd.AddCommand(adviseCompareCmd())
	cmd.AddCommand(adviseFleetCmd())
	return cmd
}

type shipFlags struct {
	route     string
	frequency int
}

func shipmentFlags(cmd *cobra.Command, s *shipFlags) {
	cmd.Flags().StringVar(&s.route, "route", "", "shipping lane, e.g. BOG-DXB (defaults to config)")
	cmd.Flags().IntVar(&s.frequency, "flight-frequency", 0, "days between flights (defaults to config)")
}

// shipment only overrides the frequency when the flag was given, so an
// explicit 0 is kept.
func (f shipFlags) shipment(cmd *cobra.Command) engine.Shipment {
	s := engine.Shipment{Route: f.route}
	if cmd.Flags().Changed("flight-frequency") {
		freq := f.frequency
		s.FlightFrequencyDays = &freq
	}
	return s
}

func simulationFlags(cmd *cobra.Command, c *simFlags) {
	cmd.Flags().StringVar(&c.roast, "roast", "", "roast development: light, medium, dark")
	cmd.Flags().StringVar(&c.packaging, "packaging", "", "packaging: valve, no-valve, sealed-tin")
	cmd.Flags().StringVar(&c.climate, "climate", "", "climate: arctic, temperate, tropical")
}

type simFlags struct {
	roast, packaging, climate string
}

func (f simFlags) config() domain.DegassingConfig {
	return domain.DegassingConfig{
		RoastDevelopment: domain.RoastDevelopment(f.roast),
		Packaging:        domain.Packaging(f.packaging),
		Climate:          domain.Climate(f.climate),
	}
}

func adviseRuleCmd() *cobra.Command {
	var ship shipFlags
	cmd := &cobra.Command{
		Use:   "rule <batch-id>",
		Short: "Rule-based pack and dispatch dates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				res, _, err := ws.Engine.AdviseRuleBased(ctx, args[0], ship.shipment(cmd), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				tw := newTable()
				tw.AppendRows([]table.Row{
					{"Batch", res.BatchID},
					{"Optimal pack date", res.OptimalPackDate},
					{"Latest safe dispatch", res.LatestSafeDispatch},
					{"Risk", res.RiskLevel},
					{"Dispatch blocked", res.DispatchBlocked},
					{"Reasoning", res.Reasoning},
				})
				if res.DispatchBlocked {
					tw.AppendRow(table.Row{"Block reason", res.BlockReason})
				}
				tw.Render()
				return nil
			})
		},
	}
	shipmentFlags(cmd, &ship)
	return cmd
}

func advisePhysicalCmd() *cobra.Command {
	var sim simFlags
	var curve bool
	cmd := &cobra.Command{
		Use:   "physical <batch-id>",
		Short: "Simulate the pressure curve of a stored batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				res, _, err := ws.Engine.SimulatePhysical(ctx, args[0], sim.config(), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printPhysical(res, curve)
			})
		},
	}
	simulationFlags(cmd, &sim)
	cmd.Flags().BoolVar(&curve, "curve", false, "print the daily pressure curve")
	return cmd
}

func adviseCompareCmd() *cobra.Command {
	var ship shipFlags
	var sim simFlags
	cmd := &cobra.Command{
		Use:   "compare <batch-id>",
		Short: "Run both models side by side",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				cmp, err := ws.Engine.Compare(ctx, args[0], engine.Options{Shipment: ship.shipment(cmd), Simulation: sim.config()}, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cmp)
				}
				printComparison(cmp)
				return nil
			})
		},
	}
	shipmentFlags(cmd, &ship)
	simulationFlags(cmd, &sim)
	return cmd
}

func adviseFleetCmd() *cobra.Command {
	var limit int
	var ship shipFlags
	var sim simFlags
	cmd := &cobra.Command{
		Use:   "fleet",
		Short: "Compare models across the most recently roasted batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				items, err := ws.Engine.AssessRecent(ctx, limit, engine.Options{Shipment: ship.shipment(cmd), Simulation: sim.config()}, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Batch", "Model", "Risk", "Blocked", "Ready", "Note"})
				for _, it := range items {
					if it.Comparison == nil {
						tw.AppendRow(table.Row{it.BatchID, "", "", "", "", it.Error})
						continue
					}
					for _, adv := range it.Comparison.Advices {
						tw.AppendRow(table.Row{it.BatchID, adv.Model, adv.RiskLevel, adv.Blocked, adv.ReadyDate, ""})
					}
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "number of batches (defaults to engine.recent_limit)")
	shipmentFlags(cmd, &ship)
	simulationFlags(cmd, &sim)
	return cmd
}

func simulateCmd() *cobra.Command {
	var in engine.BatchInput
	var sim simFlags
	var curve bool
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Simulate an unsaved batch; nothing is stored",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				res, err := ws.Engine.Simulate(in, sim.config())
				if err != nil {
					return err
				}
				return printPhysical(res, curve)
			})
		},
	}
	cmd.Flags().StringVar(&in.RoastDate, "roast-date", "", "roast date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&in.Process, "process", "", "green coffee process")
	simulationFlags(cmd, &sim)
	cmd.Flags().BoolVar(&curve, "curve", false, "print the daily pressure curve")
	return cmd
}

func assessmentsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "assessments <batch-id>",
		Short: "List stored assessments for a batch, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				if _, err := ws.Engine.Repo.GetBatch(ctx, args[0]); err != nil {
					return err
				}
				items, err := ws.Engine.Repo.ListAssessments(ctx, args[0], limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Model", "Risk", "Blocked", "Ready", "Actor", "Created"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.ID, a.Model, a.RiskLevel, a.Blocked, a.ReadyDate, a.ActorID, a.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of assessments")
	return cmd
}

func printPhysical(res domain.PhysicalResult, curve bool) error {
	if viper.GetBool("json") {
		return printJSON(res)
	}
	tw := newTable()
	tw.AppendRows([]table.Row{
		{"Batch", res.BatchID},
		{"Days to safety", res.DaysToSafety},
		{"Recommended ship date", res.RecommendedShipDate},
		{"Risk", res.RiskLevel},
		{"Safety factor", fmt.Sprintf("%.1f%%", res.SafetyFactor)},
	})
	if res.CriticalWarning != nil {
		tw.AppendRow(table.Row{"Warning", *res.CriticalWarning})
	}
	tw.Render()
	if !curve {
		return nil
	}
	ct := newTable()
	ct.AppendHeader(table.Row{"Day", "Pressure (bar)", "Limit"})
	for _, s := range res.PressureCurve {
		ct.AppendRow(table.Row{s.Day, fmt.Sprintf("%.3f", s.Pressure), s.Limit})
	}
	ct.Render()
	return nil
}

func printComparison(cmp degassing.Comparison) {
	tw := newTable()
	tw.AppendHeader(table.Row{"Model", "Risk", "Blocked", "Ready"})
	for _, adv := range cmp.Advices {
		tw.AppendRow(table.Row{adv.Model, adv.RiskLevel, adv.Blocked, adv.ReadyDate})
	}
	tw.Render()
	agreement := "no"
	if cmp.RiskAgreement {
		agreement = "yes"
	}
	fmt.Fprintf(out, "risk agreement: %s, ready dates %d day(s) apart\n", agreement, cmp.ReadyDateSpreadDays)
}
