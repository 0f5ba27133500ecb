package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"bracket-trader/internal/models"
	"bracket-trader/internal/planner"
	"bracket-trader/internal/store"
)

func addPlanCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newProposeCmd(app))
	rootCmd.AddCommand(newPlaceCmd(app))
	rootCmd.AddCommand(newPlansCmd(app))
}

func newProposeCmd(app *App) *cobra.Command {
	var (
		side      string
		csvPath   string
		timeframe string
		netLiq    float64
		approve   bool
	)

	cmd := &cobra.Command{
		Use:   "propose SYMBOL",
		Short: "Propose an ATR-pullback trade plan",
		Long: `Propose computes an ATR-pullback entry with a protective stop and an
R-multiple target from daily bars, sized off account equity.

Bars come from the journal store by default, or from a CSV file with
--csv. Without --approve the plan is only printed; with it the plan is
saved as a draft for 'place' to pick up.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			symbol := strings.ToUpper(args[0])

			planSide := models.SideLong
			if strings.EqualFold(side, "short") {
				planSide = models.SideShort
			} else if !strings.EqualFold(side, "long") {
				return fmt.Errorf("side must be \"long\" or \"short\", got %q", side)
			}

			bars, err := loadBars(cmd, app, symbol, csvPath, timeframe)
			if err != nil {
				return err
			}

			equity := netLiq
			if equity <= 0 {
				equity, err = fetchNetLiq(cmd, app)
				if err != nil {
					return err
				}
			}

			proposer := planner.NewProposer(app.Config.Strategy, app.Config.Risk)
			plan, err := proposer.Propose(symbol, planSide, bars, equity)
			if err != nil {
				return fmt.Errorf("proposing plan: %w", err)
			}

			if approve {
				if app.Store == nil {
					return fmt.Errorf("journal store unavailable; cannot save draft")
				}
				if err := app.Store.SavePlan(cmd.Context(), plan, models.PlanDraft); err != nil {
					return fmt.Errorf("saving draft: %w", err)
				}
				journalSink(app).Publish(models.Event{
					Type:      models.EventTradePlanProposed,
					Timestamp: time.Now(),
					Symbol:    plan.Symbol,
					Plan:      plan,
				})
			}

			if output.IsJSON() {
				return output.JSON(plan)
			}
			printPlan(output, plan)
			if approve {
				output.Success("Draft saved. Submit it with 'bracket-trader place %s'.", symbol)
			} else {
				output.Dim("Dry run. Re-run with --approve to save as a draft.")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&side, "side", "long", "plan direction: long or short")
	cmd.Flags().StringVar(&csvPath, "csv", "", "read bars from a CSV file instead of the store")
	cmd.Flags().StringVar(&timeframe, "timeframe", "1d", "candle timeframe to load from the store")
	cmd.Flags().Float64Var(&netLiq, "netliq", 0, "account equity override (default: ask the venue)")
	cmd.Flags().BoolVar(&approve, "approve", false, "save the plan as a draft")

	return cmd
}

func newPlaceCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "place SYMBOL",
		Short: "Submit the latest approved draft as a bracket order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			symbol := strings.ToUpper(args[0])

			if app.Store == nil {
				return fmt.Errorf("journal store unavailable; no drafts to place")
			}
			plan, err := app.Store.LatestDraft(cmd.Context(), symbol)
			if err != nil {
				return fmt.Errorf("loading draft: %w", err)
			}
			if plan == nil {
				return fmt.Errorf("no draft plan for %s; run 'propose %s --approve' first", symbol, symbol)
			}
			if plan.Expired(time.Now(), app.Config.Manager.DraftExpiry) {
				if err := app.Store.UpdatePlanStatus(cmd.Context(), plan.ID, models.PlanExpired); err != nil {
					app.Logger.Warn().Err(err).Str("plan_id", plan.ID).Msg("failed to mark plan expired")
				}
				return fmt.Errorf("draft for %s expired after %s; propose a fresh plan", symbol, app.Config.Manager.DraftExpiry)
			}

			eng, err := newEngine(cmd.Context(), app, cmd)
			if err != nil {
				return err
			}
			defer eng.close()

			groupID, err := eng.lc.Submit(cmd.Context(), plan)
			if err != nil {
				return fmt.Errorf("submitting bracket: %w", err)
			}

			if err := app.Store.UpdatePlanStatus(cmd.Context(), plan.ID, models.PlanPlaced); err != nil {
				app.Logger.Warn().Err(err).Str("plan_id", plan.ID).Msg("failed to mark plan placed")
			}

			if output.IsJSON() {
				return output.JSON(map[string]string{"group_id": groupID, "symbol": symbol})
			}
			output.Success("Bracket submitted for %s (group %s)", symbol, groupID)
			printPlan(output, plan)
			return nil
		},
	}
	return cmd
}

func newPlansCmd(app *App) *cobra.Command {
	var (
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "plans [SYMBOL]",
		Short: "List saved trade plans",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Store == nil {
				return fmt.Errorf("journal store unavailable")
			}

			filter := store.PlanFilter{Limit: limit}
			if len(args) == 1 {
				filter.Symbol = strings.ToUpper(args[0])
			}
			if status != "" {
				filter.Status = models.PlanStatus(strings.ToUpper(status))
			}

			plans, err := app.Store.GetPlans(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("loading plans: %w", err)
			}

			if output.IsJSON() {
				return output.JSON(plans)
			}
			if len(plans) == 0 {
				output.Info("No plans found")
				return nil
			}

			table := NewTable(output, "CREATED", "SYMBOL", "SIDE", "QTY", "LIMIT", "STOP", "TARGET", "RISK")
			for _, p := range plans {
				table.AddRow(
					p.CreatedAt.Format("2006-01-02 15:04"),
					p.Symbol,
					string(p.Side),
					fmt.Sprintf("%d", p.Quantity),
					fmt.Sprintf("%.2f", p.LimitPrice),
					fmt.Sprintf("%.2f", p.Stop),
					fmt.Sprintf("%.2f", p.Target),
					fmt.Sprintf("%.2f", p.RiskAmount),
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status (draft, placed, cancelled, expired)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum plans to show")

	return cmd
}

// loadBars reads candles from the CSV path when given, or from the store.
func loadBars(cmd *cobra.Command, app *App, symbol, csvPath, timeframe string) ([]models.Candle, error) {
	if csvPath != "" {
		f, err := os.Open(csvPath)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", csvPath, err)
		}
		defer f.Close()
		bars, err := store.ImportCandlesCSV(f)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", csvPath, err)
		}
		return bars, nil
	}

	if app.Store == nil {
		return nil, fmt.Errorf("journal store unavailable; pass bars with --csv")
	}
	bars, err := app.Store.GetCandles(cmd.Context(), symbol, timeframe, time.Time{}, time.Now())
	if err != nil {
		return nil, fmt.Errorf("loading candles: %w", err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("no %s candles stored for %s; import some or pass --csv", timeframe, symbol)
	}
	return bars, nil
}

// fetchNetLiq asks the venue for account equity.
func fetchNetLiq(cmd *cobra.Command, app *App) (float64, error) {
	eng, err := newEngine(cmd.Context(), app, cmd)
	if err != nil {
		return 0, err
	}
	defer eng.close()
	netLiq, err := eng.gw.NetLiq(cmd.Context())
	if err != nil {
		return 0, fmt.Errorf("fetching account equity: %w", err)
	}
	return netLiq, nil
}

func printPlan(output *Output, plan *models.TradePlan) {
	color.New(color.FgCyan, color.Bold).Fprintf(output.writer, "%s %s\n", plan.Symbol, plan.Side)
	output.Printf("  Entry:    %.2f (limit %.2f)\n", plan.Entry, plan.LimitPrice)
	output.Printf("  Stop:     %.2f\n", plan.Stop)
	output.Printf("  Target:   %.2f\n", plan.Target)
	output.Printf("  Quantity: %d\n", plan.Quantity)
	output.Printf("  Risk:     %.2f (ATR %.2f, swing %.2f, equity %.0f)\n",
		plan.RiskAmount, plan.ATR, plan.SwingRef, plan.NetLiq)
}
