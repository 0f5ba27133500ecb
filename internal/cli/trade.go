package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"bracket-trader/internal/models"
)

func addTradeCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newCancelCmd(app))
	rootCmd.AddCommand(newOrdersCmd(app))
	rootCmd.AddCommand(newStatusCmd(app))
	rootCmd.AddCommand(newMoveStopCmd(app))
}

func newCancelCmd(app *App) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "cancel [SYMBOL]",
		Short: "Cancel the active bracket for a symbol, or all brackets",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if !all && len(args) == 0 {
				return fmt.Errorf("pass a symbol or --all")
			}

			eng, err := newEngine(cmd.Context(), app, cmd)
			if err != nil {
				return err
			}
			defer eng.close()

			if err := eng.lc.Reconcile(cmd.Context()); err != nil {
				return fmt.Errorf("reconciling with venue: %w", err)
			}

			if all {
				groups := eng.lc.Groups()
				if err := eng.lc.CancelAll(cmd.Context()); err != nil {
					return fmt.Errorf("cancelling all brackets: %w", err)
				}
				for _, g := range groups {
					markPlanCancelled(cmd, app, g.PlanID)
				}
				output.Success("Cancel requested for all active brackets")
				return nil
			}

			symbol := strings.ToUpper(args[0])
			group, hadGroup := eng.lc.ActiveGroup(symbol)
			if err := eng.lc.Cancel(cmd.Context(), symbol); err != nil {
				return fmt.Errorf("cancelling %s: %w", symbol, err)
			}
			if hadGroup {
				markPlanCancelled(cmd, app, group.PlanID)
			}
			output.Success("Cancel requested for %s", symbol)
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "cancel every active bracket")

	return cmd
}

// markPlanCancelled records that the plan behind a cancelled bracket is no
// longer a candidate for resubmission. Adopted groups carry no plan id.
func markPlanCancelled(cmd *cobra.Command, app *App, planID string) {
	if planID == "" || app.Store == nil {
		return
	}
	if err := app.Store.UpdatePlanStatus(cmd.Context(), planID, models.PlanCancelled); err != nil {
		app.Logger.Warn().Err(err).Str("plan_id", planID).Msg("failed to mark plan cancelled")
	}
}

func newOrdersCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "orders",
		Short: "Show open orders at the venue",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			eng, err := newEngine(cmd.Context(), app, cmd)
			if err != nil {
				return err
			}
			defer eng.close()

			orders, err := eng.gw.OpenOrders(cmd.Context())
			if err != nil {
				return fmt.Errorf("fetching open orders: %w", err)
			}

			if output.IsJSON() {
				return output.JSON(orders)
			}
			if len(orders) == 0 {
				output.Info("No open orders")
				return nil
			}

			table := NewTable(output, "ORDER", "GROUP", "SYMBOL", "SIDE", "LEG", "QTY", "PRICE", "STATUS")
			for _, o := range orders {
				table.AddRow(
					strconv.FormatInt(o.OrderID, 10),
					o.GroupID,
					o.Symbol,
					o.Side,
					string(o.LegKind),
					strconv.Itoa(o.Quantity),
					fmt.Sprintf("%.2f", o.Price),
					o.Status,
				)
			}
			table.Render()
			return nil
		},
	}
}

func newStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show venue connection, positions, and account equity",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			eng, err := newEngine(cmd.Context(), app, cmd)
			if err != nil {
				return err
			}
			defer eng.close()

			positions, err := eng.gw.Positions(cmd.Context())
			if err != nil {
				return fmt.Errorf("fetching positions: %w", err)
			}
			netLiq, err := eng.gw.NetLiq(cmd.Context())
			if err != nil {
				return fmt.Errorf("fetching account equity: %w", err)
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"connection": string(eng.gw.State()),
					"net_liq":    netLiq,
					"positions":  positions,
				})
			}

			color.New(color.FgCyan, color.Bold).Fprintln(output.writer, "Venue")
			output.Printf("  Connection: %s\n", formatConnState(output, eng.gw.State()))
			output.Printf("  Net Liq:    %.2f\n", netLiq)
			output.Println()

			if len(positions) == 0 {
				output.Info("No open positions")
				return nil
			}
			table := NewTable(output, "SYMBOL", "QTY", "AVG COST", "MARK")
			for _, p := range positions {
				table.AddRow(p.Symbol, strconv.Itoa(p.Quantity),
					fmt.Sprintf("%.2f", p.AvgCost), fmt.Sprintf("%.2f", p.Mark))
			}
			table.Render()
			return nil
		},
	}
}

func newMoveStopCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "move-stop SYMBOL PRICE",
		Short: "Move the protective stop of an active bracket",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			symbol := strings.ToUpper(args[0])
			price, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("parsing price %q: %w", args[1], err)
			}

			eng, err := newEngine(cmd.Context(), app, cmd)
			if err != nil {
				return err
			}
			defer eng.close()

			if err := eng.lc.Reconcile(cmd.Context()); err != nil {
				return fmt.Errorf("reconciling with venue: %w", err)
			}

			group, ok := eng.lc.ActiveGroup(symbol)
			if !ok {
				return fmt.Errorf("no active bracket for %s", symbol)
			}
			if err := eng.lc.MoveStop(cmd.Context(), group.GroupID, price); err != nil {
				return fmt.Errorf("moving stop: %w", err)
			}
			output.Success("Stop for %s moved to %.2f", symbol, price)
			return nil
		},
	}
}

func formatConnState(output *Output, state models.ConnState) string {
	switch state {
	case models.ConnConnected:
		return output.Green(string(state))
	case models.ConnReconnecting:
		return output.Yellow(string(state))
	default:
		return output.Red(string(state))
	}
}
