package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"bracket-trader/internal/models"
	"bracket-trader/internal/store"
)

func addDataCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newJournalCmd(app))
	rootCmd.AddCommand(newExportCmd(app))
	rootCmd.AddCommand(newImportCandlesCmd(app))
}

func newJournalCmd(app *App) *cobra.Command {
	var (
		eventType string
		symbol    string
		groupID   string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Show recent engine events",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Store == nil {
				return fmt.Errorf("journal store unavailable")
			}

			filter := store.EventFilter{
				Type:    models.EventType(strings.ToUpper(eventType)),
				Symbol:  strings.ToUpper(symbol),
				GroupID: groupID,
				Limit:   limit,
			}
			records, err := app.Store.GetEvents(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("loading journal: %w", err)
			}

			if output.IsJSON() {
				return output.JSON(records)
			}
			if len(records) == 0 {
				output.Info("No events recorded")
				return nil
			}

			table := NewTable(output, "TIME", "TYPE", "SYMBOL", "GROUP", "LEG", "TRANSITION", "MESSAGE")
			for _, r := range records {
				transition := ""
				if r.FromState != "" || r.ToState != "" {
					transition = fmt.Sprintf("%s > %s", r.FromState, r.ToState)
				}
				table.AddRow(
					r.Timestamp.Format("01-02 15:04:05"),
					string(r.Type),
					r.Symbol,
					r.GroupID,
					r.Leg,
					transition,
					r.Message,
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&eventType, "type", "", "filter by event type")
	cmd.Flags().StringVar(&symbol, "symbol", "", "filter by symbol")
	cmd.Flags().StringVar(&groupID, "group", "", "filter by order group id")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum events to show")

	return cmd
}

func newExportCmd(app *App) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:       "export {plans|events}",
		Short:     "Export plans or the event journal as CSV",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"plans", "events"},
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Store == nil {
				return fmt.Errorf("journal store unavailable")
			}

			w := cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("creating %s: %w", out, err)
				}
				defer f.Close()
				w = f
			}

			switch args[0] {
			case "plans":
				plans, err := app.Store.GetPlans(cmd.Context(), store.PlanFilter{})
				if err != nil {
					return fmt.Errorf("loading plans: %w", err)
				}
				if err := store.ExportPlansCSV(w, plans); err != nil {
					return fmt.Errorf("writing CSV: %w", err)
				}
				if out != "" {
					output.Success("Exported %d plans to %s", len(plans), out)
				}
			case "events":
				records, err := app.Store.GetEvents(cmd.Context(), store.EventFilter{})
				if err != nil {
					return fmt.Errorf("loading journal: %w", err)
				}
				if err := store.ExportEventsCSV(w, records); err != nil {
					return fmt.Errorf("writing CSV: %w", err)
				}
				if out != "" {
					output.Success("Exported %d events to %s", len(records), out)
				}
			default:
				return fmt.Errorf("unknown export target %q", args[0])
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&out, "out", "", "write to a file instead of stdout")

	return cmd
}

func newImportCandlesCmd(app *App) *cobra.Command {
	var timeframe string

	cmd := &cobra.Command{
		Use:   "import-candles SYMBOL FILE",
		Short: "Import candles from a CSV file into the store",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Store == nil {
				return fmt.Errorf("journal store unavailable")
			}
			symbol := strings.ToUpper(args[0])

			f, err := os.Open(args[1])
			if err != nil {
				return fmt.Errorf("opening %s: %w", args[1], err)
			}
			defer f.Close()

			candles, err := store.ImportCandlesCSV(f)
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[1], err)
			}
			if len(candles) == 0 {
				return fmt.Errorf("no candles in %s", args[1])
			}

			start := time.Now()
			if err := app.Store.SaveCandles(cmd.Context(), symbol, timeframe, candles); err != nil {
				return fmt.Errorf("saving candles: %w", err)
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"symbol": symbol, "timeframe": timeframe, "imported": len(candles),
				})
			}
			output.Success("Imported %d %s candles for %s in %s",
				len(candles), timeframe, symbol, time.Since(start).Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().StringVar(&timeframe, "timeframe", "1d", "candle timeframe to store under")

	return cmd
}
