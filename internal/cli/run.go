package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"bracket-trader/internal/store"
	"bracket-trader/internal/trading"
	"bracket-trader/pkg/utils"
)

func addRunCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newManageCmd(app))
	rootCmd.AddCommand(newJanitorCmd(app))
}

func newRunCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the full engine: lifecycle, janitor, and position manager",
		Long: `Run connects to the venue and keeps the engine loops alive until
interrupted: the order lifecycle manager applies venue events, the
janitor winds brackets down before the session close, and the position
manager applies the configured management rules on every tick.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			ctx, stop := signal.NotifyContext(context.Background(),
				os.Interrupt, syscall.SIGTERM)
			defer stop()

			eng, err := newEngine(ctx, app, cmd)
			if err != nil {
				return err
			}
			defer eng.close()

			if err := eng.lc.Reconcile(ctx); err != nil {
				app.Logger.Warn().Err(err).Msg("initial reconcile failed")
			}

			sink := journalSink(app)
			janitor := trading.NewJanitor(app.Config.Janitor, eng.lc, eng.gw,
				utils.USMarketCalendar{}, sink, app.Logger)
			go janitor.Run(ctx)

			manager := trading.NewManager(app.Config.Manager, eng.lc, eng.gw,
				managementRules(app), app.Logger)
			go manager.Run(ctx)

			output.Info("Engine running. Press Ctrl+C to stop.")
			<-ctx.Done()
			output.Println()
			output.Info("Shutting down")
			return nil
		},
	}
}

func newManageCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "manage",
		Short: "Run only the position manager loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			ctx, stop := signal.NotifyContext(context.Background(),
				os.Interrupt, syscall.SIGTERM)
			defer stop()

			eng, err := newEngine(ctx, app, cmd)
			if err != nil {
				return err
			}
			defer eng.close()

			if err := eng.lc.Reconcile(ctx); err != nil {
				app.Logger.Warn().Err(err).Msg("initial reconcile failed")
			}

			manager := trading.NewManager(app.Config.Manager, eng.lc, eng.gw,
				managementRules(app), app.Logger)

			output.Info("Position manager running. Press Ctrl+C to stop.")
			manager.Run(ctx)
			output.Println()
			output.Info("Shutting down")
			return nil
		},
	}
}

func newJanitorCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "janitor",
		Short: "Run only the session close-out loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			ctx, stop := signal.NotifyContext(context.Background(),
				os.Interrupt, syscall.SIGTERM)
			defer stop()

			eng, err := newEngine(ctx, app, cmd)
			if err != nil {
				return err
			}
			defer eng.close()

			if err := eng.lc.Reconcile(ctx); err != nil {
				app.Logger.Warn().Err(err).Msg("initial reconcile failed")
			}

			janitor := trading.NewJanitor(app.Config.Janitor, eng.lc, eng.gw,
				utils.USMarketCalendar{}, journalSink(app), app.Logger)

			output.Info("Janitor running. Press Ctrl+C to stop.")
			janitor.Run(ctx)
			output.Println()
			output.Info("Shutting down")
			return nil
		},
	}
}

// managementRules builds the rule set from configuration. Disabled rules
// (zero values) are left out.
func managementRules(app *App) []trading.ManagementRule {
	var rules []trading.ManagementRule
	if app.Config.Manager.TrailStopPercent > 0 {
		rules = append(rules, trading.TrailStopRule{
			Percent: app.Config.Manager.TrailStopPercent,
		})
	}
	if app.Config.Manager.DraftExpiry > 0 {
		rules = append(rules, trading.StaleEntryExpiryRule{
			Expiry: app.Config.Manager.DraftExpiry,
		})
	}
	return rules
}

func journalSink(app *App) trading.EventSink {
	if app.Store == nil {
		return trading.NopSink{}
	}
	return store.NewJournal(app.Store, app.Logger)
}
