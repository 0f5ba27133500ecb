package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"bracket-trader/internal/config"
	"bracket-trader/internal/store"
)

// Version information
const Version = "0.1.0"

// App holds the application dependencies.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Store  store.DataStore
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	dataStore, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to open journal store; plan persistence disabled")
	} else {
		app.Store = dataStore
	}

	rootCmd := &cobra.Command{
		Use:   "bracket-trader",
		Short: "ATR-pullback bracket order engine",
		Long: `bracket-trader proposes ATR-pullback trade plans, submits them as
bracket orders (entry + stop + target), and babysits the resulting order
groups through fills, reconnects, and the session close.

Use 'bracket-trader help <command>' for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/bracket-trader)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().Bool("paper", false, "use the in-process paper venue")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	addPlanCommands(rootCmd, app)
	addTradeCommands(rootCmd, app)
	addDataCommands(rootCmd, app)
	addRunCommands(rootCmd, app)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"version": Version})
			} else {
				output.Printf("bracket-trader v%s\n", Version)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate engine configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": config.DefaultConfigDir()})
			} else {
				output.Println(config.DefaultConfigDir())
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("✓ Configuration is valid")
			}
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Trading")
	output.Printf("  Mode:             %s\n", cfg.Trading.Mode)
	output.Printf("  Symbols:          %v\n", cfg.Trading.Symbols)
	output.Println()

	output.Bold("Strategy")
	output.Printf("  ATR Period:       %d\n", cfg.Strategy.ATRPeriod)
	output.Printf("  Swing Lookback:   %d\n", cfg.Strategy.SwingLookback)
	output.Printf("  Pullback:         %.2f x ATR\n", cfg.Strategy.PullbackFraction)
	output.Printf("  Stop Multiple:    %.2f x ATR\n", cfg.Strategy.StopMultiple)
	output.Printf("  Limit Offset:     %.2f x ATR\n", cfg.Strategy.LimitOffsetFraction)
	output.Printf("  R Multiple:       %.2f\n", cfg.Strategy.RMultiple)
	output.Println()

	output.Bold("Risk")
	output.Printf("  Risk Percent:     %.2f%%\n", cfg.Risk.RiskPercent)
	output.Printf("  Max Notional:     %.2f%%\n", cfg.Risk.MaxNotionalPct)
	output.Println()

	output.Bold("Venue")
	output.Printf("  URL:              %s\n", cfg.Venue.URL)
	output.Printf("  Account:          %s\n", cfg.Venue.Account)
	output.Printf("  Backoff:          %s .. %s\n", cfg.Venue.BackoffBase, cfg.Venue.BackoffCap)
	output.Printf("  Heartbeat:        %s\n", cfg.Venue.HeartbeatTimeout)
	output.Println()

	output.Bold("Janitor")
	output.Printf("  Lead Minutes:     %d\n", cfg.Janitor.LeadMinutes)
	output.Printf("  Flatten:          %v\n", cfg.Janitor.FlattenOnClose)
	output.Println()

	output.Bold("Manager")
	output.Printf("  Tick Interval:    %s\n", cfg.Manager.TickInterval)
	output.Printf("  Trail Stop:       %.2f%%\n", cfg.Manager.TrailStopPercent)
	output.Printf("  Draft Expiry:     %s\n", cfg.Manager.DraftExpiry)
}
