package main

import (
	"fmt"
	"os"

	"bracket-trader/internal/cli"
	"bracket-trader/internal/config"
	"bracket-trader/internal/logging"
)

func main() {
	cfg, err := config.Load(configDirArg(os.Args[1:]))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)

	rootCmd := cli.NewRootCmd(cfg, logger)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// configDirArg extracts the --config flag before cobra parses anything,
// since configuration has to be loaded to build the command tree.
func configDirArg(args []string) string {
	for i, arg := range args {
		if arg == "--config" && i+1 < len(args) {
			return args[i+1]
		}
		if len(arg) > len("--config=") && arg[:len("--config=")] == "--config=" {
			return arg[len("--config="):]
		}
	}
	return ""
}
