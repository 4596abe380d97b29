package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"crowdcoin/internal/config"
	"crowdcoin/internal/logging"
)

var (
	cfg    *config.AppConfig
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "crowdcoin",
	Short:         "Build and deploy the CrowdCoin contracts",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		logger, err = logging.New(cfg.Log)
		return err
	},
}

// Execute runs the command line and exits non-zero on any error.
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	if logger != nil {
		logger.Error("command failed", zap.Error(err))
		_ = logger.Sync()
	} else {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	os.Exit(1)
}

func init() {
	rootCmd.AddCommand(compileCmd, deployCmd)
}
