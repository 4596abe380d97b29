package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"crowdcoin/internal/config"
	"crowdcoin/internal/contracts"
)

// defaultBuildDir is where compile writes and deploy reads artifacts when
// neither a flag nor CONTRACTS_BUILD_DIR names a directory.
const defaultBuildDir = "internal/contracts/build"

var (
	compileSolc   string
	compileSource string
	compileOut    string
)

var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Compile the contract source into artifacts",
	Long:  "Runs solc on the contract source and rewrites the artifact directory from scratch.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := contracts.CompileOptions{
			Solc:   firstNonEmpty(compileSolc, cfg.Contracts.Solc),
			Source: firstNonEmpty(compileSource, cfg.Contracts.Source),
			OutDir: artifactDir(compileOut, cfg.Contracts),
		}
		names, err := contracts.Compile(cmd.Context(), opts, logger)
		if err != nil {
			return err
		}
		logger.Info("compiled", zap.Strings("contracts", names), zap.String("out", opts.OutDir))
		return nil
	},
}

func init() {
	compileCmd.Flags().StringVar(&compileSolc, "solc", "", "solc binary (default $SOLC or solc)")
	compileCmd.Flags().StringVar(&compileSource, "source", "", "contract source file (default $CONTRACTS_SOURCE)")
	compileCmd.Flags().StringVar(&compileOut, "out", "", "artifact directory (default $CONTRACTS_BUILD_DIR or "+defaultBuildDir+")")
}

func artifactDir(flag string, c config.ContractsConfig) string {
	return firstNonEmpty(flag, c.BuildDir, defaultBuildDir)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
