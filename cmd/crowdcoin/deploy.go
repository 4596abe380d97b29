package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"crowdcoin/internal/chain"
	"crowdcoin/internal/contract"
	"crowdcoin/internal/contracts"
)

const defaultDeployGas = 1_000_000

var (
	deployGas   uint64
	deployOut   string
	deployBuild string
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy the campaign factory",
	Long:  "Deploys CampaignFactory from the first wallet account and writes the deployed-instance record.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		opts := cfg.Chain.Options()
		if opts.Mode == "" {
			opts.Mode = chain.ModeWallet
		}
		conn, err := chain.Connect(ctx, opts, logger)
		if err != nil {
			return err
		}
		defer conn.Close()
		if !conn.CanSend() {
			return chain.ErrReadOnly
		}

		accounts, err := conn.Accounts(ctx)
		if err != nil {
			return err
		}
		deployer := accounts[0]
		logger.Info("attempting to deploy", zap.String("account", deployer.Hex()))

		desc, bytecode, err := factoryArtifact(artifactDir(deployBuild, cfg.Contracts))
		if err != nil {
			return err
		}

		factory := contract.NewFactory(conn, contract.WithReceiptPoll(cfg.Chain.ReceiptPoll), contract.WithLogger(logger))
		client, err := factory.MakeClient(ctx, desc, "")
		if err != nil {
			return err
		}
		receipt, err := client.Deploy(ctx, contract.SendOpts{From: deployer, GasLimit: deployGas}, bytecode)
		if err != nil {
			return fmt.Errorf("deploy %s: %w", desc.Name, err)
		}

		out := firstNonEmpty(deployOut, cfg.Contracts.DeploymentPath)
		record := contracts.Deployment{
			Address:    client.Address().Hex(),
			ChainID:    conn.ChainID().Int64(),
			Deployer:   deployer.Hex(),
			TxHash:     receipt.TxHash.Hex(),
			DeployedAt: time.Now().UTC(),
		}
		if err := contracts.WriteDeployment(out, record); err != nil {
			return fmt.Errorf("write deployment record: %w", err)
		}
		logger.Info("contract deployed", zap.String("address", record.Address), zap.String("record", out))
		return nil
	},
}

// factoryArtifact reads the compiled CampaignFactory from dir. The embedded
// artifacts carry no bytecode, so deploy always reads from disk.
func factoryArtifact(dir string) (*contracts.Descriptor, []byte, error) {
	desc, err := contracts.LoadDir(dir, contracts.FactoryName)
	if err != nil {
		return nil, nil, err
	}
	bytecode, err := desc.Bytecode()
	if err != nil {
		return nil, nil, err
	}
	return desc, bytecode, nil
}

func init() {
	deployCmd.Flags().Uint64Var(&deployGas, "gas", defaultDeployGas, "gas limit of the creation transaction")
	deployCmd.Flags().StringVar(&deployOut, "out", "", "deployed-instance record path (default $DEPLOYMENT_PATH)")
	deployCmd.Flags().StringVar(&deployBuild, "build", "", "artifact directory (default $CONTRACTS_BUILD_DIR or "+defaultBuildDir+")")
}
