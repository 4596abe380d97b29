package main

import (
	"context"
	"errors"
	"log"
	"math/big"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"crowdcoin/internal/campaign"
	"crowdcoin/internal/chain"
	"crowdcoin/internal/config"
	"crowdcoin/internal/contract"
	"crowdcoin/internal/contracts"
	"crowdcoin/internal/devchain"
	"crowdcoin/internal/logging"
	"crowdcoin/internal/server"
	"crowdcoin/internal/session"
	"crowdcoin/internal/txlog"
)

// devFunding is credited to every dev account at startup.
var devFunding = new(big.Int).Mul(big.NewInt(1000), big.NewInt(1_000_000_000_000_000_000))

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.AppConfig, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := cfg.Chain.Options()
	mode, err := chain.ResolveMode(opts)
	if err != nil {
		return err
	}

	factoryDesc, campaignDesc, err := loadDescriptors(cfg.Contracts)
	if err != nil {
		return err
	}

	var dev *devchain.Chain
	if mode == chain.ModeDev {
		dev, err = devchain.New(devchain.WithDescriptors(factoryDesc, campaignDesc))
		if err != nil {
			return err
		}
		opts.Backend = dev
	}

	conn, err := chain.Connect(ctx, opts, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	factoryAddr, err := factoryAddress(ctx, cfg, conn, dev, logger)
	if err != nil {
		return err
	}

	metrics := server.NewMetrics()
	clientOpts := []contract.Option{
		contract.WithObserver(metrics),
		contract.WithReceiptPoll(cfg.Chain.ReceiptPoll),
		contract.WithLogger(logger),
	}
	if cfg.Chain.RateLimit > 0 {
		clientOpts = append(clientOpts, contract.WithRateLimit(rate.NewLimiter(rate.Limit(cfg.Chain.RateLimit), cfg.Chain.RateBurst)))
	}

	journal, closeJournal, err := openJournal(ctx, cfg.Journal, logger)
	if err != nil {
		return err
	}
	defer closeJournal()

	svc, err := campaign.New(ctx, conn, contract.NewFactory(conn, clientOpts...), factoryAddr,
		campaign.WithDescriptors(factoryDesc, campaignDesc),
		campaign.WithJournal(journal, cfg.Journal.Retention),
		campaign.WithLogger(logger))
	if err != nil {
		return err
	}

	sessions := session.NewManager(cfg.Service.SessionSecret, cfg.Service.SessionMaxAge, cfg.Service.SessionIdle, logger)
	sessions.Secure = cfg.Service.SecureCookies
	go sessions.Run(ctx, time.Minute)

	srv := server.NewServer(cfg, server.Deps{
		Service:  svc,
		Chain:    conn,
		Sessions: sessions,
		Metrics:  metrics,
		Journal:  journal,
		Logger:   logger,
	})

	errc := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// loadDescriptors reads the artifacts from CONTRACTS_BUILD_DIR, or the
// embedded ones when it is unset.
func loadDescriptors(cfg config.ContractsConfig) (*contracts.Descriptor, *contracts.Descriptor, error) {
	factoryDesc, err := contracts.LoadDir(cfg.BuildDir, contracts.FactoryName)
	if err != nil {
		return nil, nil, err
	}
	campaignDesc, err := contracts.LoadDir(cfg.BuildDir, contracts.CampaignName)
	if err != nil {
		return nil, nil, err
	}
	return factoryDesc, campaignDesc, nil
}

// factoryAddress returns the deployed factory. Dev mode deploys a fresh one
// from the first account after funding every account.
func factoryAddress(ctx context.Context, cfg *config.AppConfig, conn *chain.Connection, dev *devchain.Chain, logger *zap.Logger) (string, error) {
	if dev == nil {
		return cfg.FactoryAddress()
	}
	accounts, err := conn.Accounts(ctx)
	if err != nil {
		return "", err
	}
	for _, a := range accounts {
		dev.Fund(a, devFunding)
	}
	addr := dev.DeployFactory(accounts[0])
	logger.Info("dev factory deployed", zap.String("address", addr.Hex()), zap.Int("accounts", len(accounts)))
	return addr.Hex(), nil
}

// openJournal picks the first configured backend: Postgres, Redis, a file,
// then memory.
func openJournal(ctx context.Context, cfg config.JournalConfig, logger *zap.Logger) (txlog.Store, func(), error) {
	switch {
	case cfg.PostgresDSN != "":
		store, err := txlog.NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("transaction journal", zap.String("backend", "postgres"))
		return store, store.Close, nil
	case cfg.RedisAddr != "":
		store, err := txlog.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("transaction journal", zap.String("backend", "redis"), zap.String("addr", cfg.RedisAddr))
		return store, func() { _ = store.Close() }, nil
	case cfg.FilePath != "":
		store, err := txlog.NewFileStore(cfg.FilePath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("transaction journal", zap.String("backend", "file"), zap.String("path", cfg.FilePath))
		return store, func() {}, nil
	}
	logger.Info("transaction journal", zap.String("backend", "memory"))
	return txlog.NewMemoryStore(), func() {}, nil
}
