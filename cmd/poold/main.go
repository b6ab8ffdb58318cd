// Command poold polls a Bitcoin-family node for block templates and turns
// each one into a mining Work: selected transactions, coinbase, witness
// commitment, and merkle path, ready for a stratum front end to serve and
// later submit against.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/djkazic/p2pool-go/internal/bitcoin"
	"github.com/djkazic/p2pool-go/internal/chainparams"
	"github.com/djkazic/p2pool-go/internal/config"
	"github.com/djkazic/p2pool-go/internal/work"

	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "poold:", err)
		os.Exit(1)
	}
}

func run() error {
	flags, err := config.ParseOSArgs()
	if err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}
	cfg, err := config.Load(flags)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	params, err := chainparams.For(chainparams.Ticker(cfg.Chain.Ticker))
	if err != nil {
		return fmt.Errorf("chain profile: %w", err)
	}

	payoutScript, err := hex.DecodeString(cfg.Mining.PayoutAddress)
	if err != nil {
		return fmt.Errorf("mining.payout_address must be a hex scriptPubKey: %w", err)
	}

	rpc := bitcoin.NewRPCClient(cfg.RPC.URL, cfg.RPC.User, cfg.RPC.Password)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	status := bitcoin.FetchNodeStatus(ctx, rpc)
	if err := status.Err(); err != nil {
		logger.Warn("initial node status check failed, continuing anyway", zap.Error(err))
	} else {
		logger.Info("connected to backend node",
			zap.Int64("height", status.Height),
			zap.String("best_hash", status.BestHash),
		)
	}

	gen := work.NewGenerator(
		rpc,
		params,
		payoutScript,
		cfg.Mining.CoinbaseMessage,
		int(cfg.Mining.FixedExtraNonceSize),
		int(cfg.Mining.MutableExtraNonceSize),
		int(cfg.Mining.TxNumLimit),
		logger,
	)
	gen.Start(ctx)

	logger.Info("poold started",
		zap.String("chain", string(params.Ticker)),
		zap.String("stratum_listen", cfg.Stratum.ListenAddr),
	)

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case job, ok := <-gen.JobChannel():
			if !ok {
				return nil
			}
			logger.Debug("new job ready for stratum dispatch",
				zap.String("job_id", job.ID),
				zap.Bool("clean_jobs", job.CleanJobs),
			)
		}
	}
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.JSON {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		zcfg.Level = level
	}
	return zcfg.Build()
}
