package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mintgate/allowlist"
	"mintgate/config"
	"mintgate/eligibility"
	"mintgate/notify"
	"mintgate/observability/logging"
	"mintgate/providers"
	"mintgate/server"
	"mintgate/storage"
	"mintgate/webhook"
)

const shutdownTimeout = 10 * time.Second

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "path to the gateway configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		logging.Setup("mintgate", "boot").Error("load config", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup("mintgate", cfg.Environment)

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 10*time.Second)
	store, err := storage.NewRedis(bootCtx, cfg.Redis.URL, cfg.Redis.AllowlistKey)
	bootCancel()
	if err != nil {
		logger.Error("open redis store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	list, err := allowlist.NewService(store)
	if err != nil {
		logger.Error("build allowlist service", "error", err)
		os.Exit(1)
	}

	dispatcher, err := notify.NewDispatcher(store, cfg.Notify.HomeURL, cfg.Notify.DedupWindow.Duration, logger)
	if err != nil {
		logger.Error("build notification dispatcher", "error", err)
		os.Exit(1)
	}

	rules := eligibility.Rules{
		Thresholds: eligibility.Thresholds{
			Ethos:    cfg.Rules.EthosThreshold,
			Neynar:   cfg.Rules.NeynarThreshold,
			Quotient: cfg.Rules.QuotientThreshold,
		},
		X: eligibility.SocialTarget{
			Username:     cfg.Rules.X.Username,
			ProfileURL:   cfg.Rules.X.ProfileURL,
			SelfDeclared: cfg.Rules.X.SelfDeclared,
		},
		Farcaster: eligibility.SocialTarget{
			Username:     cfg.Rules.Farcaster.Username,
			ProfileURL:   cfg.Rules.Farcaster.ProfileURL,
			FID:          cfg.Rules.Farcaster.FID,
			SelfDeclared: cfg.Rules.Farcaster.SelfDeclared,
		},
		Timeout: cfg.Rules.CheckTimeout.Duration,
	}
	neynar := providers.NewNeynarClient(cfg.Providers.Neynar.BaseURL, cfg.Providers.Neynar.APIKey)
	quotient := providers.NewQuotientClient(cfg.Providers.Quotient.BaseURL, cfg.Providers.Quotient.APIKey)
	elig, err := eligibility.NewService(
		list,
		providers.NewEthosClient(cfg.Providers.Ethos.BaseURL, cfg.Providers.Ethos.APIKey),
		neynar,
		quotient,
		dispatcher,
		rules,
		logger,
	)
	if err != nil {
		logger.Error("build eligibility service", "error", err)
		os.Exit(1)
	}
	shareText := eligibility.NewShareTextBuilder(quotient, neynar, logger)

	var verifier webhook.AppKeyVerifier
	if cfg.Providers.Hub.BaseURL != "" || cfg.Providers.Hub.APIKey != "" {
		verifier = providers.NewHubClient(cfg.Providers.Hub.BaseURL, cfg.Providers.Hub.APIKey)
	}
	decoder := webhook.NewDecoder(verifier)
	processor, err := webhook.NewProcessor(store, logger)
	if err != nil {
		logger.Error("build webhook processor", "error", err)
		os.Exit(1)
	}

	srvHandler, err := server.NewServer(list, elig, shareText, decoder, processor, store, logger)
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}
	srv := &http.Server{Addr: cfg.ListenAddress, Handler: srvHandler}

	go func() {
		logger.Info("mint gateway listening", "address", cfg.ListenAddress)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen", "error", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down mint gateway")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}
