package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"smc-trading-engine/config"
	"smc-trading-engine/internal/altdata"
	"smc-trading-engine/internal/api"
	"smc-trading-engine/internal/auth"
	"smc-trading-engine/internal/cache"
	"smc-trading-engine/internal/database"
	"smc-trading-engine/internal/engine"
	"smc-trading-engine/internal/events"
	"smc-trading-engine/internal/exchange"
	"smc-trading-engine/internal/hedging"
	"smc-trading-engine/internal/logging"
	"smc-trading-engine/internal/notification"
	"smc-trading-engine/internal/risk"
	"smc-trading-engine/internal/smc"
	"smc-trading-engine/internal/vault"
	"smc-trading-engine/internal/workers"
)

func main() {
	configPath := flag.String("config", "config.json", "path to configuration file")
	generateConfig := flag.Bool("generate-config", false, "write a sample configuration file and exit")
	hashPassword := flag.String("hash-password", "", "print the bcrypt hash for an operator password and exit")
	flag.Parse()

	if *generateConfig {
		if err := config.GenerateSampleConfig(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write sample config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("sample configuration written to %s\n", *configPath)
		return
	}

	if *hashPassword != "" {
		hash, err := auth.HashPassword(*hashPassword)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to hash password: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.JSONFormat)
	logger.Info().Str("exchange", cfg.Exchange.Name).Bool("mock", cfg.Exchange.MockMode).Msg("starting trading engine")

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("engine exited")
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	exchangeSvc, err := buildExchange(ctx, cfg, logger)
	if err != nil {
		return err
	}

	riskManager := risk.NewInstitutionalManager(cfg.Risk.Config, cfg.Risk.InitialBalance, logger)
	bus := events.NewBus()
	pool := workers.NewPool(logger)

	notifier := buildNotifier(cfg)

	var hedger *hedging.Manager
	if cfg.Hedging.Enabled {
		hedger = hedging.NewManager(cfg.Hedging, exchangeSvc, notifier, logger)
	}

	var altProvider altdata.Provider
	if cfg.AltData.Enabled {
		altProvider = altdata.NewService(logger)
	}

	repo, persistence, closeStorage, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStorage()

	var marketCache *cache.MarketCache
	if cfg.Cache.Enabled {
		cacheSvc, err := cache.NewCacheService(cfg.Cache, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("cache unavailable, running without it")
		} else {
			defer cacheSvc.Close()
			marketCache = cache.NewMarketCache(cacheSvc, logger)
		}
	}

	eng := engine.NewEngine(cfg.Engine, engine.Deps{
		Exchange: exchangeSvc,
		Risk:     riskManager,
		Workers:  pool,
		Bus:      bus,
		AltData:  altProvider,
		Hedger:   hedger,
		Notifier: notifier,
		Repo:     persistence,
		Cache:    marketCache,
	}, logger)

	for _, s := range cfg.Strategies {
		if s.SMCParams == (smc.Params{}) {
			s.SMCParams = smc.DefaultParams()
		}
		if err := eng.AddStrategy(s); err != nil {
			return fmt.Errorf("invalid strategy %q: %w", s.Name, err)
		}
	}

	var authManager *auth.Manager
	if cfg.Auth.Enabled {
		if cfg.Auth.Secret == "" {
			return fmt.Errorf("auth enabled but no secret configured")
		}
		authManager = auth.NewManager(cfg.Auth.Config)
	}

	// Realtime price feed for the strategy monitors; the mock exchange has
	// no stream endpoint.
	if !cfg.Exchange.MockMode && cfg.Exchange.StreamURL != "" {
		pairs := make(map[string][]string)
		for _, s := range cfg.Strategies {
			pairs[s.Symbol] = append(pairs[s.Symbol], s.Timeframe)
		}
		if len(pairs) > 0 {
			stream := exchange.NewKlineStream(cfg.Exchange.StreamURL, pairs, eng.OnKline, logger)
			go stream.Run(ctx)
		}
	}

	server := api.NewServer(cfg.Server, eng, bus, repo, authManager, logger)
	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start() }()

	eng.Start(ctx)

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			logger.Error().Err(err).Msg("api server stopped")
		}
	}

	eng.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api shutdown failed")
	}

	logger.Info().Msg("shutdown complete")
	return nil
}

// openStorage connects the database when it is enabled. The repository is
// returned both as the concrete handle for the API and as the engine's
// persistence interface; with storage off the interface itself is nil, not
// a nil repository wrapped in it.
func openStorage(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*database.Repository, engine.Persistence, func(), error) {
	if !cfg.Database.Enabled {
		return nil, nil, func() {}, nil
	}

	db, err := database.NewDB(cfg.Database.Config, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	if err := db.RunMigrations(ctx); err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("migrations failed: %w", err)
	}

	repo := database.NewRepository(db)
	return repo, repo, db.Close, nil
}

// buildExchange wires either the simulated exchange or the HTTP client,
// resolving credentials through Vault when enabled.
func buildExchange(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (exchange.Service, error) {
	if cfg.Exchange.MockMode {
		return exchange.NewMockService(), nil
	}

	apiKey, secretKey := cfg.Exchange.APIKey, cfg.Exchange.SecretKey
	if cfg.Vault.Enabled {
		client, err := vault.NewClient(cfg.Vault)
		if err != nil {
			return nil, fmt.Errorf("vault client failed: %w", err)
		}
		creds, err := client.GetCredentials(ctx, cfg.Exchange.Name, cfg.Exchange.Testnet)
		if err != nil {
			return nil, fmt.Errorf("exchange credentials not found in vault: %w", err)
		}
		apiKey, secretKey = creds.APIKey, creds.SecretKey
	}

	if apiKey == "" || secretKey == "" {
		return nil, fmt.Errorf("exchange credentials missing, set EXCHANGE_API_KEY/EXCHANGE_SECRET_KEY or enable mock mode")
	}
	return exchange.NewClient(apiKey, secretKey, cfg.Exchange.BaseURL, logger), nil
}

func buildNotifier(cfg *config.Config) *notification.Manager {
	manager := notification.NewManager()
	if !cfg.Notification.Enabled {
		return manager
	}

	if cfg.Notification.Telegram.Enabled {
		manager.AddNotifier(notification.NewTelegramNotifier(cfg.Notification.Telegram))
	}
	if cfg.Notification.Discord.Enabled {
		manager.AddNotifier(notification.NewDiscordNotifier(cfg.Notification.Discord))
	}
	return manager
}
