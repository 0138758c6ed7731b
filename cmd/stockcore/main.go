package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"stockcore/config"
	"stockcore/engine"
	"stockcore/messaging"
	"stockcore/protocol"
	"stockcore/stockcache"
	"stockcore/store"
	"stockcore/www"
)

var Version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "stockcore.yaml", "path to config file")
	initConfig := flag.Bool("init", false, "write a default config file to -config and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("stockcore", Version)
		return
	}
	if *initConfig {
		if _, err := os.Stat(*configPath); err == nil {
			fmt.Fprintf(os.Stderr, "%s already exists\n", *configPath)
			os.Exit(1)
		}
		if err := config.Defaults().Save(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "write config: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("wrote", *configPath)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.Log)

	if err := run(cfg, *configPath, logger); err != nil {
		logger.Fatal().Err(err).Msg("stockcore exited")
	}
	logger.Info().Msg("stockcore stopped")
}

func newLogger(c config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(c.Level))
	if err != nil || c.Level == "" {
		level = zerolog.InfoLevel
	}
	var l zerolog.Logger
	if c.Format == "json" {
		l = zerolog.New(os.Stdout)
	} else {
		l = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return l.Level(level).With().Timestamp().Logger()
}

func run(cfg *config.Config, configPath string, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	db, err := store.Open(&cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if cfg.Allocation.RetryDelay > 0 {
		db.SetRetryDelay(cfg.Allocation.RetryDelay)
	}
	logger.Info().Str("driver", cfg.Database.Driver).Msg("database open")

	// Redis
	var redisStore *stockcache.RedisStore
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		redisStore = stockcache.NewRedisStore(redisClient, cfg.Redis.TTL)

		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := redisStore.Ping(pingCtx); err != nil {
			logger.Warn().Err(err).Msg("redis not available, reads fall back to sql")
		} else {
			logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
		}
		cancel()
	}
	cache := stockcache.NewManager(db, redisStore, logger)
	if redisStore != nil {
		if err := cache.SyncFromSQL(ctx); err != nil {
			logger.Warn().Err(err).Msg("redis sync from sql")
		}
	}

	// Messaging client
	var msgClient *messaging.Client
	if cfg.Messaging.Backend != "" {
		msgClient = messaging.NewClient(&cfg.Messaging, logger)
		if err := msgClient.Connect(); err != nil {
			logger.Warn().Err(err).Str("backend", cfg.Messaging.Backend).Msg("messaging connect failed, notifications stay in the outbox")
		} else {
			logger.Info().Str("backend", cfg.Messaging.Backend).Msg("messaging connected")
		}
		defer msgClient.Close()
	}

	// Engine
	eng := engine.New(engine.Config{
		AppConfig: cfg,
		DB:        db,
		MsgClient: msgClient,
		Cache:     cache,
		Logger:    logger,
	})
	eng.Start()
	defer eng.Stop()

	g, gctx := errgroup.WithContext(ctx)

	if msgClient != nil {
		// Protocol ingestor (inbound station commands)
		handler := messaging.NewCoreHandler(eng.Poster(), eng.Tracker(), logger)
		ingestor := protocol.NewIngestor(handler, protocol.CoreFilter(cfg.Messaging.StationID), logger)
		if err := msgClient.Subscribe(cfg.Messaging.CommandsTopic, func(ctx context.Context, _ string, data []byte) {
			ingestor.HandleRaw(ctx, data)
		}); err != nil {
			logger.Warn().Err(err).Str("topic", cfg.Messaging.CommandsTopic).Msg("protocol ingestor subscribe failed")
		} else {
			logger.Info().Str("topic", cfg.Messaging.CommandsTopic).Msg("protocol ingestor listening")
		}

		// Outbox drainer (outbound notifications)
		drainer := messaging.NewOutboxDrainer(db, msgClient, cfg.Messaging.OutboxDrainInterval, logger)
		g.Go(func() error {
			drainer.Run(gctx)
			return nil
		})

		g.Go(func() error {
			reloadMessaging(gctx, configPath, msgClient, logger)
			return nil
		})
	}

	// Web server
	handler, stopWeb := www.NewRouter(eng)
	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.Info().Str("addr", addr).Msg("web server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("web server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		stopWeb()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	logger.Info().Str("version", Version).Msg("stockcore ready")
	return g.Wait()
}

// reloadMessaging re-reads the config file on SIGHUP and reconnects the
// transport with its messaging section. Other sections need a restart.
func reloadMessaging(ctx context.Context, configPath string, client *messaging.Client, logger zerolog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			next, err := config.Load(configPath)
			if err != nil {
				logger.Error().Err(err).Msg("reload config")
				continue
			}
			if next.Messaging.Backend == "" {
				logger.Warn().Msg("reload: messaging backend cleared, keeping current connection")
				continue
			}
			if err := client.Reconfigure(&next.Messaging); err != nil {
				logger.Error().Err(err).Msg("messaging reconfigure")
				continue
			}
			logger.Info().Str("backend", next.Messaging.Backend).Msg("messaging reconfigured")
		}
	}
}
