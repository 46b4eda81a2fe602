package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"corpchat/config"
	"corpchat/internal/handler"
	"corpchat/internal/metrics"
	"corpchat/internal/notify"
	"corpchat/internal/presence"
	"corpchat/internal/proxy"
	redisstore "corpchat/internal/redis"
	"corpchat/internal/repository"
	"corpchat/internal/server"
	"corpchat/internal/services"
	"corpchat/internal/storage"
	"corpchat/pkg/database"
	"corpchat/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	mode := logger.DevelopmentMode
	if cfg.AppMode == server.ReleaseMode {
		mode = logger.ProductionMode
	}
	l := logger.New(mode)
	logger.SetGlobalLogger(l)
	defer func() { _ = l.Logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, l); err != nil {
		l.Logger.Error("server exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, l *logger.Logger) error {
	zl := l.Logger
	health := map[string]func(context.Context) error{}

	gateway, closeGateway, err := openGateway(ctx, cfg, zl, health)
	if err != nil {
		return err
	}
	defer closeGateway()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	registry := presence.NewRegistry(
		presence.WithLogger(zl.With(zap.String("component", "presence"))),
		presence.WithMaxConnectionsPerUser(cfg.MaxConnectionsPerUser),
	)

	var (
		rdb      *goredis.Client
		limiter  *redisstore.RateLimiter
		unread   *redisstore.UnreadStore
		presStor *redisstore.PresenceStore
		roster   proxy.RosterCache
	)
	if cfg.RedisAddr() != "" {
		rdb = redisstore.NewClient(redisstore.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		if err := redisstore.Ping(ctx, rdb); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		health["redis"] = func(ctx context.Context) error { return redisstore.Ping(ctx, rdb) }

		limiter = redisstore.NewRateLimiter(rdb, redisstore.RateLimitConfig{
			MessageLimit:  cfg.MessageRateLimit,
			MessageWindow: cfg.MessageRateWindow,
			RequestLimit:  cfg.RequestRateLimit,
			RequestWindow: time.Minute,
		})
		unread = redisstore.NewUnreadStore(rdb)
		presStor = redisstore.NewPresenceStore(rdb, redisstore.NewPublisher(rdb), 24*time.Hour)
		if err := presStor.ResetOnline(ctx); err != nil {
			zl.Warn("could not reset mirrored presence", zap.Error(err))
		}
		roster = redisstore.NewCacheStore(rdb, redisstore.DefaultCacheConfig())
	} else {
		zl.Info("REDIS_HOST not set; keeping unread counters in memory; send limits and presence mirror are off")
	}

	access := proxy.NewAccessControl(gateway, roster, zl.With(zap.String("component", "access")))
	emitter := services.NewEmitter(registry, m, zl.With(zap.String("component", "emitter")))
	core := services.NewCore(gateway, access, emitter, m, zl, cfg.PersistTimeout)

	var ingestOpts []services.IngestOption
	var uploads handler.Presigner
	var unreadCounter services.UnreadCounter
	var unreadReader handler.UnreadReader
	var mirror services.PresenceMirror
	var reader services.PresenceReader
	if unread != nil {
		unreadCounter, unreadReader = unread, unread
		ingestOpts = append(ingestOpts, services.WithSendLimiter(limiter))
	} else {
		local := services.NewMemoryUnread()
		unreadCounter, unreadReader = local, local
	}
	ingestOpts = append(ingestOpts, services.WithUnreadCounter(unreadCounter))
	if presStor != nil {
		mirror, reader = presStor, presStor
	}

	if cfg.S3Bucket != "" {
		s3c, err := storage.NewClient(ctx, storage.S3Config{
			Region:     cfg.S3Region,
			Bucket:     cfg.S3Bucket,
			AccessKey:  cfg.S3AccessKey,
			SecretKey:  cfg.S3SecretKey,
			Endpoint:   cfg.S3Endpoint,
			PublicBase: cfg.S3PublicBase,
			PresignTTL: 15 * time.Minute,
		})
		if err != nil {
			return fmt.Errorf("s3: %w", err)
		}
		ingestOpts = append(ingestOpts, services.WithAttachmentResolver(s3c))
		uploads = s3c
	}

	if brokers := cfg.Brokers(); len(brokers) > 0 {
		kcfg := notify.Config{Brokers: brokers, Topic: cfg.KafkaOfflineTopic}
		notifier := notify.NewKafkaNotifier(notify.NewWriter(kcfg), kcfg, zl.With(zap.String("component", "offline")))
		defer notifier.Close()
		ingestOpts = append(ingestOpts, services.WithOfflineNotifier(notifier))
	}

	ingest := services.NewIngestService(core, ingestOpts...)
	receipts := services.NewReceiptService(core, unreadCounter)
	typing := services.NewTypingService(core, cfg.TypingTTL)
	mutations := services.NewMutationService(core)
	history := services.NewHistoryService(core)
	presenceSvc := services.NewPresenceService(core, registry, typing, mirror, reader)
	auth := services.NewAuthService(cfg.JWTSecret, cfg.JWTExpiry())

	hub := server.NewHub(registry,
		server.NewDispatcher(ingest, receipts, typing, mutations, emitter),
		emitter, m, zl,
		server.WithSendBuffer(cfg.SendBuffer))

	srv := server.New(cfg, l)
	srv.SetupRoutes(&server.Handlers{
		Auth:      handler.NewAuthHandler(auth),
		History:   handler.NewHistoryHandler(history, unreadReader),
		Presence:  handler.NewPresenceHandler(presenceSvc),
		Upload:    handler.NewUploadHandler(uploads),
		WebSocket: server.NewWebSocketHandler(hub, auth),
	}, server.Deps{Auth: auth, Limiter: limiter, Metrics: m, HealthChecks: health})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		typing.Run(gctx)
		return nil
	})
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		err := srv.Run(gctx)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if herr := hub.Shutdown(shutdownCtx); herr != nil {
			zl.Warn("websocket clients did not drain", zap.Error(herr))
		}
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// openGateway builds the configured message store and seeds groups into it.
func openGateway(ctx context.Context, cfg *config.Config, zl *zap.Logger, health map[string]func(context.Context) error) (repository.Gateway, func(), error) {
	groups, err := cfg.Groups()
	if err != nil {
		return nil, nil, err
	}

	var (
		gateway repository.Gateway
		closeFn = func() {}
	)
	switch cfg.StoreDriver {
	case "postgres":
		db, err := database.Open(cfg)
		if err != nil {
			return nil, nil, err
		}
		if err := repository.InitSchema(db); err != nil {
			_ = database.Close(db)
			return nil, nil, err
		}
		health["database"] = func(ctx context.Context) error { return database.Ping(ctx, db) }
		gateway = repository.NewGormGateway(db)
		closeFn = func() { _ = database.Close(db) }
	default:
		zl.Warn("using the in-memory store; messages are lost on restart")
		gateway = repository.NewMemoryGateway()
	}

	if len(groups) > 0 {
		res, err := database.SeedGroups(ctx, gateway, groups, zl)
		if err != nil {
			closeFn()
			return nil, nil, fmt.Errorf("seed groups: %w", err)
		}
		zl.Info("groups seeded", zap.Strings("created", res.Created), zap.Strings("updated", res.Updated))
	}
	return gateway, closeFn, nil
}
