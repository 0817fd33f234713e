package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"golang.org/x/time/rate"

	"github.com/example/pgr-notifier/internal/common"
	"github.com/example/pgr-notifier/internal/dispatcher"
	"github.com/example/pgr-notifier/internal/event"
	"github.com/example/pgr-notifier/internal/journal"
	"github.com/example/pgr-notifier/internal/localization"
	"github.com/example/pgr-notifier/internal/lookup"
	"github.com/example/pgr-notifier/internal/notify"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := common.LoadConfig("pgr-notifier")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := common.NewLogger(cfg.ServiceName, cfg.LogLevel)
	shutdown, err := common.SetupOTel(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise telemetry")
	}
	defer common.ShutdownTelemetry(context.Background(), shutdown)

	metricsSrv := common.StartMetricsServer(cfg.MetricsPort, logger)
	defer metricsSrv.Shutdown(context.Background())

	if cfg.BusinessNumber == "" {
		logger.Fatal().Msg("WHATSAPP_BUSINESS_NUMBER must be provided")
	}

	httpClient := &http.Client{Timeout: cfg.LookupTimeout}

	var gateway localization.Gateway = &localization.HTTPGateway{
		Host:     cfg.LocalizationHost,
		TenantID: cfg.RootTenantID,
		Locales:  []string{cfg.Locale},
		Client:   httpClient,
	}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		gateway = &localization.CachedGateway{
			Next:  gateway,
			Store: localization.NewRedisStore(rdb),
			TTL:   cfg.LocalizationCacheTTL,
		}
		logger.Info().Str("addr", cfg.RedisAddr).Msg("localization cache enabled")
	}

	lookupClient := &lookup.Client{
		BaseURL:           cfg.EgovServicesHost,
		ShortenerEndpoint: cfg.URLShortenerEndpoint,
		HTTPClient:        httpClient,
		Limiter:           rate.NewLimiter(rate.Limit(cfg.LookupRateLimit), cfg.LookupRateBurst),
		MaxElapsed:        cfg.LookupTimeout,
	}

	var repo journal.Repository
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("connect postgres")
		}
		defer pool.Close()
		pg, err := journal.NewPostgresRepository(pool)
		if err != nil {
			logger.Fatal().Err(err).Msg("init journal")
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migrate journal")
		}
		repo = pg
	}

	readerFactory := func() dispatcher.MessageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers: cfg.KafkaBrokers,
			GroupID: cfg.ServiceName,
			Topic:   cfg.PGRUpdateTopic,
		})
	}

	outbound := &kafka.Writer{
		Addr:     kafka.TCP(cfg.KafkaBrokers...),
		Topic:    cfg.OutboundTopic,
		Balancer: &kafka.Hash{},
	}
	defer outbound.Close()

	d := dispatcher.Dispatcher{
		ReaderFactory: readerFactory,
		Sink:          &dispatcher.KafkaSink{Writer: outbound},
		Enricher: &notify.Enricher{
			Localization:  gateway,
			Users:         lookupClient,
			Shortener:     lookupClient,
			ExternalHost:  cfg.ExternalHost,
			Locale:        cfg.Locale,
			LookupTimeout: cfg.LookupTimeout,
			Logger:        logger,
		},
		Composer:        notify.Composer{Channel: channelConfig(cfg)},
		SupportedSource: cfg.SupportedSource,
		Journal:         repo,
		Logger:          logger,
	}

	logger.Info().Str("topic", cfg.PGRUpdateTopic).Msg("pgr notifier started")
	if err := d.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("pgr notifier stopped")
		return
	}
	logger.Info().Msg("pgr notifier shut down")
}

func channelConfig(cfg *common.Config) notify.ChannelConfig {
	return notify.ChannelConfig{
		Recipient: cfg.BusinessNumber,
		Templates: map[event.Kind]string{
			event.KindRejected:   cfg.Templates.Rejected,
			event.KindReassigned: cfg.Templates.Reassigned,
			event.KindAssigned:   cfg.Templates.Assigned,
			event.KindResolved:   cfg.Templates.Resolved,
			event.KindCommented:  cfg.Templates.Commented,
		},
	}
}
