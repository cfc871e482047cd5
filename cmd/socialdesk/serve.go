package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/memohai/socialdesk/internal/auth"
	"github.com/memohai/socialdesk/internal/autoreply"
	"github.com/memohai/socialdesk/internal/channel"
	"github.com/memohai/socialdesk/internal/channel/adapters/messenger"
	"github.com/memohai/socialdesk/internal/channel/adapters/whatsapp"
	"github.com/memohai/socialdesk/internal/channel/inbound"
	"github.com/memohai/socialdesk/internal/channel/webhook"
	"github.com/memohai/socialdesk/internal/config"
	"github.com/memohai/socialdesk/internal/credentials"
	"github.com/memohai/socialdesk/internal/db"
	dbsqlc "github.com/memohai/socialdesk/internal/db/sqlc"
	"github.com/memohai/socialdesk/internal/handlers"
	"github.com/memohai/socialdesk/internal/healthcheck"
	credentialchecker "github.com/memohai/socialdesk/internal/healthcheck/checkers/credential"
	databasechecker "github.com/memohai/socialdesk/internal/healthcheck/checkers/database"
	"github.com/memohai/socialdesk/internal/identity"
	"github.com/memohai/socialdesk/internal/logger"
	"github.com/memohai/socialdesk/internal/media"
	"github.com/memohai/socialdesk/internal/message"
	"github.com/memohai/socialdesk/internal/outbound"
	"github.com/memohai/socialdesk/internal/realtime"
	"github.com/memohai/socialdesk/internal/realtime/pubsub"
	"github.com/memohai/socialdesk/internal/server"
	"github.com/memohai/socialdesk/internal/storage/providers/localfs"
	"github.com/memohai/socialdesk/internal/version"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBConn,
			provideDBQueries,
			provideCredentials,
			provideIdentity,
			provideBroker,
			provideStorage,
			provideGraphClient,
			whatsapp.NewClient,
			provideChannelRegistry,
			provideDispatcher,
			provideMessageStore,
			provideMediaFetcher,
			provideMediaSweeper,
			provideReplies,
			provideReplyGenerator,
			provideInboundProcessor,
			provideChannelRouter,
			provideRealtimeGateway,
			provideHealthChecks,
			provideWebhookHandlers,
			provideServerHandler(providePingHandler),
			provideServerHandler(provideAuthHandler),
			provideServerHandler(provideConversationHandler),
			provideServerHandler(provideNotificationHandler),
			provideServerHandler(provideMediaHandler),
			provideServerHandler(handlers.NewChecksHandler),
			provideServerHandler(func(g *realtime.Gateway) *realtime.Gateway { return g }),
			provideServer,
		),
		fx.Invoke(
			wireMediaScheduler,
			startInboundProcessor,
			startMediaFetcher,
			startMediaSweeper,
			stopRealtimeGateway,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig() (config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return config.Config{}, errors.New("auth.jwt_secret is required")
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (*pgxpool.Pool, error) {
	if cfg.Postgres.AutoMigrate {
		if err := db.MigrateUp(log, cfg.Postgres.DSN()); err != nil {
			return nil, err
		}
	}
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { conn.Close(); return nil }})
	return conn, nil
}

func provideDBQueries(conn *pgxpool.Pool) *dbsqlc.Queries { return dbsqlc.New(conn) }

func provideCredentials(log *slog.Logger, queries *dbsqlc.Queries) *credentials.Service {
	return credentials.NewService(log, queries)
}

func provideIdentity(log *slog.Logger, queries *dbsqlc.Queries) *identity.Resolver {
	return identity.NewResolver(log, queries)
}

func provideBroker(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (pubsub.Broker, error) {
	if cfg.Broker.Driver != "amqp" {
		return pubsub.NewMemory(log, cfg.Realtime.SendBuffer), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	broker, err := pubsub.NewAMQP(ctx, log, pubsub.AMQPOptions{
		URL:           cfg.Broker.URL,
		Exchange:      cfg.Broker.Exchange,
		RetryAttempts: 5,
		Delay:         2 * time.Second,
		Buffer:        cfg.Realtime.SendBuffer,
	})
	if err != nil {
		return nil, fmt.Errorf("amqp broker: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return broker.Close() }})
	return broker, nil
}

func provideStorage(cfg config.Config) (*localfs.Provider, error) {
	provider, err := localfs.New(cfg.Media.StorageRoot)
	if err != nil {
		return nil, fmt.Errorf("init media storage: %w", err)
	}
	return provider, nil
}

func provideGraphClient(cfg config.Config) *outbound.GraphClient {
	return outbound.NewGraphClient(cfg.Graph)
}

func provideChannelRegistry(graph *outbound.GraphClient, waClient *whatsapp.Client) (*channel.Registry, error) {
	registry := channel.NewRegistry()
	if err := messenger.Install(registry, messenger.NewSender(graph)); err != nil {
		return nil, err
	}
	if err := whatsapp.Install(registry, waClient); err != nil {
		return nil, err
	}
	return registry, nil
}

func provideDispatcher(log *slog.Logger, cfg config.Config, creds *credentials.Service, registry *channel.Registry) *outbound.Dispatcher {
	return outbound.NewDispatcher(log, creds, registry, outbound.PolicyFromConfig(cfg.Outbound))
}

func provideMessageStore(log *slog.Logger, queries *dbsqlc.Queries, broker pubsub.Broker, creds *credentials.Service, dispatcher *outbound.Dispatcher, storage *localfs.Provider) *message.Store {
	return message.NewStore(log, queries, broker, creds, dispatcher, storage)
}

func provideMediaFetcher(log *slog.Logger, cfg config.Config, store *message.Store, storage *localfs.Provider, broker pubsub.Broker, creds *credentials.Service, waClient *whatsapp.Client) *media.Fetcher {
	fetcher := media.NewFetcher(log, store, storage, broker, creds, media.OptionsFromConfig(cfg.Media))
	fetcher.RegisterResolver(whatsapp.Platform, waClient)
	return fetcher
}

func provideMediaSweeper(log *slog.Logger, cfg config.Config, store *message.Store, fetcher *media.Fetcher) *media.Sweeper {
	return media.NewSweeper(log, store, fetcher, cfg.Media.SweepSpec, cfg.Media.StaleAfter())
}

func provideReplies(log *slog.Logger, cfg config.Config) (*channel.Replies, error) {
	path := strings.TrimSpace(cfg.AutoReply.RepliesPath)
	if path == "" {
		return channel.DefaultReplies(), nil
	}
	replies, err := channel.LoadReplies(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Warn("reply catalogue not found, using defaults", slog.String("path", path))
			return channel.DefaultReplies(), nil
		}
		return nil, fmt.Errorf("load replies: %w", err)
	}
	return replies, nil
}

func provideReplyGenerator(log *slog.Logger, cfg config.Config) autoreply.Generator {
	return autoreply.New(log, cfg.AutoReply)
}

func provideInboundProcessor(log *slog.Logger, cfg config.Config, resolver *identity.Resolver, store *message.Store, generator autoreply.Generator, replies *channel.Replies) *inbound.Processor {
	return inbound.NewProcessor(log, resolver, store, generator, replies, inbound.OptionsFromConfig(cfg.AutoReply))
}

func provideChannelRouter(log *slog.Logger, registry *channel.Registry, processor *inbound.Processor) *channel.Router {
	return channel.NewRouter(log, registry, processor)
}

func provideRealtimeGateway(log *slog.Logger, cfg config.Config, broker pubsub.Broker, resolver *identity.Resolver, store *message.Store) *realtime.Gateway {
	parse := func(token string) (string, error) {
		return auth.ParseToken(token, cfg.Auth.JWTSecret)
	}
	return realtime.NewGateway(log, broker, parse, resolver, store, realtime.OptionsFromConfig(cfg.Realtime))
}

func provideHealthChecks(log *slog.Logger, conn *pgxpool.Pool, creds *credentials.Service) healthcheck.Checker {
	return healthcheck.Group{
		databasechecker.NewChecker(conn),
		credentialchecker.NewChecker(log, creds, messenger.Platform, whatsapp.Platform),
	}
}

type webhookHandlers struct {
	fx.Out
	Messenger server.Handler `group:"server_handlers"`
	WhatsApp  server.Handler `group:"server_handlers"`
}

func provideWebhookHandlers(log *slog.Logger, creds *credentials.Service, router *channel.Router) webhookHandlers {
	return webhookHandlers{
		Messenger: webhook.NewHandler(log, webhook.NewGateway(log, messenger.Platform, messenger.Parse, creds, router)),
		WhatsApp:  webhook.NewHandler(log, webhook.NewGateway(log, whatsapp.Platform, whatsapp.Parse, creds, router)),
	}
}

func providePingHandler(log *slog.Logger, conn *pgxpool.Pool) *handlers.PingHandler {
	return handlers.NewPingHandler(log, conn)
}

func provideAuthHandler(log *slog.Logger, cfg config.Config) (*handlers.AuthHandler, error) {
	expiresIn, err := time.ParseDuration(cfg.Auth.JWTExpiresIn)
	if err != nil {
		return nil, fmt.Errorf("invalid jwt_expires_in: %w", err)
	}
	return handlers.NewAuthHandler(log, cfg.Auth.JWTSecret, expiresIn), nil
}

func provideConversationHandler(log *slog.Logger, resolver *identity.Resolver, store *message.Store) *handlers.ConversationHandler {
	return handlers.NewConversationHandler(log, resolver, store)
}

func provideNotificationHandler(log *slog.Logger, store *message.Store) *handlers.NotificationHandler {
	return handlers.NewNotificationHandler(log, store)
}

func provideMediaHandler(log *slog.Logger, storage *localfs.Provider) *handlers.MediaHandler {
	return handlers.NewMediaHandler(log, storage)
}

type serverParams struct {
	fx.In
	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.Config.Auth.JWTSecret, params.ServerHandlers...)
}

// wireMediaScheduler closes the store -> fetcher -> store loop after both exist.
func wireMediaScheduler(store *message.Store, fetcher *media.Fetcher) {
	store.SetScheduler(fetcher)
}

func startInboundProcessor(lc fx.Lifecycle, processor *inbound.Processor) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { processor.Start(ctx); return nil },
		OnStop:  func(ctx context.Context) error { return processor.Shutdown(ctx) },
	})
}

func startMediaFetcher(lc fx.Lifecycle, fetcher *media.Fetcher) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error { fetcher.Start(ctx); return nil },
		OnStop:  func(stopCtx context.Context) error { cancel(); return fetcher.Shutdown(stopCtx) },
	})
}

func startMediaSweeper(lc fx.Lifecycle, sweeper *media.Sweeper) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error { return sweeper.Start(ctx) },
		OnStop:  func(stopCtx context.Context) error { cancel(); sweeper.Stop(stopCtx); return nil },
	})
}

func stopRealtimeGateway(lc fx.Lifecycle, gateway *realtime.Gateway) {
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return gateway.Shutdown(ctx) }})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner, cfg config.Config) {
	fmt.Printf("Starting SocialDesk %s\n", version.GetInfo())
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("http server listening", slog.String("addr", cfg.Server.Addr))
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
