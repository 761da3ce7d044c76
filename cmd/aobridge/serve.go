package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/memohai/aobridge/internal/ao"
	"github.com/memohai/aobridge/internal/ardrive"
	"github.com/memohai/aobridge/internal/automations"
	"github.com/memohai/aobridge/internal/config"
	"github.com/memohai/aobridge/internal/documents"
	"github.com/memohai/aobridge/internal/email"
	"github.com/memohai/aobridge/internal/execx"
	"github.com/memohai/aobridge/internal/files"
	"github.com/memohai/aobridge/internal/handlers"
	"github.com/memohai/aobridge/internal/healthcheck"
	aochecker "github.com/memohai/aobridge/internal/healthcheck/checkers/ao"
	telegramchecker "github.com/memohai/aobridge/internal/healthcheck/checkers/telegram"
	"github.com/memohai/aobridge/internal/logger"
	"github.com/memohai/aobridge/internal/pending"
	"github.com/memohai/aobridge/internal/server"
	"github.com/memohai/aobridge/internal/sweeper"
	"github.com/memohai/aobridge/internal/telegram"
	"github.com/memohai/aobridge/internal/tokenprice"
	"github.com/memohai/aobridge/internal/twitter"
	"github.com/memohai/aobridge/internal/version"
)

// shutdownTimeout covers a Telegram long poll that is still in flight at stop.
const shutdownTimeout = 45 * time.Second

func runServe(opts *rootOptions) error {
	app := fx.New(
		fx.StopTimeout(shutdownTimeout),
		fx.Supply(opts),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideFs,
			files.NewCache,
			pending.NewQueue,
			provideIntake,
			provideTelegramService,
			provideRunner,
			provideArDriveBackend,
			provideCoordinator,
			provideAOConnector,
			provideAutomationsService,
			documents.NewStore,
			provideEmailSender,
			provideTokenPriceClient,
			provideTwitterClient,
			provideSweeper,
			provideHealth,
			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(handlers.NewTelegramHandler),
			provideServerHandler(handlers.NewArDriveHandler),
			provideServerHandler(handlers.NewAOHandler),
			provideServerHandler(handlers.NewAutomationsHandler),
			provideServerHandler(handlers.NewDocumentsHandler),
			provideServerHandler(handlers.NewEmailHandler),
			provideServerHandler(handlers.NewTokenPriceHandler),
			provideServerHandler(handlers.NewTwitterHandler),
			provideServer,
		),
		fx.Invoke(
			startSweeper,
			startTelegramBot,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	)
	if err := app.Err(); err != nil {
		return err
	}
	app.Run()
	return nil
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig(opts *rootOptions) (config.Config, error) {
	if err := config.LoadEnvFile(opts.envFile); err != nil {
		return config.Config{}, err
	}
	cfgPath := opts.configPath
	if cfgPath == "" {
		cfgPath = os.Getenv("CONFIG_PATH")
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideFs() afero.Fs { return afero.NewOsFs() }

func provideRunner(log *slog.Logger) execx.Runner { return execx.NewRunner(log) }

func provideIntake(log *slog.Logger, cache *files.Cache, cfg config.Config) *telegram.Intake {
	return telegram.NewIntake(log, cache, telegram.IntakeConfig{
		UploadDir: cfg.Telegram.UploadDir,
		Timeout:   cfg.Telegram.DownloadTimeout(),
	})
}

func provideTelegramService(log *slog.Logger, cfg config.Config, queue *pending.Queue, cache *files.Cache, intake *telegram.Intake) *telegram.Service {
	return telegram.NewService(log, telegram.Config{
		Token:       cfg.Telegram.BotToken,
		PollTimeout: cfg.Telegram.PollTimeoutSeconds,
	}, queue, cache, intake, nil)
}

func provideArDriveBackend(log *slog.Logger, fs afero.Fs, cfg config.Config, runner execx.Runner) ardrive.Backend {
	return ardrive.NewTurboClient(log, fs, ardrive.TurboConfig{
		PaymentURL:       cfg.ArDrive.PaymentURL,
		Token:            cfg.ArDrive.Token,
		Address:          cfg.ArDrive.Address,
		PrivateKey:       cfg.ArDrive.PrivateKey,
		CLIPath:          cfg.ArDrive.CLIPath,
		CheckoutCurrency: cfg.ArDrive.CheckoutCurrency,
		CheckoutAmount:   cfg.ArDrive.CheckoutAmount,
		Timeout:          cfg.ArDrive.RequestTimeout(),
		UploadTimeout:    cfg.ArDrive.UploadDeadline(),
	}, runner)
}

func provideCoordinator(log *slog.Logger, cache *files.Cache, backend ardrive.Backend, cfg config.Config) *ardrive.Coordinator {
	return ardrive.NewCoordinator(log, cache, backend, ardrive.CoordinatorConfig{
		AppName:    cfg.ArDrive.AppName,
		GatewayURL: cfg.ArDrive.GatewayURL,
		Timeout:    cfg.ArDrive.RequestTimeout(),
	})
}

func provideAOConnector(log *slog.Logger, runner execx.Runner, fs afero.Fs, cfg config.Config) *ao.Connector {
	return ao.NewConnector(log, runner, fs, ao.Config{
		Binary:      cfg.AO.Binary,
		Timeout:     cfg.AO.Timeout(),
		HistorySize: cfg.AO.HistorySize,
	})
}

func provideAutomationsService(log *slog.Logger, connector *ao.Connector) *automations.Service {
	return automations.NewService(log, connector)
}

func provideEmailSender(log *slog.Logger, cfg config.Config) *email.Sender {
	return email.NewSender(log, email.Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		Security: cfg.SMTP.Security,
	})
}

func provideTokenPriceClient(log *slog.Logger, cfg config.Config) *tokenprice.Client {
	return tokenprice.NewClient(log, tokenprice.Config{
		BaseURL:           cfg.TokenPrice.BaseURL,
		APIKey:            cfg.TokenPrice.APIKey,
		CacheTTL:          cfg.TokenPrice.CacheTTL(),
		CacheSize:         cfg.TokenPrice.CacheSize,
		RequestsPerSecond: cfg.TokenPrice.RequestsPerSecond,
		Timeout:           cfg.TokenPrice.Timeout(),
	})
}

func provideTwitterClient(log *slog.Logger, cfg config.Config) *twitter.Client {
	return twitter.NewClient(log, twitter.Config{
		APIKey:            cfg.Twitter.APIKey,
		Host:              cfg.Twitter.Host,
		BaseURL:           cfg.Twitter.BaseURL,
		RequestsPerSecond: cfg.Twitter.RequestsPerSecond,
		Timeout:           cfg.Twitter.Timeout(),
	})
}

func provideSweeper(log *slog.Logger, fs afero.Fs, cfg config.Config) (*sweeper.Sweeper, error) {
	return sweeper.New(log, fs, sweeper.Config{
		Dir:      cfg.Telegram.UploadDir,
		Schedule: cfg.Sweeper.Schedule,
		MaxAge:   cfg.Sweeper.MaxAge(),
		Suffix:   telegram.PartialSuffix,
	})
}

func provideHealth(log *slog.Logger, bot *telegram.Service, connector *ao.Connector) *healthcheck.Aggregator {
	return healthcheck.NewAggregator(log,
		telegramchecker.NewChecker(log, bot),
		aochecker.NewChecker(log, connector),
	)
}

type serverParams struct {
	fx.In
	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.ServerHandlers...)
}

func startSweeper(lc fx.Lifecycle, sw *sweeper.Sweeper) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error { return sw.Start() },
		OnStop:  func(ctx context.Context) error { return sw.Stop(ctx) },
	})
}

func startTelegramBot(lc fx.Lifecycle, logger *slog.Logger, bot *telegram.Service, cfg config.Config) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if !cfg.Telegram.AutoStart || cfg.Telegram.BotToken == "" {
				logger.Info("telegram bot not started automatically")
				return nil
			}
			// a bad token leaves the API up; the bot can be started later over HTTP
			if err := bot.Start(ctx); err != nil {
				logger.Warn("telegram bot start failed", slog.Any("error", err))
			}
			return nil
		},
		OnStop: func(ctx context.Context) error { return bot.Shutdown(ctx) },
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	fmt.Printf("Starting aobridge %s\n", version.GetInfo())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
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
