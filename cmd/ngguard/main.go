package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/iamwavecut/ngguard/internal/adapters/cas"
	"github.com/iamwavecut/ngguard/internal/bot"
	"github.com/iamwavecut/ngguard/internal/captcha"
	"github.com/iamwavecut/ngguard/internal/config"
	"github.com/iamwavecut/ngguard/internal/db/sqlite"
	"github.com/iamwavecut/ngguard/internal/event"
	admin "github.com/iamwavecut/ngguard/internal/handlers/admin"
	chat "github.com/iamwavecut/ngguard/internal/handlers/chat"
	moderation "github.com/iamwavecut/ngguard/internal/handlers/moderation"
	"github.com/iamwavecut/ngguard/internal/i18n"
	"github.com/iamwavecut/ngguard/internal/infra"
	"github.com/iamwavecut/ngguard/internal/infrastructure/telegram"
	"github.com/iamwavecut/ngguard/internal/lifecycle"
	"github.com/iamwavecut/ngguard/internal/observability"
	"github.com/iamwavecut/ngguard/internal/policy/permissions"
	"github.com/iamwavecut/ngguard/internal/scheduler"
)

const dbFile = "ngguard.db"

// set with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "ngguard",
		Short:         "Telegram group moderation and admission bot",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runBot,
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Start the bot",
			RunE:  runBot,
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply database migrations and exit",
			RunE:  runMigrate,
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
	)

	if err := root.Execute(); err != nil {
		log.WithField("error", err.Error()).Error("exiting")
		os.Exit(1)
	}
}

func setup() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	log.SetFormatter(&config.NbFormatter{})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.Level(cfg.LogLevel))
	return cfg, nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	client, err := sqlite.NewSQLiteClient(cmd.Context(), cfg.DotPath, dbFile)
	if err != nil {
		return err
	}
	return client.Close()
}

func runBot(_ *cobra.Command, _ []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	entry := log.WithField("object", "main")
	entry.WithFields(log.Fields{
		"version":  version,
		"language": i18n.GetLanguageName(cfg.DefaultLanguage),
		"workers":  cfg.Workers,
	}).Info("starting")

	store, err := sqlite.NewSQLiteClient(ctx, cfg.DotPath, dbFile)
	if err != nil {
		return err
	}

	botAPI, err := api.NewBotAPI(cfg.TelegramAPIToken)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("init bot api: %w", err)
	}
	if log.Level(cfg.LogLevel) == log.TraceLevel {
		botAPI.Debug = true
	}

	gateway := telegram.NewGateway(botAPI, cfg.APIRate)
	service := bot.NewService(gateway, store, cfg.DefaultLanguage)
	resolver := permissions.NewResolver(permissions.Static{
		Owner:      cfg.OwnerID,
		Developers: cfg.DevUsers,
		Sudo:       cfg.SudoUsers,
		Support:    cfg.SupportUsers,
		Whitelist:  cfg.WhitelistUsers,
	}, store, gateway, cfg.Moderation.AdminCacheTTL)

	metrics := observability.NewMetrics()
	auditDir, err := infra.EnsureWorkDir(cfg.DotPath)
	if err != nil {
		_ = store.Close()
		return err
	}
	auditor := observability.NewAuditor(filepath.Join(auditDir, cfg.AuditLog))

	bus := event.NewBus(event.DefaultQueueSize)
	bus.Subscribe(auditor.Record)
	bus.Subscribe(metrics.Record)
	if cfg.EventLogs != 0 {
		bus.Subscribe(observability.NewLogChannel(cfg.EventLogs, gateway).Record)
	}

	tasks := scheduler.New()
	generator, err := captcha.NewGenerator()
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("load captcha tables: %w", err)
	}
	casClient := cas.NewClient(cfg.CAS.APIURL, cfg.CAS.Timeout).WithObserver(metrics.ObserveCAS)

	executor := moderation.NewExecutor(gateway, resolver, store, tasks, bus, moderation.Options{
		DeleteAfter:    cfg.Moderation.PunishmentDeleteAfter,
		DeleteCommands: cfg.DeleteCommands,
	})
	gatekeeper := chat.NewGatekeeper(service, chat.Dependencies{
		Platform:   gateway,
		Authority:  resolver,
		Store:      store,
		CAS:        casClient,
		Tasks:      tasks,
		Events:     bus,
		Generator:  generator,
		Pending:    captcha.NewStore(),
		MinTimeout: cfg.Captcha.MinTimeout,
		MaxTimeout: cfg.Captcha.MaxTimeout,
	})

	processor := bot.NewUpdateProcessor(service,
		admin.NewAdmin(service, store, resolver, gateway, cfg.DeleteCommands),
		gatekeeper,
		moderation.NewModeration(service, executor, store),
	).WithObserver(metrics.ObserveUpdate)
	dispatcher := bot.NewDispatcher(processor, bot.NewLongPoll(botAPI, store), cfg.Workers)

	runtime := lifecycle.NewRuntime()
	runtime.Register("store", lifecycle.Hooks{OnStop: func(context.Context) error { return store.Close() }})
	runtime.Register("tracing", lifecycle.Hooks{OnStop: observability.InitTracing()})
	runtime.Register("audit", lifecycle.Hooks{OnStop: func(context.Context) error { return auditor.Close() }})
	runtime.Register("events", bus)
	runtime.Register("scheduler", tasks)
	runtime.Register("ops", observability.NewServer(cfg.MetricsAddr, metrics.Registry()))
	runtime.Register("dispatcher", dispatcher)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	runtime.Register("watchdog", lifecycle.Hooks{OnStart: func(context.Context) error {
		go func() {
			defer cancel()
			monitor := infra.MonitorExecutable(runCtx, infra.DefaultMonitorInterval)
			for {
				select {
				case _, ok := <-monitor:
					if !ok {
						monitor = nil
						continue
					}
					entry.Warn("executable changed, shutting down")
					return
				case <-dispatcher.Done():
					entry.Warn("update loop finished")
					return
				case <-runCtx.Done():
					return
				}
			}
		}()
		return nil
	}})

	return runtime.Run(runCtx, lifecycle.DefaultShutdownTimeout)
}
