package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/debocaemboca/wabot/config"
	"github.com/debocaemboca/wabot/internal/app"
	"github.com/debocaemboca/wabot/internal/router"
	"github.com/debocaemboca/wabot/internal/session"
	"github.com/debocaemboca/wabot/internal/storage"
	"github.com/debocaemboca/wabot/internal/webserver"
	"github.com/debocaemboca/wabot/internal/whatsapp"
	"github.com/debocaemboca/wabot/pkg/common"
	"github.com/joho/godotenv"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	cfile        = flag.String("c", "wabot.yml", "config yaml file")
	resetSession = flag.Bool("reset-session", false, "remove the stored WhatsApp session before starting")
)

// pendingPerWorker bounds how many messages may wait for a free worker.
const pendingPerWorker = 16

func main() {
	flag.Parse()
	_ = godotenv.Load()

	cfg := config.LoadConfig(*cfile)
	application := app.NewApplication(cfg)
	application.Init(cfg)
	defer application.Release()

	if err := run(application); err != nil {
		zap.L().Error("wabot exited with error", zap.Error(err))
		_ = zap.L().Sync()
		os.Exit(1)
	}
}

func run(application *app.Application) error {
	cfg := application.Config()

	identity, err := config.LoadIdentity(cfg.ResolvePath(cfg.Bot.IdentityFile), config.IdentityDefaults(), time.Now())
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}
	zap.L().Info("identity loaded",
		zap.String("client_id", identity.ClientID),
		zap.String("bot_number", identity.BotNumber),
		zap.String("trigger_word", identity.TriggerWord),
		zap.String("install_date", identity.InstallDate))
	if identity.Disabled() {
		zap.L().Warn("license expired, incoming messages will be ignored")
	}

	sessionDir := cfg.SessionDir(identity.ClientID)
	if *resetSession {
		if err := common.RemoveTree(sessionDir); err != nil {
			zap.L().Warn("could not clear session folder, continuing", zap.String("path", sessionDir), zap.Error(err))
		}
	}

	pool, err := ants.NewPool(cfg.Bot.Workers,
		ants.WithMaxBlockingTasks(cfg.Bot.Workers*pendingPerWorker),
		ants.WithPanicHandler(func(p interface{}) {
			zap.L().Error("message worker panic", zap.Any("panic", p))
		}))
	if err != nil {
		return fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	records := storage.NewRecordStore(cfg.ResolvePath(cfg.Bot.DataFile))
	if _, err := records.Load(); err != nil {
		zap.L().Warn("data file not readable", zap.String("path", records.Path()), zap.Error(err))
	}
	var audit storage.InteractionRepository
	if db := application.DB(); db != nil {
		audit = storage.NewGormInteractionRepository(db)
	}

	controller := session.NewController(func(ctx context.Context) (session.Client, error) {
		client, err := whatsapp.Open(ctx, sessionDir)
		if err != nil {
			return nil, err
		}
		return client, nil
	}, session.Options{
		BotNumber:         identity.BotNumber,
		KeepAliveText:     cfg.Bot.KeepAliveText,
		LogoutOnReconnect: cfg.Bot.LogoutOnReconnect,
		Pool:              pool,
	})
	controller.SetHandler(router.New(controller, records, audit, router.Options{
		TriggerWord: identity.TriggerWord,
		Disabled:    identity.Disabled(),
		Pacing:      time.Duration(cfg.Bot.PacingMillis) * time.Millisecond,
		Menu:        router.DefaultMenu().WithOverrides(cfg.Bot.Menu),
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return webserver.NewWebServer(cfg.Web).Start(gctx)
	})
	g.Go(func() error {
		return controller.Run(gctx)
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				zap.L().Info("SIGHUP received, restarting session")
				controller.Restart("SIGHUP")
			}
		}
	})
	return g.Wait()
}
