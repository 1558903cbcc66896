// Package app wires the delivery pipeline together and owns its lifecycle.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/internal/adapters/telegram"
	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/internal/config"
	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/internal/engine"
	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/internal/forwarder"
	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/internal/mapping"
	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/internal/notifier"
	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/internal/outbox"
	obpostgres "github.com/Yoganataa/tiktok-notification-forwarder-sub000/internal/outbox/postgres"
	obsqlite "github.com/Yoganataa/tiktok-notification-forwarder-sub000/internal/outbox/sqlite"
	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/internal/queue"
	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/internal/storage"
	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/internal/tracker"
	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/pkg/logx"
	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/pkg/retry"
)

type App struct {
	cfgMgr   *config.Manager
	log      logx.Logger
	logClose func() error

	// localDB always exists: queue and watermarks. eventDB is where the
	// outbox and mappings live; it aliases localDB on the sqlite driver.
	// sentDB holds the delivery history in its own file: the notifier reads
	// it from inside dispatcher transactions, which own eventDB's only
	// connection on sqlite.
	localDB *sql.DB
	eventDB *sql.DB
	sentDB  *sql.DB

	adapter    *telegram.Adapter
	dispatcher *outbox.Dispatcher
	worker     *queue.Worker
	track      *tracker.Tracker
	fwd        *forwarder.Forwarder

	runCancel context.CancelFunc
	runWG     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	a := &App{}

	boot := logx.NewConsole("info")
	a.cfgMgr = config.NewManager(cfgPath, boot)
	cfg, err := a.cfgMgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, closeLog, err := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	a.log = log
	a.logClose = closeLog

	if err := a.build(cfg); err != nil {
		_ = closeLog()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	busy, _ := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	path := cfg.Storage.Path
	if path == "" {
		path = "./forwarder.db"
	}
	localDB, err := storage.Open(storage.Config{Path: path, BusyTimeout: busy})
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	a.localDB = localDB

	// Event store backend.
	var (
		store   outbox.Store
		dialect mapping.Dialect
	)
	switch cfg.Storage.Driver {
	case "postgres":
		pg, err := sql.Open("pgx", cfg.Storage.DSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		if err := obpostgres.Migrate(context.Background(), pg); err != nil {
			return fmt.Errorf("migrate postgres: %w", err)
		}
		a.eventDB = pg
		store = obpostgres.New()
		dialect = mapping.DialectPostgres
	default:
		a.eventDB = localDB
		lockTimeout, _ := config.ParseDurationOrDefault("outbox.lock_timeout", cfg.Outbox.LockTimeout, 5*time.Minute)
		store = obsqlite.New(obsqlite.WithLockTimeout(lockTimeout))
		dialect = mapping.DialectSQLite
	}

	// Outbound transport.
	pollTimeout, _ := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	sentDB, err := storage.OpenSentLog(storage.Config{Path: storage.SentLogPath(path), BusyTimeout: busy})
	if err != nil {
		return fmt.Errorf("open sent log storage: %w", err)
	}
	a.sentDB = sentDB
	sentLog := storage.NewSentLog(sentDB, 0)
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, sentLog, a.log.With(logx.String("component", "telegram")))
	if err != nil {
		return fmt.Errorf("init telegram: %w", err)
	}
	a.adapter = adapter

	// Download engines.
	engines := a.buildEngines(cfg)

	// Delivery handler.
	retryBase, _ := config.ParseDurationField("notifier.retry_base", cfg.Notifier.RetryBase)
	retryMax, _ := config.ParseDurationField("notifier.retry_max_delay", cfg.Notifier.RetryMaxDelay)
	notify := notifier.New(adapter, notifier.Config{
		SendsPerSecond: cfg.Notifier.RatePerSec,
		Burst:          cfg.Notifier.Burst,
		Retry: retry.Policy{
			Attempts: cfg.Notifier.RetryMax,
			Base:     retryBase,
			MaxDelay: retryMax,
		},
	}, a.log.With(logx.String("component", "notifier")))

	reg := outbox.NewRegistry(a.log.With(logx.String("component", "registry")))
	notify.Register(reg)

	// Dispatcher.
	interval, _ := config.ParseDurationField("outbox.interval", cfg.Outbox.Interval)
	a.dispatcher = outbox.NewDispatcher(a.eventDB, store, reg, outbox.DispatcherConfig{
		Interval:  interval,
		BatchSize: cfg.Outbox.BatchSize,
	}, a.log.With(logx.String("component", "dispatcher")))

	// Use case.
	maps := mapping.NewStore(a.eventDB, dialect, mapping.StaticProvisioner{ChatID: cfg.Telegram.DefaultChat})
	a.fwd = forwarder.New(a.eventDB, store, maps, engines, a.cfgMgr.EngineSelection,
		a.log.With(logx.String("component", "forwarder")))

	// Secondary path: the forwarder writes jobs instead of outbox events and
	// the worker resolves media through the engine chain at delivery time.
	if cfg.Queue.Enabled {
		qlog := a.log.With(logx.String("component", "queue"))
		qstore := queue.NewStore(localDB)
		a.fwd.UseJobQueue(qstore)
		qinterval, _ := config.ParseDurationField("queue.interval", cfg.Queue.Interval)
		deliver := queue.NewPostDeliver(engines, a.cfgMgr.EngineSelection, notify, qlog)
		a.worker = queue.NewWorker(qstore, deliver, queue.WorkerConfig{
			Interval:  qinterval,
			BatchSize: cfg.Queue.BatchSize,
		}, qlog)
	}

	// Creator polling.
	if cfg.Tracker.Enabled {
		feed := tracker.NewTikwmFeed(tracker.TikwmFeedOptions{BaseURL: cfg.Download.Tikwm.BaseURL})
		track, err := tracker.New(feed, a.fwd, tracker.NewWatermarkStore(localDB), tracker.Config{
			Schedule: cfg.Tracker.Schedule,
			Creators: cfg.Tracker.Creators,
		}, a.log.With(logx.String("component", "tracker")))
		if err != nil {
			return err
		}
		a.track = track
	}
	return nil
}

func (a *App) buildEngines(cfg *config.Config) *engine.Registry {
	log := a.log.With(logx.String("component", "engine"))
	reg := engine.NewRegistry(log)

	tikwmTimeout, _ := config.ParseDurationField("download.tikwm.timeout", cfg.Download.Tikwm.Timeout)
	reg.Register(
		engine.NewTikwm(engine.TikwmOptions{BaseURL: cfg.Download.Tikwm.BaseURL, Client: httpClient(tikwmTimeout)}),
		engine.NewDirect(engine.DirectOptions{}),
	)
	if cfg.Download.Snapdl.ResolverURL != "" {
		snapTimeout, _ := config.ParseDurationField("download.snapdl.timeout", cfg.Download.Snapdl.Timeout)
		reg.Register(engine.NewSnapdl(engine.SnapdlOptions{
			BaseURL: cfg.Download.Snapdl.ResolverURL,
			Client:  httpClient(snapTimeout),
		}))
		reg.Register(engine.NewInstagram(engine.InstagramOptions{BaseURL: cfg.Download.Snapdl.ResolverURL}))
		reg.RoutePlatform(engine.InstagramHost, "instagram")
	}
	reg.SetCatchAll("direct")
	return reg
}

// Forwarder exposes the use case for callers outside the polling loop.
func (a *App) Forwarder() *forwarder.Forwarder { return a.fwd }

func (a *App) Start(ctx context.Context) error {
	rctx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel

	if err := a.adapter.Start(rctx); err != nil {
		cancel()
		return err
	}

	a.runWG.Add(1)
	go func() {
		defer a.runWG.Done()
		a.dispatcher.Start(rctx)
	}()

	if a.worker != nil {
		a.runWG.Add(1)
		go func() {
			defer a.runWG.Done()
			a.worker.Start(rctx)
		}()
	}

	if a.track != nil {
		if err := a.track.Start(rctx); err != nil {
			cancel()
			return err
		}
	}

	a.runWG.Add(1)
	go func() {
		defer a.runWG.Done()
		_ = a.cfgMgr.Watch(rctx)
	}()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("started")
	return nil
}

// Stop shuts down in dependency order: stop producing (tracker), stop
// dispatching, stop the queue, then drop the transport.
func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	if a.track != nil {
		a.track.Stop()
	}
	if a.runCancel != nil {
		a.runCancel()
	}

	done := make(chan struct{})
	go func() {
		a.runWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	err := a.adapter.Stop(ctx)

	if a.eventDB != nil && a.eventDB != a.localDB {
		_ = a.eventDB.Close()
	}
	if a.sentDB != nil {
		_ = a.sentDB.Close()
	}
	if a.localDB != nil {
		_ = a.localDB.Close()
	}
	a.log.Info("stopped")
	if a.logClose != nil {
		_ = a.logClose()
	}
	return err
}

func httpClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		return nil
	}
	return &http.Client{Timeout: timeout}
}
