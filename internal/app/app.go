package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"sessionbot/internal/calendar"
	"sessionbot/internal/chat"
	"sessionbot/internal/config"
	"sessionbot/internal/ics"
	"sessionbot/internal/poll"
	"sessionbot/internal/scheduler"
	"sessionbot/internal/settings"
	"sessionbot/internal/storage"
	"sessionbot/internal/tasks"
	logx "sessionbot/pkg/logx"
)

// App wires the services together and owns their lifecycle.
type App struct {
	cfgm *config.Manager
	log  logx.Logger
	logs *logx.Service

	store  storage.Store
	sets   *settings.Service
	engine *poll.Engine
	recon  *calendar.Reconciler
	sink   chat.Sink
	sched  *scheduler.Service
	tasks  *tasks.Service

	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return cfg.Validate()
	})
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(logs.Logger().With(logx.String("comp", "config")))

	var store storage.Store
	if cfg.Storage != nil {
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
		if err != nil {
			return nil, err
		}
		store, err = storage.Open(storage.Config{
			Driver:      cfg.Storage.Driver,
			Path:        cfg.Storage.Path,
			BusyTimeout: busy,
		}, logs.Logger())
		if err != nil {
			return nil, err
		}
		if store != nil {
			log.Info("storage enabled", logx.String("driver", cfg.Storage.Driver))
		}
	}

	sets := settings.New(cfg.Schedule, store, logs.Logger())
	loc := sets.Current().Location()

	engine := poll.NewEngine(store, logs.Logger())

	provider, err := ics.NewDirProvider(cfg.Calendar.CalendarID, logs.Logger())
	if err != nil {
		return nil, fmt.Errorf("shared calendar: %w", err)
	}

	var feeds []calendar.Provider
	if len(cfg.Feeds) > 0 {
		fetcher := ics.NewFetcher(feedCacheDir(cfg), logs.Logger())
		for _, f := range cfg.Feeds {
			feeds = append(feeds, ics.NewFeedProvider(f.Owner, f.URL, fetcher, logs.Logger()))
		}
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	sink, err := chat.NewTelegram(chat.TelegramConfig{
		Token:       cfg.Telegram.Token,
		ChatID:      cfg.Telegram.ChatID,
		PollTimeout: pollTimeout,
	}, logs.Logger())
	if err != nil {
		return nil, err
	}

	cls := calendar.NewClassifier(cfg.Calendar, loc)
	recon := calendar.NewReconciler(provider, cls, store, calendar.ReconcilerOptions{
		LookaheadDays: cfg.Calendar.LookaheadDays,
		RetryMax:      cfg.Calendar.RetryMax,
		Location:      loc,
		Feeds:         feeds,
		Notifier:      chat.NewNotifier(sink),
	}, logs.Logger())

	defaultTimeout, err := config.ParseDurationOrDefault("scheduler.default_timeout", cfg.Scheduler.DefaultTimeout, 2*time.Minute)
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(scheduler.Config{
		Enabled:        cfg.Scheduler.Enabled,
		Workers:        cfg.Scheduler.Workers,
		DefaultTimeout: defaultTimeout,
		HistorySize:    cfg.Scheduler.HistorySize,
		Timezone:       sets.Current().Timezone,
		RetryMax:       cfg.Scheduler.RetryMax,
	}, logs.Logger())

	tsk, err := tasks.New(tasks.Deps{
		Engine:   engine,
		Recon:    recon,
		Provider: provider,
		Cls:      cls,
		Sink:     sink,
		Settings: sets,
		Store:    store,
		Calendar: cfg.Calendar,
		Log:      logs.Logger(),
	})
	if err != nil {
		return nil, err
	}

	return &App{
		cfgm:   cfgm,
		log:    log,
		logs:   logs,
		store:  store,
		sets:   sets,
		engine: engine,
		recon:  recon,
		sink:   sink,
		sched:  sched,
		tasks:  tsk,
	}, nil
}

// feedCacheDir puts the feed cache next to the sqlite file when there is
// one, and in the working directory otherwise.
func feedCacheDir(cfg *config.Config) string {
	if cfg.Storage != nil && strings.TrimSpace(cfg.Storage.Path) != "" {
		return filepath.Join(filepath.Dir(cfg.Storage.Path), "ics-cache")
	}
	return "./ics-cache"
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	a.runCancel = cancel

	if err := a.sets.Load(ctx); err != nil {
		return err
	}
	if err := a.engine.Restore(ctx); err != nil {
		return err
	}

	if err := a.sink.Start(runCtx); err != nil {
		return err
	}
	if err := a.tasks.Bind(a.sched); err != nil {
		return err
	}
	if a.sched.Enabled() {
		if err := a.sched.Start(runCtx); err != nil {
			return err
		}
	} else {
		a.log.Warn("scheduler disabled; no jobs will fire")
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(runCtx); err != nil && runCtx.Err() == nil {
			a.log.Error("config watch stopped", logx.Err(err))
		}
	}()

	sub := a.cfgm.Subscribe(4)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(runCtx, sub)
	}()

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("systemd notified ready")
	}

	a.log.Info("started")
	return nil
}

// reloadLoop applies hot config changes: logging, schedule defaults, and
// scheduler execution settings. Telegram, storage, calendar, and feed
// changes need a restart.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			sections, attrs := config.SummarizeConfigChange(last, cfg)
			if len(sections) == 0 {
				a.log.Debug("config reload: no effective changes")
				continue
			}
			a.log.Info("config reloaded",
				append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
			last = cfg

			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})

			for _, s := range sections {
				switch s {
				case "storage", "telegram", "calendar", "feeds":
					a.log.Warn("config section needs a restart to take effect",
						logx.String("section", s))
				}
			}

			if dt, err := config.ParseDurationOrDefault("scheduler.default_timeout", cfg.Scheduler.DefaultTimeout, 2*time.Minute); err == nil {
				a.sched.Apply(scheduler.Config{
					Enabled:        cfg.Scheduler.Enabled,
					Workers:        cfg.Scheduler.Workers,
					DefaultTimeout: dt,
					HistorySize:    cfg.Scheduler.HistorySize,
					Timezone:       a.sets.Current().Timezone,
					RetryMax:       cfg.Scheduler.RetryMax,
				})
			}

			// New schedule defaults flow through settings, whose change hook
			// reloads the trigger set atomically.
			a.sets.SetDefaults(cfg.Schedule)
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	a.log.Info("stopping")

	if a.runCancel != nil {
		a.runCancel()
	}
	a.sched.Stop()
	if err := a.sink.Stop(ctx); err != nil {
		a.log.Warn("chat stop", logx.Err(err))
	}
	a.wg.Wait()

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close", logx.Err(err))
		}
	}
	a.log.Info("stopped")
	return a.logs.Close()
}
