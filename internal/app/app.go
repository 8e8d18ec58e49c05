// Package app wires configuration, logging, storage and the services into
// one startable unit.
package app

import (
	"context"
	"strings"
	"time"

	"matchbot/internal/config"
	"matchbot/internal/decision"
	"matchbot/internal/dispatch"
	"matchbot/internal/eventbus"
	"matchbot/internal/inference"
	"matchbot/internal/stats"
	"matchbot/internal/storage"
	logx "matchbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	store storage.Store
	llm   *inference.Client
	disp  *dispatch.Service
	rep   *stats.Reporter

	watchCancel context.CancelFunc
	watchDone   chan struct{}
}

// New loads the config and constructs every component. Configuration or
// storage problems surface here, before any loop starts.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
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
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logs.Close()
		return nil, err
	}

	infTimeout, err := config.ParseDurationOrDefault("inference.timeout", cfg.Inference.Timeout, 60*time.Second)
	if err != nil {
		return nil, err
	}
	infURL := cfg.Inference.URL
	if strings.TrimSpace(infURL) == "" {
		infURL = config.DefaultInferenceURL
	}
	infModel := cfg.Inference.Model
	if strings.TrimSpace(infModel) == "" {
		infModel = config.DefaultInferenceModel
	}
	llm := inference.New(inference.Config{
		URL:          infURL,
		Model:        infModel,
		Timeout:      infTimeout,
		MaxPerMinute: cfg.Inference.MaxPerMinute,
	}, log.With(logx.String("comp", "inference")))

	engine := decision.NewEngine(llm, store, log.With(logx.String("comp", "decision")))

	bus := eventbus.New()

	reg := dispatch.NewRegistry()
	reg.Register(storage.ActionRespondToLike,
		dispatch.NewRespondToLike(store, engine, log.With(logx.String("comp", "respond_like"))))
	reg.Register(storage.ActionSendChatMessage, dispatch.Noop("send_chat_message", log))
	reg.Register(storage.ActionViewProfile, dispatch.Noop("view_profile", log))

	pollInterval, err := config.ParseDurationOrDefault("dispatcher.poll_interval", cfg.Dispatcher.PollInterval, time.Minute)
	if err != nil {
		return nil, err
	}
	disp := dispatch.New(dispatch.Config{
		PollInterval: pollInterval,
		BatchLimit:   cfg.Dispatcher.BatchLimit,
	}, store, reg, bus, log.With(logx.String("comp", "dispatch")))

	statsInterval, err := config.ParseDurationOrDefault("stats.interval", cfg.Stats.Interval, time.Hour)
	if err != nil {
		return nil, err
	}
	rep := stats.New(statsInterval, bus, store, log.With(logx.String("comp", "stats")))

	return &App{
		cfgm:  cfgm,
		logs:  logs,
		log:   log,
		store: store,
		llm:   llm,
		disp:  disp,
		rep:   rep,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()
	a.log.Info("matchbot starting",
		logx.String("inference_url", orDefault(cfg.Inference.URL, config.DefaultInferenceURL)),
		logx.String("model", orDefault(cfg.Inference.Model, config.DefaultInferenceModel)),
		logx.String("db", cfg.Storage.Path))

	if err := a.rep.Start(ctx); err != nil {
		return err
	}
	if err := a.disp.Start(ctx); err != nil {
		a.rep.Stop(ctx)
		return err
	}

	// Config watch: only the logging block is applied live; everything else
	// needs a restart.
	watchCtx, cancel := context.WithCancel(ctx)
	a.watchCancel = cancel
	a.watchDone = make(chan struct{})
	go func() {
		defer close(a.watchDone)
		err := a.cfgm.Watch(watchCtx, func(c *config.Config) {
			a.logs.Apply(logx.Config{
				Level:   c.Logging.Level,
				Console: c.Logging.Console,
				File: logx.FileConfig{
					Enabled: c.Logging.File.Enabled,
					Path:    c.Logging.File.Path,
				},
			})
		})
		if err != nil && watchCtx.Err() == nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.watchCancel != nil {
		a.watchCancel()
		<-a.watchDone
	}
	a.disp.Stop(ctx)
	a.rep.Stop(ctx)
	err := a.store.Close()
	_ = a.logs.Close()
	return err
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
