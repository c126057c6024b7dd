// Package app assembles the bot: config, logging, transport, the command
// router and the broadcast scheduler, plus their lifecycle.
package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"stockcast/internal/broadcast"
	"stockcast/internal/commands"
	"stockcast/internal/config"
	"stockcast/internal/eventbus"
	"stockcast/internal/market"
	"stockcast/internal/router"
	rtsup "stockcast/internal/runtime/supervisor"
	"stockcast/internal/sched"
	"stockcast/internal/storage"
	"stockcast/internal/tradingday"
	kit "stockcast/internal/transport"
	"stockcast/internal/transport/telegram"
	"stockcast/pkg/logx"
)

const (
	defaultMarketBaseURL     = "http://stock.svip886.com"
	defaultHolidayPrefetchAt = "07:00"
	defaultPruneAt           = "03:30"
	defaultRetentionDays     = 30
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	adapter   *telegram.Adapter
	router    *router.Router
	broadcast *broadcast.Service
	sched     *sched.Scheduler
	store     storage.Store
	calendar  *tradingday.Calendar
	bus       eventbus.Bus

	bcastLoc *time.Location
}

func New(configPath string) (*App, error) {
	cfgMgr := config.NewManager(configPath, logx.NewConsole("info"))
	cfg, err := cfgMgr.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(buildLogConfig(cfg.Logging), nil)

	a := &App{cfgMgr: cfgMgr, logSvc: logSvc, log: log}
	if err := a.build(cfg); err != nil {
		logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: config.DurationOrDefault(cfg.Telegram.PollTimeout, 10*time.Second),
		RatePerSec:  cfg.Telegram.SendRatePerSec,
	}, a.log)
	if err != nil {
		return fmt.Errorf("telegram adapter: %w", err)
	}
	a.adapter = adapter
	a.logSvc.SetSender(adapter)
	if chatID, threadID, ok := parseGroupLog(cfg.Telegram.GroupLog); ok {
		a.logSvc.SetTelegramTarget(chatID, threadID)
	} else if strings.TrimSpace(cfg.Telegram.GroupLog) != "" {
		a.log.Warn("telegram.group_log is not a chat id, telegram log sink disabled",
			logx.String("group_log", cfg.Telegram.GroupLog))
	}

	baseURL := strings.TrimSpace(cfg.Market.BaseURL)
	if baseURL == "" {
		baseURL = defaultMarketBaseURL
	}
	marketClient := market.NewClient(baseURL,
		config.DurationOrDefault(cfg.Market.Timeout, 10*time.Second), a.log)

	a.calendar = tradingday.New(cfg.TradingDay.CalendarBaseURL,
		config.DurationOrDefault(cfg.TradingDay.Timeout, 5*time.Second), a.log)

	store, err := storage.Open(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	a.store = store

	a.bus = eventbus.New()

	bcastCfg, err := broadcast.BuildConfig(cfg.Broadcast, a.log)
	if err != nil {
		return err
	}
	a.bcastLoc = bcastCfg.Location
	svc, err := broadcast.New(bcastCfg, broadcast.Deps{
		Provider: marketProvider{client: marketClient},
		Sessions: sessionRegistry{sessions: []broadcast.Session{
			telegramSession{id: "telegram", adapter: adapter},
		}},
		Days:  a.calendar,
		Store: store,
		Bus:   a.bus,
		Log:   a.log,
	})
	if err != nil {
		return err
	}
	a.broadcast = svc

	a.router = router.New(a.log, cfg.Telegram.OwnerUserIDs)
	a.router.Use(
		router.PanicRecover(a.log),
		router.RequestLog(a.log),
		router.Timeout(30*time.Second),
		commands.Blacklist(cfg.Blacklist),
	)
	if err := commands.Register(a.router, commands.Deps{
		Market:    marketClient,
		Broadcast: svc,
		Store:     a.store,
	}); err != nil {
		return err
	}

	return a.buildMaintenance(cfg)
}

func (a *App) buildMaintenance(cfg *config.Config) error {
	if !cfg.Maintenance.Enabled {
		return nil
	}
	s := sched.New(a.bcastLoc, a.log)

	prefetchAt := cfg.Maintenance.HolidayPrefetchAt
	if prefetchAt == "" {
		prefetchAt = defaultHolidayPrefetchAt
	}
	loc := a.bcastLoc
	if err := s.AddDaily("holiday_prefetch", prefetchAt, func(ctx context.Context) {
		a.calendar.Prefetch(ctx, loc)
	}); err != nil {
		return err
	}

	if a.store != nil {
		pruneAt := cfg.Maintenance.PruneAt
		if pruneAt == "" {
			pruneAt = defaultPruneAt
		}
		retention := defaultRetentionDays
		if cfg.Storage != nil && cfg.Storage.RetentionDays > 0 {
			retention = cfg.Storage.RetentionDays
		}
		store, log := a.store, a.log
		if err := s.AddDaily("delivery_prune", pruneAt, func(ctx context.Context) {
			cutoff := time.Now().AddDate(0, 0, -retention)
			n, err := store.PruneBefore(ctx, cutoff)
			if err != nil {
				log.Warn("delivery prune failed", logx.Err(err))
				return
			}
			log.Info("delivery log pruned", logx.Int64("deleted", n))
		}); err != nil {
			return err
		}
	}
	a.sched = s
	return nil
}

// Logger exposes the root logger for the entrypoint.
func (a *App) Logger() logx.Logger { return a.log }

// parseGroupLog accepts "chatID" or "chatID/threadID".
func parseGroupLog(s string) (chatID int64, threadID int, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, 0, false
	}
	head, rest, hasThread := strings.Cut(s, "/")
	chatID, err := strconv.ParseInt(head, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	if hasThread {
		threadID, err = strconv.Atoi(rest)
		if err != nil {
			return 0, 0, false
		}
	}
	return chatID, threadID, true
}

func buildLogConfig(lc config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    lc.Telegram.Enabled,
			ThreadID:   lc.Telegram.ThreadID,
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: lc.Telegram.RatePerSec,
		},
	}
}

// Run starts everything and blocks until ctx is canceled or a supervised
// goroutine fails. Shutdown is ordered: stop the update source first, then
// the consumers, then close the sinks.
func (a *App) Run(ctx context.Context) error {
	sup := rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	updates := make(chan kit.Update, 64)
	if err := a.adapter.Start(sup.Context(), updates); err != nil {
		return fmt.Errorf("start telegram adapter: %w", err)
	}

	sup.Go0("router.loop", func(ctx context.Context) {
		a.router.Loop(ctx, updates, a.adapter)
	})
	sup.Go("config.watch", func(ctx context.Context) error {
		err := a.cfgMgr.Watch(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})
	sup.Go0("config.reload", a.reloadLoop)

	if a.bus != nil {
		events, unsub := a.bus.Subscribe(128)
		sup.Go0("eventbus.log", func(ctx context.Context) {
			defer unsub()
			logEvents(ctx, events, a.log)
		})
	}

	if err := a.broadcast.Start(); err != nil {
		sup.Cancel()
		return err
	}
	if a.sched != nil {
		a.sched.Start()
	}

	a.log.Info("stockcast up")
	<-sup.Context().Done()
	a.log.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.adapter.Stop(stopCtx); err != nil {
		a.log.Warn("adapter stop", logx.Err(err))
	}
	if a.sched != nil {
		a.sched.Stop()
	}
	a.broadcast.Stop()
	if err := sup.Wait(stopCtx); err != nil && stopCtx.Err() == nil {
		a.log.Warn("supervised goroutine", logx.Err(err))
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close", logx.Err(err))
		}
	}
	a.logSvc.Close()
	return sup.Err()
}

// reloadLoop applies hot-reloadable config: log sinks, the blacklist-free
// surfaces live elsewhere. Transport, storage and broadcast changes need a
// restart; the loop says so instead of half-applying them.
func (a *App) reloadLoop(ctx context.Context) {
	id, ch := a.cfgMgr.Subscribe()
	defer a.cfgMgr.Unsubscribe(id)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-ch:
			if !ok {
				return
			}
			a.logSvc.Apply(buildLogConfig(cfg.Logging))
			if chatID, threadID, ok := parseGroupLog(cfg.Telegram.GroupLog); ok {
				a.logSvc.SetTelegramTarget(chatID, threadID)
			}
			a.log.Info("logging config reapplied; transport, storage and broadcast changes need a restart")
		}
	}
}

// logEvents drains scheduler lifecycle events into the debug log. Kept at
// debug level so a busy schedule does not flood the sinks.
func logEvents(ctx context.Context, events <-chan eventbus.Event, log logx.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			log.Debug("scheduler event",
				logx.String("type", string(e.Type)),
				logx.Any("data", e.Data))
		}
	}
}
