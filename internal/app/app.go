package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	httpapi "github.com/i474232898/meteocat-sync/internal/api/http"
	"github.com/i474232898/meteocat-sync/internal/config"
	"github.com/i474232898/meteocat-sync/internal/logger"
	"github.com/i474232898/meteocat-sync/internal/meteocat"
	"github.com/i474232898/meteocat-sync/internal/scheduler"
	"github.com/i474232898/meteocat-sync/internal/store"
	"github.com/i474232898/meteocat-sync/internal/weather"
)

const (
	eventBuffer     = 64
	recentEvents    = 50
	shutdownTimeout = 10 * time.Second
)

// App owns every long-lived component of the service.
type App struct {
	cfg         *config.AppConfig
	logger      logger.Logger
	entries     store.EntryStore
	client      *meteocat.Client
	coordinator *weather.Coordinator
	scheduler   *scheduler.Scheduler
	timers      *scheduler.CronTimers
	history     *store.MemoryStore
	notifier    *weather.ChannelNotifier
	events      *weather.EventLog
	server      *fiber.App
}

// New wires the service from cfg. Nothing runs until Run.
func New(ctx context.Context, cfg *config.AppConfig) (*App, error) {
	log := logger.New(cfg.LogLevel, cfg.PrettyLog)

	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	log.Info("opening entry store", logger.String("backend", cfg.StoreBackend))
	entries, err := store.Open(ctx, cfg.Store(), log)
	if err != nil {
		return nil, fmt.Errorf("open entry store: %w", err)
	}

	entry, err := loadEntry(ctx, entries, cfg)
	if err != nil {
		entries.Close()
		return nil, err
	}
	times, err := scheduler.ParseDailyTimes(entry.UpdateTimes)
	if err != nil {
		entries.Close()
		return nil, fmt.Errorf("entry %s update times: %w", entry.ID, err)
	}

	client := meteocat.New(meteocat.Options{
		BaseURL:    cfg.BaseURL,
		APIKey:     entry.APIKey,
		HTTPClient: &http.Client{Timeout: cfg.HTTPTimeout},
		Logger:     log.With(logger.String("component", "meteocat")),
	})

	history := store.NewMemoryStore(cfg.HistoryMax, cfg.HistoryMaxAge)
	notifier := weather.NewChannelNotifier(eventBuffer)
	coordinator := weather.NewCoordinator(weather.Options{
		API:      client,
		Keys:     client,
		Entry:    weather.NewEntryHandle(entries, entry),
		Notifier: notifier,
		History:  history,
		Logger:   log.With(logger.String("component", "coordinator")),
	})

	timers := scheduler.NewCronTimers(loc)
	sched, err := scheduler.New(scheduler.Options{
		Times: times,
		Run: func(ctx context.Context) error {
			_, err := coordinator.Refresh(ctx)
			return err
		},
		Timers:       timers,
		Location:     loc,
		RetryDelay:   cfg.RetryDelay,
		CycleTimeout: cfg.CycleTimeout,
		Logger:       log.With(logger.String("component", "scheduler")),
	})
	if err != nil {
		timers.Close()
		entries.Close()
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	coordinator.UseSchedule(sched)

	a := &App{
		cfg:         cfg,
		logger:      log,
		entries:     entries,
		client:      client,
		coordinator: coordinator,
		scheduler:   sched,
		timers:      timers,
		history:     history,
		notifier:    notifier,
		events:      weather.NewEventLog(recentEvents),
	}
	a.server = a.newServer()
	return a, nil
}

func (a *App) newServer() *fiber.App {
	server := fiber.New(fiber.Config{
		AppName:               "meteocat-sync",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		// Manual refreshes run a whole cycle inside the request.
		WriteTimeout: a.cfg.CycleTimeout + 10*time.Second,
		ErrorHandler: httpapi.ErrorHandler,
	})

	server.Use(fiberlogger.New())
	server.Use(recover.New())

	httpapi.RegisterRoutes(server, httpapi.Deps{
		Engine:   a.coordinator,
		Schedule: a.scheduler,
		History:  a.history,
		Events:   a.events,
		Timeout:  a.cfg.CycleTimeout,
	})
	return server
}

// Run performs the first refresh, arms the schedule and serves HTTP until
// ctx is cancelled or SIGINT/SIGTERM arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	e := a.coordinator.Entry()
	a.logger.Info("starting meteocat-sync",
		logger.String("entry", e.ID),
		logger.String("key", e.Key()),
		logger.Strings("update_times", a.scheduler.Times().Strings()),
		logger.String("port", a.cfg.Port))

	go a.consumeEvents(ctx)

	a.firstRefresh(ctx)

	if err := a.scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	if next, ok := a.scheduler.NextUpdate(); ok {
		a.logger.Info("scheduler armed", logger.Time("next_update", next))
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Listen(":" + a.cfg.Port); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutting down gracefully")
	case runErr = <-errCh:
	}

	a.scheduler.Stop()
	a.timers.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.server.ShutdownWithContext(shutdownCtx); err != nil {
		a.logger.Warn("error during server shutdown", logger.Error(err))
	}
	if err := a.entries.Close(); err != nil {
		a.logger.Warn("failed to close entry store", logger.Error(err))
	}

	a.logger.Info("meteocat-sync stopped")
	_ = a.logger.Sync()
	return runErr
}

// firstRefresh runs the setup cycle. A failure is logged, not fatal: the
// scheduled cycles keep running the lenient first cycle until one succeeds.
func (a *App) firstRefresh(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.CycleTimeout)
	defer cancel()

	snap, err := a.coordinator.FirstRefresh(ctx)
	switch {
	case err == nil:
		a.logger.Info("first refresh done", logger.String("snapshot", snap.ID))
	case weather.IsAuth(err):
		a.logger.Error("API key rejected, re-authenticate with POST /api/v1/reauth", logger.Error(err))
	default:
		a.logger.Warn("first refresh failed, will retry on schedule", logger.Error(err))
	}
}

func (a *App) consumeEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-a.notifier.Events():
			a.events.Notify(e)
			fields := []logger.Field{
				logger.String("type", string(e.Type)),
				logger.String("key", e.Key),
			}
			if e.Next != nil {
				fields = append(fields, logger.Time("next", *e.Next))
			}
			a.logger.Info("event", fields...)
		}
	}
}

// loadEntry returns the stored entry reconciled with cfg, creating it on
// first start.
func loadEntry(ctx context.Context, entries weather.EntryStore, cfg *config.AppConfig) (weather.Entry, error) {
	stored, err := entries.Load(ctx, cfg.EntryID)
	if errors.Is(err, weather.ErrEntryNotFound) {
		e := cfg.Entry()
		e.UpdatedAt = time.Now().UTC()
		if err := entries.Save(ctx, e); err != nil {
			return weather.Entry{}, fmt.Errorf("create entry %s: %w", e.ID, err)
		}
		return e, nil
	}
	if err != nil {
		return weather.Entry{}, fmt.Errorf("load entry %s: %w", cfg.EntryID, err)
	}

	e, changed := reconcileEntry(stored, cfg)
	if changed {
		e.UpdatedAt = time.Now().UTC()
		if err := entries.Save(ctx, e); err != nil {
			return weather.Entry{}, fmt.Errorf("save entry %s: %w", e.ID, err)
		}
	}
	return e, nil
}

// reconcileEntry applies cfg to a stored entry. A stored API key and stored
// update times win, since both are changed at runtime. Location and flags
// follow cfg; a changed station drops the cached station record.
func reconcileEntry(stored weather.Entry, cfg *config.AppConfig) (weather.Entry, bool) {
	e := stored.Clone()
	changed := false

	if e.APIKey == "" && cfg.APIKey != "" {
		e.APIKey = cfg.APIKey
		changed = true
	}
	if len(e.UpdateTimes) == 0 {
		e.UpdateTimes = append([]string(nil), cfg.UpdateTimes...)
		changed = true
	}
	if e.StationID != cfg.StationID {
		e.StationID = cfg.StationID
		e.Station = nil
		changed = true
	}
	if e.MunicipalityID != cfg.MunicipalityID {
		e.MunicipalityID = cfg.MunicipalityID
		changed = true
	}
	if e.EnableDailyForecast != cfg.EnableDailyForecast {
		e.EnableDailyForecast = cfg.EnableDailyForecast
		changed = true
	}
	if e.EnableHourlyForecast != cfg.EnableHourlyForecast {
		e.EnableHourlyForecast = cfg.EnableHourlyForecast
		changed = true
	}
	return e, changed
}
