// Package app wires configuration, storage, the messaging gateway and the
// dispatch/reply pipeline into one supervised process.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"pulsewire/internal/config"
	"pulsewire/internal/dispatch"
	"pulsewire/internal/eventbus"
	"pulsewire/internal/router"
	"pulsewire/internal/runtime/supervisor"
	"pulsewire/internal/scheduler"
	"pulsewire/internal/server"
	"pulsewire/internal/storage"
	"pulsewire/internal/transport/gateway"
	"pulsewire/internal/webhook"
	logx "pulsewire/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	gateway  *gateway.Client
	engine   *dispatch.Engine
	dispatch *dispatch.Service
	router   *router.Router
	webhook  *webhook.Handler
	server   *server.Service
	sched    *scheduler.Service

	shutdownTimeout time.Duration
	startedAt       time.Time
}

// New loads the config at cfgPath (may be empty) and builds every component.
// Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	rc, err := mapConfig(cfg)
	if err != nil {
		return nil, err
	}

	// Alerts need the gateway, which wants a logger: start the log service
	// without a sender and attach the client once it exists.
	logSvc, log := logx.New(rc.log, nil)
	gw := gateway.New(rc.gateway, log.With(logx.String("comp", "gateway")))
	logSvc.SetSender(gw)

	store, err := storage.Open(rc.storage, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log.Info("storage opened", logx.String("driver", rc.storage.Driver), logx.String("path", rc.storage.Path))

	bus := eventbus.New()
	engine := dispatch.NewEngine(rc.dispatch, gw, store, bus, log)
	rt := router.New(store, rc.channel, bus, log)
	wh := webhook.New(rc.webhook, rt, gw, log)
	dsvc := dispatch.NewService(store, engine, log)

	a := &App{
		cfgm:            cfgm,
		log:             log.With(logx.String("comp", "app")),
		logs:            logSvc,
		bus:             bus,
		store:           store,
		gateway:         gw,
		engine:          engine,
		dispatch:        dsvc,
		router:          rt,
		webhook:         wh,
		sched:           scheduler.New(rc.scheduler, store, bus, log),
		shutdownTimeout: rc.shutdownTimeout,
	}
	a.server = server.New(rc.server, server.Deps{
		Dispatcher: dsvc,
		Webhook:    wh,
		Health:     a.health,
	}, log)
	return a, nil
}

// Dispatcher exposes the dispatch trigger for in-process callers.
func (a *App) Dispatcher() *dispatch.Service { return a.dispatch }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// ShutdownTimeout is server.shutdown_timeout as of startup.
func (a *App) ShutdownTimeout() time.Duration { return a.shutdownTimeout }

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.startedAt = time.Now()

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := config.Validate(cfg); err != nil {
			return err
		}
		_, err := mapConfig(cfg)
		return err
	})

	if err := a.server.Start(a.sup.Context()); err != nil {
		a.sup.Cancel()
		return err
	}
	if err := a.sched.Start(a.sup.Context()); err != nil {
		a.sup.Cancel()
		return fmt.Errorf("start scheduler: %w", err)
	}

	events, unsub := a.bus.Subscribe(256)
	a.sup.Go("audit", func(c context.Context) error {
		defer unsub()
		runAudit(c, events, a.store, a.log.With(logx.String("comp", "audit")))
		return nil
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.GoRestart("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	}, supervisor.WithRestartBackoff(time.Second, time.Minute))

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("systemd notified ready")
	}
	a.log.Info("app started", logx.String("addr", a.server.Addr()))
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	rc, err := mapConfig(newCfg)
	if err != nil {
		a.log.Warn("invalid config; keeping previous", logx.Err(err))
		return
	}

	if oldCfg != nil && oldCfg.Storage != newCfg.Storage {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	if oldCfg != nil && !strings.EqualFold(strings.TrimSpace(oldCfg.Gateway.Channel), strings.TrimSpace(newCfg.Gateway.Channel)) {
		a.log.Warn("gateway.channel changed; reply routing keeps the old channel until restart")
	}

	// update log sinks first so the rest of this reload logs to the new targets
	a.logs.Apply(rc.log)
	a.gateway.Apply(rc.gateway)
	a.engine.Apply(rc.dispatch)
	a.webhook.Apply(rc.webhook)
	if err := a.sched.Apply(rc.scheduler); err != nil {
		a.log.Warn("scheduler reconfigure failed", logx.Err(err))
	}
	if err := a.server.Reconfigure(ctx, rc.server); err != nil {
		a.log.Error("server reconfigure failed", logx.Err(err))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

type health struct {
	Status     string              `json:"status"`
	Uptime     string              `json:"uptime"`
	Scheduler  bool                `json:"scheduler"`
	Goroutines supervisor.Counters `json:"goroutines"`
	// EventsDropped counts bus deliveries lost to a full subscriber; each
	// is a missing audit row.
	EventsDropped uint64 `json:"events_dropped"`
	FirstError    string `json:"first_error,omitempty"`
}

func (a *App) health() any {
	h := health{Status: "ok", Scheduler: a.sched.Enabled(), EventsDropped: a.bus.Dropped()}
	if a.sup != nil {
		h.Goroutines = a.sup.Counters()
		if err := a.sup.Err(); err != nil {
			h.Status = "degraded"
			h.FirstError = err.Error()
		}
	}
	if !a.startedAt.IsZero() {
		h.Uptime = time.Since(a.startedAt).Round(time.Second).String()
	}
	return h
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	// Stop accepting requests before canceling the run context so in-flight
	// dispatches finish against a live store.
	a.step(ctx, "server", a.shutdownTimeout, func(c context.Context) error { a.server.Stop(c); return nil })
	a.sup.Cancel()

	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "webhook.replies", 5*time.Second, func(c context.Context) error { a.webhook.Wait(c); return nil })
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

// step runs one shutdown step with an upper bound so one component can't
// stall the whole stop.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	stepCtx := ctx
	if max > 0 {
		// respect the caller's deadline; never extend it
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, max)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}
