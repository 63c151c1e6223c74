package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/spyrothon/graphics-sub000/internal/api"
	"github.com/spyrothon/graphics-sub000/internal/broadcast"
	"github.com/spyrothon/graphics-sub000/internal/config"
	"github.com/spyrothon/graphics-sub000/internal/events"
	"github.com/spyrothon/graphics-sub000/internal/livesync"
	applog "github.com/spyrothon/graphics-sub000/internal/log"
	"github.com/spyrothon/graphics-sub000/internal/metrics"
	"github.com/spyrothon/graphics-sub000/internal/mqtt"
	"github.com/spyrothon/graphics-sub000/internal/obs"
	"github.com/spyrothon/graphics-sub000/internal/orchestrator"
	"github.com/spyrothon/graphics-sub000/internal/storage"
	"github.com/spyrothon/graphics-sub000/internal/storage/memory"
	"github.com/spyrothon/graphics-sub000/internal/storage/postgres"
	"github.com/spyrothon/graphics-sub000/internal/transitions"
	"github.com/spyrothon/graphics-sub000/internal/version"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to config.yaml")
	flag.Parse()

	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *configPath, err)
		os.Exit(1)
	}
	applog.Configure(applog.Config{Level: cfg.Log.Level})
	logger := applog.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Fatal().Err(err).Msg("liveserver failed")
	}
}

// store bundles the document store with its optional audit appender.
type store struct {
	storage.Store
	appender events.Appender
	ping     func(context.Context) error
	close    func() error
}

func openStore(ctx context.Context, cfg *config.Config) (*store, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		dsn, err := cfg.PostgresDSN()
		if err != nil {
			return nil, err
		}
		pg, err := postgres.Open(ctx, dsn, cfg.Server.Instance)
		if err != nil {
			return nil, err
		}
		return &store{Store: pg, appender: pg, ping: pg.Ping, close: pg.Close}, nil
	default:
		mem := memory.New()
		if cfg.Storage.FixturePath != "" {
			var err error
			if mem, err = memory.LoadFixture(cfg.Storage.FixturePath); err != nil {
				return nil, err
			}
		}
		return &store{Store: mem}, nil
	}
}

// bus bundles the broadcast bus with its transport health.
type bus struct {
	broadcast.Bus
	connected func() bool
	close     func()
}

func openBus(cfg *config.Config, logger zerolog.Logger) (*bus, error) {
	switch cfg.Bus.Driver {
	case "mqtt":
		client := mqtt.NewClient(mqtt.Options{
			BrokerURL: cfg.Bus.URL,
			ClientID:  "liveserver-" + cfg.Server.Instance,
			Logger:    applog.WithComponent("mqtt"),
		})
		// Paho keeps retrying in the background; subscriptions resume on connect.
		client.StartWithRetry()
		b, err := broadcast.NewMQTTBus(client, cfg.Bus.Prefix, logger)
		if err != nil {
			client.Disconnect()
			return nil, err
		}
		return &bus{Bus: b, connected: client.IsConnected, close: client.Disconnect}, nil
	case "nats":
		conn, err := broadcast.DialNATS(cfg.Bus.URL, "liveserver-"+cfg.Server.Instance, applog.WithComponent("nats"))
		if err != nil {
			return nil, err
		}
		b, err := broadcast.NewNATSBus(conn, cfg.Bus.Prefix, logger)
		if err != nil {
			conn.Close()
			return nil, err
		}
		return &bus{Bus: b, connected: conn.IsConnected, close: conn.Close}, nil
	default:
		return &bus{Bus: broadcast.NewLocal(), connected: func() bool { return true }, close: func() {}}, nil
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := applog.WithComponent("main")
	met := metrics.New(cfg.Server.Instance)

	st, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	if st.close != nil {
		defer st.close()
	}

	auditLog := events.NewLog(events.Options{
		Appender: st.appender,
		Logger:   applog.WithComponent("events"),
		OnEmit:   func(events.Event) { met.IncEvents() },
	})

	b, err := openBus(cfg, applog.WithComponent("broadcast"))
	if err != nil {
		return fmt.Errorf("open bus: %w", err)
	}
	defer b.close()
	defer b.Close()

	tracker := broadcast.NewTracker(b)
	defer tracker.Stop()

	hub := livesync.NewHub(applog.WithComponent("livesync"))
	hub.OnClientCount = met.SetSyncClients

	password, err := cfg.OBSPassword()
	if err != nil {
		return fmt.Errorf("resolve obs password: %w", err)
	}
	device := obs.NewClient(obs.Options{
		URL:               cfg.OBS.URL,
		Password:          password,
		ConnectTimeout:    cfg.OBS.ConnectTimeout.Std(),
		ReconnectInterval: cfg.OBS.ReconnectInterval.Std(),
		Logger:            applog.WithComponent("obs"),
	})
	device.On(obs.EventConnectionOpened, func(obs.Event) {
		met.SetDeviceConnected(true)
		auditLog.Emit(context.Background(), "info", events.DeviceConnected, "", map[string]any{"url": cfg.OBS.URL})
	})
	device.On(obs.EventConnectionClosed, func(obs.Event) {
		met.SetDeviceConnected(false)
		auditLog.Emit(context.Background(), "warn", events.DeviceLost, "", map[string]any{"url": cfg.OBS.URL})
	})

	runner := transitions.NewRunner(device, b, transitions.Options{
		SafetyMargin:      cfg.MediaSafetyMargin(),
		CompletionTimeout: cfg.Transitions.CompletionTimeout.Std(),
		Exclusive:         cfg.Exclusive(),
		Logger:            applog.WithComponent("transitions"),
		Sink:              orchestrator.NewSetSink(st, hub, nil, applog.WithComponent("sink")),
		Recorder:          met,
	})

	svc := orchestrator.NewService(orchestrator.Options{
		ScheduleID: cfg.Schedule.ID,
		Store:      st,
		Runner:     runner,
		Sync:       hub,
		Events:     auditLog,
		Logger:     applog.WithComponent("orchestrator"),
	})

	if sched, err := svc.Schedule(ctx); err == nil {
		if msg, err := livesync.NewMessage(livesync.ScheduleLoaded, sched.ID, sched, time.Now().UTC()); err == nil {
			hub.Publish(msg)
		}
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("load schedule: %w", err)
	} else {
		logger.Warn().Str("schedule_id", cfg.Schedule.ID).Msg("schedule not found, cursor controls disabled")
	}

	if n, err := svc.RestoreInterrupted(ctx, b, orchestrator.DefaultRestoreLimit); err != nil {
		logger.Warn().Err(err).Msg("restore of interrupted sequences failed")
	} else if n > 0 {
		logger.Info().Int("recovered", n).Msg("cleared busy state left by previous run")
	}

	ready := []api.ReadyCheck{
		{Name: "obs", OK: device.Connected},
		{Name: "bus", Optional: cfg.Bus.Driver == "local", OK: b.connected},
	}
	if st.ping != nil {
		ready = append(ready, api.ReadyCheck{Name: "postgres", OK: func() bool {
			pctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			up := st.ping(pctx) == nil
			met.SetStoreConnected(up)
			return up
		}})
	}

	server := api.NewServer(api.Options{
		Engine:   svc,
		Events:   auditLog,
		Busy:     tracker,
		Device:   device,
		Lifetime: ctx,
		Sync: hub.Handler(livesync.Heartbeat{
			PingPeriod: cfg.Sync.PingPeriod.Std(),
			PongWait:   cfg.Sync.PongWait.Std(),
		}),
		Metrics: met.Handler(func() {
			met.SetBusyOriginators(len(tracker.Originators()))
			met.SetBusConnected(b.connected())
		}),
		Middleware: []func(http.Handler) http.Handler{met.Middleware},
		Ready:      ready,
		Logger:     applog.WithComponent("api"),
	})

	tlsConf, err := api.TLSConfig{CertFile: cfg.Server.TLSCertFile, KeyFile: cfg.Server.TLSKeyFile}.Load()
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port()),
		Handler:           server,
		TLSConfig:         tlsConf,
		ReadHeaderTimeout: 10 * time.Second,
	}

	auditLog.Emit(ctx, "info", events.SystemStartup, "liveserver starting", map[string]any{
		"version":  version.Version,
		"instance": cfg.Server.Instance,
		"bus":      cfg.Bus.Driver,
		"storage":  cfg.Storage.Driver,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return device.Run(gctx) })
	g.Go(func() error { return svc.WatchBus(gctx, b) })
	g.Go(func() error {
		logger.Info().Str("addr", httpServer.Addr).Bool("tls", tlsConf != nil).Msg("http listening")
		var err error
		if tlsConf != nil {
			err = httpServer.ListenAndServeTLS("", "")
		} else {
			err = httpServer.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	auditLog.Emit(context.Background(), "info", events.SystemShutdown, "liveserver stopping", nil)
	logger.Info().Msg("liveserver stopped")
	return err
}
