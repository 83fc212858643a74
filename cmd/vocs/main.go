package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	router "github.com/dkeye/vocs/internal/adapters/http"
	ws "github.com/dkeye/vocs/internal/adapters/signal"
	"github.com/dkeye/vocs/internal/adapters/storage/memory"
	"github.com/dkeye/vocs/internal/adapters/storage/sqlite"
	"github.com/dkeye/vocs/internal/app"
	"github.com/dkeye/vocs/internal/app/orch"
	"github.com/dkeye/vocs/internal/config"
	"github.com/dkeye/vocs/internal/core"
	"github.com/dkeye/vocs/internal/logging"
	"github.com/dkeye/vocs/internal/protocol/vocs"
	"github.com/dkeye/vocs/internal/session"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logging.Setup(os.Getenv("LOG_LEVEL"))

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Setup(cfg.LogLevel)

	storage, closeStorage, err := openStorage(cfg.StorePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.StorePath).Msg("failed to open session storage")
	}
	defer closeStorage()
	store := session.NewStore(cfg.App, storage, session.WithTTL(cfg.SessionTTL))

	dialer := ws.NewDialer(ws.DefaultHandshakeTimeout)
	conns := make([]*core.Connection, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		opts, err := cfg.ServerOptions(s)
		if err != nil {
			log.Fatal().Err(err).Msg("bad server options")
		}
		co := core.Options{
			Name:                  s.Name,
			URL:                   s.URL,
			RequestTimeout:        opts.RequestTimeout,
			ResendOnTimeout:       opts.ResendOnTimeout,
			LogIncoming:           opts.LogIncoming,
			LogOutgoing:           opts.LogOutgoing,
			ExtendSessionInterval: cfg.ExtendSessionInterval,
		}
		// keep the client id of a stored session so it can be resumed
		if rec, ok := store.Get(s.URL); ok {
			co.ClientID = rec.Client
		}
		conns = append(conns, core.NewConnection(co, dialer, store))
	}

	set, err := app.NewConnectionSet(conns, cfg.ReadyPollInterval)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build connection set")
	}
	policy := app.Policy{Retries: cfg.RetriesOnTempError, Delay: cfg.TempErrorDelay}
	o := orch.New(set, store, app.NewLogNotifier(), orch.Options{
		Policy:                policy,
		BroadcastRegistration: cfg.BroadcastRegistration,
		PersErrorDelay:        cfg.PersErrorDelay,
	})

	if err := o.ConnectAll(ctx); err != nil {
		log.Error().Err(err).Msg("no signaling server reachable, continuing offline")
	} else if o.HasValidSession(set.Lead()) {
		if err := o.Resume(ctx); err != nil {
			log.Warn().Err(err).Msg("stored session could not be resumed")
		}
	}
	stopWatch := o.Watch(ctx)
	defer stopWatch()

	r := router.SetupRouter(cfg, router.NewAPI(o, vocs.New(set, policy)))
	srv := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Str("lead", set.ServerName()).Msg("vocs client started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	for _, c := range set.List() {
		c.Disconnect()
	}
	log.Info().Msg("Client exited gracefully")
}

func openStorage(path string) (session.Storage, func(), error) {
	if path == "" {
		return memory.New(), func() {}, nil
	}
	s, err := sqlite.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return s, func() { _ = s.Close() }, nil
}
