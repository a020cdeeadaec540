// Package server arma y corre el servidor HTTP del back office.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dropDatabas3/consultadmin/internal/config"
	"github.com/dropDatabas3/consultadmin/internal/observability/logger"
	"github.com/dropDatabas3/consultadmin/internal/session"
)

const (
	shutdownTimeout = 15 * time.Second
	purgeInterval   = 10 * time.Minute
)

// Run levanta el servidor y bloquea hasta que ctx se cancela; luego hace un
// shutdown ordenado.
func Run(ctx context.Context, cfg *config.Config) error {
	log := logger.L().With(logger.Component("server"))

	app, err := Build(ctx, cfg, Overrides{})
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Warn("cleanup falló", logger.Err(err))
		}
	}()

	if pg, ok := app.Store.(*session.PostgresStore); ok {
		go purgeLoop(ctx, pg)
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           app.Handler,
		ReadTimeout:       config.Dur(cfg.Server.ReadTimeout),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      config.Dur(cfg.Server.WriteTimeout),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("escuchando", logger.String("addr", cfg.Server.Addr), logger.String("env", cfg.App.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("apagando")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	return <-errCh
}

// purgeLoop borra sesiones vencidas de Postgres (Redis y memoria expiran solos).
func purgeLoop(ctx context.Context, pg *session.PostgresStore) {
	log := logger.L().With(logger.Component("session"), logger.Op("purge"))
	t := time.NewTicker(purgeInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := pg.PurgeExpired(ctx)
			if err != nil {
				log.Warn("purge falló", logger.Err(err))
				continue
			}
			if n > 0 {
				log.Debug("sesiones vencidas borradas", logger.Count(int(n)))
			}
		}
	}
}
