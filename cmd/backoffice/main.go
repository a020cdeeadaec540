// Command backoffice sirve la API del back office de consultas.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/dropDatabas3/consultadmin/internal/config"
	"github.com/dropDatabas3/consultadmin/internal/http/server"
	"github.com/dropDatabas3/consultadmin/internal/observability/logger"
)

func main() {
	_ = godotenv.Load()

	cfgPath := flag.String("config", os.Getenv("BACKOFFICE_CONFIG"), "ruta al YAML de config")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		Level:       cfg.Log.Level,
		ServiceName: "backoffice",
		Version:     cfg.App.Version,
	})
	defer func() { _ = logger.Sync() }()
	log := logger.L()

	if cfg.IsProd() && !cfg.Session.CookieSecure {
		log.Warn("APP_ENV=prod con cookie no segura; setear SESSION_COOKIE_SECURE=true")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx, cfg); err != nil {
		log.Error("server terminó con error", logger.Err(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	log.Info("bye")
}
