package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dropDatabas3/consultadmin/internal/apiclient"
	"github.com/dropDatabas3/consultadmin/internal/auth"
	"github.com/dropDatabas3/consultadmin/internal/config"
	"github.com/dropDatabas3/consultadmin/internal/dashboard"
	"github.com/dropDatabas3/consultadmin/internal/dataprovider"
	"github.com/dropDatabas3/consultadmin/internal/observability/logger"
	"github.com/dropDatabas3/consultadmin/internal/security/secretbox"
	"github.com/dropDatabas3/consultadmin/internal/session"
	"github.com/spf13/cobra"
)

// cli agrupa lo que los subcomandos necesitan. Se arma en PersistentPreRunE.
type cli struct {
	cfgPath     string
	baseURL     string
	sessionFile string
	out         string
	verbose     bool

	cfg      *config.Config
	client   *apiclient.Client
	repo     session.Repository
	auth     *auth.Service
	provider *dataprovider.Provider
	stats    *dashboard.Service
}

func newRootCmd() *cobra.Command {
	c := &cli{out: envOr("BACKOFFICE_OUT", "text")}

	root := &cobra.Command{
		Use:           "backofficectl",
		Short:         "CLI del back office de consultas",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logger.Sync()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.cfgPath, "config", os.Getenv("BACKOFFICE_CONFIG"), "Archivo YAML de config (env BACKOFFICE_CONFIG)")
	pf.StringVar(&c.baseURL, "upstream", "", "URL base del marketplace (pisa upstream.base_url)")
	pf.StringVar(&c.sessionFile, "session-file", "", "Archivo de sesión (default ~/.consultadmin/session.json)")
	pf.StringVarP(&c.out, "out", "o", c.out, "Formato de salida: json|text")
	pf.BoolVarP(&c.verbose, "verbose", "v", false, "Logs de debug a stderr")

	root.AddCommand(
		otpCmd(c),
		loginCmd(c),
		logoutCmd(c),
		whoamiCmd(c),
		listCmd(c),
		getCmd(c),
		createCmd(c),
		updateCmd(c),
		deleteCmd(c),
		actionCmd(c),
		statsCmd(c),
	)
	return root
}

func (c *cli) init() error {
	switch c.out {
	case "json", "text":
	default:
		return fmt.Errorf("--out inválido: %q (json|text)", c.out)
	}

	cfg, err := config.Load(c.cfgPath)
	if err != nil {
		return err
	}
	c.cfg = cfg

	level := "warn"
	if c.verbose {
		level = "debug"
	}
	logger.Init(logger.Config{Env: "dev", Level: level, ServiceName: "backofficectl"})

	if c.baseURL != "" {
		cfg.Upstream.BaseURL = c.baseURL
	}
	path := c.sessionFile
	if path == "" {
		path = cfg.Session.File
	}
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		path = filepath.Join(home, ".consultadmin", "session.json")
	}

	var box *secretbox.Box
	if k := strings.TrimSpace(cfg.Session.MasterKey); k != "" {
		if box, err = secretbox.New(k); err != nil {
			return fmt.Errorf("session master key: %w", err)
		}
	}
	// FileStore guarda una única sesión: el sid se ignora.
	c.repo = session.NewFileStore(path, box).For("")

	c.client, err = apiclient.New(apiclient.Options{
		BaseURL:        cfg.Upstream.BaseURL,
		RefreshPath:    cfg.Upstream.Paths.Refresh,
		InternalAPIKey: cfg.Upstream.InternalAPIKey,
		Timeout:        config.Dur(cfg.Upstream.Timeout),
	})
	if err != nil {
		return err
	}
	c.auth = auth.NewService(c.client, auth.Paths{
		OTPGenerate: cfg.Upstream.Paths.OTPGenerate,
		OTPValidate: cfg.Upstream.Paths.OTPValidate,
	})

	reg, err := dataprovider.NewRegistry(cfg.Resources)
	if err != nil {
		return err
	}
	c.provider = dataprovider.New(reg, dataprovider.Options{
		PageParam:     cfg.Upstream.PageParam,
		PageSizeParam: cfg.Upstream.PageSizeParam,
		SortParam:     cfg.Upstream.SortParam,
		Concurrency:   cfg.Dashboard.Concurrency,
	})
	c.stats = dashboard.NewService(c.provider, dashboard.Options{
		Concurrency:          cfg.Dashboard.Concurrency,
		RPS:                  cfg.Dashboard.RPS,
		ConsultationStatuses: cfg.Dashboard.ConsultationStatuses,
	})
	return nil
}

// adapter devuelve el data provider atado a la sesión del archivo, previo
// chequeo local de que haya un login utilizable.
func (c *cli) adapter(ctx context.Context) (*dataprovider.Adapter, error) {
	if err := c.requireLogin(ctx); err != nil {
		return nil, err
	}
	return c.provider.For(c.client.WithSession(c.repo)), nil
}

func (c *cli) requireLogin(ctx context.Context) error {
	if err := c.auth.CheckAuth(ctx, c.repo); err != nil {
		return c.explain(ctx, err)
	}
	return nil
}

// explain traduce pérdidas de sesión a un mensaje accionable.
func (c *cli) explain(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	lost := errors.Is(err, auth.ErrNotAuthenticated) || apiclient.IsSessionLost(err)
	if cerr := c.auth.CheckError(ctx, c.repo, err); errors.Is(cerr, auth.ErrNotAuthenticated) {
		lost = true
	}
	if lost {
		return fmt.Errorf("sesión no válida: ejecutá `backofficectl login --phone ...` (%v)", err)
	}
	if status, ok := apiclient.StatusOf(err); ok {
		return fmt.Errorf("upstream respondió %d: %s", status, apiclient.MessageOf(err))
	}
	return err
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
