// Package dashboard expone las estadísticas agregadas del back office.
package dashboard

import (
	"context"
	"net/http"

	"github.com/dropDatabas3/consultadmin/internal/apiclient"
	"github.com/dropDatabas3/consultadmin/internal/dashboard"
	"github.com/dropDatabas3/consultadmin/internal/http/helpers"
	mw "github.com/dropDatabas3/consultadmin/internal/http/middlewares"
	"github.com/dropDatabas3/consultadmin/internal/observability/logger"
	"github.com/dropDatabas3/consultadmin/internal/session"
)

// Service es lo que el controller necesita de dashboard.Service.
type Service interface {
	Stats(ctx context.Context, d apiclient.Doer, cacheKey string) (*dashboard.Stats, error)
	Invalidate(key string)
}

// DoerFactory ata el cliente del upstream a la sesión del request.
type DoerFactory func(repo session.Repository) apiclient.Doer

type Controller struct {
	svc  Service
	doer DoerFactory
	errw helpers.ErrorWriter
}

func NewController(svc Service, doer DoerFactory, errw helpers.ErrorWriter) *Controller {
	return &Controller{svc: svc, doer: doer, errw: errw}
}

type statsResponse struct {
	Data *dashboard.Stats `json:"data"`
}

// Stats maneja GET /api/dashboard/stats (?fresh=1 ignora el cache).
func (c *Controller) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctx = logger.ToContext(ctx, logger.From(ctx).With(
		logger.Layer("controller"),
		logger.Op("DashboardController.Stats"),
	))
	s := mw.MustGetSession(ctx)

	// El cache es por sesión: cada admin ve lo que su token le deja ver.
	if fresh := r.URL.Query().Get("fresh"); fresh == "1" || fresh == "true" {
		c.svc.Invalidate(s.SID)
	}

	st, err := c.svc.Stats(ctx, c.doer(s.Repo), s.SID)
	if err != nil {
		c.errw.Write(w, r.WithContext(ctx), s.Repo, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, statsResponse{Data: st})
}
