// Package health expone liveness y readiness.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/dropDatabas3/consultadmin/internal/http/helpers"
	"github.com/dropDatabas3/consultadmin/internal/observability/logger"
)

// Pinger es cualquier dependencia que readyz verifica.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Controller struct {
	version string
	checks  map[string]Pinger
	timeout time.Duration
}

// NewController recibe los checks de readiness por nombre (ej: "session").
func NewController(version string, checks map[string]Pinger) *Controller {
	return &Controller{version: version, checks: checks, timeout: 2 * time.Second}
}

type healthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version,omitempty"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// Healthz maneja GET /healthz. Siempre 200 mientras el proceso responde.
func (c *Controller) Healthz(w http.ResponseWriter, r *http.Request) {
	helpers.WriteJSON(w, http.StatusOK, healthResponse{Status: "ok", Version: c.version})
}

// Readyz maneja GET /readyz. 503 si algún check falla.
func (c *Controller) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), c.timeout)
	defer cancel()

	resp := healthResponse{Status: "ok", Version: c.version, Checks: map[string]string{}}
	status := http.StatusOK
	for name, p := range c.checks {
		if err := p.Ping(ctx); err != nil {
			logger.From(ctx).Warn("readiness check falló", logger.Component(name), logger.Err(err))
			resp.Checks[name] = "down"
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "up"
	}
	helpers.WriteJSON(w, status, resp)
}
