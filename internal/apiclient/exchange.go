package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/dropDatabas3/consultadmin/internal/observability/logger"
	"github.com/dropDatabas3/consultadmin/internal/session"
	"go.uber.org/zap"
)

// State es el estado de autenticación observado durante un Exchange.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateRefreshing
)

func (s State) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshing:
		return "refreshing"
	default:
		return "unauthenticated"
	}
}

// Outcome resume cómo terminó un Exchange.
type Outcome int

const (
	// OutcomeOK: 2xx (en el primer intento o en el replay).
	OutcomeOK Outcome = iota
	// OutcomeFailed: error de transporte o status no-2xx distinto de 401.
	OutcomeFailed
	// OutcomeUnauthorized: 401 sin refresh token, o 401 en el replay.
	OutcomeUnauthorized
	// OutcomeRefreshFailed: el refresh falló y la sesión fue limpiada.
	OutcomeRefreshFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeUnauthorized:
		return "unauthorized"
	case OutcomeRefreshFailed:
		return "refresh_failed"
	default:
		return "failed"
	}
}

// Result es el resultado completo de un Exchange.
type Result struct {
	Outcome Outcome
	// State final (Unauthenticated tras un refresh fallido).
	State State
	// Response es la última respuesta recibida; nil si hubo error de transporte.
	Response *Response
	Err      error
	// Refreshed indica si se renovó el access token durante la llamada.
	Refreshed bool
}

// Exchange ejecuta req contra el upstream usando los tokens de repo.
//
// Ante un 401 con refresh token guardado: llama al endpoint de refresh,
// persiste el nuevo access token (y el refresh sólo si rotó) y repite req una
// única vez. Si el refresh falla, limpia la sesión completa y devuelve el 401
// original. Sin refresh token el 401 se devuelve sin llamadas adicionales.
func (c *Client) Exchange(ctx context.Context, repo session.Repository, req Request) Result {
	log := logger.From(ctx).With(
		logger.Component("apiclient"),
		logger.Method(req.Method),
		logger.Path(req.Path),
	)

	body, err := encodeBody(req.Body)
	if err != nil {
		return Result{Outcome: OutcomeFailed, Err: err}
	}

	if req.Anonymous || repo == nil {
		resp, err := c.send(ctx, req, body, "")
		return settle(resp, err, StateUnauthenticated, false)
	}

	access, refresh, err := session.LoadTokens(ctx, repo)
	if err != nil {
		return Result{Outcome: OutcomeFailed, Err: fmt.Errorf("apiclient: load tokens: %w", err)}
	}
	state := StateUnauthenticated
	if access != "" {
		state = StateAuthenticated
	}

	resp, err := c.send(ctx, req, body, access)
	if err != nil || resp.Status != http.StatusUnauthorized {
		return settle(resp, err, state, false)
	}

	authErr := newHTTPError(resp)
	if refresh == "" {
		if c.obs != nil {
			c.obs.ObserveRefresh("no_refresh_token")
		}
		log.Debug("401 sin refresh token")
		return Result{
			Outcome:  OutcomeUnauthorized,
			State:    StateUnauthenticated,
			Response: resp,
			Err:      fmt.Errorf("%w: %w", ErrNoRefreshToken, authErr),
		}
	}

	log.Debug("401 recibido, renovando access token", zap.Stringer("from", state))
	tokens, rerr := c.refreshTokens(ctx, refresh)
	if rerr != nil && interrupted(ctx, rerr) {
		// Sin veredicto del upstream: los tokens siguen siendo válidos.
		if c.obs != nil {
			c.obs.ObserveRefresh("canceled")
		}
		log.Debug("refresh interrumpido, sesión intacta", logger.Err(rerr))
		return Result{
			Outcome:  OutcomeFailed,
			State:    StateRefreshing,
			Response: resp,
			Err:      fmt.Errorf("apiclient: refresh interrumpido: %w", rerr),
		}
	}
	if rerr != nil {
		if c.obs != nil {
			c.obs.ObserveRefresh("failed")
		}
		if cerr := repo.Clear(ctx); cerr != nil {
			log.Warn("no se pudo limpiar la sesión tras refresh fallido", logger.Err(cerr))
		}
		log.Info("refresh fallido, sesión limpiada", logger.Err(rerr))
		return Result{
			Outcome:  OutcomeRefreshFailed,
			State:    StateUnauthenticated,
			Response: resp,
			Err:      fmt.Errorf("%w: %w (%v)", ErrRefreshFailed, authErr, rerr),
		}
	}
	if c.obs != nil {
		c.obs.ObserveRefresh("ok")
	}

	// Los tokens nuevos se persisten aunque el caller ya se haya ido.
	sctx := context.WithoutCancel(ctx)
	if err := repo.Set(sctx, session.KeyAccessToken, tokens.Access); err != nil {
		return Result{Outcome: OutcomeFailed, State: StateRefreshing, Err: fmt.Errorf("apiclient: store access token: %w", err)}
	}
	if tokens.Refresh != "" && tokens.Refresh != refresh {
		if err := repo.Set(sctx, session.KeyRefreshToken, tokens.Refresh); err != nil {
			return Result{Outcome: OutcomeFailed, State: StateRefreshing, Err: fmt.Errorf("apiclient: store refresh token: %w", err)}
		}
	}

	// Replay único: un segundo 401 no dispara otro refresh.
	resp, err = c.send(ctx, req, body, tokens.Access)
	res := settle(resp, err, StateAuthenticated, true)
	if res.Outcome == OutcomeFailed && resp != nil && resp.Status == http.StatusUnauthorized {
		res.Outcome = OutcomeUnauthorized
	}
	return res
}

func settle(resp *Response, err error, state State, refreshed bool) Result {
	if err != nil {
		return Result{Outcome: OutcomeFailed, State: state, Err: err, Refreshed: refreshed}
	}
	if isSuccess(resp.Status) {
		return Result{Outcome: OutcomeOK, State: state, Response: resp, Refreshed: refreshed}
	}
	out := OutcomeFailed
	if resp.Status == http.StatusUnauthorized {
		out = OutcomeUnauthorized
	}
	return Result{Outcome: out, State: state, Response: resp, Err: newHTTPError(resp), Refreshed: refreshed}
}

// Do es Exchange con firma (respuesta, error). Ante un status no-2xx
// devuelve también la respuesta junto al *HTTPError.
func (c *Client) Do(ctx context.Context, repo session.Repository, req Request) (*Response, error) {
	res := c.Exchange(ctx, repo, req)
	return res.Response, res.Err
}

// JSON envía in como body y decodifica la respuesta en out (si no es nil).
func (c *Client) JSON(ctx context.Context, repo session.Repository, method, path string, in, out any) error {
	resp, err := c.Do(ctx, repo, Request{Method: method, Path: path, Body: in})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return resp.Decode(out)
}

// IsSessionLost indica si err implica que el usuario debe volver a autenticarse.
func IsSessionLost(err error) bool {
	return errors.Is(err, ErrRefreshFailed) || errors.Is(err, ErrNoRefreshToken) || errors.Is(err, ErrUnauthorized)
}
