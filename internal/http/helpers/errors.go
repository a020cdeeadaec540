package helpers

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/dropDatabas3/consultadmin/internal/apiclient"
	"github.com/dropDatabas3/consultadmin/internal/auth"
	"github.com/dropDatabas3/consultadmin/internal/dataprovider"
	"github.com/dropDatabas3/consultadmin/internal/http/errors"
	"github.com/dropDatabas3/consultadmin/internal/observability/logger"
	"github.com/dropDatabas3/consultadmin/internal/session"
)

// IsSessionLoss indica errores que obligan a volver a loguearse.
func IsSessionLoss(err error) bool {
	return stderrors.Is(err, auth.ErrNotAuthenticated) || apiclient.IsSessionLost(err)
}

// MapError traduce errores de las capas internas al AppError de la API.
// Los errores del upstream conservan su status (4xx) y su mensaje.
func MapError(err error) *errors.AppError {
	var appErr *errors.AppError
	switch {
	case err == nil:
		return nil
	case stderrors.As(err, &appErr):
		return appErr
	case IsSessionLoss(err):
		return errors.ErrSessionExpired.WithCause(err)
	case stderrors.Is(err, auth.ErrInvalidPhone):
		return errors.ErrInvalidParameter.WithDetail("phone_number inválido").WithCause(err)
	case stderrors.Is(err, auth.ErrInvalidOTP):
		return errors.ErrInvalidParameter.WithDetail("otp inválido").WithCause(err)
	case stderrors.Is(err, auth.ErrInvalidLoginResponse):
		return errors.ErrUpstreamShape.WithCause(err)
	case stderrors.Is(err, dataprovider.ErrUnknownResource):
		return errors.ErrUnknownResource.WithCause(err)
	case stderrors.Is(err, dataprovider.ErrUnknownAction):
		return errors.ErrUnknownAction.WithCause(err)
	case stderrors.Is(err, dataprovider.ErrReadOnly):
		return errors.ErrReadOnlyResource.WithCause(err)
	case stderrors.Is(err, dataprovider.ErrMissingID):
		return errors.ErrMissingFields.WithDetail("id").WithCause(err)
	case stderrors.Is(err, dataprovider.ErrUnexpectedShape):
		return errors.ErrUpstreamShape.WithCause(err)
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.ErrGatewayTimeout.WithCause(err)
	}

	if status, ok := apiclient.StatusOf(err); ok {
		msg := apiclient.MessageOf(err)
		switch {
		case status == http.StatusNotFound:
			return errors.ErrNotFound.WithDetail(msg).WithCause(err)
		case status == http.StatusForbidden:
			return errors.ErrForbidden.WithDetail(msg).WithCause(err)
		case status >= 400 && status < 500:
			return errors.New(status, "UPSTREAM_REJECTED", msg).WithCause(err)
		default:
			return errors.ErrUpstream.WithDetail(msg).WithCause(err)
		}
	}
	return errors.ErrServiceUnavailable.WithCause(err)
}

// SessionChecker es la parte de auth.Service que usa ErrorWriter.
type SessionChecker interface {
	CheckError(ctx context.Context, repo session.Repository, err error) error
}

// ErrorWriter responde errores de controllers. Si el error invalida la
// sesión (401/403 del upstream, refresh fallido) limpia la sesión, expira la
// cookie y responde 401 SESSION_EXPIRED.
type ErrorWriter struct {
	Checker SessionChecker
	Cookie  CookieConfig
}

func (e ErrorWriter) Write(w http.ResponseWriter, r *http.Request, repo session.Repository, err error) {
	ctx := r.Context()
	log := logger.From(ctx)

	lost := IsSessionLoss(err)
	if e.Checker != nil && repo != nil {
		if cerr := e.Checker.CheckError(ctx, repo, err); stderrors.Is(cerr, auth.ErrNotAuthenticated) {
			lost = true
		} else if cerr != nil {
			log.Warn("check error falló", logger.Err(cerr))
		}
	}
	if lost {
		if e.Cookie.Name != "" {
			http.SetCookie(w, BuildDeletionCookie(e.Cookie))
		}
		log.Info("sesión perdida", logger.Err(err))
		errors.WriteError(w, errors.ErrSessionExpired.WithCause(err))
		return
	}

	appErr := MapError(err)
	if appErr.HTTPStatus >= 500 {
		log.Warn("request falló", logger.Status(appErr.HTTPStatus), logger.Err(err))
	} else {
		log.Debug("request rechazado", logger.Status(appErr.HTTPStatus), logger.Err(err))
	}
	errors.WriteError(w, appErr)
}
