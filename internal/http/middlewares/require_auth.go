package middlewares

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/dropDatabas3/consultadmin/internal/auth"
	"github.com/dropDatabas3/consultadmin/internal/http/errors"
	"github.com/dropDatabas3/consultadmin/internal/http/helpers"
	"github.com/dropDatabas3/consultadmin/internal/session"
)

// AuthChecker es la parte de auth.Service que usa WithRequireAuth.
type AuthChecker interface {
	CheckAuth(ctx context.Context, repo session.Repository) error
}

// WithRequireAuth corta con 401 SESSION_EXPIRED si la sesión no tiene un
// access token utilizable. Requiere WithSession antes en la cadena.
func WithRequireAuth(checker AuthChecker, cookie helpers.CookieConfig) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s := GetSession(r.Context())
			if s == nil {
				errors.WriteError(w, errors.ErrUnauthorized)
				return
			}
			if err := checker.CheckAuth(r.Context(), s.Repo); err != nil {
				if !stderrors.Is(err, auth.ErrNotAuthenticated) {
					errors.WriteError(w, errors.ErrServiceUnavailable.WithCause(err))
					return
				}
				if !s.New {
					http.SetCookie(w, helpers.BuildDeletionCookie(cookie))
				}
				errors.WriteError(w, errors.ErrSessionExpired.WithCause(err))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
