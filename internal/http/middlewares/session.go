package middlewares

import (
	"net/http"
	"strings"

	"github.com/dropDatabas3/consultadmin/internal/observability/logger"
	"github.com/dropDatabas3/consultadmin/internal/session"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WithSession resuelve la sesión del admin desde la cookie cookieName. Sin
// cookie (o con un valor que no es un uuid) se genera un sid nuevo; la cookie
// la emite el login.
func WithSession(store session.Store, cookieName string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s := &Session{}
			if ck, err := r.Cookie(cookieName); err == nil {
				if id, err := uuid.Parse(strings.TrimSpace(ck.Value)); err == nil {
					s.SID = id.String()
				}
			}
			if s.SID == "" {
				s.SID = uuid.NewString()
				s.New = true
			}
			s.Repo = store.For(s.SID)

			ctx := setSession(r.Context(), s)
			ctx = logger.ToContext(ctx, logger.From(ctx).With(logger.SessionID(s.SID), zap.Bool("new_session", s.New)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
