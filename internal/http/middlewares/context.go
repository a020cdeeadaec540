package middlewares

import (
	"context"

	"github.com/dropDatabas3/consultadmin/internal/session"
)

type ctxKey string

const (
	ctxRequestIDKey ctxKey = "request_id"
	ctxSessionKey   ctxKey = "session"
)

// Session es la sesión del admin resuelta desde la cookie.
type Session struct {
	SID  string
	Repo session.Repository
	// New: no vino cookie; el sid se generó en este request.
	New bool
}

func setRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxRequestIDKey, requestID)
}

func setSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxSessionKey, s)
}

// GetRequestID obtiene el request ID del contexto ("" si no hay).
func GetRequestID(ctx context.Context) string {
	if s, ok := ctx.Value(ctxRequestIDKey).(string); ok {
		return s
	}
	return ""
}

// GetSession obtiene la sesión del contexto; nil si WithSession no corrió.
func GetSession(ctx context.Context) *Session {
	if s, ok := ctx.Value(ctxSessionKey).(*Session); ok {
		return s
	}
	return nil
}

// MustGetSession hace panic si no hay sesión. Usar sólo en rutas que
// siempre pasan por WithSession.
func MustGetSession(ctx context.Context) *Session {
	s := GetSession(ctx)
	if s == nil {
		panic("middlewares: no session in context")
	}
	return s
}
