package logger

import (
	"time"

	"go.uber.org/zap"
)

// ─── HTTP ───

func RequestID(v string) zap.Field { return zap.String("request_id", v) }
func Method(v string) zap.Field { return zap.String("method", v) }
func Path(v string) zap.Field { return zap.String("path", v) }
func Status(v int) zap.Field { return zap.Int("status", v) }
func DurationMs(v time.Duration) zap.Field { return zap.Int64("duration_ms", v.Milliseconds()) }
func Bytes(v int) zap.Field { return zap.Int("bytes", v) }
func ClientIP(v string) zap.Field { return zap.String("client_ip", v) }
func Upstream(v string) zap.Field { return zap.String("upstream", v) }

// ─── Sesión / negocio ───

// SessionID loguea solo un prefijo del sid; el sid completo es una credencial.
func SessionID(v string) zap.Field {
	if len(v) > 8 {
		v = v[:8] + "…"
	}
	return zap.String("sid", v)
}

func UserID(v string) zap.Field { return zap.String("user_id", v) }
func Resource(v string) zap.Field { return zap.String("resource", v) }
func RecordID(v string) zap.Field { return zap.String("record_id", v) }
func Action(v string) zap.Field { return zap.String("action", v) }
func Attempt(v int) zap.Field { return zap.Int("attempt", v) }
func Outcome(v string) zap.Field { return zap.String("outcome", v) }

// Phone enmascara el número; nunca loguear teléfonos completos.
func Phone(v string) zap.Field {
	if n := len(v); n > 4 {
		v = "***" + v[n-4:]
	}
	return zap.String("phone", v)
}

// ─── Sistema ───

func Component(v string) zap.Field { return zap.String("component", v) }
func Op(v string) zap.Field { return zap.String("op", v) }
func Layer(v string) zap.Field { return zap.String("layer", v) }
func Err(err error) zap.Field { return zap.Error(err) }
func Count(v int) zap.Field { return zap.Int("count", v) }

func Any(key string, v any) zap.Field { return zap.Any(key, v) }
func String(key, v string) zap.Field { return zap.String(key, v) }
func Int(key string, v int) zap.Field { return zap.Int(key, v) }
func Bool(key string, v bool) zap.Field { return zap.Bool(key, v) }
