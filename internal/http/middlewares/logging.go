package middlewares

import (
	"net/http"
	"time"

	"github.com/dropDatabas3/consultadmin/internal/observability/logger"
	"go.uber.org/zap/zapcore"
)

// statusRecorder captura el status code y bytes escritos de la respuesta.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.wroteHeader {
		return
	}
	s.status = code
	s.wroteHeader = true
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if !s.wroteHeader {
		s.WriteHeader(http.StatusOK)
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// WithLogging inyecta un logger "scoped" (request_id, method, path) en el
// contexto y registra cada request al terminar. 5xx => warn.
//
// Ejemplo (prod):
//
//	{"level":"info","msg":"request completed","request_id":"…","method":"GET","path":"/api/resources/guides","status":200,"bytes":812,"duration_ms":41}
func WithLogging() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			reqLog := logger.L().With(
				logger.RequestID(GetRequestID(r.Context())),
				logger.Method(r.Method),
				logger.Path(r.URL.Path),
			)
			ctx := logger.ToContext(r.Context(), reqLog)

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(ctx))

			lvl := zapcore.InfoLevel
			if rec.status >= 500 {
				lvl = zapcore.WarnLevel
			}
			if ce := reqLog.Check(lvl, "request completed"); ce != nil {
				ce.Write(
					logger.Status(rec.status),
					logger.Bytes(rec.bytes),
					logger.DurationMs(time.Since(start)),
					logger.ClientIP(clientIP(r)),
				)
			}
		})
	}
}
