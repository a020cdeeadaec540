package apiclient

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	// ErrNoRefreshToken: 401 recibido y no hay refresh token guardado.
	ErrNoRefreshToken = errors.New("apiclient: no refresh token stored")
	// ErrRefreshFailed: el endpoint de refresh falló; la sesión fue limpiada.
	ErrRefreshFailed = errors.New("apiclient: token refresh failed")
	// ErrUnauthorized matchea (errors.Is) cualquier *HTTPError con status 401.
	ErrUnauthorized = errors.New("apiclient: unauthorized")
)

// HTTPError es una respuesta no-2xx del upstream.
type HTTPError struct {
	Status  int
	Body    []byte
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("upstream %d: %s", e.Status, e.Message)
}

// Is hace que errors.Is(err, ErrUnauthorized) funcione para 401.
func (e *HTTPError) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}

func newHTTPError(resp *Response) *HTTPError {
	return &HTTPError{
		Status:  resp.Status,
		Body:    resp.Body,
		Message: messageFrom(resp.Status, resp.Body),
	}
}

// messageFromPaths: orden de preferencia para extraer el mensaje del body.
var messageFromPaths = []string{
	"message",
	"detail",
	"error_description",
	"error.message",
	"error",
	"non_field_errors.0",
	"errors.0.message",
	"errors.0",
}

// messageFrom nunca falla: bodies vacíos, no-JSON o malformados degradan a un
// mensaje genérico.
func messageFrom(status int, body []byte) string {
	if len(body) > 0 && gjson.ValidBytes(body) {
		r := gjson.ParseBytes(body)
		for _, p := range messageFromPaths {
			if v := r.Get(p); v.Type == gjson.String && strings.TrimSpace(v.Str) != "" {
				return strings.TrimSpace(v.Str)
			}
		}
	}
	return fmt.Sprintf("request failed with status %d", status)
}

// StatusOf devuelve el status HTTP de err si es (o envuelve) un *HTTPError.
func StatusOf(err error) (int, bool) {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Status, true
	}
	return 0, false
}

// MessageOf devuelve un mensaje apto para mostrar al usuario.
func MessageOf(err error) string {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Message
	}
	if err == nil {
		return ""
	}
	return "request failed"
}
