package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// Tokens es el resultado de un refresh exitoso. Refresh vacío => no rotó.
type Tokens struct {
	Access  string
	Refresh string
}

var errInvalidRefreshResponse = errors.New("refresh response without access token")

// refreshTokens deduplica refreshes concurrentes con el mismo refresh token:
// un único POST al upstream, todos los callers reciben el mismo resultado.
// El POST no hereda la cancelación del caller que lo inició; cada caller deja
// de esperar cuando se cancela su propio ctx y recibe ctx.Err().
func (c *Client) refreshTokens(ctx context.Context, refresh string) (Tokens, error) {
	ch := c.sf.DoChan(refresh, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.refreshTimeout)
		defer cancel()
		return c.doRefresh(rctx, refresh)
	})
	select {
	case <-ctx.Done():
		return Tokens{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return Tokens{}, r.Err
		}
		return r.Val.(Tokens), nil
	}
}

// interrupted indica que el refresh no terminó por cancelación o timeout,
// no por rechazo del upstream.
func interrupted(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (c *Client) doRefresh(ctx context.Context, refresh string) (Tokens, error) {
	req := Request{
		Method: http.MethodPost,
		Path:   c.refreshPath,
		Body:   map[string]string{"refresh_token": refresh},
	}
	body, err := encodeBody(req.Body)
	if err != nil {
		return Tokens{}, err
	}
	resp, err := c.send(ctx, req, body, "")
	if err != nil {
		return Tokens{}, err
	}
	if !isSuccess(resp.Status) {
		return Tokens{}, newHTTPError(resp)
	}
	if !gjson.ValidBytes(resp.Body) {
		return Tokens{}, fmt.Errorf("%w: invalid json", errInvalidRefreshResponse)
	}
	r := gjson.ParseBytes(resp.Body)
	t := Tokens{
		Access:  firstString(r, "access_token", "access", "data.access_token"),
		Refresh: firstString(r, "refresh_token", "refresh", "data.refresh_token"),
	}
	if t.Access == "" {
		return Tokens{}, errInvalidRefreshResponse
	}
	return t, nil
}

func firstString(r gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := r.Get(p); v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	return ""
}
