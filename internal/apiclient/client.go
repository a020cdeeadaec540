// Package apiclient es el cliente HTTP autenticado hacia los servicios REST del
// marketplace: agrega el bearer token, y ante un 401 intenta UN refresh y repite
// el request original UNA vez.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

// HeaderInternalAPIKey es el header estático opcional hacia los backends.
const HeaderInternalAPIKey = "X-Internal-Api-Key"

const maxBodyBytes = 10 << 20

// defaultRefreshTimeout acota el refresh compartido cuando Options.Timeout es 0.
const defaultRefreshTimeout = 15 * time.Second

// Observer recibe eventos para métricas. Puede ser nil.
type Observer interface {
	// status 0 => error de transporte
	ObserveUpstream(method string, status int, d time.Duration)
	// result: ok | failed | canceled | no_refresh_token
	ObserveRefresh(result string)
}

// Options configura el cliente.
type Options struct {
	BaseURL     string
	RefreshPath string
	// InternalAPIKey se envía en TODAS las llamadas (incluido refresh) si no es vacío.
	InternalAPIKey string
	HTTPClient     *http.Client
	Timeout        time.Duration
	Observer       Observer
}

// Client es seguro para uso concurrente.
type Client struct {
	base        string
	refreshPath string
	apiKey      string
	hc          *http.Client
	obs         Observer
	sf          singleflight.Group

	// refreshTimeout acota el refresh, que corre desacoplado del ctx del caller.
	refreshTimeout time.Duration
}

// New valida las opciones y crea el cliente.
func New(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("apiclient: invalid base url %q", opts.BaseURL)
	}
	if strings.TrimSpace(opts.RefreshPath) == "" {
		return nil, errors.New("apiclient: refresh path required")
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	rt := opts.Timeout
	if rt <= 0 {
		rt = defaultRefreshTimeout
	}
	return &Client{
		base:           base,
		refreshPath:    opts.RefreshPath,
		apiKey:         opts.InternalAPIKey,
		hc:             hc,
		obs:            opts.Observer,
		refreshTimeout: rt,
	}, nil
}

// Request describe una llamada al upstream.
type Request struct {
	Method string
	// Path relativo a BaseURL (o URL absoluta).
	Path  string
	Query url.Values
	// Header del caller; se clona, nunca se muta.
	Header http.Header
	// Body: nil, []byte, json.RawMessage o cualquier valor serializable a JSON.
	Body any
	// Anonymous no manda credenciales ni intenta refresh (endpoints OTP).
	Anonymous bool
}

// Response es la respuesta cruda ya leída.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Decode parsea el body JSON en v. Body vacío no es error.
func (r *Response) Decode(v any) error {
	if r == nil || len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("apiclient: decode response: %w", err)
	}
	return nil
}

func encodeBody(b any) ([]byte, error) {
	switch v := b.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		out, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("apiclient: encode body: %w", err)
		}
		return out, nil
	}
}

func (c *Client) resolve(path string, q url.Values) (string, error) {
	raw := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		raw = c.base + "/" + strings.TrimLeft(path, "/")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("apiclient: bad path %q: %w", path, err)
	}
	if len(q) > 0 {
		merged := u.Query()
		for k, vs := range q {
			for _, v := range vs {
				merged.Add(k, v)
			}
		}
		u.RawQuery = merged.Encode()
	}
	return u.String(), nil
}

// send ejecuta un único intento. bearer vacío => sin Authorization.
func (c *Client) send(ctx context.Context, req Request, body []byte, bearer string) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	target, err := c.resolve(req.Path, req.Query)
	if err != nil {
		return nil, err
	}

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	hreq, err := http.NewRequestWithContext(ctx, method, target, rdr)
	if err != nil {
		return nil, fmt.Errorf("apiclient: build request: %w", err)
	}

	h := req.Header.Clone()
	if h == nil {
		h = http.Header{}
	}
	if h.Get("Accept") == "" {
		h.Set("Accept", "application/json")
	}
	if body != nil && h.Get("Content-Type") == "" {
		h.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		h.Set("Authorization", "Bearer "+bearer)
	}
	if c.apiKey != "" {
		h.Set(HeaderInternalAPIKey, c.apiKey)
	}
	hreq.Header = h

	start := time.Now()
	resp, err := c.hc.Do(hreq)
	if err != nil {
		c.observe(method, 0, start)
		return nil, fmt.Errorf("apiclient: %s %s: %w", method, req.Path, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	c.observe(method, resp.StatusCode, start)
	if err != nil {
		return nil, fmt.Errorf("apiclient: read body: %w", err)
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: b}, nil
}

func (c *Client) observe(method string, status int, start time.Time) {
	if c.obs != nil {
		c.obs.ObserveUpstream(method, status, time.Since(start))
	}
}

func isSuccess(status int) bool { return status >= 200 && status < 300 }
