package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/dropDatabas3/consultadmin/internal/config"
	"github.com/dropDatabas3/consultadmin/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const phone = "+5491100000000"

// marketplace simula los servicios REST del marketplace.
type marketplace struct {
	mu        sync.Mutex
	access    string // token que el upstream acepta
	refreshOK bool
	refreshes int
	queries   []string
}

func (m *marketplace) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/otp/generate", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"sent": true})
	})
	mux.HandleFunc("/auth/otp/validate", func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in["otp"] != "123456" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"detail": "invalid otp"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "A1",
			"refresh_token": "R1",
			"user": map[string]any{
				"id": 7, "full_name": "Ana Admin", "phone_number": in["phone_number"], "status": "active",
			},
		})
	})
	mux.HandleFunc("/auth/token/refresh", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.refreshes++
		if !m.refreshOK {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "token expired"})
			return
		}
		m.access = "A2"
		writeJSON(w, http.StatusOK, map[string]any{"access_token": "A2"})
	})
	list := func(count int, results []map[string]any) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			m.mu.Lock()
			ok := r.Header.Get("Authorization") == "Bearer "+m.access
			m.queries = append(m.queries, r.URL.Path+"?"+r.URL.RawQuery)
			m.mu.Unlock()
			if !ok {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "token not valid"})
				return
			}
			if results == nil {
				results = []map[string]any{}
			}
			writeJSON(w, http.StatusOK, map[string]any{"count": count, "results": results})
		}
	}
	mux.HandleFunc("/customers/", list(2, []map[string]any{{"id": 1, "name": "Juan"}, {"id": 2, "name": "Sofía"}}))
	mux.HandleFunc("/guides/", list(5, nil))
	mux.HandleFunc("/kyc/", list(1, nil))
	mux.HandleFunc("/offers/", list(3, nil))
	mux.HandleFunc("/consultations/", list(4, nil))
	mux.HandleFunc("/orders/", list(2, []map[string]any{{"id": 1, "amount": "10.50"}, {"id": 2, "amount": 4.5}}))
	return mux
}

func (m *marketplace) refreshCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshes
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type harness struct {
	up     *marketplace
	srv    *httptest.Server
	client *http.Client
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()
	up := &marketplace{access: "A2", refreshOK: true}
	upSrv := httptest.NewServer(up.handler())
	t.Cleanup(upSrv.Close)

	cfg, err := config.Default()
	require.NoError(t, err)
	cfg.Upstream.BaseURL = upSrv.URL
	cfg.Session.Driver = "memory"
	cfg.Dashboard.RPS = 0
	if mutate != nil {
		mutate(cfg)
	}

	app, err := Build(context.Background(), cfg, Overrides{Store: session.NewMemoryStore(0)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	srv := httptest.NewServer(app.Handler)
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &harness{up: up, srv: srv, client: &http.Client{Jar: jar}}
}

func (h *harness) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = strings.NewReader(string(b))
	}
	req, err := http.NewRequest(method, h.srv.URL+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := h.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}
	return resp, out
}

func (h *harness) login(t *testing.T) {
	t.Helper()
	resp, out := h.do(t, http.MethodPost, "/api/auth/login", map[string]string{"phone_number": phone, "otp": "123456"})
	require.Equal(t, http.StatusOK, resp.StatusCode, out)
}

func TestLogin_RefreshesAndListsResource(t *testing.T) {
	h := newHarness(t, nil)
	h.login(t)

	resp, me := h.do(t, http.MethodGet, "/api/auth/me", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	user := me["user"].(map[string]any)
	assert.Equal(t, "7", user["id"])
	assert.Equal(t, "Ana Admin", user["fullName"])

	// A1 ya venció en el upstream: el primer GET dispara refresh (R1 -> A2)
	resp, out := h.do(t, http.MethodGet, "/api/resources/customers?page=2&perPage=10&sort=name&order=DESC", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, out)
	assert.Equal(t, "2", resp.Header.Get("X-Total-Count"))
	assert.EqualValues(t, 2, out["total"])
	assert.Len(t, out["data"], 2)
	assert.Equal(t, 1, h.up.refreshCount())

	// el nuevo access token quedó en la sesión: no hay otro refresh
	resp, _ = h.do(t, http.MethodGet, "/api/resources/customers", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, h.up.refreshCount())

	h.up.mu.Lock()
	first := h.up.queries[0]
	h.up.mu.Unlock()
	assert.Contains(t, first, "page=2")
	assert.Contains(t, first, "page_size=10")
	assert.Contains(t, first, "ordering=-name")
}

func TestRefreshFailure_ExpiresSession(t *testing.T) {
	h := newHarness(t, nil)
	h.up.refreshOK = false
	h.login(t)

	resp, out := h.do(t, http.MethodGet, "/api/resources/customers", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "SESSION_EXPIRED", out["code"])

	resp, _ = h.do(t, http.MethodGet, "/api/auth/me", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestResources_RequireLogin(t *testing.T) {
	h := newHarness(t, nil)

	resp, out := h.do(t, http.MethodGet, "/api/resources/customers", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "SESSION_EXPIRED", out["code"])

	resp, _ = h.do(t, http.MethodGet, "/api/dashboard/stats", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestResources_BadRequests(t *testing.T) {
	h := newHarness(t, nil)
	h.login(t)

	resp, out := h.do(t, http.MethodGet, "/api/resources/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "UNKNOWN_RESOURCE", out["code"])

	resp, out = h.do(t, http.MethodGet, "/api/resources/customers?perPage=5000", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_PARAMETER", out["code"])

	resp, _ = h.do(t, http.MethodGet, "/api/resources/customers?filter=%7Bnot-json", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, out = h.do(t, http.MethodDelete, "/api/resources/payments/9", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, "READ_ONLY_RESOURCE", out["code"])
}

func TestLogin_InvalidOTP(t *testing.T) {
	h := newHarness(t, nil)

	resp, out := h.do(t, http.MethodPost, "/api/auth/login", map[string]string{"phone_number": phone, "otp": "000000"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "INVALID_CREDENTIALS", out["code"])

	resp, _ = h.do(t, http.MethodPost, "/api/auth/otp", map[string]string{"phone_number": phone})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestLogin_RateLimited(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Rate.Enabled = true
		c.Rate.Login.Limit = 2
		c.Rate.Login.Window = "1m"
	})

	for i := 0; i < 2; i++ {
		resp, _ := h.do(t, http.MethodPost, "/api/auth/login", map[string]string{"phone_number": phone, "otp": "000000"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
	resp, out := h.do(t, http.MethodPost, "/api/auth/login", map[string]string{"phone_number": phone, "otp": "000000"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", out["code"])
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestDashboardStats(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Dashboard.ConsultationStatuses = []string{"pending", "completed"}
	})
	h.up.access = "A1"
	h.login(t)

	resp, out := h.do(t, http.MethodGet, "/api/dashboard/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, out)
	data := out["data"].(map[string]any)
	assert.EqualValues(t, 2, data["customers"])
	assert.EqualValues(t, 5, data["guides"])
	assert.EqualValues(t, 1, data["pending_kyc"])
	assert.EqualValues(t, 2, data["paid_orders"])
	assert.InDelta(t, 15.0, data["revenue"], 0.001)
	assert.Equal(t, map[string]any{"pending": 4.0, "completed": 4.0}, data["consultations"])
	assert.Equal(t, 0, h.up.refreshCount())
}

func TestLogout_ClearsSession(t *testing.T) {
	h := newHarness(t, nil)
	h.login(t)

	resp, _ := h.do(t, http.MethodPost, "/api/auth/logout", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = h.do(t, http.MethodGet, "/api/auth/me", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t, nil)

	resp, out := h.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", out["status"])

	resp, out = h.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{"session": "up"}, out["checks"])

	_, _ = h.do(t, http.MethodPost, "/api/auth/otp", map[string]string{"phone_number": phone})

	resp, err := h.client.Get(h.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "upstream_requests_total")
	assert.Contains(t, string(body), "http_requests_total")
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	cfg, err := config.Default()
	require.NoError(t, err)
	cfg.Session.Driver = "etcd"
	_, _, err = OpenStore(context.Background(), cfg)
	assert.Error(t, err)
}

func TestOpenStore_RejectsFileDriver(t *testing.T) {
	cfg, err := config.Default()
	require.NoError(t, err)
	cfg.Session.Driver = "file"
	cfg.Session.File = filepath.Join(t.TempDir(), "session.json")
	st, _, err := OpenStore(context.Background(), cfg)
	require.Error(t, err)
	assert.Nil(t, st)
	assert.NoFileExists(t, cfg.Session.File)
}

func TestSessions_AreIsolatedPerBrowser(t *testing.T) {
	h := newHarness(t, nil)
	h.login(t)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	other := &harness{up: h.up, srv: h.srv, client: &http.Client{Jar: jar}}
	resp, _ := other.do(t, http.MethodGet, "/api/auth/me", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// el primer navegador sigue autenticado
	resp, me := h.do(t, http.MethodGet, "/api/auth/me", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "7", me["user"].(map[string]any)["id"])
}
