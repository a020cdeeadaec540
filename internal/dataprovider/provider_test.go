package dataprovider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/dropDatabas3/consultadmin/internal/apiclient"
	"github.com/dropDatabas3/consultadmin/internal/config"
	"github.com/dropDatabas3/consultadmin/internal/session"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDoer responde según método+path y registra los requests.
type fakeDoer struct {
	mu     sync.Mutex
	reqs   []apiclient.Request
	routes map[string]string
	err    error
}

func (f *fakeDoer) Do(_ context.Context, req apiclient.Request) (*apiclient.Response, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	body, ok := f.routes[req.Method+" "+req.Path]
	if !ok {
		return nil, &apiclient.HTTPError{Status: 404, Message: "not found"}
	}
	return &apiclient.Response{Status: 200, Body: []byte(body)}, nil
}

func (f *fakeDoer) last() apiclient.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

func newAdapter(t *testing.T, overrides map[string]config.ResourceConfig, routes map[string]string) (*Adapter, *fakeDoer) {
	t.Helper()
	reg, err := NewRegistry(overrides)
	require.NoError(t, err)
	d := &fakeDoer{routes: routes}
	return New(reg, Options{}).For(d), d
}

func TestGetList_PaginationSortFilter(t *testing.T) {
	a, d := newAdapter(t, nil, map[string]string{
		"GET /customers/": `{"count": 42, "results": [{"id": 1, "full_name": "Ada"}, {"id": 2, "full_name": "Alan"}]}`,
	})

	res, err := a.GetList(context.Background(), "customers", ListParams{
		Pagination: Pagination{Page: 3, PerPage: 2},
		Sort:       Sort{Field: "created_at", Order: DESC},
		Filter:     map[string]any{"status": "active", "q": "ad", "city": []any{"Madrid", "Lima"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 42, res.Total)
	want := []Record{
		{"id": float64(1), "full_name": "Ada"},
		{"id": float64(2), "full_name": "Alan"},
	}
	if diff := cmp.Diff(want, res.Data); diff != "" {
		t.Fatalf("records mismatch (-want +got):\n%s", diff)
	}

	q := d.last().Query
	assert.Equal(t, "3", q.Get("page"))
	assert.Equal(t, "2", q.Get("page_size"))
	assert.Equal(t, "-created_at", q.Get("ordering"))
	assert.Equal(t, "active", q.Get("status"))
	assert.Equal(t, "ad", q.Get("search"))
	assert.Equal(t, []string{"Madrid", "Lima"}, q["city"])
}

func TestGetList_AscendingSortAndCustomParams(t *testing.T) {
	reg, err := NewRegistry(nil)
	require.NoError(t, err)
	d := &fakeDoer{routes: map[string]string{"GET /orders/": `{"count": 0, "results": []}`}}
	a := New(reg, Options{PageParam: "p", PageSizeParam: "limit", SortParam: "sort"}).For(d)

	_, err = a.GetList(context.Background(), "orders", ListParams{
		Pagination: Pagination{Page: 1, PerPage: 25},
		Sort:       Sort{Field: "amount", Order: ASC},
	})
	require.NoError(t, err)
	want := url.Values{"p": {"1"}, "limit": {"25"}, "sort": {"amount"}}
	assert.Equal(t, want, d.last().Query)
}

func TestGetList_FlattenAndRename(t *testing.T) {
	overrides := map[string]config.ResourceConfig{
		"guide_consultations": {
			Endpoint:  "/guides/with-consultations/",
			ListPath:  "results.#.consultations|@flatten",
			TotalPath: "missing",
			IDField:   "uuid",
			Rename:    map[string]string{"scheduled_at": "date"},
		},
	}
	a, _ := newAdapter(t, overrides, map[string]string{
		"GET /guides/with-consultations/": `{"results": [
			{"guide": "g1", "consultations": [{"uuid": "c1", "scheduled_at": "2025-01-01"}]},
			{"guide": "g2", "consultations": [{"uuid": "c2", "scheduled_at": "2025-01-02"}, {"uuid": "c3"}]}
		]}`,
	})

	res, err := a.GetList(context.Background(), "guide_consultations", ListParams{})
	require.NoError(t, err)
	want := &ListResult{
		Total: 3,
		Data: []Record{
			{"id": "c1", "date": "2025-01-01"},
			{"id": "c2", "date": "2025-01-02"},
			{"id": "c3"},
		},
	}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Fatalf("list mismatch (-want +got):\n%s", diff)
	}
}

func TestGetList_SortByRenamedField(t *testing.T) {
	overrides := map[string]config.ResourceConfig{
		"offers": {IDField: "offer_id", Rename: map[string]string{"price_cents": "price"}},
	}
	a, d := newAdapter(t, overrides, map[string]string{"GET /offers/": `{"count":0,"results":[]}`})

	_, err := a.GetList(context.Background(), "offers", ListParams{Sort: Sort{Field: "price", Order: DESC}, Filter: map[string]any{"id": 9}})
	require.NoError(t, err)
	assert.Equal(t, "-price_cents", d.last().Query.Get("ordering"))
	assert.Equal(t, "9", d.last().Query.Get("offer_id"))
}

func TestGetList_UnexpectedShape(t *testing.T) {
	a, _ := newAdapter(t, nil, map[string]string{"GET /guides/": `{"detail": "weird"}`})
	_, err := a.GetList(context.Background(), "guides", ListParams{})
	assert.ErrorIs(t, err, ErrUnexpectedShape)
}

func TestUnknownResource(t *testing.T) {
	a, _ := newAdapter(t, nil, nil)
	_, err := a.GetList(context.Background(), "unicorns", ListParams{})
	assert.ErrorIs(t, err, ErrUnknownResource)
	_, err = a.GetOne(context.Background(), "unicorns", "1")
	assert.ErrorIs(t, err, ErrUnknownResource)
}

func TestGetOne(t *testing.T) {
	overrides := map[string]config.ResourceConfig{"kyc": {ItemPath: "data"}}
	a, d := newAdapter(t, overrides, map[string]string{
		"GET /kyc/7/": `{"data": {"id": 7, "status": "pending"}}`,
	})
	rec, err := a.GetOne(context.Background(), "kyc", "7")
	require.NoError(t, err)
	assert.Equal(t, "7", rec.ID())
	assert.Equal(t, "pending", rec["status"])
	assert.Equal(t, http.MethodGet, d.last().Method)

	_, err = a.GetOne(context.Background(), "kyc", " ")
	assert.ErrorIs(t, err, ErrMissingID)
}

func TestGetMany_PreservesOrder(t *testing.T) {
	a, d := newAdapter(t, nil, map[string]string{
		"GET /guides/1/": `{"id": 1}`,
		"GET /guides/2/": `{"id": 2}`,
		"GET /guides/3/": `{"id": 3}`,
	})
	recs, err := a.GetMany(context.Background(), "guides", []string{"3", "1", "2"})
	require.NoError(t, err)
	got := []string{recs[0].ID(), recs[1].ID(), recs[2].ID()}
	assert.Equal(t, []string{"3", "1", "2"}, got)
	assert.Len(t, d.reqs, 3)
}

func TestGetMany_FailsOnAnyError(t *testing.T) {
	a, _ := newAdapter(t, nil, map[string]string{"GET /guides/1/": `{"id": 1}`})
	_, err := a.GetMany(context.Background(), "guides", []string{"1", "404"})
	status, ok := apiclient.StatusOf(err)
	require.True(t, ok)
	assert.Equal(t, 404, status)
}

func TestGetManyReference(t *testing.T) {
	a, d := newAdapter(t, nil, map[string]string{"GET /consultations/": `{"count": 1, "results": [{"id": 5}]}`})
	res, err := a.GetManyReference(context.Background(), "consultations", ManyReferenceParams{
		Target:     "guide",
		ID:         "g1",
		ListParams: ListParams{Filter: map[string]any{"status": "pending"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, "g1", d.last().Query.Get("guide"))
	assert.Equal(t, "pending", d.last().Query.Get("status"))
}

func TestCreateAndUpdate(t *testing.T) {
	overrides := map[string]config.ResourceConfig{
		"offers": {Rename: map[string]string{"price_cents": "price"}, UpdateMethod: "put"},
	}
	a, d := newAdapter(t, overrides, map[string]string{
		"POST /offers/":   `{"id": 10, "price_cents": 500}`,
		"PUT /offers/10/": `{"id": 10, "price_cents": 700}`,
	})
	ctx := context.Background()

	rec, err := a.Create(ctx, "offers", Record{"price": 500, "id": "ignored"})
	require.NoError(t, err)
	assert.Equal(t, Record{"id": float64(10), "price": float64(500)}, rec)
	assert.Equal(t, map[string]any{"price_cents": 500}, d.last().Body)

	rec, err = a.Update(ctx, "offers", "10", Record{"price": 700})
	require.NoError(t, err)
	assert.Equal(t, float64(700), rec["price"])
	assert.Equal(t, http.MethodPut, d.last().Method)
}

func TestUpdateMany_DeleteMany(t *testing.T) {
	a, d := newAdapter(t, nil, map[string]string{
		"PATCH /customers/1/":  `{"id": 1}`,
		"PATCH /customers/2/":  `{"id": 2}`,
		"DELETE /customers/1/": ``,
		"DELETE /customers/2/": ``,
	})
	ctx := context.Background()

	ids, err := a.UpdateMany(ctx, "customers", []string{"1", "2"}, Record{"status": "blocked"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, ids)

	ids, err = a.DeleteMany(ctx, "customers", []string{"1", "2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, ids)

	var methods []string
	for _, r := range d.reqs {
		methods = append(methods, r.Method+" "+r.Path)
	}
	sort.Strings(methods)
	assert.Equal(t, []string{
		"DELETE /customers/1/", "DELETE /customers/2/",
		"PATCH /customers/1/", "PATCH /customers/2/",
	}, methods)
}

func TestReadOnlyResource(t *testing.T) {
	a, d := newAdapter(t, nil, nil)
	ctx := context.Background()

	_, err := a.Create(ctx, "payments", Record{"amount": 1})
	assert.ErrorIs(t, err, ErrReadOnly)
	_, err = a.Update(ctx, "payments", "1", Record{})
	assert.ErrorIs(t, err, ErrReadOnly)
	assert.ErrorIs(t, a.Delete(ctx, "payments", "1"), ErrReadOnly)
	_, err = a.DeleteMany(ctx, "payments", []string{"1"})
	assert.ErrorIs(t, err, ErrReadOnly)
	assert.Empty(t, d.reqs)
}

func TestAction(t *testing.T) {
	a, d := newAdapter(t, nil, map[string]string{
		"POST /kyc/3/approve/":          `{"id": 3, "status": "approved"}`,
		"POST /consultations/9/cancel/": ``,
	})
	ctx := context.Background()

	rec, err := a.Action(ctx, "kyc", "3", "approve", nil)
	require.NoError(t, err)
	assert.Equal(t, "approved", rec["status"])
	assert.Nil(t, d.last().Body)

	rec, err = a.Action(ctx, "consultations", "9", "cancel", Record{"reason": "no-show"})
	require.NoError(t, err)
	assert.Equal(t, "9", rec.ID())
	assert.Equal(t, Record{"reason": "no-show"}, d.last().Body)

	_, err = a.Action(ctx, "kyc", "3", "explode", nil)
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestNewRegistry_Overrides(t *testing.T) {
	reg, err := NewRegistry(map[string]config.ResourceConfig{
		"reviews": {Endpoint: "/reviews", Actions: map[string]string{"hide": "post hide"}},
	})
	require.NoError(t, err)
	r, err := reg.Get("reviews")
	require.NoError(t, err)
	assert.Equal(t, ActionSpec{Method: "POST", Path: "hide"}, r.Actions["hide"])
	assert.Equal(t, "/reviews/5/hide", r.actionPath("5", r.Actions["hide"]))
	assert.Contains(t, reg.Names(), "reviews")
	assert.Contains(t, reg.Names(), "kyc")

	_, err = NewRegistry(map[string]config.ResourceConfig{"x": {}})
	assert.ErrorIs(t, err, ErrInvalidResource)
	_, err = NewRegistry(map[string]config.ResourceConfig{"kyc": {Actions: map[string]string{"a": "POST"}}})
	assert.ErrorIs(t, err, ErrInvalidResource)
	_, err = NewRegistry(map[string]config.ResourceConfig{"kyc": {UpdateMethod: "DELETE"}})
	assert.ErrorIs(t, err, ErrInvalidResource)
}

func TestDefaultsAreIndependent(t *testing.T) {
	reg, err := NewRegistry(map[string]config.ResourceConfig{"guides": {ReadOnly: true}})
	require.NoError(t, err)
	g, _ := reg.Get("guides")
	assert.True(t, g.ReadOnly)
	assert.False(t, DefaultResources()["guides"].ReadOnly)
}

// Contra un upstream real vía apiclient: el 401 se resuelve con refresh.
func TestAdapter_ThroughAPIClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/token/refresh":
			_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "A2"})
		case "/guides/":
			if r.Header.Get("Authorization") != "Bearer A2" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte(`{"count": 1, "results": [{"id": "g1"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, err := apiclient.New(apiclient.Options{BaseURL: srv.URL, RefreshPath: "/auth/token/refresh"})
	require.NoError(t, err)
	repo := session.NewMemoryStore(0).For("sid")
	ctx := context.Background()
	require.NoError(t, session.SaveLogin(ctx, repo, "A1", "R1", session.User{ID: "1"}))

	reg, err := NewRegistry(nil)
	require.NoError(t, err)
	res, err := New(reg, Options{}).For(c.WithSession(repo)).GetList(ctx, "guides", ListParams{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, "g1", res.Data[0].ID())
}

func TestAdapter_PropagatesDoerError(t *testing.T) {
	reg, err := NewRegistry(nil)
	require.NoError(t, err)
	boom := errors.New("boom")
	_, err = New(reg, Options{}).For(&fakeDoer{err: boom}).GetList(context.Background(), "orders", ListParams{})
	assert.ErrorIs(t, err, boom)
}

// Un 404 en un id cancela el ctx compartido mientras otro id está renovando el
// token; la sesión tiene que sobrevivir.
func TestGetMany_SiblingFailureKeepsSession(t *testing.T) {
	var refreshed sync.WaitGroup
	refreshed.Add(1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/token/refresh":
			defer refreshed.Done()
			time.Sleep(300 * time.Millisecond)
			_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "A2"})
		case "/customers/1/":
			if r.Header.Get("Authorization") != "Bearer A2" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte(`{"id": "1"}`))
		case "/customers/missing/":
			time.Sleep(50 * time.Millisecond)
			http.NotFound(w, r)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, err := apiclient.New(apiclient.Options{BaseURL: srv.URL, RefreshPath: "/auth/token/refresh", Timeout: 5 * time.Second})
	require.NoError(t, err)
	repo := session.NewMemoryStore(0).For("sid")
	ctx := context.Background()
	require.NoError(t, session.SaveLogin(ctx, repo, "A1", "R1", session.User{ID: "1"}))

	reg, err := NewRegistry(nil)
	require.NoError(t, err)
	_, err = New(reg, Options{}).For(c.WithSession(repo)).GetMany(ctx, "customers", []string{"1", "missing"})
	require.Error(t, err)
	var he *apiclient.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusNotFound, he.Status)
	assert.False(t, apiclient.IsSessionLost(err))

	refreshed.Wait()
	access, refresh, err := session.LoadTokens(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, "A1", access)
	assert.Equal(t, "R1", refresh)
	u, err := session.LoadUser(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, "1", u.ID)
}
