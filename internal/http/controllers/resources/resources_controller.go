// Package resources expone el data provider como API JSON para la UI.
package resources

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/dropDatabas3/consultadmin/internal/audit"
	"github.com/dropDatabas3/consultadmin/internal/dataprovider"
	"github.com/dropDatabas3/consultadmin/internal/http/errors"
	"github.com/dropDatabas3/consultadmin/internal/http/helpers"
	mw "github.com/dropDatabas3/consultadmin/internal/http/middlewares"
	"github.com/dropDatabas3/consultadmin/internal/observability/logger"
	"github.com/dropDatabas3/consultadmin/internal/session"
	"github.com/go-chi/chi/v5"
)

const (
	defaultPerPage = 25
	maxPerPage     = 500
)

// Adapter es la vista del data provider atada a una sesión.
type Adapter interface {
	GetList(ctx context.Context, resource string, lp dataprovider.ListParams) (*dataprovider.ListResult, error)
	GetOne(ctx context.Context, resource, id string) (dataprovider.Record, error)
	GetMany(ctx context.Context, resource string, ids []string) ([]dataprovider.Record, error)
	GetManyReference(ctx context.Context, resource string, mp dataprovider.ManyReferenceParams) (*dataprovider.ListResult, error)
	Create(ctx context.Context, resource string, data dataprovider.Record) (dataprovider.Record, error)
	Update(ctx context.Context, resource, id string, data dataprovider.Record) (dataprovider.Record, error)
	UpdateMany(ctx context.Context, resource string, ids []string, data dataprovider.Record) ([]string, error)
	Delete(ctx context.Context, resource, id string) error
	DeleteMany(ctx context.Context, resource string, ids []string) ([]string, error)
	Action(ctx context.Context, resource, id, action string, payload dataprovider.Record) (dataprovider.Record, error)
}

// AdapterFactory crea el Adapter para la sesión del request.
type AdapterFactory func(repo session.Repository) Adapter

type Controller struct {
	adapter AdapterFactory
	errw    helpers.ErrorWriter
}

func NewController(f AdapterFactory, errw helpers.ErrorWriter) *Controller {
	return &Controller{adapter: f, errw: errw}
}

type listResponse struct {
	Data  []dataprovider.Record `json:"data"`
	Total int                   `json:"total"`
}

type recordResponse struct {
	Data dataprovider.Record `json:"data"`
}

type idsResponse struct {
	Data []string `json:"data"`
}

func (c *Controller) scope(r *http.Request, op string) (context.Context, *mw.Session, Adapter, string) {
	ctx := r.Context()
	resource := chi.URLParam(r, "resource")
	ctx = logger.ToContext(ctx, logger.From(ctx).With(
		logger.Layer("controller"),
		logger.Op("ResourcesController."+op),
		logger.Resource(resource),
	))
	s := mw.MustGetSession(ctx)
	return ctx, s, c.adapter(s.Repo), resource
}

// List maneja GET /api/resources/{resource}
// (page, perPage, sort, order, filter JSON; target+id => many reference).
func (c *Controller) List(w http.ResponseWriter, r *http.Request) {
	ctx, s, a, resource := c.scope(r, "List")

	lp, appErr := parseListParams(r)
	if appErr != nil {
		errors.WriteError(w, appErr)
		return
	}

	var (
		res *dataprovider.ListResult
		err error
	)
	q := r.URL.Query()
	if target := strings.TrimSpace(q.Get("target")); target != "" {
		res, err = a.GetManyReference(ctx, resource, dataprovider.ManyReferenceParams{
			Target:     target,
			ID:         q.Get("id"),
			ListParams: lp,
		})
	} else {
		res, err = a.GetList(ctx, resource, lp)
	}
	if err != nil {
		c.errw.Write(w, r.WithContext(ctx), s.Repo, err)
		return
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(res.Total))
	helpers.WriteJSON(w, http.StatusOK, listResponse{Data: nonNil(res.Data), Total: res.Total})
}

// Many maneja GET /api/resources/{resource}/many?ids=a,b
func (c *Controller) Many(w http.ResponseWriter, r *http.Request) {
	ctx, s, a, resource := c.scope(r, "Many")
	ids := parseIDs(r)
	if len(ids) == 0 {
		errors.WriteError(w, errors.ErrMissingFields.WithDetail("ids"))
		return
	}
	recs, err := a.GetMany(ctx, resource, ids)
	if err != nil {
		c.errw.Write(w, r.WithContext(ctx), s.Repo, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, listResponse{Data: nonNil(recs), Total: len(recs)})
}

// Get maneja GET /api/resources/{resource}/{id}
func (c *Controller) Get(w http.ResponseWriter, r *http.Request) {
	ctx, s, a, resource := c.scope(r, "Get")
	rec, err := a.GetOne(ctx, resource, chi.URLParam(r, "id"))
	if err != nil {
		c.errw.Write(w, r.WithContext(ctx), s.Repo, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, recordResponse{Data: rec})
}

// Create maneja POST /api/resources/{resource}
func (c *Controller) Create(w http.ResponseWriter, r *http.Request) {
	ctx, s, a, resource := c.scope(r, "Create")
	data, ok := readRecord(w, r)
	if !ok {
		return
	}
	uid := audit.UserID(ctx, s.Repo)
	rec, err := a.Create(ctx, resource, data)
	audit.Log(ctx, s.Repo, audit.Event{Action: audit.ActionCreate, Resource: resource, IDs: idsOf(rec), UserID: uid, Err: err})
	if err != nil {
		c.errw.Write(w, r.WithContext(ctx), s.Repo, err)
		return
	}
	helpers.WriteJSON(w, http.StatusCreated, recordResponse{Data: rec})
}

// Update maneja PUT/PATCH /api/resources/{resource}/{id}
func (c *Controller) Update(w http.ResponseWriter, r *http.Request) {
	ctx, s, a, resource := c.scope(r, "Update")
	data, ok := readRecord(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	uid := audit.UserID(ctx, s.Repo)
	rec, err := a.Update(ctx, resource, id, data)
	audit.Log(ctx, s.Repo, audit.Event{Action: audit.ActionUpdate, Resource: resource, IDs: []string{id}, UserID: uid, Err: err})
	if err != nil {
		c.errw.Write(w, r.WithContext(ctx), s.Repo, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, recordResponse{Data: rec})
}

// UpdateMany maneja PUT /api/resources/{resource}?ids=a,b
func (c *Controller) UpdateMany(w http.ResponseWriter, r *http.Request) {
	ctx, s, a, resource := c.scope(r, "UpdateMany")
	ids := parseIDs(r)
	if len(ids) == 0 {
		errors.WriteError(w, errors.ErrMissingFields.WithDetail("ids"))
		return
	}
	data, ok := readRecord(w, r)
	if !ok {
		return
	}
	uid := audit.UserID(ctx, s.Repo)
	done, err := a.UpdateMany(ctx, resource, ids, data)
	audit.Log(ctx, s.Repo, audit.Event{Action: audit.ActionUpdateMany, Resource: resource, IDs: ids, UserID: uid, Err: err})
	if err != nil {
		c.errw.Write(w, r.WithContext(ctx), s.Repo, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, idsResponse{Data: done})
}

// Delete maneja DELETE /api/resources/{resource}/{id}
func (c *Controller) Delete(w http.ResponseWriter, r *http.Request) {
	ctx, s, a, resource := c.scope(r, "Delete")
	id := chi.URLParam(r, "id")
	uid := audit.UserID(ctx, s.Repo)
	err := a.Delete(ctx, resource, id)
	audit.Log(ctx, s.Repo, audit.Event{Action: audit.ActionDelete, Resource: resource, IDs: []string{id}, UserID: uid, Err: err})
	if err != nil {
		c.errw.Write(w, r.WithContext(ctx), s.Repo, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, recordResponse{Data: dataprovider.Record{"id": id}})
}

// DeleteMany maneja DELETE /api/resources/{resource}?ids=a,b
func (c *Controller) DeleteMany(w http.ResponseWriter, r *http.Request) {
	ctx, s, a, resource := c.scope(r, "DeleteMany")
	ids := parseIDs(r)
	if len(ids) == 0 {
		errors.WriteError(w, errors.ErrMissingFields.WithDetail("ids"))
		return
	}
	uid := audit.UserID(ctx, s.Repo)
	done, err := a.DeleteMany(ctx, resource, ids)
	audit.Log(ctx, s.Repo, audit.Event{Action: audit.ActionDeleteMany, Resource: resource, IDs: ids, UserID: uid, Err: err})
	if err != nil {
		c.errw.Write(w, r.WithContext(ctx), s.Repo, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, idsResponse{Data: done})
}

// Action maneja POST /api/resources/{resource}/{id}/actions/{action}
func (c *Controller) Action(w http.ResponseWriter, r *http.Request) {
	ctx, s, a, resource := c.scope(r, "Action")
	var payload dataprovider.Record
	if r.ContentLength != 0 && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
		var ok bool
		if payload, ok = readRecord(w, r); !ok {
			return
		}
	}
	id, action := chi.URLParam(r, "id"), chi.URLParam(r, "action")
	uid := audit.UserID(ctx, s.Repo)
	rec, err := a.Action(ctx, resource, id, action, payload)
	audit.Log(ctx, s.Repo, audit.Event{Action: audit.ActionDomain, Resource: resource, IDs: []string{id}, Name: action, UserID: uid, Err: err})
	if err != nil {
		c.errw.Write(w, r.WithContext(ctx), s.Repo, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, recordResponse{Data: rec})
}

func readRecord(w http.ResponseWriter, r *http.Request) (dataprovider.Record, bool) {
	var data dataprovider.Record
	if err := helpers.ReadJSON(w, r, &data); err != nil {
		errors.WriteError(w, err)
		return nil, false
	}
	if data == nil {
		data = dataprovider.Record{}
	}
	return data, true
}

func parseListParams(r *http.Request) (dataprovider.ListParams, *errors.AppError) {
	q := r.URL.Query()
	lp := dataprovider.ListParams{
		Pagination: dataprovider.Pagination{Page: 1, PerPage: defaultPerPage},
	}

	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return lp, errors.ErrInvalidParameter.WithDetail("page")
		}
		lp.Pagination.Page = n
	}
	if v := q.Get("perPage"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxPerPage {
			return lp, errors.ErrInvalidParameter.WithDetail("perPage")
		}
		lp.Pagination.PerPage = n
	}

	lp.Sort.Field = strings.TrimSpace(q.Get("sort"))
	switch order := strings.ToUpper(strings.TrimSpace(q.Get("order"))); order {
	case "", dataprovider.ASC:
		lp.Sort.Order = dataprovider.ASC
	case dataprovider.DESC:
		lp.Sort.Order = dataprovider.DESC
	default:
		return lp, errors.ErrInvalidParameter.WithDetail("order")
	}

	if v := strings.TrimSpace(q.Get("filter")); v != "" {
		if err := json.Unmarshal([]byte(v), &lp.Filter); err != nil {
			return lp, errors.ErrInvalidParameter.WithDetail("filter")
		}
		for _, fv := range lp.Filter {
			if !scalarFilter(fv) {
				return lp, errors.ErrInvalidParameter.WithDetail("filter")
			}
		}
	}
	return lp, nil
}

// scalarFilter acepta valores que viajan como query param: escalares o una
// lista plana de escalares (se repite el parámetro).
func scalarFilter(v any) bool {
	switch t := v.(type) {
	case nil, string, float64, bool:
		return true
	case []any:
		for _, e := range t {
			switch e.(type) {
			case nil, string, float64, bool:
			default:
				return false
			}
		}
		return true
	default:
		return false
	}
}

// parseIDs acepta ids=a,b y/o ids=a&ids=b.
func parseIDs(r *http.Request) []string {
	var out []string
	for _, v := range r.URL.Query()["ids"] {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				out = append(out, id)
			}
		}
	}
	return out
}

func idsOf(rec dataprovider.Record) []string {
	if id := rec.ID(); id != "" {
		return []string{id}
	}
	return nil
}

func nonNil(recs []dataprovider.Record) []dataprovider.Record {
	if recs == nil {
		return []dataprovider.Record{}
	}
	return recs
}
