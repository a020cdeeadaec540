// Package dataprovider traduce operaciones genéricas de admin (list, show,
// create, update, delete) a llamadas REST específicas de cada recurso y
// reformatea las respuestas.
package dataprovider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/dropDatabas3/consultadmin/internal/apiclient"
	"github.com/dropDatabas3/consultadmin/internal/observability/logger"
	"golang.org/x/sync/errgroup"
)

// Options: nombres de los query params de paginación/orden.
type Options struct {
	PageParam     string
	PageSizeParam string
	SortParam     string
	// Concurrency acota GetMany/UpdateMany/DeleteMany.
	Concurrency int
}

// Provider es compartido; Adapter es la vista atada a una sesión.
type Provider struct {
	reg  *Registry
	opts Options
}

func New(reg *Registry, opts Options) *Provider {
	if opts.PageParam == "" {
		opts.PageParam = "page"
	}
	if opts.PageSizeParam == "" {
		opts.PageSizeParam = "page_size"
	}
	if opts.SortParam == "" {
		opts.SortParam = "ordering"
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 4
	}
	return &Provider{reg: reg, opts: opts}
}

// Registry expone el registro de recursos.
func (p *Provider) Registry() *Registry { return p.reg }

// For ata el provider a un Doer (normalmente apiclient.Client.WithSession).
func (p *Provider) For(d apiclient.Doer) *Adapter {
	return &Adapter{p: p, d: d}
}

type Adapter struct {
	p *Provider
	d apiclient.Doer
}

// Sort order
const (
	ASC  = "ASC"
	DESC = "DESC"
)

type Pagination struct {
	Page    int
	PerPage int
}

type Sort struct {
	Field string
	Order string
}

type ListParams struct {
	Pagination Pagination
	Sort       Sort
	Filter     map[string]any
}

type ListResult struct {
	Data  []Record `json:"data"`
	Total int      `json:"total"`
}

// ManyReferenceParams lista registros cuyo campo Target apunta a ID.
type ManyReferenceParams struct {
	Target string
	ID     string
	ListParams
}

func (a *Adapter) resource(name string) (*Resource, error) {
	return a.p.reg.Get(name)
}

func (a *Adapter) writable(name string) (*Resource, error) {
	r, err := a.resource(name)
	if err != nil {
		return nil, err
	}
	if r.ReadOnly {
		return nil, fmt.Errorf("%w: %s", ErrReadOnly, name)
	}
	return r, nil
}

// query arma page/page_size, ordering (-campo para DESC) y filtros.
func (a *Adapter) query(r *Resource, lp ListParams) url.Values {
	q := url.Values{}
	if lp.Pagination.Page > 0 {
		q.Set(a.p.opts.PageParam, strconv.Itoa(lp.Pagination.Page))
	}
	if lp.Pagination.PerPage > 0 {
		q.Set(a.p.opts.PageSizeParam, strconv.Itoa(lp.Pagination.PerPage))
	}
	if f := strings.TrimSpace(lp.Sort.Field); f != "" {
		f = r.upstreamField(f)
		if strings.EqualFold(lp.Sort.Order, DESC) {
			f = "-" + f
		}
		q.Set(a.p.opts.SortParam, f)
	}
	for k, v := range lp.Filter {
		key := r.upstreamField(k)
		if k == "q" {
			key = "search"
		}
		switch t := v.(type) {
		case []any:
			for _, x := range t {
				q.Add(key, stringify(x))
			}
		case []string:
			for _, x := range t {
				q.Add(key, x)
			}
		default:
			if s := stringify(v); s != "" {
				q.Set(key, s)
			}
		}
	}
	return q
}

func (a *Adapter) GetList(ctx context.Context, resource string, lp ListParams) (*ListResult, error) {
	r, err := a.resource(resource)
	if err != nil {
		return nil, err
	}
	resp, err := a.d.Do(ctx, apiclient.Request{Method: http.MethodGet, Path: r.Endpoint, Query: a.query(r, lp)})
	if err != nil {
		return nil, err
	}
	data, total, err := r.decodeList(resp.Body)
	if err != nil {
		return nil, err
	}
	logger.From(ctx).Debug("get_list", logger.Resource(resource), logger.Count(len(data)), logger.Int("total", total))
	return &ListResult{Data: data, Total: total}, nil
}

func (a *Adapter) GetOne(ctx context.Context, resource, id string) (Record, error) {
	r, err := a.resource(resource)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(id) == "" {
		return nil, ErrMissingID
	}
	resp, err := a.d.Do(ctx, apiclient.Request{Method: http.MethodGet, Path: r.itemPath(url.PathEscape(id))})
	if err != nil {
		return nil, err
	}
	return r.decodeItem(resp.Body)
}

// GetMany hace un GetOne por id, en paralelo y acotado. El orden de la
// respuesta respeta el de ids; cualquier error cancela el resto.
func (a *Adapter) GetMany(ctx context.Context, resource string, ids []string) ([]Record, error) {
	if _, err := a.resource(resource); err != nil {
		return nil, err
	}
	out := make([]Record, len(ids))
	err := a.each(ctx, ids, func(ctx context.Context, i int, id string) error {
		rec, err := a.GetOne(ctx, resource, id)
		if err != nil {
			return err
		}
		out[i] = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (a *Adapter) GetManyReference(ctx context.Context, resource string, mp ManyReferenceParams) (*ListResult, error) {
	if strings.TrimSpace(mp.Target) == "" {
		return nil, fmt.Errorf("dataprovider: many reference without target")
	}
	lp := mp.ListParams
	filter := make(map[string]any, len(lp.Filter)+1)
	for k, v := range lp.Filter {
		filter[k] = v
	}
	filter[mp.Target] = mp.ID
	lp.Filter = filter
	return a.GetList(ctx, resource, lp)
}

func (a *Adapter) Create(ctx context.Context, resource string, data Record) (Record, error) {
	r, err := a.writable(resource)
	if err != nil {
		return nil, err
	}
	resp, err := a.d.Do(ctx, apiclient.Request{Method: http.MethodPost, Path: r.Endpoint, Body: r.denormalize(data)})
	if err != nil {
		return nil, err
	}
	rec, err := r.decodeItem(resp.Body)
	if err != nil {
		return nil, err
	}
	logger.From(ctx).Info("registro creado", logger.Resource(resource), logger.RecordID(rec.ID()))
	return rec, nil
}

func (a *Adapter) Update(ctx context.Context, resource, id string, data Record) (Record, error) {
	r, err := a.writable(resource)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(id) == "" {
		return nil, ErrMissingID
	}
	method := r.UpdateMethod
	if method == "" {
		method = http.MethodPatch
	}
	resp, err := a.d.Do(ctx, apiclient.Request{Method: method, Path: r.itemPath(url.PathEscape(id)), Body: r.denormalize(data)})
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(resp.Body))) == 0 {
		rec := Record{"id": id}
		for k, v := range data {
			rec[k] = v
		}
		return rec, nil
	}
	return r.decodeItem(resp.Body)
}

// UpdateMany devuelve los ids actualizados.
func (a *Adapter) UpdateMany(ctx context.Context, resource string, ids []string, data Record) ([]string, error) {
	if _, err := a.writable(resource); err != nil {
		return nil, err
	}
	err := a.each(ctx, ids, func(ctx context.Context, _ int, id string) error {
		_, err := a.Update(ctx, resource, id, data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (a *Adapter) Delete(ctx context.Context, resource, id string) error {
	r, err := a.writable(resource)
	if err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" {
		return ErrMissingID
	}
	if _, err := a.d.Do(ctx, apiclient.Request{Method: http.MethodDelete, Path: r.itemPath(url.PathEscape(id))}); err != nil {
		return err
	}
	logger.From(ctx).Info("registro eliminado", logger.Resource(resource), logger.RecordID(id))
	return nil
}

func (a *Adapter) DeleteMany(ctx context.Context, resource string, ids []string) ([]string, error) {
	if _, err := a.writable(resource); err != nil {
		return nil, err
	}
	err := a.each(ctx, ids, func(ctx context.Context, _ int, id string) error {
		return a.Delete(ctx, resource, id)
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Action ejecuta una acción custom (ej: kyc approve). Body vacío se omite.
// Las acciones se permiten también sobre recursos read-only.
func (a *Adapter) Action(ctx context.Context, resource, id, action string, payload Record) (Record, error) {
	r, err := a.resource(resource)
	if err != nil {
		return nil, err
	}
	spec, ok := r.Actions[action]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownAction, resource, action)
	}
	if strings.TrimSpace(id) == "" {
		return nil, ErrMissingID
	}
	req := apiclient.Request{Method: spec.Method, Path: r.actionPath(url.PathEscape(id), spec)}
	if len(payload) > 0 {
		req.Body = payload
	}
	resp, err := a.d.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	logger.From(ctx).Info("acción ejecutada", logger.Resource(resource), logger.RecordID(id), logger.Action(action))
	if rec, err := r.decodeItem(resp.Body); err == nil {
		return rec, nil
	}
	return Record{"id": id}, nil
}

func (a *Adapter) each(ctx context.Context, ids []string, fn func(ctx context.Context, i int, id string) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.p.opts.Concurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error { return fn(gctx, i, id) })
	}
	return g.Wait()
}
