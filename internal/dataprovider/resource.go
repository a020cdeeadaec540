package dataprovider

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/dropDatabas3/consultadmin/internal/config"
)

// ActionSpec es una operación custom sobre un registro (ej: kyc approve).
// Path es relativo al item: "/kyc/{id}/" + Path.
type ActionSpec struct {
	Method string
	Path   string
}

// Resource describe cómo se traduce un recurso del back office a REST.
type Resource struct {
	Name     string
	Endpoint string
	// ListPath: path gjson al array de registros. Vacío => el body es el array.
	// Soporta modificadores, ej: "results.#.consultations|@flatten".
	ListPath string
	// TotalPath: path gjson al total. Si no existe se usa la cantidad de items.
	TotalPath string
	// ItemPath: path gjson al registro en respuestas de detalle. Vacío => body.
	ItemPath string
	// IDField se renombra a "id" en los registros devueltos.
	IDField string
	// Rename: campo upstream -> campo admin.
	Rename       map[string]string
	UpdateMethod string
	ReadOnly     bool
	Actions      map[string]ActionSpec
}

func (r *Resource) itemPath(id string) string {
	return joinPath(r.Endpoint, id)
}

func (r *Resource) actionPath(id string, a ActionSpec) string {
	return joinPath(r.itemPath(id), a.Path)
}

// joinPath respeta la convención de trailing slash del endpoint base.
func joinPath(base, seg string) string {
	trailing := strings.HasSuffix(base, "/")
	seg = strings.Trim(seg, "/")
	if seg == "" {
		return base
	}
	out := strings.TrimRight(base, "/") + "/" + seg
	if trailing {
		out += "/"
	}
	return out
}

// DefaultResources son los recursos del marketplace con la forma de respuesta
// paginada {count, results}.
func DefaultResources() map[string]*Resource {
	list := func(name string) *Resource {
		return &Resource{
			Name:         name,
			Endpoint:     "/" + name + "/",
			ListPath:     "results",
			TotalPath:    "count",
			IDField:      "id",
			UpdateMethod: http.MethodPatch,
		}
	}
	consultations := list("consultations")
	consultations.Actions = map[string]ActionSpec{
		"cancel": {Method: http.MethodPost, Path: "cancel"},
	}
	payments := list("payments")
	payments.ReadOnly = true
	kyc := list("kyc")
	kyc.Actions = map[string]ActionSpec{
		"approve": {Method: http.MethodPost, Path: "approve"},
		"reject":  {Method: http.MethodPost, Path: "reject"},
	}
	return map[string]*Resource{
		"customers":     list("customers"),
		"guides":        list("guides"),
		"consultations": consultations,
		"orders":        list("orders"),
		"payments":      payments,
		"offers":        list("offers"),
		"kyc":           kyc,
	}
}

// Registry resuelve nombres de recurso. Inmutable tras construirse.
type Registry struct {
	byName map[string]*Resource
}

// NewRegistry arma el registro a partir de los defaults + overrides de config.
// Un override pisa sólo los campos no vacíos del recurso existente.
func NewRegistry(overrides map[string]config.ResourceConfig) (*Registry, error) {
	res := DefaultResources()
	for name, rc := range overrides {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("%w: empty name", ErrInvalidResource)
		}
		r, ok := res[name]
		if !ok {
			if rc.Endpoint == "" {
				return nil, fmt.Errorf("%w: %s needs an endpoint", ErrInvalidResource, name)
			}
			r = &Resource{Name: name, IDField: "id", UpdateMethod: http.MethodPatch}
			res[name] = r
		}
		if err := apply(r, rc); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidResource, name, err)
		}
	}
	return &Registry{byName: res}, nil
}

func apply(r *Resource, rc config.ResourceConfig) error {
	if rc.Endpoint != "" {
		r.Endpoint = rc.Endpoint
	}
	if rc.ListPath != "" {
		r.ListPath = rc.ListPath
	}
	if rc.TotalPath != "" {
		r.TotalPath = rc.TotalPath
	}
	if rc.ItemPath != "" {
		r.ItemPath = rc.ItemPath
	}
	if rc.IDField != "" {
		r.IDField = rc.IDField
	}
	if len(rc.Rename) > 0 {
		r.Rename = rc.Rename
	}
	if rc.UpdateMethod != "" {
		m := strings.ToUpper(rc.UpdateMethod)
		if m != http.MethodPatch && m != http.MethodPut {
			return fmt.Errorf("update_method %q", rc.UpdateMethod)
		}
		r.UpdateMethod = m
	}
	if rc.ReadOnly {
		r.ReadOnly = true
	}
	for name, spec := range rc.Actions {
		method, path, ok := strings.Cut(strings.TrimSpace(spec), " ")
		if !ok || strings.TrimSpace(path) == "" {
			return fmt.Errorf("action %s: want \"METHOD path\", got %q", name, spec)
		}
		if r.Actions == nil {
			r.Actions = map[string]ActionSpec{}
		}
		r.Actions[name] = ActionSpec{Method: strings.ToUpper(method), Path: strings.TrimSpace(path)}
	}
	return nil
}

// Get devuelve el recurso o ErrUnknownResource.
func (g *Registry) Get(name string) (*Resource, error) {
	r, ok := g.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownResource, name)
	}
	return r, nil
}

// Names lista los recursos registrados, ordenados.
func (g *Registry) Names() []string {
	out := make([]string, 0, len(g.byName))
	for n := range g.byName {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
