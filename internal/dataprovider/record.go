package dataprovider

import (
	"fmt"
	"strconv"

	"github.com/tidwall/gjson"
)

// Record es un registro opaco del backend, ya normalizado (siempre con "id").
type Record map[string]any

// ID devuelve el id como string (los números JSON llegan como float64).
func (r Record) ID() string {
	return stringify(r["id"])
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

// normalize convierte un objeto gjson al Record del admin.
func (r *Resource) normalize(v gjson.Result) (Record, error) {
	if !v.IsObject() {
		return nil, fmt.Errorf("%w: %s: record is %s", ErrUnexpectedShape, r.Name, v.Type)
	}
	raw, _ := v.Value().(map[string]any)
	out := make(Record, len(raw))
	for k, val := range raw {
		out[k] = val
	}
	for from, to := range r.Rename {
		if val, ok := out[from]; ok {
			delete(out, from)
			out[to] = val
		}
	}
	if r.IDField != "" && r.IDField != "id" {
		if val, ok := out[r.IDField]; ok {
			delete(out, r.IDField)
			out["id"] = val
		}
	}
	return out, nil
}

// denormalize es la inversa de normalize para bodies de escritura. El id
// nunca viaja en el body.
func (r *Resource) denormalize(in Record) map[string]any {
	reverse := make(map[string]string, len(r.Rename))
	for from, to := range r.Rename {
		reverse[to] = from
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		if k == "id" {
			continue
		}
		if from, ok := reverse[k]; ok {
			k = from
		}
		out[k] = v
	}
	return out
}

// upstreamField traduce un campo del admin (sort/filter) al nombre upstream.
func (r *Resource) upstreamField(field string) string {
	if field == "id" && r.IDField != "" {
		return r.IDField
	}
	for from, to := range r.Rename {
		if to == field {
			return from
		}
	}
	return field
}

// decodeList extrae registros y total de una respuesta de listado.
func (r *Resource) decodeList(body []byte) ([]Record, int, error) {
	if !gjson.ValidBytes(body) {
		return nil, 0, fmt.Errorf("%w: %s: invalid json", ErrUnexpectedShape, r.Name)
	}
	root := gjson.ParseBytes(body)
	arr := root
	if r.ListPath != "" {
		arr = root.Get(r.ListPath)
	}
	if !arr.IsArray() {
		return nil, 0, fmt.Errorf("%w: %s: %q is not a list", ErrUnexpectedShape, r.Name, r.ListPath)
	}
	items := arr.Array()
	out := make([]Record, 0, len(items))
	for _, it := range items {
		rec, err := r.normalize(it)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, rec)
	}
	total := len(out)
	if r.TotalPath != "" {
		if t := root.Get(r.TotalPath); t.Type == gjson.Number {
			total = int(t.Int())
		}
	}
	return out, total, nil
}

// decodeItem extrae un registro de una respuesta de detalle.
func (r *Resource) decodeItem(body []byte) (Record, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: %s: invalid json", ErrUnexpectedShape, r.Name)
	}
	v := gjson.ParseBytes(body)
	if r.ItemPath != "" {
		v = v.Get(r.ItemPath)
	}
	return r.normalize(v)
}
