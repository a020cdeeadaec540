// Package metrics agrupa los collectors Prometheus del back office: llamadas
// al upstream, refresh de tokens y requests HTTP propios.
package metrics

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics implementa apiclient.Observer.
type Metrics struct {
	upstreamTotal    *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	refreshTotal     *prometheus.CounterVec
	httpTotal        *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	httpInflight     prometheus.Gauge
	gatherer         prometheus.Gatherer
}

// New crea y registra los collectors. reg nil => registry global.
func New(reg *prometheus.Registry) (*Metrics, error) {
	var (
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if reg != nil {
		registerer, gatherer = reg, reg
	}

	m := &Metrics{
		upstreamTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upstream_requests_total",
			Help: "Llamadas al upstream REST por método y status (0 = error de transporte)",
		}, []string{"method", "status"}),
		upstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "upstream_request_duration_seconds",
			Help:    "Latencia de las llamadas al upstream",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "token_refresh_total",
			Help: "Intentos de refresh de access token por resultado",
		}, []string{"result"}), // ok | failed | canceled | no_refresh_token
		httpTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Número total de requests procesadas",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Latencia de los requests HTTP",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		httpInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Requests en vuelo",
		}),
		gatherer: gatherer,
	}

	var err error
	if m.upstreamTotal, err = register(registerer, m.upstreamTotal); err != nil {
		return nil, err
	}
	if m.upstreamDuration, err = register(registerer, m.upstreamDuration); err != nil {
		return nil, err
	}
	if m.refreshTotal, err = register(registerer, m.refreshTotal); err != nil {
		return nil, err
	}
	if m.httpTotal, err = register(registerer, m.httpTotal); err != nil {
		return nil, err
	}
	if m.httpDuration, err = register(registerer, m.httpDuration); err != nil {
		return nil, err
	}
	if m.httpInflight, err = register(registerer, m.httpInflight); err != nil {
		return nil, err
	}
	return m, nil
}

// register devuelve el collector ya registrado si existe uno igual, así dos
// Metrics sobre el mismo registry comparten series.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Handler expone /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveUpstream(method string, status int, d time.Duration) {
	method = strings.ToUpper(method)
	m.upstreamTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.upstreamDuration.WithLabelValues(method).Observe(d.Seconds())
}

func (m *Metrics) ObserveRefresh(result string) {
	m.refreshTotal.WithLabelValues(result).Inc()
}

// TrackInflight incrementa el gauge y devuelve la función que lo decrementa.
func (m *Metrics) TrackInflight() func() {
	m.httpInflight.Inc()
	return m.httpInflight.Dec
}

// ObserveHTTP registra un request ya servido. route debe ser el patrón del
// router; si está vacío se normaliza el path.
func (m *Metrics) ObserveHTTP(method, route, path string, status int, d time.Duration) {
	if route == "" {
		route = NormalizePath(path)
	}
	if status == 0 {
		status = http.StatusOK
	}
	method = strings.ToUpper(method)
	m.httpTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

var (
	uuidSegmentRE  = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F-]{4}-[0-9a-fA-F-]{4,}$`)
	hexSegmentRE   = regexp.MustCompile(`^[0-9a-fA-F]{16,}$`)
	tokenSegmentRE = regexp.MustCompile(`^[A-Za-z0-9_-]{24,}$`)
)

// NormalizePath reemplaza segmentos dinámicos (ids numéricos, uuids, tokens)
// por ":param" para acotar la cardinalidad.
func NormalizePath(p string) string {
	clean := strings.SplitN(p, "?", 2)[0]
	var out []string
	for _, seg := range strings.Split(clean, "/") {
		switch {
		case seg == "":
			continue
		case isDynamicSegment(seg):
			out = append(out, ":param")
		default:
			out = append(out, seg)
		}
	}
	if len(out) == 0 {
		return "/"
	}
	return "/" + strings.Join(out, "/")
}

func isDynamicSegment(seg string) bool {
	if len(seg) > 48 {
		return true
	}
	if uuidSegmentRE.MatchString(seg) || hexSegmentRE.MatchString(seg) || tokenSegmentRE.MatchString(seg) {
		return true
	}
	_, err := strconv.Atoi(seg)
	return err == nil
}
