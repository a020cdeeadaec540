// Package dashboard calcula las estadísticas del inicio del back office
// reduciendo muchas llamadas chicas al data provider.
package dashboard

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/dropDatabas3/consultadmin/internal/apiclient"
	"github.com/dropDatabas3/consultadmin/internal/dataprovider"
	"github.com/dropDatabas3/consultadmin/internal/observability/logger"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const revenuePageSize = 100

type Options struct {
	// CacheTTL 0 => sin cache.
	CacheTTL    time.Duration
	Concurrency int
	// RPS acota el ritmo de llamadas al upstream (compartido entre sesiones).
	RPS                  float64
	ConsultationStatuses []string
}

// Stats es el resumen mostrado en el dashboard.
type Stats struct {
	Customers     int            `json:"customers"`
	Guides        int            `json:"guides"`
	ActiveGuides  int            `json:"active_guides"`
	PendingKYC    int            `json:"pending_kyc"`
	Consultations map[string]int `json:"consultations"`
	OpenOffers    int            `json:"open_offers"`
	PaidOrders    int            `json:"paid_orders"`
	Revenue       float64        `json:"revenue"`
	GeneratedAt   time.Time      `json:"generated_at"`
}

type Service struct {
	p       *dataprovider.Provider
	opts    Options
	limiter *rate.Limiter
	cache   *gocache.Cache
}

func NewService(p *dataprovider.Provider, opts Options) *Service {
	if opts.Concurrency < 1 {
		opts.Concurrency = 4
	}
	lim := rate.NewLimiter(rate.Inf, 0)
	if opts.RPS > 0 {
		lim = rate.NewLimiter(rate.Limit(opts.RPS), opts.Concurrency)
	}
	// cleanup 0: sin goroutine janitor, los vencidos se ignoran en Get
	return &Service{p: p, opts: opts, limiter: lim, cache: gocache.New(opts.CacheTTL, 0)}
}

// Invalidate descarta el resultado cacheado para key.
func (s *Service) Invalidate(key string) { s.cache.Delete(key) }

// Stats calcula (o devuelve del cache) las estadísticas. cacheKey identifica al
// usuario; vacío => sin cache. Cualquier llamada fallida hace fallar el total.
func (s *Service) Stats(ctx context.Context, d apiclient.Doer, cacheKey string) (*Stats, error) {
	if cacheKey != "" && s.opts.CacheTTL > 0 {
		if v, ok := s.cache.Get(cacheKey); ok {
			st := v.(Stats)
			return st.clone(), nil
		}
	}

	start := time.Now()
	a := s.p.For(d)
	st := Stats{Consultations: make(map[string]int, len(s.opts.ConsultationStatuses))}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)

	count := func(dst *int, resource string, filter map[string]any) {
		g.Go(func() error {
			n, err := s.count(gctx, a, resource, filter)
			if err != nil {
				return err
			}
			*dst = n
			return nil
		})
	}

	count(&st.Customers, "customers", nil)
	count(&st.Guides, "guides", nil)
	count(&st.ActiveGuides, "guides", map[string]any{"status": "active"})
	count(&st.PendingKYC, "kyc", map[string]any{"status": "pending"})
	count(&st.OpenOffers, "offers", map[string]any{"status": "open"})
	for _, status := range s.opts.ConsultationStatuses {
		status := status
		g.Go(func() error {
			n, err := s.count(gctx, a, "consultations", map[string]any{"status": status})
			if err != nil {
				return err
			}
			mu.Lock()
			st.Consultations[status] = n
			mu.Unlock()
			return nil
		})
	}
	g.Go(func() error {
		paid, revenue, err := s.revenue(gctx, a)
		if err != nil {
			return err
		}
		st.PaidOrders, st.Revenue = paid, revenue
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("dashboard: %w", err)
	}
	st.GeneratedAt = time.Now().UTC()

	logger.From(ctx).Debug("dashboard calculado", logger.Op("dashboard.stats"), logger.DurationMs(time.Since(start)))
	if cacheKey != "" && s.opts.CacheTTL > 0 {
		s.cache.Set(cacheKey, *st.clone(), gocache.DefaultExpiration)
	}
	return &st, nil
}

func (s *Service) count(ctx context.Context, a *dataprovider.Adapter, resource string, filter map[string]any) (int, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	res, err := a.GetList(ctx, resource, dataprovider.ListParams{
		Pagination: dataprovider.Pagination{Page: 1, PerPage: 1},
		Filter:     filter,
	})
	if err != nil {
		return 0, err
	}
	return res.Total, nil
}

// revenue pagina las órdenes pagadas y suma "amount".
func (s *Service) revenue(ctx context.Context, a *dataprovider.Adapter) (int, float64, error) {
	var (
		seen  int
		sum   float64
		total = -1
	)
	for page := 1; total < 0 || seen < total; page++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return 0, 0, err
		}
		res, err := a.GetList(ctx, "orders", dataprovider.ListParams{
			Pagination: dataprovider.Pagination{Page: page, PerPage: revenuePageSize},
			Filter:     map[string]any{"status": "paid"},
		})
		if err != nil {
			return 0, 0, err
		}
		total = res.Total
		if len(res.Data) == 0 {
			break
		}
		for _, rec := range res.Data {
			sum += amountOf(rec["amount"])
		}
		seen += len(res.Data)
	}
	return seen, sum, nil
}

// amountOf acepta números JSON o strings decimales ("12.50"); otro => 0.
func amountOf(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func (s Stats) clone() *Stats {
	c := s
	c.Consultations = make(map[string]int, len(s.Consultations))
	for k, v := range s.Consultations {
		c.Consultations[k] = v
	}
	return &c
}
