package apiclient

import (
	"context"

	"github.com/dropDatabas3/consultadmin/internal/session"
)

// Bound es un Client atado a un session.Repository. Implementa Doer.
type Bound struct {
	c    *Client
	repo session.Repository
}

// Doer es lo que consumen el data provider y el dashboard.
type Doer interface {
	Do(ctx context.Context, req Request) (*Response, error)
}

// WithSession ata el cliente a repo.
func (c *Client) WithSession(repo session.Repository) *Bound {
	return &Bound{c: c, repo: repo}
}

func (b *Bound) Do(ctx context.Context, req Request) (*Response, error) {
	return b.c.Do(ctx, b.repo, req)
}

// Exchange expone el Result completo.
func (b *Bound) Exchange(ctx context.Context, req Request) Result {
	return b.c.Exchange(ctx, b.repo, req)
}

// Session devuelve el repositorio atado.
func (b *Bound) Session() session.Repository { return b.repo }
