package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	migrations "github.com/dropDatabas3/consultadmin/migrations/postgres"
)

// PostgresStore persiste sesiones en admin_session_values.
type PostgresStore struct {
	pool  *pgxpool.Pool
	ttl   time.Duration
	owned bool
}

// PostgresConfig configura el store.
type PostgresConfig struct {
	DSN      string
	MaxConns int
	TTL      time.Duration
}

// OpenPostgres abre un pool, aplica el schema embebido y retorna el store.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("session pg: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = int32(cfg.MaxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("session pg: connect: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	s := NewPostgresStore(pool, cfg.TTL)
	s.owned = true
	return s, nil
}

// NewPostgresStore usa un pool existente; no aplica migraciones.
func NewPostgresStore(pool *pgxpool.Pool, ttl time.Duration) *PostgresStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &PostgresStore{pool: pool, ttl: ttl}
}

var migrationFilePattern = regexp.MustCompile(`^(\d+)_(.+)\.sql$`)

// Migrate ejecuta en orden los .sql de migrations/postgres/session.
// Los scripts son idempotentes (IF NOT EXISTS).
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	entries, err := fs.ReadDir(migrations.SessionFS, migrations.SessionDir)
	if err != nil {
		return fmt.Errorf("session pg: read migrations: %w", err)
	}
	type mig struct {
		version int
		file    string
	}
	var list []mig
	for _, e := range entries {
		m := migrationFilePattern.FindStringSubmatch(e.Name())
		if e.IsDir() || m == nil {
			continue
		}
		v, _ := strconv.Atoi(m[1])
		list = append(list, mig{version: v, file: e.Name()})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].version < list[j].version })

	for _, m := range list {
		b, err := migrations.SessionFS.ReadFile(path.Join(migrations.SessionDir, m.file))
		if err != nil {
			return fmt.Errorf("session pg: read %s: %w", m.file, err)
		}
		if _, err := pool.Exec(ctx, string(b)); err != nil {
			return fmt.Errorf("session pg: apply %s: %w", m.file, err)
		}
	}
	return nil
}

func (s *PostgresStore) For(sid string) Repository {
	return &pgRepo{s: s, sidHash: hashSID(sid)}
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PostgresStore) Close() error {
	if s.owned {
		s.pool.Close()
	}
	return nil
}

// PurgeExpired borra filas vencidas; pensado para un ticker del server.
func (s *PostgresStore) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM admin_session_values WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("session pg purge: %w", err)
	}
	return tag.RowsAffected(), nil
}

type pgRepo struct {
	s       *PostgresStore
	sidHash string
}

func (r *pgRepo) Get(ctx context.Context, key Key) (string, error) {
	var v string
	err := r.s.pool.QueryRow(ctx,
		`SELECT value FROM admin_session_values
		  WHERE sid_hash = $1 AND key = $2 AND expires_at > now()`,
		r.sidHash, string(key),
	).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("session pg get: %w", err)
	}
	return v, nil
}

func (r *pgRepo) Set(ctx context.Context, key Key, value string) error {
	if err := validKey(key); err != nil {
		return err
	}
	exp := time.Now().Add(r.s.ttl)

	tx, err := r.s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("session pg set: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		INSERT INTO admin_session_values (sid_hash, key, value, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (sid_hash, key)
		DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at, updated_at = now()`,
		r.sidHash, string(key), value, exp,
	); err != nil {
		return fmt.Errorf("session pg set: %w", err)
	}
	// La sesión expira como unidad.
	if _, err := tx.Exec(ctx,
		`UPDATE admin_session_values SET expires_at = $2 WHERE sid_hash = $1`,
		r.sidHash, exp,
	); err != nil {
		return fmt.Errorf("session pg touch: %w", err)
	}
	return tx.Commit(ctx)
}

func (r *pgRepo) Delete(ctx context.Context, key Key) error {
	if _, err := r.s.pool.Exec(ctx,
		`DELETE FROM admin_session_values WHERE sid_hash = $1 AND key = $2`,
		r.sidHash, string(key),
	); err != nil {
		return fmt.Errorf("session pg delete: %w", err)
	}
	return nil
}

func (r *pgRepo) Clear(ctx context.Context) error {
	if _, err := r.s.pool.Exec(ctx,
		`DELETE FROM admin_session_values WHERE sid_hash = $1`, r.sidHash,
	); err != nil {
		return fmt.Errorf("session pg clear: %w", err)
	}
	return nil
}
