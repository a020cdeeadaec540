package session

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore guarda sesiones en proceso. Se pierde al reiniciar.
// Cada sid es un único item de la cache: toda escritura renueva el TTL de la
// sesión completa, igual que en redis y postgres.
type MemoryStore struct {
	c   *gocache.Cache
	ttl time.Duration
	mu  sync.Mutex // serializa read-modify-write por sid
}

// NewMemoryStore crea el store; ttl 0 => sin expiración.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	exp := ttl
	if exp <= 0 {
		exp = gocache.NoExpiration
	}
	return &MemoryStore{c: gocache.New(exp, time.Minute), ttl: exp}
}

func (s *MemoryStore) For(sid string) Repository { return &memoryRepo{s: s, sid: sid} }
func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error {
	s.c.Flush()
	return nil
}

// entries es inmutable una vez guardado en la cache.
type entries map[Key]string

func (s *MemoryStore) load(sid string) entries {
	v, ok := s.c.Get(sid)
	if !ok {
		return nil
	}
	e, _ := v.(entries)
	return e
}

// update aplica fn sobre una copia y la guarda con TTL nuevo.
func (s *MemoryStore) update(sid string, fn func(entries)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.load(sid)
	next := make(entries, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	fn(next)
	if len(next) == 0 {
		s.c.Delete(sid)
		return
	}
	s.c.Set(sid, next, s.ttl)
}

type memoryRepo struct {
	s   *MemoryStore
	sid string
}

func (r *memoryRepo) Get(_ context.Context, key Key) (string, error) {
	v, ok := r.s.load(r.sid)[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (r *memoryRepo) Set(_ context.Context, key Key, value string) error {
	if err := validKey(key); err != nil {
		return err
	}
	r.s.update(r.sid, func(e entries) { e[key] = value })
	return nil
}

func (r *memoryRepo) Delete(_ context.Context, key Key) error {
	r.s.update(r.sid, func(e entries) { delete(e, key) })
	return nil
}

func (r *memoryRepo) Clear(_ context.Context) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.c.Delete(r.sid)
	return nil
}
