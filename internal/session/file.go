package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/dropDatabas3/consultadmin/internal/security/secretbox"
)

// FileStore guarda UNA sesión (la del operador del CLI) en un archivo JSON.
// Si se configura un Box, el contenido se sella con secretbox.
type FileStore struct {
	path string
	box  *secretbox.Box
	mu   sync.Mutex
}

// NewFileStore crea el store en path; box puede ser nil (archivo en claro, 0600).
func NewFileStore(path string, box *secretbox.Box) *FileStore {
	return &FileStore{path: path, box: box}
}

// For ignora el sid: el archivo contiene una sola sesión.
func (s *FileStore) For(string) Repository { return s }

func (s *FileStore) Ping(context.Context) error {
	dir := filepath.Dir(s.path)
	if _, err := os.Stat(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) Get(_ context.Context, key Key) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.read()
	if err != nil {
		return "", err
	}
	v, ok := m[string(key)]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *FileStore) Set(_ context.Context, key Key, value string) error {
	if err := validKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.read()
	if err != nil {
		return err
	}
	m[string(key)] = value
	return s.write(m)
}

func (s *FileStore) Delete(_ context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := m[string(key)]; !ok {
		return nil
	}
	delete(m, string(key))
	return s.write(m)
}

// Clear borra el archivo completo.
func (s *FileStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("session file clear: %w", err)
	}
	return nil
}

func (s *FileStore) read() (map[string]string, error) {
	m := map[string]string{}
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session file read: %w", err)
	}
	if secretbox.IsSealed(b) {
		if s.box == nil {
			return nil, errors.New("session file: archivo sellado pero no hay SECRETBOX_MASTER_KEY")
		}
		if b, err = s.box.Open(string(b)); err != nil {
			return nil, fmt.Errorf("session file: %w", err)
		}
	}
	if len(b) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("session file corrupt: %w", err)
	}
	return m, nil
}

func (s *FileStore) write(m map[string]string) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if s.box != nil {
		env, err := s.box.Seal(b)
		if err != nil {
			return err
		}
		b = []byte(env)
	}
	return writeFileAtomic(s.path, b, 0o600)
}

// writeFileAtomic: tmp → fsync → close → chmod → rename.
// Si rename falla (Windows con destino bloqueado) intenta remove+rename.
func writeFileAtomic(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("fsync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	_ = os.Chmod(tmpPath, perm)

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(path)
		if err2 := os.Rename(tmpPath, path); err2 != nil {
			return fmt.Errorf("rename: %v (after remove: %v)", err, err2)
		}
	}
	return nil
}
