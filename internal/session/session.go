// Package session es el token store del back office: access/refresh token y el
// usuario actual, detrás de una interfaz inyectable (get/set/delete/clear).
//
// Backends:
//   - memory   (go-cache, dev/tests)
//   - redis    (hash por sesión)
//   - postgres (tabla admin_session_values)
//   - file     (una sola sesión, para el CLI; opcionalmente sellada)
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Key es una de las claves persistidas por sesión.
type Key string

const (
	KeyAccessToken  Key = "access_token"
	KeyRefreshToken Key = "refresh_token"
	KeyUser         Key = "user"
)

// AllKeys son las claves que Clear debe eliminar.
var AllKeys = []Key{KeyAccessToken, KeyRefreshToken, KeyUser}

// ErrNotFound indica que la clave no existe (o expiró).
var ErrNotFound = errors.New("session: key not found")

// User es la identidad denormalizada guardada al hacer login.
type User struct {
	ID          string `json:"id"`
	FullName    string `json:"fullName"`
	PhoneNumber string `json:"phone_number"`
	Status      string `json:"status"`
}

// Repository es la vista de UNA sesión.
type Repository interface {
	// Get retorna ErrNotFound si la clave no existe.
	Get(ctx context.Context, key Key) (string, error)
	Set(ctx context.Context, key Key, value string) error
	Delete(ctx context.Context, key Key) error
	// Clear elimina las tres claves de la sesión.
	Clear(ctx context.Context) error
}

// Store agrupa sesiones, una por sid (cookie del navegador del admin).
type Store interface {
	For(sid string) Repository
	Ping(ctx context.Context) error
	Close() error
}

// IsNotFound reporta si err es (o envuelve) ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// LoadTokens lee ambos tokens; los ausentes vuelven como "".
func LoadTokens(ctx context.Context, repo Repository) (access, refresh string, err error) {
	access, err = getOptional(ctx, repo, KeyAccessToken)
	if err != nil {
		return "", "", err
	}
	refresh, err = getOptional(ctx, repo, KeyRefreshToken)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

// SaveLogin escribe tokens + usuario. Un refresh vacío se elimina.
func SaveLogin(ctx context.Context, repo Repository, access, refresh string, u User) error {
	if strings.TrimSpace(access) == "" {
		return errors.New("session: empty access token")
	}
	ub, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("session: marshal user: %w", err)
	}
	if err := repo.Set(ctx, KeyAccessToken, access); err != nil {
		return err
	}
	if refresh == "" {
		if err := repo.Delete(ctx, KeyRefreshToken); err != nil {
			return err
		}
	} else if err := repo.Set(ctx, KeyRefreshToken, refresh); err != nil {
		return err
	}
	return repo.Set(ctx, KeyUser, string(ub))
}

// LoadUser decodifica el usuario guardado.
func LoadUser(ctx context.Context, repo Repository) (*User, error) {
	raw, err := repo.Get(ctx, KeyUser)
	if err != nil {
		return nil, err
	}
	var u User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil, fmt.Errorf("session: corrupt user: %w", err)
	}
	return &u, nil
}

func getOptional(ctx context.Context, repo Repository, k Key) (string, error) {
	v, err := repo.Get(ctx, k)
	if IsNotFound(err) {
		return "", nil
	}
	return v, err
}

// hashSID evita persistir el sid crudo en backends compartidos.
func hashSID(sid string) string {
	sum := sha256.Sum256([]byte(sid))
	return hex.EncodeToString(sum[:])
}

func validKey(k Key) error {
	for _, ak := range AllKeys {
		if k == ak {
			return nil
		}
	}
	return fmt.Errorf("session: unknown key %q", k)
}
