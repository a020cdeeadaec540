package helpers

import (
	"net/http"
	"strings"
	"time"
)

// CookieConfig define cómo se emite la cookie de sesión del admin.
type CookieConfig struct {
	Name   string
	Domain string
	Secure bool
	TTL    time.Duration
}

// BuildCookie arma la cookie de sesión (HttpOnly, SameSite=Lax).
func BuildCookie(cfg CookieConfig, value string) *http.Cookie {
	ck := &http.Cookie{
		Name:     cfg.Name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	if strings.TrimSpace(cfg.Domain) != "" {
		ck.Domain = cfg.Domain
	}
	if cfg.TTL > 0 {
		ck.Expires = time.Now().Add(cfg.TTL).UTC()
		ck.MaxAge = int(cfg.TTL.Seconds())
	}
	return ck
}

// BuildDeletionCookie expira la cookie en el navegador.
func BuildDeletionCookie(cfg CookieConfig) *http.Cookie {
	ck := &http.Cookie{
		Name:     cfg.Name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
	}
	if strings.TrimSpace(cfg.Domain) != "" {
		ck.Domain = cfg.Domain
	}
	return ck
}
