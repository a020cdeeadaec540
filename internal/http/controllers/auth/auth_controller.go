// Package auth contiene el controller de login por OTP del back office.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/dropDatabas3/consultadmin/internal/apiclient"
	"github.com/dropDatabas3/consultadmin/internal/audit"
	"github.com/dropDatabas3/consultadmin/internal/http/errors"
	"github.com/dropDatabas3/consultadmin/internal/http/helpers"
	mw "github.com/dropDatabas3/consultadmin/internal/http/middlewares"
	"github.com/dropDatabas3/consultadmin/internal/observability/logger"
	"github.com/dropDatabas3/consultadmin/internal/session"
	"github.com/google/uuid"
)

// Service es lo que el controller necesita de auth.Service.
type Service interface {
	SendOTP(ctx context.Context, phone string) error
	Login(ctx context.Context, repo session.Repository, phone, otp string) (*session.User, error)
	Logout(ctx context.Context, repo session.Repository) error
	CheckAuth(ctx context.Context, repo session.Repository) error
	CheckError(ctx context.Context, repo session.Repository, err error) error
	Identity(ctx context.Context, repo session.Repository) (*session.User, error)
}

type Controller struct {
	svc    Service
	store  session.Store
	cookie helpers.CookieConfig
	errw   helpers.ErrorWriter
}

func NewController(svc Service, store session.Store, cookie helpers.CookieConfig) *Controller {
	return &Controller{
		svc:    svc,
		store:  store,
		cookie: cookie,
		errw:   helpers.ErrorWriter{Checker: svc, Cookie: cookie},
	}
}

type otpRequest struct {
	PhoneNumber string `json:"phone_number"`
}

type loginRequest struct {
	PhoneNumber string `json:"phone_number"`
	OTP         string `json:"otp"`
}

type identityResponse struct {
	User *session.User `json:"user"`
}

// SendOTP maneja POST /api/auth/otp
func (c *Controller) SendOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("AuthController.SendOTP"))

	var req otpRequest
	if err := helpers.ReadJSON(w, r, &req); err != nil {
		errors.WriteError(w, err)
		return
	}
	if strings.TrimSpace(req.PhoneNumber) == "" {
		errors.WriteError(w, errors.ErrMissingFields.WithDetail("phone_number"))
		return
	}

	if err := c.svc.SendOTP(ctx, req.PhoneNumber); err != nil {
		c.errw.Write(w, r, nil, err)
		return
	}
	log.Debug("otp solicitado")
	helpers.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

// Login maneja POST /api/auth/login. Cada login rota el sid.
func (c *Controller) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("AuthController.Login"))

	var req loginRequest
	if err := helpers.ReadJSON(w, r, &req); err != nil {
		errors.WriteError(w, err)
		return
	}
	if strings.TrimSpace(req.PhoneNumber) == "" || strings.TrimSpace(req.OTP) == "" {
		errors.WriteError(w, errors.ErrMissingFields.WithDetail("phone_number, otp"))
		return
	}

	sid := uuid.NewString()
	user, err := c.svc.Login(ctx, c.store.For(sid), req.PhoneNumber, req.OTP)
	if err != nil {
		if status, ok := apiclient.StatusOf(err); ok && (status == http.StatusBadRequest || status == http.StatusUnauthorized) {
			errors.WriteError(w, errors.ErrInvalidCredentials.WithCause(err))
			return
		}
		c.errw.Write(w, r, nil, err)
		return
	}

	if old := mw.GetSession(ctx); old != nil && !old.New {
		if err := old.Repo.Clear(ctx); err != nil {
			log.Warn("no se pudo limpiar la sesión anterior", logger.Err(err))
		}
	}
	http.SetCookie(w, helpers.BuildCookie(c.cookie, sid))
	audit.Log(ctx, nil, audit.Event{Action: audit.ActionLogin, UserID: user.ID})
	log.Info("admin logueado", logger.UserID(user.ID), logger.SessionID(sid))
	helpers.WriteJSON(w, http.StatusOK, identityResponse{User: user})
}

// Logout maneja POST /api/auth/logout
func (c *Controller) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s := mw.MustGetSession(ctx)
	// antes del clear: después ya no hay usuario en la sesión
	u, _ := c.svc.Identity(ctx, s.Repo)
	if err := c.svc.Logout(ctx, s.Repo); err != nil {
		c.errw.Write(w, r, nil, err)
		return
	}
	if u != nil {
		audit.Log(ctx, nil, audit.Event{Action: audit.ActionLogout, UserID: u.ID})
	}
	http.SetCookie(w, helpers.BuildDeletionCookie(c.cookie))
	w.WriteHeader(http.StatusNoContent)
}

// Me maneja GET /api/auth/me
func (c *Controller) Me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s := mw.MustGetSession(ctx)
	if err := c.svc.CheckAuth(ctx, s.Repo); err != nil {
		c.errw.Write(w, r, s.Repo, err)
		return
	}
	user, err := c.svc.Identity(ctx, s.Repo)
	if err != nil {
		c.errw.Write(w, r, s.Repo, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, identityResponse{User: user})
}
