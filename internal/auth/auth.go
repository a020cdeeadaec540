// Package auth implementa el login por OTP del back office y los chequeos de
// sesión (check-auth / check-error) sobre el token store.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/dropDatabas3/consultadmin/internal/apiclient"
	"github.com/dropDatabas3/consultadmin/internal/observability/logger"
	"github.com/dropDatabas3/consultadmin/internal/session"
	"github.com/golang-jwt/jwt/v5"
	"github.com/tidwall/gjson"
)

var (
	ErrInvalidPhone         = errors.New("auth: invalid phone number")
	ErrInvalidOTP           = errors.New("auth: invalid otp")
	ErrInvalidLoginResponse = errors.New("auth: login response without access token")
	ErrNotAuthenticated     = errors.New("auth: not authenticated")
)

var (
	phoneRe = regexp.MustCompile(`^\+?[0-9]{7,15}$`)
	otpRe   = regexp.MustCompile(`^[0-9]{4,8}$`)
)

// Paths son los endpoints OTP del upstream.
type Paths struct {
	OTPGenerate string
	OTPValidate string
}

// Service es stateless; el estado vive en el session.Repository de cada llamada.
type Service struct {
	client *apiclient.Client
	paths  Paths
	now    func() time.Time
}

func NewService(c *apiclient.Client, paths Paths) *Service {
	return &Service{client: c, paths: paths, now: time.Now}
}

// NormalizePhone quita espacios, guiones y paréntesis y valida el resultado.
func NormalizePhone(phone string) (string, error) {
	p := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, strings.TrimSpace(phone))
	if !phoneRe.MatchString(p) {
		return "", ErrInvalidPhone
	}
	return p, nil
}

// SendOTP pide al backend que envíe el código al teléfono.
func (s *Service) SendOTP(ctx context.Context, phone string) error {
	p, err := NormalizePhone(phone)
	if err != nil {
		return err
	}
	log := logger.From(ctx).With(logger.Op("auth.send_otp"), logger.Phone(p))

	res := s.client.Exchange(ctx, nil, apiclient.Request{
		Method:    http.MethodPost,
		Path:      s.paths.OTPGenerate,
		Body:      map[string]string{"phone_number": p},
		Anonymous: true,
	})
	if res.Err != nil {
		log.Info("otp generate falló", logger.Err(res.Err))
		return res.Err
	}
	log.Debug("otp enviado")
	return nil
}

// Login valida el OTP y, si el backend devuelve tokens, reemplaza la sesión
// completa (clear + access/refresh/user).
func (s *Service) Login(ctx context.Context, repo session.Repository, phone, otp string) (*session.User, error) {
	p, err := NormalizePhone(phone)
	if err != nil {
		return nil, err
	}
	code := strings.TrimSpace(otp)
	if !otpRe.MatchString(code) {
		return nil, ErrInvalidOTP
	}
	log := logger.From(ctx).With(logger.Op("auth.login"), logger.Phone(p))

	res := s.client.Exchange(ctx, nil, apiclient.Request{
		Method:    http.MethodPost,
		Path:      s.paths.OTPValidate,
		Body:      map[string]string{"phone_number": p, "otp": code},
		Anonymous: true,
	})
	if res.Err != nil {
		log.Info("otp validate falló", logger.Err(res.Err))
		return nil, res.Err
	}

	access, refresh, user, err := parseLogin(res.Response.Body, p)
	if err != nil {
		log.Warn("respuesta de login inválida", logger.Err(err))
		return nil, err
	}
	if user.ID == "" {
		user.ID = subjectOf(access)
	}

	if err := repo.Clear(ctx); err != nil {
		return nil, fmt.Errorf("auth: clear session: %w", err)
	}
	if err := session.SaveLogin(ctx, repo, access, refresh, user); err != nil {
		return nil, fmt.Errorf("auth: save session: %w", err)
	}
	log.Info("login ok", logger.UserID(user.ID), logger.Bool("has_refresh", refresh != ""))
	return &user, nil
}

func parseLogin(body []byte, phone string) (access, refresh string, u session.User, err error) {
	if !gjson.ValidBytes(body) {
		return "", "", u, ErrInvalidLoginResponse
	}
	r := gjson.ParseBytes(body)
	access = first(r, "access_token", "access", "data.access_token", "tokens.access")
	if access == "" {
		return "", "", u, ErrInvalidLoginResponse
	}
	refresh = first(r, "refresh_token", "refresh", "data.refresh_token", "tokens.refresh")

	ur := r.Get("user")
	if !ur.Exists() {
		ur = r.Get("data.user")
	}
	if id := ur.Get("id"); id.Exists() && id.Type != gjson.Null {
		u.ID = id.String()
	}
	u.FullName = first(ur, "full_name", "fullName", "name")
	u.PhoneNumber = first(ur, "phone_number", "phone")
	if u.PhoneNumber == "" {
		u.PhoneNumber = phone
	}
	u.Status = first(ur, "status")
	return access, refresh, u, nil
}

func first(r gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := r.Get(p); v.Type == gjson.String && strings.TrimSpace(v.Str) != "" {
			return strings.TrimSpace(v.Str)
		}
	}
	return ""
}

// Logout limpia la sesión local. El backend no expone revocación.
func (s *Service) Logout(ctx context.Context, repo session.Repository) error {
	if err := repo.Clear(ctx); err != nil {
		return fmt.Errorf("auth: logout: %w", err)
	}
	logger.From(ctx).Debug("sesión cerrada", logger.Op("auth.logout"))
	return nil
}

// CheckAuth falla si no hay access token, o si el access token es un JWT
// vencido y no hay refresh token con qué renovarlo (en ese caso limpia).
// Tokens opacos se aceptan; el upstream es quien los valida.
func (s *Service) CheckAuth(ctx context.Context, repo session.Repository) error {
	access, refresh, err := session.LoadTokens(ctx, repo)
	if err != nil {
		return err
	}
	if access == "" {
		return ErrNotAuthenticated
	}
	exp, ok := expiryOf(access)
	if ok && !exp.After(s.now()) && refresh == "" {
		if err := repo.Clear(ctx); err != nil {
			return fmt.Errorf("auth: clear expired session: %w", err)
		}
		return ErrNotAuthenticated
	}
	return nil
}

// CheckError decide si un error del data provider invalida la sesión.
// 401/403 (o un refresh fallido) limpian la sesión y devuelven
// ErrNotAuthenticated; cualquier otro error es transitorio => nil.
func (s *Service) CheckError(ctx context.Context, repo session.Repository, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, apiclient.ErrRefreshFailed) {
		return ErrNotAuthenticated
	}
	status, ok := apiclient.StatusOf(err)
	if !ok || (status != http.StatusUnauthorized && status != http.StatusForbidden) {
		return nil
	}
	if cerr := repo.Clear(ctx); cerr != nil {
		return fmt.Errorf("auth: clear session: %w", cerr)
	}
	logger.From(ctx).Info("sesión invalidada por el upstream", logger.Op("auth.check_error"), logger.Status(status))
	return ErrNotAuthenticated
}

// Identity devuelve el usuario guardado en el login.
func (s *Service) Identity(ctx context.Context, repo session.Repository) (*session.User, error) {
	u, err := session.LoadUser(ctx, repo)
	if session.IsNotFound(err) {
		return nil, ErrNotAuthenticated
	}
	return u, err
}

// Los JWT se decodifican sin verificar firma: sólo se leen exp/sub.
var unverified = jwt.NewParser()

func expiryOf(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := unverified.ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

func subjectOf(token string) string {
	claims := jwt.MapClaims{}
	if _, _, err := unverified.ParseUnverified(token, claims); err != nil {
		return ""
	}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub
	}
	if v, ok := claims["user_id"]; ok {
		return fmt.Sprint(v)
	}
	return ""
}
