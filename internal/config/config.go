package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env     string `yaml:"env"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Server struct {
		Addr               string   `yaml:"addr"`
		CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
		ReadTimeout        string   `yaml:"read_timeout"`
		WriteTimeout       string   `yaml:"write_timeout"`
	} `yaml:"server"`

	// Upstream: servicios REST del marketplace (colaborador externo).
	Upstream struct {
		BaseURL string `yaml:"base_url"`
		// Header estático opcional; si está seteado se manda en TODAS las llamadas.
		InternalAPIKey string `yaml:"internal_api_key"`
		Timeout        string `yaml:"timeout"`
		Paths          struct {
			OTPGenerate string `yaml:"otp_generate"`
			OTPValidate string `yaml:"otp_validate"`
			Refresh     string `yaml:"refresh"`
		} `yaml:"paths"`
		PageParam     string `yaml:"page_param"`
		PageSizeParam string `yaml:"page_size_param"`
		SortParam     string `yaml:"sort_param"`
	} `yaml:"upstream"`

	Session struct {
		Driver       string `yaml:"driver"` // memory | redis | postgres
		TTL          string `yaml:"ttl"`
		CookieName   string `yaml:"cookie_name"`
		CookieDomain string `yaml:"cookie_domain"`
		CookieSecure bool   `yaml:"cookie_secure"`
		File         string `yaml:"file"`       // sesión del CLI
		MasterKey    string `yaml:"master_key"` // base64(32 bytes); vacío => archivo en claro
	} `yaml:"session"`

	Redis struct {
		Addr     string `yaml:"addr"`
		DB       int    `yaml:"db"`
		Password string `yaml:"password"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"redis"`

	Postgres struct {
		DSN      string `yaml:"dsn"`
		MaxConns int    `yaml:"max_conns"`
	} `yaml:"postgres"`

	Rate struct {
		Enabled bool `yaml:"enabled"`
		Login   struct {
			Limit  int    `yaml:"limit"`
			Window string `yaml:"window"`
		} `yaml:"login"`
	} `yaml:"rate"`

	Dashboard struct {
		CacheTTL             string   `yaml:"cache_ttl"`
		Concurrency          int      `yaml:"concurrency"`
		RPS                  float64  `yaml:"rps"`
		ConsultationStatuses []string `yaml:"consultation_statuses"`
	} `yaml:"dashboard"`

	// Resources pisa/extiende el mapeo recurso -> endpoint del data provider.
	Resources map[string]ResourceConfig `yaml:"resources"`
}

// ResourceConfig describe cómo un recurso del back office se traduce a REST.
type ResourceConfig struct {
	Endpoint     string            `yaml:"endpoint"`
	ListPath     string            `yaml:"list_path"`
	TotalPath    string            `yaml:"total_path"`
	ItemPath     string            `yaml:"item_path"`
	IDField      string            `yaml:"id_field"`
	Rename       map[string]string `yaml:"rename"`
	UpdateMethod string            `yaml:"update_method"`
	ReadOnly     bool              `yaml:"read_only"`
	Actions      map[string]string `yaml:"actions"` // nombre -> "METHOD path"
}

// Default devuelve la config con defaults + overrides de entorno, sin YAML.
func Default() (*Config, error) {
	var c Config
	return c.finish()
}

// Load lee el YAML en path; si path es vacío equivale a Default.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return c.finish()
}

func (c *Config) finish() (*Config, error) {
	c.applyDefaults()
	c.applyEnvOverrides()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeout == "" {
		c.Server.ReadTimeout = "10s"
	}
	if c.Server.WriteTimeout == "" {
		c.Server.WriteTimeout = "60s"
	}
	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = "http://localhost:8000/api"
	}
	if c.Upstream.Timeout == "" {
		c.Upstream.Timeout = "15s"
	}
	if c.Upstream.Paths.OTPGenerate == "" {
		c.Upstream.Paths.OTPGenerate = "/auth/otp/generate"
	}
	if c.Upstream.Paths.OTPValidate == "" {
		c.Upstream.Paths.OTPValidate = "/auth/otp/validate"
	}
	if c.Upstream.Paths.Refresh == "" {
		c.Upstream.Paths.Refresh = "/auth/token/refresh"
	}
	if c.Upstream.PageParam == "" {
		c.Upstream.PageParam = "page"
	}
	if c.Upstream.PageSizeParam == "" {
		c.Upstream.PageSizeParam = "page_size"
	}
	if c.Upstream.SortParam == "" {
		c.Upstream.SortParam = "ordering"
	}
	if c.Session.Driver == "" {
		c.Session.Driver = "memory"
	}
	if c.Session.TTL == "" {
		c.Session.TTL = "12h"
	}
	if c.Session.CookieName == "" {
		c.Session.CookieName = "sid"
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "consultadmin:"
	}
	if c.Postgres.MaxConns == 0 {
		c.Postgres.MaxConns = 4
	}
	if c.Rate.Login.Limit == 0 {
		c.Rate.Login.Limit = 10
	}
	if c.Rate.Login.Window == "" {
		c.Rate.Login.Window = "1m"
	}
	if c.Dashboard.CacheTTL == "" {
		c.Dashboard.CacheTTL = "30s"
	}
	if c.Dashboard.Concurrency == 0 {
		c.Dashboard.Concurrency = 4
	}
	if c.Dashboard.RPS == 0 {
		c.Dashboard.RPS = 20
	}
	if len(c.Dashboard.ConsultationStatuses) == 0 {
		c.Dashboard.ConsultationStatuses = []string{"pending", "confirmed", "completed", "cancelled"}
	}
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}

func getEnvFloat(key string) (float64, bool) {
	if s, ok := getEnvStr(key); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}

func getEnvCSV(key string) ([]string, bool) {
	s, ok := getEnvStr(key)
	if !ok {
		return nil, false
	}
	out := []string{}
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, true
}

// applyEnvOverrides: pisa el YAML con variables de entorno.
func (c *Config) applyEnvOverrides() {
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("APP_VERSION"); ok {
		c.App.Version = v
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = v
	}

	// SERVER
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvCSV("SERVER_CORS_ALLOWED_ORIGINS"); ok {
		c.Server.CORSAllowedOrigins = v
	}

	// UPSTREAM
	if v, ok := getEnvStr("UPSTREAM_BASE_URL"); ok {
		c.Upstream.BaseURL = v
	}
	if v, ok := getEnvStr("UPSTREAM_INTERNAL_API_KEY"); ok {
		c.Upstream.InternalAPIKey = v
	}
	if v, ok := getEnvStr("UPSTREAM_TIMEOUT"); ok {
		c.Upstream.Timeout = v
	}

	// SESSION
	if v, ok := getEnvStr("SESSION_DRIVER"); ok {
		c.Session.Driver = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := getEnvStr("SESSION_TTL"); ok {
		c.Session.TTL = v
	}
	if v, ok := getEnvStr("SESSION_COOKIE_NAME"); ok {
		c.Session.CookieName = v
	}
	if v, ok := getEnvStr("SESSION_COOKIE_DOMAIN"); ok {
		c.Session.CookieDomain = v
	}
	if v, ok := getEnvBool("SESSION_COOKIE_SECURE"); ok {
		c.Session.CookieSecure = v
	}
	if v, ok := getEnvStr("SESSION_FILE"); ok {
		c.Session.File = v
	}
	if v, ok := getEnvStr("SECRETBOX_MASTER_KEY"); ok {
		c.Session.MasterKey = v
	}

	// REDIS
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Redis.Addr = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Redis.DB = v
	}
	if v, ok := getEnvStr("REDIS_PASSWORD"); ok {
		c.Redis.Password = v
	}
	if v, ok := getEnvStr("REDIS_PREFIX"); ok {
		c.Redis.Prefix = v
	}

	// POSTGRES
	if v, ok := getEnvStr("POSTGRES_DSN"); ok {
		c.Postgres.DSN = v
	}
	if v, ok := getEnvInt("POSTGRES_MAX_CONNS"); ok {
		c.Postgres.MaxConns = v
	}

	// RATE
	if v, ok := getEnvBool("RATE_ENABLED"); ok {
		c.Rate.Enabled = v
	}
	if v, ok := getEnvInt("RATE_LOGIN_LIMIT"); ok {
		c.Rate.Login.Limit = v
	}
	if v, ok := getEnvStr("RATE_LOGIN_WINDOW"); ok {
		c.Rate.Login.Window = v
	}

	// DASHBOARD
	if v, ok := getEnvStr("DASHBOARD_CACHE_TTL"); ok {
		c.Dashboard.CacheTTL = v
	}
	if v, ok := getEnvInt("DASHBOARD_CONCURRENCY"); ok {
		c.Dashboard.Concurrency = v
	}
	if v, ok := getEnvFloat("DASHBOARD_RPS"); ok {
		c.Dashboard.RPS = v
	}
}

// Validate chequea drivers y strings de duración.
func (c *Config) Validate() error {
	for name, d := range map[string]string{
		"server.read_timeout":  c.Server.ReadTimeout,
		"server.write_timeout": c.Server.WriteTimeout,
		"upstream.timeout":     c.Upstream.Timeout,
		"session.ttl":          c.Session.TTL,
		"rate.login.window":    c.Rate.Login.Window,
		"dashboard.cache_ttl":  c.Dashboard.CacheTTL,
	} {
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	switch c.Session.Driver {
	case "memory":
	case "file":
		// FileStore guarda una única sesión: compartida entre navegadores.
		return errors.New("session.driver=file sólo lo usa backofficectl; el servidor requiere memory, redis o postgres")
	case "redis":
		if strings.TrimSpace(c.Redis.Addr) == "" {
			return errors.New("session.driver=redis requiere redis.addr")
		}
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			return errors.New("session.driver=postgres requiere postgres.dsn")
		}
	default:
		return fmt.Errorf("session.driver desconocido: %q", c.Session.Driver)
	}
	if c.Dashboard.Concurrency < 1 {
		return errors.New("dashboard.concurrency debe ser >= 1")
	}
	return nil
}

// Dur parsea una duración ya validada (0 si está vacía).
func Dur(s string) time.Duration {
	d, _ := time.ParseDuration(strings.TrimSpace(s))
	return d
}

// IsProd indica si corre en producción.
func (c *Config) IsProd() bool { return strings.EqualFold(c.App.Env, "prod") }
