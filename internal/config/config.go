package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/dropDatabas3/federation/internal/domain"
	"github.com/dropDatabas3/federation/internal/validation"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env     string `yaml:"app_env"`
		Name    string `yaml:"name"`
		BaseURL string `yaml:"base_url"`
	} `yaml:"app"`

	Server struct {
		Addr            string `yaml:"addr"`
		ReadTimeout     string `yaml:"read_timeout"`
		WriteTimeout    string `yaml:"write_timeout"`
		ShutdownTimeout string `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Storage struct {
		Driver   string `yaml:"driver"` // postgres | memory
		DSN      string `yaml:"dsn"`
		Postgres struct {
			MaxOpenConns    int    `yaml:"max_open_conns"`
			MaxIdleConns    int    `yaml:"max_idle_conns"`
			ConnMaxLifetime string `yaml:"conn_max_lifetime"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	Cache struct {
		Kind  string `yaml:"kind"` // memory | redis
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
		Memory struct {
			DefaultTTL string `yaml:"default_ttl"`
		} `yaml:"memory"`
	} `yaml:"cache"`

	Session struct {
		CookieName string `yaml:"cookie_name"`
		Domain     string `yaml:"domain"`
		SameSite   string `yaml:"samesite"`
		Secure     bool   `yaml:"secure"`
		TTL        string `yaml:"ttl"`
	} `yaml:"session"`

	Security struct {
		// LoginURL es adonde se redirige un GET no autenticado.
		LoginURL         string `yaml:"login_url"`
		UserInfoCacheTTL string `yaml:"user_info_cache_ttl"`
		LockTTL          string `yaml:"lock_ttl"`
		UpstreamTimeout  string `yaml:"upstream_timeout"`
		CodeTTL          string `yaml:"code_ttl"`
	} `yaml:"security"`

	JWT struct {
		Issuer     string `yaml:"issuer"`
		SigningKey string `yaml:"signing_key"`
		AccessTTL  string `yaml:"access_ttl"`
		RefreshTTL string `yaml:"refresh_ttl"`
	} `yaml:"jwt"`

	// OAuthClients: clientes del servidor de autorización interno, por client_id.
	OAuthClients        map[string]OAuthClient `yaml:"oauth_clients"`
	DefaultRedirectURIs []string               `yaml:"default_redirect_uris"`

	// ThirdPartyLogins: proveedores externos, por nombre.
	ThirdPartyLogins map[string]ThirdPartyLogin `yaml:"third_party_logins"`

	Logout struct {
		DefaultRedirectURI      string   `yaml:"default_redirect_uri"`
		RedirectURIParamName    string   `yaml:"redirect_uri_param_name"`
		InternalLogoutURI       string   `yaml:"internal_logout_uri"`
		AllowedRedirectPrefixes []string `yaml:"allowed_redirect_prefixes"`
	} `yaml:"logout"`

	Rate struct {
		Enabled bool `yaml:"enabled"`
		Login   struct {
			Limit  int    `yaml:"limit"`
			Window string `yaml:"window"`
		} `yaml:"login"`
	} `yaml:"rate"`

	SMTP struct {
		Host               string `yaml:"host"`
		Port               int    `yaml:"port"`
		Username           string `yaml:"username"`
		Password           string `yaml:"password"`
		From               string `yaml:"from"`
		TLS                string `yaml:"tls"`                  // auto | starttls | ssl | none
		InsecureSkipVerify bool   `yaml:"insecure_skip_verify"` // sólo dev
	} `yaml:"smtp"`
}

// OAuthClient es un cliente registrado en el servidor de autorización interno.
type OAuthClient struct {
	// Secret en claro, o SecretBcrypt con el hash. Uno de los dos.
	Secret                 string   `yaml:"secret"`
	SecretBcrypt           string   `yaml:"secret_bcrypt"`
	Scopes                 []string `yaml:"scopes"`
	Authorities            []string `yaml:"authorities"`
	RedirectURIs           []string `yaml:"redirect_uris"`
	TokenValiditySeconds   int      `yaml:"token_validity_seconds"`
	RefreshValiditySeconds int      `yaml:"refresh_validity_seconds"`
}

// ThirdPartyLogin describe un proveedor OAuth2 externo.
type ThirdPartyLogin struct {
	LoginPath          string `yaml:"login_path"`
	PrincipalExtractor string `yaml:"principal_extractor"`
	Client             struct {
		ClientID             string   `yaml:"client_id"`
		ClientSecret         string   `yaml:"client_secret"`
		AccessTokenURI       string   `yaml:"access_token_uri"`
		UserAuthorizationURI string   `yaml:"user_authorization_uri"`
		RedirectURI          string   `yaml:"redirect_uri"`
		Scopes               []string `yaml:"scopes"`
	} `yaml:"client"`
	Resource struct {
		UserInfoURI string `yaml:"user_info_uri"`
		MediaURI    string `yaml:"media_uri"`
	} `yaml:"resource"`
}

// envOverrides: variables de entorno que pisan el YAML. Nil = no seteada.
type envOverrides struct {
	AppEnv         *string `env:"APP_ENV"`
	AppBaseURL     *string `env:"APP_BASE_URL"`
	ServerAddr     *string `env:"SERVER_ADDR"`
	LogLevel       *string `env:"LOG_LEVEL"`
	StorageDriver  *string `env:"STORAGE_DRIVER"`
	StorageDSN     *string `env:"STORAGE_DSN"`
	CacheKind      *string `env:"CACHE_KIND"`
	RedisAddr      *string `env:"REDIS_ADDR"`
	RedisPassword  *string `env:"REDIS_PASSWORD"`
	RedisDB        *int    `env:"REDIS_DB"`
	SessionSecure  *bool   `env:"SESSION_SECURE"`
	JWTIssuer      *string `env:"JWT_ISSUER"`
	JWTSigningKey  *string `env:"JWT_SIGNING_KEY"`
	SMTPHost       *string `env:"SMTP_HOST"`
	SMTPPort       *int    `env:"SMTP_PORT"`
	SMTPUsername   *string `env:"SMTP_USERNAME"`
	SMTPPassword   *string `env:"SMTP_PASSWORD"`
	SMTPFrom       *string `env:"SMTP_FROM"`
	RateEnabled    *bool   `env:"RATE_ENABLED"`
	InternalLogout *string `env:"LOGOUT_INTERNAL_LOGOUT_URI"`
}

// Load lee el YAML (con ${VAR} expandidas), aplica defaults y overrides de entorno.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse([]byte(os.ExpandEnv(string(b))))
}

// Parse es Load sin el archivo. Útil en tests.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("config: yaml: %w", err)
	}
	if err := c.applyEnvOverrides(); err != nil {
		return nil, err
	}
	c.applyDefaults()

	// validate string durations
	for name, v := range map[string]string{
		"server.read_timeout":                c.Server.ReadTimeout,
		"server.write_timeout":               c.Server.WriteTimeout,
		"server.shutdown_timeout":            c.Server.ShutdownTimeout,
		"storage.postgres.conn_max_lifetime": c.Storage.Postgres.ConnMaxLifetime,
		"cache.memory.default_ttl":           c.Cache.Memory.DefaultTTL,
		"session.ttl":                        c.Session.TTL,
		"security.user_info_cache_ttl":       c.Security.UserInfoCacheTTL,
		"security.lock_ttl":                  c.Security.LockTTL,
		"security.upstream_timeout":          c.Security.UpstreamTimeout,
		"security.code_ttl":                  c.Security.CodeTTL,
		"jwt.access_ttl":                     c.JWT.AccessTTL,
		"jwt.refresh_ttl":                    c.JWT.RefreshTTL,
		"rate.login.window":                  c.Rate.Login.Window,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", domain.ErrConfiguration, name, err)
		}
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	c.App.Env = strings.ToLower(strings.TrimSpace(c.App.Env))
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.Name == "" {
		c.App.Name = "federation"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	setDefault(&c.Server.ReadTimeout, "15s")
	setDefault(&c.Server.WriteTimeout, "30s")
	setDefault(&c.Server.ShutdownTimeout, "10s")
	setDefault(&c.Log.Level, "info")
	setDefault(&c.Storage.Driver, "postgres")
	if c.Storage.Postgres.MaxOpenConns == 0 {
		c.Storage.Postgres.MaxOpenConns = 20
	}
	if c.Storage.Postgres.MaxIdleConns == 0 {
		c.Storage.Postgres.MaxIdleConns = 5
	}
	setDefault(&c.Cache.Kind, "memory")
	setDefault(&c.Cache.Memory.DefaultTTL, "2m")
	setDefault(&c.Cache.Redis.Prefix, "federation")
	setDefault(&c.Session.CookieName, "FEDSESSION")
	setDefault(&c.Session.SameSite, "Lax")
	setDefault(&c.Session.TTL, "12h")
	setDefault(&c.Security.LoginURL, "/login")
	setDefault(&c.Security.UserInfoCacheTTL, "10s")
	setDefault(&c.Security.LockTTL, "30s")
	setDefault(&c.Security.UpstreamTimeout, "10s")
	setDefault(&c.Security.CodeTTL, "60s")
	setDefault(&c.JWT.AccessTTL, "30m")
	setDefault(&c.JWT.RefreshTTL, "720h")
	if c.JWT.Issuer == "" {
		c.JWT.Issuer = strings.TrimRight(c.App.BaseURL, "/")
	}
	setDefault(&c.Logout.DefaultRedirectURI, "/")
	setDefault(&c.Logout.RedirectURIParamName, "redirect_uri")
	if c.Rate.Login.Limit == 0 {
		c.Rate.Login.Limit = 10
	}
	setDefault(&c.Rate.Login.Window, "1m")
	setDefault(&c.SMTP.TLS, "auto")

	for id, oc := range c.OAuthClients {
		if len(oc.Scopes) == 0 {
			oc.Scopes = []string{"openid", "read", "write"}
		}
		if oc.TokenValiditySeconds == 0 {
			oc.TokenValiditySeconds = 1800
		}
		if len(oc.RedirectURIs) == 0 {
			oc.RedirectURIs = append([]string(nil), c.DefaultRedirectURIs...)
		}
		c.OAuthClients[id] = oc
	}
	for name, tp := range c.ThirdPartyLogins {
		if tp.PrincipalExtractor == "" {
			tp.PrincipalExtractor = string(domain.ProviderInternal)
		}
		if tp.LoginPath == "" {
			tp.LoginPath = "/login/" + strings.ToLower(name)
		}
		if tp.Client.RedirectURI == "" && c.App.BaseURL != "" {
			tp.Client.RedirectURI = strings.TrimRight(c.App.BaseURL, "/") + tp.LoginPath
		}
		c.ThirdPartyLogins[name] = tp
	}
}

// applyEnvOverrides pisa el YAML con variables de entorno.
func (c *Config) applyEnvOverrides() error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("config: parse env: %w", err)
	}
	override(&c.App.Env, o.AppEnv)
	override(&c.App.BaseURL, o.AppBaseURL)
	override(&c.Server.Addr, o.ServerAddr)
	override(&c.Log.Level, o.LogLevel)
	override(&c.Storage.Driver, o.StorageDriver)
	override(&c.Storage.DSN, o.StorageDSN)
	override(&c.Cache.Kind, o.CacheKind)
	override(&c.Cache.Redis.Addr, o.RedisAddr)
	override(&c.Cache.Redis.Password, o.RedisPassword)
	override(&c.Cache.Redis.DB, o.RedisDB)
	override(&c.Session.Secure, o.SessionSecure)
	override(&c.JWT.Issuer, o.JWTIssuer)
	override(&c.JWT.SigningKey, o.JWTSigningKey)
	override(&c.SMTP.Host, o.SMTPHost)
	override(&c.SMTP.Port, o.SMTPPort)
	override(&c.SMTP.Username, o.SMTPUsername)
	override(&c.SMTP.Password, o.SMTPPassword)
	override(&c.SMTP.From, o.SMTPFrom)
	override(&c.Rate.Enabled, o.RateEnabled)
	override(&c.Logout.InternalLogoutURI, o.InternalLogout)
	return nil
}

// Validate verifica lo necesario para arrancar. Errores envuelven domain.ErrConfiguration.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			return configErr("storage.dsn is required for driver postgres")
		}
	default:
		return configErr("storage.driver %q not supported", c.Storage.Driver)
	}
	switch c.Cache.Kind {
	case "memory":
	case "redis":
		if c.Cache.Redis.Addr == "" {
			return configErr("cache.redis.addr is required for kind redis")
		}
	default:
		return configErr("cache.kind %q not supported", c.Cache.Kind)
	}

	if c.JWT.SigningKey == "" {
		return configErr("jwt.signing_key is required")
	}
	if c.App.Env == "prod" && len(c.JWT.SigningKey) < 32 {
		return configErr("jwt.signing_key must have at least 32 bytes in prod")
	}

	paths := map[string]string{}
	for _, name := range c.ThirdPartyLoginNames() {
		tp := c.ThirdPartyLogins[name]
		if _, err := domain.ParseProvider(tp.PrincipalExtractor); err != nil {
			return fmt.Errorf("third_party_logins.%s.principal_extractor: %w", name, err)
		}
		if tp.Client.ClientID == "" {
			return configErr("third_party_logins.%s.client.client_id is required", name)
		}
		if tp.Client.AccessTokenURI == "" || tp.Client.UserAuthorizationURI == "" {
			return configErr("third_party_logins.%s.client token and authorization uris are required", name)
		}
		if tp.Resource.UserInfoURI == "" {
			return configErr("third_party_logins.%s.resource.user_info_uri is required", name)
		}
		if !strings.HasPrefix(tp.LoginPath, "/") {
			return configErr("third_party_logins.%s.login_path must start with /", name)
		}
		if other, dup := paths[tp.LoginPath]; dup {
			return configErr("third_party_logins %s and %s share login_path %s", other, name, tp.LoginPath)
		}
		paths[tp.LoginPath] = name
	}

	for id, oc := range c.OAuthClients {
		if oc.Secret == "" && oc.SecretBcrypt == "" {
			return configErr("oauth_clients.%s needs secret or secret_bcrypt", id)
		}
		if err := validation.ValidateScopes(oc.Scopes); err != nil {
			return configErr("oauth_clients.%s: %v", id, err)
		}
	}
	return nil
}

// ThirdPartyLoginNames devuelve los nombres ordenados.
func (c *Config) ThirdPartyLoginNames() []string {
	names := make([]string, 0, len(c.ThirdPartyLogins))
	for n := range c.ThirdPartyLogins {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Dur parsea una duración ya validada; vacío o inválido devuelve def.
func Dur(s string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil && d > 0 {
		return d
	}
	return def
}

func setDefault(dst *string, v string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = v
	}
}

func override[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func configErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrConfiguration, fmt.Sprintf(format, args...))
}
