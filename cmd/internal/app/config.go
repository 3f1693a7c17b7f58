package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	authapi "assist/cmd/internal/auth/api"
	"assist/cmd/security/password"
	"assist/cmd/security/token"
)

// Config holds runtime configuration. Every key is read from the environment (prefix ASSIST_)
// and, when present, from a dotenv file named by ASSIST_CONFIG_FILE (default ".env").
type Config struct {
	HTTPAddr string `mapstructure:"ASSIST_HTTP_ADDR"`
	LogLevel string `mapstructure:"ASSIST_LOG_LEVEL"`

	ReadHeaderTimeout time.Duration `mapstructure:"ASSIST_HTTP_READ_HEADER_TIMEOUT"`
	ReadTimeout       time.Duration `mapstructure:"ASSIST_HTTP_READ_TIMEOUT"`
	WriteTimeout      time.Duration `mapstructure:"ASSIST_HTTP_WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `mapstructure:"ASSIST_HTTP_IDLE_TIMEOUT"`
	ShutdownTimeout   time.Duration `mapstructure:"ASSIST_HTTP_SHUTDOWN_TIMEOUT"`
	MaxHeaderBytes    int           `mapstructure:"ASSIST_HTTP_MAX_HEADER_BYTES"`
	TrustProxy        bool          `mapstructure:"ASSIST_TRUST_PROXY"`

	// DatabaseURL empty selects the in-memory credential store.
	DatabaseURL        string `mapstructure:"ASSIST_DATABASE_URL"`
	DBMaxConns         int32  `mapstructure:"ASSIST_DB_MAX_CONNS"`
	DBMinConns         int32  `mapstructure:"ASSIST_DB_MIN_CONNS"`
	DBSchema           string `mapstructure:"ASSIST_DB_SCHEMA"`
	DBBootstrap        bool   `mapstructure:"ASSIST_DB_BOOTSTRAP"`
	ReadinessRequireDB bool   `mapstructure:"ASSIST_READINESS_REQUIRE_DB"`

	// RedisURL empty disables the audit stream.
	RedisURL          string `mapstructure:"ASSIST_REDIS_URL"`
	AuditStream       string `mapstructure:"ASSIST_AUDIT_STREAM"`
	AuditStreamMaxLen int64  `mapstructure:"ASSIST_AUDIT_STREAM_MAXLEN"`
	AuditQueueSize    int    `mapstructure:"ASSIST_AUDIT_QUEUE_SIZE"`

	TokenSecret string        `mapstructure:"ASSIST_TOKEN_SECRET"`
	TokenFormat string        `mapstructure:"ASSIST_TOKEN_FORMAT"`
	TokenTTL    time.Duration `mapstructure:"ASSIST_TOKEN_TTL"`
	TokenIssuer string        `mapstructure:"ASSIST_TOKEN_ISSUER"`

	CookieName     string `mapstructure:"ASSIST_COOKIE_NAME"`
	CookieDomain   string `mapstructure:"ASSIST_COOKIE_DOMAIN"`
	CookieSecure   bool   `mapstructure:"ASSIST_COOKIE_SECURE"`
	CookieSameSite string `mapstructure:"ASSIST_COOKIE_SAMESITE"`

	PasswordAlgorithm  string `mapstructure:"ASSIST_PASSWORD_ALGORITHM"`
	PasswordMinLength  int    `mapstructure:"ASSIST_PASSWORD_MIN_LENGTH"`
	PasswordMaxLength  int    `mapstructure:"ASSIST_PASSWORD_MAX_LENGTH"`
	PasswordRejectWeak bool   `mapstructure:"ASSIST_PASSWORD_REJECT_WEAK"`
	Argon2MemoryKiB    uint32 `mapstructure:"ASSIST_ARGON2_MEMORY_KIB"`
	Argon2Iterations   uint32 `mapstructure:"ASSIST_ARGON2_ITERATIONS"`
	Argon2Parallelism  uint8  `mapstructure:"ASSIST_ARGON2_PARALLELISM"`
	BcryptCost         int    `mapstructure:"ASSIST_BCRYPT_COST"`

	// ProfileCacheTTL zero disables the identity cache.
	ProfileCacheTTL time.Duration `mapstructure:"ASSIST_PROFILE_CACHE_TTL"`

	WSOriginPatterns []string      `mapstructure:"ASSIST_WS_ORIGIN_PATTERNS"`
	WSSweepInterval  time.Duration `mapstructure:"ASSIST_WS_SWEEP_INTERVAL"`
	WSSendQueue      int           `mapstructure:"ASSIST_WS_SEND_QUEUE"`
	WSWriteTimeout   time.Duration `mapstructure:"ASSIST_WS_WRITE_TIMEOUT"`
}

func setDefaults(v *viper.Viper) {
	pw := password.DefaultConfig()

	v.SetDefault("ASSIST_HTTP_ADDR", "0.0.0.0:8080")
	v.SetDefault("ASSIST_LOG_LEVEL", "info")
	v.SetDefault("ASSIST_HTTP_READ_HEADER_TIMEOUT", "5s")
	v.SetDefault("ASSIST_HTTP_READ_TIMEOUT", "15s")
	v.SetDefault("ASSIST_HTTP_WRITE_TIMEOUT", "15s")
	v.SetDefault("ASSIST_HTTP_IDLE_TIMEOUT", "60s")
	v.SetDefault("ASSIST_HTTP_SHUTDOWN_TIMEOUT", "10s")
	v.SetDefault("ASSIST_HTTP_MAX_HEADER_BYTES", 1<<20)
	v.SetDefault("ASSIST_TRUST_PROXY", false)

	v.SetDefault("ASSIST_DATABASE_URL", "")
	v.SetDefault("ASSIST_DB_MAX_CONNS", 10)
	v.SetDefault("ASSIST_DB_MIN_CONNS", 0)
	v.SetDefault("ASSIST_DB_SCHEMA", "assist")
	v.SetDefault("ASSIST_DB_BOOTSTRAP", true)
	v.SetDefault("ASSIST_READINESS_REQUIRE_DB", false)

	v.SetDefault("ASSIST_REDIS_URL", "")
	v.SetDefault("ASSIST_AUDIT_STREAM", "assist:audit")
	v.SetDefault("ASSIST_AUDIT_STREAM_MAXLEN", 100000)
	v.SetDefault("ASSIST_AUDIT_QUEUE_SIZE", 1024)

	v.SetDefault("ASSIST_TOKEN_SECRET", "")
	v.SetDefault("ASSIST_TOKEN_FORMAT", string(token.FormatJWT))
	v.SetDefault("ASSIST_TOKEN_TTL", "24h")
	v.SetDefault("ASSIST_TOKEN_ISSUER", "assist")

	v.SetDefault("ASSIST_COOKIE_NAME", "assist_session")
	v.SetDefault("ASSIST_COOKIE_DOMAIN", "")
	v.SetDefault("ASSIST_COOKIE_SECURE", true)
	v.SetDefault("ASSIST_COOKIE_SAMESITE", "strict")

	v.SetDefault("ASSIST_PASSWORD_ALGORITHM", string(pw.Algorithm))
	v.SetDefault("ASSIST_PASSWORD_MIN_LENGTH", pw.Policy.MinLength)
	v.SetDefault("ASSIST_PASSWORD_MAX_LENGTH", pw.Policy.MaxLength)
	v.SetDefault("ASSIST_PASSWORD_REJECT_WEAK", false)
	v.SetDefault("ASSIST_ARGON2_MEMORY_KIB", pw.Params.MemoryKiB)
	v.SetDefault("ASSIST_ARGON2_ITERATIONS", pw.Params.Iterations)
	v.SetDefault("ASSIST_ARGON2_PARALLELISM", pw.Params.Parallelism)
	v.SetDefault("ASSIST_BCRYPT_COST", pw.BcryptCost)

	v.SetDefault("ASSIST_PROFILE_CACHE_TTL", "30s")

	v.SetDefault("ASSIST_WS_ORIGIN_PATTERNS", "")
	v.SetDefault("ASSIST_WS_SWEEP_INTERVAL", "30s")
	v.SetDefault("ASSIST_WS_SEND_QUEUE", 64)
	v.SetDefault("ASSIST_WS_WRITE_TIMEOUT", "5s")
}

// LoadConfig reads the dotenv file (if any), applies environment overrides and validates.
// A missing default ".env" is ignored; a missing file named explicitly is an error.
func LoadConfig() (Config, error) {
	v := viper.New()

	file := strings.TrimSpace(os.Getenv("ASSIST_CONFIG_FILE"))
	explicit := file != ""
	if !explicit {
		file = ".env"
	}
	v.SetConfigFile(file)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil && explicit {
		return Config{}, fmt.Errorf("config: read %s: %w", file, err)
	}

	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.WSOriginPatterns = splitCSV(cfg.WSOriginPatterns)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate fails fast on settings the server cannot run with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return errors.New("config: ASSIST_HTTP_ADDR must be set")
	}
	if len(c.TokenSecret) < token.MinSecretBytes {
		return fmt.Errorf("config: ASSIST_TOKEN_SECRET must be at least %d bytes", token.MinSecretBytes)
	}
	switch token.Format(strings.ToLower(c.TokenFormat)) {
	case token.FormatJWT, token.FormatPaseto:
	default:
		return fmt.Errorf("config: ASSIST_TOKEN_FORMAT %q is not jwt or paseto", c.TokenFormat)
	}
	if c.TokenTTL <= 0 {
		return errors.New("config: ASSIST_TOKEN_TTL must be positive")
	}
	if c.WSSweepInterval <= 0 {
		return errors.New("config: ASSIST_WS_SWEEP_INTERVAL must be positive")
	}
	if c.DBMinConns > c.DBMaxConns {
		return errors.New("config: ASSIST_DB_MIN_CONNS exceeds ASSIST_DB_MAX_CONNS")
	}
	if err := c.Password().Check(); err != nil {
		return fmt.Errorf("config: password: %w", err)
	}
	return nil
}

// Token returns the token codec settings.
func (c Config) Token() token.Config {
	return token.Config{
		Format: token.Format(strings.ToLower(c.TokenFormat)),
		Secret: []byte(c.TokenSecret),
		TTL:    c.TokenTTL,
		Issuer: c.TokenIssuer,
	}
}

// Password returns the hasher settings layered over the package defaults.
func (c Config) Password() password.Config {
	p := password.DefaultConfig()
	p.Algorithm = password.Algorithm(strings.ToLower(c.PasswordAlgorithm))
	p.Params.MemoryKiB = c.Argon2MemoryKiB
	p.Params.Iterations = c.Argon2Iterations
	p.Params.Parallelism = c.Argon2Parallelism
	p.BcryptCost = c.BcryptCost
	p.Policy = password.Policy{
		MinLength:      c.PasswordMinLength,
		MaxLength:      c.PasswordMaxLength,
		RejectVeryWeak: c.PasswordRejectWeak,
	}
	return p
}

// AuthAPI returns the session cookie transport settings.
func (c Config) AuthAPI() authapi.Config {
	a := authapi.DefaultConfig()
	a.CookieName = c.CookieName
	a.CookieDomain = c.CookieDomain
	a.CookieSecure = c.CookieSecure
	a.CookieSameSite = authapi.ParseSameSite(c.CookieSameSite)
	return a
}

// splitCSV flattens entries that still hold commas (a single env value) into trimmed items.
func splitCSV(in []string) []string {
	var out []string
	for _, item := range in {
		for _, p := range strings.Split(item, ",") {
			if s := strings.TrimSpace(p); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
