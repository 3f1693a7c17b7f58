package authapi

import (
	"net/http"
	"strings"
)

// Config controls auth API transport behavior.
type Config struct {
	MaxBodyBytes int64

	CookieName     string
	CookiePath     string
	CookieDomain   string
	CookieSecure   bool
	CookieSameSite http.SameSite
}

// DefaultConfig returns secure defaults: httpOnly, Secure, SameSite=Strict session cookie.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:   1 << 20, // 1 MiB
		CookieName:     "assist_session",
		CookiePath:     "/",
		CookieSecure:   true,
		CookieSameSite: http.SameSiteStrictMode,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = d.MaxBodyBytes
	}
	if strings.TrimSpace(c.CookieName) == "" {
		c.CookieName = d.CookieName
	}
	if strings.TrimSpace(c.CookiePath) == "" {
		c.CookiePath = d.CookiePath
	}
	if c.CookieSameSite == 0 {
		c.CookieSameSite = d.CookieSameSite
	}
	return c
}

// ParseSameSite maps a config string onto http.SameSite (default Strict).
func ParseSameSite(s string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteStrictMode
	}
}
