package portal

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/bankportal/pkg/bankapi"
	"golang.org/x/text/language"
)

const (
	defaultListenAddr        = ":8080"
	defaultCredentialStore   = "memory://"
	defaultAllowedOrigin     = "http://localhost:3000"
	defaultSessionIssuer     = "bankportal"
	defaultSessionCookie     = "bankportal_session"
	defaultSessionTTL        = 24 * time.Hour
	defaultAPITimeout        = 10 * time.Second
	defaultLocale            = "pl-PL"
	minimumSigningKeyLength  = 32
	sessionCredentialKeyBase = "token:"
)

// Config aggregates runtime settings for the portal.
type Config struct {
	ListenAddr         string
	APIBaseURL         string
	APITimeout         time.Duration
	CredentialStoreURL string
	CredentialTTL      time.Duration
	AllowedOrigins     []string
	SessionSigningKey  string
	SessionIssuer      string
	SessionCookieName  string
	SessionTTL         time.Duration
	SecureCookies      bool
	Locale             string
}

// Validate fills defaults and rejects unusable values.
func (cfg *Config) Validate() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	cfg.APIBaseURL = strings.TrimRight(defaultIfEmpty(cfg.APIBaseURL, bankapi.DefaultBaseURL), "/")
	cfg.CredentialStoreURL = defaultIfEmpty(cfg.CredentialStoreURL, defaultCredentialStore)
	if cfg.APITimeout <= 0 {
		cfg.APITimeout = defaultAPITimeout
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	cfg.SessionIssuer = defaultIfEmpty(cfg.SessionIssuer, defaultSessionIssuer)
	cfg.SessionCookieName = defaultIfEmpty(cfg.SessionCookieName, defaultSessionCookie)
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	cfg.Locale = defaultIfEmpty(cfg.Locale, defaultLocale)

	parsed, err := url.Parse(cfg.APIBaseURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("api base url %q must be an absolute http(s) url", cfg.APIBaseURL)
	}
	if len(cfg.SessionSigningKey) < minimumSigningKeyLength {
		return fmt.Errorf("session signing key must be at least %d bytes", minimumSigningKeyLength)
	}
	if _, err := language.Parse(cfg.Locale); err != nil {
		return fmt.Errorf("locale %q: %w", cfg.Locale, err)
	}
	if cfg.CredentialTTL < 0 {
		return fmt.Errorf("credential ttl must not be negative")
	}
	return nil
}

func (cfg Config) languageTag() language.Tag {
	tag, err := language.Parse(cfg.Locale)
	if err != nil {
		return language.Polish
	}
	return tag
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
