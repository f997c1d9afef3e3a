package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/packline-labs/packline-go/internal/platform/env"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeOIDC Mode = "oidc"
)

type Config struct {
	Mode Mode

	DevSubject string
	DevEmail   string
	DevRoles   []string

	OIDCIssuerURL    string
	OIDCClientID     string
	OIDCClientSecret string

	EmailClaim string
	RolesClaim string
}

func ConfigFromEnv() (Config, error) {
	cfg := Config{
		Mode:             Mode(strings.ToLower(strings.TrimSpace(env.String("AUTH_MODE", string(ModeDev))))),
		DevSubject:       env.String("DEV_AUTH_SUBJECT", "dev"),
		DevEmail:         env.String("DEV_AUTH_EMAIL", "dev@packline.local"),
		DevRoles:         splitList(env.String("DEV_AUTH_ROLES", RoleAdmin)),
		OIDCIssuerURL:    env.String("OIDC_ISSUER_URL", ""),
		OIDCClientID:     env.String("OIDC_CLIENT_ID", ""),
		OIDCClientSecret: env.String("OIDC_CLIENT_SECRET", ""),
		EmailClaim:       env.String("OIDC_EMAIL_CLAIM", "email"),
		RolesClaim:       env.String("OIDC_ROLES_CLAIM", "roles"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeDev:
		if strings.TrimSpace(c.DevSubject) == "" {
			return errors.New("DEV_AUTH_SUBJECT is required in dev mode")
		}
	case ModeOIDC:
		if strings.TrimSpace(c.OIDCIssuerURL) == "" {
			return errors.New("OIDC_ISSUER_URL is required in oidc mode")
		}
		if strings.TrimSpace(c.OIDCClientID) == "" {
			return errors.New("OIDC_CLIENT_ID is required in oidc mode")
		}
	default:
		return fmt.Errorf("unknown auth mode %q", c.Mode)
	}
	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
