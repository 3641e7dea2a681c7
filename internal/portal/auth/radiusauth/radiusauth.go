// Package radiusauth validates credentials with a RADIUS
// Access-Request/Accept exchange.
package radiusauth

import (
	"context"
	"time"

	"github.com/altivon/vpn-portal/internal/portal/auth"
	"github.com/altivon/vpn-portal/internal/portal/config"
	"github.com/altivon/vpn-portal/internal/shared/errors"
	"github.com/altivon/vpn-portal/internal/shared/logger"
	"layeh.com/radius"
	"layeh.com/radius/rfc2865"
)

// ExchangeFunc performs one RADIUS round trip; it exists so tests can
// substitute a fake server.
type ExchangeFunc func(ctx context.Context, packet *radius.Packet, addr string) (*radius.Packet, error)

// Validator validates against one or more RADIUS servers, tried in order
// until one answers.
type Validator struct {
	cfg      config.RADIUSAuthConfig
	exchange ExchangeFunc
	logger   *logger.Logger
}

// NewValidator creates a RADIUS credential validator.
func NewValidator(cfg config.RADIUSAuthConfig, log *logger.Logger) *Validator {
	if log == nil {
		log = logger.NewDevelopment("radiusauth")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Validator{
		cfg:      cfg,
		exchange: radius.Exchange,
		logger:   log,
	}
}

// ValidateCredentials sends an Access-Request carrying the username (realm
// suffixed when configured) and password. Anything other than an
// Access-Accept, including transport errors on every server, fails closed.
func (v *Validator) ValidateCredentials(ctx context.Context, username, secret string) (*auth.Identity, error) {
	wireUsername := username
	if v.cfg.Realm != "" {
		wireUsername = username + "@" + v.cfg.Realm
	}

	for _, server := range v.cfg.Servers {
		packet := radius.New(radius.CodeAccessRequest, []byte(server.Secret))
		if err := rfc2865.UserName_SetString(packet, wireUsername); err != nil {
			return nil, invalidCredentials(err)
		}
		if err := rfc2865.UserPassword_SetString(packet, secret); err != nil {
			return nil, invalidCredentials(err)
		}
		if v.cfg.NASIdentifier != "" {
			if err := rfc2865.NASIdentifier_SetString(packet, v.cfg.NASIdentifier); err != nil {
				return nil, invalidCredentials(err)
			}
		}

		exchangeCtx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
		response, err := v.exchange(exchangeCtx, packet, server.Addr)
		cancel()
		if err != nil {
			// Try the next server; an unreachable server must not leak
			// as anything other than invalid credentials in the end.
			v.logger.WarnContext(ctx, "radius exchange failed", "server", server.Addr, "error", err)
			continue
		}

		if response.Code == radius.CodeAccessAccept {
			return &auth.Identity{UserID: username}, nil
		}
		return nil, invalidCredentials(nil)
	}

	return nil, invalidCredentials(nil)
}

func invalidCredentials(cause error) error {
	return errors.NewAuthError(errors.ErrCodeAuthFailed, "invalid credentials", cause)
}
