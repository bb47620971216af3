package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// RefreshMargin is how long before expiry a token stops being usable.
const RefreshMargin = 60 * time.Second

var (
	ErrMalformedToken     = errors.New("auth: malformed token")
	ErrNoUsableCredential = errors.New("auth: no usable credential")
)

// Credential is a bearer token together with its decoded expiry.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// ParseCredential reads the exp claim from the payload segment of a
// three-segment token. Neither the header nor the signature is checked; the
// server does that on connect.
func ParseCredential(token string) (Credential, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Credential{}, fmt.Errorf("%w: empty token", ErrMalformedToken)
	}

	segments := strings.Split(token, ".")
	if len(segments) != 3 {
		return Credential{}, fmt.Errorf("%w: expected 3 segments, got %d", ErrMalformedToken, len(segments))
	}
	payload, err := jwt.NewParser().DecodeSegment(segments[1])
	if err != nil {
		return Credential{}, fmt.Errorf("%w: decode payload: %v", ErrMalformedToken, err)
	}
	claims := jwt.MapClaims{}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return Credential{}, fmt.Errorf("%w: decode claims: %v", ErrMalformedToken, err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if exp == nil {
		return Credential{}, fmt.Errorf("%w: missing exp claim", ErrMalformedToken)
	}

	return Credential{Token: token, ExpiresAt: exp.Time}, nil
}

// UsableAt reports whether the credential is still valid RefreshMargin after now.
func (c Credential) UsableAt(now time.Time) bool {
	if c.Token == "" || c.ExpiresAt.IsZero() {
		return false
	}
	return now.Add(RefreshMargin).Before(c.ExpiresAt)
}

// IsUsable parses token and checks it against now. Malformed tokens are never usable.
func IsUsable(token string, now time.Time) bool {
	cred, err := ParseCredential(token)
	if err != nil {
		return false
	}
	return cred.UsableAt(now)
}

// TokenSource supplies the current bearer token, if any.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenSourceFunc adapts a function to TokenSource.
type TokenSourceFunc func(ctx context.Context) (string, error)

func (f TokenSourceFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// StaticToken always returns the same token.
func StaticToken(token string) TokenSource {
	return TokenSourceFunc(func(context.Context) (string, error) {
		return token, nil
	})
}

// Refresher obtains a brand new token from the auth endpoint.
type Refresher interface {
	RefreshToken(ctx context.Context) (string, error)
}

// Provider hands out usable credentials. Nothing is cached: every call consults
// the source and, when that yields nothing usable, performs exactly one refresh.
type Provider struct {
	source    TokenSource
	refresher Refresher
	clock     clockwork.Clock
}

// NewProvider creates a provider. source and refresher may be nil; clock
// defaults to the real clock.
func NewProvider(source TokenSource, refresher Refresher, clock clockwork.Clock) *Provider {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Provider{
		source:    source,
		refresher: refresher,
		clock:     clock,
	}
}

// Credential returns a credential usable right now or an error wrapping
// ErrNoUsableCredential.
func (p *Provider) Credential(ctx context.Context) (Credential, error) {
	if p.source != nil {
		token, err := p.source.Token(ctx)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("token source failed")
		case strings.TrimSpace(token) != "":
			cred, err := ParseCredential(token)
			if err == nil && cred.UsableAt(p.clock.Now()) {
				return cred, nil
			}
			log.Debug().Err(err).Time("expires_at", cred.ExpiresAt).Msg("current token not usable")
		}
	}

	if p.refresher == nil {
		return Credential{}, fmt.Errorf("%w: no token and no refresh endpoint", ErrNoUsableCredential)
	}

	log.Info().Msg("refreshing bearer token")
	token, err := p.refresher.RefreshToken(ctx)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrNoUsableCredential, err)
	}
	cred, err := ParseCredential(token)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: refreshed token: %v", ErrNoUsableCredential, err)
	}
	if !cred.UsableAt(p.clock.Now()) {
		return Credential{}, fmt.Errorf("%w: refreshed token expires at %s", ErrNoUsableCredential, cred.ExpiresAt.Format(time.RFC3339))
	}
	return cred, nil
}
