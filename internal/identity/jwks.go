package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
)

const issuerPrefix = "https://securetoken.google.com/"

type providerClaims struct {
	jwt.RegisteredClaims
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// JWKSVerifier checks provider ID tokens against a rotating JWK set.
// It cannot see provider-side revocation.
type JWKSVerifier struct {
	keyfunc  jwt.Keyfunc
	issuer   string
	audience string
	now      func() time.Time
	jwks     *keyfunc.JWKS
}

// NewJWKSVerifier fetches the key set once and refreshes it in the
// background until ctx is done.
func NewJWKSVerifier(ctx context.Context, jwksURL, project string) (*JWKSVerifier, error) {
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		Ctx: ctx,
		RefreshErrorHandler: func(err error) {
			slog.Default().Warn("jwks_refresh_failed", "error", err)
		},
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  5 * time.Minute,
		RefreshTimeout:    10 * time.Second,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, fmt.Errorf("load jwks: %w", err)
	}
	v := NewVerifier(jwks.Keyfunc, project)
	v.jwks = jwks
	return v, nil
}

func NewVerifier(kf jwt.Keyfunc, project string) *JWKSVerifier {
	return &JWKSVerifier{
		keyfunc:  kf,
		issuer:   issuerPrefix + project,
		audience: project,
		now:      time.Now,
	}
}

func (v *JWKSVerifier) WithClock(now func() time.Time) *JWKSVerifier {
	v.now = now
	return v
}

func (v *JWKSVerifier) Verify(_ context.Context, token string) (*FederatedClaims, error) {
	var claims providerClaims
	_, err := jwt.ParseWithClaims(token, &claims, v.keyfunc,
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, fmt.Errorf("%w: %w", ErrFederatedExpired, err)
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrFederatedInvalid, err)
	case claims.Subject == "":
		return nil, fmt.Errorf("%w: missing sub", ErrFederatedInvalid)
	}

	return &FederatedClaims{
		UID:           claims.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Name:          claims.Name,
		Picture:       claims.Picture,
	}, nil
}

// Close stops the background key refresh.
func (v *JWKSVerifier) Close() {
	if v.jwks != nil {
		v.jwks.EndBackground()
	}
}
