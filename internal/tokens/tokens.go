package tokens

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultAccessTTL  = 30 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// Audiences keep the two token kinds apart even under a shared secret.
const (
	AccessAudience  = "access"
	RefreshAudience = "refresh"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrMissingJTI   = errors.New("jti is required")
)

// Claims is the decoded payload shared by both token kinds.
type Claims struct {
	Subject   string
	JTI       string
	ExpiresAt time.Time
}

type Issued struct {
	Token  string
	Claims Claims
}

// codec holds one trust domain: its own secret, audience and lifetime.
type codec struct {
	secret   []byte
	audience string
	method   jwt.SigningMethod
	ttl      time.Duration
	now      func() time.Time
}

func newCodec(secret []byte, audience string, ttl time.Duration) codec {
	return codec{
		secret:   secret,
		audience: audience,
		method:   jwt.SigningMethodHS256,
		ttl:      ttl,
		now:      time.Now,
	}
}

func (c codec) TTL() time.Duration { return c.ttl }

func (c codec) issue(subject, jti string, now time.Time) (*Issued, error) {
	exp := now.Add(c.ttl).UTC().Truncate(time.Second)
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Audience:  jwt.ClaimStrings{c.audience},
		ID:        jti,
		ExpiresAt: jwt.NewNumericDate(exp),
	}

	signed, err := jwt.NewWithClaims(c.method, claims).SignedString(c.secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	return &Issued{
		Token:  signed,
		Claims: Claims{Subject: subject, JTI: jti, ExpiresAt: exp},
	}, nil
}

// Decode verifies signature, algorithm, audience and expiry. Every failure is
// reported as ErrInvalidToken wrapping the cause.
func (c codec) Decode(token string) (*Claims, error) {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(strings.TrimSpace(token), &claims, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithAudience(c.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: missing sub or jti", ErrInvalidToken)
	}

	return &Claims{
		Subject:   claims.Subject,
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	}, nil
}

// AccessCodec issues short-lived access tokens and picks their JTI itself.
type AccessCodec struct{ codec }

func NewAccessCodec(secret []byte, ttl time.Duration) *AccessCodec {
	if ttl <= 0 {
		ttl = DefaultAccessTTL
	}
	return &AccessCodec{newCodec(secret, AccessAudience, ttl)}
}

func (c *AccessCodec) Issue(subject string, now time.Time) (*Issued, error) {
	return c.issue(subject, NewJTI(), now)
}

// RefreshCodec issues long-lived refresh tokens. The caller supplies the
// JTI because it persists that JTI in the same operation.
type RefreshCodec struct{ codec }

func NewRefreshCodec(secret []byte, ttl time.Duration) *RefreshCodec {
	if ttl <= 0 {
		ttl = DefaultRefreshTTL
	}
	return &RefreshCodec{newCodec(secret, RefreshAudience, ttl)}
}

func (c *RefreshCodec) Issue(subject, jti string, now time.Time) (*Issued, error) {
	if jti == "" {
		return nil, ErrMissingJTI
	}
	return c.issue(subject, jti, now)
}

// ExpiresAt returns the expiry a token issued at now would carry.
func (c codec) ExpiresAt(now time.Time) time.Time {
	return now.Add(c.ttl).UTC().Truncate(time.Second)
}

// WithClock replaces the clock used to evaluate expiry on decode.
func (c *AccessCodec) WithClock(now func() time.Time) *AccessCodec {
	c.now = now
	return c
}

func (c *RefreshCodec) WithClock(now func() time.Time) *RefreshCodec {
	c.now = now
	return c
}

func NewJTI() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
