package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Skotchmaster/dailyquiz/internal/domain"
	"github.com/Skotchmaster/dailyquiz/internal/models"
	"github.com/Skotchmaster/dailyquiz/internal/repo"
	"github.com/Skotchmaster/dailyquiz/internal/tokens"
)

// Resolver turns an Authorization header value into the calling user.
type Resolver interface {
	Resolve(ctx context.Context, authorization string) (*models.User, error)
}

// Optional resolves like r but reports an anonymous caller as (nil, nil).
// Store failures are still returned.
func Optional(ctx context.Context, r Resolver, authorization string) (*models.User, error) {
	u, err := r.Resolve(ctx, authorization)
	if errors.Is(err, domain.ErrUnauthenticated) {
		return nil, nil
	}
	return u, err
}

// BearerToken extracts the credentials of a "Bearer" Authorization value.
// The scheme is matched case-insensitively.
func BearerToken(authorization string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(authorization), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

type LocalStore interface {
	IsAccessBlocked(ctx context.Context, jti string) (bool, error)
	UserByUsername(ctx context.Context, username string) (*models.User, error)
}

// Local resolves first-party access tokens.
type Local struct {
	Codec *tokens.AccessCodec
	Store LocalStore
}

func NewLocal(codec *tokens.AccessCodec, store LocalStore) *Local {
	return &Local{Codec: codec, Store: store}
}

func (l *Local) Resolve(ctx context.Context, authorization string) (*models.User, error) {
	u, _, err := l.Authenticate(ctx, authorization)
	return u, err
}

// Authenticate is Resolve that also hands back the decoded access claims,
// which logout and password change need to blocklist the presented token.
func (l *Local) Authenticate(ctx context.Context, authorization string) (*models.User, *tokens.Claims, error) {
	raw, ok := BearerToken(authorization)
	if !ok {
		return nil, nil, domain.Unauthenticated("not authenticated")
	}

	claims, err := l.Codec.Decode(raw)
	if err != nil {
		return nil, nil, domain.InvalidToken("invalid or expired token")
	}

	blocked, err := l.Store.IsAccessBlocked(ctx, claims.JTI)
	if err != nil {
		return nil, nil, fmt.Errorf("check blocklist: %w", err)
	}
	if blocked {
		return nil, nil, domain.InvalidToken("token has been logged out")
	}

	u, err := l.Store.UserByUsername(ctx, claims.Subject)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil, domain.InvalidToken("user not found")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load user: %w", err)
	}
	return u, claims, nil
}
