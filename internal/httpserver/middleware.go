package httpserver

import (
	"context"

	"github.com/Skotchmaster/dailyquiz/internal/domain"
	"github.com/Skotchmaster/dailyquiz/internal/identity"
	"github.com/Skotchmaster/dailyquiz/internal/models"
	"github.com/Skotchmaster/dailyquiz/internal/tokens"
	"github.com/labstack/echo/v4"
)

const (
	ctxUser   = "user"
	ctxClaims = "access_claims"
)

// authenticator is implemented by resolvers that can also report the
// first-party token they accepted.
type authenticator interface {
	Authenticate(ctx context.Context, authorization string) (*models.User, *tokens.Claims, error)
}

// Guard resolves the caller once per request and stores it on the context.
type Guard struct {
	resolver identity.Resolver
}

func NewGuard(r identity.Resolver) *Guard {
	return &Guard{resolver: r}
}

func (g *Guard) authenticate(c echo.Context) (*models.User, *tokens.Claims, error) {
	ctx := c.Request().Context()
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if a, ok := g.resolver.(authenticator); ok {
		return a.Authenticate(ctx, header)
	}
	u, err := g.resolver.Resolve(ctx, header)
	return u, nil, err
}

func (g *Guard) RequireUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		u, claims, err := g.authenticate(c)
		if err != nil {
			return err
		}
		c.Set(ctxUser, u)
		if claims != nil {
			c.Set(ctxClaims, claims)
		}
		return next(c)
	}
}

// OptionalUser lets anonymous callers through. Broken or revoked
// credentials count as anonymous; store failures do not.
func (g *Guard) OptionalUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		u, err := identity.Optional(c.Request().Context(), g.resolver, c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return err
		}
		if u != nil {
			c.Set(ctxUser, u)
		}
		return next(c)
	}
}

// RequireAdmin must run after RequireUser.
func (g *Guard) RequireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		u := CurrentUser(c)
		if u == nil {
			return domain.Unauthenticated("not authenticated")
		}
		if !u.IsAdmin {
			return domain.Forbidden("You are not authorized to perform this action")
		}
		return next(c)
	}
}

func CurrentUser(c echo.Context) *models.User {
	u, _ := c.Get(ctxUser).(*models.User)
	return u
}

func AccessClaims(c echo.Context) *tokens.Claims {
	claims, _ := c.Get(ctxClaims).(*tokens.Claims)
	return claims
}
