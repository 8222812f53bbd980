package identity

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/Skotchmaster/dailyquiz/internal/domain"
	"github.com/Skotchmaster/dailyquiz/internal/events"
	"github.com/Skotchmaster/dailyquiz/internal/logging"
	"github.com/Skotchmaster/dailyquiz/internal/models"
	"github.com/Skotchmaster/dailyquiz/internal/repo"
)

const (
	maxProvisionAttempts = 50
	federatedEmailDomain = "@federated.local"
	federatedHashPrefix  = "federated:"
)

var (
	ErrFederatedRevoked = errors.New("federated token revoked")
	ErrFederatedExpired = errors.New("federated token expired")
	ErrFederatedInvalid = errors.New("federated token invalid")
)

// FederatedClaims is what the identity provider vouches for.
// Email is only trusted for linking and storage when EmailVerified is set.
type FederatedClaims struct {
	UID           string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
}

type Verifier interface {
	Verify(ctx context.Context, token string) (*FederatedClaims, error)
}

type FederatedStore interface {
	UserByFederatedUID(ctx context.Context, uid string) (*models.User, error)
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	UsernameTaken(ctx context.Context, username string) (bool, error)
	CreateUser(ctx context.Context, u *models.User) error
	UpdateUser(ctx context.Context, u *models.User, fields map[string]any) error
}

// Federated resolves provider ID tokens and provisions local users for
// them on first sight.
type Federated struct {
	Verifier Verifier
	Store    FederatedStore
	Events   events.Publisher
}

func NewFederated(v Verifier, store FederatedStore, pub events.Publisher) *Federated {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Federated{Verifier: v, Store: store, Events: pub}
}

func (f *Federated) Resolve(ctx context.Context, authorization string) (*models.User, error) {
	raw, ok := BearerToken(authorization)
	if !ok {
		return nil, domain.Unauthenticated("not authenticated")
	}

	claims, err := f.Verifier.Verify(ctx, raw)
	switch {
	case errors.Is(err, ErrFederatedRevoked):
		return nil, domain.InvalidToken("token has been revoked")
	case errors.Is(err, ErrFederatedExpired):
		return nil, domain.InvalidToken("token has expired")
	case errors.Is(err, ErrFederatedInvalid):
		return nil, domain.InvalidToken("invalid token")
	case err != nil:
		return nil, fmt.Errorf("verify federated token: %w", err)
	}

	return f.GetOrCreateUserFromClaims(ctx, claims)
}

// GetOrCreateUserFromClaims is the only place federated users are created
// or linked. Lookup order: provider uid, then verified email, then a new
// account.
func (f *Federated) GetOrCreateUserFromClaims(ctx context.Context, c *FederatedClaims) (*models.User, error) {
	if c == nil || c.UID == "" {
		return nil, domain.InvalidToken("invalid token")
	}
	email := ""
	if c.EmailVerified {
		email = domain.NormalizeEmail(c.Email)
	}

	u, err := f.Store.UserByFederatedUID(ctx, c.UID)
	if err == nil {
		return u, f.sync(ctx, u, c, email, nil)
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("find by uid: %w", err)
	}

	if email != "" {
		u, err = f.Store.UserByEmail(ctx, email)
		if err == nil {
			err = f.sync(ctx, u, c, email, map[string]any{"federated_uid": c.UID})
			if errors.Is(err, repo.ErrDuplicate) {
				return f.Store.UserByFederatedUID(ctx, c.UID)
			}
			return u, err
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("find by email: %w", err)
		}
	}

	return f.provision(ctx, c, email)
}

// sync copies changed profile fields from the provider onto u.
func (f *Federated) sync(ctx context.Context, u *models.User, c *FederatedClaims, email string, fields map[string]any) error {
	if fields == nil {
		fields = map[string]any{}
	}
	if email != "" && email != u.Email {
		fields["email"] = email
	}
	if c.Name != "" && c.Name != u.DisplayName {
		fields["display_name"] = c.Name
	}
	if c.Picture != "" && c.Picture != u.PhotoURL {
		fields["photo_url"] = c.Picture
	}
	if len(fields) == 0 {
		return nil
	}

	err := f.Store.UpdateUser(ctx, u, fields)
	if field, ok := repo.DuplicateField(err); ok && field == "email" {
		// another account already owns the new address; keep ours
		logging.FromContext(ctx).Warn("federated_email_conflict", "user_id", u.ID)
		delete(fields, "email")
		err = f.Store.UpdateUser(ctx, u, fields)
	}
	return err
}

func (f *Federated) provision(ctx context.Context, c *FederatedClaims, email string) (*models.User, error) {
	log := logging.FromContext(ctx).With("svc", "identity.provision")

	if email == "" {
		email = c.UID + federatedEmailDomain
	}
	uid := c.UID
	base := domain.FederatedBaseUsername(email)

	for i := 0; i < maxProvisionAttempts; i++ {
		username := base
		if i > 0 {
			username = domain.WithSuffix(base, strconv.Itoa(i))
		}

		taken, err := f.Store.UsernameTaken(ctx, username)
		if err != nil {
			return nil, fmt.Errorf("check username: %w", err)
		}
		if taken {
			continue
		}

		u := &models.User{
			Username:     username,
			Email:        email,
			PasswordHash: federatedHashPrefix + uid,
			FederatedUID: &uid,
			DisplayName:  c.Name,
			PhotoURL:     c.Picture,
		}
		err = f.Store.CreateUser(ctx, u)
		if err == nil {
			log.Info("user_provisioned", "user_id", u.ID, "username", u.Username)
			f.publish(ctx, u)
			return u, nil
		}

		field, dup := repo.DuplicateField(err)
		switch {
		case !dup:
			return nil, fmt.Errorf("create user: %w", err)
		case field == "username":
			continue
		default:
			// a concurrent first request for the same account won the insert
			if u, err := f.Store.UserByFederatedUID(ctx, uid); err == nil {
				return u, nil
			}
			return f.Store.UserByEmail(ctx, email)
		}
	}

	log.Warn("username_exhausted", "base", base)
	return nil, domain.Conflict("username", "could not allocate a username")
}

func (f *Federated) publish(ctx context.Context, u *models.User) {
	ev := events.Event{Type: events.TypeUserProvisioned, UserID: u.ID, Username: u.Username}
	if err := f.Events.Publish(ctx, u.Username, ev); err != nil {
		logging.FromContext(ctx).Warn("publish_failed", "type", ev.Type, "error", err)
	}
}
