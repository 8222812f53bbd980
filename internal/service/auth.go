package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Skotchmaster/dailyquiz/internal/domain"
	"github.com/Skotchmaster/dailyquiz/internal/events"
	"github.com/Skotchmaster/dailyquiz/internal/hash"
	"github.com/Skotchmaster/dailyquiz/internal/logging"
	"github.com/Skotchmaster/dailyquiz/internal/models"
	"github.com/Skotchmaster/dailyquiz/internal/repo"
	"github.com/Skotchmaster/dailyquiz/internal/tokens"
	"github.com/go-playground/validator/v10"
)

const (
	maxUsernameAttempts = 10
	minPasswordLen      = 8
	// bcrypt ignores everything past 72 bytes
	maxPasswordLen = 72
)

var validate = validator.New()

type AuthService struct {
	Repo         *repo.GormRepo
	AccessCodec  *tokens.AccessCodec
	RefreshCodec *tokens.RefreshCodec
	Events       events.Publisher
	Now          func() time.Time
}

func New(r *repo.GormRepo, access *tokens.AccessCodec, refresh *tokens.RefreshCodec, pub events.Publisher) *AuthService {
	if pub == nil {
		pub = events.Nop{}
	}
	return &AuthService{Repo: r, AccessCodec: access, RefreshCodec: refresh, Events: pub, Now: time.Now}
}

type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"-"`
	RefreshExpiresAt time.Time `json:"-"`
}

type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// ProfileUpdate holds the fields a user may change. nil means untouched.
type ProfileUpdate struct {
	Username   *string
	Email      *string
	ClassLevel *string
	Stream     *string
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	l := logging.FromContext(ctx).With("svc", "auth.register")

	email := domain.NormalizeEmail(in.Email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword("password", in.Password); err != nil {
		return nil, err
	}

	taken, err := s.Repo.EmailTaken(ctx, email)
	if err != nil {
		l.Error("register_error", "reason", "email lookup", "error", err)
		return nil, err
	}
	if taken {
		l.Warn("register_rejected", "reason", "email taken")
		return nil, domain.Conflict("email", "Email already registered")
	}

	explicit := strings.TrimSpace(in.Username) != ""
	base := domain.BaseUsernameFromEmail(email)
	if explicit {
		base = domain.SanitizeUsername(in.Username)
		if base == "" {
			return nil, domain.Validation("username", "username may only contain letters, digits, '_' and '-'")
		}
	}

	pwHash, err := hash.HashPassword(in.Password)
	if err != nil {
		l.Error("register_error", "reason", "cannot hash the password", "error", err)
		return nil, err
	}

	username := base
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			if explicit {
				l.Warn("register_rejected", "reason", "username taken", "username", base)
				return nil, domain.Conflict("username", "Username already taken")
			}
			if attempt >= maxUsernameAttempts {
				l.Warn("register_rejected", "reason", "username space exhausted", "base", base)
				return nil, domain.Conflict("username", "Could not generate a unique username")
			}
			username = domain.WithSuffix(base, randomSuffix())
		}

		taken, err := s.Repo.UsernameTaken(ctx, username)
		if err != nil {
			l.Error("register_error", "reason", "username lookup", "error", err)
			return nil, err
		}
		if taken {
			continue
		}

		u := &models.User{Username: username, Email: email, PasswordHash: pwHash}
		err = s.Repo.CreateUser(ctx, u)
		if err == nil {
			l.Info("user_registered", "user_id", u.ID, "username", u.Username)
			s.publish(ctx, events.Event{Type: events.TypeUserRegistered, UserID: u.ID, Username: u.Username})
			return u, nil
		}

		field, dup := repo.DuplicateField(err)
		if !dup {
			l.Error("register_error", "reason", "insert", "error", err)
			return nil, err
		}
		if field == "email" {
			return nil, domain.Conflict("email", "Email already registered")
		}
		// lost a race on the username, try the next candidate
	}
}

// Login accepts a username or an email as identifier.
func (s *AuthService) Login(ctx context.Context, identifier, password string) (*TokenPair, error) {
	identifier = strings.TrimSpace(identifier)
	l := logging.FromContext(ctx).With("svc", "auth.login", "identifier", identifier)

	u, err := s.Repo.UserByIdentifier(ctx, identifier, domain.NormalizeEmail(identifier))
	if errors.Is(err, repo.ErrNotFound) {
		hash.DummyCheck(password)
		l.Warn("login_failed", "reason", "unknown identifier")
		return nil, domain.Unauthenticated("Incorrect username or password")
	}
	if err != nil {
		l.Error("login_error", "error", err)
		return nil, err
	}
	if !hash.CheckPassword(u.PasswordHash, password) {
		l.Warn("login_failed", "reason", "bad password")
		return nil, domain.Unauthenticated("Incorrect username or password")
	}

	pair, err := s.issuePair(ctx, u.Username)
	if err != nil {
		l.Error("login_error", "reason", "issue tokens", "error", err)
		return nil, err
	}
	l.Info("user_logged_in", "user_id", u.ID)
	s.publish(ctx, events.Event{Type: events.TypeUserLoggedIn, UserID: u.ID, Username: u.Username})
	return pair, nil
}

// issuePair persists the refresh row before signing anything, so a token
// is never handed out for a row that does not exist.
func (s *AuthService) issuePair(ctx context.Context, username string) (*TokenPair, error) {
	now := s.Now()
	jti := tokens.NewJTI()
	row := &models.RefreshToken{JTI: jti, Username: username, ExpiresAt: s.RefreshCodec.ExpiresAt(now).Unix()}
	if err := s.Repo.CreateRefresh(ctx, row); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}
	return s.sign(username, jti, now)
}

func (s *AuthService) sign(username, jti string, now time.Time) (*TokenPair, error) {
	refresh, err := s.RefreshCodec.Issue(username, jti, now)
	if err != nil {
		return nil, err
	}
	access, err := s.AccessCodec.Issue(username, now)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      access.Token,
		RefreshToken:     refresh.Token,
		TokenType:        "bearer",
		AccessExpiresAt:  access.Claims.ExpiresAt,
		RefreshExpiresAt: refresh.Claims.ExpiresAt,
	}, nil
}

// Refresh exchanges a live refresh token for a new pair. The presented
// token is revoked and its successor stored in the same transaction, so a
// token can be redeemed at most once.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	l := logging.FromContext(ctx).With("svc", "auth.refresh")

	claims, err := s.RefreshCodec.Decode(refreshToken)
	if err != nil {
		l.Warn("refresh_failed", "reason", "decode", "error", err)
		return nil, domain.InvalidToken("Invalid refresh token")
	}

	if _, err := s.Repo.UserByUsername(ctx, claims.Subject); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			l.Warn("refresh_failed", "reason", "unknown subject")
			return nil, domain.InvalidToken("Invalid refresh token")
		}
		return nil, err
	}

	now := s.Now()
	jti := tokens.NewJTI()
	next := &models.RefreshToken{JTI: jti, Username: claims.Subject, ExpiresAt: s.RefreshCodec.ExpiresAt(now).Unix()}
	err = s.Repo.RotateRefresh(ctx, claims.JTI, claims.Subject, next, now)
	if errors.Is(err, repo.ErrRefreshUnavailable) {
		l.Warn("refresh_failed", "reason", "expired or revoked", "username", claims.Subject)
		return nil, domain.InvalidToken("Refresh token expired or revoked")
	}
	if err != nil {
		l.Error("refresh_error", "error", err)
		return nil, err
	}

	return s.sign(claims.Subject, jti, now)
}

// Logout revokes every refresh token of u and blocklists the access token
// it was called with. It returns the number of refresh tokens revoked.
func (s *AuthService) Logout(ctx context.Context, u *models.User, access *tokens.Claims) (int64, error) {
	l := logging.FromContext(ctx).With("svc", "auth.logout", "user_id", u.ID)

	var revoked int64
	err := s.Repo.Transaction(ctx, func(tx *repo.GormRepo) error {
		n, err := tx.RevokeAllRefresh(ctx, u.Username)
		if err != nil {
			return err
		}
		revoked = n
		return blockPresented(ctx, tx, access)
	})
	if err != nil {
		l.Error("logout_error", "error", err)
		return 0, err
	}
	s.rememberPresented(ctx, access)

	l.Info("user_logged_out", "revoked", revoked)
	s.publish(ctx, events.Event{Type: events.TypeUserLoggedOut, UserID: u.ID, Username: u.Username, Revoked: revoked})
	return revoked, nil
}

// ChangePassword replaces the password and ends every session of u.
func (s *AuthService) ChangePassword(ctx context.Context, u *models.User, access *tokens.Claims, current, next string) error {
	l := logging.FromContext(ctx).With("svc", "auth.change_password", "user_id", u.ID)

	if !hash.CheckPassword(u.PasswordHash, current) {
		l.Warn("change_password_rejected", "reason", "wrong current password")
		return domain.Validation("current_password", "Current password is incorrect")
	}
	if err := validatePassword("new_password", next); err != nil {
		return err
	}
	pwHash, err := hash.HashPassword(next)
	if err != nil {
		return err
	}

	updated := *u
	var revoked int64
	err = s.Repo.Transaction(ctx, func(tx *repo.GormRepo) error {
		if err := tx.UpdateUser(ctx, &updated, map[string]any{"password_hash": pwHash}); err != nil {
			return err
		}
		n, err := tx.RevokeAllRefresh(ctx, u.Username)
		if err != nil {
			return err
		}
		revoked = n
		return blockPresented(ctx, tx, access)
	})
	if err != nil {
		l.Error("change_password_error", "error", err)
		return err
	}
	*u = updated
	s.rememberPresented(ctx, access)

	l.Info("password_changed", "revoked", revoked)
	s.publish(ctx, events.Event{Type: events.TypePasswordChanged, UserID: u.ID, Username: u.Username, Revoked: revoked})
	return nil
}

// UpdateProfile validates every field before writing any of them.
func (s *AuthService) UpdateProfile(ctx context.Context, u *models.User, p ProfileUpdate) (*models.User, error) {
	l := logging.FromContext(ctx).With("svc", "auth.update_profile", "user_id", u.ID)

	fields := map[string]any{}
	if p.Username != nil {
		name := strings.TrimSpace(*p.Username)
		if name == "" || domain.SanitizeUsername(name) != name {
			return nil, domain.Validation("username",
				fmt.Sprintf("username may only contain letters, digits, '_' and '-' (at most %d characters)", domain.MaxUsernameLen))
		}
		if name != u.Username {
			fields["username"] = name
		}
	}
	if p.Email != nil {
		email := domain.NormalizeEmail(*p.Email)
		if err := validateEmail(email); err != nil {
			return nil, err
		}
		if email != u.Email {
			fields["email"] = email
		}
	}
	if p.ClassLevel != nil {
		if !domain.ValidClassLevel(*p.ClassLevel) {
			return nil, domain.Validation("class_level", "class_level must be one of: 11, 12, dropper")
		}
		fields["class_level"] = *p.ClassLevel
	}
	if p.Stream != nil {
		if !domain.ValidStream(*p.Stream) {
			return nil, domain.Validation("stream", "stream must be one of: JEE Mains, JEE Advanced, NEET, Foundation, Other")
		}
		fields["stream"] = *p.Stream
	}
	if len(fields) == 0 {
		return u, nil
	}

	if name, ok := fields["username"].(string); ok {
		taken, err := s.Repo.UsernameTaken(ctx, name)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, domain.Conflict("username", "Username already taken")
		}
	}
	if email, ok := fields["email"].(string); ok {
		taken, err := s.Repo.EmailTaken(ctx, email)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, domain.Conflict("email", "Email already registered")
		}
	}

	updated := *u
	oldUsername := u.Username
	err := s.Repo.Transaction(ctx, func(tx *repo.GormRepo) error {
		if err := tx.UpdateUser(ctx, &updated, fields); err != nil {
			return err
		}
		if _, renamed := fields["username"]; renamed {
			// tokens carry the username as subject; old ones can no longer resolve
			_, err := tx.RevokeAllRefresh(ctx, oldUsername)
			return err
		}
		return nil
	})
	if field, dup := repo.DuplicateField(err); dup {
		if field == "email" {
			return nil, domain.Conflict("email", "Email already registered")
		}
		return nil, domain.Conflict("username", "Username already taken")
	}
	if err != nil {
		l.Error("update_profile_error", "error", err)
		return nil, err
	}

	l.Info("profile_updated", "fields", len(fields))
	s.publish(ctx, events.Event{Type: events.TypeProfileUpdated, UserID: updated.ID, Username: updated.Username})
	return &updated, nil
}

// PurgeExpiredBlocklist drops blocklist rows for access tokens that have
// expired anyway.
func (s *AuthService) PurgeExpiredBlocklist(ctx context.Context) (int64, error) {
	l := logging.FromContext(ctx).With("svc", "auth.purge_blocklist")

	n, err := s.Repo.PurgeExpiredBlocklist(ctx, s.Now())
	if err != nil {
		l.Error("purge_error", "error", err)
		return 0, err
	}
	l.Info("blocklist_purged", "purged", n)
	s.publish(ctx, events.Event{Type: events.TypeBlocklistPurged, Revoked: n})
	return n, nil
}

func blockPresented(ctx context.Context, tx *repo.GormRepo, access *tokens.Claims) error {
	if access == nil || access.JTI == "" {
		return nil
	}
	return tx.BlockAccess(ctx, access.JTI, access.ExpiresAt)
}

func (s *AuthService) rememberPresented(ctx context.Context, access *tokens.Claims) {
	if access != nil && access.JTI != "" {
		s.Repo.RememberBlocked(ctx, access.JTI, access.ExpiresAt)
	}
}

func (s *AuthService) publish(ctx context.Context, ev events.Event) {
	ev.OccurredAt = s.Now().UTC()
	if err := s.Events.Publish(ctx, ev.Username, ev); err != nil {
		logging.FromContext(ctx).Warn("publish_failed", "type", ev.Type, "error", err)
	}
}

func validateEmail(email string) error {
	if err := validate.Var(email, "required,email,max=255"); err != nil {
		return domain.Validation("email", "value is not a valid email address")
	}
	return nil
}

func validatePassword(field, password string) error {
	if len(password) < minPasswordLen || len(password) > maxPasswordLen {
		return domain.Validation(field, fmt.Sprintf("password must be between %d and %d bytes", minPasswordLen, maxPasswordLen))
	}
	return nil
}

func randomSuffix() string {
	b := make([]byte, 2)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%04x", time.Now().UnixNano()&0xffff)
	}
	return hex.EncodeToString(b)
}
