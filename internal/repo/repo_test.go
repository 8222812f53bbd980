package repo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Skotchmaster/dailyquiz/internal/db"
	"github.com/Skotchmaster/dailyquiz/internal/models"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.Open(context.Background(), "sqlite::memory:")
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))
	t.Cleanup(func() { _ = db.Close(gdb) })
	return gdb
}

type memCache struct {
	mu      sync.Mutex
	blocked map[string]time.Duration
	err     error
}

func newMemCache() *memCache { return &memCache{blocked: map[string]time.Duration{}} }

func (m *memCache) MarkBlocked(_ context.Context, jti string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocked[jti] = ttl
	return m.err
}

func (m *memCache) IsBlocked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	_, ok := m.blocked[jti]
	return ok, nil
}

func seedUser(t *testing.T, r *GormRepo, username, email string) *models.User {
	t.Helper()
	u := &models.User{Username: username, Email: email, PasswordHash: "x"}
	require.NoError(t, r.CreateUser(context.Background(), u))
	return u
}

func TestCreateUser_DuplicateField(t *testing.T) {
	t.Parallel()

	r := New(newTestDB(t), nil)
	ctx := context.Background()
	seedUser(t, r, "alice", "alice@example.com")

	err := r.CreateUser(ctx, &models.User{Username: "alice", Email: "other@example.com", PasswordHash: "x"})
	require.ErrorIs(t, err, ErrDuplicate)
	field, ok := DuplicateField(err)
	require.True(t, ok)
	assert.Equal(t, "username", field)

	err = r.CreateUser(ctx, &models.User{Username: "alice2", Email: "alice@example.com", PasswordHash: "x"})
	require.ErrorIs(t, err, ErrDuplicate)
	field, _ = DuplicateField(err)
	assert.Equal(t, "email", field)

	uid := "uid-1"
	seed := &models.User{Username: "fed", Email: "fed@example.com", PasswordHash: "x", FederatedUID: &uid}
	require.NoError(t, r.CreateUser(ctx, seed))
	err = r.CreateUser(ctx, &models.User{Username: "fed2", Email: "fed2@example.com", PasswordHash: "x", FederatedUID: &uid})
	field, _ = DuplicateField(err)
	assert.Equal(t, "federated_uid", field)
}

func TestTranslate_DuplicateFieldIgnoresValue(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "postgres username holding an email-like value",
			err: &pgconn.PgError{
				Code:           "23505",
				ConstraintName: "idx_users_username",
				Detail:         "Key (username)=(email) already exists.",
			},
			want: "username",
		},
		{
			name: "postgres wrapped",
			err: fmt.Errorf("create: %w", &pgconn.PgError{
				Code:           "23505",
				ConstraintName: "idx_users_email",
				Detail:         "Key (email)=(username@example.com) already exists.",
			}),
			want: "email",
		},
		{
			name: "postgres text",
			err:  errors.New(`ERROR: duplicate key value violates unique constraint "idx_refresh_tokens_jti" (SQLSTATE 23505) Key (jti)=(email)`),
			want: "jti",
		},
		{
			name: "sqlite",
			err:  errors.New("constraint failed: UNIQUE constraint failed: users.federated_uid (2067)"),
			want: "federated_uid",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := translate(tt.err)
			require.ErrorIs(t, err, ErrDuplicate)
			field, ok := DuplicateField(err)
			require.True(t, ok)
			assert.Equal(t, tt.want, field)
		})
	}
}

func TestUserLookups(t *testing.T) {
	t.Parallel()

	r := New(newTestDB(t), nil)
	ctx := context.Background()
	u := seedUser(t, r, "bob", "bob@example.com")

	got, err := r.UserByIdentifier(ctx, "bob@example.com", "bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	got, err = r.UserByIdentifier(ctx, "bob", "bob")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = r.UserByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)

	taken, err := r.UsernameTaken(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, taken)
	taken, err = r.EmailTaken(ctx, "free@example.com")
	require.NoError(t, err)
	assert.False(t, taken)

	require.NoError(t, r.UpdateUser(ctx, got, map[string]any{"username": "robert"}))
	assert.Equal(t, "robert", got.Username)
	_, err = r.UserByUsername(ctx, "bob")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBlockAccess_Idempotent(t *testing.T) {
	t.Parallel()

	c := newMemCache()
	r := New(newTestDB(t), c)
	ctx := context.Background()
	exp := time.Now().Add(10 * time.Minute)

	blocked, err := r.IsAccessBlocked(ctx, "j1")
	require.NoError(t, err)
	assert.False(t, blocked)

	require.NoError(t, r.BlockAccess(ctx, "j1", exp))
	require.NoError(t, r.BlockAccess(ctx, "j1", exp))

	var count int64
	require.NoError(t, r.DB.Model(&models.AccessTokenBlocklist{}).Where("jti = ?", "j1").Count(&count).Error)
	assert.EqualValues(t, 1, count)

	blocked, err = r.IsAccessBlocked(ctx, "j1")
	require.NoError(t, err)
	assert.True(t, blocked)
	assert.Contains(t, c.blocked, "j1")
}

func TestIsAccessBlocked_CacheFailureFallsBackToDB(t *testing.T) {
	t.Parallel()

	c := newMemCache()
	r := New(newTestDB(t), c)
	ctx := context.Background()
	require.NoError(t, r.BlockAccess(ctx, "j1", time.Now().Add(time.Minute)))

	c.err = errors.New("redis down")
	blocked, err := r.IsAccessBlocked(ctx, "j1")
	require.NoError(t, err)
	assert.True(t, blocked)
}

func TestBlockAccess_InTransactionDefersCache(t *testing.T) {
	t.Parallel()

	c := newMemCache()
	r := New(newTestDB(t), c)
	ctx := context.Background()

	err := r.Transaction(ctx, func(tx *GormRepo) error {
		require.NoError(t, tx.BlockAccess(ctx, "j1", time.Now().Add(time.Minute)))
		return errors.New("rollback")
	})
	require.Error(t, err)
	assert.NotContains(t, c.blocked, "j1")

	blocked, err := r.IsAccessBlocked(ctx, "j1")
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestRevokeAllRefresh(t *testing.T) {
	t.Parallel()

	r := New(newTestDB(t), nil)
	ctx := context.Background()
	now := time.Now()
	exp := now.Add(time.Hour).Unix()

	for _, jti := range []string{"a", "b", "c"} {
		require.NoError(t, r.CreateRefresh(ctx, &models.RefreshToken{JTI: jti, Username: "alice", ExpiresAt: exp}))
	}
	require.NoError(t, r.CreateRefresh(ctx, &models.RefreshToken{JTI: "z", Username: "zed", ExpiresAt: exp}))
	require.NoError(t, r.ConsumeRefresh(ctx, "a", "alice", now))

	n, err := r.RevokeAllRefresh(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	for _, jti := range []string{"a", "b", "c"} {
		ok, err := r.IsRefreshValid(ctx, jti, now)
		require.NoError(t, err)
		assert.False(t, ok, jti)
	}
	ok, err := r.IsRefreshValid(ctx, "z", now)
	require.NoError(t, err)
	assert.True(t, ok)

	n, err = r.RevokeAllRefresh(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestConsumeRefresh(t *testing.T) {
	t.Parallel()

	r := New(newTestDB(t), nil)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, r.CreateRefresh(ctx, &models.RefreshToken{JTI: "live", Username: "alice", ExpiresAt: now.Add(time.Hour).Unix()}))
	require.NoError(t, r.CreateRefresh(ctx, &models.RefreshToken{JTI: "old", Username: "alice", ExpiresAt: now.Add(-time.Second).Unix()}))

	assert.ErrorIs(t, r.ConsumeRefresh(ctx, "live", "mallory", now), ErrRefreshUnavailable)
	assert.ErrorIs(t, r.ConsumeRefresh(ctx, "old", "alice", now), ErrRefreshUnavailable)
	assert.ErrorIs(t, r.ConsumeRefresh(ctx, "missing", "alice", now), ErrRefreshUnavailable)

	require.NoError(t, r.ConsumeRefresh(ctx, "live", "alice", now))
	assert.ErrorIs(t, r.ConsumeRefresh(ctx, "live", "alice", now), ErrRefreshUnavailable)

	row, err := r.FindRefreshByJTI(ctx, "live")
	require.NoError(t, err)
	assert.True(t, row.Revoked)
}

func TestRotateRefresh_ConcurrentOnlyOneWins(t *testing.T) {
	t.Parallel()

	r := New(newTestDB(t), nil)
	ctx := context.Background()
	now := time.Now()
	exp := now.Add(time.Hour).Unix()
	require.NoError(t, r.CreateRefresh(ctx, &models.RefreshToken{JTI: "r0", Username: "alice", ExpiresAt: exp}))

	const workers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			next := &models.RefreshToken{JTI: "next-" + string(rune('a'+i)), Username: "alice", ExpiresAt: exp}
			err := r.RotateRefresh(ctx, "r0", "alice", next, now)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrRefreshUnavailable)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	var count int64
	require.NoError(t, r.DB.Model(&models.RefreshToken{}).Where("jti LIKE ?", "next-%").Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestRotateRefresh_FailedInsertKeepsOldRowLive(t *testing.T) {
	t.Parallel()

	r := New(newTestDB(t), nil)
	ctx := context.Background()
	now := time.Now()
	exp := now.Add(time.Hour).Unix()
	require.NoError(t, r.CreateRefresh(ctx, &models.RefreshToken{JTI: "r0", Username: "alice", ExpiresAt: exp}))
	require.NoError(t, r.CreateRefresh(ctx, &models.RefreshToken{JTI: "taken", Username: "alice", ExpiresAt: exp}))

	err := r.RotateRefresh(ctx, "r0", "alice", &models.RefreshToken{JTI: "taken", Username: "alice", ExpiresAt: exp}, now)
	require.ErrorIs(t, err, ErrDuplicate)

	ok, err := r.IsRefreshValid(ctx, "r0", now)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPurgeExpiredBlocklist(t *testing.T) {
	t.Parallel()

	r := New(newTestDB(t), nil)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, r.BlockAccess(ctx, "dead", now.Add(-time.Minute)))
	require.NoError(t, r.BlockAccess(ctx, "live", now.Add(time.Minute)))

	n, err := r.PurgeExpiredBlocklist(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	blocked, err := r.IsAccessBlocked(ctx, "live")
	require.NoError(t, err)
	assert.True(t, blocked)
	blocked, err = r.IsAccessBlocked(ctx, "dead")
	require.NoError(t, err)
	assert.False(t, blocked)
}
