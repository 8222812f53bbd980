package repo

import (
	"context"
	"errors"
	"strings"

	"github.com/Skotchmaster/dailyquiz/internal/cache"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	ErrNotFound           = errors.New("record not found")
	ErrDuplicate          = errors.New("duplicate key")
	ErrRefreshUnavailable = errors.New("refresh token expired, revoked or unknown")
)

// DuplicateKeyError reports which unique column rejected a write.
type DuplicateKeyError struct {
	Field string
	Err   error
}

func (e *DuplicateKeyError) Error() string { return "duplicate " + e.Field + ": " + e.Err.Error() }
func (e *DuplicateKeyError) Unwrap() error { return e.Err }
func (e *DuplicateKeyError) Is(target error) bool {
	return target == ErrDuplicate
}

// DuplicateField returns the offending column for duplicate-key errors.
func DuplicateField(err error) (string, bool) {
	var de *DuplicateKeyError
	if errors.As(err, &de) {
		return de.Field, true
	}
	return "", false
}

type GormRepo struct {
	DB    *gorm.DB
	Cache cache.Blocklist

	inTx bool
}

func New(db *gorm.DB, blocked cache.Blocklist) *GormRepo {
	return &GormRepo{DB: db, Cache: blocked}
}

// Transaction runs fn with a repo bound to a single database transaction.
func (r *GormRepo) Transaction(ctx context.Context, fn func(tx *GormRepo) error) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormRepo{DB: tx, Cache: r.Cache, inTx: true})
	})
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if isUniqueViolation(err) {
		return &DuplicateKeyError{Field: duplicateColumn(err), Err: err}
	}
	return err
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key value")
}

// duplicateColumn names the unique column behind a violation. Only the
// constraint or column name is inspected, never the rejected value.
func duplicateColumn(err error) string {
	source := err.Error()
	var pgErr *pgconn.PgError
	switch {
	case errors.As(err, &pgErr):
		source = pgErr.ConstraintName
	case strings.Contains(source, "UNIQUE constraint failed:"):
		source = source[strings.Index(source, "UNIQUE constraint failed:"):]
	case strings.Contains(source, `unique constraint "`):
		source = source[strings.Index(source, `unique constraint "`)+len(`unique constraint "`):]
		if end := strings.IndexByte(source, '"'); end >= 0 {
			source = source[:end]
		}
	}
	for _, column := range []string{"federated_uid", "email", "username", "jti"} {
		if strings.Contains(source, column) {
			return column
		}
	}
	return ""
}
