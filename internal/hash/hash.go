package hash

import (
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Cost is the bcrypt work factor used for new hashes. It is set once at
// startup (BCRYPT_COST) before any request is served.
var Cost = bcrypt.DefaultCost

func HashPassword(password string) (string, error) {
	hashbytes, err := bcrypt.GenerateFromPassword([]byte(password), Cost)
	if err != nil {
		return "", err
	}

	return string(hashbytes), nil
}

// CheckPassword reports whether password matches hash. A malformed or
// sentinel hash never matches.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

var (
	dummyOnce sync.Once
	dummyHash []byte
)

// DummyCheck spends the same work as a real comparison. Used when the
// identifier matched no user so both failure paths take similar time.
func DummyCheck(password string) {
	dummyOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("dummy-password-for-timing"), Cost)
	})
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}
