package services

import (
	"encoding/base64"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vita3k/v3kn/api/domain"
	"github.com/vita3k/v3kn/api/store"
)

const testQuota = 50 * 1024 * 1024

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s := store.New(filepath.Join(t.TempDir(), "v3kn"))
	require.NoError(t, s.EnsureLayout())
	return s
}

// seedUser registers an NPID directly in the store, bypassing the
// password machinery, for tests that only need the account to exist.
func seedUser(t *testing.T, s *store.Store, npid string) {
	t.Helper()
	now := time.Now().Unix()
	err := s.WithUsers(func(db *domain.UserDB) error {
		db.Users[npid] = &domain.User{
			Password:  "x",
			Salt:      "x",
			Token:     "tok-" + npid,
			CreatedAt: now,
			LastLogin: now,
		}
		db.Tokens["tok-"+npid] = npid
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, s.EnsureUserDirs(npid))
}

// clientHash mimics the console side: it sends base64 of its own
// password digest, and the server never sees the plaintext.
func clientHash(password string) string {
	return base64.StdEncoding.EncodeToString([]byte("digest:" + password))
}
