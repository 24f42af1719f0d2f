package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/vita3k/v3kn/api/domain"
)

// Store owns everything under the data directory. users.json is
// guarded by a single mutex (the account lock); per-user files are
// serialised by the callers' outer locks. The token cache fronts the
// tokens index so auth does not hit the disk on every request.
type Store struct {
	dataDir string

	usersMu sync.Mutex

	tokenMu sync.Mutex
	tokens  map[string]string
}

func New(dataDir string) *Store {
	return &Store{
		dataDir: dataDir,
		tokens:  make(map[string]string),
	}
}

func (s *Store) DataDir() string {
	return s.dataDir
}

// EnsureLayout creates the fixed directories the data dir must carry.
func (s *Store) EnsureLayout() error {
	for _, dir := range []string{
		s.dataDir,
		filepath.Join(s.dataDir, "Users"),
		filepath.Join(s.dataDir, "conversations"),
		filepath.Join(s.dataDir, "Trophies"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return WrapError("ensure layout", err)
		}
	}
	return nil
}

func (s *Store) usersPath() string {
	return filepath.Join(s.dataDir, "users.json")
}

func (s *Store) loadUsers() (*domain.UserDB, error) {
	data, err := os.ReadFile(s.usersPath())
	if err != nil {
		if os.IsNotExist(err) {
			return domain.NewUserDB(), nil
		}
		return nil, WrapError("load users", err)
	}

	db := domain.NewUserDB()
	if err := json.Unmarshal(data, db); err != nil {
		return nil, WrapError("parse users", err)
	}
	if db.Users == nil {
		db.Users = make(map[string]*domain.User)
	}
	if db.Tokens == nil {
		db.Tokens = make(map[string]string)
	}
	return db, nil
}

func (s *Store) saveUsers(db *domain.UserDB) error {
	data, err := json.MarshalIndent(db, "", "    ")
	if err != nil {
		return WrapError("encode users", err)
	}
	if err := writeFileAtomic(s.usersPath(), data, 0o644); err != nil {
		return WrapError("save users", err)
	}
	return nil
}

// ViewUsers runs fn with the user DB under the account lock without
// writing anything back.
func (s *Store) ViewUsers(fn func(db *domain.UserDB) error) error {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()

	db, err := s.loadUsers()
	if err != nil {
		return err
	}
	return fn(db)
}

// WithUsers runs fn with the user DB under the account lock and
// persists the DB when fn succeeds.
func (s *Store) WithUsers(fn func(db *domain.UserDB) error) error {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()

	db, err := s.loadUsers()
	if err != nil {
		return err
	}
	if err := fn(db); err != nil {
		return err
	}
	return s.saveUsers(db)
}

// LoadTokenCache fills the token cache from the tokens index and
// returns how many entries it holds.
func (s *Store) LoadTokenCache() (int, error) {
	var count int
	err := s.ViewUsers(func(db *domain.UserDB) error {
		s.tokenMu.Lock()
		defer s.tokenMu.Unlock()
		for token, npid := range db.Tokens {
			s.tokens[token] = npid
		}
		count = len(s.tokens)
		return nil
	})
	return count, err
}

// NPIDForToken resolves a bearer token, or returns "".
func (s *Store) NPIDForToken(token string) string {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()
	return s.tokens[token]
}

func (s *Store) CacheToken(token, npid string) {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()
	s.tokens[token] = npid
}

func (s *Store) EvictToken(token string) {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()
	delete(s.tokens, token)
}

// UserDir is v3kn/Users/<npid>.
func (s *Store) UserDir(npid string) string {
	return filepath.Join(s.dataDir, "Users", npid)
}

// EnsureUserDirs creates the per-user savedata and trophy directories.
func (s *Store) EnsureUserDirs(npid string) error {
	for _, dir := range []string{
		filepath.Join(s.UserDir(npid), "savedata"),
		filepath.Join(s.UserDir(npid), "trophy"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return WrapError("ensure user dirs", err)
		}
	}
	return nil
}

// RemoveUserDir deletes everything a user stored.
func (s *Store) RemoveUserDir(npid string) error {
	if err := os.RemoveAll(s.UserDir(npid)); err != nil {
		return WrapError("remove user dir", err)
	}
	return nil
}

// RenameUserDir moves a user's directory after an NPID change. A
// missing source directory is not an error; the user may never have
// uploaded anything.
func (s *Store) RenameUserDir(oldNPID, newNPID string) error {
	src := s.UserDir(oldNPID)
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return nil
	}
	if err := os.Rename(src, s.UserDir(newNPID)); err != nil {
		return WrapError("rename user dir", err)
	}
	return nil
}

// writeFileAtomic writes through a temp file plus rename so a reader
// never observes a half-written document.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), perm); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
