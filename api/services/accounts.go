package services

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/crypto/sha3"

	"github.com/vita3k/v3kn/api/domain"
	"github.com/vita3k/v3kn/api/store"
	"github.com/vita3k/v3kn/internal/adapters/metrics"
)

const (
	tokenAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	tokenLength   = 48
	saltLength    = 64

	maxAvatarBytes = 2 * 1024 * 1024
	maxAvatarDim   = 128
)

var pngSignature = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

// AccountService owns the account lifecycle: registration, login,
// token resolution, renames, password rotation, and avatars.
type AccountService struct {
	store *store.Store
	quota uint64
}

func NewAccountService(s *store.Store, quota uint64) *AccountService {
	return &AccountService{store: s, quota: quota}
}

// QuotaTotal is the per-user byte budget handlers render in responses.
func (svc *AccountService) QuotaTotal() uint64 {
	return svc.quota
}

// Authenticate resolves a bearer token through the cache.
func (svc *AccountService) Authenticate(token string) (string, error) {
	if token == "" {
		return "", domain.ErrMissingToken
	}
	npid := svc.store.NPIDForToken(token)
	if npid == "" {
		return "", domain.ErrInvalidToken
	}
	return npid, nil
}

// decodeClientHash unpacks the base64 client-side hash; a payload that
// is not valid base64 is hashed as raw bytes.
func decodeClientHash(b64 string) []byte {
	decoded, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return []byte(b64)
	}
	return decoded
}

// hashPassword is SHA3-256(clientHash || salt), base64-encoded for
// storage and comparison.
func hashPassword(clientHash, salt []byte) string {
	h := sha3.New256()
	h.Write(clientHash)
	h.Write(salt)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func generateSalt() ([]byte, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

func generateToken() (string, error) {
	token, err := gonanoid.Generate(tokenAlphabet, tokenLength)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return token, nil
}

func verifyPassword(user *domain.User, passwordB64 string) error {
	salt, err := base64.StdEncoding.DecodeString(user.Salt)
	if err != nil {
		return fmt.Errorf("decode salt: %w", err)
	}
	if hashPassword(decodeClientHash(passwordB64), salt) != user.Password {
		return domain.ErrInvalidPassword
	}
	return nil
}

// Create registers an account and returns its bearer token.
func (svc *AccountService) Create(npid, passwordB64, addr string) (string, error) {
	npid = domain.TrimNPID(npid)
	if !domain.ValidNPID(npid) {
		return "", domain.ErrInvalidNPID
	}
	if passwordB64 == "" {
		return "", domain.ErrMissingPassword
	}

	salt, err := generateSalt()
	if err != nil {
		return "", err
	}
	token, err := generateToken()
	if err != nil {
		return "", err
	}

	err = svc.store.WithUsers(func(db *domain.UserDB) error {
		if _, ok := db.Users[npid]; ok {
			return domain.ErrUserExists
		}
		now := time.Now().Unix()
		user := &domain.User{
			Password:     hashPassword(decodeClientHash(passwordB64), salt),
			Salt:         base64.StdEncoding.EncodeToString(salt),
			Token:        token,
			CreatedAt:    now,
			LastLogin:    now,
			LastActivity: now,
		}
		user.TouchRemoteAddr(addr)
		db.Users[npid] = user
		db.Tokens[token] = npid
		return nil
	})
	if err != nil {
		return "", err
	}

	svc.store.CacheToken(token, npid)
	if err := svc.store.EnsureUserDirs(npid); err != nil {
		return "", err
	}

	slog.Info("account created", "npid", npid)
	return token, nil
}

// LoginResult carries the fields of the login response line.
type LoginResult struct {
	Token     string
	CreatedAt int64
	QuotaUsed uint64
}

// Login verifies the password and re-issues the stored token.
func (svc *AccountService) Login(npid, passwordB64, addr string) (*LoginResult, error) {
	npid = domain.TrimNPID(npid)
	if npid == "" {
		return nil, domain.ErrMissingNPID
	}
	if passwordB64 == "" {
		return nil, domain.ErrMissingPassword
	}

	var result LoginResult
	err := svc.store.WithUsers(func(db *domain.UserDB) error {
		user, ok := db.Users[npid]
		if !ok {
			return domain.ErrUserNotFound
		}
		if err := verifyPassword(user, passwordB64); err != nil {
			return err
		}
		now := time.Now().Unix()
		user.LastLogin = now
		user.LastActivity = now
		user.TouchRemoteAddr(addr)
		result = LoginResult{Token: user.Token, CreatedAt: user.CreatedAt, QuotaUsed: user.QuotaUsed}
		return nil
	})
	if err != nil {
		return nil, err
	}

	svc.store.CacheToken(result.Token, npid)
	slog.Info("user logged in", "npid", npid)
	return &result, nil
}

// AccountStatus is what the connection check reports.
type AccountStatus struct {
	CreatedAt int64
	QuotaUsed uint64
}

// Check reads the account summary and refreshes activity.
func (svc *AccountService) Check(npid, addr string) (*AccountStatus, error) {
	var status AccountStatus
	err := svc.store.WithUsers(func(db *domain.UserDB) error {
		user, ok := db.Users[npid]
		if !ok {
			return domain.ErrUserNotFound
		}
		status = AccountStatus{CreatedAt: user.CreatedAt, QuotaUsed: user.QuotaUsed}
		user.LastActivity = time.Now().Unix()
		user.TouchRemoteAddr(addr)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// Quota reads the current usage and refreshes activity.
func (svc *AccountService) Quota(npid, addr string) (uint64, error) {
	var used uint64
	err := svc.store.WithUsers(func(db *domain.UserDB) error {
		user, ok := db.Users[npid]
		if !ok {
			return domain.ErrUserNotFound
		}
		used = user.QuotaUsed
		user.LastActivity = time.Now().Unix()
		user.TouchRemoteAddr(addr)
		return nil
	})
	if err != nil {
		return 0, err
	}
	slog.Info("quota requested", "npid", npid, "used", used, "total", svc.quota)
	return used, nil
}

// Delete removes the account, its token binding, and everything the
// user stored. Other users' friend files keep their references.
func (svc *AccountService) Delete(npid, passwordB64 string) error {
	if passwordB64 == "" {
		return domain.ErrMissingPassword
	}

	var token string
	err := svc.store.WithUsers(func(db *domain.UserDB) error {
		user, ok := db.Users[npid]
		if !ok {
			return domain.ErrUserNotFound
		}
		if err := verifyPassword(user, passwordB64); err != nil {
			return err
		}
		token = user.Token
		delete(db.Tokens, token)
		delete(db.Users, npid)
		return nil
	})
	if err != nil {
		return err
	}

	svc.store.EvictToken(token)
	if err := svc.store.RemoveUserDir(npid); err != nil {
		return err
	}

	slog.Info("account deleted", "npid", npid)
	return nil
}

// ChangeNPID re-keys the account and renames its directory. The token
// survives, rebound to the new NPID.
func (svc *AccountService) ChangeNPID(npid, newNPID, passwordB64, addr string) error {
	newNPID = domain.TrimNPID(newNPID)
	if newNPID == "" {
		return domain.ErrMissingNPID
	}
	if !domain.ValidNPID(newNPID) {
		return domain.ErrInvalidNPID
	}
	if passwordB64 == "" {
		return domain.ErrMissingPassword
	}

	var token string
	err := svc.store.WithUsers(func(db *domain.UserDB) error {
		user, ok := db.Users[npid]
		if !ok {
			return domain.ErrUserNotFound
		}
		if err := verifyPassword(user, passwordB64); err != nil {
			return err
		}
		if _, ok := db.Users[newNPID]; ok {
			return domain.ErrUserExists
		}
		delete(db.Users, npid)
		db.Users[newNPID] = user
		user.LastActivity = time.Now().Unix()
		user.TouchRemoteAddr(addr)
		token = user.Token
		db.Tokens[token] = newNPID
		return nil
	})
	if err != nil {
		return err
	}

	svc.store.CacheToken(token, newNPID)
	if err := svc.store.RenameUserDir(npid, newNPID); err != nil {
		return err
	}

	slog.Info("npid changed", "old", npid, "new", newNPID)
	return nil
}

// ChangePassword re-salts the account and rotates its token. The same
// inputs are rejected on their base64 forms, before any decoding.
func (svc *AccountService) ChangePassword(npid, oldB64, newB64, addr string) (string, error) {
	if oldB64 == "" {
		return "", domain.ErrMissingOldPassword
	}
	if newB64 == "" {
		return "", domain.ErrMissingNewPassword
	}
	if oldB64 == newB64 {
		return "", domain.ErrSamePassword
	}

	newSalt, err := generateSalt()
	if err != nil {
		return "", err
	}
	newToken, err := generateToken()
	if err != nil {
		return "", err
	}

	var oldToken string
	err = svc.store.WithUsers(func(db *domain.UserDB) error {
		user, ok := db.Users[npid]
		if !ok {
			return domain.ErrUserNotFound
		}
		if err := verifyPassword(user, oldB64); err != nil {
			return err
		}
		oldToken = user.Token
		delete(db.Tokens, oldToken)
		user.Password = hashPassword(decodeClientHash(newB64), newSalt)
		user.Salt = base64.StdEncoding.EncodeToString(newSalt)
		user.Token = newToken
		user.LastActivity = time.Now().Unix()
		user.TouchRemoteAddr(addr)
		db.Tokens[newToken] = npid
		return nil
	})
	if err != nil {
		return "", err
	}

	svc.store.EvictToken(oldToken)
	svc.store.CacheToken(newToken, npid)
	slog.Info("password changed", "npid", npid)
	return newToken, nil
}

// TouchActivity refreshes last_activity and the address set. Unknown
// NPIDs are ignored; a stale cache token must not fail the request it
// rode in on.
func (svc *AccountService) TouchActivity(npid, addr string) {
	err := svc.store.WithUsers(func(db *domain.UserDB) error {
		user, ok := db.Users[npid]
		if !ok {
			return nil
		}
		user.LastActivity = time.Now().Unix()
		user.TouchRemoteAddr(addr)
		return nil
	})
	if err != nil {
		slog.Warn("touch activity failed", "npid", npid, "error", err)
	}
}

// UploadAvatar validates and stores a user's avatar: PNG signature,
// at most 2 MiB, at most 128x128. Avatars live outside the quota.
func (svc *AccountService) UploadAvatar(npid string, data []byte) error {
	if len(data) == 0 {
		return domain.ErrEmptyFile
	}
	if len(data) > maxAvatarBytes {
		return domain.ErrFileTooLarge
	}
	if len(data) < 24 || !bytes.Equal(data[:8], pngSignature) {
		return domain.ErrInvalidPNG
	}
	width := binary.BigEndian.Uint32(data[16:20])
	height := binary.BigEndian.Uint32(data[20:24])
	if width > maxAvatarDim || height > maxAvatarDim {
		return domain.ErrDimensionsTooLarge
	}

	if err := svc.store.WriteBlob(svc.store.AvatarPath(npid), data); err != nil {
		return err
	}

	metrics.UploadBytesTotal.WithLabelValues("avatar").Add(float64(len(data)))
	slog.Info("avatar changed", "npid", npid, "bytes", len(data))
	return nil
}

// LoadAvatar reads a stored avatar. File existence is the only check;
// any authenticated user may fetch any avatar.
func (svc *AccountService) LoadAvatar(npid string) ([]byte, error) {
	data, err := svc.store.ReadBlob(svc.store.AvatarPath(npid))
	if err != nil {
		if store.IsNotExist(err) {
			return nil, domain.ErrNoAvatar
		}
		return nil, err
	}
	return data, nil
}
