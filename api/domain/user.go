package domain

import "strings"

// User is one account record inside users.json. Timestamps are Unix
// seconds; Password and Salt are base64-encoded.
type User struct {
	QuotaUsed    uint64   `json:"quota_used"`
	Password     string   `json:"password"`
	Salt         string   `json:"salt"`
	Token        string   `json:"token"`
	CreatedAt    int64    `json:"created_at"`
	LastLogin    int64    `json:"last_login"`
	LastActivity int64    `json:"last_activity"`
	RemoteAddr   []string `json:"remote_addr"`
}

// UserDB mirrors users.json: accounts keyed by NPID plus the reverse
// token index used to resolve bearer tokens.
type UserDB struct {
	Users  map[string]*User  `json:"users"`
	Tokens map[string]string `json:"tokens"`
}

func NewUserDB() *UserDB {
	return &UserDB{
		Users:  make(map[string]*User),
		Tokens: make(map[string]string),
	}
}

const (
	NPIDMinLen = 3
	NPIDMaxLen = 16
)

// TrimNPID strips ASCII whitespace from both ends of an NPID-bearing
// form value.
func TrimNPID(npid string) string {
	return strings.Trim(npid, " \t\n\r")
}

// ValidNPID reports whether a trimmed NPID has an acceptable length.
func ValidNPID(npid string) bool {
	return len(npid) >= NPIDMinLen && len(npid) <= NPIDMaxLen
}

// TouchRemoteAddr appends addr to the user's known addresses if it is
// not already recorded.
func (u *User) TouchRemoteAddr(addr string) {
	for _, a := range u.RemoteAddr {
		if a == addr {
			return
		}
	}
	u.RemoteAddr = append(u.RemoteAddr, addr)
}
