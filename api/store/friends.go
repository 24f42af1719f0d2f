package store

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/vita3k/v3kn/api/domain"
)

func (s *Store) friendsPath(npid string) string {
	return filepath.Join(s.UserDir(npid), "friends.json")
}

// LoadFriends reads Users/<npid>/friends.json. A user with no social
// state yet gets an empty file back.
func (s *Store) LoadFriends(npid string) (*domain.FriendsFile, error) {
	data, err := os.ReadFile(s.friendsPath(npid))
	if err != nil {
		if os.IsNotExist(err) {
			return domain.NewFriendsFile(), nil
		}
		return nil, WrapError("load friends", err)
	}

	f := &domain.FriendsFile{}
	if err := json.Unmarshal(data, f); err != nil {
		return nil, WrapError("parse friends", err)
	}

	// Hand-edited or truncated files may miss groups; keep every
	// group non-nil so it marshals as [].
	if f.Friends == nil {
		f.Friends = []domain.FriendEntry{}
	}
	if f.FriendRequests.Sent == nil {
		f.FriendRequests.Sent = []domain.SentRequest{}
	}
	if f.FriendRequests.Received == nil {
		f.FriendRequests.Received = []domain.ReceivedRequest{}
	}
	if f.PlayersBlocked == nil {
		f.PlayersBlocked = []domain.BlockedEntry{}
	}
	return f, nil
}

// SaveFriends writes Users/<npid>/friends.json, creating the user
// directory when needed.
func (s *Store) SaveFriends(npid string, f *domain.FriendsFile) error {
	if err := os.MkdirAll(s.UserDir(npid), 0o755); err != nil {
		return WrapError("save friends", err)
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return WrapError("encode friends", err)
	}
	if err := writeFileAtomic(s.friendsPath(npid), data, 0o644); err != nil {
		return WrapError("save friends", err)
	}
	return nil
}
