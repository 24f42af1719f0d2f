package domain

// FriendEntry is one confirmed friendship inside friends.json.
type FriendEntry struct {
	NPID  string `json:"npid"`
	Since int64  `json:"since"`
}

// SentRequest is an outgoing friend request.
type SentRequest struct {
	NPID   string `json:"npid"`
	SentAt int64  `json:"sent_at"`
}

// ReceivedRequest is an incoming friend request.
type ReceivedRequest struct {
	NPID       string `json:"npid"`
	ReceivedAt int64  `json:"received_at"`
}

// BlockedEntry is one blocked player.
type BlockedEntry struct {
	NPID      string `json:"npid"`
	BlockedAt int64  `json:"blocked_at"`
}

// FriendRequests groups the two request directions.
type FriendRequests struct {
	Sent     []SentRequest     `json:"sent"`
	Received []ReceivedRequest `json:"received"`
}

// FriendsFile mirrors Users/<NPID>/friends.json. Slices marshal as []
// rather than null so absent groups stay well-formed on the wire.
type FriendsFile struct {
	Friends        []FriendEntry  `json:"friends"`
	FriendRequests FriendRequests `json:"friend_requests"`
	PlayersBlocked []BlockedEntry `json:"players_blocked"`
}

// NewFriendsFile returns an empty file with all groups allocated.
func NewFriendsFile() *FriendsFile {
	return &FriendsFile{
		Friends: []FriendEntry{},
		FriendRequests: FriendRequests{
			Sent:     []SentRequest{},
			Received: []ReceivedRequest{},
		},
		PlayersBlocked: []BlockedEntry{},
	}
}

// Friend list groups accepted by GET /v3kn/friends/list.
const (
	GroupFriends        = "friends"
	GroupFriendRequests = "friend_requests"
	GroupPlayersBlocked = "players_blocked"
)

// Relationship classifications returned by GET /v3kn/friends/profile.
const (
	RelationshipSelf            = "self"
	RelationshipFriends         = "friends"
	RelationshipRequestSent     = "request_sent"
	RelationshipRequestReceived = "request_received"
	RelationshipBlocked         = "blocked"
	RelationshipNone            = "none"
)

func (f *FriendsFile) IsFriend(npid string) bool {
	for _, e := range f.Friends {
		if e.NPID == npid {
			return true
		}
	}
	return false
}

func (f *FriendsFile) HasSent(npid string) bool {
	for _, e := range f.FriendRequests.Sent {
		if e.NPID == npid {
			return true
		}
	}
	return false
}

func (f *FriendsFile) HasReceived(npid string) bool {
	for _, e := range f.FriendRequests.Received {
		if e.NPID == npid {
			return true
		}
	}
	return false
}

func (f *FriendsFile) IsBlocked(npid string) bool {
	for _, e := range f.PlayersBlocked {
		if e.NPID == npid {
			return true
		}
	}
	return false
}

// RemoveFriend drops npid from the friends group. Reports whether an
// entry was removed.
func (f *FriendsFile) RemoveFriend(npid string) bool {
	for i, e := range f.Friends {
		if e.NPID == npid {
			f.Friends = append(f.Friends[:i], f.Friends[i+1:]...)
			return true
		}
	}
	return false
}

func (f *FriendsFile) RemoveSent(npid string) bool {
	for i, e := range f.FriendRequests.Sent {
		if e.NPID == npid {
			f.FriendRequests.Sent = append(f.FriendRequests.Sent[:i], f.FriendRequests.Sent[i+1:]...)
			return true
		}
	}
	return false
}

func (f *FriendsFile) RemoveReceived(npid string) bool {
	for i, e := range f.FriendRequests.Received {
		if e.NPID == npid {
			f.FriendRequests.Received = append(f.FriendRequests.Received[:i], f.FriendRequests.Received[i+1:]...)
			return true
		}
	}
	return false
}

func (f *FriendsFile) RemoveBlocked(npid string) bool {
	for i, e := range f.PlayersBlocked {
		if e.NPID == npid {
			f.PlayersBlocked = append(f.PlayersBlocked[:i], f.PlayersBlocked[i+1:]...)
			return true
		}
	}
	return false
}
