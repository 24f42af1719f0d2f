package services

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/vita3k/v3kn/api/domain"
	"github.com/vita3k/v3kn/api/store"
)

// FriendService drives the bilateral relation state machine, the
// presence-enriched queries, and the friends long poll. Every
// transition touches the friend files of both users inside one
// critical section so the two stay mutually consistent.
type FriendService struct {
	store    *store.Store
	registry *PresenceRegistry
	inbox    *EventInbox
	signals  *PollSignals
	budget   time.Duration
}

func NewFriendService(s *store.Store, registry *PresenceRegistry, inbox *EventInbox, signals *PollSignals, budget time.Duration) *FriendService {
	return &FriendService{
		store:    s,
		registry: registry,
		inbox:    inbox,
		signals:  signals,
		budget:   budget,
	}
}

// Add sends a friend request to target, auto-accepting when the
// reverse request is already pending on either side. Reports whether
// the pair ended up friends.
//
// A target that has blocked the requester records the request on the
// requester's side only; the target learns nothing until an unblock.
func (svc *FriendService) Add(npid, target string) (bool, error) {
	target = domain.TrimNPID(target)
	if target == "" {
		return false, domain.ErrMissingTargetNPID
	}
	if npid == target {
		return false, domain.ErrCannotAddYourself
	}

	var added bool
	err := svc.store.ViewUsers(func(db *domain.UserDB) error {
		if _, ok := db.Users[target]; !ok {
			return domain.ErrUserNotFound
		}

		mine, err := svc.store.LoadFriends(npid)
		if err != nil {
			return err
		}
		theirs, err := svc.store.LoadFriends(target)
		if err != nil {
			return err
		}

		if mine.IsFriend(target) {
			return domain.ErrAlreadyFriends
		}
		if mine.HasSent(target) {
			return domain.ErrRequestAlreadySent
		}

		now := time.Now().Unix()

		if theirs.IsBlocked(npid) {
			mine.FriendRequests.Sent = append(mine.FriendRequests.Sent, domain.SentRequest{NPID: target, SentAt: now})
			if err := svc.store.SaveFriends(npid, mine); err != nil {
				return err
			}
			slog.Info("friend request stored silently", "from", npid, "to", target)
			return nil
		}

		if mine.HasReceived(target) || theirs.HasSent(npid) {
			mine.RemoveReceived(target)
			theirs.RemoveSent(npid)
			mine.Friends = append(mine.Friends, domain.FriendEntry{NPID: target, Since: now})
			theirs.Friends = append(theirs.Friends, domain.FriendEntry{NPID: npid, Since: now})
			if err := svc.store.SaveFriends(npid, mine); err != nil {
				return err
			}
			if err := svc.store.SaveFriends(target, theirs); err != nil {
				return err
			}
			added = true
			slog.Info("friend request auto-accepted", "npid", npid, "target", target)
			return nil
		}

		mine.FriendRequests.Sent = append(mine.FriendRequests.Sent, domain.SentRequest{NPID: target, SentAt: now})
		theirs.FriendRequests.Received = append(theirs.FriendRequests.Received, domain.ReceivedRequest{NPID: npid, ReceivedAt: now})
		if err := svc.store.SaveFriends(npid, mine); err != nil {
			return err
		}
		if err := svc.store.SaveFriends(target, theirs); err != nil {
			return err
		}

		if err := svc.inbox.Push(target, domain.Event{Type: domain.EventRequestReceived, NPID: npid, At: now}); err != nil {
			return err
		}
		svc.signals.Notify(target)
		slog.Info("friend request sent", "from", npid, "to", target)
		return nil
	})
	return added, err
}

// Accept turns a received request into a friendship on both sides.
func (svc *FriendService) Accept(npid, target string) error {
	target = domain.TrimNPID(target)
	if target == "" {
		return domain.ErrMissingTargetNPID
	}

	return svc.store.ViewUsers(func(db *domain.UserDB) error {
		if _, ok := db.Users[target]; !ok {
			return domain.ErrUserNotFound
		}

		mine, err := svc.store.LoadFriends(npid)
		if err != nil {
			return err
		}
		theirs, err := svc.store.LoadFriends(target)
		if err != nil {
			return err
		}

		if !mine.HasReceived(target) {
			return domain.ErrNoRequestFound
		}

		mine.RemoveReceived(target)
		theirs.RemoveSent(npid)

		now := time.Now().Unix()
		mine.Friends = append(mine.Friends, domain.FriendEntry{NPID: target, Since: now})
		theirs.Friends = append(theirs.Friends, domain.FriendEntry{NPID: npid, Since: now})

		if err := svc.store.SaveFriends(npid, mine); err != nil {
			return err
		}
		if err := svc.store.SaveFriends(target, theirs); err != nil {
			return err
		}

		slog.Info("friend request accepted", "npid", npid, "target", target)
		return nil
	})
}

// Reject drops a received request from both sides.
func (svc *FriendService) Reject(npid, target string) error {
	target = domain.TrimNPID(target)
	if target == "" {
		return domain.ErrMissingTargetNPID
	}

	return svc.store.ViewUsers(func(db *domain.UserDB) error {
		if _, ok := db.Users[target]; !ok {
			return domain.ErrUserNotFound
		}

		mine, err := svc.store.LoadFriends(npid)
		if err != nil {
			return err
		}
		theirs, err := svc.store.LoadFriends(target)
		if err != nil {
			return err
		}

		if !mine.HasReceived(target) {
			return domain.ErrNoRequestFound
		}

		mine.RemoveReceived(target)
		theirs.RemoveSent(npid)

		if err := svc.store.SaveFriends(npid, mine); err != nil {
			return err
		}
		if err := svc.store.SaveFriends(target, theirs); err != nil {
			return err
		}

		slog.Info("friend request rejected", "npid", npid, "target", target)
		return nil
	})
}

// Remove ends a friendship on both sides.
func (svc *FriendService) Remove(npid, target string) error {
	target = domain.TrimNPID(target)
	if target == "" {
		return domain.ErrMissingTargetNPID
	}

	return svc.store.ViewUsers(func(db *domain.UserDB) error {
		if _, ok := db.Users[target]; !ok {
			return domain.ErrUserNotFound
		}

		mine, err := svc.store.LoadFriends(npid)
		if err != nil {
			return err
		}
		theirs, err := svc.store.LoadFriends(target)
		if err != nil {
			return err
		}

		if !mine.IsFriend(target) {
			return domain.ErrNotFriends
		}

		mine.RemoveFriend(target)
		theirs.RemoveFriend(npid)

		if err := svc.store.SaveFriends(npid, mine); err != nil {
			return err
		}
		if err := svc.store.SaveFriends(target, theirs); err != nil {
			return err
		}

		slog.Info("friendship removed", "npid", npid, "target", target)
		return nil
	})
}

// Cancel withdraws an outgoing request and scrubs the matching event
// from the target's inbox so a parked poll cannot deliver it.
func (svc *FriendService) Cancel(npid, target string) error {
	target = domain.TrimNPID(target)
	if target == "" {
		return domain.ErrMissingTargetNPID
	}

	return svc.store.ViewUsers(func(db *domain.UserDB) error {
		if _, ok := db.Users[target]; !ok {
			return domain.ErrUserNotFound
		}

		mine, err := svc.store.LoadFriends(npid)
		if err != nil {
			return err
		}
		theirs, err := svc.store.LoadFriends(target)
		if err != nil {
			return err
		}

		if !mine.HasSent(target) {
			return domain.ErrNoRequestFound
		}

		mine.RemoveSent(target)
		theirs.RemoveReceived(npid)

		if err := svc.store.SaveFriends(npid, mine); err != nil {
			return err
		}
		if err := svc.store.SaveFriends(target, theirs); err != nil {
			return err
		}

		if err := svc.inbox.Remove(target, domain.EventRequestReceived, npid); err != nil {
			return err
		}

		slog.Info("friend request cancelled", "from", npid, "to", target)
		return nil
	})
}

// Block adds target to the requester's block list and clears any
// friendship or visible request between the two. A request target had
// already sent stays in target's sent list: the silent-pending state
// an unblock can resurrect.
func (svc *FriendService) Block(npid, target string) error {
	target = domain.TrimNPID(target)
	if target == "" {
		return domain.ErrMissingTargetNPID
	}
	if npid == target {
		return domain.ErrCannotBlockYourself
	}

	return svc.store.ViewUsers(func(db *domain.UserDB) error {
		if _, ok := db.Users[target]; !ok {
			return domain.ErrUserNotFound
		}

		mine, err := svc.store.LoadFriends(npid)
		if err != nil {
			return err
		}
		theirs, err := svc.store.LoadFriends(target)
		if err != nil {
			return err
		}

		if !mine.IsBlocked(target) {
			mine.PlayersBlocked = append(mine.PlayersBlocked, domain.BlockedEntry{NPID: target, BlockedAt: time.Now().Unix()})
		}

		wereFriends := mine.IsFriend(target)
		iSent := mine.HasSent(target)
		theySent := theirs.HasSent(npid)

		if wereFriends {
			mine.RemoveFriend(target)
			theirs.RemoveFriend(npid)
		}
		if iSent {
			mine.RemoveSent(target)
			theirs.RemoveReceived(npid)
		}
		if theySent {
			mine.RemoveReceived(target)
		}

		if err := svc.store.SaveFriends(npid, mine); err != nil {
			return err
		}
		if wereFriends || iSent {
			if err := svc.store.SaveFriends(target, theirs); err != nil {
				return err
			}
		}

		slog.Info("player blocked", "npid", npid, "target", target)
		return nil
	})
}

// Unblock drops target from the block list. A request target sent
// while blocked resurfaces as a received request, and the requester's
// parked poll is woken.
func (svc *FriendService) Unblock(npid, target string) error {
	target = domain.TrimNPID(target)
	if target == "" {
		return domain.ErrMissingTargetNPID
	}

	return svc.store.ViewUsers(func(db *domain.UserDB) error {
		if _, ok := db.Users[target]; !ok {
			return domain.ErrUserNotFound
		}

		mine, err := svc.store.LoadFriends(npid)
		if err != nil {
			return err
		}
		theirs, err := svc.store.LoadFriends(target)
		if err != nil {
			return err
		}

		mine.RemoveBlocked(target)

		if theirs.HasSent(npid) && !mine.HasReceived(target) {
			mine.FriendRequests.Received = append(mine.FriendRequests.Received, domain.ReceivedRequest{NPID: target, ReceivedAt: time.Now().Unix()})
			svc.signals.Notify(npid)
		}

		if err := svc.store.SaveFriends(npid, mine); err != nil {
			return err
		}

		slog.Info("player unblocked", "npid", npid, "target", target)
		return nil
	})
}

// FriendStatusEntry is one presence-enriched row of the friends list.
type FriendStatusEntry struct {
	NPID        string `json:"npid"`
	Since       int64  `json:"since"`
	Status      string `json:"status"`
	NowPlaying  string `json:"now_playing"`
	TrophyLevel int    `json:"trophy_level"`
}

// FriendListResponse is the group=friends list body.
type FriendListResponse struct {
	Friends []FriendStatusEntry `json:"friends"`
	Self    FriendStatusEntry   `json:"self"`
}

// FriendRequestsResponse is the group=friend_requests list body.
type FriendRequestsResponse struct {
	FriendRequests domain.FriendRequests `json:"friend_requests"`
}

// BlockedListResponse is the group=players_blocked list body.
type BlockedListResponse struct {
	PlayersBlocked []domain.BlockedEntry `json:"players_blocked"`
}

func (svc *FriendService) statusEntry(npid string, since int64) FriendStatusEntry {
	status, nowPlaying := svc.registry.Snapshot(npid)
	return FriendStatusEntry{
		NPID:        npid,
		Since:       since,
		Status:      status,
		NowPlaying:  nowPlaying,
		TrophyLevel: svc.TrophySummary(npid).Level,
	}
}

// ListFriends returns each friend with live presence and trophy level,
// plus a synthetic self entry with since=0.
func (svc *FriendService) ListFriends(npid string) (*FriendListResponse, error) {
	file, err := svc.store.LoadFriends(npid)
	if err != nil {
		return nil, err
	}

	resp := &FriendListResponse{Friends: make([]FriendStatusEntry, 0, len(file.Friends))}
	for _, f := range file.Friends {
		resp.Friends = append(resp.Friends, svc.statusEntry(f.NPID, f.Since))
	}
	resp.Self = svc.statusEntry(npid, 0)
	return resp, nil
}

// ListRequests returns both request directions.
func (svc *FriendService) ListRequests(npid string) (*FriendRequestsResponse, error) {
	file, err := svc.store.LoadFriends(npid)
	if err != nil {
		return nil, err
	}
	return &FriendRequestsResponse{FriendRequests: file.FriendRequests}, nil
}

// ListBlocked returns the block list.
func (svc *FriendService) ListBlocked(npid string) (*BlockedListResponse, error) {
	file, err := svc.store.LoadFriends(npid)
	if err != nil {
		return nil, err
	}
	return &BlockedListResponse{PlayersBlocked: file.PlayersBlocked}, nil
}

// TrophySummary aggregates a user's trophies.xml. Users without one
// report the default level 1 summary.
func (svc *FriendService) TrophySummary(npid string) domain.TrophySummary {
	data, err := svc.store.ReadBlob(svc.store.TrophiesXMLPath(npid))
	if err != nil {
		return domain.DefaultTrophySummary()
	}
	return domain.TrophySummaryFromXML(data)
}

// ProfileResponse classifies the requester's relation to a target.
// Status and NowPlaying are attached for friends and self only; the
// Friends array carries the target's friends in those cases.
type ProfileResponse struct {
	NPID         string               `json:"npid"`
	Relationship string               `json:"relationship"`
	Friends      []domain.FriendEntry `json:"friends"`
	Trophies     domain.TrophySummary `json:"trophies"`
	Status       string               `json:"status,omitempty"`
	NowPlaying   *string              `json:"now_playing,omitempty"`
}

// Profile resolves the relationship with precedence blocked, friends,
// request_sent, request_received, self, none.
func (svc *FriendService) Profile(npid, target string) (*ProfileResponse, error) {
	target = domain.TrimNPID(target)
	if target == "" {
		return nil, domain.ErrMissingTargetNPID
	}

	var resp *ProfileResponse
	err := svc.store.ViewUsers(func(db *domain.UserDB) error {
		if _, ok := db.Users[target]; !ok {
			return domain.ErrUserNotFound
		}

		mine, err := svc.store.LoadFriends(npid)
		if err != nil {
			return err
		}

		resp = &ProfileResponse{
			NPID:     target,
			Friends:  []domain.FriendEntry{},
			Trophies: svc.TrophySummary(target),
		}

		attachPresence := func() {
			status, nowPlaying := svc.registry.Snapshot(target)
			resp.Status = status
			resp.NowPlaying = &nowPlaying
		}

		switch {
		case mine.IsBlocked(target):
			resp.Relationship = domain.RelationshipBlocked
		case mine.IsFriend(target):
			resp.Relationship = domain.RelationshipFriends
			theirs, err := svc.store.LoadFriends(target)
			if err != nil {
				return err
			}
			resp.Friends = theirs.Friends
			attachPresence()
		case mine.HasSent(target):
			resp.Relationship = domain.RelationshipRequestSent
		case mine.HasReceived(target):
			resp.Relationship = domain.RelationshipRequestReceived
		case npid == target:
			resp.Relationship = domain.RelationshipSelf
			resp.Friends = mine.Friends
			attachPresence()
		default:
			resp.Relationship = domain.RelationshipNone
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("profile requested", "npid", npid, "target", target, "relationship", resp.Relationship)
	return resp, nil
}

// SearchResult is one row of the NPID search.
type SearchResult struct {
	NPID string `json:"npid"`
}

// Search finds NPIDs containing query case-insensitively, excluding
// the requester, sorted alphabetically.
func (svc *FriendService) Search(npid, query string) ([]SearchResult, error) {
	if len(query) < 3 {
		return nil, domain.ErrQueryTooShort
	}
	needle := strings.ToLower(query)

	results := []SearchResult{}
	err := svc.store.ViewUsers(func(db *domain.UserDB) error {
		for candidate := range db.Users {
			if candidate == npid {
				continue
			}
			if strings.Contains(strings.ToLower(candidate), needle) {
				results = append(results, SearchResult{NPID: candidate})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].NPID < results[j].NPID })
	slog.Info("friend search", "npid", npid, "query", needle, "results", len(results))
	return results, nil
}

// UpdatePresence applies a heartbeat. When the user resumes online
// after being offline (or after only not_available beats since), a
// status_changed event goes to every friend currently in the presence
// table and their polls are woken.
func (svc *FriendService) UpdatePresence(npid, status, nowPlaying string) error {
	if status == "" {
		return domain.ErrMissingStatus
	}

	result, err := svc.registry.Heartbeat(npid, status, nowPlaying)
	if err != nil {
		return err
	}

	if result.StatusChanged {
		slog.Info("status changed", "npid", npid, "status", status)
		if result.Fanout {
			if err := svc.fanOutOnline(npid); err != nil {
				return err
			}
		}
	} else if result.NowPlayingChanged {
		slog.Info("now playing updated", "npid", npid, "now_playing", nowPlaying)
	}
	return nil
}

// fanOutOnline pushes a volatile online event to every online friend.
// Status events are not journaled; they are meaningless after the
// presence table resets on restart.
func (svc *FriendService) fanOutOnline(npid string) error {
	file, err := svc.store.LoadFriends(npid)
	if err != nil {
		return err
	}

	npids := make([]string, 0, len(file.Friends))
	for _, f := range file.Friends {
		npids = append(npids, f.NPID)
	}

	now := time.Now().Unix()
	for _, friend := range svc.registry.FilterOnline(npids) {
		svc.inbox.PushVolatile(friend, domain.Event{
			Type:   domain.EventStatusChanged,
			NPID:   npid,
			Status: domain.StatusOnline,
			At:     now,
		})
		svc.signals.Notify(friend)
	}
	return nil
}

// FriendPollResult is the non-empty poll body: status changes folded
// into friend_status, everything else under events.
type FriendPollResult struct {
	FriendStatus []domain.StatusUpdate `json:"friend_status"`
	Events       []domain.Event        `json:"events,omitempty"`
}

// foldEvents splits a drained inbox into the poll response shape,
// keeping at most one friends_request_received per sender.
func foldEvents(events []domain.Event) *FriendPollResult {
	result := &FriendPollResult{FriendStatus: []domain.StatusUpdate{}}
	seenRequests := make(map[string]bool)

	for _, ev := range events {
		switch ev.Type {
		case domain.EventStatusChanged:
			result.FriendStatus = append(result.FriendStatus, domain.StatusUpdate{NPID: ev.NPID, Status: ev.Status})
		case domain.EventRequestReceived:
			if !seenRequests[ev.NPID] {
				seenRequests[ev.NPID] = true
				result.Events = append(result.Events, ev)
			}
		default:
			result.Events = append(result.Events, ev)
		}
	}
	return result
}

// Poll drains the caller's inbox, parking on the per-NPID signal for
// the remaining budget when it is empty. A nil result is the timeout:
// the handler renders it as an empty object. The inbox is drain-on-
// read; since is accepted for the wire contract but not used to
// filter.
func (svc *FriendService) Poll(ctx context.Context, npid string, since int64) (*FriendPollResult, error) {
	_ = since

	waiter := svc.signals.Acquire(npid)
	defer waiter.Release()

	deadline := time.Now().Add(svc.budget)
	for {
		events, err := svc.inbox.Drain(npid)
		if err != nil {
			return nil, err
		}
		if len(events) > 0 {
			result := foldEvents(events)
			slog.Info("friends poll delivered", "npid", npid,
				"status_changes", len(result.FriendStatus), "events", len(result.Events))
			return result, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-waiter.Wake():
			timer.Stop()
		case <-timer.C:
		}
	}
}
