package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vita3k/v3kn/api/domain"
	"github.com/vita3k/v3kn/api/store"
)

type friendsHarness struct {
	store    *store.Store
	registry *PresenceRegistry
	inbox    *EventInbox
	signals  *PollSignals
	svc      *FriendService
}

func newFriendsHarness(t *testing.T) *friendsHarness {
	t.Helper()
	s := newTestStore(t)
	inbox, err := NewEventInbox(s)
	require.NoError(t, err)
	registry := NewPresenceRegistry()
	signals := NewPollSignals()
	return &friendsHarness{
		store:    s,
		registry: registry,
		inbox:    inbox,
		signals:  signals,
		svc:      NewFriendService(s, registry, inbox, signals, 200*time.Millisecond),
	}
}

func (h *friendsHarness) friendsOf(t *testing.T, npid string) *domain.FriendsFile {
	t.Helper()
	f, err := h.store.LoadFriends(npid)
	require.NoError(t, err)
	return f
}

// linkFriends writes the friendship directly, without the request
// dance, so inboxes stay clean for the assertions that follow.
func (h *friendsHarness) linkFriends(t *testing.T, a, b string) {
	t.Helper()
	now := time.Now().Unix()
	fa := h.friendsOf(t, a)
	fa.Friends = append(fa.Friends, domain.FriendEntry{NPID: b, Since: now})
	require.NoError(t, h.store.SaveFriends(a, fa))
	fb := h.friendsOf(t, b)
	fb.Friends = append(fb.Friends, domain.FriendEntry{NPID: a, Since: now})
	require.NoError(t, h.store.SaveFriends(b, fb))
}

func TestAddCreatesPendingRequest(t *testing.T) {
	h := newFriendsHarness(t)
	seedUser(t, h.store, "Aoife")
	seedUser(t, h.store, "Bram")

	added, err := h.svc.Add("Aoife", "Bram")
	require.NoError(t, err)
	assert.False(t, added)

	assert.True(t, h.friendsOf(t, "Aoife").HasSent("Bram"))
	assert.True(t, h.friendsOf(t, "Bram").HasReceived("Aoife"))

	events, err := h.inbox.Drain("Bram")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventRequestReceived, events[0].Type)
	assert.Equal(t, "Aoife", events[0].NPID)
}

func TestAddValidation(t *testing.T) {
	h := newFriendsHarness(t)
	seedUser(t, h.store, "Aoife")
	seedUser(t, h.store, "Bram")

	_, err := h.svc.Add("Aoife", "   ")
	assert.ErrorIs(t, err, domain.ErrMissingTargetNPID)

	_, err = h.svc.Add("Aoife", "Aoife")
	assert.ErrorIs(t, err, domain.ErrCannotAddYourself)

	_, err = h.svc.Add("Aoife", "Nobody")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	_, err = h.svc.Add("Aoife", "Bram")
	require.NoError(t, err)
	_, err = h.svc.Add("Aoife", "Bram")
	assert.ErrorIs(t, err, domain.ErrRequestAlreadySent)

	require.NoError(t, h.svc.Accept("Bram", "Aoife"))
	_, err = h.svc.Add("Aoife", "Bram")
	assert.ErrorIs(t, err, domain.ErrAlreadyFriends)
}

func TestAddAutoAcceptsMutualRequest(t *testing.T) {
	h := newFriendsHarness(t)
	seedUser(t, h.store, "Aoife")
	seedUser(t, h.store, "Bram")

	_, err := h.svc.Add("Aoife", "Bram")
	require.NoError(t, err)

	added, err := h.svc.Add("Bram", "Aoife")
	require.NoError(t, err)
	assert.True(t, added, "crossing requests collapse into a friendship")

	fa := h.friendsOf(t, "Aoife")
	fb := h.friendsOf(t, "Bram")
	assert.True(t, fa.IsFriend("Bram"))
	assert.True(t, fb.IsFriend("Aoife"))
	assert.Empty(t, fa.FriendRequests.Sent)
	assert.Empty(t, fa.FriendRequests.Received)
	assert.Empty(t, fb.FriendRequests.Sent)
	assert.Empty(t, fb.FriendRequests.Received)
}

func TestAcceptAndReject(t *testing.T) {
	h := newFriendsHarness(t)
	seedUser(t, h.store, "Aoife")
	seedUser(t, h.store, "Bram")

	err := h.svc.Accept("Bram", "Aoife")
	assert.ErrorIs(t, err, domain.ErrNoRequestFound)

	_, err = h.svc.Add("Aoife", "Bram")
	require.NoError(t, err)
	require.NoError(t, h.svc.Accept("Bram", "Aoife"))

	fa := h.friendsOf(t, "Aoife")
	fb := h.friendsOf(t, "Bram")
	assert.True(t, fa.IsFriend("Bram"))
	assert.True(t, fb.IsFriend("Aoife"))
	assert.False(t, fa.HasSent("Bram"))
	assert.False(t, fb.HasReceived("Aoife"))

	// Reject path on a fresh pair.
	seedUser(t, h.store, "Ciara")
	_, err = h.svc.Add("Aoife", "Ciara")
	require.NoError(t, err)
	require.NoError(t, h.svc.Reject("Ciara", "Aoife"))

	assert.False(t, h.friendsOf(t, "Aoife").HasSent("Ciara"))
	assert.False(t, h.friendsOf(t, "Ciara").HasReceived("Aoife"))
	assert.False(t, h.friendsOf(t, "Ciara").IsFriend("Aoife"))

	err = h.svc.Reject("Ciara", "Aoife")
	assert.ErrorIs(t, err, domain.ErrNoRequestFound)
}

func TestRemoveFriend(t *testing.T) {
	h := newFriendsHarness(t)
	seedUser(t, h.store, "Aoife")
	seedUser(t, h.store, "Bram")
	h.linkFriends(t, "Aoife", "Bram")

	require.NoError(t, h.svc.Remove("Aoife", "Bram"))
	assert.False(t, h.friendsOf(t, "Aoife").IsFriend("Bram"))
	assert.False(t, h.friendsOf(t, "Bram").IsFriend("Aoife"))

	err := h.svc.Remove("Aoife", "Bram")
	assert.ErrorIs(t, err, domain.ErrNotFriends)
}

func TestCancelScrubsPendingEvent(t *testing.T) {
	h := newFriendsHarness(t)
	seedUser(t, h.store, "Aoife")
	seedUser(t, h.store, "Bram")

	err := h.svc.Cancel("Aoife", "Bram")
	assert.ErrorIs(t, err, domain.ErrNoRequestFound)

	_, err = h.svc.Add("Aoife", "Bram")
	require.NoError(t, err)
	require.NoError(t, h.svc.Cancel("Aoife", "Bram"))

	assert.False(t, h.friendsOf(t, "Aoife").HasSent("Bram"))
	assert.False(t, h.friendsOf(t, "Bram").HasReceived("Aoife"))

	// The cancelled request must not surface on Bram's next poll.
	events, err := h.inbox.Drain("Bram")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestBlockEndsFriendship(t *testing.T) {
	h := newFriendsHarness(t)
	seedUser(t, h.store, "Aoife")
	seedUser(t, h.store, "Bram")
	h.linkFriends(t, "Aoife", "Bram")

	require.NoError(t, h.svc.Block("Bram", "Aoife"))

	fb := h.friendsOf(t, "Bram")
	assert.True(t, fb.IsBlocked("Aoife"))
	assert.False(t, fb.IsFriend("Aoife"))
	assert.False(t, h.friendsOf(t, "Aoife").IsFriend("Bram"))

	// Blocking twice stays a single entry.
	require.NoError(t, h.svc.Block("Bram", "Aoife"))
	assert.Len(t, h.friendsOf(t, "Bram").PlayersBlocked, 1)
}

func TestBlockValidation(t *testing.T) {
	h := newFriendsHarness(t)
	seedUser(t, h.store, "Aoife")

	err := h.svc.Block("Aoife", "")
	assert.ErrorIs(t, err, domain.ErrMissingTargetNPID)

	err = h.svc.Block("Aoife", "Aoife")
	assert.ErrorIs(t, err, domain.ErrCannotBlockYourself)

	err = h.svc.Block("Aoife", "Nobody")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestRequestToBlockerStaysSilent(t *testing.T) {
	h := newFriendsHarness(t)
	seedUser(t, h.store, "Aoife")
	seedUser(t, h.store, "Bram")

	require.NoError(t, h.svc.Block("Bram", "Aoife"))

	added, err := h.svc.Add("Aoife", "Bram")
	require.NoError(t, err, "the requester must not learn they are blocked")
	assert.False(t, added)

	assert.True(t, h.friendsOf(t, "Aoife").HasSent("Bram"))
	assert.False(t, h.friendsOf(t, "Bram").HasReceived("Aoife"))
	assert.Zero(t, h.inbox.Pending(), "no event reaches the blocker")

	// Unblocking surfaces the request that waited silently.
	require.NoError(t, h.svc.Unblock("Bram", "Aoife"))
	fb := h.friendsOf(t, "Bram")
	assert.False(t, fb.IsBlocked("Aoife"))
	assert.True(t, fb.HasReceived("Aoife"))

	require.NoError(t, h.svc.Accept("Bram", "Aoife"))
	assert.True(t, h.friendsOf(t, "Aoife").IsFriend("Bram"))
	assert.True(t, h.friendsOf(t, "Bram").IsFriend("Aoife"))
}

func TestBlockPendingIncomingRequest(t *testing.T) {
	h := newFriendsHarness(t)
	seedUser(t, h.store, "Aoife")
	seedUser(t, h.store, "Bram")

	_, err := h.svc.Add("Aoife", "Bram")
	require.NoError(t, err)

	// Blocking hides the request from Bram but leaves Aoife's sent
	// entry alone; she is never told.
	require.NoError(t, h.svc.Block("Bram", "Aoife"))
	assert.False(t, h.friendsOf(t, "Bram").HasReceived("Aoife"))
	assert.True(t, h.friendsOf(t, "Aoife").HasSent("Bram"))

	require.NoError(t, h.svc.Unblock("Bram", "Aoife"))
	assert.True(t, h.friendsOf(t, "Bram").HasReceived("Aoife"))
}

func TestUnblockWithoutPendingRequest(t *testing.T) {
	h := newFriendsHarness(t)
	seedUser(t, h.store, "Aoife")
	seedUser(t, h.store, "Bram")

	require.NoError(t, h.svc.Block("Aoife", "Bram"))
	require.NoError(t, h.svc.Unblock("Aoife", "Bram"))

	fa := h.friendsOf(t, "Aoife")
	assert.False(t, fa.IsBlocked("Bram"))
	assert.Empty(t, fa.FriendRequests.Received)

	// Unblocking someone who was never blocked is a no-op.
	require.NoError(t, h.svc.Unblock("Aoife", "Bram"))
}

func TestListFriendsEnrichment(t *testing.T) {
	h := newFriendsHarness(t)
	seedUser(t, h.store, "Aoife")
	seedUser(t, h.store, "Bram")
	h.linkFriends(t, "Aoife", "Bram")

	_, err := h.registry.Heartbeat("Bram", domain.StatusOnline, "Tearaway")
	require.NoError(t, err)

	resp, err := h.svc.ListFriends("Aoife")
	require.NoError(t, err)
	require.Len(t, resp.Friends, 1)

	friend := resp.Friends[0]
	assert.Equal(t, "Bram", friend.NPID)
	assert.NotZero(t, friend.Since)
	assert.Equal(t, domain.StatusOnline, friend.Status)
	assert.Equal(t, "Tearaway", friend.NowPlaying)
	assert.Equal(t, 1, friend.TrophyLevel)

	assert.Equal(t, "Aoife", resp.Self.NPID)
	assert.Zero(t, resp.Self.Since)
	assert.Equal(t, domain.StatusOffline, resp.Self.Status)
}

func TestListRequestsAndBlocked(t *testing.T) {
	h := newFriendsHarness(t)
	seedUser(t, h.store, "Aoife")
	seedUser(t, h.store, "Bram")
	seedUser(t, h.store, "Ciara")

	_, err := h.svc.Add("Aoife", "Bram")
	require.NoError(t, err)
	require.NoError(t, h.svc.Block("Aoife", "Ciara"))

	reqs, err := h.svc.ListRequests("Aoife")
	require.NoError(t, err)
	require.Len(t, reqs.FriendRequests.Sent, 1)
	assert.Equal(t, "Bram", reqs.FriendRequests.Sent[0].NPID)
	assert.Empty(t, reqs.FriendRequests.Received)

	blocked, err := h.svc.ListBlocked("Aoife")
	require.NoError(t, err)
	require.Len(t, blocked.PlayersBlocked, 1)
	assert.Equal(t, "Ciara", blocked.PlayersBlocked[0].NPID)
}

func TestProfileRelationships(t *testing.T) {
	h := newFriendsHarness(t)
	seedUser(t, h.store, "Aoife")
	seedUser(t, h.store, "Bram")
	seedUser(t, h.store, "Ciara")
	seedUser(t, h.store, "Dara")
	seedUser(t, h.store, "Eoin")

	_, err := h.svc.Profile("Aoife", "")
	assert.ErrorIs(t, err, domain.ErrMissingTargetNPID)
	_, err = h.svc.Profile("Aoife", "Nobody")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	h.linkFriends(t, "Aoife", "Bram")
	_, err = h.svc.Add("Aoife", "Ciara")
	require.NoError(t, err)
	_, err = h.svc.Add("Dara", "Aoife")
	require.NoError(t, err)
	require.NoError(t, h.svc.Block("Aoife", "Eoin"))

	_, err = h.registry.Heartbeat("Bram", domain.StatusOnline, "Spelunky")
	require.NoError(t, err)

	p, err := h.svc.Profile("Aoife", "Bram")
	require.NoError(t, err)
	assert.Equal(t, domain.RelationshipFriends, p.Relationship)
	assert.Equal(t, domain.StatusOnline, p.Status)
	require.NotNil(t, p.NowPlaying)
	assert.Equal(t, "Spelunky", *p.NowPlaying)
	require.Len(t, p.Friends, 1, "a friend's profile exposes their friend list")
	assert.Equal(t, "Aoife", p.Friends[0].NPID)

	p, err = h.svc.Profile("Aoife", "Ciara")
	require.NoError(t, err)
	assert.Equal(t, domain.RelationshipRequestSent, p.Relationship)
	assert.Empty(t, p.Status)
	assert.Nil(t, p.NowPlaying)
	assert.Empty(t, p.Friends)

	p, err = h.svc.Profile("Aoife", "Dara")
	require.NoError(t, err)
	assert.Equal(t, domain.RelationshipRequestReceived, p.Relationship)

	p, err = h.svc.Profile("Aoife", "Eoin")
	require.NoError(t, err)
	assert.Equal(t, domain.RelationshipBlocked, p.Relationship)

	p, err = h.svc.Profile("Aoife", "Aoife")
	require.NoError(t, err)
	assert.Equal(t, domain.RelationshipSelf, p.Relationship)
	assert.Equal(t, domain.StatusOffline, p.Status)
	require.Len(t, p.Friends, 1)

	p, err = h.svc.Profile("Ciara", "Dara")
	require.NoError(t, err)
	assert.Equal(t, domain.RelationshipNone, p.Relationship)
	assert.Equal(t, 1, p.Trophies.Level)
}

func TestSearch(t *testing.T) {
	h := newFriendsHarness(t)
	seedUser(t, h.store, "Sasha")
	seedUser(t, h.store, "Natasha")
	seedUser(t, h.store, "Bram")

	_, err := h.svc.Search("Bram", "as")
	assert.ErrorIs(t, err, domain.ErrQueryTooShort)

	results, err := h.svc.Search("Bram", "ASH")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Natasha", results[0].NPID)
	assert.Equal(t, "Sasha", results[1].NPID)

	// The requester never matches themselves.
	results, err = h.svc.Search("Sasha", "ash")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Natasha", results[0].NPID)

	results, err = h.svc.Search("Bram", "zzz")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestUpdatePresenceFansOutToOnlineFriends(t *testing.T) {
	h := newFriendsHarness(t)
	seedUser(t, h.store, "Aoife")
	seedUser(t, h.store, "Bram")
	seedUser(t, h.store, "Ciara")
	h.linkFriends(t, "Aoife", "Bram")
	h.linkFriends(t, "Aoife", "Ciara")

	err := h.svc.UpdatePresence("Aoife", "", "")
	assert.ErrorIs(t, err, domain.ErrMissingStatus)
	err = h.svc.UpdatePresence("Aoife", "busy", "")
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)

	// Bram is online, Ciara is not; only Bram hears about Aoife.
	require.NoError(t, h.svc.UpdatePresence("Bram", domain.StatusOnline, ""))
	require.NoError(t, h.svc.UpdatePresence("Aoife", domain.StatusOnline, "Tearaway"))

	events, err := h.inbox.Drain("Bram")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventStatusChanged, events[0].Type)
	assert.Equal(t, "Aoife", events[0].NPID)
	assert.Equal(t, domain.StatusOnline, events[0].Status)

	events, err = h.inbox.Drain("Ciara")
	require.NoError(t, err)
	assert.Empty(t, events)

	// A repeat online beat is not a new announcement.
	require.NoError(t, h.svc.UpdatePresence("Aoife", domain.StatusOnline, "Tearaway"))
	events, err = h.inbox.Drain("Bram")
	require.NoError(t, err)
	assert.Empty(t, events)

	// A full disconnect and return is.
	require.NoError(t, h.svc.UpdatePresence("Aoife", domain.StatusOffline, ""))
	require.NoError(t, h.svc.UpdatePresence("Aoife", domain.StatusOnline, ""))
	events, err = h.inbox.Drain("Bram")
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestPollFoldsDrainedEvents(t *testing.T) {
	h := newFriendsHarness(t)
	seedUser(t, h.store, "Aoife")

	now := time.Now().Unix()
	h.inbox.PushVolatile("Aoife", domain.Event{Type: domain.EventStatusChanged, NPID: "Bram", Status: domain.StatusOnline, At: now})
	h.inbox.PushVolatile("Aoife", domain.Event{Type: domain.EventStatusChanged, NPID: "Ciara", Status: domain.StatusOnline, At: now})
	require.NoError(t, h.inbox.Push("Aoife", domain.Event{Type: domain.EventRequestReceived, NPID: "Dara", At: now}))
	require.NoError(t, h.inbox.Push("Aoife", domain.Event{Type: domain.EventRequestReceived, NPID: "Dara", At: now + 1}))
	require.NoError(t, h.inbox.Push("Aoife", domain.Event{Type: domain.EventRequestReceived, NPID: "Eoin", At: now}))

	result, err := h.svc.Poll(context.Background(), "Aoife", 0)
	require.NoError(t, err)
	require.NotNil(t, result)

	require.Len(t, result.FriendStatus, 2)
	assert.Equal(t, "Bram", result.FriendStatus[0].NPID)
	assert.Equal(t, "Ciara", result.FriendStatus[1].NPID)

	// The duplicate request from Dara collapses to one event.
	require.Len(t, result.Events, 2)
	assert.Equal(t, "Dara", result.Events[0].NPID)
	assert.Equal(t, "Eoin", result.Events[1].NPID)

	// Drained means drained.
	assert.Zero(t, h.inbox.Pending())
}

func TestPollTimesOutEmpty(t *testing.T) {
	h := newFriendsHarness(t)
	seedUser(t, h.store, "Aoife")

	start := time.Now()
	result, err := h.svc.Poll(context.Background(), "Aoife", 0)
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}

func TestPollWakesOnIncomingRequest(t *testing.T) {
	h := newFriendsHarness(t)
	seedUser(t, h.store, "Aoife")
	seedUser(t, h.store, "Bram")

	type pollOutcome struct {
		result *FriendPollResult
		err    error
	}
	done := make(chan pollOutcome, 1)
	go func() {
		result, err := h.svc.Poll(context.Background(), "Aoife", 0)
		done <- pollOutcome{result, err}
	}()

	time.Sleep(30 * time.Millisecond)
	_, err := h.svc.Add("Bram", "Aoife")
	require.NoError(t, err)

	select {
	case out := <-done:
		require.NoError(t, out.err)
		require.NotNil(t, out.result, "the poll should deliver, not time out")
		require.Len(t, out.result.Events, 1)
		assert.Equal(t, domain.EventRequestReceived, out.result.Events[0].Type)
		assert.Equal(t, "Bram", out.result.Events[0].NPID)
	case <-time.After(time.Second):
		t.Fatal("poll did not wake on the request event")
	}
}

func TestPollHonorsContextCancel(t *testing.T) {
	h := newFriendsHarness(t)
	seedUser(t, h.store, "Aoife")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := h.svc.Poll(ctx, "Aoife", 0)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("poll did not observe cancellation")
	}
}
