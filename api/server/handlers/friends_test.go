package handlers_test

import (
	"encoding/json"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vita3k/v3kn/api/domain"
	"github.com/vita3k/v3kn/api/services"
)

// listGroup fetches one friends/list group and decodes it into out.
func (ts *testServer) listGroup(token, group string, out any) {
	ts.t.Helper()
	rec := ts.get("/v3kn/friends/list?group="+group, token)
	require.Equal(ts.t, "application/json", rec.Header().Get("Content-Type"), rec.Body.String())
	require.NoError(ts.t, json.Unmarshal(rec.Body.Bytes(), out))
}

func TestFriendRequestLifecycle(t *testing.T) {
	ts := newTestServer(t)
	alpha := ts.createUser("Alpha", "pw")
	bravo := ts.createUser("Bravo", "pw")

	rec := ts.postForm("/v3kn/friends/add", alpha, url.Values{"target_npid": {"Bravo"}})
	assert.Equal(t, "OK:RequestSent", rec.Body.String())

	var requests services.FriendRequestsResponse
	ts.listGroup(alpha, "friend_requests", &requests)
	require.Len(t, requests.FriendRequests.Sent, 1)
	assert.Equal(t, "Bravo", requests.FriendRequests.Sent[0].NPID)

	ts.listGroup(bravo, "friend_requests", &requests)
	require.Len(t, requests.FriendRequests.Received, 1)
	assert.Equal(t, "Alpha", requests.FriendRequests.Received[0].NPID)

	rec = ts.postForm("/v3kn/friends/accept", bravo, url.Values{"target_npid": {"Alpha"}})
	assert.Equal(t, "OK:FriendAdded", rec.Body.String())

	var friends services.FriendListResponse
	ts.listGroup(alpha, "friends", &friends)
	require.Len(t, friends.Friends, 1)
	assert.Equal(t, "Bravo", friends.Friends[0].NPID)
	assert.Equal(t, domain.StatusOffline, friends.Friends[0].Status)
	assert.Equal(t, "Alpha", friends.Self.NPID)

	ts.listGroup(bravo, "friends", &friends)
	require.Len(t, friends.Friends, 1)
	assert.Equal(t, "Alpha", friends.Friends[0].NPID)

	ts.listGroup(alpha, "friend_requests", &requests)
	assert.Empty(t, requests.FriendRequests.Sent)
	assert.Empty(t, requests.FriendRequests.Received)

	rec = ts.postForm("/v3kn/friends/remove", alpha, url.Values{"target_npid": {"Bravo"}})
	assert.Equal(t, "OK:FriendRemoved", rec.Body.String())
	ts.listGroup(bravo, "friends", &friends)
	assert.Empty(t, friends.Friends)
}

func TestMutualAddAutoAccepts(t *testing.T) {
	ts := newTestServer(t)
	alpha := ts.createUser("Alpha", "pw")
	bravo := ts.createUser("Bravo", "pw")

	rec := ts.postForm("/v3kn/friends/add", alpha, url.Values{"target_npid": {"Bravo"}})
	assert.Equal(t, "OK:RequestSent", rec.Body.String())
	rec = ts.postForm("/v3kn/friends/add", bravo, url.Values{"target_npid": {"Alpha"}})
	assert.Equal(t, "OK:FriendAdded", rec.Body.String())

	var friends services.FriendListResponse
	ts.listGroup(alpha, "friends", &friends)
	require.Len(t, friends.Friends, 1)
	assert.Equal(t, "Bravo", friends.Friends[0].NPID)
	ts.listGroup(bravo, "friends", &friends)
	require.Len(t, friends.Friends, 1)
	assert.Equal(t, "Alpha", friends.Friends[0].NPID)

	// No pending requests survive on either side.
	var requests services.FriendRequestsResponse
	ts.listGroup(alpha, "friend_requests", &requests)
	assert.Empty(t, requests.FriendRequests.Sent)
	assert.Empty(t, requests.FriendRequests.Received)
	ts.listGroup(bravo, "friend_requests", &requests)
	assert.Empty(t, requests.FriendRequests.Sent)
	assert.Empty(t, requests.FriendRequests.Received)
}

func TestRejectAndCancel(t *testing.T) {
	ts := newTestServer(t)
	alpha := ts.createUser("Alpha", "pw")
	bravo := ts.createUser("Bravo", "pw")

	rec := ts.postForm("/v3kn/friends/add", alpha, url.Values{"target_npid": {"Bravo"}})
	require.Equal(t, "OK:RequestSent", rec.Body.String())
	rec = ts.postForm("/v3kn/friends/reject", bravo, url.Values{"target_npid": {"Alpha"}})
	assert.Equal(t, "OK:RequestRejected", rec.Body.String())

	var requests services.FriendRequestsResponse
	ts.listGroup(alpha, "friend_requests", &requests)
	assert.Empty(t, requests.FriendRequests.Sent)

	rec = ts.postForm("/v3kn/friends/add", alpha, url.Values{"target_npid": {"Bravo"}})
	require.Equal(t, "OK:RequestSent", rec.Body.String())
	rec = ts.postForm("/v3kn/friends/cancel", alpha, url.Values{"target_npid": {"Bravo"}})
	assert.Equal(t, "OK:RequestCancelled", rec.Body.String())

	ts.listGroup(bravo, "friend_requests", &requests)
	assert.Empty(t, requests.FriendRequests.Received)

	rec = ts.postForm("/v3kn/friends/cancel", alpha, url.Values{"target_npid": {"Bravo"}})
	assert.Equal(t, "ERR:NoRequestFound", rec.Body.String())
}

func TestBlockHidesAndUnblockResurrects(t *testing.T) {
	ts := newTestServer(t)
	alpha := ts.createUser("Alpha", "pw")
	bravo := ts.createUser("Bravo", "pw")

	rec := ts.postForm("/v3kn/friends/block", alpha, url.Values{"target_npid": {"Bravo"}})
	assert.Equal(t, "OK:PlayerBlocked", rec.Body.String())

	var blocked services.BlockedListResponse
	ts.listGroup(alpha, "players_blocked", &blocked)
	require.Len(t, blocked.PlayersBlocked, 1)
	assert.Equal(t, "Bravo", blocked.PlayersBlocked[0].NPID)

	// The blocked side's request lands silently: stored on Bravo only.
	rec = ts.postForm("/v3kn/friends/add", bravo, url.Values{"target_npid": {"Alpha"}})
	assert.Equal(t, "OK:RequestSent", rec.Body.String())

	var requests services.FriendRequestsResponse
	ts.listGroup(alpha, "friend_requests", &requests)
	assert.Empty(t, requests.FriendRequests.Received)
	ts.listGroup(bravo, "friend_requests", &requests)
	require.Len(t, requests.FriendRequests.Sent, 1)
	assert.Equal(t, "Alpha", requests.FriendRequests.Sent[0].NPID)

	rec = ts.postForm("/v3kn/friends/unblock", alpha, url.Values{"target_npid": {"Bravo"}})
	assert.Equal(t, "OK:PlayerUnblocked", rec.Body.String())

	// The silent request resurfaces and can be accepted.
	ts.listGroup(alpha, "friend_requests", &requests)
	require.Len(t, requests.FriendRequests.Received, 1)
	assert.Equal(t, "Bravo", requests.FriendRequests.Received[0].NPID)

	rec = ts.postForm("/v3kn/friends/accept", alpha, url.Values{"target_npid": {"Bravo"}})
	assert.Equal(t, "OK:FriendAdded", rec.Body.String())

	var friends services.FriendListResponse
	ts.listGroup(bravo, "friends", &friends)
	require.Len(t, friends.Friends, 1)
	assert.Equal(t, "Alpha", friends.Friends[0].NPID)
}

func TestPresenceFanOutWakesFriendPoll(t *testing.T) {
	ts := newTestServer(t)
	alpha := ts.createUser("Alpha", "pw")
	charlie := ts.createUser("Charlie", "pw")
	ts.befriend(alpha, "Alpha", charlie, "Charlie")

	rec := ts.postForm("/v3kn/friends/presence", charlie, url.Values{"status": {"online"}})
	require.Equal(t, "OK", rec.Body.String())

	// First poll drains the request event left by the handshake.
	rec = ts.get("/v3kn/friends/poll", charlie)
	var drained struct {
		FriendStatus []domain.StatusUpdate `json:"friend_status"`
		Events       []domain.Event        `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &drained))
	assert.Empty(t, drained.FriendStatus)
	require.Len(t, drained.Events, 1)
	assert.Equal(t, domain.EventRequestReceived, drained.Events[0].Type)
	assert.Equal(t, "Alpha", drained.Events[0].NPID)

	// Park the next poll, then bring Alpha online.
	bodies := make(chan string, 1)
	go func() {
		bodies <- ts.get("/v3kn/friends/poll", charlie).Body.String()
	}()
	time.Sleep(100 * time.Millisecond)

	rec = ts.postForm("/v3kn/friends/presence", alpha, url.Values{
		"status":      {"online"},
		"now_playing": {"Wipeout 2048"},
	})
	require.Equal(t, "OK", rec.Body.String())

	select {
	case body := <-bodies:
		assert.Equal(t, "{\"friend_status\":[{\"npid\":\"Alpha\",\"status\":\"online\"}]}\n", body)
	case <-time.After(2 * time.Second):
		t.Fatal("poll did not wake on presence fan-out")
	}
}

func TestFriendPollRejectsBadSince(t *testing.T) {
	ts := newTestServer(t)
	alpha := ts.createUser("Alpha", "pw")

	// A garbage watermark fails fast instead of parking for the budget.
	start := time.Now()
	rec := ts.get("/v3kn/friends/poll?since=notanumber", alpha)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, "ERR:InvalidTimestamp", rec.Body.String())
}

func TestFriendPollTimesOutEmpty(t *testing.T) {
	ts := newTestServer(t, withPollBudget(150*time.Millisecond))
	alpha := ts.createUser("Alpha", "pw")

	start := time.Now()
	rec := ts.get("/v3kn/friends/poll", alpha)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "{}\n", rec.Body.String())
}

func TestPresenceValidation(t *testing.T) {
	ts := newTestServer(t)
	alpha := ts.createUser("Alpha", "pw")

	rec := ts.postForm("/v3kn/friends/presence", alpha, url.Values{})
	assert.Equal(t, "ERR:MissingStatus", rec.Body.String())

	rec = ts.postForm("/v3kn/friends/presence", alpha, url.Values{"status": {"sleeping"}})
	assert.Equal(t, "ERR:InvalidStatus", rec.Body.String())

	rec = ts.postForm("/v3kn/friends/presence", alpha, url.Values{
		"status":      {"online"},
		"now_playing": {"Tearaway"},
	})
	assert.Equal(t, "OK", rec.Body.String())

	var friends services.FriendListResponse
	ts.listGroup(alpha, "friends", &friends)
	assert.Equal(t, domain.StatusOnline, friends.Self.Status)
	assert.Equal(t, "Tearaway", friends.Self.NowPlaying)
}

func TestFriendErrorKinds(t *testing.T) {
	ts := newTestServer(t)
	alpha := ts.createUser("Alpha", "pw")
	ts.createUser("Bravo", "pw")

	rec := ts.postForm("/v3kn/friends/add", alpha, url.Values{"target_npid": {"Alpha"}})
	assert.Equal(t, "ERR:CannotAddYourself", rec.Body.String())
	rec = ts.postForm("/v3kn/friends/add", alpha, url.Values{"target_npid": {"Ghost"}})
	assert.Equal(t, "ERR:UserNotFound", rec.Body.String())
	rec = ts.postForm("/v3kn/friends/add", alpha, url.Values{})
	assert.Equal(t, "ERR:MissingTargetNPID", rec.Body.String())

	rec = ts.postForm("/v3kn/friends/add", alpha, url.Values{"target_npid": {"Bravo"}})
	require.Equal(t, "OK:RequestSent", rec.Body.String())
	rec = ts.postForm("/v3kn/friends/add", alpha, url.Values{"target_npid": {"Bravo"}})
	assert.Equal(t, "ERR:RequestAlreadySent", rec.Body.String())

	rec = ts.postForm("/v3kn/friends/accept", alpha, url.Values{"target_npid": {"Bravo"}})
	assert.Equal(t, "ERR:NoRequestFound", rec.Body.String())
	rec = ts.postForm("/v3kn/friends/remove", alpha, url.Values{"target_npid": {"Bravo"}})
	assert.Equal(t, "ERR:NotFriends", rec.Body.String())
	rec = ts.postForm("/v3kn/friends/block", alpha, url.Values{"target_npid": {"Alpha"}})
	assert.Equal(t, "ERR:CannotBlockYourself", rec.Body.String())

	rec = ts.get("/v3kn/friends/list", alpha)
	assert.Equal(t, "ERR:MissingGroup", rec.Body.String())
	rec = ts.get("/v3kn/friends/list?group=enemies", alpha)
	assert.Equal(t, "ERR:InvalidGroup", rec.Body.String())
}

func TestSearchAndProfile(t *testing.T) {
	ts := newTestServer(t)
	alpha := ts.createUser("AlphaOne", "pw")
	ts.createUser("AlphaTwo", "pw")
	ts.createUser("Bravo", "pw")

	rec := ts.get("/v3kn/friends/search?query=al", alpha)
	assert.Equal(t, "ERR:QueryTooShort", rec.Body.String())

	// Case-insensitive, requester excluded.
	rec = ts.get("/v3kn/friends/search?query=alpha", alpha)
	var results []services.SearchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "AlphaTwo", results[0].NPID)

	rec = ts.get("/v3kn/friends/search?query=zzz", alpha)
	assert.Equal(t, "[]\n", rec.Body.String())

	rec = ts.get("/v3kn/friends/profile?target_npid=Bravo", alpha)
	var profile services.ProfileResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &profile))
	assert.Equal(t, "Bravo", profile.NPID)
	assert.Equal(t, domain.RelationshipNone, profile.Relationship)

	rec = ts.get("/v3kn/friends/profile?target_npid=Ghost", alpha)
	assert.Equal(t, "ERR:UserNotFound", rec.Body.String())
	rec = ts.get("/v3kn/friends/profile", alpha)
	assert.Equal(t, "ERR:MissingTargetNPID", rec.Body.String())
}
