package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/vita3k/v3kn/api/domain"
	"github.com/vita3k/v3kn/api/services"
)

// FriendHandler serves the social graph: requests, blocks, presence,
// search, and the friends long poll.
type FriendHandler struct {
	friends *services.FriendService
}

func NewFriendHandler(friends *services.FriendService) *FriendHandler {
	return &FriendHandler{friends: friends}
}

// Add handles POST /v3kn/friends/add (target_npid). Mutual pending
// requests collapse into a friendship.
func (h *FriendHandler) Add(w http.ResponseWriter, r *http.Request) {
	added, err := h.friends.Add(NPIDFromContext(r.Context()), r.FormValue("target_npid"))
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	if added {
		respondOK(w, "FriendAdded")
		return
	}
	respondOK(w, "RequestSent")
}

// Accept handles POST /v3kn/friends/accept (target_npid).
func (h *FriendHandler) Accept(w http.ResponseWriter, r *http.Request) {
	if err := h.friends.Accept(NPIDFromContext(r.Context()), r.FormValue("target_npid")); err != nil {
		WriteErr(w, r, err)
		return
	}
	respondOK(w, "FriendAdded")
}

// Reject handles POST /v3kn/friends/reject (target_npid).
func (h *FriendHandler) Reject(w http.ResponseWriter, r *http.Request) {
	if err := h.friends.Reject(NPIDFromContext(r.Context()), r.FormValue("target_npid")); err != nil {
		WriteErr(w, r, err)
		return
	}
	respondOK(w, "RequestRejected")
}

// Remove handles POST /v3kn/friends/remove (target_npid).
func (h *FriendHandler) Remove(w http.ResponseWriter, r *http.Request) {
	if err := h.friends.Remove(NPIDFromContext(r.Context()), r.FormValue("target_npid")); err != nil {
		WriteErr(w, r, err)
		return
	}
	respondOK(w, "FriendRemoved")
}

// Cancel handles POST /v3kn/friends/cancel (target_npid).
func (h *FriendHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.friends.Cancel(NPIDFromContext(r.Context()), r.FormValue("target_npid")); err != nil {
		WriteErr(w, r, err)
		return
	}
	respondOK(w, "RequestCancelled")
}

// Block handles POST /v3kn/friends/block (target_npid).
func (h *FriendHandler) Block(w http.ResponseWriter, r *http.Request) {
	if err := h.friends.Block(NPIDFromContext(r.Context()), r.FormValue("target_npid")); err != nil {
		WriteErr(w, r, err)
		return
	}
	respondOK(w, "PlayerBlocked")
}

// Unblock handles POST /v3kn/friends/unblock (target_npid).
func (h *FriendHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	if err := h.friends.Unblock(NPIDFromContext(r.Context()), r.FormValue("target_npid")); err != nil {
		WriteErr(w, r, err)
		return
	}
	respondOK(w, "PlayerUnblocked")
}

// Presence handles POST /v3kn/friends/presence (status, now_playing),
// the console heartbeat. The response is a bare OK.
func (h *FriendHandler) Presence(w http.ResponseWriter, r *http.Request) {
	err := h.friends.UpdatePresence(NPIDFromContext(r.Context()), r.FormValue("status"), r.FormValue("now_playing"))
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	respondOK(w, "")
}

// List handles GET /v3kn/friends/list?group=.
func (h *FriendHandler) List(w http.ResponseWriter, r *http.Request) {
	npid := NPIDFromContext(r.Context())

	switch r.URL.Query().Get("group") {
	case "":
		WriteErr(w, r, domain.ErrMissingGroup)
	case "friends":
		res, err := h.friends.ListFriends(npid)
		if err != nil {
			WriteErr(w, r, err)
			return
		}
		respondJSON(w, res)
	case "friend_requests":
		res, err := h.friends.ListRequests(npid)
		if err != nil {
			WriteErr(w, r, err)
			return
		}
		respondJSON(w, res)
	case "players_blocked":
		res, err := h.friends.ListBlocked(npid)
		if err != nil {
			WriteErr(w, r, err)
			return
		}
		respondJSON(w, res)
	default:
		WriteErr(w, r, domain.ErrInvalidGroup)
	}
}

// Profile handles GET /v3kn/friends/profile?target_npid=.
func (h *FriendHandler) Profile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.friends.Profile(NPIDFromContext(r.Context()), r.URL.Query().Get("target_npid"))
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	respondJSON(w, profile)
}

// Search handles GET /v3kn/friends/search?query=.
func (h *FriendHandler) Search(w http.ResponseWriter, r *http.Request) {
	results, err := h.friends.Search(NPIDFromContext(r.Context()), r.URL.Query().Get("query"))
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	respondJSON(w, results)
}

// Poll handles GET /v3kn/friends/poll?since=. Timeouts and server
// shutdown both render the empty object the console treats as "nothing
// new".
func (h *FriendHandler) Poll(w http.ResponseWriter, r *http.Request) {
	npid := NPIDFromContext(r.Context())
	since, err := sinceQuery(r)
	if err != nil {
		WriteErr(w, r, err)
		return
	}

	result, err := h.friends.Poll(r.Context(), npid, since)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			respondJSON(w, struct{}{})
			return
		}
		WriteErr(w, r, err)
		return
	}
	if result == nil {
		respondJSON(w, struct{}{})
		return
	}
	respondJSON(w, result)
}
