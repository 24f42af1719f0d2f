package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/vita3k/v3kn/api/domain"
	"github.com/vita3k/v3kn/api/services"
	"github.com/vita3k/v3kn/pkg/otel"
)

// MessageHandler serves group messaging and the messages long poll.
// The create/delete/add/leave family takes JSON bodies; the shape
// checks live in the service so malformed payloads map to the right
// protocol error.
type MessageHandler struct {
	messages *services.MessageService
}

func NewMessageHandler(messages *services.MessageService) *MessageHandler {
	return &MessageHandler{messages: messages}
}

// Create handles POST /v3kn/messages/create with a JSON body of
// participants and an opening message.
func (h *MessageHandler) Create(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	id, err := h.messages.Create(NPIDFromContext(r.Context()), body)
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	respondOK(w, "ConversationCreated:"+id)
}

// Send handles POST /v3kn/messages/send (conversation_id, message).
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	id := r.FormValue("conversation_id")
	otel.TagConversation(r.Context(), id)

	if err := h.messages.Send(NPIDFromContext(r.Context()), id, r.FormValue("message")); err != nil {
		WriteErr(w, r, err)
		return
	}
	respondOK(w, "MessageSent")
}

// Delete handles POST /v3kn/messages/delete with a JSON body of the
// conversation and the timestamps of the caller's messages to drop.
func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	n, err := h.messages.Delete(NPIDFromContext(r.Context()), body)
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	respondOK(w, fmt.Sprintf("MessagesDeleted:%d", n))
}

// AddParticipant handles POST /v3kn/messages/add_participant.
func (h *MessageHandler) AddParticipant(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	if err := h.messages.AddParticipant(NPIDFromContext(r.Context()), body); err != nil {
		WriteErr(w, r, err)
		return
	}
	respondOK(w, "ParticipantAdded")
}

// Leave handles POST /v3kn/messages/leave.
func (h *MessageHandler) Leave(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	if err := h.messages.Leave(NPIDFromContext(r.Context()), body); err != nil {
		WriteErr(w, r, err)
		return
	}
	respondOK(w, "LeftConversation")
}

// DeleteConversation handles POST /v3kn/messages/delete_conversation.
// Creator only.
func (h *MessageHandler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	if err := h.messages.DeleteConversation(NPIDFromContext(r.Context()), body); err != nil {
		WriteErr(w, r, err)
		return
	}
	respondOK(w, "ConversationDeleted")
}

// Conversations handles GET /v3kn/messages/conversations.
func (h *MessageHandler) Conversations(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.messages.List(NPIDFromContext(r.Context()))
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	respondJSON(w, summaries)
}

// Read handles GET /v3kn/messages/read?conversation_id=.
func (h *MessageHandler) Read(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("conversation_id")
	otel.TagConversation(r.Context(), id)

	msgs, err := h.messages.Read(NPIDFromContext(r.Context()), id)
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	respondJSON(w, msgs)
}

// Poll handles GET /v3kn/messages/poll?since=. Timeouts and server
// shutdown render the empty array the console treats as "nothing new".
func (h *MessageHandler) Poll(w http.ResponseWriter, r *http.Request) {
	npid := NPIDFromContext(r.Context())
	since, err := sinceQuery(r)
	if err != nil {
		WriteErr(w, r, err)
		return
	}

	msgs, err := h.messages.Poll(r.Context(), npid, since)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			respondJSON(w, []domain.ChatMessage{})
			return
		}
		WriteErr(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []domain.ChatMessage{}
	}
	respondJSON(w, msgs)
}
