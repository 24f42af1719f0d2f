package services

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/vita3k/v3kn/api/domain"
	"github.com/vita3k/v3kn/api/store"
	"github.com/vita3k/v3kn/internal/adapters/metrics"
)

// MessageService owns group conversations and the messages long poll.
// JSON-bodied operations take the raw body because the payload shape
// checks decide which wire error the caller sees.
type MessageService struct {
	store  *store.Store
	signal *MessageSignal
	budget time.Duration
}

func NewMessageService(s *store.Store, signal *MessageSignal, budget time.Duration) *MessageService {
	return &MessageService{store: s, signal: signal, budget: budget}
}

// conversationID derives the directory name for a participant set.
// Pairs get the deterministic sorted join so the same two users always
// share one conversation; larger groups get a hashed ID salted with
// the current time so repeated creations stay distinct.
func conversationID(participants []string) string {
	sorted := append([]string(nil), participants...)
	sort.Strings(sorted)
	if len(sorted) == 2 {
		return sorted[0] + "_" + sorted[1]
	}
	h := fnv.New64a()
	for _, p := range sorted {
		h.Write([]byte(p))
	}
	h.Write([]byte(strconv.FormatInt(time.Now().UnixMilli(), 10)))
	return "group_" + strconv.FormatUint(h.Sum64(), 10)
}

// Create starts a conversation from a JSON body holding participants
// and the opening message. The creator is always a participant;
// duplicates, blanks, and the creator's own NPID in the list are
// dropped.
func (svc *MessageService) Create(npid string, body []byte) (string, error) {
	var req struct {
		Participants json.RawMessage `json:"participants"`
		Message      json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return "", domain.ErrInvalidJSON
	}

	var rawParticipants []json.RawMessage
	if req.Participants == nil || json.Unmarshal(req.Participants, &rawParticipants) != nil || rawParticipants == nil {
		return "", domain.ErrMissingParticipants
	}
	var message *string
	if req.Message == nil || json.Unmarshal(req.Message, &message) != nil || message == nil {
		return "", domain.ErrMissingMessage
	}
	if *message == "" || len(*message) > domain.MaxMessageLen {
		return "", domain.ErrInvalidMessage
	}

	participants := []string{npid}
	seen := map[string]bool{npid: true}
	for _, raw := range rawParticipants {
		var p string
		if json.Unmarshal(raw, &p) != nil {
			return "", domain.ErrInvalidParticipant
		}
		p = domain.TrimNPID(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		participants = append(participants, p)
	}
	if len(participants) < 2 {
		return "", domain.ErrNotEnoughParticipants
	}

	id := conversationID(participants)
	err := svc.store.ViewUsers(func(db *domain.UserDB) error {
		for _, p := range participants {
			if _, ok := db.Users[p]; !ok {
				return fmt.Errorf("%w:%s", domain.ErrParticipantNotFound, p)
			}
		}

		meta, err := svc.store.LoadConversationMeta(id)
		if err != nil {
			return err
		}
		if meta != nil {
			return domain.ErrConversationAlreadyExists
		}

		now := time.Now().Unix()
		meta = &domain.ConversationMeta{
			ConversationID: id,
			Participants:   participants,
			Creator:        npid,
			CreatedAt:      now,
		}
		if err := svc.store.SaveConversationMeta(meta); err != nil {
			return err
		}
		msgs := []domain.ChatMessage{{From: npid, Msg: *message, Timestamp: now}}
		if err := svc.store.SaveMessages(id, msgs); err != nil {
			return err
		}
		for _, p := range participants {
			if err := svc.store.AddUserConversation(p, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	svc.signal.Notify()
	slog.Info("conversation created", "id", id, "creator", npid, "participants", len(participants))
	return id, nil
}

// Send appends a message to a conversation the sender belongs to.
func (svc *MessageService) Send(npid, id, message string) error {
	id = domain.TrimNPID(id)
	if id == "" {
		return domain.ErrMissingConversationID
	}
	if message == "" {
		return domain.ErrMissingMessage
	}
	if len(message) > domain.MaxMessageLen {
		return domain.ErrMessageTooLong
	}

	meta, err := svc.store.LoadConversationMeta(id)
	if err != nil {
		return err
	}
	if meta == nil {
		return domain.ErrConversationNotFound
	}
	if !meta.HasParticipant(npid) {
		return domain.ErrNotInConversation
	}

	msgs, err := svc.store.LoadMessages(id)
	if err != nil {
		return err
	}
	msgs = append(msgs, domain.ChatMessage{From: npid, Msg: message, Timestamp: time.Now().Unix()})
	if err := svc.store.SaveMessages(id, msgs); err != nil {
		return err
	}

	svc.signal.Notify()
	slog.Info("message sent", "id", id, "from", npid)
	return nil
}

// Delete removes the caller's own messages matched by timestamp from a
// JSON body {conversation_id, timestamps}. Timestamps that match
// nothing, or match someone else's message, are skipped; deleting
// nothing at all is an error. Returns the number removed.
func (svc *MessageService) Delete(npid string, body []byte) (int, error) {
	var req struct {
		ConversationID json.RawMessage `json:"conversation_id"`
		Timestamps     json.RawMessage `json:"timestamps"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return 0, domain.ErrInvalidJSON
	}

	var id *string
	if req.ConversationID == nil || json.Unmarshal(req.ConversationID, &id) != nil || id == nil {
		return 0, domain.ErrMissingConversationID
	}
	var rawTimestamps []json.RawMessage
	if req.Timestamps == nil || json.Unmarshal(req.Timestamps, &rawTimestamps) != nil || rawTimestamps == nil {
		return 0, domain.ErrMissingTimestamps
	}
	cid := domain.TrimNPID(*id)
	if cid == "" {
		return 0, domain.ErrEmptyConversationID
	}
	timestamps := make([]int64, 0, len(rawTimestamps))
	for _, raw := range rawTimestamps {
		var ts int64
		if json.Unmarshal(raw, &ts) != nil {
			return 0, domain.ErrInvalidTimestamp
		}
		timestamps = append(timestamps, ts)
	}
	if len(timestamps) == 0 {
		return 0, domain.ErrNoTimestamps
	}

	meta, err := svc.store.LoadConversationMeta(cid)
	if err != nil {
		return 0, err
	}
	if meta == nil {
		return 0, domain.ErrConversationNotFound
	}
	if !meta.HasParticipant(npid) {
		return 0, domain.ErrNotInConversation
	}

	msgs, err := svc.store.LoadMessages(cid)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, ts := range timestamps {
		for i, m := range msgs {
			if m.Timestamp != ts {
				continue
			}
			if m.From == npid {
				msgs = append(msgs[:i], msgs[i+1:]...)
				deleted++
			}
			break
		}
	}
	if deleted == 0 {
		return 0, domain.ErrNoMessagesDeleted
	}

	if err := svc.store.SaveMessages(cid, msgs); err != nil {
		return 0, err
	}

	svc.signal.Notify()
	slog.Info("messages deleted", "id", cid, "npid", npid, "count", deleted)
	return deleted, nil
}

// AddParticipant brings another registered user into a conversation
// the caller belongs to. Body: {conversation_id, participant}.
func (svc *MessageService) AddParticipant(npid string, body []byte) error {
	var req struct {
		ConversationID json.RawMessage `json:"conversation_id"`
		Participant    json.RawMessage `json:"participant"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return domain.ErrInvalidJSON
	}

	var id *string
	if req.ConversationID == nil || json.Unmarshal(req.ConversationID, &id) != nil || id == nil {
		return domain.ErrMissingConversationID
	}
	var participant *string
	if req.Participant == nil || json.Unmarshal(req.Participant, &participant) != nil || participant == nil {
		return domain.ErrMissingParticipant
	}
	cid := domain.TrimNPID(*id)
	target := domain.TrimNPID(*participant)
	if target == "" {
		return domain.ErrEmptyParticipant
	}

	err := svc.store.ViewUsers(func(db *domain.UserDB) error {
		if _, ok := db.Users[target]; !ok {
			return domain.ErrParticipantNotFound
		}

		meta, err := svc.store.LoadConversationMeta(cid)
		if err != nil {
			return err
		}
		if meta == nil {
			return domain.ErrConversationNotFound
		}
		if !meta.HasParticipant(npid) {
			return domain.ErrNotInConversation
		}
		if meta.HasParticipant(target) {
			return domain.ErrAlreadyInConversation
		}

		meta.Participants = append(meta.Participants, target)
		if err := svc.store.SaveConversationMeta(meta); err != nil {
			return err
		}
		return svc.store.AddUserConversation(target, cid)
	})
	if err != nil {
		return err
	}

	svc.signal.Notify()
	slog.Info("participant added", "id", cid, "by", npid, "participant", target)
	return nil
}

// Leave removes the caller from a conversation. The conversation
// survives for the remaining participants. Body: {conversation_id}.
func (svc *MessageService) Leave(npid string, body []byte) error {
	var req struct {
		ConversationID json.RawMessage `json:"conversation_id"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return domain.ErrInvalidJSON
	}

	var id *string
	if req.ConversationID == nil || json.Unmarshal(req.ConversationID, &id) != nil || id == nil {
		return domain.ErrMissingConversationID
	}
	cid := domain.TrimNPID(*id)

	meta, err := svc.store.LoadConversationMeta(cid)
	if err != nil {
		return err
	}
	if meta == nil {
		return domain.ErrConversationNotFound
	}
	if !meta.HasParticipant(npid) {
		return domain.ErrNotInConversation
	}

	meta.RemoveParticipant(npid)
	if err := svc.store.SaveConversationMeta(meta); err != nil {
		return err
	}
	if err := svc.store.RemoveUserConversation(npid, cid); err != nil {
		return err
	}

	svc.signal.Notify()
	slog.Info("left conversation", "id", cid, "npid", npid)
	return nil
}

// DeleteConversation removes a conversation wholesale. Only the
// creator may do this. Body: {conversation_id}.
func (svc *MessageService) DeleteConversation(npid string, body []byte) error {
	var req struct {
		ConversationID json.RawMessage `json:"conversation_id"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return domain.ErrInvalidJSON
	}

	var id *string
	if req.ConversationID == nil || json.Unmarshal(req.ConversationID, &id) != nil || id == nil {
		return domain.ErrMissingConversationID
	}
	cid := domain.TrimNPID(*id)

	meta, err := svc.store.LoadConversationMeta(cid)
	if err != nil {
		return err
	}
	if meta == nil {
		return domain.ErrConversationNotFound
	}
	if meta.Creator != npid {
		return domain.ErrNotCreator
	}

	for _, p := range meta.Participants {
		if err := svc.store.RemoveUserConversation(p, cid); err != nil {
			return err
		}
	}
	if err := svc.store.RemoveConversationDir(cid); err != nil {
		return err
	}

	svc.signal.Notify()
	slog.Info("conversation deleted", "id", cid, "creator", npid)
	return nil
}

// List summarizes every conversation in the caller's index. Index
// entries whose directory has since vanished are skipped.
func (svc *MessageService) List(npid string) ([]domain.ConversationSummary, error) {
	ids, err := svc.store.LoadUserConversations(npid)
	if err != nil {
		return nil, err
	}

	summaries := []domain.ConversationSummary{}
	for _, id := range ids {
		meta, err := svc.store.LoadConversationMeta(id)
		if err != nil {
			return nil, err
		}
		if meta == nil {
			continue
		}
		msgs, err := svc.store.LoadMessages(id)
		if err != nil {
			return nil, err
		}
		summary := domain.ConversationSummary{
			NPID:         id,
			Count:        len(msgs),
			Creator:      meta.Creator,
			Participants: meta.Participants,
		}
		if len(msgs) > 0 {
			last := msgs[len(msgs)-1]
			summary.LastMessage = &last
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// Read returns a conversation's full message history.
func (svc *MessageService) Read(npid, id string) ([]domain.ChatMessage, error) {
	id = domain.TrimNPID(id)
	if id == "" {
		return nil, domain.ErrMissingConversationID
	}

	meta, err := svc.store.LoadConversationMeta(id)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, domain.ErrConversationNotFound
	}
	if !meta.HasParticipant(npid) {
		return nil, domain.ErrNotInConversation
	}

	return svc.store.LoadMessages(id)
}

// collectNewMessages scans every conversation the caller belongs to
// for messages newer than since from other senders. Reloads from disk
// per call so wakes observe writes made after the poll parked.
func (svc *MessageService) collectNewMessages(npid string, since int64) ([]domain.ChatMessage, error) {
	ids, err := svc.store.LoadUserConversations(npid)
	if err != nil {
		return nil, err
	}

	var fresh []domain.ChatMessage
	for _, id := range ids {
		msgs, err := svc.store.LoadMessages(id)
		if err != nil {
			return nil, err
		}
		for _, m := range msgs {
			if m.Timestamp > since && m.From != npid {
				fresh = append(fresh, m)
			}
		}
	}
	return fresh, nil
}

// Poll waits for messages newer than since addressed to the caller. A
// nil result is the timeout; the handler renders it as an empty array.
func (svc *MessageService) Poll(ctx context.Context, npid string, since int64) ([]domain.ChatMessage, error) {
	metrics.PollWaiters.WithLabelValues("messages").Inc()
	defer metrics.PollWaiters.WithLabelValues("messages").Dec()

	deadline := time.Now().Add(svc.budget)
	for {
		fresh, err := svc.collectNewMessages(npid, since)
		if err != nil {
			return nil, err
		}
		if len(fresh) > 0 {
			slog.Info("messages poll delivered", "npid", npid, "count", len(fresh))
			return fresh, nil
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
		case <-svc.signal.Wait():
			timer.Stop()
		case <-timer.C:
		}
	}
}
