package store

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/vita3k/v3kn/api/domain"
)

// ConversationDir is v3kn/conversations/<id>.
func (s *Store) ConversationDir(id string) string {
	return filepath.Join(s.dataDir, "conversations", id)
}

func (s *Store) conversationMetaPath(id string) string {
	return filepath.Join(s.ConversationDir(id), "metadata.json")
}

func (s *Store) conversationMessagesPath(id string) string {
	return filepath.Join(s.ConversationDir(id), "messages.json")
}

// LoadConversationMeta reads a conversation's metadata, or nil when
// the conversation does not exist.
func (s *Store) LoadConversationMeta(id string) (*domain.ConversationMeta, error) {
	data, err := os.ReadFile(s.conversationMetaPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, WrapError("load conversation meta", err)
	}

	meta := &domain.ConversationMeta{}
	if err := json.Unmarshal(data, meta); err != nil {
		return nil, WrapError("parse conversation meta", err)
	}
	if meta.Participants == nil {
		meta.Participants = []string{}
	}
	return meta, nil
}

// SaveConversationMeta writes metadata.json, creating the
// conversation directory when needed.
func (s *Store) SaveConversationMeta(meta *domain.ConversationMeta) error {
	dir := s.ConversationDir(meta.ConversationID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return WrapError("save conversation meta", err)
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return WrapError("encode conversation meta", err)
	}
	if err := writeFileAtomic(s.conversationMetaPath(meta.ConversationID), data, 0o644); err != nil {
		return WrapError("save conversation meta", err)
	}
	return nil
}

// LoadMessages reads a conversation's full message log, oldest first.
func (s *Store) LoadMessages(id string) ([]domain.ChatMessage, error) {
	data, err := os.ReadFile(s.conversationMessagesPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return []domain.ChatMessage{}, nil
		}
		return nil, WrapError("load messages", err)
	}

	var msgs []domain.ChatMessage
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, WrapError("parse messages", err)
	}
	if msgs == nil {
		msgs = []domain.ChatMessage{}
	}
	return msgs, nil
}

// SaveMessages rewrites a conversation's message log.
func (s *Store) SaveMessages(id string, msgs []domain.ChatMessage) error {
	dir := s.ConversationDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return WrapError("save messages", err)
	}
	data, err := json.MarshalIndent(msgs, "", "  ")
	if err != nil {
		return WrapError("encode messages", err)
	}
	if err := writeFileAtomic(s.conversationMessagesPath(id), data, 0o644); err != nil {
		return WrapError("save messages", err)
	}
	return nil
}

// RemoveConversationDir deletes a conversation and its log.
func (s *Store) RemoveConversationDir(id string) error {
	if err := os.RemoveAll(s.ConversationDir(id)); err != nil {
		return WrapError("remove conversation dir", err)
	}
	return nil
}

func (s *Store) userConversationsPath(npid string) string {
	return filepath.Join(s.UserDir(npid), "conversations.json")
}

// LoadUserConversations reads the bare array of conversation IDs a
// user participates in.
func (s *Store) LoadUserConversations(npid string) ([]string, error) {
	data, err := os.ReadFile(s.userConversationsPath(npid))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, WrapError("load user conversations", err)
	}

	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, WrapError("parse user conversations", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// SaveUserConversations rewrites a user's conversation index.
func (s *Store) SaveUserConversations(npid string, ids []string) error {
	if err := os.MkdirAll(s.UserDir(npid), 0o755); err != nil {
		return WrapError("save user conversations", err)
	}
	data, err := json.MarshalIndent(ids, "", "  ")
	if err != nil {
		return WrapError("encode user conversations", err)
	}
	if err := writeFileAtomic(s.userConversationsPath(npid), data, 0o644); err != nil {
		return WrapError("save user conversations", err)
	}
	return nil
}

// AddUserConversation indexes id for npid; already-indexed IDs are
// left alone.
func (s *Store) AddUserConversation(npid, id string) error {
	ids, err := s.LoadUserConversations(npid)
	if err != nil {
		return err
	}
	for _, existing := range ids {
		if existing == id {
			return nil
		}
	}
	return s.SaveUserConversations(npid, append(ids, id))
}

// RemoveUserConversation drops id from npid's conversation index.
func (s *Store) RemoveUserConversation(npid, id string) error {
	ids, err := s.LoadUserConversations(npid)
	if err != nil {
		return err
	}
	out := ids[:0]
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return s.SaveUserConversations(npid, out)
}
