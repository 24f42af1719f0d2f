package domain

// ConversationMeta mirrors conversations/<id>/metadata.json.
type ConversationMeta struct {
	ConversationID string   `json:"conversation_id"`
	Participants   []string `json:"participants"`
	Creator        string   `json:"creator"`
	CreatedAt      int64    `json:"created_at"`
}

// ChatMessage is one entry in conversations/<id>/messages.json.
// Timestamp is Unix seconds.
type ChatMessage struct {
	From      string `json:"from"`
	Msg       string `json:"msg"`
	Timestamp int64  `json:"timestamp"`
}

// ConversationSummary is one row of GET /v3kn/messages/conversations.
// NPID carries the conversation ID; the field name is what the console
// client expects.
type ConversationSummary struct {
	NPID         string       `json:"npid"`
	Count        int          `json:"count"`
	Creator      string       `json:"creator"`
	Participants []string     `json:"participants"`
	LastMessage  *ChatMessage `json:"last_message,omitempty"`
}

// MaxMessageLen bounds a single chat message.
const MaxMessageLen = 2000

func (m *ConversationMeta) HasParticipant(npid string) bool {
	for _, p := range m.Participants {
		if p == npid {
			return true
		}
	}
	return false
}

// RemoveParticipant drops npid from the participant list.
func (m *ConversationMeta) RemoveParticipant(npid string) {
	out := m.Participants[:0]
	for _, p := range m.Participants {
		if p != npid {
			out = append(out, p)
		}
	}
	m.Participants = out
}
