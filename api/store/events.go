package store

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/vita3k/v3kn/api/domain"
)

func (s *Store) eventsPath() string {
	return filepath.Join(s.dataDir, "events.json")
}

// LoadEvents reads the pending-event journal, keyed by recipient NPID.
func (s *Store) LoadEvents() (map[string][]domain.Event, error) {
	data, err := os.ReadFile(s.eventsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string][]domain.Event), nil
		}
		return nil, WrapError("load events", err)
	}

	events := make(map[string][]domain.Event)
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, WrapError("parse events", err)
	}
	return events, nil
}

// SaveEvents rewrites the journal.
func (s *Store) SaveEvents(events map[string][]domain.Event) error {
	data, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return WrapError("encode events", err)
	}
	if err := writeFileAtomic(s.eventsPath(), data, 0o644); err != nil {
		return WrapError("save events", err)
	}
	return nil
}
