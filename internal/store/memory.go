package store

import (
	"sync"

	"github.com/BTreeMap/Akasha/internal/models"
)

// InMemoryStore keeps everything in process memory. It backs tests and
// deployments that run without a database DSN.
type InMemoryStore struct {
	mu       sync.Mutex
	passages []models.Passage
	sends    map[string]map[string]bool // date -> recipients
	messages []models.MessageLog
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sends: make(map[string]map[string]bool),
	}
}

func (s *InMemoryStore) SavePassage(p models.Passage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passages = append(s.passages, p)
	return nil
}

func (s *InMemoryStore) PassageByDate(date string) (*models.Passage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.passages) - 1; i >= 0; i-- {
		if s.passages[i].Date == date {
			p := s.passages[i]
			return &p, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) RecordPassageSend(date, recipient string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recipients := s.sends[date]
	if recipients == nil {
		recipients = make(map[string]bool)
		s.sends[date] = recipients
	}
	if recipients[recipient] {
		return false, nil
	}
	recipients[recipient] = true
	return true, nil
}

func (s *InMemoryStore) PassageSentTo(date, recipient string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sends[date][recipient], nil
}

func (s *InMemoryStore) LogMessage(m models.MessageLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
	return nil
}

func (s *InMemoryStore) RecentMessages(limit int) ([]models.MessageLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = DefaultRecentMessages
	}
	if limit > len(s.messages) {
		limit = len(s.messages)
	}
	out := make([]models.MessageLog, 0, limit)
	for i := len(s.messages) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.messages[i])
	}
	return out, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
