package feed

import (
	"sync"

	"circlefeed/internal/models"
)

// Store holds the de-duplicated, newest-first message list for a single
// circle. One Store exists per live circle feed; it is never shared between
// circles. All operations are in-memory and infallible — a missing target is
// reported through the boolean return, not an error.
type Store struct {
	mu       sync.RWMutex
	circleID string
	messages []models.Message
	total    int
}

func NewStore(circleID string) *Store {
	return &Store{circleID: circleID}
}

func (s *Store) CircleID() string {
	return s.circleID
}

// ApplyPage merges one fetched page into the store. Page zero (skip == 0)
// replaces the contents wholesale; later pages are appended and then the
// combined list is de-duplicated by id with the first occurrence winning, so
// entries already known keep their position and their version over duplicates
// arriving late in a page. totalCount is the server-reported feed size.
func (s *Store) ApplyPage(page []models.Message, totalCount, skip int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if skip == 0 {
		s.messages = append([]models.Message(nil), page...)
	} else {
		s.messages = dedupFirstWins(append(s.messages, page...))
	}
	s.total = totalCount
}

func dedupFirstWins(in []models.Message) []models.Message {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, m := range in {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}

// PrependIfAbsent inserts a realtime-delivered message at the front and bumps
// the known total. A message already present is left untouched — this is the
// guard against receiving our own just-created message echoed back over the
// broker after the create response already inserted it.
func (s *Store) PrependIfAbsent(m models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, cur := range s.messages {
		if cur.ID == m.ID {
			return false
		}
	}
	s.messages = append([]models.Message{m}, s.messages...)
	s.total++
	return true
}

// AppendComment attaches a comment to the identified message and bumps its
// comment total. Returns false when the message is not in the loaded window.
func (s *Store) AppendComment(messageID string, c models.Comment) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.messages {
		if s.messages[i].ID == messageID {
			s.messages[i].Comments = append(s.messages[i].Comments, c)
			s.messages[i].TotalComments++
			return true
		}
	}
	return false
}

// Len reports how many messages are currently loaded.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Total reports the server-side feed size as of the last page fetch, adjusted
// by realtime inserts.
func (s *Store) Total() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

// IndexOf returns the position of a message in the newest-first list, or -1.
func (s *Store) IndexOf(messageID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.messages {
		if s.messages[i].ID == messageID {
			return i
		}
	}
	return -1
}

// Get returns a copy of the identified message.
func (s *Store) Get(messageID string) (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.messages {
		if s.messages[i].ID == messageID {
			return s.messages[i], true
		}
	}
	return models.Message{}, false
}

// Snapshot returns a copy of the loaded messages, newest first.
func (s *Store) Snapshot() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Message(nil), s.messages...)
}
