package assistant

import "time"

// Store is the append-only message log of one conversation. It is owned by
// the Conversation event loop and is not safe for concurrent use.
type Store struct {
	msgs   []Message
	index  map[uint64]int
	nextID uint64
	now    func() time.Time
}

// NewStore returns an empty store. IDs start at 1.
func NewStore(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{index: make(map[uint64]int), now: now}
}

// Append adds a message at the end of the log. Non-user messages never carry
// a status.
func (s *Store) Append(role Role, content string, status Status) Message {
	s.nextID++
	if role != RoleUser {
		status = ""
	}
	m := Message{
		ID:        s.nextID,
		Role:      role,
		Content:   content,
		CreatedAt: s.now(),
		Status:    status,
	}
	s.index[m.ID] = len(s.msgs)
	s.msgs = append(s.msgs, m)
	return m
}

// SetStatus updates the status of a user message. It reports false when the
// message is unknown or not authored by the user.
func (s *Store) SetStatus(id uint64, status Status) bool {
	i, ok := s.index[id]
	if !ok || s.msgs[i].Role != RoleUser {
		return false
	}
	s.msgs[i].Status = status
	return true
}

// Get returns the message with the given id.
func (s *Store) Get(id uint64) (Message, bool) {
	i, ok := s.index[id]
	if !ok {
		return Message{}, false
	}
	return s.msgs[i], true
}

// Messages returns a copy of the log in append order.
func (s *Store) Messages() []Message {
	out := make([]Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

func (s *Store) Len() int { return len(s.msgs) }

// Reset empties the log. IDs keep increasing so a stale reference to a
// cleared message can never match a new one.
func (s *Store) Reset() {
	s.msgs = nil
	s.index = make(map[uint64]int)
}
