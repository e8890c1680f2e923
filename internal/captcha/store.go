package captcha

import (
	"sync"
	"time"
)

type Key struct {
	ChatID int64
	UserID int64
}

// Pending is an issued challenge. It is never mutated after Put.
type Pending struct {
	ChatID        int64
	UserID        int64
	Name          string
	Answer        string
	Mode          Mode
	Options       []string
	Nonce         string
	MessageID     int
	ThreadID      int
	JoinMessageID int
	CreatedAt     time.Time
}

func (p *Pending) Key() Key {
	return Key{ChatID: p.ChatID, UserID: p.UserID}
}

// Option returns the option at idx, or false when out of range.
func (p *Pending) Option(idx int) (string, bool) {
	if idx < 0 || idx >= len(p.Options) {
		return "", false
	}
	return p.Options[idx], true
}

type Store struct {
	mutex   sync.Mutex
	pending map[Key]*Pending
}

func NewStore() *Store {
	return &Store{pending: map[Key]*Pending{}}
}

// Put stores p, superseding any record under the same key.
func (s *Store) Put(p *Pending) (superseded *Pending) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	superseded = s.pending[p.Key()]
	s.pending[p.Key()] = p
	return superseded
}

func (s *Store) Get(key Key) (*Pending, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	p, ok := s.pending[key]
	return p, ok
}

// Take removes and returns the record in one step; only one caller can win it.
func (s *Store) Take(key Key) (*Pending, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	p, ok := s.pending[key]
	if ok {
		delete(s.pending, key)
	}
	return p, ok
}

// TakeIf removes the record only when its nonce matches.
func (s *Store) TakeIf(key Key, nonce string) (*Pending, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	p, ok := s.pending[key]
	if !ok || p.Nonce != nonce {
		return nil, false
	}
	delete(s.pending, key)
	return p, true
}

// MoveChat rekeys every record of a migrated chat and returns the moved records.
func (s *Store) MoveChat(from, to int64) []*Pending {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	var moved []*Pending
	if from == to {
		return moved
	}
	for key, p := range s.pending {
		if key.ChatID != from {
			continue
		}
		delete(s.pending, key)
		cp := *p
		cp.ChatID = to
		s.pending[cp.Key()] = &cp
		moved = append(moved, &cp)
	}
	return moved
}

func (s *Store) Len() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.pending)
}
