package session

import (
	"sync"
	"time"

	"img2img-lab/internal/history"
)

// Settings are the form values a front-end remembers between requests.
type Settings struct {
	Preset     string
	Prompt     string
	Style      string
	Resolution string
	Samples    int
	Strength   float64
	Guidance   float64
	Scheduler  string
	Steps      int
}

type Session struct {
	ID           string
	Username     string
	Settings     Settings
	History      *history.History
	LastActivity time.Time
}

type Options struct {
	Defaults Settings
}

type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	defaults Settings
	now      func() time.Time
}

func NewStore(opts Options) *Store {
	return &Store{
		sessions: make(map[string]*Session),
		defaults: opts.Defaults,
		now:      time.Now,
	}
}

// Lookup returns the history of an existing session and never creates one.
func (s *Store) Lookup(id string) (*history.History, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	sess.LastActivity = s.now()
	return sess.History, true
}

// Prune drops sessions idle for longer than idle and reports how many went.
func (s *Store) Prune(idle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-idle)
	removed := 0
	for id, sess := range s.sessions {
		if sess.LastActivity.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// History returns the session's history store, creating the session on demand.
func (s *Store) History(id string) *history.History {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.getOrCreateLocked(id, "")
	sess.LastActivity = s.now()
	return sess.History
}

// Clear starts a fresh history; the previous one stays valid for whoever
// still holds it.
func (s *Store) Clear(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok {
		sess.History = history.New()
		sess.LastActivity = s.now()
	}
}

func (s *Store) Settings(id, username string) Settings {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.getOrCreateLocked(id, username)
	sess.LastActivity = s.now()
	return sess.Settings
}

func (s *Store) UpdateSettings(id, username string, fn func(*Settings)) Settings {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.getOrCreateLocked(id, username)
	sess.LastActivity = s.now()
	if fn != nil {
		fn(&sess.Settings)
	}
	return sess.Settings
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Store) getOrCreateLocked(id, username string) *Session {
	if sess, ok := s.sessions[id]; ok {
		if sess.Username == "" && username != "" {
			sess.Username = username
		}
		return sess
	}

	sess := &Session{
		ID:           id,
		Username:     username,
		Settings:     s.defaults,
		History:      history.New(),
		LastActivity: s.now(),
	}
	s.sessions[id] = sess
	return sess
}
