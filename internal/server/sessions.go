package server

import (
	"sync"
	"time"

	"github.com/54b3r/medqa-go/internal/chain"
)

// defaultSessionTTL is how long an idle chat session is kept.
const defaultSessionTTL = 30 * time.Minute

// session is one browser conversation.
type session struct {
	mem      *chain.Memory
	lastSeen time.Time
}

// sessionStore keeps per-session chat memory in process. Nothing is
// persisted; a restart forgets every conversation.
type sessionStore struct {
	mu        sync.Mutex
	sessions  map[string]*session
	ttl       time.Duration
	maxTokens int
	now       func() time.Time
}

func newSessionStore(ttl time.Duration, maxTokens int) *sessionStore {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &sessionStore{
		sessions:  make(map[string]*session),
		ttl:       ttl,
		maxTokens: maxTokens,
		now:       time.Now,
	}
}

// get returns the memory for id, creating it on first use.
func (s *sessionStore) get(id string) *chain.Memory {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		sess = &session{mem: chain.NewMemory(s.maxTokens)}
		s.sessions[id] = sess
	}
	sess.lastSeen = s.now()
	return sess.mem
}

// clear resets the memory for id. Unknown ids are ignored.
func (s *sessionStore) clear(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.mem.Clear()
		sess.lastSeen = s.now()
	}
}

// len returns the number of live sessions.
func (s *sessionStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// evict drops sessions idle for longer than the TTL and returns how many
// were removed.
func (s *sessionStore) evict() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.ttl)
	n := 0
	for id, sess := range s.sessions {
		if sess.lastSeen.Before(cutoff) {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

// evictLoop runs evict every minute until stopCh is closed. onEvict is
// called after each sweep with the number of live sessions.
func (s *sessionStore) evictLoop(stopCh <-chan struct{}, onEvict func(live int)) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.evict()
			if onEvict != nil {
				onEvict(s.len())
			}
		}
	}
}

// start launches the eviction goroutine and returns its stop function.
func (s *sessionStore) start(onEvict func(live int)) func() {
	stopCh := make(chan struct{})
	go s.evictLoop(stopCh, onEvict)
	return func() { close(stopCh) }
}
