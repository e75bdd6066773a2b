package session

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned for unknown or cleaned-up session tokens
var ErrNotFound = errors.New("session not found")

// ErrExists is returned when putting a token that is already registered
var ErrExists = errors.New("session already exists")

type entry struct {
	// lock is a one-slot semaphore so waiters can give up on context cancellation
	lock chan struct{}
	sess *Session
}

// Store is the process-wide registry of active sessions.
// Mutations of one session are serialized through Acquire; distinct keys never contend.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry
}

// NewStore creates an empty session store
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*entry),
	}
}

// Put registers a new session
func (s *Store) Put(sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sess.ID]; exists {
		return ErrExists
	}
	s.sessions[sess.ID] = &entry{
		lock: make(chan struct{}, 1),
		sess: sess,
	}
	return nil
}

// Get returns a snapshot of the session. It waits for any in-flight mutation to finish.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	sess, release, err := s.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()
	return sess.Clone(), nil
}

// Acquire locks the session for exclusive mutation. The caller must call release exactly once.
func (s *Store) Acquire(ctx context.Context, id string) (*Session, func(), error) {
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, ErrNotFound
	}

	select {
	case e.lock <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}

	var once sync.Once
	release := func() {
		once.Do(func() { <-e.lock })
	}
	return e.sess, release, nil
}

// Delete removes a session. Deleting an unknown token is a no-op.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Len returns the number of registered sessions
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
