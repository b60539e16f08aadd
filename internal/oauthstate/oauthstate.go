// package oauthstate issues and consumes single-use OAuth CSRF state tokens.
package oauthstate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/desertthunder/spotsync/internal/shared"
)

// DefaultTTL is how long an issued state stays valid.
const DefaultTTL = 60 * time.Second

// Store issues random state tokens and validates each one at most once.
//
// ValidateAndConsume must check and delete in one atomic step so two concurrent
// callbacks can never both accept the same token.
type Store interface {
	Issue(ctx context.Context) (string, error)
	ValidateAndConsume(ctx context.Context, token string) (bool, error)
}

// MemoryStore keeps states in process memory. It suits single-process deployments and tests.
type MemoryStore struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	states map[string]time.Time
}

// NewMemoryStore creates a [MemoryStore]. A non-positive ttl selects [DefaultTTL].
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{ttl: ttl, now: time.Now, states: make(map[string]time.Time)}
}

// Issue generates and records a new state token.
func (s *MemoryStore) Issue(_ context.Context) (string, error) {
	token, err := shared.GenerateState()
	if err != nil {
		return "", fmt.Errorf("issue state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweep()
	s.states[token] = s.now().Add(s.ttl)
	return token, nil
}

// ValidateAndConsume reports whether token was issued and has not expired, deleting it either way.
func (s *MemoryStore) ValidateAndConsume(_ context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt, ok := s.states[token]
	if !ok {
		return false, nil
	}
	delete(s.states, token)
	return s.now().Before(expiresAt), nil
}

// sweep drops expired entries. Callers hold mu.
func (s *MemoryStore) sweep() {
	now := s.now()
	for token, expiresAt := range s.states {
		if !now.Before(expiresAt) {
			delete(s.states, token)
		}
	}
}
