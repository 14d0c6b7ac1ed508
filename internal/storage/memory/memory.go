package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/darunbjork/InsightAPI/internal/domain/models"
	"github.com/darunbjork/InsightAPI/internal/storage"
)

// Storage keeps principals and their revocation sets in process memory.
// It backs local development and the functional tests.
type Storage struct {
	mu         sync.RWMutex
	principals map[string]*record
	byEmail    map[string]string
	byUsername map[string]string
}

type record struct {
	principal models.Principal
	revoked   map[string]struct{}
}

func New() *Storage {
	return &Storage{
		principals: make(map[string]*record),
		byEmail:    make(map[string]string),
		byUsername: make(map[string]string),
	}
}

func (s *Storage) SavePrincipal(ctx context.Context, username, email string, passHash []byte) (*models.Principal, error) {
	const op = "storage.memory.SavePrincipal"

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byUsername[username]; ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrPrincipalExists)
	}
	if _, ok := s.byEmail[email]; ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrPrincipalExists)
	}

	now := time.Now()
	principal := models.Principal{
		ID:        uuid.NewString(),
		Username:  username,
		Email:     email,
		PassHash:  append([]byte(nil), passHash...),
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.principals[principal.ID] = &record{
		principal: principal,
		revoked:   make(map[string]struct{}),
	}
	s.byEmail[email] = principal.ID
	s.byUsername[username] = principal.ID

	return clone(&principal), nil
}

func (s *Storage) PrincipalByEmail(ctx context.Context, email string) (*models.Principal, error) {
	const op = "storage.memory.PrincipalByEmail"

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[email]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrPrincipalNotFound)
	}

	return clone(&s.principals[id].principal), nil
}

func (s *Storage) PrincipalByID(ctx context.Context, principalID string) (*models.Principal, error) {
	const op = "storage.memory.PrincipalByID"

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.principals[principalID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrPrincipalNotFound)
	}

	return clone(&rec.principal), nil
}

func (s *Storage) PrincipalByUsernameOrEmail(ctx context.Context, username, email string) (*models.Principal, error) {
	const op = "storage.memory.PrincipalByUsernameOrEmail"

	s.mu.RLock()
	defer s.mu.RUnlock()

	if id, ok := s.byUsername[username]; ok {
		return clone(&s.principals[id].principal), nil
	}
	if id, ok := s.byEmail[email]; ok {
		return clone(&s.principals[id].principal), nil
	}

	return nil, fmt.Errorf("%s: %w", op, storage.ErrPrincipalNotFound)
}

func (s *Storage) AppendRevokedToken(ctx context.Context, principalID, tokenID string) error {
	const op = "storage.memory.AppendRevokedToken"

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.principals[principalID]
	if !ok {
		return fmt.Errorf("%s: %w", op, storage.ErrPrincipalNotFound)
	}

	rec.revoked[tokenID] = struct{}{}
	rec.principal.UpdatedAt = time.Now()

	return nil
}

func (s *Storage) IsTokenRevoked(ctx context.Context, principalID, tokenID string) (bool, error) {
	const op = "storage.memory.IsTokenRevoked"

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.principals[principalID]
	if !ok {
		return false, fmt.Errorf("%s: %w", op, storage.ErrPrincipalNotFound)
	}

	_, revoked := rec.revoked[tokenID]

	return revoked, nil
}

func (s *Storage) ClearRevokedTokens(ctx context.Context, principalID string) error {
	const op = "storage.memory.ClearRevokedTokens"

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.principals[principalID]
	if !ok {
		return fmt.Errorf("%s: %w", op, storage.ErrPrincipalNotFound)
	}

	rec.revoked = make(map[string]struct{})
	rec.principal.UpdatedAt = time.Now()

	return nil
}

// clone copies the stored principal so callers never alias internal state.
func clone(p *models.Principal) *models.Principal {
	out := *p
	out.PassHash = append([]byte(nil), p.PassHash...)

	return &out
}
