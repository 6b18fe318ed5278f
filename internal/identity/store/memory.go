// Package store provides identity record persistence. Both implementations
// honor the same contract: registration is atomic across the id counter, the
// primary map, and the hash index, and Execute holds the record lock across
// validate and mutate so callers observe all-or-nothing mutations.
package store

import (
	"context"
	"sync"

	"custodia/internal/identity/models"
	"custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
)

// InMemory keeps the full registry state in process memory. It favors clarity
// over performance and backs unit tests and single-node deployments.
type InMemory struct {
	mu            sync.Mutex
	maxIdentities int
	nextID        uint64
	records       map[domain.IdentityID]*models.Identity
	byHash        map[string]domain.IdentityID
	updates       map[domain.IdentityID]models.UpdateLog
	authority     domain.Principal
}

// NewInMemory constructs an empty store with the given record ceiling.
func NewInMemory(maxIdentities int) *InMemory {
	return &InMemory{
		maxIdentities: maxIdentities,
		records:       make(map[domain.IdentityID]*models.Identity),
		byHash:        make(map[string]domain.IdentityID),
		updates:       make(map[domain.IdentityID]models.UpdateLog),
	}
}

// Register allocates the next dense id and inserts the record into the
// primary map and the hash index in one critical section. No partial
// application of the three effects is observable.
func (s *InMemory) Register(_ context.Context, identity *models.Identity) (domain.IdentityID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if int(s.nextID) >= s.maxIdentities {
		return 0, sentinel.ErrCapacity
	}
	if _, exists := s.byHash[string(identity.IdentityHash)]; exists {
		return 0, sentinel.ErrAlreadyUsed
	}

	id := domain.IdentityID(s.nextID)
	record := identity.Clone()
	record.ID = id

	s.records[id] = record
	s.byHash[string(record.IdentityHash)] = id
	s.nextID++

	return id, nil
}

func (s *InMemory) FindByID(_ context.Context, id domain.IdentityID) (*models.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return record.Clone(), nil
}

func (s *InMemory) FindByHash(_ context.Context, hash []byte) (*models.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byHash[string(hash)]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.records[id].Clone(), nil
}

func (s *InMemory) Count(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records), nil
}

// Execute runs validate and mutate against a working copy of the record while
// holding the store lock, then swaps the copy in. A validation failure leaves
// the committed record untouched. The updated snapshot is returned.
func (s *InMemory) Execute(_ context.Context, id domain.IdentityID, validate func(*models.Identity) error, mutate func(*models.Identity)) (*models.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}

	working := record.Clone()
	if err := validate(working); err != nil {
		return nil, err
	}
	mutate(working)

	s.records[id] = working
	return working.Clone(), nil
}

// RecordUpdate overwrites the latest-update slot for the identity.
func (s *InMemory) RecordUpdate(_ context.Context, entry models.UpdateLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[entry.IdentityID]; !ok {
		return sentinel.ErrNotFound
	}
	s.updates[entry.IdentityID] = entry
	return nil
}

// FindUpdateLog returns the latest update entry for the identity, or
// ErrNotFound if it was never updated.
func (s *InMemory) FindUpdateLog(_ context.Context, id domain.IdentityID) (models.UpdateLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.updates[id]
	if !ok {
		return models.UpdateLog{}, sentinel.ErrNotFound
	}
	return entry, nil
}

// ConfigureAuthority sets the registry authority exactly once.
func (s *InMemory) ConfigureAuthority(_ context.Context, authority domain.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.authority.IsNil() {
		return sentinel.ErrAlreadyUsed
	}
	s.authority = authority
	return nil
}

// Authority returns the configured authority, or ErrNotFound when unset.
func (s *InMemory) Authority(_ context.Context) (domain.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.authority.IsNil() {
		return "", sentinel.ErrNotFound
	}
	return s.authority, nil
}
