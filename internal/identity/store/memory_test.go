package store

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"custodia/internal/identity/models"
	"custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
)

type MemoryStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
}

func (s *MemoryStoreSuite) SetupTest() {
	s.store = NewInMemory(100)
	s.ctx = context.Background()
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) newIdentity(seed byte) *models.Identity {
	identity, err := models.NewIdentity(
		bytes.Repeat([]byte{seed}, models.IdentityHashSize),
		bytes.Repeat([]byte{0xBB}, models.PublicKeySize),
		"Test Subject",
		bytes.Repeat([]byte{0xCC}, models.BiometricHashSize),
		[]domain.Principal{"0xcontact-a", "0xcontact-b"},
		2,
		"0xowner",
		time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	)
	s.Require().NoError(err)
	return identity
}

// TestRegistration verifies dense id allocation and the hash index.
func (s *MemoryStoreSuite) TestRegistration() {
	s.Run("allocates dense ids from zero", func() {
		id0, err := s.store.Register(s.ctx, s.newIdentity(0x01))
		s.Require().NoError(err)
		id1, err := s.store.Register(s.ctx, s.newIdentity(0x02))
		s.Require().NoError(err)

		s.Equal(domain.IdentityID(0), id0)
		s.Equal(domain.IdentityID(1), id1)
	})

	s.Run("finds by id and by hash", func() {
		identity := s.newIdentity(0x03)
		id, err := s.store.Register(s.ctx, identity)
		s.Require().NoError(err)

		byID, err := s.store.FindByID(s.ctx, id)
		s.Require().NoError(err)
		s.Equal(identity.IdentityHash, byID.IdentityHash)

		byHash, err := s.store.FindByHash(s.ctx, identity.IdentityHash)
		s.Require().NoError(err)
		s.Equal(id, byHash.ID)
	})

	s.Run("rejects duplicate hash", func() {
		s.Require().NoError(s.errOnly(s.store.Register(s.ctx, s.newIdentity(0x04))))
		err := s.errOnly(s.store.Register(s.ctx, s.newIdentity(0x04)))
		s.ErrorIs(err, sentinel.ErrAlreadyUsed)
	})

	s.Run("returns ErrNotFound for unknown lookups", func() {
		_, err := s.store.FindByID(s.ctx, domain.IdentityID(9999))
		s.ErrorIs(err, sentinel.ErrNotFound)

		_, err = s.store.FindByHash(s.ctx, bytes.Repeat([]byte{0xEE}, models.IdentityHashSize))
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("enforces the capacity ceiling", func() {
		small := NewInMemory(1)
		_, err := small.Register(s.ctx, s.newIdentity(0x05))
		s.Require().NoError(err)

		_, err = small.Register(s.ctx, s.newIdentity(0x06))
		s.ErrorIs(err, sentinel.ErrCapacity)
	})

	s.Run("stored record does not alias caller memory", func() {
		identity := s.newIdentity(0x07)
		id, err := s.store.Register(s.ctx, identity)
		s.Require().NoError(err)

		identity.Name = "Mutated After Register"
		found, err := s.store.FindByID(s.ctx, id)
		s.Require().NoError(err)
		s.Equal("Test Subject", found.Name)
	})
}

// TestExecute verifies the atomic read-modify-write contract.
func (s *MemoryStoreSuite) TestExecute() {
	s.Run("applies mutation when validation passes", func() {
		id, err := s.store.Register(s.ctx, s.newIdentity(0x10))
		s.Require().NoError(err)

		updated, err := s.store.Execute(s.ctx, id,
			func(*models.Identity) error { return nil },
			func(i *models.Identity) { i.Name = "Renamed" },
		)
		s.Require().NoError(err)
		s.Equal("Renamed", updated.Name)

		found, err := s.store.FindByID(s.ctx, id)
		s.Require().NoError(err)
		s.Equal("Renamed", found.Name)
	})

	s.Run("leaves the record untouched when validation fails", func() {
		id, err := s.store.Register(s.ctx, s.newIdentity(0x11))
		s.Require().NoError(err)

		_, err = s.store.Execute(s.ctx, id,
			func(*models.Identity) error { return sentinel.ErrInvalidState },
			func(i *models.Identity) { i.Name = "Should Not Apply" },
		)
		s.Require().ErrorIs(err, sentinel.ErrInvalidState)

		found, err := s.store.FindByID(s.ctx, id)
		s.Require().NoError(err)
		s.Equal("Test Subject", found.Name)
	})

	s.Run("returns ErrNotFound for unknown record", func() {
		_, err := s.store.Execute(s.ctx, domain.IdentityID(404),
			func(*models.Identity) error { return nil },
			func(*models.Identity) {},
		)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("serializes concurrent mutations", func() {
		id, err := s.store.Register(s.ctx, s.newIdentity(0x12))
		s.Require().NoError(err)

		const workers = 16
		var wg sync.WaitGroup
		wg.Add(workers)
		for w := 0; w < workers; w++ {
			go func() {
				defer wg.Done()
				_, _ = s.store.Execute(s.ctx, id,
					func(*models.Identity) error { return nil },
					func(i *models.Identity) {
						i.RecoveryThreshold++
					},
				)
			}()
		}
		wg.Wait()

		found, err := s.store.FindByID(s.ctx, id)
		s.Require().NoError(err)
		s.Equal(2+workers, found.RecoveryThreshold)
	})
}

// TestUpdateLog verifies the latest-slot-only update log.
func (s *MemoryStoreSuite) TestUpdateLog() {
	s.Run("overwrites the slot on each update", func() {
		id, err := s.store.Register(s.ctx, s.newIdentity(0x20))
		s.Require().NoError(err)

		first := models.UpdateLog{IdentityID: id, UpdateName: "First", Updater: "0xowner", UpdateTimestamp: time.Now()}
		second := models.UpdateLog{IdentityID: id, UpdateName: "Second", Updater: "0xowner", UpdateTimestamp: time.Now()}
		s.Require().NoError(s.store.RecordUpdate(s.ctx, first))
		s.Require().NoError(s.store.RecordUpdate(s.ctx, second))

		entry, err := s.store.FindUpdateLog(s.ctx, id)
		s.Require().NoError(err)
		s.Equal("Second", entry.UpdateName)
	})

	s.Run("returns ErrNotFound before any update", func() {
		id, err := s.store.Register(s.ctx, s.newIdentity(0x21))
		s.Require().NoError(err)

		_, err = s.store.FindUpdateLog(s.ctx, id)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("rejects updates for unknown records", func() {
		err := s.store.RecordUpdate(s.ctx, models.UpdateLog{IdentityID: domain.IdentityID(404)})
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

// TestAuthority verifies write-once semantics.
func (s *MemoryStoreSuite) TestAuthority() {
	s.Run("unset authority returns ErrNotFound", func() {
		_, err := s.store.Authority(s.ctx)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("configures exactly once", func() {
		s.Require().NoError(s.store.ConfigureAuthority(s.ctx, "0xauthority"))

		got, err := s.store.Authority(s.ctx)
		s.Require().NoError(err)
		s.Equal(domain.Principal("0xauthority"), got)

		err = s.store.ConfigureAuthority(s.ctx, "0xother")
		s.ErrorIs(err, sentinel.ErrAlreadyUsed)

		got, err = s.store.Authority(s.ctx)
		s.Require().NoError(err)
		s.Equal(domain.Principal("0xauthority"), got)
	})
}

func (s *MemoryStoreSuite) errOnly(_ domain.IdentityID, err error) error {
	return err
}
