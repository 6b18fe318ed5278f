package models

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

var (
	testHash      = bytes.Repeat([]byte{0xAA}, IdentityHashSize)
	testKey       = bytes.Repeat([]byte{0xBB}, PublicKeySize)
	testBiometric = bytes.Repeat([]byte{0xCC}, BiometricHashSize)
	testNow       = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	owner    = domain.Principal("0xowner")
	contactA = domain.Principal("0xcontact-a")
	contactB = domain.Principal("0xcontact-b")
	contactC = domain.Principal("0xcontact-c")
	stranger = domain.Principal("0xstranger")
)

func validIdentity(t *testing.T) *Identity {
	t.Helper()
	identity, err := NewIdentity(testHash, testKey, "Alice", testBiometric,
		[]domain.Principal{contactA, contactB, contactC}, 2, owner, testNow)
	require.NoError(t, err)
	return identity
}

func TestNewIdentity(t *testing.T) {
	t.Run("constructs an active record owned by the registrant", func(t *testing.T) {
		identity := validIdentity(t)

		assert.Equal(t, owner, identity.Owner)
		assert.True(t, identity.Status)
		assert.Equal(t, RecoveryStateActive, identity.RecoveryState)
		assert.Empty(t, identity.Approvals)
		assert.Equal(t, testNow, identity.CreatedAt)
		assert.Equal(t, testNow, identity.UpdatedAt)
	})

	t.Run("copies the input blobs", func(t *testing.T) {
		hash := bytes.Repeat([]byte{0x01}, IdentityHashSize)
		identity, err := NewIdentity(hash, testKey, "Alice", testBiometric,
			[]domain.Principal{contactA, contactB}, 1, owner, testNow)
		require.NoError(t, err)

		hash[0] = 0xFF
		assert.Equal(t, byte(0x01), identity.IdentityHash[0])
	})

	t.Run("rejects wrong hash length", func(t *testing.T) {
		_, err := NewIdentity(testHash[:31], testKey, "Alice", testBiometric,
			[]domain.Principal{contactA, contactB}, 1, owner, testNow)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidHash))
	})

	t.Run("rejects wrong key length", func(t *testing.T) {
		_, err := NewIdentity(testHash, testKey[:32], "Alice", testBiometric,
			[]domain.Principal{contactA, contactB}, 1, owner, testNow)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidPublicKey))
	})

	t.Run("rejects empty and over-long names", func(t *testing.T) {
		_, err := NewIdentity(testHash, testKey, "", testBiometric,
			[]domain.Principal{contactA, contactB}, 1, owner, testNow)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidName))

		long := make([]rune, NameMaxLength+1)
		for i := range long {
			long[i] = 'x'
		}
		_, err = NewIdentity(testHash, testKey, string(long), testBiometric,
			[]domain.Principal{contactA, contactB}, 1, owner, testNow)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidName))
	})

	t.Run("name length counts characters not bytes", func(t *testing.T) {
		// 100 two-byte runes exceed 100 bytes but stay within the limit.
		name := ""
		for i := 0; i < NameMaxLength; i++ {
			name += "é"
		}
		_, err := NewIdentity(testHash, testKey, name, testBiometric,
			[]domain.Principal{contactA, contactB}, 1, owner, testNow)
		assert.NoError(t, err)
	})

	t.Run("rejects wrong biometric length", func(t *testing.T) {
		_, err := NewIdentity(testHash, testKey, "Alice", testBiometric[:16],
			[]domain.Principal{contactA, contactB}, 1, owner, testNow)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidBiometric))
	})

	t.Run("rejects too few or too many contacts", func(t *testing.T) {
		_, err := NewIdentity(testHash, testKey, "Alice", testBiometric,
			[]domain.Principal{contactA}, 1, owner, testNow)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidRecoveryContacts))

		six := []domain.Principal{"0x1", "0x2", "0x3", "0x4", "0x5", "0x6"}
		_, err = NewIdentity(testHash, testKey, "Alice", testBiometric, six, 1, owner, testNow)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidRecoveryContacts))
	})

	t.Run("rejects duplicate and burn contacts", func(t *testing.T) {
		_, err := NewIdentity(testHash, testKey, "Alice", testBiometric,
			[]domain.Principal{contactA, contactA}, 1, owner, testNow)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidRecoveryContacts))

		_, err = NewIdentity(testHash, testKey, "Alice", testBiometric,
			[]domain.Principal{contactA, domain.BurnPrincipal}, 1, owner, testNow)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidRecoveryContacts))
	})

	t.Run("rejects threshold outside 1..len(contacts)", func(t *testing.T) {
		_, err := NewIdentity(testHash, testKey, "Alice", testBiometric,
			[]domain.Principal{contactA, contactB}, 0, owner, testNow)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidApprovalCount))

		_, err = NewIdentity(testHash, testKey, "Alice", testBiometric,
			[]domain.Principal{contactA, contactB}, 3, owner, testNow)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidApprovalCount))
	})

	t.Run("validation order reports the first failing field", func(t *testing.T) {
		// Bad hash and bad key together must report the hash.
		_, err := NewIdentity([]byte{0x01}, testKey[:3], "Alice", testBiometric,
			[]domain.Principal{contactA, contactA}, 99, owner, testNow)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidHash))
	})
}

func TestNameUpdate(t *testing.T) {
	t.Run("owner renames the record", func(t *testing.T) {
		identity := validIdentity(t)
		later := testNow.Add(time.Hour)

		require.NoError(t, identity.CanUpdateName(owner, "Alice Smith"))
		identity.ApplyNameUpdate("Alice Smith", later)

		assert.Equal(t, "Alice Smith", identity.Name)
		assert.Equal(t, later, identity.UpdatedAt)
		assert.Equal(t, testNow, identity.CreatedAt)
	})

	t.Run("non-owner cannot rename", func(t *testing.T) {
		identity := validIdentity(t)
		err := identity.CanUpdateName(stranger, "Mallory")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotAuthorized))
	})

	t.Run("invalid name rejected", func(t *testing.T) {
		identity := validIdentity(t)
		err := identity.CanUpdateName(owner, "")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidName))
	})
}

func TestRecoveryLifecycle(t *testing.T) {
	t.Run("owner initiates recovery", func(t *testing.T) {
		identity := validIdentity(t)

		require.NoError(t, identity.CanInitiateRecovery(owner))
		identity.ApplyRecoveryInitiation()

		assert.Equal(t, RecoveryStatePending, identity.RecoveryState)
		assert.Empty(t, identity.Approvals)
	})

	t.Run("non-owner cannot initiate", func(t *testing.T) {
		identity := validIdentity(t)
		err := identity.CanInitiateRecovery(contactA)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotAuthorized))
	})

	t.Run("second initiation rejected while pending", func(t *testing.T) {
		identity := validIdentity(t)
		identity.ApplyRecoveryInitiation()

		err := identity.CanInitiateRecovery(owner)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeRecoveryAlreadyInitiated))
	})

	t.Run("approval requires a pending recovery", func(t *testing.T) {
		identity := validIdentity(t)
		err := identity.CanApproveRecovery(contactA)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeRecoveryNotInitiated))
	})

	t.Run("only pre-declared contacts approve", func(t *testing.T) {
		identity := validIdentity(t)
		identity.ApplyRecoveryInitiation()

		err := identity.CanApproveRecovery(stranger)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotAuthorized))

		// The owner is not automatically a contact either.
		err = identity.CanApproveRecovery(owner)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotAuthorized))
	})

	t.Run("duplicate approval rejected, count unchanged", func(t *testing.T) {
		identity := validIdentity(t)
		identity.ApplyRecoveryInitiation()

		require.NoError(t, identity.CanApproveRecovery(contactA))
		identity.ApplyRecoveryApproval(contactA)
		require.Len(t, identity.Approvals, 1)

		err := identity.CanApproveRecovery(contactA)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotAuthorized))
		assert.Len(t, identity.Approvals, 1)
	})

	t.Run("completion requires threshold", func(t *testing.T) {
		identity := validIdentity(t)
		identity.ApplyRecoveryInitiation()
		identity.ApplyRecoveryApproval(contactA)

		newKey := bytes.Repeat([]byte{0xDD}, PublicKeySize)
		err := identity.CanCompleteRecovery(newKey)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidApprovalCount))
	})

	t.Run("completion requires a pending recovery", func(t *testing.T) {
		identity := validIdentity(t)
		newKey := bytes.Repeat([]byte{0xDD}, PublicKeySize)
		err := identity.CanCompleteRecovery(newKey)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeRecoveryNotInitiated))
	})

	t.Run("completion validates the replacement key", func(t *testing.T) {
		identity := validIdentity(t)
		identity.ApplyRecoveryInitiation()
		identity.ApplyRecoveryApproval(contactA)
		identity.ApplyRecoveryApproval(contactB)

		err := identity.CanCompleteRecovery([]byte{0x01})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidPublicKey))
	})

	t.Run("any caller completes and becomes the owner", func(t *testing.T) {
		identity := validIdentity(t)
		identity.ApplyRecoveryInitiation()
		identity.ApplyRecoveryApproval(contactA)
		identity.ApplyRecoveryApproval(contactB)

		newKey := bytes.Repeat([]byte{0xDD}, PublicKeySize)
		later := testNow.Add(2 * time.Hour)
		require.NoError(t, identity.CanCompleteRecovery(newKey))
		identity.ApplyRecoveryCompletion(stranger, newKey, later)

		assert.Equal(t, stranger, identity.Owner)
		assert.Equal(t, newKey, identity.PublicKey)
		assert.Equal(t, RecoveryStateActive, identity.RecoveryState)
		assert.Empty(t, identity.Approvals)
		assert.Equal(t, later, identity.UpdatedAt)
	})

	t.Run("record is recoverable again after completion", func(t *testing.T) {
		identity := validIdentity(t)
		identity.ApplyRecoveryInitiation()
		identity.ApplyRecoveryApproval(contactA)
		identity.ApplyRecoveryApproval(contactB)
		newKey := bytes.Repeat([]byte{0xDD}, PublicKeySize)
		identity.ApplyRecoveryCompletion(contactA, newKey, testNow)

		// New owner can start a fresh round with a clean approval set.
		require.NoError(t, identity.CanInitiateRecovery(contactA))
		identity.ApplyRecoveryInitiation()
		assert.Empty(t, identity.Approvals)
		require.NoError(t, identity.CanApproveRecovery(contactB))
	})

	t.Run("immutable fields survive recovery", func(t *testing.T) {
		identity := validIdentity(t)
		contactsBefore := append([]domain.Principal(nil), identity.RecoveryContacts...)
		identity.ApplyRecoveryInitiation()
		identity.ApplyRecoveryApproval(contactA)
		identity.ApplyRecoveryApproval(contactB)
		identity.ApplyRecoveryCompletion(contactB, bytes.Repeat([]byte{0xDD}, PublicKeySize), testNow)

		assert.Equal(t, testHash, identity.IdentityHash)
		assert.Equal(t, testBiometric, identity.BiometricHash)
		assert.Equal(t, contactsBefore, identity.RecoveryContacts)
		assert.Equal(t, 2, identity.RecoveryThreshold)
	})
}

func TestClone(t *testing.T) {
	identity := validIdentity(t)
	identity.ApplyRecoveryInitiation()
	identity.ApplyRecoveryApproval(contactA)

	cp := identity.Clone()
	cp.Name = "Changed"
	cp.PublicKey[0] = 0xFF
	cp.Approvals = append(cp.Approvals, contactB)

	assert.Equal(t, "Alice", identity.Name)
	assert.Equal(t, byte(0xBB), identity.PublicKey[0])
	assert.Len(t, identity.Approvals, 1)
}
