package models

import (
	"bytes"
	"time"
	"unicode/utf8"

	"custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

// Fixed sizes for the opaque byte blobs carried by a record. The registry
// validates lengths only; the blobs themselves are never interpreted.
const (
	IdentityHashSize  = 32
	PublicKeySize     = 33
	BiometricHashSize = 32

	NameMaxLength = 100

	MinRecoveryContacts = 2
	MaxRecoveryContacts = 5
)

// RecoveryState is the lifecycle state of a record's recovery machine.
type RecoveryState string

const (
	// RecoveryStateActive is the initial state. Records return to it after
	// every completed recovery.
	RecoveryStateActive RecoveryState = "active"
	// RecoveryStatePending means an owner has initiated recovery and the
	// record is accumulating contact approvals.
	RecoveryStatePending RecoveryState = "recovery_pending"
)

// Identity is the aggregate root for one registered identity record.
//
// Invariants:
//   - IdentityHash is exactly 32 bytes and unique across all records
//   - PublicKey is exactly 33 bytes
//   - BiometricHash is exactly 32 bytes and immutable after creation
//   - Name is 1–100 characters
//   - RecoveryContacts holds 2–5 distinct principals, fixed at creation
//   - 1 ≤ RecoveryThreshold ≤ len(RecoveryContacts), fixed at creation
//   - Approvals is a subset of RecoveryContacts with no duplicates
//   - RecoveryState == active implies Approvals is empty
//
// # Ownership Transfer
//
// CompleteRecovery deliberately accepts any caller once the approval
// threshold is met: the completing caller becomes the new owner. This is the
// "first to finalize claims control" social-recovery model, not an oversight.
// Services and tests must treat a post-recovery owner that differs from the
// original owner as the expected outcome.
type Identity struct {
	ID                domain.IdentityID
	IdentityHash      []byte
	PublicKey         []byte
	Name              string
	BiometricHash     []byte
	Owner             domain.Principal
	Status            bool
	RecoveryContacts  []domain.Principal
	RecoveryThreshold int
	RecoveryState     RecoveryState
	Approvals         []domain.Principal
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewIdentity validates caller input and constructs a record owned by the
// registering caller. The checks run in the registry's documented order so
// the first failing field determines the error.
func NewIdentity(identityHash, publicKey []byte, name string, biometricHash []byte, contacts []domain.Principal, threshold int, owner domain.Principal, now time.Time) (*Identity, error) {
	if len(identityHash) != IdentityHashSize {
		return nil, dErrors.New(dErrors.CodeInvalidHash, "identity hash must be exactly 32 bytes")
	}
	if len(publicKey) != PublicKeySize {
		return nil, dErrors.New(dErrors.CodeInvalidPublicKey, "public key must be exactly 33 bytes")
	}
	if n := utf8.RuneCountInString(name); n < 1 || n > NameMaxLength {
		return nil, dErrors.New(dErrors.CodeInvalidName, "name must be 1 to 100 characters")
	}
	if len(biometricHash) != BiometricHashSize {
		return nil, dErrors.New(dErrors.CodeInvalidBiometric, "biometric hash must be exactly 32 bytes")
	}
	if err := validateRecoveryContacts(contacts); err != nil {
		return nil, err
	}
	if threshold < 1 || threshold > len(contacts) {
		return nil, dErrors.New(dErrors.CodeInvalidApprovalCount, "recovery threshold must be between 1 and the number of recovery contacts")
	}

	return &Identity{
		IdentityHash:      bytes.Clone(identityHash),
		PublicKey:         bytes.Clone(publicKey),
		Name:              name,
		BiometricHash:     bytes.Clone(biometricHash),
		Owner:             owner,
		Status:            true,
		RecoveryContacts:  append([]domain.Principal(nil), contacts...),
		RecoveryThreshold: threshold,
		RecoveryState:     RecoveryStateActive,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

func validateRecoveryContacts(contacts []domain.Principal) error {
	if len(contacts) < MinRecoveryContacts || len(contacts) > MaxRecoveryContacts {
		return dErrors.New(dErrors.CodeInvalidRecoveryContacts, "recovery contacts must list 2 to 5 principals")
	}
	seen := make(map[domain.Principal]struct{}, len(contacts))
	for _, c := range contacts {
		if c.IsNil() || c == domain.BurnPrincipal {
			return dErrors.New(dErrors.CodeInvalidRecoveryContacts, "recovery contact cannot be empty or the burn principal")
		}
		if _, dup := seen[c]; dup {
			return dErrors.New(dErrors.CodeInvalidRecoveryContacts, "recovery contacts must be distinct")
		}
		seen[c] = struct{}{}
	}
	return nil
}

// Clone returns a deep copy so stores can hand out snapshots without aliasing
// the committed record.
func (i *Identity) Clone() *Identity {
	cp := *i
	cp.IdentityHash = bytes.Clone(i.IdentityHash)
	cp.PublicKey = bytes.Clone(i.PublicKey)
	cp.BiometricHash = bytes.Clone(i.BiometricHash)
	cp.RecoveryContacts = append([]domain.Principal(nil), i.RecoveryContacts...)
	cp.Approvals = append([]domain.Principal(nil), i.Approvals...)
	return &cp
}

// IsRecoveryContact reports whether the principal was pre-declared as a
// recovery contact at registration.
func (i *Identity) IsRecoveryContact(p domain.Principal) bool {
	for _, c := range i.RecoveryContacts {
		if c == p {
			return true
		}
	}
	return false
}

// HasApproved reports whether the contact has already approved the pending
// recovery.
func (i *Identity) HasApproved(p domain.Principal) bool {
	for _, a := range i.Approvals {
		if a == p {
			return true
		}
	}
	return false
}

// CanUpdateName checks whether the caller may rename the record.
// Use with ApplyNameUpdate in Execute callbacks.
func (i *Identity) CanUpdateName(caller domain.Principal, name string) error {
	if caller != i.Owner {
		return dErrors.New(dErrors.CodeNotAuthorized, "only the owner may update the record")
	}
	if n := utf8.RuneCountInString(name); n < 1 || n > NameMaxLength {
		return dErrors.New(dErrors.CodeInvalidName, "name must be 1 to 100 characters")
	}
	return nil
}

// ApplyNameUpdate replaces the name and refreshes the record timestamp.
// Call CanUpdateName first to validate the transition.
func (i *Identity) ApplyNameUpdate(name string, now time.Time) {
	i.Name = name
	i.UpdatedAt = now
}

// CanInitiateRecovery checks whether the caller may move the record into
// RecoveryPending. Only the current owner may initiate, and only from Active.
func (i *Identity) CanInitiateRecovery(caller domain.Principal) error {
	if caller != i.Owner {
		return dErrors.New(dErrors.CodeNotAuthorized, "only the owner may initiate recovery")
	}
	if i.RecoveryState != RecoveryStateActive {
		return dErrors.New(dErrors.CodeRecoveryAlreadyInitiated, "recovery is already in progress")
	}
	return nil
}

// ApplyRecoveryInitiation moves the record to RecoveryPending with an empty
// approval set.
func (i *Identity) ApplyRecoveryInitiation() {
	i.RecoveryState = RecoveryStatePending
	i.Approvals = nil
}

// CanApproveRecovery checks whether the caller may add an approval.
// Approvals carry set semantics: a contact that has already approved holds no
// further approval right and is rejected.
func (i *Identity) CanApproveRecovery(caller domain.Principal) error {
	if i.RecoveryState != RecoveryStatePending {
		return dErrors.New(dErrors.CodeRecoveryNotInitiated, "no recovery in progress")
	}
	if !i.IsRecoveryContact(caller) {
		return dErrors.New(dErrors.CodeNotAuthorized, "caller is not a recovery contact")
	}
	if i.HasApproved(caller) {
		return dErrors.New(dErrors.CodeNotAuthorized, "contact has already approved this recovery")
	}
	// Unreachable while approvals stay a subset of contacts; kept as a guard
	// on the approval-set bound.
	if len(i.Approvals) >= len(i.RecoveryContacts) {
		return dErrors.New(dErrors.CodeInvalidApprovalCount, "approval set is full")
	}
	return nil
}

// ApplyRecoveryApproval records the contact's approval.
func (i *Identity) ApplyRecoveryApproval(caller domain.Principal) {
	i.Approvals = append(i.Approvals, caller)
}

// CanCompleteRecovery checks whether recovery may be finalized with the given
// replacement key. Any caller may complete once the threshold is met.
func (i *Identity) CanCompleteRecovery(newPublicKey []byte) error {
	if i.RecoveryState != RecoveryStatePending {
		return dErrors.New(dErrors.CodeRecoveryNotInitiated, "no recovery in progress")
	}
	if len(i.Approvals) < i.RecoveryThreshold {
		return dErrors.New(dErrors.CodeInvalidApprovalCount, "approvals below recovery threshold")
	}
	if len(newPublicKey) != PublicKeySize {
		return dErrors.New(dErrors.CodeInvalidPublicKey, "public key must be exactly 33 bytes")
	}
	return nil
}

// ApplyRecoveryCompletion finalizes recovery: the completing caller becomes
// the owner, the key rotates, and the record returns to Active with a cleared
// approval set.
func (i *Identity) ApplyRecoveryCompletion(caller domain.Principal, newPublicKey []byte, now time.Time) {
	i.RecoveryState = RecoveryStateActive
	i.Approvals = nil
	i.PublicKey = bytes.Clone(newPublicKey)
	i.Owner = caller
	i.UpdatedAt = now
}
