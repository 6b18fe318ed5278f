package models

import "custodia/pkg/domain"

// Event payloads emitted after committed mutations. The audit layer flattens
// these into transport-agnostic audit events.

type IdentityRegistered struct {
	ID    domain.IdentityID
	Owner domain.Principal
}

type IdentityUpdated struct {
	ID      domain.IdentityID
	Updater domain.Principal
}

type RecoveryInitiated struct {
	ID    domain.IdentityID
	Owner domain.Principal
}

type RecoveryApproved struct {
	ID            domain.IdentityID
	Approver      domain.Principal
	ApprovalCount int
}

type RecoveryCompleted struct {
	ID       domain.IdentityID
	NewOwner domain.Principal
}

type AuthorityConfigured struct {
	Authority domain.Principal
}
