// Package domainerrors provides coded error values for the registry domain.
//
// Every failure surfaced by a service is a typed value carrying exactly one
// Code. Stores return infrastructure sentinels (pkg/platform/sentinel);
// services translate those into coded errors so transports can map them to
// wire responses without inspecting error strings.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code is the symbolic discriminant carried by every domain error.
type Code string

// Domain codes. Each maps to exactly one numeric wire value (see Wire).
const (
	CodeCapacityExceeded         Code = "capacity_exceeded"
	CodeInvalidHash              Code = "invalid_hash"
	CodeInvalidPublicKey         Code = "invalid_public_key"
	CodeInvalidName              Code = "invalid_name"
	CodeInvalidBiometric         Code = "invalid_biometric"
	CodeInvalidRecoveryContacts  Code = "invalid_recovery_contacts"
	CodeInvalidApprovalCount     Code = "invalid_approval_count"
	CodeDuplicateIdentity        Code = "duplicate_identity"
	CodeAuthorityNotConfigured   Code = "authority_not_configured"
	CodeNotAuthorized            Code = "not_authorized"
	CodeIdentityNotFound         Code = "identity_not_found"
	CodeRecoveryAlreadyInitiated Code = "recovery_already_initiated"
	CodeRecoveryNotInitiated     Code = "recovery_not_initiated"
)

// Transport-level codes for failures outside the domain taxonomy.
const (
	CodeBadRequest   Code = "bad_request"
	CodeUnauthorized Code = "unauthorized"
	CodeForbidden    Code = "forbidden"
	CodeConflict     Code = "conflict"
	CodeInternal     Code = "internal"
)

// wireCodes assigns each domain code a stable numeric value for external
// consumers. Transport-level codes deliberately have no numeric value.
var wireCodes = map[Code]int{
	CodeCapacityExceeded:         100,
	CodeInvalidHash:              101,
	CodeInvalidPublicKey:         102,
	CodeInvalidName:              103,
	CodeInvalidBiometric:         104,
	CodeInvalidRecoveryContacts:  105,
	CodeInvalidApprovalCount:     106,
	CodeDuplicateIdentity:        107,
	CodeAuthorityNotConfigured:   108,
	CodeNotAuthorized:            109,
	CodeIdentityNotFound:         110,
	CodeRecoveryAlreadyInitiated: 111,
	CodeRecoveryNotInitiated:     112,
}

// Wire returns the numeric wire value for the code and whether one exists.
func (c Code) Wire() (int, bool) {
	n, ok := wireCodes[c]
	return n, ok
}

// Error is a coded domain error. Construct with New or Wrap.
type Error struct {
	Code    Code
	Message string
	cause   error
}

// New creates a coded error with the given message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a coded error preserving the underlying cause for errors.Is/As.
func Wrap(cause error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether err carries a domain error and returns it when so.
func Is(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// HasCode reports whether err carries a domain error with the given code.
func HasCode(err error, code Code) bool {
	de, ok := Is(err)
	return ok && de.Code == code
}
