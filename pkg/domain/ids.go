package domain

import (
	"fmt"
	"strconv"
)

// IdentityID is the primary key of an identity record. IDs are dense,
// allocated starting at 0 and strictly increasing in creation order.
type IdentityID uint64

// ParseIdentityID validates and returns an IdentityID from its decimal form.
func ParseIdentityID(s string) (IdentityID, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid identity id %q: %w", s, err)
	}
	return IdentityID(n), nil
}

// String returns the decimal representation of the ID.
func (i IdentityID) String() string {
	return strconv.FormatUint(uint64(i), 10)
}

// Principal identifies an authenticated caller. Principals are opaque to the
// registry; only equality and membership checks are performed on them.
type Principal string

// BurnPrincipal is the well-known null principal. It can never hold the
// registry authority and never owns a record.
const BurnPrincipal Principal = "0x0000000000000000000000000000000000000000"

// ParsePrincipal validates and returns a Principal.
// Returns an error if the principal is empty or the burn principal.
func ParsePrincipal(s string) (Principal, error) {
	p := Principal(s)
	if p.IsNil() {
		return "", fmt.Errorf("principal cannot be empty")
	}
	if p == BurnPrincipal {
		return "", fmt.Errorf("principal cannot be the burn principal")
	}
	return p, nil
}

// IsNil returns true if the principal is unset.
func (p Principal) IsNil() bool {
	return p == ""
}

// String returns the string representation of the principal.
func (p Principal) String() string {
	return string(p)
}
