package models

import (
	"time"

	"custodia/pkg/domain"
)

// UpdateLog is the latest-update slot for one identity. It is not a history:
// every successful name update overwrites the previous entry.
type UpdateLog struct {
	IdentityID      domain.IdentityID
	UpdateName      string
	UpdateTimestamp time.Time
	Updater         domain.Principal
}
