package audit

import (
	"context"
	"time"

	"custodia/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers events with legal/regulatory significance.
	// These require tamper-proof storage and long retention.
	// Examples: identity registration, record updates.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events relevant to security monitoring and forensics.
	// These feed into SIEM systems and alerting pipelines.
	// Examples: recovery lifecycle, authority configuration, ownership transfer.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers events useful for debugging and operational visibility.
	// These can be sampled or aggregated with shorter retention.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic after every committed mutation. Keep it
// transport-agnostic so stores and sinks can fan out. Events are advisory:
// a failed emission never rolls back the mutation it describes.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	// Subject is the affected identity id in decimal form, or the authority
	// principal for configuration events.
	Subject string
	Action  string
	// Actor is the caller principal that performed the operation.
	Actor domain.Principal
	// Approver is set for recovery approval events.
	Approver domain.Principal
	// NewOwner is set when a completed recovery reassigns ownership.
	NewOwner domain.Principal
	// RequestID is the correlation ID from the request context.
	RequestID string
}

type AuditEvent string

const (
	EventIdentityRegistered  AuditEvent = "identity_registered"
	EventIdentityUpdated     AuditEvent = "identity_updated"
	EventRecoveryInitiated   AuditEvent = "recovery_initiated"
	EventRecoveryApproved    AuditEvent = "recovery_approved"
	EventRecoveryCompleted   AuditEvent = "recovery_completed"
	EventAuthorityConfigured AuditEvent = "authority_configured"
)

// eventCategories maps each audit event to its category.
// Compliance: legal/regulatory significance, long retention required.
// Security: security monitoring, SIEM integration, alerting.
var eventCategories = map[AuditEvent]EventCategory{
	EventIdentityRegistered:  CategoryCompliance,
	EventIdentityUpdated:     CategoryCompliance,
	EventRecoveryInitiated:   CategorySecurity,
	EventRecoveryApproved:    CategorySecurity,
	EventRecoveryCompleted:   CategorySecurity,
	EventAuthorityConfigured: CategorySecurity,
}

// Category returns the category for the event, defaulting to operations for
// events missing from the map.
func (e AuditEvent) Category() EventCategory {
	if c, ok := eventCategories[e]; ok {
		return c
	}
	return CategoryOperations
}

// Store persists audit events. Sinks that cannot serve reads (e.g. Kafka)
// implement only Store; readable stores additionally implement Lister.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// Lister serves event reads for stores that retain them.
type Lister interface {
	ListBySubject(ctx context.Context, subject string) ([]Event, error)
}
