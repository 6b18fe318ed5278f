package service

import (
	"context"
	"log/slog"

	"custodia/internal/identity/models"
	"custodia/pkg/platform/audit"
	"custodia/pkg/requestcontext"
)

// auditEmitter flattens domain event payloads into audit events. Emission is
// advisory: failures are logged and never roll back the mutation they
// describe.
type auditEmitter struct {
	logger    *slog.Logger
	publisher AuditPublisher
}

func newAuditEmitter(logger *slog.Logger, publisher AuditPublisher) *auditEmitter {
	return &auditEmitter{logger: logger, publisher: publisher}
}

func (e *auditEmitter) emit(ctx context.Context, event audit.Event) {
	if e.publisher == nil {
		return
	}
	event.Timestamp = requestcontext.Now(ctx)
	event.RequestID = requestcontext.RequestID(ctx)
	if err := e.publisher.Emit(ctx, event); err != nil {
		e.logger.WarnContext(ctx, "failed to emit audit event",
			"action", event.Action,
			"subject", event.Subject,
			"error", err,
		)
	}
}

func (e *auditEmitter) emitIdentityRegistered(ctx context.Context, payload models.IdentityRegistered) {
	e.emit(ctx, audit.Event{
		Subject: payload.ID.String(),
		Action:  string(audit.EventIdentityRegistered),
		Actor:   payload.Owner,
	})
}

func (e *auditEmitter) emitIdentityUpdated(ctx context.Context, payload models.IdentityUpdated) {
	e.emit(ctx, audit.Event{
		Subject: payload.ID.String(),
		Action:  string(audit.EventIdentityUpdated),
		Actor:   payload.Updater,
	})
}

func (e *auditEmitter) emitRecoveryInitiated(ctx context.Context, payload models.RecoveryInitiated) {
	e.emit(ctx, audit.Event{
		Subject: payload.ID.String(),
		Action:  string(audit.EventRecoveryInitiated),
		Actor:   payload.Owner,
	})
}

func (e *auditEmitter) emitRecoveryApproved(ctx context.Context, payload models.RecoveryApproved) {
	e.emit(ctx, audit.Event{
		Subject:  payload.ID.String(),
		Action:   string(audit.EventRecoveryApproved),
		Actor:    payload.Approver,
		Approver: payload.Approver,
	})
}

func (e *auditEmitter) emitRecoveryCompleted(ctx context.Context, payload models.RecoveryCompleted) {
	e.emit(ctx, audit.Event{
		Subject:  payload.ID.String(),
		Action:   string(audit.EventRecoveryCompleted),
		Actor:    payload.NewOwner,
		NewOwner: payload.NewOwner,
	})
}

func (e *auditEmitter) emitAuthorityConfigured(ctx context.Context, payload models.AuthorityConfigured) {
	e.emit(ctx, audit.Event{
		Subject: payload.Authority.String(),
		Action:  string(audit.EventAuthorityConfigured),
		Actor:   payload.Authority,
	})
}
