// Package service orchestrates the identity registry: admission control for
// registration, owner-gated updates, and the recovery state machine. Every
// operation checks its preconditions in documented order and commits through
// the store's atomic primitives, so a rejected operation has zero side
// effects.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"custodia/internal/identity/metrics"
	"custodia/internal/identity/models"
	"custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/audit"
	"custodia/pkg/platform/sentinel"
	"custodia/pkg/requestcontext"
)

// IdentityStore is the persistence contract the registry needs. Both the
// in-memory and the PostgreSQL stores satisfy it.
type IdentityStore interface {
	Register(ctx context.Context, identity *models.Identity) (domain.IdentityID, error)
	FindByID(ctx context.Context, id domain.IdentityID) (*models.Identity, error)
	FindByHash(ctx context.Context, hash []byte) (*models.Identity, error)
	Count(ctx context.Context) (int, error)
	Execute(ctx context.Context, id domain.IdentityID, validate func(*models.Identity) error, mutate func(*models.Identity)) (*models.Identity, error)
	RecordUpdate(ctx context.Context, entry models.UpdateLog) error
	FindUpdateLog(ctx context.Context, id domain.IdentityID) (models.UpdateLog, error)
	ConfigureAuthority(ctx context.Context, authority domain.Principal) error
	Authority(ctx context.Context) (domain.Principal, error)
}

// AuditPublisher receives a domain event after every committed mutation.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// StoreTx provides a transactional boundary spanning several store calls
// (record mutation plus the update-log slot).
type StoreTx interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Cache is the optional read cache for hash lookups.
type Cache interface {
	Get(ctx context.Context, hash []byte) (*models.Identity, bool)
	Set(ctx context.Context, record *models.Identity)
	Invalidate(ctx context.Context, hash []byte)
}

// Service is the identity registry.
type Service struct {
	identities    IdentityStore
	maxIdentities int

	tx           StoreTx
	auditEmitter *auditEmitter
	metrics      *metrics.Metrics
	cache        Cache
	logger       *slog.Logger
	tracer       trace.Tracer
}

type serviceConfig struct {
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
	cache          Cache
	tx             StoreTx
}

type Option func(*serviceConfig)

func WithLogger(logger *slog.Logger) Option {
	return func(c *serviceConfig) { c.logger = logger }
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(c *serviceConfig) { c.auditPublisher = publisher }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *serviceConfig) { c.metrics = m }
}

func WithCache(cache Cache) Option {
	return func(c *serviceConfig) { c.cache = cache }
}

func WithStoreTx(tx StoreTx) Option {
	return func(c *serviceConfig) { c.tx = tx }
}

// New constructs the registry service. maxIdentities is the configured record
// ceiling checked before any other registration precondition.
func New(identities IdentityStore, maxIdentities int, opts ...Option) *Service {
	cfg := &serviceConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	tx := cfg.tx
	if tx == nil {
		tx = passthroughTx{}
	}
	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		identities:    identities,
		maxIdentities: maxIdentities,
		tx:            tx,
		auditEmitter:  newAuditEmitter(logger, cfg.auditPublisher),
		metrics:       cfg.metrics,
		cache:         cfg.cache,
		logger:        logger,
		tracer:        otel.Tracer("custodia/identity"),
	}
}

// RegisterParams carries the caller input for register-identity.
type RegisterParams struct {
	IdentityHash      []byte
	PublicKey         []byte
	Name              string
	BiometricHash     []byte
	RecoveryContacts  []domain.Principal
	RecoveryThreshold int
}

// Register admits a new identity record. Preconditions are checked in order;
// the first failure wins and nothing is written. On success the new record's
// dense id is returned.
func (s *Service) Register(ctx context.Context, p RegisterParams) (domain.IdentityID, error) {
	ctx, span := s.tracer.Start(ctx, "registry.Register")
	defer span.End()
	start := time.Now()

	caller, err := s.requireCaller(ctx)
	if err != nil {
		return 0, err
	}

	// Capacity is checked before field validation so a full registry answers
	// the same regardless of input shape.
	count, err := s.identities.Count(ctx)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count identities")
	}
	if count >= s.maxIdentities {
		return 0, dErrors.New(dErrors.CodeCapacityExceeded, "identity registry is full")
	}

	now := requestcontext.Now(ctx)
	identity, err := models.NewIdentity(p.IdentityHash, p.PublicKey, p.Name, p.BiometricHash, p.RecoveryContacts, p.RecoveryThreshold, caller, now)
	if err != nil {
		return 0, err
	}

	if _, err := s.identities.FindByHash(ctx, p.IdentityHash); err == nil {
		return 0, dErrors.New(dErrors.CodeDuplicateIdentity, "identity hash is already registered")
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check identity hash")
	}

	if _, err := s.identities.Authority(ctx); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return 0, dErrors.New(dErrors.CodeAuthorityNotConfigured, "registry authority has not been configured")
		}
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read registry authority")
	}

	id, err := s.identities.Register(ctx, identity)
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrCapacity):
			return 0, dErrors.New(dErrors.CodeCapacityExceeded, "identity registry is full")
		case errors.Is(err, sentinel.ErrAlreadyUsed):
			return 0, dErrors.New(dErrors.CodeDuplicateIdentity, "identity hash is already registered")
		default:
			return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to register identity")
		}
	}

	s.auditEmitter.emitIdentityRegistered(ctx, models.IdentityRegistered{ID: id, Owner: caller})
	if s.metrics != nil {
		s.metrics.IdentitiesRegistered.Inc()
		s.metrics.ObserveRegister(start)
	}
	return id, nil
}

// UpdateIdentity replaces the record name and overwrites the update-log slot.
// Only the current owner may update.
func (s *Service) UpdateIdentity(ctx context.Context, id domain.IdentityID, newName string) error {
	ctx, span := s.tracer.Start(ctx, "registry.UpdateIdentity")
	defer span.End()

	caller, err := s.requireCaller(ctx)
	if err != nil {
		return err
	}
	now := requestcontext.Now(ctx)

	var updated *models.Identity
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		record, err := s.identities.Execute(txCtx, id,
			func(i *models.Identity) error {
				return i.CanUpdateName(caller, newName)
			},
			func(i *models.Identity) {
				i.ApplyNameUpdate(newName, now)
			},
		)
		if err != nil {
			return wrapRecordErr(err)
		}
		if err := s.identities.RecordUpdate(txCtx, models.UpdateLog{
			IdentityID:      id,
			UpdateName:      newName,
			UpdateTimestamp: now,
			Updater:         caller,
		}); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record update log")
		}
		updated = record
		return nil
	})
	if err != nil {
		return err
	}

	s.invalidateCache(ctx, updated)
	s.auditEmitter.emitIdentityUpdated(ctx, models.IdentityUpdated{ID: id, Updater: caller})
	if s.metrics != nil {
		s.metrics.IdentityUpdates.Inc()
	}
	return nil
}

// InitiateRecovery moves the record into RecoveryPending with an empty
// approval set. Only the current owner may initiate.
func (s *Service) InitiateRecovery(ctx context.Context, id domain.IdentityID) error {
	ctx, span := s.tracer.Start(ctx, "registry.InitiateRecovery")
	defer span.End()

	caller, err := s.requireCaller(ctx)
	if err != nil {
		return err
	}

	record, err := s.identities.Execute(ctx, id,
		func(i *models.Identity) error {
			return i.CanInitiateRecovery(caller)
		},
		func(i *models.Identity) {
			i.ApplyRecoveryInitiation()
		},
	)
	if err != nil {
		return wrapRecordErr(err)
	}

	s.invalidateCache(ctx, record)
	s.auditEmitter.emitRecoveryInitiated(ctx, models.RecoveryInitiated{ID: id, Owner: caller})
	if s.metrics != nil {
		s.metrics.RecoveriesInitiated.Inc()
	}
	return nil
}

// ApproveRecovery records one recovery-contact approval. Approvals carry set
// semantics: the same contact cannot count twice toward the threshold.
func (s *Service) ApproveRecovery(ctx context.Context, id domain.IdentityID) error {
	ctx, span := s.tracer.Start(ctx, "registry.ApproveRecovery")
	defer span.End()

	caller, err := s.requireCaller(ctx)
	if err != nil {
		return err
	}

	record, err := s.identities.Execute(ctx, id,
		func(i *models.Identity) error {
			return i.CanApproveRecovery(caller)
		},
		func(i *models.Identity) {
			i.ApplyRecoveryApproval(caller)
		},
	)
	if err != nil {
		return wrapRecordErr(err)
	}

	s.invalidateCache(ctx, record)
	s.auditEmitter.emitRecoveryApproved(ctx, models.RecoveryApproved{
		ID:            id,
		Approver:      caller,
		ApprovalCount: len(record.Approvals),
	})
	if s.metrics != nil {
		s.metrics.RecoveryApprovals.Inc()
	}
	return nil
}

// CompleteRecovery finalizes a recovery once the approval threshold is met.
// Any caller may complete; the completing caller becomes the new owner.
func (s *Service) CompleteRecovery(ctx context.Context, id domain.IdentityID, newPublicKey []byte) error {
	ctx, span := s.tracer.Start(ctx, "registry.CompleteRecovery")
	defer span.End()
	start := time.Now()

	caller, err := s.requireCaller(ctx)
	if err != nil {
		return err
	}
	now := requestcontext.Now(ctx)

	record, err := s.identities.Execute(ctx, id,
		func(i *models.Identity) error {
			return i.CanCompleteRecovery(newPublicKey)
		},
		func(i *models.Identity) {
			i.ApplyRecoveryCompletion(caller, newPublicKey, now)
		},
	)
	if err != nil {
		return wrapRecordErr(err)
	}

	s.invalidateCache(ctx, record)
	s.auditEmitter.emitRecoveryCompleted(ctx, models.RecoveryCompleted{ID: id, NewOwner: caller})
	if s.metrics != nil {
		s.metrics.RecoveriesCompleted.Inc()
		s.metrics.ObserveRecoveryCompletion(start)
	}
	return nil
}

// SetAuthority claims the write-once registry authority. Must happen before
// any registration is accepted.
func (s *Service) SetAuthority(ctx context.Context, authority domain.Principal) error {
	ctx, span := s.tracer.Start(ctx, "registry.SetAuthority")
	defer span.End()

	if authority.IsNil() || authority == domain.BurnPrincipal {
		return dErrors.New(dErrors.CodeBadRequest, "authority cannot be empty or the burn principal")
	}
	if err := s.identities.ConfigureAuthority(ctx, authority); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return dErrors.New(dErrors.CodeConflict, "registry authority is already configured")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to configure authority")
	}

	s.auditEmitter.emitAuthorityConfigured(ctx, models.AuthorityConfigured{Authority: authority})
	return nil
}

// GetIdentity returns the record at id.
func (s *Service) GetIdentity(ctx context.Context, id domain.IdentityID) (*models.Identity, error) {
	record, err := s.identities.FindByID(ctx, id)
	if err != nil {
		return nil, wrapRecordErr(err)
	}
	return record, nil
}

// GetIdentityByHash resolves the content hash through the read cache.
func (s *Service) GetIdentityByHash(ctx context.Context, hash []byte) (*models.Identity, error) {
	if len(hash) != models.IdentityHashSize {
		return nil, dErrors.New(dErrors.CodeInvalidHash, "identity hash must be exactly 32 bytes")
	}
	if s.cache != nil {
		if record, ok := s.cache.Get(ctx, hash); ok {
			return record, nil
		}
	}
	record, err := s.identities.FindByHash(ctx, hash)
	if err != nil {
		return nil, wrapRecordErr(err)
	}
	if s.cache != nil {
		s.cache.Set(ctx, record)
	}
	return record, nil
}

// IsIdentityRegistered reports whether the hash is taken.
func (s *Service) IsIdentityRegistered(ctx context.Context, hash []byte) (bool, error) {
	_, err := s.GetIdentityByHash(ctx, hash)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeIdentityNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// GetIdentityUpdates returns the latest update-log slot for the record.
func (s *Service) GetIdentityUpdates(ctx context.Context, id domain.IdentityID) (models.UpdateLog, error) {
	if _, err := s.identities.FindByID(ctx, id); err != nil {
		return models.UpdateLog{}, wrapRecordErr(err)
	}
	entry, err := s.identities.FindUpdateLog(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return models.UpdateLog{}, nil
		}
		return models.UpdateLog{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read update log")
	}
	return entry, nil
}

func (s *Service) requireCaller(ctx context.Context) (domain.Principal, error) {
	caller := requestcontext.Caller(ctx)
	if caller.IsNil() {
		return "", dErrors.New(dErrors.CodeUnauthorized, "authenticated caller required")
	}
	return caller, nil
}

func (s *Service) invalidateCache(ctx context.Context, record *models.Identity) {
	if s.cache != nil && record != nil {
		s.cache.Invalidate(ctx, record.IdentityHash)
	}
}

// wrapRecordErr translates store sentinels into domain errors; domain errors
// from validate callbacks pass through untouched.
func wrapRecordErr(err error) error {
	if _, ok := dErrors.Is(err); ok {
		return err
	}
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeIdentityNotFound, "identity not found")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "identity store failure")
}
