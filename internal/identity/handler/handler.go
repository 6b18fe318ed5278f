// Package handler exposes the identity registry over HTTP. Handlers decode
// and translate; every decision stays in the service.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"custodia/internal/identity/models"
	"custodia/internal/identity/service"
	"custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/httputil"
	"custodia/pkg/requestcontext"
)

// Registry is the service surface the HTTP layer depends on.
type Registry interface {
	Register(ctx context.Context, p service.RegisterParams) (domain.IdentityID, error)
	UpdateIdentity(ctx context.Context, id domain.IdentityID, newName string) error
	InitiateRecovery(ctx context.Context, id domain.IdentityID) error
	ApproveRecovery(ctx context.Context, id domain.IdentityID) error
	CompleteRecovery(ctx context.Context, id domain.IdentityID, newPublicKey []byte) error
	SetAuthority(ctx context.Context, authority domain.Principal) error
	GetIdentity(ctx context.Context, id domain.IdentityID) (*models.Identity, error)
	GetIdentityByHash(ctx context.Context, hash []byte) (*models.Identity, error)
	IsIdentityRegistered(ctx context.Context, hash []byte) (bool, error)
	GetIdentityUpdates(ctx context.Context, id domain.IdentityID) (models.UpdateLog, error)
}

type Handler struct {
	registry Registry
	logger   *slog.Logger
}

func New(registry Registry, logger *slog.Logger) *Handler {
	return &Handler{registry: registry, logger: logger}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[registerRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	identityHash, err := decodeHexField("identity_hash", req.IdentityHash)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	publicKey, err := decodeHexField("public_key", req.PublicKey)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	biometricHash, err := decodeHexField("biometric_hash", req.BiometricHash)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	id, err := h.registry.Register(ctx, service.RegisterParams{
		IdentityHash:      identityHash,
		PublicKey:         publicKey,
		Name:              req.Name,
		BiometricHash:     biometricHash,
		RecoveryContacts:  principals(req.RecoveryContacts),
		RecoveryThreshold: req.RecoveryThreshold,
	})
	if err != nil {
		h.writeError(ctx, w, "register identity", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, registerResponse{ID: uint64(id)})
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.identityID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[updateRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	if err := h.registry.UpdateIdentity(ctx, id, req.Name); err != nil {
		h.writeError(ctx, w, "update identity", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.identityID(w, r)
	if !ok {
		return
	}
	record, err := h.registry.GetIdentity(ctx, id)
	if err != nil {
		h.writeError(ctx, w, "get identity", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newIdentityResponse(record))
}

func (h *Handler) GetByHash(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hash, err := decodeHexField("hash", chi.URLParam(r, "hash"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	record, err := h.registry.GetIdentityByHash(ctx, hash)
	if err != nil {
		h.writeError(ctx, w, "get identity by hash", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newIdentityResponse(record))
}

func (h *Handler) IsRegistered(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hash, err := decodeHexField("hash", chi.URLParam(r, "hash"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	registered, err := h.registry.IsIdentityRegistered(ctx, hash)
	if err != nil {
		h.writeError(ctx, w, "check identity registration", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, registeredResponse{Registered: registered})
}

func (h *Handler) GetUpdates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.identityID(w, r)
	if !ok {
		return
	}
	entry, err := h.registry.GetIdentityUpdates(ctx, id)
	if err != nil {
		h.writeError(ctx, w, "get identity updates", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newUpdateLogResponse(uint64(id), entry))
}

func (h *Handler) InitiateRecovery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.identityID(w, r)
	if !ok {
		return
	}
	if err := h.registry.InitiateRecovery(ctx, id); err != nil {
		h.writeError(ctx, w, "initiate recovery", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) ApproveRecovery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.identityID(w, r)
	if !ok {
		return
	}
	if err := h.registry.ApproveRecovery(ctx, id); err != nil {
		h.writeError(ctx, w, "approve recovery", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CompleteRecovery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.identityID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[completeRecoveryRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	newKey, err := decodeHexField("new_public_key", req.NewPublicKey)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.registry.CompleteRecovery(ctx, id, newKey); err != nil {
		h.writeError(ctx, w, "complete recovery", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SetAuthority(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[setAuthorityRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	authority, err := domain.ParsePrincipal(req.Authority)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "authority must be a non-empty principal"))
		return
	}
	if err := h.registry.SetAuthority(ctx, authority); err != nil {
		h.writeError(ctx, w, "set authority", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) identityID(w http.ResponseWriter, r *http.Request) (domain.IdentityID, bool) {
	id, err := domain.ParseIdentityID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "identity id must be a non-negative integer"))
		return 0, false
	}
	return id, true
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, op string, err error) {
	if de, ok := dErrors.Is(err); !ok || de.Code == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, "registry operation failed",
			"operation", op,
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}
	httputil.WriteError(w, err)
}
