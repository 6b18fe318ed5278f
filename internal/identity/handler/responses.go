package handler

import (
	"encoding/hex"
	"time"

	"custodia/internal/identity/models"
)

type registerResponse struct {
	ID uint64 `json:"id"`
}

type identityResponse struct {
	ID                uint64    `json:"id"`
	IdentityHash      string    `json:"identity_hash"`
	PublicKey         string    `json:"public_key"`
	Name              string    `json:"name"`
	BiometricHash     string    `json:"biometric_hash"`
	Owner             string    `json:"owner"`
	Status            bool      `json:"status"`
	RecoveryContacts  []string  `json:"recovery_contacts"`
	RecoveryThreshold int       `json:"recovery_threshold"`
	RecoveryState     string    `json:"recovery_state"`
	ApprovalCount     int       `json:"approval_count"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func newIdentityResponse(record *models.Identity) identityResponse {
	contacts := make([]string, 0, len(record.RecoveryContacts))
	for _, c := range record.RecoveryContacts {
		contacts = append(contacts, c.String())
	}
	return identityResponse{
		ID:                uint64(record.ID),
		IdentityHash:      hex.EncodeToString(record.IdentityHash),
		PublicKey:         hex.EncodeToString(record.PublicKey),
		Name:              record.Name,
		BiometricHash:     hex.EncodeToString(record.BiometricHash),
		Owner:             record.Owner.String(),
		Status:            record.Status,
		RecoveryContacts:  contacts,
		RecoveryThreshold: record.RecoveryThreshold,
		RecoveryState:     string(record.RecoveryState),
		ApprovalCount:     len(record.Approvals),
		CreatedAt:         record.CreatedAt,
		UpdatedAt:         record.UpdatedAt,
	}
}

type updateLogResponse struct {
	IdentityID      uint64     `json:"identity_id"`
	UpdateName      string     `json:"update_name,omitempty"`
	UpdateTimestamp *time.Time `json:"update_timestamp,omitempty"`
	Updater         string     `json:"updater,omitempty"`
}

func newUpdateLogResponse(id uint64, entry models.UpdateLog) updateLogResponse {
	resp := updateLogResponse{IdentityID: id}
	if !entry.UpdateTimestamp.IsZero() {
		ts := entry.UpdateTimestamp
		resp.UpdateName = entry.UpdateName
		resp.UpdateTimestamp = &ts
		resp.Updater = entry.Updater.String()
	}
	return resp
}

type registeredResponse struct {
	Registered bool `json:"registered"`
}
