package handler

import (
	"encoding/hex"
	"fmt"

	"custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

// Byte blobs travel hex-encoded over the wire. Lengths are validated by the
// domain layer so the taxonomy codes stay in one place; the handlers only
// reject strings that are not hex at all.

type registerRequest struct {
	IdentityHash      string   `json:"identity_hash"`
	PublicKey         string   `json:"public_key"`
	Name              string   `json:"name"`
	BiometricHash     string   `json:"biometric_hash"`
	RecoveryContacts  []string `json:"recovery_contacts"`
	RecoveryThreshold int      `json:"recovery_threshold"`
}

type updateRequest struct {
	Name string `json:"name"`
}

type completeRecoveryRequest struct {
	NewPublicKey string `json:"new_public_key"`
}

type setAuthorityRequest struct {
	Authority string `json:"authority"`
}

func decodeHexField(field, value string) ([]byte, error) {
	raw, err := hex.DecodeString(value)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("%s must be hex encoded", field))
	}
	return raw, nil
}

func principals(values []string) []domain.Principal {
	out := make([]domain.Principal, 0, len(values))
	for _, v := range values {
		out = append(out, domain.Principal(v))
	}
	return out
}
