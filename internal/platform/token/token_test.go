package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

func TestIssueAndValidate(t *testing.T) {
	svc := NewService("test-signing-key")

	t.Run("round trips the caller principal", func(t *testing.T) {
		bearer, err := svc.Issue("0xalice", time.Hour)
		require.NoError(t, err)

		caller, err := svc.ValidateToken(bearer)
		require.NoError(t, err)
		assert.Equal(t, domain.Principal("0xalice"), caller)
	})

	t.Run("rejects expired tokens", func(t *testing.T) {
		bearer, err := svc.Issue("0xalice", -time.Minute)
		require.NoError(t, err)

		_, err = svc.ValidateToken(bearer)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("rejects tokens signed with another key", func(t *testing.T) {
		other := NewService("different-key")
		bearer, err := other.Issue("0xalice", time.Hour)
		require.NoError(t, err)

		_, err = svc.ValidateToken(bearer)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("rejects garbage", func(t *testing.T) {
		_, err := svc.ValidateToken("not-a-token")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("rejects tokens without a usable subject", func(t *testing.T) {
		bearer, err := svc.Issue(domain.Principal(""), time.Hour)
		require.NoError(t, err)

		_, err = svc.ValidateToken(bearer)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}
