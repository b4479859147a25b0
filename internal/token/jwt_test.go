package token

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "concord/pkg/domain"
	dErrors "concord/pkg/domain-errors"
)

func TestGenerateAndValidate(t *testing.T) {
	svc := NewService("test-signing-key", "concord-test")

	memberID := id.MemberID(uuid.New())
	federationID := id.FederationID(uuid.New())

	raw, err := svc.GenerateAccessToken(memberID, federationID, id.RoleGuardian, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	identity, err := svc.ValidateToken(raw)
	require.NoError(t, err)
	assert.Equal(t, memberID, identity.MemberID)
	assert.Equal(t, federationID, identity.FederationID)
	assert.Equal(t, id.RoleGuardian, identity.Role)
}

func TestValidate_ExpiredToken(t *testing.T) {
	svc := NewService("test-signing-key", "concord-test")

	raw, err := svc.GenerateAccessToken(id.MemberID(uuid.New()), id.FederationID(uuid.New()), id.RoleAdult, -time.Minute)
	require.NoError(t, err)

	_, err = svc.ValidateToken(raw)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	assert.Equal(t, "token has expired", dErrors.MessageOf(err))
}

func TestValidate_WrongKey(t *testing.T) {
	svc := NewService("test-signing-key", "concord-test")
	other := NewService("another-key", "concord-test")

	raw, err := svc.GenerateAccessToken(id.MemberID(uuid.New()), id.FederationID(uuid.New()), id.RoleAdult, time.Hour)
	require.NoError(t, err)

	_, err = other.ValidateToken(raw)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestValidate_Garbage(t *testing.T) {
	svc := NewService("test-signing-key", "concord-test")

	_, err := svc.ValidateToken("not.a.token")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}
