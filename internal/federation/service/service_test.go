package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concord/internal/federation/models"
	"concord/internal/federation/store"
	id "concord/pkg/domain"
	dErrors "concord/pkg/domain-errors"
	"concord/pkg/requestcontext"
)

type fixture struct {
	svc        *Service
	federation id.FederationID
	admin      id.MemberID
	ctx        context.Context
	now        time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		federation: id.FederationID(uuid.New()),
		admin:      id.MemberID(uuid.New()),
		now:        time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}
	f.ctx = requestcontext.WithTime(context.Background(), f.now)

	svc, err := New(store.NewInMemory())
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) addMember(t *testing.T, role id.Role) *models.Member {
	t.Helper()
	m, err := f.svc.AddMember(f.ctx, &models.Member{
		ID:           id.MemberID(uuid.New()),
		FederationID: f.federation,
		Role:         role,
		DisplayName:  "test member",
	}, f.admin, id.RoleGuardian)
	require.NoError(t, err)
	return m
}

func TestAddMember(t *testing.T) {
	f := newFixture(t)

	m := f.addMember(t, id.RoleAdult)
	assert.True(t, m.Active)
	assert.Equal(t, f.now, m.JoinedAt)

	got, err := f.svc.GetMember(f.ctx, f.federation, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)

	// Same ID again conflicts.
	_, err = f.svc.AddMember(f.ctx, &models.Member{
		ID:           m.ID,
		FederationID: f.federation,
		Role:         id.RoleAdult,
		DisplayName:  "duplicate",
	}, f.admin, id.RoleGuardian)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
}

func TestAddMember_RequiresElevatedRole(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.AddMember(f.ctx, &models.Member{
		ID:           id.MemberID(uuid.New()),
		FederationID: f.federation,
		Role:         id.RoleAdult,
		DisplayName:  "new member",
	}, f.admin, id.RoleOffspring)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestDeactivateMember(t *testing.T) {
	f := newFixture(t)
	m := f.addMember(t, id.RoleAdult)

	got, err := f.svc.DeactivateMember(f.ctx, f.federation, m.ID, f.admin, id.RoleSteward)
	require.NoError(t, err)
	assert.False(t, got.Active)
	require.NotNil(t, got.DeactivatedAt)
	assert.Equal(t, f.now, *got.DeactivatedAt)

	// Deactivating twice conflicts.
	_, err = f.svc.DeactivateMember(f.ctx, f.federation, m.ID, f.admin, id.RoleSteward)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))

	// A member of another federation is invisible to this one.
	other := id.FederationID(uuid.New())
	_, err = f.svc.DeactivateMember(f.ctx, other, m.ID, f.admin, id.RoleSteward)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestEligibleApproverCount(t *testing.T) {
	f := newFixture(t)

	count, err := f.svc.EligibleApproverCount(f.ctx, f.federation)
	require.NoError(t, err)
	assert.Zero(t, count)

	f.addMember(t, id.RoleGuardian)
	f.addMember(t, id.RoleGuardian)
	steward := f.addMember(t, id.RoleSteward)
	f.addMember(t, id.RoleAdult)
	f.addMember(t, id.RoleOffspring)

	count, err = f.svc.EligibleApproverCount(f.ctx, f.federation)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	// Deactivated elevated members stop counting.
	_, err = f.svc.DeactivateMember(f.ctx, f.federation, steward.ID, f.admin, id.RoleGuardian)
	require.NoError(t, err)

	count, err = f.svc.EligibleApproverCount(f.ctx, f.federation)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestHomeFederation(t *testing.T) {
	f := newFixture(t)
	m := f.addMember(t, id.RoleAdult)

	home, err := f.svc.HomeFederation(f.ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, f.federation, home)

	_, err = f.svc.HomeFederation(f.ctx, id.MemberID(uuid.New()))
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}
