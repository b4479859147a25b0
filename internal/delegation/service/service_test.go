package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concord/internal/delegation/models"
	"concord/internal/delegation/store"
	"concord/internal/permission/store/usage"
	id "concord/pkg/domain"
	dErrors "concord/pkg/domain-errors"
	"concord/pkg/requestcontext"
)

type fixture struct {
	svc    *Service
	store  *store.InMemory
	source id.FederationID
	target id.FederationID
	admin  id.MemberID
	member id.MemberID
	ctx    context.Context
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  store.NewInMemory(),
		source: id.FederationID(uuid.New()),
		target: id.FederationID(uuid.New()),
		admin:  id.MemberID(uuid.New()),
		member: id.MemberID(uuid.New()),
		now:    time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}
	f.ctx = requestcontext.WithTime(context.Background(), f.now)

	svc, err := New(f.store, usage.NewInMemory())
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) create(t *testing.T, input CreateInput) *models.Delegation {
	t.Helper()
	if input.SourceFederationID.IsNil() {
		input.SourceFederationID = f.source
	}
	if input.TargetFederationID.IsNil() {
		input.TargetFederationID = f.target
	}
	if input.CreatedBy.IsNil() {
		input.CreatedBy = f.admin
	}
	if input.CreatorRole == "" {
		input.CreatorRole = id.RoleGuardian
	}
	d, err := f.svc.Create(f.ctx, input)
	require.NoError(t, err)
	return d
}

func intPtr(n int) *int { return &n }

func TestCreate_RequiresElevatedRole(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(f.ctx, CreateInput{
		SourceFederationID:  f.source,
		TargetFederationID:  f.target,
		DelegatedEventTypes: []id.EventType{id.EventTypeTransfer},
		CreatedBy:           f.admin,
		CreatorRole:         id.RoleAdult,
	})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestCreate_RejectsSelfDelegation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(f.ctx, CreateInput{
		SourceFederationID:  f.source,
		TargetFederationID:  f.source,
		DelegatedEventTypes: []id.EventType{id.EventTypeTransfer},
		CreatedBy:           f.admin,
		CreatorRole:         id.RoleGuardian,
	})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestAuthorize_CoverageChecks(t *testing.T) {
	f := newFixture(t)
	f.create(t, CreateInput{
		DelegatedEventTypes: []id.EventType{id.EventTypeTransfer, id.EventTypeMessageSign},
	})

	granted, err := f.svc.Authorize(f.ctx, f.source, f.target, f.member, id.EventTypeTransfer, false, f.now)
	require.NoError(t, err)
	assert.True(t, granted)

	// An event type outside the delegated set is not covered.
	granted, err = f.svc.Authorize(f.ctx, f.source, f.target, f.member, id.EventTypeKeyExport, false, f.now)
	require.NoError(t, err)
	assert.False(t, granted)

	// Direction matters: the grant does not flow target-to-source.
	granted, err = f.svc.Authorize(f.ctx, f.target, f.source, f.member, id.EventTypeTransfer, false, f.now)
	require.NoError(t, err)
	assert.False(t, granted)
}

func TestAuthorize_MemberScopedDelegation(t *testing.T) {
	f := newFixture(t)
	f.create(t, CreateInput{
		DelegatedEventTypes: []id.EventType{id.EventTypeTransfer},
		TargetMemberID:      &f.member,
	})

	granted, err := f.svc.Authorize(f.ctx, f.source, f.target, f.member, id.EventTypeTransfer, false, f.now)
	require.NoError(t, err)
	assert.True(t, granted)

	other := id.MemberID(uuid.New())
	granted, err = f.svc.Authorize(f.ctx, f.source, f.target, other, id.EventTypeTransfer, false, f.now)
	require.NoError(t, err)
	assert.False(t, granted)
}

func TestAuthorize_ExpiredDelegation(t *testing.T) {
	f := newFixture(t)
	until := f.now.Add(time.Hour)
	f.create(t, CreateInput{
		DelegatedEventTypes: []id.EventType{id.EventTypeTransfer},
		ValidUntil:          &until,
	})

	granted, err := f.svc.Authorize(f.ctx, f.source, f.target, f.member, id.EventTypeTransfer, false, f.now)
	require.NoError(t, err)
	assert.True(t, granted)

	granted, err = f.svc.Authorize(f.ctx, f.source, f.target, f.member, id.EventTypeTransfer, false, f.now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, granted)
}

func TestAuthorize_DailyCap(t *testing.T) {
	f := newFixture(t)
	f.create(t, CreateInput{
		DelegatedEventTypes: []id.EventType{id.EventTypeTransfer},
		MaxDailyUses:        intPtr(2),
	})

	for i := 0; i < 2; i++ {
		granted, err := f.svc.Authorize(f.ctx, f.source, f.target, f.member, id.EventTypeTransfer, true, f.now)
		require.NoError(t, err)
		assert.True(t, granted)
	}

	// Cap reached for today.
	granted, err := f.svc.Authorize(f.ctx, f.source, f.target, f.member, id.EventTypeTransfer, true, f.now)
	require.NoError(t, err)
	assert.False(t, granted)

	// An informational check sees the same exhaustion; "not over cap" is a
	// precondition for the delegation serving at all.
	granted, err = f.svc.Authorize(f.ctx, f.source, f.target, f.member, id.EventTypeTransfer, false, f.now)
	require.NoError(t, err)
	assert.False(t, granted)

	// The counter is per UTC day.
	granted, err = f.svc.Authorize(f.ctx, f.source, f.target, f.member, id.EventTypeTransfer, true, f.now.Add(24*time.Hour))
	require.NoError(t, err)
	assert.True(t, granted)
}

func TestAuthorize_SecondDelegationServesPastCap(t *testing.T) {
	f := newFixture(t)
	f.create(t, CreateInput{
		DelegatedEventTypes: []id.EventType{id.EventTypeTransfer},
		MaxDailyUses:        intPtr(1),
	})
	f.create(t, CreateInput{
		DelegatedEventTypes: []id.EventType{id.EventTypeTransfer},
	})

	// Three consuming uses: the capped delegation covers one, the uncapped
	// one covers the rest.
	for i := 0; i < 3; i++ {
		granted, err := f.svc.Authorize(f.ctx, f.source, f.target, f.member, id.EventTypeTransfer, true, f.now)
		require.NoError(t, err)
		assert.True(t, granted, "use %d", i)
	}

	// The uncapped delegation also keeps informational checks positive.
	granted, err := f.svc.Authorize(f.ctx, f.source, f.target, f.member, id.EventTypeTransfer, false, f.now)
	require.NoError(t, err)
	assert.True(t, granted)
}

func TestRevoke_IsImmediate(t *testing.T) {
	f := newFixture(t)
	d := f.create(t, CreateInput{
		DelegatedEventTypes: []id.EventType{id.EventTypeTransfer},
	})

	require.NoError(t, f.svc.Revoke(f.ctx, d.ID, f.admin, id.RoleSteward))

	granted, err := f.svc.Authorize(f.ctx, f.source, f.target, f.member, id.EventTypeTransfer, false, f.now)
	require.NoError(t, err)
	assert.False(t, granted)

	// Revoking twice conflicts rather than silently rewriting.
	err = f.svc.Revoke(f.ctx, d.ID, f.admin, id.RoleSteward)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
}

func TestRevoke_RequiresElevatedRole(t *testing.T) {
	f := newFixture(t)
	d := f.create(t, CreateInput{
		DelegatedEventTypes: []id.EventType{id.EventTypeTransfer},
	})

	err := f.svc.Revoke(f.ctx, d.ID, f.member, id.RoleOffspring)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}
