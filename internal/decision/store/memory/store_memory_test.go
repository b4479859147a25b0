package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concord/internal/decision/models"
	id "concord/pkg/domain"
	"concord/pkg/platform/sentinel"
)

func newPending(federationID id.FederationID, subject id.MemberID) *models.PendingDecision {
	return &models.PendingDecision{
		ID:                id.DecisionID(uuid.New()),
		Kind:              models.KindSigning,
		FederationID:      federationID,
		SubjectMemberID:   subject,
		SubjectRole:       id.RoleAdult,
		EventType:         id.EventTypeTransfer,
		RequiredApprovals: 2,
		ApprovedByRoles:   []id.Role{id.RoleGuardian, id.RoleSteward},
		Status:            models.StatusPending,
		CreatedBy:         subject,
		CreatedAt:         time.Now(),
	}
}

func TestCreateOrJoin(t *testing.T) {
	ctx := context.Background()
	store := New()
	federationID := id.FederationID(uuid.New())
	subject := id.MemberID(uuid.New())

	first := newPending(federationID, subject)
	stored, created, err := store.CreateOrJoin(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 1, stored.Version)

	// A second open decision for the same subject and action joins.
	second := newPending(federationID, subject)
	joined, created, err := store.CreateOrJoin(ctx, second)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, joined.ID)

	// A different action opens independently.
	other := newPending(federationID, subject)
	other.EventType = id.EventTypeKeyExport
	_, created, err = store.CreateOrJoin(ctx, other)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestCreateOrJoin_FinalDecisionDoesNotBlock(t *testing.T) {
	ctx := context.Background()
	store := New()
	federationID := id.FederationID(uuid.New())
	subject := id.MemberID(uuid.New())

	first := newPending(federationID, subject)
	_, _, err := store.CreateOrJoin(ctx, first)
	require.NoError(t, err)

	first.Status = models.StatusRejected
	require.NoError(t, store.Update(ctx, first, 1))

	second := newPending(federationID, subject)
	_, created, err := store.CreateOrJoin(ctx, second)
	require.NoError(t, err)
	assert.True(t, created, "a final decision must not block a new attempt")
}

func TestUpdate_VersionGuard(t *testing.T) {
	ctx := context.Background()
	store := New()
	d := newPending(id.FederationID(uuid.New()), id.MemberID(uuid.New()))

	_, _, err := store.CreateOrJoin(ctx, d)
	require.NoError(t, err)

	a := *d
	b := *d

	a.Approvals = append(a.Approvals, models.Approval{ApproverID: id.MemberID(uuid.New()), Decision: models.VoteApprove})
	require.NoError(t, store.Update(ctx, &a, 1))
	assert.Equal(t, 2, a.Version)

	// The stale writer loses.
	b.Status = models.StatusRejected
	err = store.Update(ctx, &b, 1)
	assert.ErrorIs(t, err, sentinel.ErrConflict)

	stored, err := store.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status)
	assert.Len(t, stored.Approvals, 1)
}

func TestUpdate_NotFound(t *testing.T) {
	store := New()
	d := newPending(id.FederationID(uuid.New()), id.MemberID(uuid.New()))
	err := store.Update(context.Background(), d, 1)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestListOpenExpired(t *testing.T) {
	ctx := context.Background()
	store := New()
	now := time.Now()

	expired := newPending(id.FederationID(uuid.New()), id.MemberID(uuid.New()))
	expired.ExpiresAt = now.Add(-time.Hour)
	open := newPending(id.FederationID(uuid.New()), id.MemberID(uuid.New()))
	open.ExpiresAt = now.Add(time.Hour)

	_, _, err := store.CreateOrJoin(ctx, expired)
	require.NoError(t, err)
	_, _, err = store.CreateOrJoin(ctx, open)
	require.NoError(t, err)

	due, err := store.ListOpenExpired(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, expired.ID, due[0].ID)
}
