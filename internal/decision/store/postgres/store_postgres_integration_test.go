//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concord/internal/decision/models"
	"concord/internal/decision/store/postgres"
	id "concord/pkg/domain"
	"concord/pkg/platform/sentinel"
	"concord/pkg/testutil/containers"
)

func newDecision(federationID id.FederationID, subject id.MemberID) *models.PendingDecision {
	return &models.PendingDecision{
		ID:                id.DecisionID(uuid.New()),
		Kind:              models.KindSigning,
		FederationID:      federationID,
		SubjectMemberID:   subject,
		SubjectRole:       id.RoleOffspring,
		EventType:         id.EventTypeTransfer,
		RequiredApprovals: 2,
		ApprovedByRoles:   []id.Role{id.RoleGuardian, id.RoleSteward},
		Status:            models.StatusPending,
		CreatedBy:         subject,
		CreatedAt:         time.Now().UTC().Truncate(time.Microsecond),
	}
}

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	pc := containers.NewPostgresContainer(t)
	store := postgres.New(pc.DB)
	ctx := context.Background()

	t.Run("concurrent create joins one open decision", func(t *testing.T) {
		require.NoError(t, pc.TruncateTables(ctx, "pending_decisions"))

		federationID := id.FederationID(uuid.New())
		subject := id.MemberID(uuid.New())
		const goroutines = 20

		var wg sync.WaitGroup
		var created atomic.Int32
		for i := 0; i < goroutines; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, wasCreated, err := store.CreateOrJoin(ctx, newDecision(federationID, subject))
				if err != nil {
					t.Errorf("CreateOrJoin: %v", err)
					return
				}
				if wasCreated {
					created.Add(1)
				}
			}()
		}
		wg.Wait()

		// The partial unique index admits exactly one open row.
		assert.Equal(t, int32(1), created.Load())

		open, err := store.ListByFederation(ctx, federationID)
		require.NoError(t, err)
		assert.Len(t, open, 1)
	})

	t.Run("update is version guarded", func(t *testing.T) {
		require.NoError(t, pc.TruncateTables(ctx, "pending_decisions"))

		d, created, err := store.CreateOrJoin(ctx, newDecision(id.FederationID(uuid.New()), id.MemberID(uuid.New())))
		require.NoError(t, err)
		require.True(t, created)

		stale := *d
		d.Approvals = append(d.Approvals, models.Approval{
			ApproverID:   id.MemberID(uuid.New()),
			ApproverRole: id.RoleGuardian,
			Decision:     models.VoteApprove,
			Timestamp:    time.Now().UTC(),
		})
		require.NoError(t, store.Update(ctx, d, 1))
		assert.Equal(t, 2, d.Version)

		err = store.Update(ctx, &stale, 1)
		assert.True(t, errors.Is(err, sentinel.ErrConflict))

		missing := newDecision(id.FederationID(uuid.New()), id.MemberID(uuid.New()))
		err = store.Update(ctx, missing, 1)
		assert.True(t, errors.Is(err, sentinel.ErrNotFound))
	})

	t.Run("round trip preserves approvals and expiry", func(t *testing.T) {
		require.NoError(t, pc.TruncateTables(ctx, "pending_decisions"))

		d := newDecision(id.FederationID(uuid.New()), id.MemberID(uuid.New()))
		d.Kind = models.KindRecovery
		d.EventType = ""
		d.RequestType = id.RecoveryIdentityKey
		d.Urgency = id.UrgencyHigh
		d.Reason = "lost device"
		d.Description = "member lost their phone"
		d.ExpiresAt = d.CreatedAt.Add(24 * time.Hour)

		stored, created, err := store.CreateOrJoin(ctx, d)
		require.NoError(t, err)
		require.True(t, created)

		got, err := store.Get(ctx, stored.ID)
		require.NoError(t, err)
		assert.Equal(t, models.KindRecovery, got.Kind)
		assert.Equal(t, id.RecoveryIdentityKey, got.RequestType)
		assert.Equal(t, []id.Role{id.RoleGuardian, id.RoleSteward}, got.ApprovedByRoles)
		assert.True(t, got.ExpiresAt.Equal(d.ExpiresAt))
	})
}
