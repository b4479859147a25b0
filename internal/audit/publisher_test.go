package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concord/internal/audit"
	"concord/internal/audit/store/memory"
	id "concord/pkg/domain"
	"concord/pkg/requestcontext"
)

func TestEmit_FillsDefaultsAndQueuesFanOut(t *testing.T) {
	pub := audit.NewPublisher(memory.New(), nil)
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), now)

	federationID := id.FederationID(uuid.New())
	err := pub.Emit(ctx, audit.Entry{
		FederationID: federationID,
		ActorID:      id.MemberID(uuid.New()),
		Action:       audit.ActionPermissionResolved,
		Decision:     "allowed",
	})
	require.NoError(t, err)

	entries, err := pub.List(ctx, federationID, audit.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotEqual(t, uuid.Nil, entries[0].ID)
	assert.Equal(t, now, entries[0].Timestamp)

	// The same entry is queued for sink fan-out.
	select {
	case queued := <-pub.Outbox():
		assert.Equal(t, entries[0].ID, queued.ID)
	default:
		t.Fatal("expected an entry on the outbox")
	}
}

func TestList_Filters(t *testing.T) {
	pub := audit.NewPublisher(memory.New(), nil)
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), now)

	federationID := id.FederationID(uuid.New())
	alice := id.MemberID(uuid.New())
	bob := id.MemberID(uuid.New())

	for i, e := range []audit.Entry{
		{ActorID: alice, Action: audit.ActionPermissionResolved, Decision: "allowed"},
		{ActorID: alice, Action: audit.ActionPermissionResolved, Decision: "denied"},
		{ActorID: bob, Action: audit.ActionMemberAdded},
	} {
		e.FederationID = federationID
		e.Timestamp = now.Add(time.Duration(i) * time.Minute)
		require.NoError(t, pub.Emit(ctx, e))
	}

	entries, err := pub.List(ctx, federationID, audit.Filter{MemberID: alice})
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	entries, err = pub.List(ctx, federationID, audit.Filter{Decision: "denied"})
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	entries, err = pub.List(ctx, federationID, audit.Filter{From: now.Add(30 * time.Second)})
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	// Another federation sees nothing.
	entries, err = pub.List(ctx, id.FederationID(uuid.New()), audit.Filter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWorker_FanOutAndDrain(t *testing.T) {
	pub := audit.NewPublisher(memory.New(), nil)
	ctx := context.Background()

	federationID := id.FederationID(uuid.New())
	for i := 0; i < 3; i++ {
		require.NoError(t, pub.Emit(ctx, audit.Entry{
			FederationID: federationID,
			ActorID:      id.MemberID(uuid.New()),
			Action:       audit.ActionDecisionCreated,
		}))
	}

	sink := &captureSink{}
	worker := audit.NewWorker(pub.Outbox(), nil, sink)

	runCtx, cancel := context.WithCancel(ctx)
	cancel()
	// A cancelled context still drains whatever is queued.
	err := worker.Run(runCtx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, sink.entries, 3)
}

type captureSink struct {
	entries []audit.Entry
}

func (s *captureSink) Publish(_ context.Context, entry audit.Entry) error {
	s.entries = append(s.entries, entry)
	return nil
}
