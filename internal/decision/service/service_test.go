package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concord/internal/decision/models"
	"concord/internal/decision/store/memory"
	fedmodels "concord/internal/federation/models"
	permmodels "concord/internal/permission/models"
	permsvc "concord/internal/permission/service"
	id "concord/pkg/domain"
	dErrors "concord/pkg/domain-errors"
	"concord/pkg/requestcontext"
)

type fakePerms struct {
	resolution permmodels.Resolution
	policy     *permmodels.RolePermission
	resolves   int
	consumes   int
}

func (f *fakePerms) Resolve(ctx context.Context, input permsvc.ResolveInput) (permmodels.Resolution, error) {
	f.resolves++
	if input.Consume {
		f.consumes++
	}
	return f.resolution, nil
}

func (f *fakePerms) ApproverPolicy(ctx context.Context, federationID id.FederationID, role id.Role, eventType id.EventType) (*permmodels.RolePermission, error) {
	if f.policy == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "no role permission configured for this event type")
	}
	return f.policy, nil
}

type fakeRoster struct {
	mu       sync.Mutex
	members  map[id.MemberID]*fedmodels.Member
	eligible int
}

func (f *fakeRoster) GetMember(ctx context.Context, federationID id.FederationID, memberID id.MemberID) (*fedmodels.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[memberID]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "member not found")
	}
	c := *m
	return &c, nil
}

func (f *fakeRoster) EligibleApproverCount(ctx context.Context, federationID id.FederationID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.eligible, nil
}

type fakeSessions struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeSessions) CreateSession(ctx context.Context, d *models.PendingDecision) (id.SessionID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return id.SessionID{}, f.err
	}
	return id.SessionID(uuid.New()), nil
}

type fakeRecovery struct {
	mu    sync.Mutex
	calls map[id.RecoveryRequestType]int
	err   error
}

func (f *fakeRecovery) record(t id.RecoveryRequestType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[id.RecoveryRequestType]int{}
	}
	f.calls[t]++
	return f.err
}

func (f *fakeRecovery) ReconstructIdentityKey(ctx context.Context, d *models.PendingDecision) error {
	return f.record(id.RecoveryIdentityKey)
}

func (f *fakeRecovery) RecoverECash(ctx context.Context, d *models.PendingDecision) error {
	return f.record(id.RecoveryECash)
}

func (f *fakeRecovery) ReleaseEmergencyLiquidity(ctx context.Context, d *models.PendingDecision) error {
	return f.record(id.RecoveryEmergencyLiquidity)
}

func (f *fakeRecovery) RestoreAccountAccess(ctx context.Context, d *models.PendingDecision) error {
	return f.record(id.RecoveryAccountRestoration)
}

type fixture struct {
	svc      *Service
	store    *memory.Store
	perms    *fakePerms
	roster   *fakeRoster
	sessions *fakeSessions
	recovery *fakeRecovery

	federationID id.FederationID
	subject      id.MemberID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:        memory.New(),
		perms:        &fakePerms{},
		sessions:     &fakeSessions{},
		recovery:     &fakeRecovery{},
		federationID: id.FederationID(uuid.New()),
		subject:      id.MemberID(uuid.New()),
	}
	f.roster = &fakeRoster{
		members:  map[id.MemberID]*fedmodels.Member{},
		eligible: 2,
	}
	f.addMember(f.subject, id.RoleAdult, true)

	svc, err := New(f.store, f.perms, f.roster, f.sessions, f.recovery)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) addMember(memberID id.MemberID, role id.Role, active bool) {
	f.roster.mu.Lock()
	defer f.roster.mu.Unlock()
	f.roster.members[memberID] = &fedmodels.Member{
		ID:           memberID,
		FederationID: f.federationID,
		Role:         role,
		Active:       active,
	}
}

func (f *fixture) requiresApproval(roles ...id.Role) {
	f.perms.resolution = permmodels.Resolution{
		Effect:           permmodels.EffectRequiresApproval,
		CanSign:          true,
		RequiresApproval: true,
		ApprovedByRoles:  roles,
		Layer:            permmodels.LayerRole,
	}
	f.perms.policy = &permmodels.RolePermission{
		FederationID:     f.federationID,
		Role:             id.RoleAdult,
		EventType:        id.EventTypeTransfer,
		CanSign:          true,
		RequiresApproval: true,
		ApprovedByRoles:  roles,
	}
}

func (f *fixture) createSigning(t *testing.T) *models.PendingDecision {
	t.Helper()
	result, err := f.svc.CreateSigning(context.Background(), SigningInput{
		FederationID:    f.federationID,
		SubjectMemberID: f.subject,
		EventType:       id.EventTypeTransfer,
	})
	require.NoError(t, err)
	require.True(t, result.Created)
	return result.Decision
}

func TestCreateSigning_RequiresApproval(t *testing.T) {
	f := newFixture(t)
	f.requiresApproval(id.RoleGuardian, id.RoleSteward)

	d := f.createSigning(t)

	assert.Equal(t, models.StatusPending, d.Status)
	assert.Equal(t, models.KindSigning, d.Kind)
	assert.Equal(t, 2, d.RequiredApprovals)
	assert.Zero(t, f.sessions.calls)
	assert.Equal(t, 1, f.perms.consumes, "opening a decision is a gated attempt and consumes one use")
}

func TestCreateSigning_JoinsOpenDecision(t *testing.T) {
	f := newFixture(t)
	f.requiresApproval(id.RoleGuardian)

	first := f.createSigning(t)

	result, err := f.svc.CreateSigning(context.Background(), SigningInput{
		FederationID:    f.federationID,
		SubjectMemberID: f.subject,
		EventType:       id.EventTypeTransfer,
	})
	require.NoError(t, err)
	assert.False(t, result.Created)
	assert.Equal(t, first.ID, result.Decision.ID)
}

func TestCreateSigning_Denied(t *testing.T) {
	f := newFixture(t)
	f.perms.resolution = permmodels.Resolution{
		Effect: permmodels.EffectDenied,
		Layer:  permmodels.LayerDefault,
	}

	_, err := f.svc.CreateSigning(context.Background(), SigningInput{
		FederationID:    f.federationID,
		SubjectMemberID: f.subject,
		EventType:       id.EventTypeTransfer,
	})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
}

func TestCreateSigning_AllowedExecutesImmediately(t *testing.T) {
	f := newFixture(t)
	f.perms.resolution = permmodels.Resolution{
		Effect:  permmodels.EffectAllowed,
		CanSign: true,
		Layer:   permmodels.LayerRole,
	}

	result, err := f.svc.CreateSigning(context.Background(), SigningInput{
		FederationID:    f.federationID,
		SubjectMemberID: f.subject,
		EventType:       id.EventTypeTransfer,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusSigned, result.Decision.Status)
	require.NotNil(t, result.Decision.SessionID)
	assert.Equal(t, 1, f.sessions.calls)
	assert.Equal(t, 1, f.perms.resolves, "one gating resolve covers classification and consumption")
	assert.Equal(t, 1, f.perms.consumes, "the immediate path consumes exactly one use")
}

func TestCreateSigning_CapExhaustedReturnsQuotaExceeded(t *testing.T) {
	f := newFixture(t)
	f.perms.resolution = permmodels.Resolution{
		Effect:       permmodels.EffectDenied,
		Layer:        permmodels.LayerRole,
		CapExhausted: true,
	}

	_, err := f.svc.CreateSigning(context.Background(), SigningInput{
		FederationID:    f.federationID,
		SubjectMemberID: f.subject,
		EventType:       id.EventTypeTransfer,
	})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeQuotaExceeded),
		"a cap hit must surface as quota_exceeded, not a generic denial")
}

func TestApprove_QuorumTransitionsOnce(t *testing.T) {
	f := newFixture(t)
	f.requiresApproval(id.RoleGuardian, id.RoleSteward)
	d := f.createSigning(t)

	guardian := id.MemberID(uuid.New())
	steward := id.MemberID(uuid.New())
	f.addMember(guardian, id.RoleGuardian, true)
	f.addMember(steward, id.RoleSteward, true)

	after, err := f.svc.Approve(context.Background(), d.ID, guardian)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, after.Status)
	assert.Zero(t, f.sessions.calls)

	after, err = f.svc.Approve(context.Background(), d.ID, steward)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSigned, after.Status)
	require.NotNil(t, after.SessionID)
	assert.Equal(t, 1, f.sessions.calls)
}

func TestApprove_DuplicateApproverIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.requiresApproval(id.RoleGuardian, id.RoleSteward)
	d := f.createSigning(t)

	guardian := id.MemberID(uuid.New())
	f.addMember(guardian, id.RoleGuardian, true)

	_, err := f.svc.Approve(context.Background(), d.ID, guardian)
	require.NoError(t, err)

	after, err := f.svc.Approve(context.Background(), d.ID, guardian)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, after.Status)
	assert.Len(t, after.Approvals, 1, "a repeat vote must not add a second approval")
}

func TestApprove_AfterFinalReportsOutcome(t *testing.T) {
	f := newFixture(t)
	f.requiresApproval(id.RoleGuardian)
	d := f.createSigning(t)

	guardian := id.MemberID(uuid.New())
	late := id.MemberID(uuid.New())
	f.addMember(guardian, id.RoleGuardian, true)
	f.addMember(late, id.RoleGuardian, true)

	_, err := f.svc.Approve(context.Background(), d.ID, guardian)
	require.NoError(t, err)

	after, err := f.svc.Approve(context.Background(), d.ID, late)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
	require.NotNil(t, after)
	assert.Equal(t, models.StatusSigned, after.Status)
	assert.Equal(t, 1, f.sessions.calls, "a late approval must not re-trigger the session")
}

func TestApprove_IneligibleRole(t *testing.T) {
	f := newFixture(t)
	f.requiresApproval(id.RoleGuardian)
	d := f.createSigning(t)

	adult := id.MemberID(uuid.New())
	f.addMember(adult, id.RoleAdult, true)

	_, err := f.svc.Approve(context.Background(), d.ID, adult)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestApprove_DeactivatedApprover(t *testing.T) {
	f := newFixture(t)
	f.requiresApproval(id.RoleGuardian)
	d := f.createSigning(t)

	guardian := id.MemberID(uuid.New())
	f.addMember(guardian, id.RoleGuardian, false)

	_, err := f.svc.Approve(context.Background(), d.ID, guardian)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestApprove_ConcurrentRaceSignsOnce(t *testing.T) {
	f := newFixture(t)
	f.requiresApproval(id.RoleGuardian, id.RoleSteward)
	d := f.createSigning(t)

	approvers := make([]id.MemberID, 6)
	for i := range approvers {
		approvers[i] = id.MemberID(uuid.New())
		f.addMember(approvers[i], id.RoleGuardian, true)
	}

	var wg sync.WaitGroup
	for _, a := range approvers {
		wg.Add(1)
		go func(approver id.MemberID) {
			defer wg.Done()
			// Late votes may observe a final decision; only store or
			// downstream failures matter here.
			_, _ = f.svc.Approve(context.Background(), d.ID, approver)
		}(a)
	}
	wg.Wait()

	final, err := f.svc.Get(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSigned, final.Status)
	assert.Equal(t, 1, f.sessions.calls, "quorum must dispatch downstream exactly once")
}

func TestReject_IsVeto(t *testing.T) {
	f := newFixture(t)
	f.requiresApproval(id.RoleGuardian, id.RoleSteward)
	d := f.createSigning(t)

	guardian := id.MemberID(uuid.New())
	steward := id.MemberID(uuid.New())
	f.addMember(guardian, id.RoleGuardian, true)
	f.addMember(steward, id.RoleSteward, true)

	_, err := f.svc.Approve(context.Background(), d.ID, guardian)
	require.NoError(t, err)

	after, err := f.svc.Reject(context.Background(), d.ID, steward, "suspicious destination")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, after.Status)
	assert.Zero(t, f.sessions.calls)

	// The earlier approval stays recorded for audit.
	assert.Len(t, after.Approvals, 2)
}

func TestApprove_DownstreamFailureMarksFailed(t *testing.T) {
	f := newFixture(t)
	f.requiresApproval(id.RoleGuardian)
	f.sessions.err = dErrors.New(dErrors.CodeDownstream, "signer unavailable")
	d := f.createSigning(t)

	guardian := id.MemberID(uuid.New())
	f.addMember(guardian, id.RoleGuardian, true)

	after, err := f.svc.Approve(context.Background(), d.ID, guardian)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeDownstream))
	assert.Equal(t, models.StatusFailed, after.Status)
	assert.NotEmpty(t, after.FailureReason)
}

func TestCreateRecovery_QuorumSnapshot(t *testing.T) {
	f := newFixture(t)
	f.roster.eligible = 4

	result, err := f.svc.CreateRecovery(context.Background(), RecoveryInput{
		FederationID:    f.federationID,
		SubjectMemberID: f.subject,
		RequestType:     id.RecoveryIdentityKey,
		Urgency:         id.UrgencyHigh,
		Reason:          "device lost",
		Description:     "phone stolen, key share unreachable",
		RequestedBy:     f.subject,
	})
	require.NoError(t, err)
	d := result.Decision

	// ceil(0.75 x 4) = 3
	assert.Equal(t, 3, d.RequiredApprovals)
	assert.Equal(t, models.KindRecovery, d.Kind)
	assert.False(t, d.ExpiresAt.IsZero())

	// Roster changes after creation do not move the threshold.
	f.roster.eligible = 10
	reloaded, err := f.svc.Get(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, reloaded.RequiredApprovals)
}

func TestCreateRecovery_NoEligibleApprovers(t *testing.T) {
	f := newFixture(t)
	f.roster.eligible = 0

	_, err := f.svc.CreateRecovery(context.Background(), RecoveryInput{
		FederationID:    f.federationID,
		SubjectMemberID: f.subject,
		RequestType:     id.RecoveryECash,
		Urgency:         id.UrgencyLow,
		Reason:          "note backup lost",
		Description:     "e-cash notes unrecoverable from local backup",
		RequestedBy:     f.subject,
	})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

func TestRecovery_QuorumDispatchesExecutor(t *testing.T) {
	f := newFixture(t)
	f.roster.eligible = 2

	result, err := f.svc.CreateRecovery(context.Background(), RecoveryInput{
		FederationID:    f.federationID,
		SubjectMemberID: f.subject,
		RequestType:     id.RecoveryEmergencyLiquidity,
		Urgency:         id.UrgencyCritical,
		Reason:          "medical emergency",
		Description:     "immediate liquidity needed for hospital payment",
		RequestedBy:     f.subject,
	})
	require.NoError(t, err)

	// ceil(0.75 x 2) = 2
	require.Equal(t, 2, result.Decision.RequiredApprovals)

	g1 := id.MemberID(uuid.New())
	g2 := id.MemberID(uuid.New())
	f.addMember(g1, id.RoleGuardian, true)
	f.addMember(g2, id.RoleSteward, true)

	_, err = f.svc.Approve(context.Background(), result.Decision.ID, g1)
	require.NoError(t, err)
	after, err := f.svc.Approve(context.Background(), result.Decision.ID, g2)
	require.NoError(t, err)

	assert.Equal(t, models.StatusSigned, after.Status)
	assert.Equal(t, 1, f.recovery.calls[id.RecoveryEmergencyLiquidity])
	assert.Zero(t, f.sessions.calls)
}

func TestApprove_ExpiredDecision(t *testing.T) {
	f := newFixture(t)
	f.roster.eligible = 2

	result, err := f.svc.CreateRecovery(context.Background(), RecoveryInput{
		FederationID:    f.federationID,
		SubjectMemberID: f.subject,
		RequestType:     id.RecoveryAccountRestoration,
		Urgency:         id.UrgencyMedium,
		Reason:          "forgotten credentials",
		Description:     "member locked out of account entirely",
		RequestedBy:     f.subject,
	})
	require.NoError(t, err)

	guardian := id.MemberID(uuid.New())
	f.addMember(guardian, id.RoleGuardian, true)

	future := requestcontext.WithTime(context.Background(), time.Now().Add(25*time.Hour))
	after, err := f.svc.Approve(future, result.Decision.ID, guardian)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
	assert.Equal(t, models.StatusExpired, after.Status)
}

func TestSweepExpired(t *testing.T) {
	f := newFixture(t)
	f.roster.eligible = 2

	_, err := f.svc.CreateRecovery(context.Background(), RecoveryInput{
		FederationID:    f.federationID,
		SubjectMemberID: f.subject,
		RequestType:     id.RecoveryIdentityKey,
		Urgency:         id.UrgencyLow,
		Reason:          "routine rotation",
		Description:     "scheduled key share rotation stalled",
		RequestedBy:     f.subject,
	})
	require.NoError(t, err)

	future := requestcontext.WithTime(context.Background(), time.Now().Add(25*time.Hour))
	swept, err := f.svc.SweepExpired(future, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	swept, err = f.svc.SweepExpired(future, 50)
	require.NoError(t, err)
	assert.Zero(t, swept, "the sweep must be idempotent")
}
