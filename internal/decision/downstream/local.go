package downstream

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"concord/internal/decision/models"
	id "concord/pkg/domain"
)

// Local is an in-process stand-in for the signer service, used in
// development and tests when no signer URL is configured. Sessions are
// minted locally and recovery actions succeed immediately.
type Local struct {
	logger *slog.Logger
}

func NewLocal(logger *slog.Logger) *Local {
	return &Local{logger: logger}
}

func (l *Local) CreateSession(ctx context.Context, d *models.PendingDecision) (id.SessionID, error) {
	sid := id.SessionID(uuid.New())
	l.log(ctx, "local signing session created", d, "session_id", sid)
	return sid, nil
}

func (l *Local) ReconstructIdentityKey(ctx context.Context, d *models.PendingDecision) error {
	l.log(ctx, "local identity key reconstruction", d)
	return nil
}

func (l *Local) RecoverECash(ctx context.Context, d *models.PendingDecision) error {
	l.log(ctx, "local e-cash recovery", d)
	return nil
}

func (l *Local) ReleaseEmergencyLiquidity(ctx context.Context, d *models.PendingDecision) error {
	l.log(ctx, "local emergency liquidity release", d)
	return nil
}

func (l *Local) RestoreAccountAccess(ctx context.Context, d *models.PendingDecision) error {
	l.log(ctx, "local account restoration", d)
	return nil
}

func (l *Local) log(ctx context.Context, msg string, d *models.PendingDecision, extra ...any) {
	if l.logger == nil {
		return
	}
	args := append([]any{"decision_id", d.ID, "federation_id", d.FederationID}, extra...)
	l.logger.InfoContext(ctx, msg, args...)
}
