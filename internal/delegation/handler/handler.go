package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"concord/internal/delegation/models"
	delsvc "concord/internal/delegation/service"
	id "concord/pkg/domain"
	dErrors "concord/pkg/domain-errors"
	"concord/pkg/platform/httputil"
	"concord/pkg/requestcontext"
)

// Service defines the delegation operations the HTTP layer needs.
type Service interface {
	Create(ctx context.Context, input delsvc.CreateInput) (*models.Delegation, error)
	Get(ctx context.Context, delegationID id.DelegationID) (*models.Delegation, error)
	Revoke(ctx context.Context, delegationID id.DelegationID, by id.MemberID, role id.Role) error
}

// Handler exposes cross-federation delegation endpoints.
type Handler struct {
	logger  *slog.Logger
	service Service
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, service: service}
}

// Register registers the delegation routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/delegations", h.handleCreate)
	r.Get("/delegations/{delegationID}", h.handleGet)
	r.Delete("/delegations/{delegationID}", h.handleRevoke)
}

type createRequest struct {
	TargetFederationID  string     `json:"target_federation_id"`
	DelegatedEventTypes []string   `json:"delegated_event_types"`
	TargetMemberID      string     `json:"target_member_id,omitempty"`
	ValidUntil          *time.Time `json:"valid_until,omitempty"`
	MaxDailyUses        *int       `json:"max_daily_uses,omitempty"`

	targetFederationID id.FederationID
	eventTypes         []id.EventType
	targetMemberID     *id.MemberID
}

func (r *createRequest) Validate() error {
	var err error
	if r.targetFederationID, err = id.ParseFederationID(r.TargetFederationID); err != nil {
		return err
	}
	if len(r.DelegatedEventTypes) == 0 {
		return dErrors.New(dErrors.CodeValidation, "delegated_event_types is required")
	}
	r.eventTypes = make([]id.EventType, 0, len(r.DelegatedEventTypes))
	for _, raw := range r.DelegatedEventTypes {
		e, err := id.ParseEventType(raw)
		if err != nil {
			return err
		}
		r.eventTypes = append(r.eventTypes, e)
	}
	if r.TargetMemberID != "" {
		mid, err := id.ParseMemberID(r.TargetMemberID)
		if err != nil {
			return err
		}
		r.targetMemberID = &mid
	}
	return nil
}

type delegationResponse struct {
	ID                  string     `json:"id"`
	SourceFederationID  string     `json:"source_federation_id"`
	TargetFederationID  string     `json:"target_federation_id"`
	DelegatedEventTypes []string   `json:"delegated_event_types"`
	TargetMemberID      string     `json:"target_member_id,omitempty"`
	ValidUntil          *time.Time `json:"valid_until,omitempty"`
	MaxDailyUses        *int       `json:"max_daily_uses,omitempty"`
	UsageCount          int        `json:"usage_count"`
	Revoked             bool       `json:"revoked"`
	CreatedAt           time.Time  `json:"created_at"`
}

func toDelegationResponse(d *models.Delegation) delegationResponse {
	out := delegationResponse{
		ID:                 d.ID.String(),
		SourceFederationID: d.SourceFederationID.String(),
		TargetFederationID: d.TargetFederationID.String(),
		ValidUntil:         d.ValidUntil,
		MaxDailyUses:       d.MaxDailyUses,
		UsageCount:         d.UsageCount,
		Revoked:            d.RevokedAt != nil,
		CreatedAt:          d.CreatedAt,
	}
	for _, e := range d.DelegatedEventTypes {
		out.DelegatedEventTypes = append(out.DelegatedEventTypes, e.String())
	}
	if d.TargetMemberID != nil {
		out.TargetMemberID = d.TargetMemberID.String()
	}
	return out
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[createRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	d, err := h.service.Create(ctx, delsvc.CreateInput{
		SourceFederationID:  requestcontext.ActorFederation(ctx),
		TargetFederationID:  req.targetFederationID,
		DelegatedEventTypes: req.eventTypes,
		TargetMemberID:      req.targetMemberID,
		ValidUntil:          req.ValidUntil,
		MaxDailyUses:        req.MaxDailyUses,
		CreatedBy:           requestcontext.ActorID(ctx),
		CreatorRole:         requestcontext.ActorRole(ctx),
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, toDelegationResponse(d))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	delegationID, err := id.ParseDelegationID(chi.URLParam(r, "delegationID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	d, err := h.service.Get(r.Context(), delegationID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toDelegationResponse(d))
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	delegationID, err := id.ParseDelegationID(chi.URLParam(r, "delegationID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	err = h.service.Revoke(ctx, delegationID, requestcontext.ActorID(ctx), requestcontext.ActorRole(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
