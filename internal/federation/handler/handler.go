package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"concord/internal/federation/models"
	id "concord/pkg/domain"
	dErrors "concord/pkg/domain-errors"
	"concord/pkg/platform/httputil"
	"concord/pkg/requestcontext"
)

// Service defines the roster operations the HTTP layer needs.
type Service interface {
	AddMember(ctx context.Context, m *models.Member, addedBy id.MemberID, addedByRole id.Role) (*models.Member, error)
	GetMember(ctx context.Context, federationID id.FederationID, memberID id.MemberID) (*models.Member, error)
	DeactivateMember(ctx context.Context, federationID id.FederationID, memberID id.MemberID, by id.MemberID, byRole id.Role) (*models.Member, error)
}

// Handler exposes the federation roster endpoints. All routes act on the
// caller's own federation.
type Handler struct {
	logger  *slog.Logger
	service Service
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, service: service}
}

// Register registers the roster routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/members", h.handleAddMember)
	r.Get("/members/{memberID}", h.handleGetMember)
	r.Delete("/members/{memberID}", h.handleDeactivateMember)
}

type addMemberRequest struct {
	MemberID    string `json:"member_id,omitempty"`
	Role        string `json:"role"`
	DisplayName string `json:"display_name"`

	memberID id.MemberID
	role     id.Role
}

func (r *addMemberRequest) Validate() error {
	var err error
	if r.MemberID != "" {
		if r.memberID, err = id.ParseMemberID(r.MemberID); err != nil {
			return err
		}
	} else {
		r.memberID = id.MemberID(uuid.New())
	}
	if r.role, err = id.ParseRole(r.Role); err != nil {
		return err
	}
	if r.DisplayName == "" {
		return dErrors.New(dErrors.CodeValidation, "display_name is required")
	}
	return nil
}

type memberResponse struct {
	ID            string     `json:"id"`
	FederationID  string     `json:"federation_id"`
	Role          string     `json:"role"`
	DisplayName   string     `json:"display_name"`
	Active        bool       `json:"active"`
	JoinedAt      time.Time  `json:"joined_at"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
}

func toMemberResponse(m *models.Member) memberResponse {
	return memberResponse{
		ID:            m.ID.String(),
		FederationID:  m.FederationID.String(),
		Role:          m.Role.String(),
		DisplayName:   m.DisplayName,
		Active:        m.Active,
		JoinedAt:      m.JoinedAt,
		DeactivatedAt: m.DeactivatedAt,
	}
}

func (h *Handler) handleAddMember(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[addMemberRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	m, err := h.service.AddMember(ctx, &models.Member{
		ID:           req.memberID,
		FederationID: requestcontext.ActorFederation(ctx),
		Role:         req.role,
		DisplayName:  req.DisplayName,
	}, requestcontext.ActorID(ctx), requestcontext.ActorRole(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toMemberResponse(m))
}

func (h *Handler) handleGetMember(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	memberID, err := id.ParseMemberID(chi.URLParam(r, "memberID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	m, err := h.service.GetMember(ctx, requestcontext.ActorFederation(ctx), memberID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toMemberResponse(m))
}

func (h *Handler) handleDeactivateMember(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	memberID, err := id.ParseMemberID(chi.URLParam(r, "memberID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	m, err := h.service.DeactivateMember(ctx,
		requestcontext.ActorFederation(ctx),
		memberID,
		requestcontext.ActorID(ctx),
		requestcontext.ActorRole(ctx),
	)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toMemberResponse(m))
}
