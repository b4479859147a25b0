package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"concord/internal/permission/models"
	permsvc "concord/internal/permission/service"
	id "concord/pkg/domain"
	dErrors "concord/pkg/domain-errors"
	"concord/pkg/platform/httputil"
	"concord/pkg/requestcontext"
)

// Service defines the permission operations the HTTP layer needs.
type Service interface {
	Resolve(ctx context.Context, input permsvc.ResolveInput) (models.Resolution, error)
	ConfigureRolePermissions(ctx context.Context, federationID id.FederationID, role id.Role, entries []permsvc.RolePermissionEntry, configuredBy id.MemberID, configuredByRole id.Role) ([]permsvc.EntryResult, error)
	SetOverride(ctx context.Context, input permsvc.OverrideInput) (*models.MemberOverride, error)
	RevokeOverride(ctx context.Context, overrideID id.OverrideID, federationID id.FederationID, revokerID id.MemberID, revokerRole id.Role, reason string) error
	SetTimeWindow(ctx context.Context, input permsvc.WindowInput) error
}

// Handler exposes permission resolution and configuration endpoints.
type Handler struct {
	logger  *slog.Logger
	service Service
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, service: service}
}

// Register registers the permission routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/permissions/resolve", h.handleResolve)
	r.Put("/permissions/roles/{role}", h.handleConfigureRole)
	r.Post("/permissions/overrides", h.handleSetOverride)
	r.Delete("/permissions/overrides/{overrideID}", h.handleRevokeOverride)
	r.Put("/permissions/windows", h.handleSetWindow)
}

type resolutionResponse struct {
	Effect           string   `json:"effect"`
	CanSign          bool     `json:"can_sign"`
	RequiresApproval bool     `json:"requires_approval"`
	ApprovedByRoles  []string `json:"approved_by_roles,omitempty"`
	MaxDailyCount    *int     `json:"max_daily_count,omitempty"`
	Layer            string   `json:"layer"`
	CapExhausted     bool     `json:"cap_exhausted,omitempty"`
}

func toResolutionResponse(res models.Resolution) resolutionResponse {
	out := resolutionResponse{
		Effect:           string(res.Effect),
		CanSign:          res.CanSign,
		RequiresApproval: res.RequiresApproval,
		MaxDailyCount:    res.MaxDailyCount,
		Layer:            string(res.Layer),
		CapExhausted:     res.CapExhausted,
	}
	for _, role := range res.ApprovedByRoles {
		out.ApprovedByRoles = append(out.ApprovedByRoles, role.String())
	}
	return out
}

// handleResolve answers "may this member perform this action right now".
// The target federation is the caller's own.
func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[resolveRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	resolution, err := h.service.Resolve(ctx, permsvc.ResolveInput{
		FederationID: requestcontext.ActorFederation(ctx),
		MemberID:     req.memberID,
		Role:         req.role,
		EventType:    req.eventType,
		Consume:      req.Consume,
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to resolve permission",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, toResolutionResponse(resolution))
}

func (h *Handler) handleConfigureRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	role, err := id.ParseRole(chi.URLParam(r, "role"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.DecodeAndPrepare[configureRolePermissionsRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	results, err := h.service.ConfigureRolePermissions(ctx,
		requestcontext.ActorFederation(ctx),
		role,
		req.entries,
		requestcontext.ActorID(ctx),
		requestcontext.ActorRole(ctx),
	)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	type entryResult struct {
		EventType string `json:"event_type"`
		Status    string `json:"status"`
		Error     string `json:"error,omitempty"`
	}
	out := make([]entryResult, 0, len(results))
	for _, res := range results {
		er := entryResult{EventType: res.EventType.String(), Status: "ok"}
		if res.Err != nil {
			er.Status = "error"
			er.Error = dErrors.MessageOf(res.Err)
		}
		out = append(out, er)
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"results": out})
}

func (h *Handler) handleSetOverride(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[setOverrideRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	o, err := h.service.SetOverride(ctx, permsvc.OverrideInput{
		FederationID:  requestcontext.ActorFederation(ctx),
		MemberID:      req.memberID,
		EventType:     req.eventType,
		CanSign:       req.CanSign,
		MaxDailyCount: req.MaxDailyCount,
		ValidUntil:    req.ValidUntil,
		Reason:        req.Reason,
		GrantedBy:     requestcontext.ActorID(ctx),
		GrantedByRole: requestcontext.ActorRole(ctx),
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, map[string]string{
		"override_id": o.ID.String(),
	})
}

func (h *Handler) handleRevokeOverride(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	overrideID, err := id.ParseOverrideID(chi.URLParam(r, "overrideID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	// The reason body is optional on revoke.
	var req revokeOverrideRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	err = h.service.RevokeOverride(ctx,
		overrideID,
		requestcontext.ActorFederation(ctx),
		requestcontext.ActorID(ctx),
		requestcontext.ActorRole(ctx),
		req.Reason,
	)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSetWindow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[setWindowRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	err := h.service.SetTimeWindow(ctx, permsvc.WindowInput{
		FederationID: requestcontext.ActorFederation(ctx),
		TargetKind:   req.targetKind,
		TargetID:     req.targetID,
		Window:       req.window,
		SetBy:        requestcontext.ActorID(ctx),
		SetByRole:    requestcontext.ActorRole(ctx),
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
