package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"concord/internal/decision/models"
	decsvc "concord/internal/decision/service"
	id "concord/pkg/domain"
	dErrors "concord/pkg/domain-errors"
	"concord/pkg/platform/httputil"
	"concord/pkg/requestcontext"
)

// Service defines the decision operations the HTTP layer needs.
type Service interface {
	CreateSigning(ctx context.Context, input decsvc.SigningInput) (*decsvc.CreateResult, error)
	CreateRecovery(ctx context.Context, input decsvc.RecoveryInput) (*decsvc.CreateResult, error)
	Approve(ctx context.Context, decisionID id.DecisionID, approverID id.MemberID) (*models.PendingDecision, error)
	Reject(ctx context.Context, decisionID id.DecisionID, approverID id.MemberID, reason string) (*models.PendingDecision, error)
	Get(ctx context.Context, decisionID id.DecisionID) (*models.PendingDecision, error)
	ListByFederation(ctx context.Context, federationID id.FederationID) ([]*models.PendingDecision, error)
}

// Handler exposes the pending decision endpoints.
type Handler struct {
	logger  *slog.Logger
	service Service
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, service: service}
}

// Register registers the decision routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/decisions/signing", h.handleCreateSigning)
	r.Post("/decisions/recovery", h.handleCreateRecovery)
	r.Post("/decisions/{decisionID}/approve", h.handleApprove)
	r.Post("/decisions/{decisionID}/reject", h.handleReject)
	r.Get("/decisions/{decisionID}", h.handleGet)
	r.Get("/decisions", h.handleList)
}

type signingRequest struct {
	EventType string `json:"event_type"`

	eventType id.EventType
}

func (r *signingRequest) Validate() error {
	var err error
	r.eventType, err = id.ParseEventType(r.EventType)
	return err
}

type recoveryRequest struct {
	SubjectMemberID string `json:"subject_member_id"`
	RequestType     string `json:"request_type"`
	Urgency         string `json:"urgency"`
	Reason          string `json:"reason"`
	Description     string `json:"description"`

	subjectMemberID id.MemberID
	requestType     id.RecoveryRequestType
	urgency         id.Urgency
}

func (r *recoveryRequest) Validate() error {
	var err error
	if r.subjectMemberID, err = id.ParseMemberID(r.SubjectMemberID); err != nil {
		return err
	}
	if r.requestType, err = id.ParseRecoveryRequestType(r.RequestType); err != nil {
		return err
	}
	if r.urgency, err = id.ParseUrgency(r.Urgency); err != nil {
		return err
	}
	if r.Reason == "" {
		return dErrors.New(dErrors.CodeValidation, "reason is required")
	}
	if r.Description == "" {
		return dErrors.New(dErrors.CodeValidation, "description is required")
	}
	return nil
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

type approvalView struct {
	ApproverID   string    `json:"approver_id"`
	ApproverRole string    `json:"approver_role"`
	Decision     string    `json:"decision"`
	Reason       string    `json:"reason,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

type decisionResponse struct {
	ID                string         `json:"id"`
	Kind              string         `json:"kind"`
	FederationID      string         `json:"federation_id"`
	SubjectMemberID   string         `json:"subject_member_id"`
	EventType         string         `json:"event_type,omitempty"`
	RequestType       string         `json:"request_type,omitempty"`
	Urgency           string         `json:"urgency,omitempty"`
	Reason            string         `json:"reason,omitempty"`
	Description       string         `json:"description,omitempty"`
	RequiredApprovals int            `json:"required_approvals"`
	Approvals         []approvalView `json:"approvals"`
	Status            string         `json:"status"`
	SessionID         string         `json:"session_id,omitempty"`
	FailureReason     string         `json:"failure_reason,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	ExpiresAt         *time.Time     `json:"expires_at,omitempty"`
}

func toDecisionResponse(d *models.PendingDecision) decisionResponse {
	out := decisionResponse{
		ID:                d.ID.String(),
		Kind:              string(d.Kind),
		FederationID:      d.FederationID.String(),
		SubjectMemberID:   d.SubjectMemberID.String(),
		Reason:            d.Reason,
		Description:       d.Description,
		RequiredApprovals: d.RequiredApprovals,
		Approvals:         make([]approvalView, 0, len(d.Approvals)),
		Status:            string(d.Status),
		FailureReason:     d.FailureReason,
		CreatedAt:         d.CreatedAt,
	}
	if d.Kind == models.KindSigning {
		out.EventType = d.EventType.String()
	} else {
		out.RequestType = d.RequestType.String()
		out.Urgency = string(d.Urgency)
	}
	if d.SessionID != nil {
		out.SessionID = d.SessionID.String()
	}
	if !d.ExpiresAt.IsZero() {
		t := d.ExpiresAt
		out.ExpiresAt = &t
	}
	for _, a := range d.Approvals {
		out.Approvals = append(out.Approvals, approvalView{
			ApproverID:   a.ApproverID.String(),
			ApproverRole: a.ApproverRole.String(),
			Decision:     string(a.Decision),
			Reason:       a.Reason,
			Timestamp:    a.Timestamp,
		})
	}
	return out
}

func (h *Handler) handleCreateSigning(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[signingRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, err := h.service.CreateSigning(ctx, decsvc.SigningInput{
		FederationID:    requestcontext.ActorFederation(ctx),
		SubjectMemberID: requestcontext.ActorID(ctx),
		EventType:       req.eventType,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	httputil.WriteJSON(w, status, toDecisionResponse(result.Decision))
}

func (h *Handler) handleCreateRecovery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[recoveryRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, err := h.service.CreateRecovery(ctx, decsvc.RecoveryInput{
		FederationID:    requestcontext.ActorFederation(ctx),
		SubjectMemberID: req.subjectMemberID,
		RequestType:     req.requestType,
		Urgency:         req.urgency,
		Reason:          req.Reason,
		Description:     req.Description,
		RequestedBy:     requestcontext.ActorID(ctx),
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	httputil.WriteJSON(w, status, toDecisionResponse(result.Decision))
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	decisionID, err := id.ParseDecisionID(chi.URLParam(r, "decisionID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	d, err := h.service.Approve(ctx, decisionID, requestcontext.ActorID(ctx))
	h.writeVoteResult(w, ctx, d, err)
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	decisionID, err := id.ParseDecisionID(chi.URLParam(r, "decisionID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	// The reason body is optional on reject.
	var req rejectRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	d, err := h.service.Reject(ctx, decisionID, requestcontext.ActorID(ctx), req.Reason)
	h.writeVoteResult(w, ctx, d, err)
}

// writeVoteResult renders a vote outcome. A conflict on a final decision
// still carries the decision's current state so the caller learns the
// outcome instead of a bare error.
func (h *Handler) writeVoteResult(w http.ResponseWriter, ctx context.Context, d *models.PendingDecision, err error) {
	if err != nil {
		if d != nil && dErrors.HasCode(err, dErrors.CodeConflict) {
			body := map[string]any{
				"error":             string(dErrors.CodeConflict),
				"error_description": dErrors.MessageOf(err),
				"decision":          toDecisionResponse(d),
			}
			httputil.WriteJSON(w, http.StatusConflict, body)
			return
		}
		h.logger.ErrorContext(ctx, "vote failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toDecisionResponse(d))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	decisionID, err := id.ParseDecisionID(chi.URLParam(r, "decisionID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	d, err := h.service.Get(r.Context(), decisionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toDecisionResponse(d))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ds, err := h.service.ListByFederation(ctx, requestcontext.ActorFederation(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	out := make([]decisionResponse, 0, len(ds))
	for _, d := range ds {
		out = append(out, toDecisionResponse(d))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"decisions": out})
}
