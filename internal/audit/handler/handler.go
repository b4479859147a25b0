package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"concord/internal/audit"
	id "concord/pkg/domain"
	dErrors "concord/pkg/domain-errors"
	"concord/pkg/platform/httputil"
	"concord/pkg/requestcontext"
)

// Log defines the audit read operations the HTTP layer needs.
type Log interface {
	List(ctx context.Context, federationID id.FederationID, filter audit.Filter) ([]audit.Entry, error)
}

// Handler exposes the audit log read endpoint. The log is append-only; no
// write endpoints exist.
type Handler struct {
	logger *slog.Logger
	log    Log
}

func New(log Log, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, log: log}
}

// Register registers the audit routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/audit", h.handleList)
}

type entryView struct {
	ID           string            `json:"id"`
	DecisionID   string            `json:"decision_id,omitempty"`
	FederationID string            `json:"federation_id"`
	ActorID      string            `json:"actor_id"`
	ActorRole    string            `json:"actor_role,omitempty"`
	Action       string            `json:"action"`
	Decision     string            `json:"decision,omitempty"`
	Reason       string            `json:"reason,omitempty"`
	Details      map[string]string `json:"details,omitempty"`
	RequestID    string            `json:"request_id,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter, err := filterFromQuery(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	entries, err := h.log.List(ctx, requestcontext.ActorFederation(ctx), filter)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list audit entries",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	out := make([]entryView, 0, len(entries))
	for _, e := range entries {
		view := entryView{
			ID:           e.ID.String(),
			FederationID: e.FederationID.String(),
			ActorID:      e.ActorID.String(),
			ActorRole:    e.ActorRole.String(),
			Action:       string(e.Action),
			Decision:     e.Decision,
			Reason:       e.Reason,
			Details:      e.Details,
			RequestID:    e.RequestID,
			Timestamp:    e.Timestamp,
		}
		if e.DecisionID != nil {
			view.DecisionID = e.DecisionID.String()
		}
		out = append(out, view)
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"entries": out})
}

func filterFromQuery(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	var filter audit.Filter

	if raw := q.Get("member_id"); raw != "" {
		memberID, err := id.ParseMemberID(raw)
		if err != nil {
			return audit.Filter{}, err
		}
		filter.MemberID = memberID
	}
	if raw := q.Get("event_type"); raw != "" {
		eventType, err := id.ParseEventType(raw)
		if err != nil {
			return audit.Filter{}, err
		}
		filter.EventType = eventType
	}
	filter.Action = audit.Action(q.Get("action"))
	filter.Decision = q.Get("decision")

	var err error
	if filter.From, err = parseQueryTime(q.Get("from")); err != nil {
		return audit.Filter{}, err
	}
	if filter.To, err = parseQueryTime(q.Get("to")); err != nil {
		return audit.Filter{}, err
	}
	if filter.Limit, err = parseQueryInt(q.Get("limit")); err != nil {
		return audit.Filter{}, err
	}
	if filter.Offset, err = parseQueryInt(q.Get("offset")); err != nil {
		return audit.Filter{}, err
	}
	return filter, nil
}

func parseQueryTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, dErrors.New(dErrors.CodeValidation, "time filters must be RFC 3339")
	}
	return t, nil
}

func parseQueryInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, dErrors.New(dErrors.CodeValidation, "limit and offset must be non-negative integers")
	}
	return n, nil
}
