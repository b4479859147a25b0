package downstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"concord/internal/decision/models"
	id "concord/pkg/domain"
	dErrors "concord/pkg/domain-errors"
)

// Client talks to the downstream signer service over HTTP. It implements
// both the session-creation and recovery-execution ports.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type sessionRequest struct {
	DecisionID   string `json:"decision_id"`
	FederationID string `json:"federation_id"`
	MemberID     string `json:"member_id"`
	EventType    string `json:"event_type"`
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
}

// CreateSession opens a signing session for an approved decision.
func (c *Client) CreateSession(ctx context.Context, d *models.PendingDecision) (id.SessionID, error) {
	body := sessionRequest{
		DecisionID:   d.ID.String(),
		FederationID: d.FederationID.String(),
		MemberID:     d.SubjectMemberID.String(),
		EventType:    d.EventType.String(),
	}

	var resp sessionResponse
	if err := c.post(ctx, "/v1/sessions", body, &resp); err != nil {
		return id.SessionID{}, err
	}
	sid, err := id.ParseSessionID(resp.SessionID)
	if err != nil {
		return id.SessionID{}, dErrors.Wrap(err, dErrors.CodeDownstream, "signer returned an invalid session id")
	}
	return sid, nil
}

type recoveryRequest struct {
	DecisionID   string `json:"decision_id"`
	FederationID string `json:"federation_id"`
	MemberID     string `json:"member_id"`
	Urgency      string `json:"urgency"`
	Reason       string `json:"reason"`
}

func (c *Client) ReconstructIdentityKey(ctx context.Context, d *models.PendingDecision) error {
	return c.executeRecovery(ctx, "identity-key", d)
}

func (c *Client) RecoverECash(ctx context.Context, d *models.PendingDecision) error {
	return c.executeRecovery(ctx, "e-cash", d)
}

func (c *Client) ReleaseEmergencyLiquidity(ctx context.Context, d *models.PendingDecision) error {
	return c.executeRecovery(ctx, "emergency-liquidity", d)
}

func (c *Client) RestoreAccountAccess(ctx context.Context, d *models.PendingDecision) error {
	return c.executeRecovery(ctx, "account-restoration", d)
}

func (c *Client) executeRecovery(ctx context.Context, action string, d *models.PendingDecision) error {
	body := recoveryRequest{
		DecisionID:   d.ID.String(),
		FederationID: d.FederationID.String(),
		MemberID:     d.SubjectMemberID.String(),
		Urgency:      string(d.Urgency),
		Reason:       d.Reason,
	}
	return c.post(ctx, "/v1/recovery/"+action, body, nil)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal downstream request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build downstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeDownstream, "signer service unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return dErrors.Newf(dErrors.CodeDownstream, "signer service returned %d: %s", resp.StatusCode, snippet)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return dErrors.Wrap(err, dErrors.CodeDownstream, "decode signer response")
	}
	return nil
}
