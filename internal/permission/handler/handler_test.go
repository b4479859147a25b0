package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	delegationservice "concord/internal/delegation/service"
	delegationstore "concord/internal/delegation/store"
	fedmodels "concord/internal/federation/models"
	federationservice "concord/internal/federation/service"
	federationstore "concord/internal/federation/store"
	httpapi "concord/internal/http"
	permissionservice "concord/internal/permission/service"
	"concord/internal/permission/store/override"
	"concord/internal/permission/store/roleperm"
	"concord/internal/permission/store/usage"
	"concord/internal/permission/store/window"
	"concord/internal/token"
	id "concord/pkg/domain"
)

// The handler tests run the full HTTP stack: router, auth middleware, and
// real services over in-memory stores.
type testEnv struct {
	router     http.Handler
	tokens     *token.Service
	federation id.FederationID
	guardian   id.MemberID
	offspring  id.MemberID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	fedService, err := federationservice.New(federationstore.NewInMemory())
	require.NoError(t, err)

	usageStore := usage.NewInMemory()
	delService, err := delegationservice.New(delegationstore.NewInMemory(), usageStore)
	require.NoError(t, err)

	permService, err := permissionservice.New(
		roleperm.NewInMemory(), override.NewInMemory(), window.NewInMemory(),
		usageStore, delService, fedService,
	)
	require.NoError(t, err)

	env := &testEnv{
		tokens:     token.NewService("handler-test-key", "concord-test"),
		federation: id.FederationID(uuid.New()),
		guardian:   id.MemberID(uuid.New()),
		offspring:  id.MemberID(uuid.New()),
	}
	env.router = httpapi.NewRouter(log, env.tokens, nil, New(permService, log))

	for memberID, role := range map[id.MemberID]id.Role{
		env.guardian:  id.RoleGuardian,
		env.offspring: id.RoleOffspring,
	} {
		_, err := fedService.AddMember(context.Background(), &fedmodels.Member{
			ID:           memberID,
			FederationID: env.federation,
			Role:         role,
			DisplayName:  "test member",
		}, env.guardian, id.RoleGuardian)
		require.NoError(t, err)
	}
	return env
}

func (e *testEnv) request(t *testing.T, method, path string, payload any, as id.MemberID, role id.Role) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if !as.IsNil() {
		raw, err := e.tokens.GenerateAccessToken(as, e.federation, role, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+raw)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodPost, "/v1/permissions/resolve", map[string]string{}, id.MemberID{}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestConfigureAndResolve(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodPut, "/v1/permissions/roles/offspring", map[string]any{
		"entries": []map[string]any{{
			"event_type":        "transfer",
			"can_sign":          true,
			"requires_approval": true,
			"approved_by_roles": []string{"guardian", "steward"},
		}},
	}, env.guardian, id.RoleGuardian)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.request(t, http.MethodPost, "/v1/permissions/resolve", map[string]any{
		"member_id":  env.offspring.String(),
		"role":       "offspring",
		"event_type": "transfer",
	}, env.guardian, id.RoleGuardian)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res struct {
		Effect          string   `json:"effect"`
		Layer           string   `json:"layer"`
		ApprovedByRoles []string `json:"approved_by_roles"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.Equal(t, "requires_approval", res.Effect)
	assert.Equal(t, "role_permission", res.Layer)
	assert.Equal(t, []string{"guardian", "steward"}, res.ApprovedByRoles)
}

func TestConfigureRejectsNonElevatedCaller(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodPut, "/v1/permissions/roles/offspring", map[string]any{
		"entries": []map[string]any{{
			"event_type": "transfer",
			"can_sign":   true,
		}},
	}, env.offspring, id.RoleOffspring)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOverrideLifecycle(t *testing.T) {
	env := newTestEnv(t)

	// Without any configuration the member is denied by default.
	resolveBody := map[string]any{
		"member_id":  env.offspring.String(),
		"role":       "offspring",
		"event_type": "key_export",
	}
	rec := env.request(t, http.MethodPost, "/v1/permissions/resolve", resolveBody, env.guardian, id.RoleGuardian)
	require.Equal(t, http.StatusOK, rec.Code)
	var res struct {
		Effect string `json:"effect"`
		Layer  string `json:"layer"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.Equal(t, "denied", res.Effect)
	assert.Equal(t, "default_deny", res.Layer)

	rec = env.request(t, http.MethodPost, "/v1/permissions/overrides", map[string]any{
		"member_id":  env.offspring.String(),
		"event_type": "key_export",
		"can_sign":   true,
		"reason":     "device migration",
	}, env.guardian, id.RoleGuardian)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		OverrideID string `json:"override_id"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	require.NotEmpty(t, created.OverrideID)

	rec = env.request(t, http.MethodPost, "/v1/permissions/resolve", resolveBody, env.guardian, id.RoleGuardian)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.Equal(t, "allowed", res.Effect)
	assert.Equal(t, "member_override", res.Layer)

	rec = env.request(t, http.MethodDelete, "/v1/permissions/overrides/"+created.OverrideID, nil, env.guardian, id.RoleGuardian)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	// Revocation is visible to the very next resolution.
	rec = env.request(t, http.MethodPost, "/v1/permissions/resolve", resolveBody, env.guardian, id.RoleGuardian)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.Equal(t, "denied", res.Effect)
	assert.Equal(t, "default_deny", res.Layer)
}
