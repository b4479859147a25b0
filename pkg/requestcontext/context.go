// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values.
//
// Values are typically set by middleware but consumed by services. Keeping
// this package free of net/http dependencies lets services import only what
// they need.
//
// Usage in services (read values):
//
//	actorID := requestcontext.ActorID(ctx)
//	now := requestcontext.Now(ctx)
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
//	ctx = requestcontext.WithActor(ctx, memberID, domain.RoleGuardian)
package requestcontext

import (
	"context"
	"time"

	id "concord/pkg/domain"
)

type (
	actorIDKey         struct{}
	actorRoleKey       struct{}
	actorFederationKey struct{}
	requestIDKey       struct{}
	requestTimeKey     struct{}
)

// Exported context keys for tests that need context.WithValue directly.
var (
	ContextKeyActorID         = actorIDKey{}
	ContextKeyActorRole       = actorRoleKey{}
	ContextKeyActorFederation = actorFederationKey{}
	ContextKeyRequestID       = requestIDKey{}
	ContextKeyRequestTime     = requestTimeKey{}
)

// ActorID retrieves the authenticated actor's member ID from the context.
// Returns the zero value (nil UUID) if not set.
func ActorID(ctx context.Context) id.MemberID {
	if actorID, ok := ctx.Value(ContextKeyActorID).(id.MemberID); ok {
		return actorID
	}
	return id.MemberID{}
}

// ActorRole retrieves the authenticated actor's role from the context.
// Returns the empty role if not set.
func ActorRole(ctx context.Context) id.Role {
	if role, ok := ctx.Value(ContextKeyActorRole).(id.Role); ok {
		return role
	}
	return ""
}

// ActorFederation retrieves the authenticated actor's home federation from
// the context. Returns the zero value (nil UUID) if not set.
func ActorFederation(ctx context.Context) id.FederationID {
	if fid, ok := ctx.Value(ContextKeyActorFederation).(id.FederationID); ok {
		return fid
	}
	return id.FederationID{}
}

// WithActor injects the acting member and role into the context.
func WithActor(ctx context.Context, actorID id.MemberID, role id.Role) context.Context {
	ctx = context.WithValue(ctx, ContextKeyActorID, actorID)
	return context.WithValue(ctx, ContextKeyActorRole, role)
}

// WithActorFederation injects the actor's home federation into the context.
func WithActorFederation(ctx context.Context, federationID id.FederationID) context.Context {
	return context.WithValue(ctx, ContextKeyActorFederation, federationID)
}

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// Now retrieves the request-scoped time from context. Falls back to
// time.Now() for non-HTTP contexts (workers, CLI, tests that don't care).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context. Useful for service unit
// tests that don't run the full HTTP middleware chain, and for workers that
// need consistent time within a batch.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
