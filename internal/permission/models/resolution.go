package models

import id "concord/pkg/domain"

// Layer identifies which precedence layer produced a resolution. The order
// here is the fixed precedence order: override beats delegation beats role
// default beats default-deny.
type Layer string

const (
	LayerOverride   Layer = "member_override"
	LayerDelegation Layer = "delegation"
	LayerRole       Layer = "role_permission"
	LayerDefault    Layer = "default_deny"
)

// Effect is the effective decision for one (member, event type) at one
// instant.
type Effect string

const (
	EffectAllowed          Effect = "allowed"
	EffectRequiresApproval Effect = "requires_approval"
	EffectDenied           Effect = "denied"
)

// Resolution is the output of the resolution engine: the single effective
// decision plus the configuration the winning layer carries.
type Resolution struct {
	Effect           Effect
	CanSign          bool
	RequiresApproval bool
	ApprovedByRoles  []id.Role
	MaxDailyCount    *int
	Layer            Layer

	// CapExhausted marks a denial produced by the winning layer's daily
	// cap rather than by the rule itself.
	CapExhausted bool
}

// Denied is the default-deny resolution.
func Denied() Resolution {
	return Resolution{Effect: EffectDenied, Layer: LayerDefault}
}
