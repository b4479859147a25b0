package domain

import dErrors "concord/pkg/domain-errors"

// RecoveryRequestType is the closed set of recovery actions a federation can
// execute on quorum. Each maps to exactly one downstream executor; keeping
// the set closed lets the dispatch switch stay exhaustive.
type RecoveryRequestType string

const (
	RecoveryIdentityKey        RecoveryRequestType = "identity_key"
	RecoveryECash              RecoveryRequestType = "e_cash"
	RecoveryEmergencyLiquidity RecoveryRequestType = "emergency_liquidity"
	RecoveryAccountRestoration RecoveryRequestType = "account_restoration"
)

var validRecoveryTypes = map[RecoveryRequestType]bool{
	RecoveryIdentityKey:        true,
	RecoveryECash:              true,
	RecoveryEmergencyLiquidity: true,
	RecoveryAccountRestoration: true,
}

// ParseRecoveryRequestType constructs a RecoveryRequestType from external
// input.
//
// Errors: returns CodeInvalidInput when the value is empty or unsupported.
func ParseRecoveryRequestType(s string) (RecoveryRequestType, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "request_type cannot be empty")
	}
	t := RecoveryRequestType(s)
	if !t.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid request_type")
	}
	return t, nil
}

// IsValid checks if the recovery request type is one of the supported values.
func (t RecoveryRequestType) IsValid() bool {
	return validRecoveryTypes[t]
}

func (t RecoveryRequestType) String() string { return string(t) }

// Urgency qualifies a recovery request at creation.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

var validUrgencies = map[Urgency]bool{
	UrgencyLow:      true,
	UrgencyMedium:   true,
	UrgencyHigh:     true,
	UrgencyCritical: true,
}

// ParseUrgency constructs an Urgency from external input.
func ParseUrgency(s string) (Urgency, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "urgency cannot be empty")
	}
	u := Urgency(s)
	if !validUrgencies[u] {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid urgency")
	}
	return u, nil
}
