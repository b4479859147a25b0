package domain

import dErrors "concord/pkg/domain-errors"

// EventType is the closed set of signing event types a federation governs.
// Permission rows, overrides, and delegations are keyed by event type, so the
// compiler can enforce exhaustive handling at dispatch points.
type EventType string

// Supported signing event types.
const (
	EventTypeTransfer         EventType = "transfer"
	EventTypeLightningInvoice EventType = "lightning_invoice"
	EventTypeMessageSign      EventType = "message_sign"
	EventTypeKeyExport        EventType = "key_export"
	EventTypeBackupAccess     EventType = "backup_access"

	// EventTypeManagePermissions gates writes to the permission
	// configuration itself. The engine guards itself recursively: every
	// configuration write is resolved against this capability first.
	EventTypeManagePermissions EventType = "manage_permissions"
)

var validEventTypes = map[EventType]bool{
	EventTypeTransfer:          true,
	EventTypeLightningInvoice:  true,
	EventTypeMessageSign:       true,
	EventTypeKeyExport:         true,
	EventTypeBackupAccess:      true,
	EventTypeManagePermissions: true,
}

// ParseEventType constructs an EventType from external input.
//
// Errors: returns CodeInvalidInput when the value is empty or unsupported.
func ParseEventType(s string) (EventType, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "event_type cannot be empty")
	}
	e := EventType(s)
	if !e.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid event_type")
	}
	return e, nil
}

// IsValid checks if the event type is one of the supported enum values.
func (e EventType) IsValid() bool {
	return validEventTypes[e]
}

func (e EventType) String() string { return string(e) }
