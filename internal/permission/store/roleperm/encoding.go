package roleperm

import (
	"strings"

	id "concord/pkg/domain"
)

// Roles are stored as a comma-joined text column. Role names never contain
// commas (closed enum), so no escaping is needed.

func encodeRoles(roles []id.Role) string {
	parts := make([]string, len(roles))
	for i, r := range roles {
		parts[i] = r.String()
	}
	return strings.Join(parts, ",")
}

func decodeRoles(encoded string) []id.Role {
	if encoded == "" {
		return nil
	}
	parts := strings.Split(encoded, ",")
	roles := make([]id.Role, len(parts))
	for i, p := range parts {
		roles[i] = id.Role(p)
	}
	return roles
}
