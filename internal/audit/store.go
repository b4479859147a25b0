package audit

import (
	"context"

	id "concord/pkg/domain"
)

// Store persists audit entries. Implementations must be append-only: no
// update or delete operations are exposed, and List must return entries in
// ascending timestamp order for stable pagination.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	List(ctx context.Context, federationID id.FederationID, filter Filter) ([]Entry, error)
}
