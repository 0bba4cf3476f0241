// Package tenancy carries the explicit tenant and user identity through the
// core. Every core operation receives an Actor parameter; the core never
// reads identity out of an ambient request context.
package tenancy

import (
	"github.com/TheoDny/stock-management-sub000/pkg/apperr"
)

// Actor identifies the tenant (entity) and the user performing an operation.
type Actor struct {
	EntityID string
	UserID   string
}

// Validate checks that the tenant boundary is set. UserID may be empty for
// system-originated operations such as the snapshot worker.
func (a Actor) Validate() error {
	if a.EntityID == "" {
		return apperr.Validationf("actor entity id must be non-empty")
	}
	return nil
}
