// Package handlers implements HTTP handlers for the fleet-telemetry API.
//
// Read and configuration routes are scoped by the X-Fleet-Role and
// X-Fleet-Dealer-ID headers, which the upstream auth proxy sets. Ingestion
// and operational routes are unscoped.
package handlers

import (
	"errors"
	"time"

	"github.com/danielgtaylor/huma/v2"

	domain "github.com/donaldgifford/fleet-telemetry/pkg/types"
)

// StatusResponse is a generic status response body.
type StatusResponse struct {
	Status string `json:"status" example:"ok"`
}

// ScopeHeaders carries the caller scope. Embed it in operation inputs.
type ScopeHeaders struct {
	Role     string `header:"X-Fleet-Role"      doc:"Caller role: owner or dealer"`
	DealerID string `header:"X-Fleet-Dealer-ID" doc:"Dealer id, required for the dealer role"`
	User     string `header:"X-Fleet-User"      doc:"Caller identity recorded on acknowledgements"`
}

// Scope parses the headers into a domain scope, failing with 401.
func (h *ScopeHeaders) Scope() (domain.Scope, error) {
	s, err := domain.ParseScope(h.Role, h.DealerID)
	if err != nil {
		return domain.Scope{}, huma.Error401Unauthorized(err.Error())
	}
	return s, nil
}

// ownerOnly parses the scope and rejects anything but the owner role.
func (h *ScopeHeaders) ownerOnly() error {
	s, err := h.Scope()
	if err != nil {
		return err
	}
	if !s.IsOwner() {
		return huma.Error403Forbidden("forbidden")
	}
	return nil
}

// Clock is the time source used for relative windows like ?hours=24.
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now()
	}
	return c()
}

func notFound(err error, msg string) error {
	if errors.Is(err, domain.ErrNotFound) {
		return huma.Error404NotFound(msg)
	}
	return nil
}
