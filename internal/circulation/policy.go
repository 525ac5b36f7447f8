package circulation

import (
	"context"

	"github.com/erazemk/izposoja/internal/model"
	"github.com/erazemk/izposoja/internal/store"
)

// resolvePolicy returns the active lending policy for a role. A missing
// policy is a hard stop for every caller.
func resolvePolicy(ctx context.Context, q store.Queryer, orgID, role string) (*model.Policy, error) {
	p, err := store.GetActivePolicy(ctx, q, orgID, role)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, notFound("no active circulation policy for role %s", role)
	}
	return p, nil
}

// ResolvePolicy returns the active lending policy for an organization and role.
func (s *Service) ResolvePolicy(ctx context.Context, orgID, role string) (*model.Policy, error) {
	return resolvePolicy(ctx, s.db, orgID, role)
}
