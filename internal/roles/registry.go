package roles

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/xela07ax/procurement-approvals/internal/domain"
)

// Resolver отдает справочную запись роли по ID.
type Resolver interface {
	ResolveRole(ctx context.Context, id string) (domain.Role, error)
}

// DefaultRoles: роли, на которые ссылается встроенный каталог.
func DefaultRoles() []domain.Role {
	return []domain.Role{
		{ID: domain.RoleProcurement, Title: "Procurement", Tier: domain.TierOperations},
		{ID: domain.RoleProjectManager, Title: "Project Manager", Tier: domain.TierManagement},
		{ID: domain.RoleTechnicalDirector, Title: "Technical Director", Tier: domain.TierManagement},
		{ID: domain.RoleEstimation, Title: "Estimation", Tier: domain.TierSupport},
		{ID: domain.RoleSiteEngineer, Title: "Site Engineer", Tier: domain.TierOperations},
		{ID: domain.RoleStoreKeeper, Title: "Store Keeper", Tier: domain.TierSupport},
	}
}

// Registry: статический справочник ролей в памяти процесса.
type Registry struct {
	mu    sync.RWMutex
	roles map[string]domain.Role
}

// NewRegistry собирает справочник из DefaultRoles и overrides из конфига.
func NewRegistry(overrides []domain.Role) (*Registry, error) {
	r := &Registry{roles: make(map[string]domain.Role)}
	for _, role := range DefaultRoles() {
		r.roles[role.ID] = role
	}
	for _, role := range overrides {
		if role.ID == "" {
			return nil, fmt.Errorf("role override without id")
		}
		if !role.Tier.Valid() {
			return nil, fmt.Errorf("role %s has invalid tier %q", role.ID, role.Tier)
		}
		r.roles[role.ID] = role
	}
	return r, nil
}

func (r *Registry) ResolveRole(_ context.Context, id string) (domain.Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	role, ok := r.roles[id]
	if !ok {
		return domain.Role{}, fmt.Errorf("%w: %q", domain.ErrUnknownRole, id)
	}
	return role, nil
}

// Roles: все роли, отсортированные по ID.
func (r *Registry) Roles() []domain.Role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Role, 0, len(r.roles))
	for _, role := range r.roles {
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
