// Package rbac enforces tenant-scoped role based access control with casbin.
// Subjects are agent ids, domains are tenant ids, objects are prefixed
// resource names (namespace:, category:, item:).
package rbac

import (
	"fmt"

	"github.com/casbin/casbin/v2"
	casbinmodel "github.com/casbin/casbin/v2/model"
	"github.com/casbin/casbin/v2/persist"
	"github.com/rs/zerolog/log"
)

// Actions understood by the policy layer.
const (
	ActionRead  = "read"
	ActionWrite = "write"
	ActionAll   = "*"
)

// Built-in roles seeded for every tenant.
const (
	RoleAdmin       = "admin"
	RoleContributor = "contributor"
)

const modelText = `
[request_definition]
r = sub, dom, obj, act

[policy_definition]
p = sub, dom, obj, act

[role_definition]
g = _, _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub, r.dom) && r.dom == p.dom && keyMatch(r.obj, p.obj) && (r.act == p.act || p.act == "*")
`

// Service wraps a synced enforcer so policy checks are safe under the HTTP
// handler concurrency.
type Service struct {
	enforcer *casbin.SyncedEnforcer
}

// NewService builds the enforcer. adapter may be nil for an in-memory policy
// set (tests); with an adapter the stored policy is loaded immediately.
func NewService(adapter persist.Adapter) (*Service, error) {
	m, err := casbinmodel.NewModelFromString(modelText)
	if err != nil {
		return nil, fmt.Errorf("rbac model: %w", err)
	}
	var enforcer *casbin.SyncedEnforcer
	if adapter != nil {
		enforcer, err = casbin.NewSyncedEnforcer(m, adapter)
	} else {
		enforcer, err = casbin.NewSyncedEnforcer(m)
	}
	if err != nil {
		return nil, fmt.Errorf("rbac enforcer: %w", err)
	}
	return &Service{enforcer: enforcer}, nil
}

// Enforce checks whether subject may perform action on object within the
// tenant domain.
func (s *Service) Enforce(subject, tenantID, object, action string) (bool, error) {
	ok, err := s.enforcer.Enforce(subject, tenantID, object, action)
	if err != nil {
		return false, fmt.Errorf("rbac enforce: %w", err)
	}
	return ok, nil
}

// RequireAdmin reports whether the agent holds namespace-wide rights in the
// tenant. Used to gate review, rule, key, and webhook management.
func (s *Service) RequireAdmin(agentID, tenantID string) (bool, error) {
	return s.Enforce(agentID, tenantID, "namespace:"+tenantID, ActionAll)
}

// SeedTenant installs the built-in role policies for a tenant. Idempotent;
// casbin ignores policies that already exist.
func (s *Service) SeedTenant(tenantID string) error {
	policies := [][]string{
		{RoleAdmin, tenantID, "namespace:" + tenantID, ActionAll},
		{RoleAdmin, tenantID, "category:*", ActionAll},
		{RoleAdmin, tenantID, "item:*", ActionAll},
		{RoleContributor, tenantID, "namespace:" + tenantID, ActionRead},
		{RoleContributor, tenantID, "namespace:" + tenantID, ActionWrite},
	}
	for _, p := range policies {
		if _, err := s.enforcer.AddPolicy(p[0], p[1], p[2], p[3]); err != nil {
			return fmt.Errorf("seed policy: %w", err)
		}
	}
	log.Debug().Str("tenant_id", tenantID).Msg("Seeded tenant role policies")
	return nil
}

// AssignRole grants the agent a role within the tenant.
func (s *Service) AssignRole(agentID, role, tenantID string) error {
	if _, err := s.enforcer.AddGroupingPolicy(agentID, role, tenantID); err != nil {
		return fmt.Errorf("assign role: %w", err)
	}
	return nil
}

// RevokeRole removes a role grant.
func (s *Service) RevokeRole(agentID, role, tenantID string) error {
	if _, err := s.enforcer.RemoveGroupingPolicy(agentID, role, tenantID); err != nil {
		return fmt.Errorf("revoke role: %w", err)
	}
	return nil
}

// AddPermission grants the subject a direct (object, action) permission
// within the tenant. Subjects may be agent ids or role names.
func (s *Service) AddPermission(subject, tenantID, object, action string) error {
	if _, err := s.enforcer.AddPolicy(subject, tenantID, object, action); err != nil {
		return fmt.Errorf("add permission: %w", err)
	}
	return nil
}

// RemovePermission revokes a direct permission.
func (s *Service) RemovePermission(subject, tenantID, object, action string) error {
	if _, err := s.enforcer.RemovePolicy(subject, tenantID, object, action); err != nil {
		return fmt.Errorf("remove permission: %w", err)
	}
	return nil
}

// RolesFor lists the agent's roles within the tenant.
func (s *Service) RolesFor(agentID, tenantID string) ([]string, error) {
	roles, err := s.enforcer.GetRolesForUser(agentID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("roles for user: %w", err)
	}
	return roles, nil
}
