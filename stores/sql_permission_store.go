package stores

import (
	"context"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/permbit/permbit"
)

// SQLPermissionStore persists grants in SQL (squealx). Grant accumulation is
// a single upsert that ORs the incoming mask into the stored one, so
// concurrent extenders of the same row cannot lose updates.
type SQLPermissionStore struct {
	db *squealx.DB
}

func NewSQLPermissionStore(db *squealx.DB) *SQLPermissionStore {
	return &SQLPermissionStore{db: db}
}

const permissionColumns = `id, name, action_mask, resource_type, resource_id, role_id, user_id, created_at`

func (s *SQLPermissionStore) findOne(ctx context.Context, where string, args map[string]any) (*permbit.Permission, error) {
	q := `SELECT ` + permissionColumns + ` FROM permissions WHERE ` + where
	r, err := s.db.NamedQueryContext(ctx, q, args)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, nil
	}
	return scanPermission(r)
}

func scanPermission(r interface {
	Scan(dest ...any) error
}) (*permbit.Permission, error) {
	var (
		id, mask, resourceID, roleID, userID int64
		name, resourceType                   string
		createdRaw                           interface{}
	)
	if err := r.Scan(&id, &name, &mask, &resourceType, &resourceID, &roleID, &userID, &createdRaw); err != nil {
		return nil, err
	}
	return &permbit.Permission{
		ID:           id,
		Name:         name,
		ActionMask:   uint64(mask),
		ResourceType: resourceType,
		ResourceID:   resourceIDValue(resourceID),
		RoleID:       uint64(roleID),
		UserID:       uint64(userID),
		CreatedAt:    scanTime(createdRaw),
	}, nil
}

func (s *SQLPermissionStore) FindByUser(ctx context.Context, userID uint64, resourceType string) (*permbit.Permission, error) {
	return s.findOne(ctx, `user_id = :user_id AND resource_type = :resource_type AND resource_id = 0 AND role_id = 0`,
		map[string]any{"user_id": userID, "resource_type": resourceType})
}

func (s *SQLPermissionStore) FindByUserResource(ctx context.Context, userID uint64, resourceType string, resourceID int64) (*permbit.Permission, error) {
	return s.findOne(ctx, `user_id = :user_id AND resource_type = :resource_type AND resource_id = :resource_id AND role_id = 0`,
		map[string]any{"user_id": userID, "resource_type": resourceType, "resource_id": resourceID})
}

func (s *SQLPermissionStore) FindByRole(ctx context.Context, roleID uint64, resourceType string) (*permbit.Permission, error) {
	return s.findOne(ctx, `role_id = :role_id AND resource_type = :resource_type AND resource_id = 0 AND user_id = 0`,
		map[string]any{"role_id": roleID, "resource_type": resourceType})
}

func (s *SQLPermissionStore) FindByRoleResource(ctx context.Context, roleID uint64, resourceType string, resourceID int64) (*permbit.Permission, error) {
	return s.findOne(ctx, `role_id = :role_id AND resource_type = :resource_type AND resource_id = :resource_id AND user_id = 0`,
		map[string]any{"role_id": roleID, "resource_type": resourceType, "resource_id": resourceID})
}

func (s *SQLPermissionStore) ListByRole(ctx context.Context, roleID uint64) ([]*permbit.Permission, error) {
	q := `SELECT ` + permissionColumns + ` FROM permissions WHERE role_id = :role_id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"role_id": roleID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*permbit.Permission, 0)
	for r.Next() {
		p, err := scanPermission(r)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *SQLPermissionStore) Ensure(ctx context.Context, grants ...permbit.Permission) error {
	q := `INSERT INTO permissions(name, action_mask, resource_type, resource_id, role_id, user_id, created_at)
VALUES(:name, :action_mask, :resource_type, :resource_id, :role_id, :user_id, :created_at)
ON CONFLICT(role_id, user_id, resource_type, resource_id)
DO UPDATE SET action_mask = permissions.action_mask | excluded.action_mask`
	for _, g := range grants {
		_, err := s.db.NamedExecContext(ctx, q, map[string]any{
			"name":          g.Name,
			"action_mask":   int64(g.ActionMask),
			"resource_type": g.ResourceType,
			"resource_id":   resourceIDColumn(g.ResourceID),
			"role_id":       g.RoleID,
			"user_id":       g.UserID,
			"created_at":    time.Now(),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLPermissionStore) AnyForResource(ctx context.Context, resourceType string, resourceID int64) (bool, error) {
	q := `SELECT COUNT(1) FROM permissions WHERE resource_type = :resource_type AND resource_id = :resource_id AND resource_id != 0`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"resource_type": resourceType, "resource_id": resourceID})
	if err != nil {
		return false, err
	}
	defer r.Close()
	if !r.Next() {
		return false, nil
	}
	var count int64
	if err := r.Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}
