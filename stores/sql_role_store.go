package stores

import (
	"context"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/permbit/permbit"
)

// SQLRoleStore keeps roles and role membership in the roles and user_roles
// tables.
type SQLRoleStore struct {
	db *squealx.DB
}

func NewSQLRoleStore(db *squealx.DB) *SQLRoleStore {
	return &SQLRoleStore{db: db}
}

func (s *SQLRoleStore) scanRole(r interface {
	Scan(dest ...any) error
}) (*permbit.Role, error) {
	var (
		id         int64
		name       string
		createdRaw interface{}
	)
	if err := r.Scan(&id, &name, &createdRaw); err != nil {
		return nil, err
	}
	return &permbit.Role{ID: uint64(id), Name: name, CreatedAt: scanTime(createdRaw)}, nil
}

func (s *SQLRoleStore) findRole(ctx context.Context, where string, args map[string]any) (*permbit.Role, error) {
	q := `SELECT id, name, created_at FROM roles WHERE ` + where
	r, err := s.db.NamedQueryContext(ctx, q, args)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, nil
	}
	return s.scanRole(r)
}

func (s *SQLRoleStore) GetRole(ctx context.Context, id uint64) (*permbit.Role, error) {
	return s.findRole(ctx, `id = :id`, map[string]any{"id": id})
}

func (s *SQLRoleStore) FindRole(ctx context.Context, name string) (*permbit.Role, error) {
	return s.findRole(ctx, `name = :name`, map[string]any{"name": name})
}

func (s *SQLRoleStore) EnsureRole(ctx context.Context, name string) (*permbit.Role, error) {
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO roles(name, created_at) VALUES(:name, :created_at) ON CONFLICT(name) DO NOTHING`,
		map[string]any{"name": name, "created_at": time.Now()})
	if err != nil {
		return nil, err
	}
	return s.FindRole(ctx, name)
}

func (s *SQLRoleStore) RolesFor(ctx context.Context, userID uint64) ([]*permbit.Role, error) {
	q := `SELECT r.id, r.name, r.created_at
FROM roles r JOIN user_roles ur ON ur.role_id = r.id
WHERE ur.user_id = :user_id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"user_id": userID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*permbit.Role, 0)
	for r.Next() {
		role, err := s.scanRole(r)
		if err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, nil
}

func (s *SQLRoleStore) Assign(ctx context.Context, userID, roleID uint64) error {
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO user_roles(user_id, role_id) VALUES(:user_id, :role_id) ON CONFLICT(user_id, role_id) DO NOTHING`,
		map[string]any{"user_id": userID, "role_id": roleID})
	return err
}

func (s *SQLRoleStore) Revoke(ctx context.Context, userID, roleID uint64) error {
	_, err := s.db.NamedExecContext(ctx,
		`DELETE FROM user_roles WHERE user_id = :user_id AND role_id = :role_id`,
		map[string]any{"user_id": userID, "role_id": roleID})
	return err
}
