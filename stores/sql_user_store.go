package stores

import (
	"context"

	"github.com/oarkflow/squealx"

	"github.com/permbit/permbit"
)

type SQLUserStore struct {
	db *squealx.DB
}

func NewSQLUserStore(db *squealx.DB) *SQLUserStore {
	return &SQLUserStore{db: db}
}

func (s *SQLUserStore) FindUser(ctx context.Context, username string) (*permbit.User, error) {
	r, err := s.db.NamedQueryContext(ctx,
		`SELECT id, username, admin FROM users WHERE username = :username`,
		map[string]any{"username": username})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, nil
	}
	var (
		id    int64
		name  string
		admin int
	)
	if err := r.Scan(&id, &name, &admin); err != nil {
		return nil, err
	}
	return &permbit.User{ID: uint64(id), Username: name, Admin: admin != 0}, nil
}

func (s *SQLUserStore) EnsureUser(ctx context.Context, username string, admin bool) (*permbit.User, error) {
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO users(username, admin) VALUES(:username, :admin) ON CONFLICT(username) DO NOTHING`,
		map[string]any{"username": username, "admin": boolToInt(admin)})
	if err != nil {
		return nil, err
	}
	return s.FindUser(ctx, username)
}
