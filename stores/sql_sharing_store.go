package stores

import (
	"context"

	"github.com/oarkflow/squealx"
)

type SQLSharingStore struct {
	db *squealx.DB
}

func NewSQLSharingStore(db *squealx.DB) *SQLSharingStore {
	return &SQLSharingStore{db: db}
}

func (s *SQLSharingStore) SharedWith(ctx context.Context, resourceType string, resourceID int64) ([]int64, error) {
	r, err := s.db.NamedQueryContext(ctx,
		`SELECT user_id FROM shares WHERE resource_type = :resource_type AND resource_id = :resource_id`,
		map[string]any{"resource_type": resourceType, "resource_id": resourceID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]int64, 0)
	for r.Next() {
		var userID int64
		if err := r.Scan(&userID); err != nil {
			return nil, err
		}
		out = append(out, userID)
	}
	return out, nil
}

func (s *SQLSharingStore) Share(ctx context.Context, resourceType string, resourceID int64, userID int64) error {
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO shares(resource_type, resource_id, user_id)
VALUES(:resource_type, :resource_id, :user_id)
ON CONFLICT(resource_type, resource_id, user_id) DO NOTHING`,
		map[string]any{"resource_type": resourceType, "resource_id": resourceID, "user_id": userID})
	return err
}

func (s *SQLSharingStore) Unshare(ctx context.Context, resourceType string, resourceID int64, userID int64) error {
	_, err := s.db.NamedExecContext(ctx,
		`DELETE FROM shares WHERE resource_type = :resource_type AND resource_id = :resource_id AND user_id = :user_id`,
		map[string]any{"resource_type": resourceType, "resource_id": resourceID, "user_id": userID})
	return err
}
