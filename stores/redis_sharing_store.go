package stores

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisSharingStore keeps share lists in Redis sets (key: share:{type}:{id}),
// one member per user id the entity is shared with.
type RedisSharingStore struct {
	client *redis.Client
	keyFmt string // format string, e.g. "share:%s:%d"
}

func NewRedisSharingStore(client *redis.Client) *RedisSharingStore {
	return &RedisSharingStore{client: client, keyFmt: "share:%s:%d"}
}

func (r *RedisSharingStore) key(resourceType string, resourceID int64) string {
	return fmt.Sprintf(r.keyFmt, resourceType, resourceID)
}

func (r *RedisSharingStore) Share(ctx context.Context, resourceType string, resourceID int64, userID int64) error {
	return r.client.SAdd(ctx, r.key(resourceType, resourceID), userID).Err()
}

func (r *RedisSharingStore) Unshare(ctx context.Context, resourceType string, resourceID int64, userID int64) error {
	return r.client.SRem(ctx, r.key(resourceType, resourceID), userID).Err()
}

func (r *RedisSharingStore) SharedWith(ctx context.Context, resourceType string, resourceID int64) ([]int64, error) {
	members, err := r.client.SMembers(ctx, r.key(resourceType, resourceID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed share member %q: %w", m, err)
		}
		out = append(out, id)
	}
	return out, nil
}
