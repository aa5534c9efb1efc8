package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openstable/cdpcore/internal/model"
)

const (
	scanLockKey   = "cdpcore:scanner:lock"
	scanCursorKey = "cdpcore:scanner:cursor"
)

// RedisScanLock is the scanner's time-boxed mutual exclusion across nodes:
// SET NX with a TTL. There is no explicit release; the TTL lapsing is what
// lets the next tick acquire.
type RedisScanLock struct {
	client *redis.Client
	nodeID string
}

func NewRedisScanLock(client *redis.Client, nodeID string) *RedisScanLock {
	return &RedisScanLock{client: client, nodeID: nodeID}
}

// TryAcquire returns true when this node holds the lock for ttl. A false
// return means another holder is still live and the tick must be skipped.
func (l *RedisScanLock) TryAcquire(ctx context.Context, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, scanLockKey, l.nodeID, ttl).Result()
}

// RedisCursorStore persists the scanner's resume position.
type RedisCursorStore struct {
	client *redis.Client
}

func NewRedisCursorStore(client *redis.Client) *RedisCursorStore {
	return &RedisCursorStore{client: client}
}

func (s *RedisCursorStore) Load(ctx context.Context) (model.ScanCursor, error) {
	raw, err := s.client.Get(ctx, scanCursorKey).Bytes()
	if err == redis.Nil {
		return model.ScanCursor{}, nil
	}
	if err != nil {
		return model.ScanCursor{}, err
	}
	var cursor model.ScanCursor
	if err := json.Unmarshal(raw, &cursor); err != nil {
		// A corrupt cursor restarts the sweep from the top.
		return model.ScanCursor{}, nil
	}
	return cursor, nil
}

func (s *RedisCursorStore) Save(ctx context.Context, cursor model.ScanCursor) error {
	raw, err := json.Marshal(cursor)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, scanCursorKey, raw, 0).Err()
}
