// Package cache holds the redis-backed snapshot cache for the sync feed.
// Cached snapshots are written and read as one value, so a cache hit is
// always internally consistent; the TTL bounds how stale a poll can be.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Martin-Hayot/bidding-engine/pkg/types"
	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

type Snapshots struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSnapshots(addr, password string, db int, ttl time.Duration) (*Snapshots, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("error connecting to redis: %w", err)
	}

	return &Snapshots{client: client, ttl: ttl}, nil
}

func snapshotKey(lotID, callerID string) string {
	return fmt.Sprintf("lot:%s:snapshot:%s", lotID, callerID)
}

// Get returns a cached snapshot for (lot, caller), or nil on a miss. Cache
// errors degrade to a miss; the store remains the source of truth.
func (s *Snapshots) Get(ctx context.Context, lotID, callerID string) *types.LotSnapshot {
	raw, err := s.client.Get(ctx, snapshotKey(lotID, callerID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Debugf("Snapshot cache read failed for lot %s: %v", lotID, err)
		}
		return nil
	}
	var snapshot types.LotSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil
	}
	return &snapshot
}

func (s *Snapshots) Put(ctx context.Context, callerID string, snapshot types.LotSnapshot) {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return
	}
	if err := s.client.Set(ctx, snapshotKey(snapshot.LotID, callerID), raw, s.ttl).Err(); err != nil {
		log.Debugf("Snapshot cache write failed for lot %s: %v", snapshot.LotID, err)
	}
}

// Invalidate drops every cached snapshot of a lot after its price or status
// moved, so the next poll from any watcher sees the fresh state.
func (s *Snapshots) Invalidate(ctx context.Context, lotID string) {
	pattern := fmt.Sprintf("lot:%s:snapshot:*", lotID)
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			log.Debugf("Snapshot cache invalidation failed for lot %s: %v", lotID, err)
			return
		}
	}
	if err := iter.Err(); err != nil {
		log.Debugf("Snapshot cache scan failed for lot %s: %v", lotID, err)
	}
}

func (s *Snapshots) Close() error {
	return s.client.Close()
}
