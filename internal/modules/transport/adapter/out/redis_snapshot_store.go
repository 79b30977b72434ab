package out

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	transportout "flowsync/internal/modules/transport/port/out"
)

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

type RedisSnapshotStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ transportout.SnapshotStore = (*RedisSnapshotStore)(nil)

func NewRedisSnapshotStore(opts RedisOptions) *RedisSnapshotStore {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "flowsync"
	}
	return &RedisSnapshotStore{client: client, prefix: prefix, ttl: opts.TTL}
}

func (s *RedisSnapshotStore) key(room string) string {
	return fmt.Sprintf("%s:room:%s:snapshot", s.prefix, room)
}

func (s *RedisSnapshotStore) Load(ctx context.Context, room string) ([]byte, error) {
	raw, err := s.client.Get(ctx, s.key(room)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return raw, nil
}

func (s *RedisSnapshotStore) Save(ctx context.Context, room string, update []byte) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(room), update, s.ttl)
	pipe.SAdd(ctx, s.prefix+":rooms", room)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Rooms lists every room that was ever saved.
func (s *RedisSnapshotStore) Rooms(ctx context.Context) ([]string, error) {
	rooms, err := s.client.SMembers(ctx, s.prefix+":rooms").Result()
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return rooms, nil
}

func (s *RedisSnapshotStore) Close() error {
	return s.client.Close()
}
