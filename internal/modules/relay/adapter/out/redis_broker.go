package out

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	relayout "flowsync/internal/modules/relay/port/out"
)

type RedisBrokerOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisBroker fans room frames out over redis pub/sub, one channel per room.
type RedisBroker struct {
	client *redis.Client
	prefix string
}

var _ relayout.Broker = (*RedisBroker)(nil)

func NewRedisBroker(ctx context.Context, opts RedisBrokerOptions) (*RedisBroker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect broker redis: %w", err)
	}
	return NewRedisBrokerWithClient(client, opts.Prefix), nil
}

func NewRedisBrokerWithClient(client *redis.Client, prefix string) *RedisBroker {
	if prefix == "" {
		prefix = "flowsync"
	}
	return &RedisBroker{client: client, prefix: prefix}
}

func (b *RedisBroker) channel(room string) string {
	return fmt.Sprintf("%s:room:%s:frames", b.prefix, room)
}

func (b *RedisBroker) Publish(ctx context.Context, room string, payload []byte) error {
	if err := b.client.Publish(ctx, b.channel(room), payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", room, err)
	}
	return nil
}

// Subscribe returns once the subscription is confirmed, so nothing published after it
// returns is missed.
func (b *RedisBroker) Subscribe(ctx context.Context, room string, fn func(payload []byte)) (func(), error) {
	pubsub := b.client.Subscribe(ctx, b.channel(room))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", room, err)
	}
	messages := pubsub.Channel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range messages {
			fn([]byte(msg.Payload))
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			_ = pubsub.Close()
			<-done
		})
	}, nil
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}
