package out_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowsync/internal/modules/relay/adapter/out"
	"flowsync/internal/modules/relay/domain"
	apperrors "flowsync/internal/platform/errors"
)

func TestJWTAuthorityRoundTrip(t *testing.T) {
	t.Parallel()
	now := time.Unix(1_700_000_000, 0)
	auth, err := out.NewJWTAuthority("s3cret", func() time.Time { return now })
	require.NoError(t, err)

	token, expires, err := auth.Mint("design-review", "ana", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), expires)
	assert.NoError(t, auth.Verify(token, "design-review"))

	err = auth.Verify(token, "other-room")
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	assert.ErrorIs(t, err, domain.ErrRoomMismatch)

	err = auth.Verify("", "design-review")
	assert.ErrorIs(t, err, domain.ErrTokenRequired)
}

func TestJWTAuthorityRejectsExpiredAndForeignTokens(t *testing.T) {
	t.Parallel()
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	auth, err := out.NewJWTAuthority("s3cret", clock)
	require.NoError(t, err)

	token, _, err := auth.Mint("room", "ana", time.Minute)
	require.NoError(t, err)
	later, err := out.NewJWTAuthority("s3cret", func() time.Time { return now.Add(2 * time.Minute) })
	require.NoError(t, err)
	assert.ErrorIs(t, later.Verify(token, "room"), apperrors.ErrUnauthorized)

	other, err := out.NewJWTAuthority("different", clock)
	require.NoError(t, err)
	assert.ErrorIs(t, other.Verify(token, "room"), apperrors.ErrUnauthorized)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"room": "room", "iss": "flowsync"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	assert.ErrorIs(t, auth.Verify(unsigned, "room"), apperrors.ErrUnauthorized)
}

func TestJWTAuthorityNeedsSecret(t *testing.T) {
	t.Parallel()
	_, err := out.NewJWTAuthority("", nil)
	assert.ErrorIs(t, err, domain.ErrNoSecret)
}

func TestRedisBrokerDeliversToSubscribers(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	broker := out.NewRedisBrokerWithClient(client, "test")
	ctx := context.Background()

	var mu sync.Mutex
	var got []string
	cancel, err := broker.Subscribe(ctx, "flow", func(payload []byte) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, string(payload))
	})
	require.NoError(t, err)

	require.NoError(t, broker.Publish(ctx, "other", []byte("ignored")))
	require.NoError(t, broker.Publish(ctx, "flow", []byte("one")))
	require.NoError(t, broker.Publish(ctx, "flow", []byte("two")))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"one", "two"}, got)
	mu.Unlock()

	cancel()
	cancel()
	require.NoError(t, broker.Publish(ctx, "flow", []byte("after")))
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, got, 2)
}

func TestNewRedisBrokerFailsWithoutServer(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := out.NewRedisBroker(ctx, out.RedisBrokerOptions{Addr: addr})
	assert.Error(t, err)
}
