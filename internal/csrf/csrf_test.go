package csrf_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"storefront/internal/csrf"
	"storefront/internal/csrf/mocks"
)

const secret = "csrf-test-secret"

func TestGenerateVerify_ExactlyOnce(t *testing.T) {
	t.Parallel()

	svc, err := csrf.New(secret, time.Hour, csrf.NewMemoryReplayStore(16, time.Hour))
	require.NoError(t, err)

	tok, err := svc.Generate("sid-1")
	require.NoError(t, err)
	assert.Len(t, strings.Split(tok, "."), 3)

	require.NoError(t, svc.Verify(context.Background(), "sid-1", tok))
	assert.ErrorIs(t, svc.Verify(context.Background(), "sid-1", tok), csrf.ErrReplayed)
}

func TestVerify_Rejects(t *testing.T) {
	t.Parallel()

	svc, err := csrf.New(secret, time.Hour, nil)
	require.NoError(t, err)
	tok, err := svc.Generate("sid-1")
	require.NoError(t, err)
	other, err := csrf.New("other-secret", time.Hour, nil)
	require.NoError(t, err)
	foreign, err := other.Generate("sid-1")
	require.NoError(t, err)

	parts := strings.Split(tok, ".")
	cases := []struct {
		name  string
		sid   string
		token string
		want  error
	}{
		{name: "empty", sid: "sid-1", token: "  ", want: csrf.ErrMissing},
		{name: "two parts", sid: "sid-1", token: "a.b", want: csrf.ErrMalformed},
		{name: "bad nonce", sid: "sid-1", token: "!!." + parts[1] + "." + parts[2], want: csrf.ErrMalformed},
		{name: "bad ts", sid: "sid-1", token: parts[0] + ".x." + parts[2], want: csrf.ErrMalformed},
		{name: "short mac", sid: "sid-1", token: parts[0] + "." + parts[1] + ".AAAA", want: csrf.ErrMalformed},
		{name: "other session", sid: "sid-2", token: tok, want: csrf.ErrMismatch},
		{name: "no session", sid: "", token: tok, want: csrf.ErrMismatch},
		{name: "other secret", sid: "sid-1", token: foreign, want: csrf.ErrMismatch},
		{name: "tampered ts", sid: "sid-1", token: parts[0] + ".1." + parts[2], want: csrf.ErrMismatch},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.ErrorIs(t, svc.Verify(context.Background(), tc.sid, tc.token), tc.want)
		})
	}

	// 无 ReplayStore 时可重复校验。
	require.NoError(t, svc.Verify(context.Background(), "sid-1", tok))
	require.NoError(t, svc.Verify(context.Background(), "sid-1", tok))
}

func TestVerify_Expired(t *testing.T) {
	t.Parallel()

	svc, err := csrf.New(secret, time.Second, nil)
	require.NoError(t, err)
	tok, err := svc.Generate("sid-1")
	require.NoError(t, err)

	svc2, err := csrf.New(secret, time.Second, nil)
	require.NoError(t, err)
	csrf.SetClock(svc2, func() time.Time { return time.Now().Add(2 * time.Second) })
	assert.ErrorIs(t, svc2.Verify(context.Background(), "sid-1", tok), csrf.ErrExpired)
}

func TestRedisReplayStore(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	client := mocks.NewMockRedisClient(ctrl)
	store := csrf.NewRedisReplayStore(client)

	gomock.InOrder(
		client.EXPECT().SetNX(gomock.Any(), "storefront:csrf:n1", 1, time.Second).Return(redis.NewBoolResult(true, nil)),
		client.EXPECT().SetNX(gomock.Any(), "storefront:csrf:n1", 1, 30*time.Second).Return(redis.NewBoolResult(false, nil)),
		client.EXPECT().SetNX(gomock.Any(), "storefront:csrf:n2", 1, 30*time.Second).Return(redis.NewBoolResult(false, errors.New("conn refused"))),
	)

	ok, err := store.Claim(context.Background(), "n1", 10*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Claim(context.Background(), "n1", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Claim(context.Background(), "n2", 30*time.Second)
	assert.Error(t, err)
}

func TestReason(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "replayed", csrf.Reason(csrf.ErrReplayed))
	assert.Equal(t, "missing", csrf.Reason(csrf.ErrMissing))
	assert.Equal(t, "error", csrf.Reason(errors.New("x")))
}

func TestMemoryReplayStore_EvictionFailsClosed(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	store := csrf.NewMemoryReplayStore(2, time.Hour)
	csrf.SetReplayClock(store, func() time.Time { return now })
	ctx := context.Background()

	for _, n := range []string{"n1", "n2", "n3"} {
		ok, err := store.Claim(ctx, n, time.Hour)
		require.NoError(t, err)
		require.True(t, ok, n)
	}

	// n1 已被挤出缓存，但令牌仍在有效期内，不能再次放行。
	ok, err := store.Claim(ctx, "n1", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	now = now.Add(time.Minute)
	ok, err = store.Claim(ctx, "n4", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok, "tokens issued after the eviction stay usable")
}
