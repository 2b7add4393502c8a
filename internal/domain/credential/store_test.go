package credential

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T, now func() time.Time) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cli := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cli.Close() })
	return NewRedisStore(cli, "track17:", now), mr
}

func TestRedisStoreRoundTrip(t *testing.T) {
	clk := &clock{now: epoch.Add(10 * time.Minute)}
	s, mr := newTestRedisStore(t, clk.Now)
	ctx := context.Background()

	require.NoError(t, s.Ping(ctx))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	cred := &Credential{
		Signature:    "fp1.08d6e348",
		DeviceID:     "G-0123456789ABCDEF",
		BundleMD5:    "1.0.156",
		BundleDigest: "abc",
		IssuedAt:     epoch,
		TTL:          time.Hour,
		Generation:   3,
	}
	require.NoError(t, s.Save(ctx, cred))
	assert.True(t, mr.Exists("track17:credential"))
	assert.Equal(t, 50*time.Minute, mr.TTL("track17:credential"))

	got, err = s.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, cred.Signature, got.Signature)
	assert.Equal(t, cred.DeviceID, got.DeviceID)
	assert.Equal(t, cred.BundleMD5, got.BundleMD5)
	assert.True(t, cred.IssuedAt.Equal(got.IssuedAt))
	assert.Equal(t, cred.TTL, got.TTL)
	assert.Equal(t, cred.Generation, got.Generation)

	require.NoError(t, s.Delete(ctx))
	got, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisStoreSkipsExpired(t *testing.T) {
	clk := &clock{now: epoch.Add(2 * time.Hour)}
	s, mr := newTestRedisStore(t, clk.Now)

	cred := &Credential{Signature: "old", IssuedAt: epoch, TTL: time.Hour}
	require.NoError(t, s.Save(context.Background(), cred))
	assert.False(t, mr.Exists("track17:credential"))

	assert.Error(t, s.Save(context.Background(), nil))
}

func TestRedisStoreExpiresWithCredential(t *testing.T) {
	clk := &clock{now: epoch}
	s, mr := newTestRedisStore(t, clk.Now)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, &Credential{Signature: "s", IssuedAt: epoch, TTL: time.Minute}))
	mr.FastForward(time.Minute)

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisStoreCorruptValue(t *testing.T) {
	s, mr := newTestRedisStore(t, nil)
	require.NoError(t, mr.Set("track17:credential", "{not json"))

	_, err := s.Load(context.Background())
	assert.ErrorContains(t, err, "unmarshal credential failed")
}

func TestRedisStoreUnavailable(t *testing.T) {
	s, mr := newTestRedisStore(t, nil)
	mr.Close()

	assert.Error(t, s.Ping(context.Background()))
	_, err := s.Load(context.Background())
	assert.Error(t, err)
}

func TestCachesShareRedisStore(t *testing.T) {
	clk := &clock{now: epoch}
	store, _ := newTestRedisStore(t, clk.Now)

	first := &fakeSigner{}
	a, _ := newTestCache(t, first, Options{Store: store, Now: clk.Now})
	credA, err := a.GetOrRefresh(context.Background())
	require.NoError(t, err)

	second := &fakeSigner{}
	b, _ := newTestCache(t, second, Options{Store: store, Now: clk.Now})
	credB, err := b.GetOrRefresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, credA.Signature, credB.Signature)
	assert.Equal(t, credA.DeviceID, credB.DeviceID)
	assert.Zero(t, second.calls.Load())
}

func TestNewDeviceID(t *testing.T) {
	pattern := regexp.MustCompile(`^G-[0-9A-F]{16}$`)
	seen := make(map[string]bool)
	for i := 0; i < 64; i++ {
		id := NewDeviceID()
		assert.Regexp(t, pattern, id)
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestValidAt(t *testing.T) {
	var nilCred *Credential
	assert.False(t, nilCred.ValidAt(epoch))

	c := &Credential{Signature: "s", IssuedAt: epoch, TTL: time.Hour}
	assert.True(t, c.ValidAt(epoch))
	assert.True(t, c.ValidAt(epoch.Add(time.Hour-time.Nanosecond)))
	assert.False(t, c.ValidAt(epoch.Add(time.Hour)))

	c.Signature = ""
	assert.False(t, c.ValidAt(epoch))
}
