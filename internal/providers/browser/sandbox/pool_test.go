package sandbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPoolSign(t *testing.T) {
	pool := NewPool(testConfig(), 2, StaticSource{B: jsBundle(t)}, zap.NewNop(), nil)
	defer pool.Close()

	sig, err := pool.Sign(context.Background(), SignContext{TrackingNumber: "123456789012"})
	require.NoError(t, err)
	assert.Equal(t, goldenSignature, sig)
}

func TestPoolSignWithUsesGivenBundle(t *testing.T) {
	pool := NewPool(testConfig(), 1, StaticSource{B: jsBundle(t)}, zap.NewNop(), nil)
	defer pool.Close()

	sig, err := pool.SignWith(context.Background(), SignContext{TrackingNumber: "123456789012"}, StaticSource{B: wasmBundle(t)})
	require.NoError(t, err)
	assert.Equal(t, "wasm:17track:fp-0001", sig)
}

func TestPoolPrewarm(t *testing.T) {
	pool := NewPool(testConfig(), 2, StaticSource{B: jsBundle(t)}, zap.NewNop(), nil)
	defer pool.Close()

	assert.Eventually(t, func() bool {
		return pool.Stats()["available"] == 2
	}, 5*time.Second, 10*time.Millisecond)

	s, err := pool.Acquire(context.Background(), SignContext{})
	require.NoError(t, err)
	assert.Equal(t, StateEnvironmentInstalled, s.State())
	require.NoError(t, s.Close())

	// The taken session is replaced.
	assert.Eventually(t, func() bool {
		return pool.Stats()["available"] == 2
	}, 5*time.Second, 10*time.Millisecond)
}

func TestPoolConcurrentSign(t *testing.T) {
	pool := NewPool(testConfig(), 1, StaticSource{B: jsBundle(t)}, zap.NewNop(), nil)
	defer pool.Close()

	var wg sync.WaitGroup
	sigs := make([]string, 4)
	errs := make([]error, 4)
	for i := range sigs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sigs[i], errs[i] = pool.Sign(context.Background(), SignContext{TrackingNumber: "123456789012"})
		}(i)
	}
	wg.Wait()

	for i := range sigs {
		require.NoError(t, errs[i])
		assert.Equal(t, goldenSignature, sigs[i])
	}
}

func TestPoolClose(t *testing.T) {
	pool := NewPool(testConfig(), 1, StaticSource{B: jsBundle(t)}, zap.NewNop(), nil)

	require.NoError(t, pool.Close())
	require.NoError(t, pool.Close())

	_, err := pool.Acquire(context.Background(), SignContext{})
	assert.ErrorIs(t, err, ErrPoolClosed)
	assert.Equal(t, true, pool.Stats()["closed"])
	assert.Equal(t, 0, pool.Stats()["available"])
}
