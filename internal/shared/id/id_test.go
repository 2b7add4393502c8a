package id

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateUnique(t *testing.T) {
	gen := NewGenerator()
	assert.NotEqual(t, gen.Generate(), gen.Generate())
}

func TestGenerateWithPrefix(t *testing.T) {
	gen := NewGenerator()

	for _, prefix := range []string{SessionPrefix, RequestPrefix, TracePrefix} {
		t.Run(prefix, func(t *testing.T) {
			got := gen.GenerateWithPrefix(prefix)
			require.True(t, strings.HasPrefix(got, prefix+"_"))
			assert.True(t, IsValid(got))
		})
	}
}

func TestDeterministicEntropy(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	now := func() time.Time { return at }

	a := NewGeneratorWithEntropy(bytes.NewReader(make([]byte, 16)), now).GenerateString()
	b := NewGeneratorWithEntropy(bytes.NewReader(make([]byte, 16)), now).GenerateString()
	assert.Equal(t, a, b)

	ts, err := Timestamp(a)
	require.NoError(t, err)
	assert.True(t, ts.Equal(at))
}

func TestConcurrentSessionIDs(t *testing.T) {
	const n = 200
	var (
		mu   sync.Mutex
		seen = make(map[SessionID]struct{}, n)
		wg   sync.WaitGroup
	)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sid := NewSessionID()
			mu.Lock()
			seen[sid] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
}

func TestParseRejectsGarbage(t *testing.T) {
	assert.False(t, IsValid("sess_not-a-ulid"))
}
