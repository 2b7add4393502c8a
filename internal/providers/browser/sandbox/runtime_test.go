package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Clock = func() time.Time { return testEpoch }
	cfg.Seed = 7
	cfg.EnableConsole = false
	return cfg
}

func newTestRuntime(t *testing.T, cfg Config) *Runtime {
	t.Helper()
	rt := NewRuntime(cfg, zap.NewNop())
	t.Cleanup(rt.Close)
	return rt
}

// newTestEnv returns a runtime with the browser environment installed
func newTestEnv(t *testing.T, sc SignContext) (*Runtime, *Environment) {
	t.Helper()
	rt := newTestRuntime(t, testConfig())
	env := NewEnvironment(rt, sc)
	require.NoError(t, env.Install())
	return rt, env
}

func TestRuntimeRun(t *testing.T) {
	rt := newTestRuntime(t, testConfig())
	ctx := context.Background()

	tests := []struct {
		name    string
		script  string
		want    interface{}
		wantErr bool
	}{
		{name: "number", script: "6 * 7", want: int64(42)},
		{name: "string", script: "'hello'.toUpperCase()", want: "HELLO"},
		{name: "math", script: "Math.sqrt(16)", want: int64(4)},
		{name: "syntax error", script: "function (", wantErr: true},
		{name: "thrown error", script: "throw new Error('boom')", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			val, err := rt.Run(ctx, tt.name, tt.script)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, val.Export())
		})
	}
}

func TestRuntimeInterruptsOnDeadline(t *testing.T) {
	rt := newTestRuntime(t, testConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := rt.Run(ctx, "spin", "for (;;) {}")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The runtime stays usable after an interrupt.
	val, err := rt.Run(context.Background(), "after", "1 + 1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), val.Export())
}

func TestRuntimeVirtualTime(t *testing.T) {
	rt, _ := newTestEnv(t, SignContext{})

	_, err := rt.Run(context.Background(), "timers", `
		var t0 = Date.now();
		var fired = [];
		setTimeout(function () { fired.push(Date.now() - t0); }, 1000);
		setTimeout(function (a, b) { fired.push(a + b); }, 10, 2, 3);
	`)
	require.NoError(t, err)

	var fired []int64
	require.NoError(t, rt.VM().ExportTo(rt.VM().Get("fired"), &fired))
	assert.Equal(t, []int64{5, 1000}, fired)
	assert.Equal(t, testEpoch.Add(time.Second), rt.Now())
}

func TestRuntimeAwait(t *testing.T) {
	rt, _ := newTestEnv(t, SignContext{})
	ctx := context.Background()

	t.Run("resolves through timers", func(t *testing.T) {
		p, err := rt.Run(ctx, "p", "new Promise(function (ok) { setTimeout(function () { ok('done'); }, 30000); })")
		require.NoError(t, err)
		val, err := rt.Await(ctx, p)
		require.NoError(t, err)
		assert.Equal(t, "done", val.Export())
	})

	t.Run("rejection", func(t *testing.T) {
		p, err := rt.Run(ctx, "p", "Promise.reject(new Error('nope'))")
		require.NoError(t, err)
		_, err = rt.Await(ctx, p)
		assert.ErrorContains(t, err, "nope")
	})

	t.Run("never settles", func(t *testing.T) {
		p, err := rt.Run(ctx, "p", "new Promise(function () {})")
		require.NoError(t, err)
		_, err = rt.Await(ctx, p)
		assert.ErrorIs(t, err, errPromisePending)
	})

	t.Run("plain value", func(t *testing.T) {
		val, err := rt.Await(ctx, rt.VM().ToValue(3))
		require.NoError(t, err)
		assert.Equal(t, int64(3), val.Export())
	})
}

func TestRuntimeSeededRandom(t *testing.T) {
	sample := func(seed int64) []float64 {
		cfg := testConfig()
		cfg.Seed = seed
		rt := newTestRuntime(t, cfg)
		val, err := rt.Run(context.Background(), "rand", "[Math.random(), Math.random(), Math.random()]")
		require.NoError(t, err)
		var out []float64
		require.NoError(t, rt.VM().ExportTo(val, &out))
		return out
	}

	assert.Equal(t, sample(11), sample(11))
	assert.NotEqual(t, sample(11), sample(12))
}

func TestRuntimeConsoleCapture(t *testing.T) {
	rt, _ := newTestEnv(t, SignContext{})

	_, err := rt.Run(context.Background(), "console", "console.log('a', 1, null); console.warn('w'); console.group()")
	require.NoError(t, err)

	entries := rt.Console()
	require.Len(t, entries, 2)
	assert.Equal(t, "log", entries[0].Level)
	assert.Equal(t, "a 1 null", entries[0].Message)
	assert.Equal(t, "warn", entries[1].Level)
}

func TestDescribe(t *testing.T) {
	vm := goja.New()
	assert.Equal(t, "undefined", describe(nil))
	assert.Equal(t, "null", describe(goja.Null()))
	assert.Equal(t, "7", describe(vm.ToValue(7)))

	errVal, err := vm.RunString("new Error('bad')")
	require.NoError(t, err)
	assert.Contains(t, describe(errVal), "bad")
}
