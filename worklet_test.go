package worklet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func mustCompile(t *testing.T, name, source string) Worklet {
	t.Helper()

	w, err := CompileWorklet(name, source)
	require.NoError(t, err)
	return w
}

func ExampleBridge() {
	b := New()
	count := NewMutable(b, 1, 0)

	inc, _ := CompileWorklet("inc", `function (count) {
		count.set(count.get() + 1)
		return count.get() >= 3
	}`)
	b.NewStarter(2, inc, 1).Trigger()

	for b.Frame() > 0 {
		fmt.Println(count.Get())
	}
	fmt.Println(count.Get())

	// Output:
	// 1
	// 2
	// 3
}

func ExampleStarter_Trigger() {
	b := New()
	NewMutable(b, 1, "a")

	s := b.NewStarter(3, WorkletFunc(func(rt *goja.Runtime, args []goja.Value) (goja.Value, error) {
		return goja.Undefined(), nil
	}), 1, 2)

	_, ok := s.Trigger()
	fmt.Println(ok)

	for _, r := range b.Reports() {
		fmt.Println(r.Err)
	}

	// Output:
	// false
	// [resolution] shared value 3: argument 2 not found
}

func TestBridge(t *testing.T) {
	t.Run("trigger runs on the next frame", func(t *testing.T) {
		b := New()
		a := NewMutable(b, 1, 20)
		c := NewMutable(b, 2, 22)
		out := NewMutable(b, 3, 0)

		s := b.NewStarter(4, mustCompile(t, "sum", `function (a, b, out) { out.set(a.get() + b.get()) }`), 1, 2, 3)

		id, ok := s.Trigger()
		require.True(t, ok)
		assert.Equal(t, 1, id)
		assert.Equal(t, 1, b.Active())
		assert.Equal(t, 0, out.Get())

		assert.Equal(t, 0, b.Frame())
		assert.Equal(t, 42, out.Get())
		assert.Equal(t, 20, a.Get())
		assert.Equal(t, 22, c.Get())
		assert.Empty(t, b.Reports())
	})

	t.Run("read", func(t *testing.T) {
		b := New()
		NewMutable(b, 1, 10)
		b.NewStarter(2, mustCompile(t, "noop", `function () {}`), 1)

		assert.Equal(t, int64(10), b.Read(1))
		assert.Equal(t, int64(1), b.Read(2))
		assert.Equal(t, int64(2), b.Read(2))
		assert.Nil(t, b.Read(3))
		assert.Equal(t, 2, b.Active())
	})

	t.Run("typed reads", func(t *testing.T) {
		b := New()
		f := NewMutable(b, 1, 0.5)
		str := NewMutable(b, 2, "")
		b.NewStarter(3, mustCompile(t, "write", `function (f, s) { f.set(2); s.set(65) }`), 1, 2).Trigger()

		b.Frame()

		// numbers convert between numeric types only
		assert.Equal(t, 2.0, f.Get())
		assert.Equal(t, "", str.Get())
		assert.Empty(t, b.Reports())
	})

	t.Run("ids", func(t *testing.T) {
		b := New()
		NewMutable(b, 5, 0)
		NewMutable(b, 1, 0)
		b.NewStarter(3, mustCompile(t, "noop", `function () {}`))

		assert.Equal(t, []int{1, 3, 5}, b.IDs())
	})

	t.Run("execution errors are reported", func(t *testing.T) {
		b := New()
		reported := []Report{}
		b.OnError(func(r Report) { reported = append(reported, r) })

		s := b.NewStarter(1, mustCompile(t, "throws", `function () { throw new Error("nope") }`))
		_, ok := s.Trigger()
		require.True(t, ok)

		b.Frame()

		require.Len(t, reported, 1)
		assert.Equal(t, 1, reported[0].SourceID)
		assert.Equal(t, KindExecution, reported[0].Kind)
		assert.ErrorIs(t, reported[0].Err, ErrExecution)
		assert.ErrorContains(t, reported[0].Err, "nope")

		var exc *goja.Exception
		assert.True(t, errors.As(reported[0].Err, &exc))
		assert.Equal(t, reported, b.Reports())
	})

	t.Run("missing arguments", func(t *testing.T) {
		b := New()
		NewMutable(b, 3, 0)
		s := b.NewStarter(7, mustCompile(t, "noop", `function () {}`), 3, 9, 11)

		_, ok := s.Trigger()
		assert.False(t, ok)
		assert.Equal(t, 0, b.Active())

		reports := b.Reports()
		require.Len(t, reports, 2)
		assert.EqualError(t, reports[0].Err, "[resolution] shared value 7: argument 9 not found")
		assert.EqualError(t, reports[1].Err, "[resolution] shared value 7: argument 11 not found")
	})

	t.Run("rebind", func(t *testing.T) {
		b := New()
		v := NewMutable(b, 1, "")
		w := NewMutable(b, 2, "")

		first := b.NewStarter(3, mustCompile(t, "first", `function (v) { v.set("first") }`), 1)
		second := b.NewStarter(4, mustCompile(t, "second", `function (v) { v.set("second") }`), 2)

		first.Rebind(second)
		first.Trigger()
		b.Frame()

		assert.Equal(t, "", v.Get())
		assert.Equal(t, "second", w.Get())
	})

	t.Run("unregister", func(t *testing.T) {
		b := New()
		v := NewMutable(b, 1, 0)
		s := b.NewStarter(2, mustCompile(t, "forever", `function (v) { v.set(v.get() + 1); return false }`), 1)

		log := []string{}
		s.OnUnregister(func() { log = append(log, "unregistered") })

		s.Trigger()
		b.Frame()
		b.Frame()
		assert.Equal(t, 2, v.Get())

		assert.True(t, b.Unregister(2))
		assert.False(t, b.Unregister(2))
		assert.Equal(t, []string{"unregistered"}, log)
		assert.Equal(t, 0, b.Active())

		b.Frame()
		assert.Equal(t, 2, v.Get())

		_, ok := s.Trigger()
		assert.False(t, ok)
		require.Len(t, b.Reports(), 1)
		assert.ErrorIs(t, b.Reports()[0].Err, ErrLifecycleMisuse)
	})

	t.Run("close", func(t *testing.T) {
		b := New()
		NewMutable(b, 1, 0)
		s := b.NewStarter(2, mustCompile(t, "forever", `function () { return false }`), 1)

		closed := false
		s.OnUnregister(func() { closed = true })
		s.Trigger()
		s.Trigger()

		b.Close()

		assert.True(t, closed)
		assert.Equal(t, 0, b.Active())
		assert.Empty(t, b.IDs())
	})

	t.Run("go worklets", func(t *testing.T) {
		b := New()
		NewMutable(b, 1, 4)
		out := NewMutable(b, 2, 0)

		square := WorkletFunc(func(rt *goja.Runtime, args []goja.Value) (goja.Value, error) {
			in, out := args[0].ToObject(rt), args[1].ToObject(rt)
			get, _ := goja.AssertFunction(in.Get("get"))
			set, _ := goja.AssertFunction(out.Get("set"))

			v, err := get(in)
			if err != nil {
				return nil, err
			}
			return set(out, rt.ToValue(v.ToInteger()*v.ToInteger()))
		})

		b.NewStarter(3, square, 1, 2).Trigger()
		b.Frame()

		assert.Equal(t, 16, out.Get())
		assert.Empty(t, b.Reports())
	})

	t.Run("starter arguments trigger nested worklets", func(t *testing.T) {
		b := New()
		v := NewMutable(b, 1, 0)
		out := NewMutable(b, 4, 0)
		b.NewStarter(2, mustCompile(t, "inner", `function (v) { v.set(v.get() + 1) }`), 1)
		outer := b.NewStarter(3, mustCompile(t, "outer", `function (inner, out) { out.set(inner.id()) }`), 2, 4)

		outer.Trigger()
		assert.Equal(t, 2, b.Active())

		b.Frame()
		assert.Equal(t, 1, v.Get())
		assert.Equal(t, 1, out.Get())
		assert.Equal(t, 0, b.Active())
		assert.Empty(t, b.Reports())
	})

	t.Run("value handles expose their id", func(t *testing.T) {
		b := New()
		NewMutable(b, 7, "seven")
		out := NewMutable(b, 8, 0)
		b.NewStarter(9, mustCompile(t, "id", `function (m, out) { out.set(m.id()) }`), 7, 8).Trigger()

		b.Frame()
		assert.Equal(t, 7, out.Get())
		assert.Empty(t, b.Reports())
	})

	t.Run("failing starter arguments abort the outer trigger", func(t *testing.T) {
		b := New()
		b.NewStarter(2, mustCompile(t, "inner", `function () {}`), 9)
		outer := b.NewStarter(1, mustCompile(t, "outer", `function (inner) {}`), 2)

		_, ok := outer.Trigger()
		assert.False(t, ok)
		assert.Equal(t, 0, b.Active())

		reports := b.Reports()
		require.Len(t, reports, 2)
		assert.EqualError(t, reports[0].Err, "[resolution] shared value 2: argument 9 not found")
		assert.Equal(t, 1, reports[1].SourceID)
		assert.ErrorIs(t, reports[1].Err, ErrBinding)
	})
}

func TestBridgeRun(t *testing.T) {
	t.Run("renders triggers from other goroutines", func(t *testing.T) {
		b := New(WithFrameInterval(time.Millisecond))
		v := NewMutable(b, 1, 0)
		s := b.NewStarter(2, mustCompile(t, "inc", `function (v) { v.set(v.get() + 1) }`), 1)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- b.Run(ctx) }()

		var wg sync.WaitGroup
		for range 10 {
			wg.Go(func() {
				_, ok := s.Trigger()
				assert.True(t, ok)
			})
		}
		wg.Wait()

		assert.Eventually(t, func() bool {
			return v.Get() == 10 && b.Active() == 0
		}, time.Second, time.Millisecond)

		cancel()
		assert.ErrorIs(t, <-done, context.Canceled)
	})
}

func TestOptions(t *testing.T) {
	t.Run("metrics", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		b := New(WithMetrics(reg))
		NewMutable(b, 1, 0)
		s := b.NewStarter(2, mustCompile(t, "noop", `function () {}`), 1, 3)

		s.Trigger()
		b.NewStarter(4, mustCompile(t, "noop", `function () {}`), 1).Trigger()
		b.Frame()

		count, err := testutil.GatherAndCount(reg,
			"worklet_appliers_registered_total",
			"worklet_errors_reported_total")
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})

	t.Run("logger", func(t *testing.T) {
		core, logs := observer.New(zap.DebugLevel)
		defer New(WithLogger(zap.NewNop()))

		b := New(WithLogger(zap.New(core)))
		NewMutable(b, 1, 0)
		b.NewStarter(2, mustCompile(t, "noop", `function () {}`), 9).Trigger()

		entries := logs.FilterMessage("shared value error").All()
		require.Len(t, entries, 1)
		assert.Equal(t, int64(2), entries[0].ContextMap()["source_id"])
	})
}
