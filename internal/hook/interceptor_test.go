package hook

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/decodeguard/pkg/domain"
)

type stubChannel struct {
	id domain.ConnectionID
}

func (c *stubChannel) ID() domain.ConnectionID      { return c.id }
func (c *stubChannel) Shutdown(reason string) error { return nil }

func newCountingEntry(result bool) (*EntryPoint, *atomic.Int64) {
	var calls atomic.Int64
	e := NewEntryPoint("netchan.ProcessMessages", DecodeSignature, func(ch domain.Channel, msg []byte) bool {
		calls.Add(1)
		return result
	})
	return e, &calls
}

func TestInstall_DoesNotRedirectUntilEnabled(t *testing.T) {
	entry, originalCalls := newCountingEntry(true)
	var detourCalls atomic.Int64

	h, err := Install(entry, func(ch domain.Channel, msg []byte) bool {
		detourCalls.Add(1)
		return false
	})
	require.NoError(t, err)
	assert.True(t, h.Installed())
	assert.False(t, h.Enabled())
	assert.True(t, entry.Hooked())

	assert.True(t, entry.Call(&stubChannel{id: "a"}, nil))
	assert.Equal(t, int64(1), originalCalls.Load())
	assert.Equal(t, int64(0), detourCalls.Load())
}

func TestEnable_RoutesThroughDetourWithTrampoline(t *testing.T) {
	entry, originalCalls := newCountingEntry(true)

	h := NewHandle()
	require.NoError(t, h.Install(entry, func(ch domain.Channel, msg []byte) bool {
		orig, ok := h.Original()
		if !ok {
			return false
		}
		return !orig(ch, msg)
	}))
	h.Enable()

	assert.True(t, h.Enabled())
	assert.False(t, entry.Call(&stubChannel{id: "a"}, []byte("x")), "detour inverts the original result")
	assert.Equal(t, int64(1), originalCalls.Load())
}

func TestDisable_RestoresDirectCalls(t *testing.T) {
	entry, originalCalls := newCountingEntry(true)
	var detourCalls atomic.Int64

	h, err := Install(entry, func(ch domain.Channel, msg []byte) bool {
		detourCalls.Add(1)
		return false
	})
	require.NoError(t, err)

	h.Enable()
	assert.False(t, entry.Call(nil, nil))
	h.Disable()
	assert.True(t, entry.Call(nil, nil))

	assert.Equal(t, int64(1), detourCalls.Load())
	assert.Equal(t, int64(1), originalCalls.Load())
	assert.True(t, h.Installed(), "disable keeps the hook installed")

	h.Enable()
	assert.False(t, entry.Call(nil, nil))
	assert.Equal(t, int64(2), detourCalls.Load())
}

func TestDestroy_RestoresOriginalAndInvalidatesTrampoline(t *testing.T) {
	entry, originalCalls := newCountingEntry(true)

	h, err := Install(entry, func(ch domain.Channel, msg []byte) bool { return false })
	require.NoError(t, err)
	h.Enable()

	h.Destroy()

	_, ok := h.Original()
	assert.False(t, ok)
	assert.False(t, h.Installed())
	assert.False(t, h.Enabled())
	assert.False(t, entry.Hooked())
	assert.True(t, entry.Call(nil, nil))
	assert.Equal(t, int64(1), originalCalls.Load())

	// Enable on a destroyed handle must not patch anything.
	h.Enable()
	assert.True(t, entry.Call(nil, nil))
}

func TestDestroy_Idempotent(t *testing.T) {
	var never *Handle
	assert.NotPanics(t, func() { never.Destroy() })

	h := NewHandle()
	assert.NotPanics(t, func() {
		h.Destroy()
		h.Destroy()
	})

	entry, _ := newCountingEntry(true)
	require.NoError(t, h.Install(entry, func(domain.Channel, []byte) bool { return false }))
	h.Destroy()
	assert.NotPanics(t, h.Destroy)
}

func TestInstall_Failures(t *testing.T) {
	detour := func(domain.Channel, []byte) bool { return false }

	t.Run("nil target", func(t *testing.T) {
		_, err := Install(nil, detour)
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrHookInstall))
	})

	t.Run("nil detour", func(t *testing.T) {
		entry, _ := newCountingEntry(true)
		_, err := Install(entry, nil)
		require.ErrorIs(t, err, domain.ErrHookInstall)
		assert.False(t, entry.Hooked())
	})

	t.Run("empty slot", func(t *testing.T) {
		entry := NewEntryPoint("empty", DecodeSignature, nil)
		_, err := Install(entry, detour)
		require.ErrorIs(t, err, domain.ErrHookInstall)
		assert.False(t, entry.Hooked())
	})

	t.Run("already hooked", func(t *testing.T) {
		entry, calls := newCountingEntry(true)
		first, err := Install(entry, detour)
		require.NoError(t, err)

		_, err = Install(entry, detour)
		var installErr *InstallError
		require.ErrorAs(t, err, &installErr)
		assert.Equal(t, "netchan.ProcessMessages", installErr.Symbol)

		// The failed attempt left the first installation untouched.
		first.Enable()
		assert.False(t, entry.Call(nil, nil))
		first.Disable()
		assert.True(t, entry.Call(nil, nil))
		assert.Equal(t, int64(1), calls.Load())
	})

	t.Run("handle reused", func(t *testing.T) {
		a, _ := newCountingEntry(true)
		b, _ := newCountingEntry(true)
		h, err := Install(a, detour)
		require.NoError(t, err)
		require.ErrorIs(t, h.Install(b, detour), domain.ErrHookInstall)
		assert.False(t, b.Hooked())
	})
}

func TestInstall_AfterDestroyReclaimsEntry(t *testing.T) {
	entry, _ := newCountingEntry(true)
	detour := func(domain.Channel, []byte) bool { return false }

	first, err := Install(entry, detour)
	require.NoError(t, err)
	first.Destroy()

	second, err := Install(entry, detour)
	require.NoError(t, err)
	second.Enable()
	assert.False(t, entry.Call(nil, nil))
	second.Destroy()
}

func TestDestroy_WaitsForInFlightCalls(t *testing.T) {
	entry, _ := newCountingEntry(true)

	entered := make(chan struct{})
	release := make(chan struct{})
	h := NewHandle()
	require.NoError(t, h.Install(entry, func(ch domain.Channel, msg []byte) bool {
		close(entered)
		<-release
		orig, ok := h.Original()
		assert.True(t, ok, "trampoline must stay valid for in-flight calls")
		return orig(ch, msg)
	}))
	h.Enable()

	callDone := make(chan bool, 1)
	go func() { callDone <- entry.Call(nil, nil) }()
	<-entered

	destroyed := make(chan struct{})
	go func() {
		h.Destroy()
		close(destroyed)
	}()

	select {
	case <-destroyed:
		t.Fatal("Destroy returned while a governed call was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	assert.True(t, <-callDone)
	<-destroyed
	assert.False(t, h.Installed())
}

func TestEnableDisable_RaceWithCalls(t *testing.T) {
	entry, _ := newCountingEntry(true)
	h, err := Install(entry, func(ch domain.Channel, msg []byte) bool { return true })
	require.NoError(t, err)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					assert.True(t, entry.Call(nil, nil))
				}
			}
		}()
	}

	for i := 0; i < 200; i++ {
		if i%2 == 0 {
			h.Enable()
		} else {
			h.Disable()
		}
	}
	close(stop)
	wg.Wait()
	h.Destroy()
	assert.False(t, entry.Hooked())
}
