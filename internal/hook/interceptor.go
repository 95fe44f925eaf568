package hook

import (
	"sync"
	"sync/atomic"

	"github.com/polisai/decodeguard/pkg/domain"
)

// Handle owns one installed redirection: the detour, the trampoline to the
// original implementation, and the enabled flag.
//
// Install and Destroy take the write lock. Every call dispatched through the
// detour holds the read lock for its whole duration, so Destroy waits for
// in-flight governed calls and the trampoline is never observed half torn down.
//
// Re-entrant decode is not supported: an original implementation must not call
// back into the same entry point. A nested call would take the read lock again
// and deadlock behind a Destroy waiting for the write lock.
type Handle struct {
	mu       sync.RWMutex
	toggleMu sync.Mutex

	target   *EntryPoint
	detour   domain.DecodeFunc
	dispatch *domain.DecodeFunc
	restore  *domain.DecodeFunc

	original  atomic.Pointer[domain.DecodeFunc]
	installed atomic.Bool
	enabled   atomic.Bool
}

// NewHandle returns an uninstalled handle. Its trampoline is unavailable until
// Install succeeds.
func NewHandle() *Handle {
	return &Handle{}
}

// Install claims target and prepares a redirection to detour in one step.
func Install(target *EntryPoint, detour domain.DecodeFunc) (*Handle, error) {
	h := NewHandle()
	if err := h.Install(target, detour); err != nil {
		return nil, err
	}
	return h, nil
}

// Install claims exclusive ownership of target and captures its current
// implementation as the trampoline. The redirection stays inactive until
// Enable. On failure the entry point is not modified.
func (h *Handle) Install(target *EntryPoint, detour domain.DecodeFunc) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if target == nil {
		return &InstallError{Reason: "nil entry point"}
	}
	if h.installed.Load() {
		return &InstallError{Symbol: target.Name(), Reason: "handle already installed"}
	}
	if detour == nil {
		return &InstallError{Symbol: target.Name(), Reason: "nil detour"}
	}

	orig := target.impl.Load()
	if orig == nil {
		return &InstallError{Symbol: target.Name(), Reason: "entry point has no implementation"}
	}
	if !target.owner.CompareAndSwap(nil, h) {
		return &InstallError{Symbol: target.Name(), Reason: "entry point already hooked"}
	}

	dispatch := domain.DecodeFunc(func(ch domain.Channel, msg []byte) bool {
		return h.invoke(target, ch, msg)
	})

	h.target = target
	h.detour = detour
	h.dispatch = &dispatch
	h.restore = orig
	h.original.Store(orig)
	h.installed.Store(true)
	return nil
}

// Enable routes subsequent calls on the entry point through the detour.
func (h *Handle) Enable() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.installed.Load() {
		return
	}

	h.toggleMu.Lock()
	defer h.toggleMu.Unlock()
	h.target.impl.Store(h.dispatch)
	h.enabled.Store(true)
}

// Disable puts the original implementation back in the slot so subsequent
// calls bypass governance entirely. The handle stays installed.
func (h *Handle) Disable() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.installed.Load() {
		return
	}

	h.toggleMu.Lock()
	defer h.toggleMu.Unlock()
	h.target.impl.Store(h.restore)
	h.enabled.Store(false)
}

// Destroy restores the original implementation, releases the entry point and
// invalidates the trampoline. Calling it on an uninstalled handle is a no-op.
func (h *Handle) Destroy() {
	if h == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.installed.Load() {
		return
	}

	h.target.impl.Store(h.restore)
	h.target.owner.CompareAndSwap(h, nil)
	h.original.Store(nil)
	h.enabled.Store(false)
	h.installed.Store(false)

	h.target = nil
	h.detour = nil
	h.dispatch = nil
	h.restore = nil
}

// Original returns the trampoline to the intercepted implementation.
// It reports false before Install and after Destroy.
func (h *Handle) Original() (domain.DecodeFunc, bool) {
	if h == nil {
		return nil, false
	}
	fn := h.original.Load()
	if fn == nil {
		return nil, false
	}
	return *fn, true
}

// Installed reports whether the handle currently owns an entry point.
func (h *Handle) Installed() bool {
	return h != nil && h.installed.Load()
}

// Enabled reports whether calls are currently routed through the detour.
func (h *Handle) Enabled() bool {
	return h != nil && h.enabled.Load()
}

// invoke is what the entry point's slot runs while the handle is enabled.
func (h *Handle) invoke(target *EntryPoint, ch domain.Channel, msg []byte) bool {
	h.mu.RLock()
	if !h.installed.Load() {
		h.mu.RUnlock()
		// The caller loaded the slot before Destroy restored it.
		return target.Call(ch, msg)
	}
	defer h.mu.RUnlock()
	return h.detour(ch, msg)
}
