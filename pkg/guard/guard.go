package guard

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/polisai/decodeguard/internal/governance"
	"github.com/polisai/decodeguard/internal/hook"
)

// ErrAlreadyInitialized is returned by Initialize on an active subsystem.
var ErrAlreadyInitialized = errors.New("decode guard already initialized")

// Host is what the governor needs from the process it protects: a way to
// resolve the decode entry point and a channel for reporting fatal
// initialization errors.
type Host interface {
	hook.Resolver
	ReportError(err error)
}

// Options configure a Subsystem. The zero value governs hook.DecodeSignature
// functions named DefaultSymbol, starting enabled.
type Options struct {
	Symbol   string
	Disabled bool
	Clock    clock.Clock
	Logger   *slog.Logger
	Metrics  *governance.Metrics
}

// DefaultSymbol is the decode entry point governed when Options.Symbol is empty.
const DefaultSymbol = hook.DecodeSymbol

// Status describes the subsystem for operators.
type Status struct {
	Initialized bool                     `json:"initialized"`
	Enabled     bool                     `json:"enabled"`
	Symbol      string                   `json:"symbol"`
	Governor    governance.GovernorStats `json:"governor"`
}

// Subsystem owns the interception handle and the governor for one host.
type Subsystem struct {
	mu       sync.Mutex
	symbol   hook.Symbol
	enabled  bool
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *governance.Metrics
	handle   *hook.Handle
	governor *governance.Governor
}

// New creates an inert subsystem.
func New(opts Options) *Subsystem {
	if opts.Symbol == "" {
		opts.Symbol = DefaultSymbol
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Subsystem{
		symbol:  hook.Symbol{Name: opts.Symbol, Signature: hook.DecodeSignature},
		enabled: !opts.Disabled,
		clock:   opts.Clock,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
}

// Initialize locates the decode entry point on host, installs the governor and
// enables it unless the subsystem was configured disabled. Errors are reported
// to the host and returned; on error nothing is installed.
func (s *Subsystem) Initialize(host Host) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle != nil {
		return ErrAlreadyInitialized
	}

	entry, err := hook.Locate(host, s.symbol)
	if err != nil {
		return s.fail(host, fmt.Errorf("failed to locate %s: %w", s.symbol.Name, err))
	}

	handle := hook.NewHandle()
	governor := governance.NewGovernor(governance.GovernorConfig{
		Trampoline: handle,
		Clock:      s.clock,
		Logger:     s.logger,
		Metrics:    s.metrics,
	})
	if err := handle.Install(entry, governor.Decode); err != nil {
		return s.fail(host, fmt.Errorf("failed to install hook on %s: %w", s.symbol.Name, err))
	}

	if s.enabled {
		handle.Enable()
	}
	s.handle = handle
	s.governor = governor
	s.metrics.SetHookEnabled(s.enabled)

	s.logger.Info("Decode guard initialized",
		"symbol", s.symbol.Name,
		"enabled", s.enabled,
		"window", governance.Window,
		"threshold_ms", governance.ThresholdMs)
	return nil
}

func (s *Subsystem) fail(host Host, err error) error {
	s.logger.Error("Decode guard initialization failed", "symbol", s.symbol.Name, "error", err)
	if host != nil {
		host.ReportError(err)
	}
	return err
}

// Deinitialize disables and destroys the interception, then clears every
// connection record. It is a no-op on an inert subsystem.
func (s *Subsystem) Deinitialize() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle == nil {
		return
	}

	// Destroy drains in-flight governed calls, so the table is quiescent
	// before it is cleared.
	s.handle.Disable()
	s.handle.Destroy()
	s.governor.Reset()

	s.handle = nil
	s.governor = nil
	s.metrics.SetHookEnabled(false)
	s.logger.Info("Decode guard deinitialized", "symbol", s.symbol.Name)
}

// SetEnabled routes decode calls through the governor or straight to the
// original implementation. The setting is remembered across Initialize.
func (s *Subsystem) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.enabled == enabled {
		return
	}
	s.enabled = enabled

	if s.handle == nil {
		return
	}
	if enabled {
		s.handle.Enable()
	} else {
		s.handle.Disable()
	}
	s.metrics.SetHookEnabled(enabled)
	s.logger.Info("Decode guard toggled", "symbol", s.symbol.Name, "enabled", enabled)
}

// Status reports the current state of the subsystem.
func (s *Subsystem) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Initialized: s.handle != nil,
		Enabled:     s.handle.Enabled(),
		Symbol:      s.symbol.Name,
	}
	if s.governor != nil {
		st.Governor = s.governor.Stats()
	}
	return st
}
