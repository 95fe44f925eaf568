package hook

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/polisai/decodeguard/pkg/domain"
)

const (
	// DecodeSymbol is the name hosts export their message decode entry point under.
	DecodeSymbol = "netchan.ProcessMessages"
	// DecodeSignature is the calling convention every decode entry point exports.
	DecodeSignature = "func(domain.Channel, []byte) bool"
)

// Symbol is the symbolic description of a function to intercept.
type Symbol struct {
	Name      string
	Signature string
}

// EntryPoint is a patchable function slot exported by the host. The host calls
// through Call; a Handle may swap the implementation behind it at any time.
type EntryPoint struct {
	name      string
	signature string
	impl      atomic.Pointer[domain.DecodeFunc]
	owner     atomic.Pointer[Handle]
}

// NewEntryPoint creates an entry point that initially runs fn.
func NewEntryPoint(name, signature string, fn domain.DecodeFunc) *EntryPoint {
	e := &EntryPoint{name: name, signature: signature}
	if fn != nil {
		e.impl.Store(&fn)
	}
	return e
}

// Name returns the exported symbol name.
func (e *EntryPoint) Name() string { return e.name }

// Signature returns the exported calling convention.
func (e *EntryPoint) Signature() string { return e.signature }

// Hooked reports whether a handle currently owns the entry point.
func (e *EntryPoint) Hooked() bool { return e.owner.Load() != nil }

// Call invokes whatever implementation currently occupies the slot. An empty
// slot reports failure.
func (e *EntryPoint) Call(ch domain.Channel, msg []byte) bool {
	fn := e.impl.Load()
	if fn == nil {
		return false
	}
	return (*fn)(ch, msg)
}

// Resolver resolves exported symbol names to entry points.
type Resolver interface {
	Lookup(name string) (*EntryPoint, bool)
}

// SymbolTable is the host's registry of exported entry points.
type SymbolTable struct {
	mu      sync.RWMutex
	entries map[string]*EntryPoint
}

// NewSymbolTable creates an empty symbol table.
func NewSymbolTable() *SymbolTable {
	return &SymbolTable{entries: make(map[string]*EntryPoint)}
}

// Register exports an entry point under its name.
func (t *SymbolTable) Register(e *EntryPoint) error {
	if e == nil || e.name == "" {
		return fmt.Errorf("entry point must have a name")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[e.name]; exists {
		return fmt.Errorf("symbol %q already registered", e.name)
	}
	t.entries[e.name] = e
	return nil
}

// Lookup implements Resolver.
func (t *SymbolTable) Lookup(name string) (*EntryPoint, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[name]
	return e, ok
}
