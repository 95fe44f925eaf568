// Package hook locates the host's decode function and redirects calls to it.
//
// The host never calls its decode implementation directly. It registers the
// implementation as an EntryPoint in a SymbolTable and always calls through
// EntryPoint.Call. Installing a Handle on an entry point claims it exclusively and
// keeps the original implementation as a trampoline; enabling the handle atomically
// swaps the entry point's slot so every subsequent call is routed through the detour
// first. Disabling or destroying the handle puts the original back in the slot.
//
// Only this package depends on the concrete host calling convention (the
// DecodeSignature string). Everything above it sees a domain.DecodeFunc.
package hook
