package hook

import "fmt"

// Locate resolves sym to the host's entry point. It only reads the resolver.
// A missing symbol or a different exported signature yields a *LocateError
// matching domain.ErrSymbolNotFound.
func Locate(r Resolver, sym Symbol) (*EntryPoint, error) {
	if r == nil {
		return nil, &LocateError{Symbol: sym.Name, Reason: "no symbol resolver"}
	}

	e, ok := r.Lookup(sym.Name)
	if !ok || e == nil {
		return nil, &LocateError{Symbol: sym.Name, Reason: "symbol not exported by host"}
	}

	if sym.Signature != "" && e.Signature() != sym.Signature {
		return nil, &LocateError{
			Symbol: sym.Name,
			Reason: fmt.Sprintf("signature mismatch: host exports %q, want %q", e.Signature(), sym.Signature),
		}
	}

	return e, nil
}
