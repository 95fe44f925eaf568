package hook

import (
	"fmt"

	"github.com/polisai/decodeguard/pkg/domain"
)

// LocateError reports that a symbol could not be resolved in the host's code.
type LocateError struct {
	Symbol string
	Reason string
}

func (e *LocateError) Error() string {
	return fmt.Sprintf("locate %q: %s", e.Symbol, e.Reason)
}

func (e *LocateError) Is(target error) bool {
	return target == domain.ErrSymbolNotFound
}

// InstallError reports that a hook could not be installed. The entry point is
// left exactly as it was before the attempt.
type InstallError struct {
	Symbol string
	Reason string
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("install hook on %q: %s", e.Symbol, e.Reason)
}

func (e *InstallError) Is(target error) bool {
	return target == domain.ErrHookInstall
}
