package domain

// ConnectionID is an opaque, comparable handle that distinguishes one peer's
// channel from another for accounting purposes. The zero value means "no identity".
type ConnectionID string

// IsZero reports whether the identity is absent.
func (id ConnectionID) IsZero() bool {
	return id == ""
}

// String implements fmt.Stringer.
func (id ConnectionID) String() string {
	return string(id)
}

// Channel is the host's connection object as seen by the governor.
type Channel interface {
	// ID returns the stable identity of the channel.
	ID() ConnectionID
	// Shutdown disconnects the peer with a human-readable reason.
	// It is called from the goroutine that delivered the message.
	Shutdown(reason string) error
}

// DecodeFunc is the host call contract of the intercepted decode function:
// it processes one inbound message buffer for a channel and reports whether
// processing succeeded.
type DecodeFunc func(ch Channel, msg []byte) bool

// Decision is the outcome of a governed decode call.
type Decision string

const (
	// DecisionPass means the original result was returned unchanged.
	DecisionPass Decision = "pass"
	// DecisionBlocked means the connection crossed the processing budget and was terminated.
	DecisionBlocked Decision = "blocked"
	// DecisionFailClosed means the call was refused because identity or trampoline was unavailable.
	DecisionFailClosed Decision = "fail_closed"
)
