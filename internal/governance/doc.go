// Package governance meters the processor time a peer's traffic costs the host's
// decode path and disconnects peers that consume the whole budget.
//
// The Governor is installed as the detour of the decode entry point. It times
// every call to the original implementation, accumulates the cost per connection
// in a coarse one-second window, and once a connection's accumulated cost reaches
// one full second of decode work it discards the result, drops the connection's
// record and hands the channel to the Terminator. Well-behaved traffic sees the
// original result unchanged.
//
// The package keeps a Prometheus registry of its own so the admin server can
// expose decode and termination metrics without coupling to the host.
package governance
