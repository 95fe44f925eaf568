// Package domain defines the host contract shared by the decode governor.
//
// This package contains pure domain types with ZERO external dependencies outside the
// Go standard library. The host process implements Channel and exposes its decode
// function as a DecodeFunc; every other package (hook, governance, guard) depends on
// these types and never on a concrete host.
//
// The dependency direction is always:
//
//	Host / Infrastructure → Domain (CORRECT)
//	Domain → Host / Infrastructure (FORBIDDEN)
package domain
