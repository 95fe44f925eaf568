// Package guard is the lifecycle entry point of the decode governor.
//
// A host embeds a Subsystem and calls Initialize once its decode entry point is
// registered. Initialize locates the entry point, installs the governor as its
// detour and enables it; any failure is reported to the host and leaves the
// host untouched. Deinitialize disables and destroys the interception before
// clearing accounting state, and is safe to call any number of times.
package guard
