// Package telemetry wires OpenTelemetry for the decode governor.
//
// It sets up the process-wide trace provider and records governance outcomes
// (terminations and fail-closed rejections) as OpenTelemetry metrics and span
// events, so operators can correlate disconnects with the traffic that caused
// them.
package telemetry
