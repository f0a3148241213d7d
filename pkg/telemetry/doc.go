// Package telemetry provides Prometheus metrics and OpenTelemetry spans for
// circuit controllers.
//
// Both are optional. A nil *Metrics or *Tracer records nothing, so callers
// never need to guard their use.
package telemetry
