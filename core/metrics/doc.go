// Package metrics defines the sinks that receive pipeline observations:
// stage summaries, per-station forecasts and the emitted job set. Sinks are
// created from configuration through a factory registry; several configured
// sinks are combined into a MultiSink.
package metrics
