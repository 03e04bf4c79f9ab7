// Package rebalance proposes bike moves from stations forecast above their
// target level to nearby stations forecast below it.
//
// Matching is greedy and deterministic: sources are visited by urgency and
// surplus, and each source fills the closest urgent sinks first. Remaining
// surplus and deficit are tracked for the whole run, so a sink filled by one
// source is not offered to the next.
package rebalance
