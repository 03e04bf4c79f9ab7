// Package demand turns the historical trip log into per-station averages of
// arrivals, departures and net flow for every 15-minute weekly slot.
//
// The aggregation is a pure recomputation: feeding the same trips, in any
// order, yields the same rows.
package demand
