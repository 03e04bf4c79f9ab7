// Package forecast predicts the bike count of every station one 15-minute
// slot ahead and classifies it as empty soon, full soon or balanced.
//
// The expected net flow comes from an ordered list of demand lookups; the
// first lookup with data wins, ending with a zero default for stations that
// have no history at all.
package forecast
