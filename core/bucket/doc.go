// Package bucket maps timestamps onto the 15-minute weekly slots used to
// group historical demand. Day of week follows time.Weekday: 0 is Sunday and
// 6 is Saturday, which is also what PostgreSQL EXTRACT(dow) returns.
package bucket
