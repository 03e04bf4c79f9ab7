// Package infra contains technical adapters such as the SQL stores, the
// MQTT and Redis notifiers and the metrics exporters. These packages
// depend only on the interfaces defined in the core packages.
package infra
