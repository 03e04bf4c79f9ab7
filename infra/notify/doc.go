// Package notify provides MQTT and Redis publishers for stage summaries and
// registers them with the core notifier factory as "mqtt" and "redis".
package notify
