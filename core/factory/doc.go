// Package factory builds the pluggable outputs of a pipeline run from
// configuration. Metrics sinks (prometheus, influx) and stage notifiers
// (mqtt, redis) each keep a Registry, and adapters register into it from
// init. The `sinks` lists of the metrics and notify config sections decode
// into ModuleConfig values, which CreateAll turns into live modules; a
// failing entry releases the ones already built.
//
//	n, err := registry.CreateAll([]factory.ModuleConfig{
//	    {Type: "mqtt", Conf: map[string]any{"broker": "tcp://localhost:1883"}},
//	    {Type: "redis", Conf: map[string]any{"url": "redis://localhost:6379/0"}},
//	}, func(n notify.Notifier) { _ = n.Close() })
package factory
