// Package metrics provides compile observability hooks.
//
// Components receive a Recorder through dependency injection and default to
// NoopRecorder, so metrics collection needs no nil checks:
//
//	coord := compile.NewCoordinator(store, registry, opts) // NoopRecorder
//	coord.WithRecorder(metrics.NewPrometheusRecorder(reg))
//
// The Prometheus implementation is activated by the metrics.enabled
// configuration key; HTTPHandler exposes the registry for scraping.
package metrics
