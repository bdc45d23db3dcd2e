// Package metrics records build metrics.
//
// Components receive a Recorder. NoopRecorder is the default so callers never
// check for nil; PrometheusRecorder registers real collectors on a registry
// that can be served over HTTP while watching or written to a node_exporter
// textfile after a one-shot build.
package metrics
