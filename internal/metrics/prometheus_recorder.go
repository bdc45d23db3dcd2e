package metrics

import (
	"strconv"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "sitegen"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	reg               *prom.Registry
	stageDuration     *prom.HistogramVec
	buildDuration     prom.Histogram
	iterationDuration *prom.HistogramVec
	iterationNodes    *prom.CounterVec
	buildOutcome      *prom.CounterVec
	diagnostics       *prom.CounterVec
	cache             *prom.CounterVec
	derivatives       prom.Counter
	graphNodes        *prom.GaugeVec
	outputFiles       *prom.GaugeVec
}

// NewPrometheusRecorder constructs the collectors and registers them on reg.
// A nil reg gets a fresh registry.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{reg: reg}
	pr.stageDuration = prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "stage_duration_seconds",
		Help:      "Duration of build stages",
		Buckets:   prom.DefBuckets,
	}, []string{"stage"})
	pr.buildDuration = prom.NewHistogram(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "build_duration_seconds",
		Help:      "Total build duration",
		Buckets:   prom.DefBuckets,
	})
	pr.iterationDuration = prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "chain_iteration_duration_seconds",
		Help:      "Duration of transform chain iterations",
		Buckets:   prom.DefBuckets,
	}, []string{"iteration"})
	pr.iterationNodes = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "chain_nodes_total",
		Help:      "Nodes added or skipped by the transform chain",
	}, []string{"result"})
	pr.buildOutcome = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "build_outcomes_total",
		Help:      "Build outcomes by final status",
	}, []string{"outcome"})
	pr.diagnostics = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "diagnostics_total",
		Help:      "Recorded build diagnostics by severity",
	}, []string{"severity"})
	pr.cache = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "cache_operations_total",
		Help:      "Build cache lookups and writes",
	}, []string{"op"})
	pr.derivatives = prom.NewCounter(prom.CounterOpts{
		Namespace: namespace,
		Name:      "image_derivatives_total",
		Help:      "Image derivatives present in the build graph",
	})
	pr.graphNodes = prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "graph_nodes",
		Help:      "Nodes in the graph of the last build by type",
	}, []string{"type"})
	pr.outputFiles = prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "output_files",
		Help:      "Files written by the last build by role",
	}, []string{"role"})
	reg.MustRegister(pr.stageDuration, pr.buildDuration, pr.iterationDuration, pr.iterationNodes,
		pr.buildOutcome, pr.diagnostics, pr.cache, pr.derivatives, pr.graphNodes, pr.outputFiles)
	return pr
}

// Registry returns the registry the collectors live on.
func (p *PrometheusRecorder) Registry() *prom.Registry { return p.reg }

func (p *PrometheusRecorder) ObserveStageDuration(stage string, d time.Duration) {
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveBuildDuration(d time.Duration) {
	p.buildDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveIteration(iteration, added, skipped int, d time.Duration) {
	p.iterationDuration.WithLabelValues(strconv.Itoa(iteration)).Observe(d.Seconds())
	p.iterationNodes.WithLabelValues("added").Add(float64(added))
	p.iterationNodes.WithLabelValues("skipped").Add(float64(skipped))
}

func (p *PrometheusRecorder) IncBuildOutcome(outcome Outcome) {
	p.buildOutcome.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) IncDiagnostic(severity string) {
	p.diagnostics.WithLabelValues(severity).Inc()
}

func (p *PrometheusRecorder) AddCache(c CacheCounts) {
	p.cache.WithLabelValues("hit").Add(float64(c.Hits))
	p.cache.WithLabelValues("miss").Add(float64(c.Misses))
	p.cache.WithLabelValues("write").Add(float64(c.Writes))
	p.cache.WithLabelValues("corrupt").Add(float64(c.Corrupt))
}

func (p *PrometheusRecorder) AddDerivatives(n int) {
	p.derivatives.Add(float64(n))
}

func (p *PrometheusRecorder) SetGraphNodes(nodeType string, n int) {
	p.graphNodes.WithLabelValues(nodeType).Set(float64(n))
}

func (p *PrometheusRecorder) SetOutputFiles(role string, n int) {
	p.outputFiles.WithLabelValues(role).Set(float64(n))
}

// WriteTextfile writes the current metrics in the text exposition format,
// atomically, for the node_exporter textfile collector.
func (p *PrometheusRecorder) WriteTextfile(path string) error {
	return prom.WriteToTextfile(path, p.reg)
}
