package metrics

import "time"

// Outcome labels the final status of a build.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeWarning  Outcome = "warning"
	OutcomeFailed   Outcome = "failed"
	OutcomeCanceled Outcome = "canceled"
)

// CacheCounts are the cache counters of one build.
type CacheCounts struct {
	Hits    int64
	Misses  int64
	Writes  int64
	Corrupt int64
}

// Recorder defines the build observability hooks.
type Recorder interface {
	ObserveStageDuration(stage string, d time.Duration)
	ObserveBuildDuration(d time.Duration)
	ObserveIteration(iteration, added, skipped int, d time.Duration)
	IncBuildOutcome(outcome Outcome)
	IncDiagnostic(severity string)
	AddCache(c CacheCounts)
	AddDerivatives(n int)
	SetGraphNodes(nodeType string, n int)
	SetOutputFiles(role string, n int)
}

// NoopRecorder is a Recorder that does nothing.
type NoopRecorder struct{}

func (NoopRecorder) ObserveStageDuration(string, time.Duration)    {}
func (NoopRecorder) ObserveBuildDuration(time.Duration)            {}
func (NoopRecorder) ObserveIteration(int, int, int, time.Duration) {}
func (NoopRecorder) IncBuildOutcome(Outcome)                       {}
func (NoopRecorder) IncDiagnostic(string)                          {}
func (NoopRecorder) AddCache(CacheCounts)                          {}
func (NoopRecorder) AddDerivatives(int)                            {}
func (NoopRecorder) SetGraphNodes(string, int)                     {}
func (NoopRecorder) SetOutputFiles(string, int)                    {}
