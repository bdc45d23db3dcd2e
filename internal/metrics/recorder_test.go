package metrics

import (
	"testing"
	"time"
)

func TestNoopRecorderSatisfiesInterface(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.ObserveStageDuration("scan", time.Millisecond)
	r.ObserveBuildDuration(time.Second)
	r.ObserveIteration(1, 3, 0, time.Millisecond)
	r.IncBuildOutcome(OutcomeSuccess)
	r.IncDiagnostic("warning")
	r.AddCache(CacheCounts{Hits: 1})
	r.AddDerivatives(2)
	r.SetGraphNodes("File", 4)
	r.SetOutputFiles("page", 1)
}
