package metrics

import (
	"testing"
	"time"
)

var _ Recorder = NoopRecorder{}
var _ Recorder = (*PrometheusRecorder)(nil)

func TestNoopRecorder(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.ObserveCompileDuration("pdflatex", time.Second)
	r.ObservePassDuration("compile", "pdflatex", time.Second)
	r.IncCompileOutcome("pdflatex", OutcomeTimedOut)
	r.IncBusyRejection()
	r.SetInFlight(0)
}
