package metrics

import "time"

// OutcomeLabel enumerates final compile job states for counters.
type OutcomeLabel string

const (
	OutcomeSucceeded OutcomeLabel = "succeeded"
	OutcomeFailed    OutcomeLabel = "failed"
	OutcomeTimedOut  OutcomeLabel = "timed_out"
	OutcomeRejected  OutcomeLabel = "rejected"
)

// Recorder defines observability hooks for compile jobs and their passes.
type Recorder interface {
	ObserveCompileDuration(engine string, d time.Duration)
	ObservePassDuration(kind, tool string, d time.Duration)
	IncCompileOutcome(engine string, outcome OutcomeLabel)
	IncBusyRejection()
	SetInFlight(n int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveCompileDuration(string, time.Duration)      {}
func (NoopRecorder) ObservePassDuration(string, string, time.Duration) {}
func (NoopRecorder) IncCompileOutcome(string, OutcomeLabel)            {}
func (NoopRecorder) IncBusyRejection()                                 {}
func (NoopRecorder) SetInFlight(int)                                   {}
