package metrics

import "github.com/wesleyorama2/storeload/internal/load"

// Recorder is a sink that also tracks the VU gauge and run phase.
// Engine and PrometheusSink both satisfy it.
type Recorder interface {
	load.Sink
	SetActiveVUs(count int)
	SetPhase(phase Phase)
}

// Fanout forwards every call to each of its recorders in order.
type Fanout []Recorder

// Record implements load.Sink.
func (f Fanout) Record(o load.RequestOutcome) {
	for _, r := range f {
		r.Record(o)
	}
}

// SetActiveVUs implements Recorder.
func (f Fanout) SetActiveVUs(count int) {
	for _, r := range f {
		r.SetActiveVUs(count)
	}
}

// SetPhase implements Recorder.
func (f Fanout) SetPhase(phase Phase) {
	for _, r := range f {
		r.SetPhase(phase)
	}
}

var (
	_ Recorder = (*Engine)(nil)
	_ Recorder = (*PrometheusSink)(nil)
	_ Recorder = Fanout(nil)
)
