// Package events defines the named-event sink the orchestrator core emits
// to. Pipeline/export to an audit store or metrics system is external (out
// of scope per spec §1); the core only needs somewhere to call Emit.
package events

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Names mirrors the event vocabulary in spec §6.
const (
	DeploymentStarted        = "deployment.started"
	DeploymentStageStarted   = "deployment.stage.%s.started"
	DeploymentStageSucceeded = "deployment.stage.%s.succeeded"
	DeploymentStageFailed    = "deployment.stage.%s.failed"
	RollbackStarted          = "deployment.rollback.started"
	RollbackCompleted        = "deployment.rollback.completed"
	DeploymentSucceeded      = "deployment.succeeded"
	DeploymentFailed         = "deployment.failed"
	DeploymentCancelled      = "deployment.cancelled"
	ApprovalRequested        = "approval.requested"
	ApprovalGranted          = "approval.granted"
	ApprovalRejected         = "approval.rejected"
	ApprovalExpired          = "approval.expired"
)

// Event is one named occurrence with a free-form attribute bag.
type Event struct {
	Name       string
	ExecutionID string
	OccurredAt time.Time
	Attributes map[string]interface{}
}

// Sink is the collaborator the core emits to. The HTTP/audit/metrics
// pipeline that actually persists or exports events is external; the core
// only depends on this narrow interface.
type Sink interface {
	Emit(Event)
}

// LoggingSink emits every event as a structured logrus line. It is the
// default sink used when no external sink is wired — useful for local runs
// and as the base case in tests.
type LoggingSink struct {
	logger logrus.FieldLogger
}

func NewLoggingSink(logger logrus.FieldLogger) *LoggingSink {
	return &LoggingSink{logger: logger}
}

func (s *LoggingSink) Emit(e Event) {
	fields := logrus.Fields{"event": e.Name, "execution_id": e.ExecutionID}
	for k, v := range e.Attributes {
		fields[k] = v
	}
	s.logger.WithFields(fields).Info("orchestrator event")
}

// MultiSink fans one Emit out to several sinks, e.g. logging + an
// external audit pipeline.
type MultiSink struct {
	sinks []Sink
}

func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Emit(e Event) {
	for _, s := range m.sinks {
		s.Emit(e)
	}
}

// RecordingSink collects events in memory; used by tests that assert on
// emitted event sequences without a real sink.
type RecordingSink struct {
	Events []Event
}

func NewRecordingSink() *RecordingSink {
	return &RecordingSink{}
}

func (r *RecordingSink) Emit(e Event) {
	r.Events = append(r.Events, e)
}

func (r *RecordingSink) Names() []string {
	names := make([]string, len(r.Events))
	for i, e := range r.Events {
		names[i] = e.Name
	}
	return names
}
