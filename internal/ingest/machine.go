package ingest

import (
	"context"

	"github.com/looplab/fsm"
	"github.com/rs/zerolog"
)

// Job states.
const (
	StateStarted     = "started"
	StateCloning     = "cloning"
	StateEnumerating = "enumerating"
	StateProcessing  = "processing"
	StateFinalizing  = "finalizing"
	StateCompleted   = "completed"
	StateFailed      = "failed"
)

const (
	evClone     = "clone"
	evEnumerate = "enumerate"
	evProcess   = "process"
	evFinalize  = "finalize"
	evComplete  = "complete"
	evFail      = "fail"
)

// jobMachine tracks where a single job is in its lifecycle.
type jobMachine struct {
	fsm    *fsm.FSM
	logger zerolog.Logger
}

func newJobMachine(logger zerolog.Logger) *jobMachine {
	m := &jobMachine{logger: logger}
	m.fsm = fsm.NewFSM(
		StateStarted,
		fsm.Events{
			{Name: evClone, Src: []string{StateStarted}, Dst: StateCloning},
			{Name: evEnumerate, Src: []string{StateCloning}, Dst: StateEnumerating},
			{Name: evProcess, Src: []string{StateEnumerating}, Dst: StateProcessing},
			{Name: evFinalize, Src: []string{StateProcessing}, Dst: StateFinalizing},
			{Name: evComplete, Src: []string{StateFinalizing}, Dst: StateCompleted},
			{Name: evFail, Src: []string{StateStarted, StateCloning, StateEnumerating, StateProcessing, StateFinalizing}, Dst: StateFailed},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				m.logger.Debug().Str("from", e.Src).Str("to", e.Dst).Msg("job state")
			},
		},
	)
	return m
}

// fire moves the machine along. Transitions are driven only by Run, so a
// rejected event is a programming error and is logged rather than returned.
func (m *jobMachine) fire(event string) {
	if err := m.fsm.Event(context.Background(), event); err != nil {
		m.logger.Error().Err(err).Str("event", event).Str("state", m.fsm.Current()).Msg("invalid job transition")
	}
}

func (m *jobMachine) current() string { return m.fsm.Current() }
