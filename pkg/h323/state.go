package h323

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"
)

// ConnectionState этап установления соединения. Меняется только вперед,
// в ShuttingDownConnection можно перейти из любого состояния.
type ConnectionState int

const (
	NoConnection ConnectionState = iota
	AwaitingGatekeeperAdmission
	AwaitingTransportConnect
	AwaitingSignalConnect
	AwaitingLocalAnswer
	HasExecutedSignalConnect
	EstablishedConnection
	ShuttingDownConnection
)

var connectionStateNames = [...]string{
	"NoConnection", "AwaitingGatekeeperAdmission", "AwaitingTransportConnect",
	"AwaitingSignalConnect", "AwaitingLocalAnswer", "HasExecutedSignalConnect",
	"EstablishedConnection", "ShuttingDownConnection",
}

func (s ConnectionState) String() string {
	if s >= 0 && int(s) < len(connectionStateNames) {
		return connectionStateNames[s]
	}
	return fmt.Sprintf("ConnectionState(%d)", int(s))
}

// Phase фаза вызова
type Phase string

const (
	PhaseSetUp       Phase = "setup"
	PhaseProceeding  Phase = "proceeding"
	PhaseAlerting    Phase = "alerting"
	PhaseConnected   Phase = "connected"
	PhaseEstablished Phase = "established"
	PhaseReleasing   Phase = "releasing"
	PhaseReleased    Phase = "released"
)

func (p Phase) String() string {
	return string(p)
}

// события автомата фаз
const (
	evProceed   = "proceed"
	evAlert     = "alert"
	evConnect   = "connect"
	evEstablish = "establish"
	evRelease   = "release"
	evReleased  = "released"
)

// newPhaseMachine создает автомат фаз вызова. onChange вызывается после
// каждого перехода.
func newPhaseMachine(onChange func(from, to Phase)) *fsm.FSM {
	active := []string{
		string(PhaseSetUp), string(PhaseProceeding), string(PhaseAlerting),
		string(PhaseConnected), string(PhaseEstablished),
	}
	return fsm.NewFSM(
		string(PhaseSetUp),
		fsm.Events{
			{Name: evProceed, Src: []string{string(PhaseSetUp)}, Dst: string(PhaseProceeding)},
			{Name: evAlert, Src: []string{string(PhaseSetUp), string(PhaseProceeding)}, Dst: string(PhaseAlerting)},
			{Name: evConnect, Src: []string{string(PhaseSetUp), string(PhaseProceeding), string(PhaseAlerting)}, Dst: string(PhaseConnected)},
			{Name: evEstablish, Src: []string{string(PhaseConnected)}, Dst: string(PhaseEstablished)},
			// фаза ошибки достижима из любого активного состояния
			{Name: evRelease, Src: active, Dst: string(PhaseReleasing)},
			{Name: evReleased, Src: append(active, string(PhaseReleasing)), Dst: string(PhaseReleased)},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				if onChange != nil {
					onChange(Phase(e.Src), Phase(e.Dst))
				}
			},
		},
	)
}

// FastStartState состояние процедуры быстрого соединения
type FastStartState int

const (
	FastStartDisabled FastStartState = iota
	FastStartInitiate
	FastStartResponse
	FastStartAcknowledged
)

func (s FastStartState) String() string {
	switch s {
	case FastStartDisabled:
		return "disabled"
	case FastStartInitiate:
		return "initiate"
	case FastStartResponse:
		return "response"
	case FastStartAcknowledged:
		return "acknowledged"
	}
	return fmt.Sprintf("FastStartState(%d)", int(s))
}
