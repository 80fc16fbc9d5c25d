package h323

import (
	"fmt"

	"github.com/arzzra/h323/pkg/h225"
)

// EventType тип уведомления приложения
type EventType int

const (
	EventIncomingCall EventType = iota
	EventProceeding
	EventAlerting
	EventConnected
	EventEstablished
	EventCleared
	EventMediaStreamOpened
	EventMediaStreamClosed
	EventMediaStreamFailed
	EventHold
	EventRetrieve
	EventUserInput
	EventAdmission
	EventModeChanged
	EventCallForwarded
)

var eventNames = [...]string{
	"IncomingCall", "Proceeding", "Alerting", "Connected", "Established", "Cleared",
	"MediaStreamOpened", "MediaStreamClosed", "MediaStreamFailed", "Hold", "Retrieve",
	"UserInput", "Admission", "ModeChanged", "CallForwarded",
}

func (t EventType) String() string {
	if t >= 0 && int(t) < len(eventNames) {
		return eventNames[t]
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

// Event уведомление о событии вызова. Заполняются поля, относящиеся к типу.
type Event struct {
	Type       EventType
	Connection *Connection

	// Channel для событий медиа потоков
	Channel *LogicalChannel
	// Reason для EventCleared
	Reason CallEndReason
	// UserInput для EventUserInput
	UserInput string
	// ForwardAddress и ForwardAliases для EventCallForwarded
	ForwardAddress *h225.TransportAddress
	ForwardAliases []h225.AliasAddress
	// Err причина отказа (медиа поток, допуск гейткипера)
	Err error
}

// EventHandler получает уведомления в порядке их возникновения.
// Вызывается из отдельной горутины конечной точки, поэтому может
// обращаться к методам Connection.
type EventHandler func(ev Event)

// AnswerResponse решение приложения по входящему вызову
type AnswerResponse int

const (
	// AnswerNow ответить сразу
	AnswerNow AnswerResponse = iota
	// AnswerAlerting отправить ALERTING и ждать SetConnected
	AnswerAlerting
	// AnswerPending ждать SetAlerting/SetConnected без отправки ALERTING
	AnswerPending
	// AnswerDenied отклонить вызов
	AnswerDenied
)

// IncomingCall сведения о входящем вызове для принятия решения
type IncomingCall struct {
	CallID             h225.GUID
	SourceAliases      []h225.AliasAddress
	DestinationAliases []h225.AliasAddress
	CalledNumber       string
	CallingNumber      string
	DisplayName        string
	RemoteAddress      string
}

// AnswerFunc принимает решение по входящему вызову. Вызывается в цикле
// чтения сигнального канала до отправки ответа.
type AnswerFunc func(c *Connection, call IncomingCall) AnswerResponse
