package gatekeeper

import (
	"fmt"

	"github.com/arzzra/h323/pkg/h225"
)

// EventType тип события гейткипера
type EventType int

const (
	EventRegistered EventType = iota
	EventUnregistered
	EventExpired
	EventAdmitted
	EventRejected
	EventDisengaged
)

func (t EventType) String() string {
	switch t {
	case EventRegistered:
		return "registered"
	case EventUnregistered:
		return "unregistered"
	case EventExpired:
		return "expired"
	case EventAdmitted:
		return "admitted"
	case EventRejected:
		return "rejected"
	case EventDisengaged:
		return "disengaged"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Event уведомление о регистрации или допуске
type Event struct {
	Type       EventType
	EndpointID string
	Aliases    []h225.AliasAddress
	CallID     h225.GUID
	Bandwidth  uint32
	// Request тип отклоненного запроса для EventRejected
	Request string
	Reason  string
}

// emit вызывает обработчик синхронно, вне блокировок реестров
func (s *Server) emit(ev Event) {
	if s.cfg.EventHandler != nil {
		s.cfg.EventHandler(ev)
	}
}
