package gkclient

import (
	"fmt"

	"github.com/arzzra/h323/pkg/ras"
	"github.com/pkg/errors"
)

var (
	// ErrTimeout гейткипер не ответил после всех повторов
	ErrTimeout = errors.New("gkclient: request timed out")
	// ErrNotRegistered операция требует регистрации
	ErrNotRegistered = errors.New("gkclient: not registered")
	// ErrClosed клиент закрыт
	ErrClosed = errors.New("gkclient: closed")
	// ErrUnexpectedReply ответ не соответствует запросу
	ErrUnexpectedReply = errors.New("gkclient: unexpected reply")
)

// RejectError гейткипер отклонил запрос
type RejectError struct {
	Request ras.MessageType
	Reply   ras.Message
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("gkclient: %s rejected with %s (%s)", e.Request, e.Reply.Type(), ras.RejectReason(e.Reply))
}

// AdmissionReason возвращает причину ARJ
func (e *RejectError) AdmissionReason() (ras.AdmissionRejectReason, bool) {
	if arj, ok := e.Reply.(*ras.ARJ); ok {
		return arj.Reason, true
	}
	return 0, false
}

// RegistrationReason возвращает причину RRJ
func (e *RejectError) RegistrationReason() (ras.RegistrationRejectReason, bool) {
	if rrj, ok := e.Reply.(*ras.RRJ); ok {
		return rrj.Reason, true
	}
	return 0, false
}

// IsRejected проверяет, что err отказ гейткипера на запрос типа t
func IsRejected(err error, t ras.MessageType) bool {
	var rej *RejectError
	return errors.As(err, &rej) && rej.Request == t
}
