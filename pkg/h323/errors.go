package h323

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrCallCleared операция над завершенным вызовом
	ErrCallCleared = errors.New("h323: call cleared")
	// ErrInvalidState операция недопустима в текущем состоянии
	ErrInvalidState = errors.New("h323: invalid connection state")
	// ErrNoControlChannel нет ни туннеля, ни отдельного канала H.245
	ErrNoControlChannel = errors.New("h323: no H.245 control channel")
	// ErrNoCapability подходящая возможность не найдена
	ErrNoCapability = errors.New("h323: no matching capability")
	// ErrBadDestination адрес назначения не распознан
	ErrBadDestination = errors.New("h323: bad destination")
	// ErrEndpointClosed конечная точка закрыта
	ErrEndpointClosed = errors.New("h323: endpoint closed")
)

// ProtocolError ошибка процедуры H.245 или сигнализации
type ProtocolError struct {
	Procedure string
	Cause     string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("h323: %s: %s", e.Procedure, e.Cause)
}

// ChannelError отказ в открытии логического канала
type ChannelError struct {
	Number uint16
	Cause  fmt.Stringer
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("h323: logical channel %d: %s", e.Number, e.Cause)
}
