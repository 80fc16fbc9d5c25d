package transport

import (
	"errors"
	"net"
)

var (
	// ErrTransportClosed операция над закрытым транспортом
	ErrTransportClosed = errors.New("transport closed")

	// ErrInvalidAddress некорректный адрес
	ErrInvalidAddress = errors.New("invalid address")

	// ErrMessageTooLarge сообщение превышает максимальный размер
	ErrMessageTooLarge = errors.New("message too large")

	// ErrAlreadyListening транспорт уже слушает
	ErrAlreadyListening = errors.New("already listening")
)

// TransportError ошибка транспорта
type TransportError struct {
	Transport string
	Operation string
	Err       error
	Temporary bool
}

func (e *TransportError) Error() string {
	return e.Transport + " " + e.Operation + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) IsTemporary() bool {
	return e.Temporary
}

// IsTimeout проверяет, является ли ошибка таймаутом чтения или записи
func IsTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

// IsClosed проверяет, что ошибка вызвана закрытием соединения
func IsClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, ErrTransportClosed)
}

func newError(transport, op string, err error) *TransportError {
	return &TransportError{
		Transport: transport,
		Operation: op,
		Err:       err,
		Temporary: IsTimeout(err),
	}
}
