// Package q931 реализует конверт Q.931, используемый сигнализацией H.225.0,
// и кадрирование TPKT (RFC 1006) для передачи по TCP.
package q931

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// ProtocolDiscriminator дискриминатор протокола Q.931
const ProtocolDiscriminator = 0x08

var (
	// ErrMalformed сообщение не соответствует формату Q.931
	ErrMalformed = errors.New("q931: malformed message")
	// ErrNoUserUser в сообщении нет User-User IE
	ErrNoUserUser = errors.New("q931: no user-user information element")
)

// MessageType тип сообщения Q.931
type MessageType byte

const (
	MsgAlerting         MessageType = 0x01
	MsgCallProceeding   MessageType = 0x02
	MsgProgress         MessageType = 0x03
	MsgSetup            MessageType = 0x05
	MsgConnect          MessageType = 0x07
	MsgSetupAcknowledge MessageType = 0x0D
	MsgConnectAck       MessageType = 0x0F
	MsgReleaseComplete  MessageType = 0x5A
	MsgFacility         MessageType = 0x62
	MsgNotify           MessageType = 0x6E
	MsgStatusEnquiry    MessageType = 0x75
	MsgInformation      MessageType = 0x7B
	MsgStatus           MessageType = 0x7D
)

func (t MessageType) String() string {
	switch t {
	case MsgAlerting:
		return "Alerting"
	case MsgCallProceeding:
		return "CallProceeding"
	case MsgProgress:
		return "Progress"
	case MsgSetup:
		return "Setup"
	case MsgConnect:
		return "Connect"
	case MsgSetupAcknowledge:
		return "SetupAcknowledge"
	case MsgConnectAck:
		return "ConnectAck"
	case MsgReleaseComplete:
		return "ReleaseComplete"
	case MsgFacility:
		return "Facility"
	case MsgNotify:
		return "Notify"
	case MsgStatusEnquiry:
		return "StatusEnquiry"
	case MsgInformation:
		return "Information"
	case MsgStatus:
		return "Status"
	}
	return fmt.Sprintf("MessageType(0x%02x)", byte(t))
}

// IEType идентификатор информационного элемента
type IEType byte

const (
	IEBearerCapability   IEType = 0x04
	IECause              IEType = 0x08
	IECallState          IEType = 0x14
	IEProgressIndicator  IEType = 0x1E
	IENotificationInd    IEType = 0x27
	IEDisplay            IEType = 0x28
	IEKeypad             IEType = 0x2C
	IESignal             IEType = 0x34
	IECallingPartyNumber IEType = 0x6C
	IECalledPartyNumber  IEType = 0x70
	IEUserUser           IEType = 0x7E
)

// IE информационный элемент
type IE struct {
	Type IEType
	Data []byte
}

// Message сообщение Q.931
type Message struct {
	CallReference uint16
	// FromDestination флаг call reference: сообщение отправлено стороной,
	// которой был назначен call reference
	FromDestination bool
	Type            MessageType
	IEs             []IE
}

// NewMessage создает сообщение указанного типа
func NewMessage(t MessageType, callRef uint16, fromDestination bool) *Message {
	return &Message{Type: t, CallReference: callRef, FromDestination: fromDestination}
}

// IE возвращает содержимое информационного элемента
func (m *Message) IE(t IEType) ([]byte, bool) {
	for _, ie := range m.IEs {
		if ie.Type == t {
			return ie.Data, true
		}
	}
	return nil, false
}

// HasIE проверяет наличие элемента
func (m *Message) HasIE(t IEType) bool {
	_, ok := m.IE(t)
	return ok
}

// SetIE добавляет или заменяет информационный элемент.
// Порядок элементов поддерживается по возрастанию идентификатора.
func (m *Message) SetIE(t IEType, data []byte) {
	for i := range m.IEs {
		if m.IEs[i].Type == t {
			m.IEs[i].Data = data
			return
		}
	}
	pos := len(m.IEs)
	for i, ie := range m.IEs {
		if ie.Type > t {
			pos = i
			break
		}
	}
	m.IEs = append(m.IEs, IE{})
	copy(m.IEs[pos+1:], m.IEs[pos:])
	m.IEs[pos] = IE{Type: t, Data: data}
}

// RemoveIE удаляет элемент
func (m *Message) RemoveIE(t IEType) {
	for i, ie := range m.IEs {
		if ie.Type == t {
			m.IEs = append(m.IEs[:i], m.IEs[i+1:]...)
			return
		}
	}
}

// Marshal кодирует сообщение в октеты
func (m *Message) Marshal() ([]byte, error) {
	b := make([]byte, 0, 64)
	ref := m.CallReference & 0x7fff
	if m.FromDestination {
		ref |= 0x8000
	}
	b = append(b, ProtocolDiscriminator, 2, byte(ref>>8), byte(ref), byte(m.Type))

	for _, ie := range m.IEs {
		switch {
		case ie.Type&0x80 != 0:
			b = append(b, byte(ie.Type))
		case ie.Type == IEUserUser:
			if len(ie.Data) > 0xffff {
				return nil, errors.Wrapf(ErrMalformed, "user-user length %d", len(ie.Data))
			}
			b = append(b, byte(ie.Type), byte(len(ie.Data)>>8), byte(len(ie.Data)))
			b = append(b, ie.Data...)
		default:
			if len(ie.Data) > 0xff {
				return nil, errors.Wrapf(ErrMalformed, "ie 0x%02x length %d", byte(ie.Type), len(ie.Data))
			}
			b = append(b, byte(ie.Type), byte(len(ie.Data)))
			b = append(b, ie.Data...)
		}
	}
	return b, nil
}

// Unmarshal разбирает сообщение Q.931
func Unmarshal(b []byte) (*Message, error) {
	if len(b) < 3 || b[0] != ProtocolDiscriminator {
		return nil, errors.Wrap(ErrMalformed, "protocol discriminator")
	}
	refLen := int(b[1] & 0x0f)
	if refLen > 2 || len(b) < 3+refLen {
		return nil, errors.Wrap(ErrMalformed, "call reference")
	}
	m := &Message{}
	var ref uint16
	for i := 0; i < refLen; i++ {
		ref = ref<<8 | uint16(b[2+i])
	}
	if refLen > 0 {
		flag := uint16(0x80) << (8 * uint(refLen-1))
		m.FromDestination = ref&flag != 0
		m.CallReference = ref &^ flag
	}
	pos := 2 + refLen
	m.Type = MessageType(b[pos])
	pos++

	for pos < len(b) {
		t := IEType(b[pos])
		pos++
		if t&0x80 != 0 {
			m.IEs = append(m.IEs, IE{Type: t})
			continue
		}
		var n int
		if t == IEUserUser {
			if pos+2 > len(b) {
				return nil, errors.Wrap(ErrMalformed, "user-user length")
			}
			n = int(binary.BigEndian.Uint16(b[pos:]))
			pos += 2
		} else {
			if pos >= len(b) {
				return nil, errors.Wrapf(ErrMalformed, "ie 0x%02x length", byte(t))
			}
			n = int(b[pos])
			pos++
		}
		if pos+n > len(b) {
			return nil, errors.Wrapf(ErrMalformed, "ie 0x%02x truncated", byte(t))
		}
		data := make([]byte, n)
		copy(data, b[pos:pos+n])
		m.IEs = append(m.IEs, IE{Type: t, Data: data})
		pos += n
	}
	return m, nil
}
