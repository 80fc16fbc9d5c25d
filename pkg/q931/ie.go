package q931

import (
	"fmt"

	"github.com/pkg/errors"
)

// UserUser протокольный дискриминатор X.208/X.209 для H.225.0 UU-PDU
const userUserProtocolX208 = 0x05

// CauseValue значение причины Q.850
type CauseValue byte

const (
	CauseUnallocatedNumber       CauseValue = 1
	CauseNoRouteToDestination    CauseValue = 3
	CauseNormalCallClearing      CauseValue = 16
	CauseUserBusy                CauseValue = 17
	CauseNoResponse              CauseValue = 18
	CauseNoAnswer                CauseValue = 19
	CauseSubscriberAbsent        CauseValue = 20
	CauseCallRejected            CauseValue = 21
	CauseNumberChanged           CauseValue = 22
	CauseRedirection             CauseValue = 23
	CauseDestinationOutOfOrder   CauseValue = 27
	CauseInvalidNumberFormat     CauseValue = 28
	CauseFacilityRejected        CauseValue = 29
	CauseStatusEnquiryResponse   CauseValue = 30
	CauseNormalUnspecified       CauseValue = 31
	CauseNoCircuitAvailable      CauseValue = 34
	CauseNetworkOutOfOrder       CauseValue = 38
	CauseTemporaryFailure        CauseValue = 41
	CauseCongestion              CauseValue = 42
	CauseResourceUnavailable     CauseValue = 47
	CauseBearerNotAvailable      CauseValue = 58
	CauseInvalidCallReference    CauseValue = 81
	CauseIncompatibleDestination CauseValue = 88
	CauseMessageNotImplemented   CauseValue = 97
	CauseRecoveryOnTimerExpiry   CauseValue = 102
	CauseInterworking            CauseValue = 127
)

func (c CauseValue) String() string {
	return fmt.Sprintf("Q.850(%d)", byte(c))
}

// SetCause устанавливает Cause IE (кодирование ITU-T, местоположение "user")
func (m *Message) SetCause(c CauseValue) {
	m.SetIE(IECause, []byte{0x80, 0x80 | byte(c)})
}

// Cause возвращает значение причины
func (m *Message) Cause() (CauseValue, bool) {
	b, ok := m.IE(IECause)
	if !ok || len(b) < 2 {
		return 0, false
	}
	i := 1
	if b[0]&0x80 == 0 {
		// присутствует октет 3a (рекомендация)
		i = 2
	}
	if i >= len(b) {
		return 0, false
	}
	return CauseValue(b[i] & 0x7f), true
}

// Информационные возможности канала
var (
	BearerSpeech              = []byte{0x80, 0x90, 0xa3}
	BearerUnrestrictedDigital = []byte{0x88, 0x90}
)

// SetBearerCapability устанавливает Bearer Capability IE
func (m *Message) SetBearerCapability(b []byte) {
	m.SetIE(IEBearerCapability, b)
}

// SetDisplay устанавливает Display IE
func (m *Message) SetDisplay(s string) {
	if s == "" {
		m.RemoveIE(IEDisplay)
		return
	}
	if len(s) > 82 {
		s = s[:82]
	}
	m.SetIE(IEDisplay, []byte(s))
}

// Display возвращает содержимое Display IE
func (m *Message) Display() string {
	b, _ := m.IE(IEDisplay)
	return string(b)
}

// SetCalledPartyNumber устанавливает номер вызываемого абонента
// (тип номера unknown, план нумерации ISDN/E.164)
func (m *Message) SetCalledPartyNumber(digits string) {
	m.SetIE(IECalledPartyNumber, append([]byte{0x81}, digits...))
}

// CalledPartyNumber возвращает цифры номера вызываемого абонента
func (m *Message) CalledPartyNumber() (string, bool) {
	return partyDigits(m, IECalledPartyNumber)
}

// SetCallingPartyNumber устанавливает номер вызывающего абонента
// (presentation allowed, user provided)
func (m *Message) SetCallingPartyNumber(digits string) {
	m.SetIE(IECallingPartyNumber, append([]byte{0x01, 0x80}, digits...))
}

// CallingPartyNumber возвращает цифры номера вызывающего абонента
func (m *Message) CallingPartyNumber() (string, bool) {
	return partyDigits(m, IECallingPartyNumber)
}

func partyDigits(m *Message, t IEType) (string, bool) {
	b, ok := m.IE(t)
	if !ok || len(b) == 0 {
		return "", false
	}
	i := 1
	if b[0]&0x80 == 0 && len(b) > 1 {
		i = 2
	}
	return string(b[i:]), true
}

// ProgressDescription описание в Progress Indicator IE
type ProgressDescription byte

const (
	ProgressNotEndToEndISDN ProgressDescription = 1
	ProgressInbandAvailable ProgressDescription = 8
)

// SetProgressIndicator устанавливает Progress Indicator IE
func (m *Message) SetProgressIndicator(d ProgressDescription) {
	m.SetIE(IEProgressIndicator, []byte{0x80, 0x80 | byte(d)})
}

// ProgressIndicator возвращает описание прогресса
func (m *Message) ProgressIndicator() (ProgressDescription, bool) {
	b, ok := m.IE(IEProgressIndicator)
	if !ok || len(b) < 2 {
		return 0, false
	}
	return ProgressDescription(b[1] & 0x7f), true
}

// CallState значение Call State IE
type CallState byte

const (
	CallStateNull           CallState = 0
	CallStateCallInitiated  CallState = 1
	CallStateOverlapSending CallState = 2
	CallStateOutgoingProc   CallState = 3
	CallStateCallDelivered  CallState = 4
	CallStateCallPresent    CallState = 6
	CallStateCallReceived   CallState = 7
	CallStateConnectRequest CallState = 8
	CallStateIncomingProc   CallState = 9
	CallStateActive         CallState = 10
)

// SetCallState устанавливает Call State IE
func (m *Message) SetCallState(s CallState) {
	m.SetIE(IECallState, []byte{byte(s) & 0x3f})
}

// CallState возвращает значение Call State IE
func (m *Message) CallState() (CallState, bool) {
	b, ok := m.IE(IECallState)
	if !ok || len(b) == 0 {
		return 0, false
	}
	return CallState(b[0] & 0x3f), true
}

// SetUserUser помещает H323-UU-PDU в User-User IE
func (m *Message) SetUserUser(pdu []byte) {
	m.SetIE(IEUserUser, append([]byte{userUserProtocolX208}, pdu...))
}

// UserUser возвращает закодированный H323-UU-PDU из User-User IE
func (m *Message) UserUser() ([]byte, error) {
	b, ok := m.IE(IEUserUser)
	if !ok {
		return nil, ErrNoUserUser
	}
	if len(b) < 1 || b[0] != userUserProtocolX208 {
		return nil, errors.Wrap(ErrMalformed, "user-user protocol discriminator")
	}
	return b[1:], nil
}
