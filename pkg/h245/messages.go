// Package h245 содержит сообщения управления H.245 (MultimediaSystemControlMessage),
// модель возможностей терминала и их PER-кодирование.
package h245

import (
	"fmt"
	"strings"

	"github.com/arzzra/h323/pkg/h225"
	"github.com/arzzra/h323/pkg/per"
	"github.com/pkg/errors"
)

// MaxDeterminationNumber верхняя граница statusDeterminationNumber (24 бита)
const MaxDeterminationNumber = 1<<24 - 1

var (
	// ErrUnknownMessage сообщение не поддерживается
	ErrUnknownMessage = errors.New("h245: unknown message")
)

// Category раздел MultimediaSystemControlMessage
type Category int

const (
	CatRequest Category = iota
	CatResponse
	CatCommand
	CatIndication
)

var categoryRoots = [...]int{11, 19, 7, 14}

func (c Category) String() string {
	switch c {
	case CatRequest:
		return "request"
	case CatResponse:
		return "response"
	case CatCommand:
		return "command"
	case CatIndication:
		return "indication"
	}
	return fmt.Sprintf("Category(%d)", int(c))
}

// Message сообщение H.245
type Message interface {
	Category() Category
	index() int
	walk(w *walker)
}

// MessageName возвращает имя типа сообщения для журналов
func MessageName(m Message) string {
	if u, ok := m.(*Unknown); ok {
		return fmt.Sprintf("Unknown(%s/%d)", u.Cat, u.Index)
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", m), "*h245.")
}

// Encode кодирует сообщение H.245
func Encode(m Message) ([]byte, error) {
	if _, ok := m.(*Unknown); ok {
		return nil, errors.Wrap(ErrUnknownMessage, "encode")
	}
	e := per.NewEncoder(64)
	cat := m.Category()
	if err := e.PutChoice(int(cat), len(categoryRoots), true); err != nil {
		return nil, err
	}
	root := categoryRoots[cat]
	idx := m.index()
	if err := e.PutChoice(idx, root, true); err != nil {
		return nil, err
	}
	var err error
	if idx < root {
		w := &walker{mode: walkEncode, e: e}
		m.walk(w)
		err = w.err
	} else {
		err = e.PutOpenType(func(in *per.Encoder) error {
			w := &walker{mode: walkEncode, e: in}
			m.walk(w)
			return w.err
		})
	}
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s", MessageName(m))
	}
	return e.Bytes(), nil
}

// Decode декодирует сообщение H.245. Неизвестные сообщения возвращаются
// как *Unknown без ошибки, чтобы на них можно было ответить FunctionNotUnderstood.
func Decode(b []byte) (Message, error) {
	d := per.NewDecoder(b)
	c, err := d.Choice(len(categoryRoots), true)
	if err != nil {
		return nil, errors.Wrap(err, "decode category")
	}
	if c >= len(categoryRoots) {
		return &Unknown{Cat: Category(c), Index: -1, Raw: b}, nil
	}
	cat := Category(c)
	root := categoryRoots[cat]
	idx, err := d.Choice(root, true)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s choice", cat)
	}
	m := newMessage(cat, idx)
	if m == nil {
		return &Unknown{Cat: cat, Index: idx, Raw: b}, nil
	}
	if idx < root {
		w := &walker{mode: walkDecode, d: d}
		m.walk(w)
		err = w.err
	} else {
		err = d.OpenType(func(in *per.Decoder) error {
			w := &walker{mode: walkDecode, d: in}
			m.walk(w)
			return w.err
		})
	}
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", MessageName(m))
	}
	return m, nil
}

func newMessage(cat Category, idx int) Message {
	switch cat {
	case CatRequest:
		switch idx {
		case idxMSD:
			return &MasterSlaveDetermination{}
		case idxTCS:
			return &TerminalCapabilitySet{}
		case idxOLC:
			return &OpenLogicalChannel{}
		case idxCLC:
			return &CloseLogicalChannel{}
		case idxRCC:
			return &RequestChannelClose{}
		case idxRequestMode:
			return &RequestMode{}
		case idxRTDRequest:
			return &RoundTripDelayRequest{}
		case idxGenericRequest:
			return &GenericMessage{Cat: CatRequest}
		}
	case CatResponse:
		switch idx {
		case idxMSDAck:
			return &MasterSlaveDeterminationAck{}
		case idxMSDReject:
			return &MasterSlaveDeterminationReject{}
		case idxTCSAck:
			return &TerminalCapabilitySetAck{}
		case idxTCSReject:
			return &TerminalCapabilitySetReject{}
		case idxOLCAck:
			return &OpenLogicalChannelAck{}
		case idxOLCReject:
			return &OpenLogicalChannelReject{}
		case idxCLCAck:
			return &CloseLogicalChannelAck{}
		case idxRCCAck:
			return &RequestChannelCloseAck{}
		case idxRCCReject:
			return &RequestChannelCloseReject{}
		case idxRequestModeAck:
			return &RequestModeAck{}
		case idxRequestModeReject:
			return &RequestModeReject{}
		case idxRTDResponse:
			return &RoundTripDelayResponse{}
		case idxGenericResponse:
			return &GenericMessage{Cat: CatResponse}
		}
	case CatCommand:
		switch idx {
		case idxSendTCS:
			return &SendTerminalCapabilitySet{}
		case idxFlowControl:
			return &FlowControlCommand{}
		case idxEndSession:
			return &EndSessionCommand{}
		case idxGenericCommand:
			return &GenericMessage{Cat: CatCommand}
		}
	case CatIndication:
		switch idx {
		case idxFNU:
			return &FunctionNotUnderstood{}
		case idxMSDRelease:
			return &MasterSlaveDeterminationRelease{}
		case idxTCSRelease:
			return &TerminalCapabilitySetRelease{}
		case idxOLCConfirm:
			return &OpenLogicalChannelConfirm{}
		case idxRCCRelease:
			return &RequestChannelCloseRelease{}
		case idxRequestModeRelease:
			return &RequestModeRelease{}
		case idxUserInput:
			return &UserInputIndication{}
		case idxGenericIndication:
			return &GenericMessage{Cat: CatIndication}
		}
	}
	return nil
}

// индексы в CHOICE соответствующих разделов
const (
	idxMSD            = 1
	idxTCS            = 2
	idxOLC            = 3
	idxCLC            = 4
	idxRCC            = 5
	idxRequestMode    = 8
	idxRTDRequest     = 9
	idxGenericRequest = 15

	idxMSDAck            = 1
	idxMSDReject         = 2
	idxTCSAck            = 3
	idxTCSReject         = 4
	idxOLCAck            = 5
	idxOLCReject         = 6
	idxCLCAck            = 7
	idxRCCAck            = 8
	idxRCCReject         = 9
	idxRequestModeAck    = 14
	idxRequestModeReject = 15
	idxRTDResponse       = 16
	idxGenericResponse   = 24

	idxSendTCS        = 2
	idxFlowControl    = 4
	idxEndSession     = 5
	idxGenericCommand = 12

	idxFNU                = 1
	idxMSDRelease         = 2
	idxTCSRelease         = 3
	idxOLCConfirm         = 4
	idxRCCRelease         = 5
	idxRequestModeRelease = 8
	idxUserInput          = 13
	idxGenericIndication  = 23
)

// Unknown нераспознанное сообщение
type Unknown struct {
	Cat   Category
	Index int
	Raw   []byte
}

func (m *Unknown) Category() Category { return m.Cat }
func (m *Unknown) index() int         { return m.Index }
func (m *Unknown) walk(w *walker)     { w.fail(ErrUnknownMessage) }

// MSDDecision решение процедуры определения ведущего
type MSDDecision int

const (
	DecisionMaster MSDDecision = iota
	DecisionSlave
)

func (d MSDDecision) String() string {
	if d == DecisionMaster {
		return "master"
	}
	return "slave"
}

// MasterSlaveDetermination запрос определения ведущего/ведомого
type MasterSlaveDetermination struct {
	TerminalType              uint8
	StatusDeterminationNumber uint32
}

func (*MasterSlaveDetermination) Category() Category { return CatRequest }
func (*MasterSlaveDetermination) index() int         { return idxMSD }
func (m *MasterSlaveDetermination) walk(w *walker) {
	w.sequence(func(w *walker) {
		w.u8(&m.TerminalType, 0, 255)
		w.u32(&m.StatusDeterminationNumber, 0, MaxDeterminationNumber)
	})
}

// MasterSlaveDeterminationAck подтверждение; Decision описывает роль получателя
type MasterSlaveDeterminationAck struct {
	Decision MSDDecision
}

func (*MasterSlaveDeterminationAck) Category() Category { return CatResponse }
func (*MasterSlaveDeterminationAck) index() int         { return idxMSDAck }
func (m *MasterSlaveDeterminationAck) walk(w *walker) {
	w.sequence(func(w *walker) { choice(w, &m.Decision, 2) })
}

// MSDRejectCause причина отказа в определении ведущего
type MSDRejectCause int

const MSDIdenticalNumbers MSDRejectCause = 0

// MasterSlaveDeterminationReject отказ
type MasterSlaveDeterminationReject struct {
	Cause MSDRejectCause
}

func (*MasterSlaveDeterminationReject) Category() Category { return CatResponse }
func (*MasterSlaveDeterminationReject) index() int         { return idxMSDReject }
func (m *MasterSlaveDeterminationReject) walk(w *walker) {
	w.sequence(func(w *walker) { choice(w, &m.Cause, 1) })
}

// MasterSlaveDeterminationRelease отмена процедуры по таймауту
type MasterSlaveDeterminationRelease struct{}

func (*MasterSlaveDeterminationRelease) Category() Category { return CatIndication }
func (*MasterSlaveDeterminationRelease) index() int         { return idxMSDRelease }
func (m *MasterSlaveDeterminationRelease) walk(w *walker)   { w.sequence(func(*walker) {}) }

// TerminalCapabilitySet набор возможностей терминала.
// Набор без записей означает удержание (hold).
type TerminalCapabilitySet struct {
	SequenceNumber uint8
	Entries        []TableEntry
	Descriptors    []Descriptor
}

// NewTerminalCapabilitySet создает TCS из таблицы возможностей
func NewTerminalCapabilitySet(seq uint8, t *CapabilityTable) *TerminalCapabilitySet {
	tcs := &TerminalCapabilitySet{SequenceNumber: seq}
	if t != nil {
		tcs.Entries = t.Entries()
		tcs.Descriptors = t.Descriptors()
	}
	return tcs
}

// IsEmpty пустой набор
func (m *TerminalCapabilitySet) IsEmpty() bool {
	return len(m.Entries) == 0
}

// Table строит таблицу возможностей из набора
func (m *TerminalCapabilitySet) Table() *CapabilityTable {
	t := NewCapabilityTable()
	for _, e := range m.Entries {
		t.Set(e.ID, e.Capability)
	}
	t.SetDescriptors(m.Descriptors)
	return t
}

func (*TerminalCapabilitySet) Category() Category { return CatRequest }
func (*TerminalCapabilitySet) index() int         { return idxTCS }
func (m *TerminalCapabilitySet) walk(w *walker) {
	w.sequence(func(w *walker) {
		w.u8(&m.SequenceNumber, 0, 255)
		if w.optional(len(m.Entries) > 0) {
			n := len(m.Entries)
			w.count(&n)
			if w.mode == walkDecode && w.err == nil {
				m.Entries = make([]TableEntry, n)
			}
			for i := 0; i < n && w.active(); i++ {
				e := &m.Entries[i]
				w.u16(&e.ID, 1, 65535)
				w.capability(&e.Capability)
			}
		}
		if w.optional(len(m.Descriptors) > 0) {
			n := len(m.Descriptors)
			w.count(&n)
			if w.mode == walkDecode && w.err == nil {
				m.Descriptors = make([]Descriptor, n)
			}
			for i := 0; i < n && w.active(); i++ {
				d := &m.Descriptors[i]
				w.u8(&d.Number, 0, 255)
				na := len(d.Alternatives)
				w.count(&na)
				if w.mode == walkDecode && w.err == nil {
					d.Alternatives = make([][]uint16, na)
				}
				for j := 0; j < na && w.active(); j++ {
					ni := len(d.Alternatives[j])
					w.count(&ni)
					if w.mode == walkDecode && w.err == nil {
						d.Alternatives[j] = make([]uint16, ni)
					}
					for k := 0; k < ni && w.active(); k++ {
						w.u16(&d.Alternatives[j][k], 1, 65535)
					}
				}
			}
		}
	})
}

// TerminalCapabilitySetAck подтверждение набора возможностей
type TerminalCapabilitySetAck struct {
	SequenceNumber uint8
}

func (*TerminalCapabilitySetAck) Category() Category { return CatResponse }
func (*TerminalCapabilitySetAck) index() int         { return idxTCSAck }
func (m *TerminalCapabilitySetAck) walk(w *walker) {
	w.sequence(func(w *walker) { w.u8(&m.SequenceNumber, 0, 255) })
}

// TCSRejectCause причина отказа в наборе возможностей
type TCSRejectCause int

const (
	TCSUnspecified TCSRejectCause = iota
	TCSUndefinedTableEntryUsed
	TCSDescriptorCapacityExceeded
	TCSTableEntryCapacityExceeded
)

// TerminalCapabilitySetReject отказ
type TerminalCapabilitySetReject struct {
	SequenceNumber uint8
	Cause          TCSRejectCause
}

func (*TerminalCapabilitySetReject) Category() Category { return CatResponse }
func (*TerminalCapabilitySetReject) index() int         { return idxTCSReject }
func (m *TerminalCapabilitySetReject) walk(w *walker) {
	w.sequence(func(w *walker) {
		w.u8(&m.SequenceNumber, 0, 255)
		choice(w, &m.Cause, 4)
	})
}

// TerminalCapabilitySetRelease отмена по таймауту
type TerminalCapabilitySetRelease struct{}

func (*TerminalCapabilitySetRelease) Category() Category { return CatIndication }
func (*TerminalCapabilitySetRelease) index() int         { return idxTCSRelease }
func (m *TerminalCapabilitySetRelease) walk(w *walker)   { w.sequence(func(*walker) {}) }

// OpenLogicalChannel запрос открытия логического канала.
// Для предложений fast start канал на прием предлагающей стороны задается
// ReverseDataType при пустом ForwardDataType.
type OpenLogicalChannel struct {
	ForwardLogicalChannelNumber uint16
	ForwardDataType             *Capability
	ReverseDataType             *Capability
	SessionID                   uint8
	MediaChannel                *h225.TransportAddress
	MediaControlChannel         *h225.TransportAddress
	DynamicRTPPayloadType       uint8
}

// IsReverse предложение канала, по которому предлагающая сторона будет принимать
func (m *OpenLogicalChannel) IsReverse() bool {
	return m.ForwardDataType == nil && m.ReverseDataType != nil
}

// DataType возвращает возможность канала
func (m *OpenLogicalChannel) DataType() (Capability, bool) {
	if m.ForwardDataType != nil {
		return *m.ForwardDataType, true
	}
	if m.ReverseDataType != nil {
		return *m.ReverseDataType, true
	}
	return Capability{}, false
}

func (*OpenLogicalChannel) Category() Category { return CatRequest }
func (*OpenLogicalChannel) index() int         { return idxOLC }
func (m *OpenLogicalChannel) walk(w *walker) {
	w.sequence(func(w *walker) {
		w.u16(&m.ForwardLogicalChannelNumber, 1, 65535)
		if w.optional(m.ForwardDataType != nil) {
			if w.mode == walkDecode {
				m.ForwardDataType = &Capability{}
			}
			w.capability(m.ForwardDataType)
		}
		if w.optional(m.ReverseDataType != nil) {
			if w.mode == walkDecode {
				m.ReverseDataType = &Capability{}
			}
			w.capability(m.ReverseDataType)
		}
		w.u8(&m.SessionID, 0, 255)
		w.optTransport(&m.MediaChannel)
		w.optTransport(&m.MediaControlChannel)
		if w.optional(m.DynamicRTPPayloadType != 0) {
			w.u8(&m.DynamicRTPPayloadType, 96, 127)
		}
	})
}

// OpenLogicalChannelAck подтверждение открытия канала
type OpenLogicalChannelAck struct {
	ForwardLogicalChannelNumber uint16
	SessionID                   uint8
	MediaChannel                *h225.TransportAddress
	MediaControlChannel         *h225.TransportAddress
}

func (*OpenLogicalChannelAck) Category() Category { return CatResponse }
func (*OpenLogicalChannelAck) index() int         { return idxOLCAck }
func (m *OpenLogicalChannelAck) walk(w *walker) {
	w.sequence(func(w *walker) {
		w.u16(&m.ForwardLogicalChannelNumber, 1, 65535)
		w.u8(&m.SessionID, 0, 255)
		w.optTransport(&m.MediaChannel)
		w.optTransport(&m.MediaControlChannel)
	})
}

// OLCRejectCause причина отказа в открытии канала
type OLCRejectCause int

const (
	OLCUnspecified OLCRejectCause = iota
	OLCUnsuitableReverseParameters
	OLCDataTypeNotSupported
	OLCDataTypeNotAvailable
	OLCUnknownDataType
	OLCDataTypeALCombinationNotSupported
	OLCMulticastChannelNotAllowed
	OLCInsufficientBandwidth
	OLCSeparateStackEstablishmentFailed
	OLCInvalidSessionID
	OLCMasterSlaveConflict
	OLCWaitForCommunicationMode
	OLCInvalidDependentChannel
	OLCReplacementForRejected
	OLCSecurityDenied
)

const olcRejectRoot = 6

func (c OLCRejectCause) String() string {
	names := []string{
		"unspecified", "unsuitableReverseParameters", "dataTypeNotSupported",
		"dataTypeNotAvailable", "unknownDataType", "dataTypeALCombinationNotSupported",
		"multicastChannelNotAllowed", "insufficientBandwidth",
		"separateStackEstablishmentFailed", "invalidSessionID", "masterSlaveConflict",
		"waitForCommunicationMode", "invalidDependentChannel", "replacementForRejected",
		"securityDenied",
	}
	if c >= 0 && int(c) < len(names) {
		return names[c]
	}
	return fmt.Sprintf("OLCRejectCause(%d)", int(c))
}

// OpenLogicalChannelReject отказ в открытии канала
type OpenLogicalChannelReject struct {
	ForwardLogicalChannelNumber uint16
	Cause                       OLCRejectCause
}

func (*OpenLogicalChannelReject) Category() Category { return CatResponse }
func (*OpenLogicalChannelReject) index() int         { return idxOLCReject }
func (m *OpenLogicalChannelReject) walk(w *walker) {
	w.sequence(func(w *walker) {
		w.u16(&m.ForwardLogicalChannelNumber, 1, 65535)
		choice(w, &m.Cause, olcRejectRoot)
	})
}

// OpenLogicalChannelConfirm подтверждение получения OLCAck (двунаправленные каналы)
type OpenLogicalChannelConfirm struct {
	ForwardLogicalChannelNumber uint16
}

func (*OpenLogicalChannelConfirm) Category() Category { return CatIndication }
func (*OpenLogicalChannelConfirm) index() int         { return idxOLCConfirm }
func (m *OpenLogicalChannelConfirm) walk(w *walker) {
	w.sequence(func(w *walker) { w.u16(&m.ForwardLogicalChannelNumber, 1, 65535) })
}

// CLCSource инициатор закрытия канала
type CLCSource int

const (
	CLCSourceUser CLCSource = iota
	CLCSourceLCSE
)

// CloseLogicalChannel закрытие канала
type CloseLogicalChannel struct {
	ForwardLogicalChannelNumber uint16
	Source                      CLCSource
}

func (*CloseLogicalChannel) Category() Category { return CatRequest }
func (*CloseLogicalChannel) index() int         { return idxCLC }
func (m *CloseLogicalChannel) walk(w *walker) {
	w.sequence(func(w *walker) {
		w.u16(&m.ForwardLogicalChannelNumber, 1, 65535)
		choice(w, &m.Source, 2)
	})
}

// CloseLogicalChannelAck подтверждение закрытия
type CloseLogicalChannelAck struct {
	ForwardLogicalChannelNumber uint16
}

func (*CloseLogicalChannelAck) Category() Category { return CatResponse }
func (*CloseLogicalChannelAck) index() int         { return idxCLCAck }
func (m *CloseLogicalChannelAck) walk(w *walker) {
	w.sequence(func(w *walker) { w.u16(&m.ForwardLogicalChannelNumber, 1, 65535) })
}

// RequestChannelClose просьба к передающей стороне закрыть канал
type RequestChannelClose struct {
	ForwardLogicalChannelNumber uint16
}

func (*RequestChannelClose) Category() Category { return CatRequest }
func (*RequestChannelClose) index() int         { return idxRCC }
func (m *RequestChannelClose) walk(w *walker) {
	w.sequence(func(w *walker) { w.u16(&m.ForwardLogicalChannelNumber, 1, 65535) })
}

// RequestChannelCloseAck подтверждение
type RequestChannelCloseAck struct {
	ForwardLogicalChannelNumber uint16
}

func (*RequestChannelCloseAck) Category() Category { return CatResponse }
func (*RequestChannelCloseAck) index() int         { return idxRCCAck }
func (m *RequestChannelCloseAck) walk(w *walker) {
	w.sequence(func(w *walker) { w.u16(&m.ForwardLogicalChannelNumber, 1, 65535) })
}

// RequestChannelCloseReject отказ
type RequestChannelCloseReject struct {
	ForwardLogicalChannelNumber uint16
}

func (*RequestChannelCloseReject) Category() Category { return CatResponse }
func (*RequestChannelCloseReject) index() int         { return idxRCCReject }
func (m *RequestChannelCloseReject) walk(w *walker) {
	w.sequence(func(w *walker) { w.u16(&m.ForwardLogicalChannelNumber, 1, 65535) })
}

// RequestChannelCloseRelease отмена по таймауту
type RequestChannelCloseRelease struct {
	ForwardLogicalChannelNumber uint16
}

func (*RequestChannelCloseRelease) Category() Category { return CatIndication }
func (*RequestChannelCloseRelease) index() int         { return idxRCCRelease }
func (m *RequestChannelCloseRelease) walk(w *walker) {
	w.sequence(func(w *walker) { w.u16(&m.ForwardLogicalChannelNumber, 1, 65535) })
}

// RequestMode запрос режима передачи. Modes упорядочены по предпочтению.
type RequestMode struct {
	SequenceNumber uint8
	Modes          []Capability
}

func (*RequestMode) Category() Category { return CatRequest }
func (*RequestMode) index() int         { return idxRequestMode }
func (m *RequestMode) walk(w *walker) {
	w.sequence(func(w *walker) {
		w.u8(&m.SequenceNumber, 0, 255)
		w.capabilityList(&m.Modes)
	})
}

// RequestModeResponse вариант принятия режима
type RequestModeResponse int

const (
	WillTransmitMostPreferredMode RequestModeResponse = iota
	WillTransmitLessPreferredMode
)

// RequestModeAck принятие режима
type RequestModeAck struct {
	SequenceNumber uint8
	Response       RequestModeResponse
}

func (*RequestModeAck) Category() Category { return CatResponse }
func (*RequestModeAck) index() int         { return idxRequestModeAck }
func (m *RequestModeAck) walk(w *walker) {
	w.sequence(func(w *walker) {
		w.u8(&m.SequenceNumber, 0, 255)
		choice(w, &m.Response, 2)
	})
}

// RequestModeRejectCause причина отказа в режиме
type RequestModeRejectCause int

const (
	ModeUnavailable RequestModeRejectCause = iota
	ModeMultipointConstraint
	ModeRequestDenied
)

// RequestModeReject отказ в режиме
type RequestModeReject struct {
	SequenceNumber uint8
	Cause          RequestModeRejectCause
}

func (*RequestModeReject) Category() Category { return CatResponse }
func (*RequestModeReject) index() int         { return idxRequestModeReject }
func (m *RequestModeReject) walk(w *walker) {
	w.sequence(func(w *walker) {
		w.u8(&m.SequenceNumber, 0, 255)
		choice(w, &m.Cause, 3)
	})
}

// RequestModeRelease отмена запроса режима по таймауту
type RequestModeRelease struct{}

func (*RequestModeRelease) Category() Category { return CatIndication }
func (*RequestModeRelease) index() int         { return idxRequestModeRelease }
func (m *RequestModeRelease) walk(w *walker)   { w.sequence(func(*walker) {}) }

// RoundTripDelayRequest запрос измерения задержки
type RoundTripDelayRequest struct {
	SequenceNumber uint8
}

func (*RoundTripDelayRequest) Category() Category { return CatRequest }
func (*RoundTripDelayRequest) index() int         { return idxRTDRequest }
func (m *RoundTripDelayRequest) walk(w *walker) {
	w.sequence(func(w *walker) { w.u8(&m.SequenceNumber, 0, 255) })
}

// RoundTripDelayResponse ответ на запрос задержки
type RoundTripDelayResponse struct {
	SequenceNumber uint8
}

func (*RoundTripDelayResponse) Category() Category { return CatResponse }
func (*RoundTripDelayResponse) index() int         { return idxRTDResponse }
func (m *RoundTripDelayResponse) walk(w *walker) {
	w.sequence(func(w *walker) { w.u8(&m.SequenceNumber, 0, 255) })
}

// SendTerminalCapabilitySet просьба повторно прислать набор возможностей
type SendTerminalCapabilitySet struct{}

func (*SendTerminalCapabilitySet) Category() Category { return CatCommand }
func (*SendTerminalCapabilitySet) index() int         { return idxSendTCS }
func (m *SendTerminalCapabilitySet) walk(w *walker)   { w.sequence(func(*walker) {}) }

// FlowControlCommand ограничение скорости передачи.
// Нулевой номер канала относится ко всем каналам, нулевая скорость снимает ограничение.
type FlowControlCommand struct {
	LogicalChannelNumber uint16
	MaximumBitRate       uint32
}

func (*FlowControlCommand) Category() Category { return CatCommand }
func (*FlowControlCommand) index() int         { return idxFlowControl }
func (m *FlowControlCommand) walk(w *walker) {
	w.sequence(func(w *walker) {
		w.u16(&m.LogicalChannelNumber, 0, 65535)
		if w.optional(m.MaximumBitRate != 0) {
			w.u32(&m.MaximumBitRate, 0, 16777215)
		}
	})
}

// EndSessionCommand завершение сеанса H.245
type EndSessionCommand struct{}

func (*EndSessionCommand) Category() Category { return CatCommand }
func (*EndSessionCommand) index() int         { return idxEndSession }
func (m *EndSessionCommand) walk(w *walker) {
	disconnect := 1
	choice(w, &disconnect, 3)
}

// FunctionNotUnderstood ответ на нераспознанное сообщение
type FunctionNotUnderstood struct {
	Cat Category
	Raw []byte
}

func (*FunctionNotUnderstood) Category() Category { return CatIndication }
func (*FunctionNotUnderstood) index() int         { return idxFNU }
func (m *FunctionNotUnderstood) walk(w *walker) {
	choice(w, &m.Cat, 3)
	w.octets(&m.Raw, 0, -1)
}

// UserInputIndication пользовательский ввод: строка или одиночный сигнал DTMF
type UserInputIndication struct {
	Alphanumeric string
	Signal       string
	// Duration длительность сигнала в миллисекундах
	Duration uint16
}

const (
	userInputRoot         = 2
	userInputAlphanumeric = 1
	userInputSignal       = 3
)

func (*UserInputIndication) Category() Category { return CatIndication }
func (*UserInputIndication) index() int         { return idxUserInput }
func (m *UserInputIndication) walk(w *walker) {
	if !w.active() {
		return
	}
	if w.mode == walkEncode {
		if m.Signal != "" {
			if err := w.e.PutChoice(userInputSignal, userInputRoot, true); err != nil {
				w.fail(err)
				return
			}
			w.fail(w.e.PutOpenType(func(in *per.Encoder) error {
				iw := &walker{mode: walkEncode, e: in}
				m.walkSignal(iw)
				return iw.err
			}))
			return
		}
		if err := w.e.PutChoice(userInputAlphanumeric, userInputRoot, true); err != nil {
			w.fail(err)
			return
		}
		w.ia5(&m.Alphanumeric, 0, -1)
		return
	}
	idx, err := w.d.Choice(userInputRoot, true)
	if err != nil {
		w.fail(err)
		return
	}
	switch idx {
	case userInputAlphanumeric:
		w.ia5(&m.Alphanumeric, 0, -1)
	case userInputSignal:
		w.fail(w.d.OpenType(func(in *per.Decoder) error {
			iw := &walker{mode: walkDecode, d: in}
			m.walkSignal(iw)
			return iw.err
		}))
	default:
		if idx >= userInputRoot {
			w.fail(w.d.SkipOpenType())
		} else {
			w.fail(errors.Wrapf(ErrUnknownMessage, "user input choice %d", idx))
		}
	}
}

func (m *UserInputIndication) walkSignal(w *walker) {
	w.sequence(func(w *walker) {
		w.ia5(&m.Signal, 1, 1)
		if w.optional(m.Duration != 0) {
			w.u16(&m.Duration, 1, 65535)
		}
	})
}

// GenericMessage generic-сообщение (расширения производителей).
// Раздел определяется полем Cat.
type GenericMessage struct {
	Cat                  Category
	MessageIdentifier    string
	SubMessageIdentifier uint8
	Parameters           []h225.GenericParameter
}

func (m *GenericMessage) Category() Category { return m.Cat }
func (m *GenericMessage) index() int {
	switch m.Cat {
	case CatRequest:
		return idxGenericRequest
	case CatResponse:
		return idxGenericResponse
	case CatCommand:
		return idxGenericCommand
	}
	return idxGenericIndication
}
func (m *GenericMessage) walk(w *walker) {
	w.sequence(func(w *walker) {
		w.ia5(&m.MessageIdentifier, 1, 128)
		w.u8(&m.SubMessageIdentifier, 0, 127)
		if w.optional(len(m.Parameters) > 0) {
			w.genericParameters(&m.Parameters)
		}
	})
}
