// Package ras содержит PDU протокола RAS (H.225.0 Registration, Admission
// and Status) и их PER-кодирование.
package ras

import (
	"fmt"

	"github.com/arzzra/h323/pkg/h225"
	"github.com/pkg/errors"
)

// ErrUnknownMessage неподдерживаемый тип RAS сообщения
var ErrUnknownMessage = errors.New("ras: unknown message")

// UnsolicitedIRRSeq номер последовательности, зарезервированный для
// незапрошенных IRR
const UnsolicitedIRRSeq uint16 = 1

// MessageType тип RAS сообщения (индекс в RasMessage)
type MessageType int

const (
	TypeGRQ MessageType = iota
	TypeGCF
	TypeGRJ
	TypeRRQ
	TypeRCF
	TypeRRJ
	TypeURQ
	TypeUCF
	TypeURJ
	TypeARQ
	TypeACF
	TypeARJ
	TypeBRQ
	TypeBCF
	TypeBRJ
	TypeDRQ
	TypeDCF
	TypeDRJ
	TypeLRQ
	TypeLCF
	TypeLRJ
	TypeIRQ
	TypeIRR
	TypeNonStandard
	TypeXRS
	// расширения
	TypeRIP
	TypeRAI
	TypeRAC
	TypeIACK
	TypeINAK
)

const rootMessages = 25

var typeNames = [...]string{
	"GRQ", "GCF", "GRJ", "RRQ", "RCF", "RRJ", "URQ", "UCF", "URJ",
	"ARQ", "ACF", "ARJ", "BRQ", "BCF", "BRJ", "DRQ", "DCF", "DRJ",
	"LRQ", "LCF", "LRJ", "IRQ", "IRR", "NonStandard", "XRS",
	"RIP", "RAI", "RAC", "IACK", "INAK",
}

func (t MessageType) String() string {
	if t >= 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("MessageType(%d)", int(t))
}

// IsRequest возвращает true для запросов, на которые ожидается подтверждение или отказ
func (t MessageType) IsRequest() bool {
	switch t {
	case TypeGRQ, TypeRRQ, TypeURQ, TypeARQ, TypeBRQ, TypeDRQ, TypeLRQ, TypeIRQ:
		return true
	}
	return false
}

// Message RAS сообщение
type Message interface {
	Type() MessageType
	Seq() uint16
	SetSeq(seq uint16)
	fields(c *codec)
}

// Header общая часть всех RAS сообщений
type Header struct {
	RequestSeqNum uint16
}

// Seq возвращает номер последовательности
func (h *Header) Seq() uint16 { return h.RequestSeqNum }

// SetSeq устанавливает номер последовательности
func (h *Header) SetSeq(seq uint16) { h.RequestSeqNum = seq }

func newMessage(t MessageType) Message {
	switch t {
	case TypeGRQ:
		return &GRQ{}
	case TypeGCF:
		return &GCF{}
	case TypeGRJ:
		return &GRJ{}
	case TypeRRQ:
		return &RRQ{}
	case TypeRCF:
		return &RCF{}
	case TypeRRJ:
		return &RRJ{}
	case TypeURQ:
		return &URQ{}
	case TypeUCF:
		return &UCF{}
	case TypeURJ:
		return &URJ{}
	case TypeARQ:
		return &ARQ{}
	case TypeACF:
		return &ACF{}
	case TypeARJ:
		return &ARJ{}
	case TypeBRQ:
		return &BRQ{}
	case TypeBCF:
		return &BCF{}
	case TypeBRJ:
		return &BRJ{}
	case TypeDRQ:
		return &DRQ{}
	case TypeDCF:
		return &DCF{}
	case TypeDRJ:
		return &DRJ{}
	case TypeLRQ:
		return &LRQ{}
	case TypeLCF:
		return &LCF{}
	case TypeLRJ:
		return &LRJ{}
	case TypeIRQ:
		return &IRQ{}
	case TypeIRR:
		return &IRR{}
	case TypeXRS:
		return &XRS{}
	case TypeRIP:
		return &RIP{}
	case TypeIACK:
		return &IACK{}
	case TypeINAK:
		return &INAK{}
	}
	return nil
}

// GRQ GatekeeperRequest
type GRQ struct {
	Header
	RASAddress      h225.TransportAddress
	EndpointType    h225.EndpointType
	GatekeeperID    string
	EndpointAliases []h225.AliasAddress
	// AuthenticationCapability предлагаемые механизмы аутентификации
	AuthenticationCapability []string
	Tokens                   []h225.Token
}

func (*GRQ) Type() MessageType { return TypeGRQ }

func (m *GRQ) fields(c *codec) {
	c.seqNum(&m.RequestSeqNum)
	c.protocolID()
	c.transport(&m.RASAddress)
	c.endpointType(&m.EndpointType)
	c.optIdentifier(&m.GatekeeperID)
	c.optAliases(&m.EndpointAliases)
	c.optStrings(&m.AuthenticationCapability)
	c.optTokens(&m.Tokens)
}

// GCF GatekeeperConfirm
type GCF struct {
	Header
	GatekeeperID   string
	RASAddress     h225.TransportAddress
	Authentication string
	Tokens         []h225.Token
}

func (*GCF) Type() MessageType { return TypeGCF }

func (m *GCF) fields(c *codec) {
	c.seqNum(&m.RequestSeqNum)
	c.protocolID()
	c.optIdentifier(&m.GatekeeperID)
	c.transport(&m.RASAddress)
	if c.optional(m.Authentication != "") {
		c.identifier(&m.Authentication)
	}
	c.optTokens(&m.Tokens)
}

// GRJ GatekeeperReject
type GRJ struct {
	Header
	GatekeeperID string
	Reason       GatekeeperRejectReason
}

func (*GRJ) Type() MessageType { return TypeGRJ }

func (m *GRJ) fields(c *codec) {
	c.seqNum(&m.RequestSeqNum)
	c.protocolID()
	c.optIdentifier(&m.GatekeeperID)
	enumField(c, &m.Reason, grjRoot)
}

// RRQ RegistrationRequest
type RRQ struct {
	Header
	DiscoveryComplete   bool
	CallSignalAddresses []h225.TransportAddress
	RASAddresses        []h225.TransportAddress
	TerminalType        h225.EndpointType
	TerminalAliases     []h225.AliasAddress
	GatekeeperID        string
	TimeToLive          uint32
	Tokens              []h225.Token
	KeepAlive           bool
	EndpointIdentifier  string
	// VoicePrefixes префиксы номеров, обслуживаемые шлюзом
	VoicePrefixes []string
}

func (*RRQ) Type() MessageType { return TypeRRQ }

func (m *RRQ) fields(c *codec) {
	c.seqNum(&m.RequestSeqNum)
	c.protocolID()
	c.boolean(&m.DiscoveryComplete)
	c.transports(&m.CallSignalAddresses)
	c.transports(&m.RASAddresses)
	c.endpointType(&m.TerminalType)
	c.optAliases(&m.TerminalAliases)
	c.optIdentifier(&m.GatekeeperID)
	c.optUint32(&m.TimeToLive)
	c.optTokens(&m.Tokens)
	c.boolean(&m.KeepAlive)
	c.optIdentifier(&m.EndpointIdentifier)
	c.optStrings(&m.VoicePrefixes)
}

// RCF RegistrationConfirm
type RCF struct {
	Header
	CallSignalAddresses []h225.TransportAddress
	TerminalAliases     []h225.AliasAddress
	GatekeeperID        string
	EndpointIdentifier  string
	TimeToLive          uint32
	WillRespondToIRR    bool
	Tokens              []h225.Token
}

func (*RCF) Type() MessageType { return TypeRCF }

func (m *RCF) fields(c *codec) {
	c.seqNum(&m.RequestSeqNum)
	c.protocolID()
	c.transports(&m.CallSignalAddresses)
	c.optAliases(&m.TerminalAliases)
	c.optIdentifier(&m.GatekeeperID)
	c.identifier(&m.EndpointIdentifier)
	c.optUint32(&m.TimeToLive)
	c.boolean(&m.WillRespondToIRR)
	c.optTokens(&m.Tokens)
}

// RRJ RegistrationReject
type RRJ struct {
	Header
	GatekeeperID string
	Reason       RegistrationRejectReason
	// DuplicateAliases алиасы, уже занятые другими конечными точками
	DuplicateAliases []h225.AliasAddress
}

func (*RRJ) Type() MessageType { return TypeRRJ }

func (m *RRJ) fields(c *codec) {
	c.seqNum(&m.RequestSeqNum)
	c.protocolID()
	enumField(c, &m.Reason, rrjRoot)
	c.optIdentifier(&m.GatekeeperID)
	c.optAliases(&m.DuplicateAliases)
}

// URQ UnregistrationRequest
type URQ struct {
	Header
	CallSignalAddresses []h225.TransportAddress
	EndpointAliases     []h225.AliasAddress
	EndpointIdentifier  string
	GatekeeperID        string
	Reason              UnregRequestReason
	HasReason           bool
	Tokens              []h225.Token
}

func (*URQ) Type() MessageType { return TypeURQ }

func (m *URQ) fields(c *codec) {
	c.seqNum(&m.RequestSeqNum)
	c.transports(&m.CallSignalAddresses)
	c.optAliases(&m.EndpointAliases)
	c.optIdentifier(&m.EndpointIdentifier)
	c.optIdentifier(&m.GatekeeperID)
	if optEnum(c, &m.Reason, m.HasReason, urqReasonRoot) && c.mode == modeDecode {
		m.HasReason = true
	}
	c.optTokens(&m.Tokens)
}

// UCF UnregistrationConfirm
type UCF struct {
	Header
}

func (*UCF) Type() MessageType { return TypeUCF }

func (m *UCF) fields(c *codec) {
	c.seqNum(&m.RequestSeqNum)
}

// URJ UnregistrationReject
type URJ struct {
	Header
	Reason UnregRejectReason
}

func (*URJ) Type() MessageType { return TypeURJ }

func (m *URJ) fields(c *codec) {
	c.seqNum(&m.RequestSeqNum)
	enumField(c, &m.Reason, urjRoot)
}

// CallModel модель маршрутизации сигнализации
type CallModel int

const (
	CallModelDirect CallModel = iota
	CallModelGatekeeperRouted
)

// ARQ AdmissionRequest
type ARQ struct {
	Header
	EndpointIdentifier    string
	DestinationInfo       []h225.AliasAddress
	DestCallSignalAddress *h225.TransportAddress
	SrcInfo               []h225.AliasAddress
	SrcCallSignalAddress  *h225.TransportAddress
	BandWidth             uint32
	CallReferenceValue    uint16
	ConferenceID          h225.GUID
	AnswerCall            bool
	CallIdentifier        h225.GUID
	GatekeeperID          string
	Tokens                []h225.Token
	CanMapAlias           bool
	WillSupplyUUIEs       bool
}

func (*ARQ) Type() MessageType { return TypeARQ }

func (m *ARQ) fields(c *codec) {
	c.seqNum(&m.RequestSeqNum)
	c.identifier(&m.EndpointIdentifier)
	c.optAliases(&m.DestinationInfo)
	c.optTransport(&m.DestCallSignalAddress)
	c.aliases(&m.SrcInfo)
	c.optTransport(&m.SrcCallSignalAddress)
	c.uint32v(&m.BandWidth)
	c.uint16v(&m.CallReferenceValue)
	c.guid(&m.ConferenceID)
	c.boolean(&m.AnswerCall)
	c.guid(&m.CallIdentifier)
	c.optIdentifier(&m.GatekeeperID)
	c.optTokens(&m.Tokens)
	c.boolean(&m.CanMapAlias)
	c.boolean(&m.WillSupplyUUIEs)
}

// ACF AdmissionConfirm
type ACF struct {
	Header
	BandWidth             uint32
	CallModel             CallModel
	DestCallSignalAddress h225.TransportAddress
	IRRFrequency          uint32
	DestinationInfo       []h225.AliasAddress
	Tokens                []h225.Token
	WillRespondToIRR      bool
}

func (*ACF) Type() MessageType { return TypeACF }

func (m *ACF) fields(c *codec) {
	c.seqNum(&m.RequestSeqNum)
	c.uint32v(&m.BandWidth)
	enumField(c, &m.CallModel, 2)
	c.transport(&m.DestCallSignalAddress)
	c.optUint32(&m.IRRFrequency)
	c.optAliases(&m.DestinationInfo)
	c.optTokens(&m.Tokens)
	c.boolean(&m.WillRespondToIRR)
}

// ARJ AdmissionReject
type ARJ struct {
	Header
	Reason AdmissionRejectReason
}

func (*ARJ) Type() MessageType { return TypeARJ }

func (m *ARJ) fields(c *codec) {
	c.seqNum(&m.RequestSeqNum)
	enumField(c, &m.Reason, arjRoot)
}

// BRQ BandwidthRequest
type BRQ struct {
	Header
	EndpointIdentifier string
	ConferenceID       h225.GUID
	CallReferenceValue uint16
	BandWidth          uint32
	CallIdentifier     h225.GUID
	AnswerCall         bool
	GatekeeperID       string
	Tokens             []h225.Token
}

func (*BRQ) Type() MessageType { return TypeBRQ }

func (m *BRQ) fields(c *codec) {
	c.seqNum(&m.RequestSeqNum)
	c.identifier(&m.EndpointIdentifier)
	c.guid(&m.ConferenceID)
	c.uint16v(&m.CallReferenceValue)
	c.uint32v(&m.BandWidth)
	c.guid(&m.CallIdentifier)
	c.boolean(&m.AnswerCall)
	c.optIdentifier(&m.GatekeeperID)
	c.optTokens(&m.Tokens)
}

// BCF BandwidthConfirm
type BCF struct {
	Header
	BandWidth uint32
}

func (*BCF) Type() MessageType { return TypeBCF }

func (m *BCF) fields(c *codec) {
	c.seqNum(&m.RequestSeqNum)
	c.uint32v(&m.BandWidth)
}

// BRJ BandwidthReject
type BRJ struct {
	Header
	Reason           BandRejectReason
	AllowedBandWidth uint32
}

func (*BRJ) Type() MessageType { return TypeBRJ }

func (m *BRJ) fields(c *codec) {
	c.seqNum(&m.RequestSeqNum)
	enumField(c, &m.Reason, brjRoot)
	c.uint32v(&m.AllowedBandWidth)
}

// DisengageReason причина в DRQ
type DisengageReason int

const (
	DisengageForcedDrop DisengageReason = iota
	DisengageNormalDrop
	DisengageUndefined
)

// DRQ DisengageRequest
type DRQ struct {
	Header
	EndpointIdentifier string
	ConferenceID       h225.GUID
	CallReferenceValue uint16
	Reason             DisengageReason
	CallIdentifier     h225.GUID
	AnswerCall         bool
	GatekeeperID       string
	Tokens             []h225.Token
}

func (*DRQ) Type() MessageType { return TypeDRQ }

func (m *DRQ) fields(c *codec) {
	c.seqNum(&m.RequestSeqNum)
	c.identifier(&m.EndpointIdentifier)
	c.guid(&m.ConferenceID)
	c.uint16v(&m.CallReferenceValue)
	enumField(c, &m.Reason, 3)
	c.guid(&m.CallIdentifier)
	c.boolean(&m.AnswerCall)
	c.optIdentifier(&m.GatekeeperID)
	c.optTokens(&m.Tokens)
}

// DCF DisengageConfirm
type DCF struct {
	Header
}

func (*DCF) Type() MessageType { return TypeDCF }

func (m *DCF) fields(c *codec) {
	c.seqNum(&m.RequestSeqNum)
}

// DRJ DisengageReject
type DRJ struct {
	Header
	Reason DisengageRejectReason
}

func (*DRJ) Type() MessageType { return TypeDRJ }

func (m *DRJ) fields(c *codec) {
	c.seqNum(&m.RequestSeqNum)
	enumField(c, &m.Reason, drjRoot)
}

// LRQ LocationRequest
type LRQ struct {
	Header
	EndpointIdentifier string
	DestinationInfo    []h225.AliasAddress
	ReplyAddress       h225.TransportAddress
	SourceInfo         []h225.AliasAddress
	GatekeeperID       string
	Tokens             []h225.Token
	CanMapAlias        bool
}

func (*LRQ) Type() MessageType { return TypeLRQ }

func (m *LRQ) fields(c *codec) {
	c.seqNum(&m.RequestSeqNum)
	c.optIdentifier(&m.EndpointIdentifier)
	c.aliases(&m.DestinationInfo)
	c.transport(&m.ReplyAddress)
	c.optAliases(&m.SourceInfo)
	c.optIdentifier(&m.GatekeeperID)
	c.optTokens(&m.Tokens)
	c.boolean(&m.CanMapAlias)
}

// LCF LocationConfirm
type LCF struct {
	Header
	CallSignalAddress h225.TransportAddress
	RASAddress        h225.TransportAddress
	DestinationInfo   []h225.AliasAddress
	Tokens            []h225.Token
}

func (*LCF) Type() MessageType { return TypeLCF }

func (m *LCF) fields(c *codec) {
	c.seqNum(&m.RequestSeqNum)
	c.transport(&m.CallSignalAddress)
	c.transport(&m.RASAddress)
	c.optAliases(&m.DestinationInfo)
	c.optTokens(&m.Tokens)
}

// LRJ LocationReject
type LRJ struct {
	Header
	Reason LocationRejectReason
}

func (*LRJ) Type() MessageType { return TypeLRJ }

func (m *LRJ) fields(c *codec) {
	c.seqNum(&m.RequestSeqNum)
	enumField(c, &m.Reason, lrjRoot)
}

// IRQ InfoRequest. Нулевой CallIdentifier запрашивает информацию обо всех вызовах.
type IRQ struct {
	Header
	CallReferenceValue uint16
	CallIdentifier     h225.GUID
	ReplyAddress       *h225.TransportAddress
	Tokens             []h225.Token
}

func (*IRQ) Type() MessageType { return TypeIRQ }

func (m *IRQ) fields(c *codec) {
	c.seqNum(&m.RequestSeqNum)
	c.uint16v(&m.CallReferenceValue)
	c.optGUID(&m.CallIdentifier)
	c.optTransport(&m.ReplyAddress)
	c.optTokens(&m.Tokens)
}

// PerCallInfo сведения о вызове в IRR
type PerCallInfo struct {
	CallReferenceValue uint16
	ConferenceID       h225.GUID
	CallIdentifier     h225.GUID
	Originator         bool
	BandWidth          uint32
}

// IRR InfoRequestResponse
type IRR struct {
	Header
	EndpointType        h225.EndpointType
	EndpointIdentifier  string
	RASAddress          h225.TransportAddress
	CallSignalAddresses []h225.TransportAddress
	EndpointAliases     []h225.AliasAddress
	PerCallInfo         []PerCallInfo
	Tokens              []h225.Token
	NeedResponse        bool
	Unsolicited         bool
}

func (*IRR) Type() MessageType { return TypeIRR }

func (m *IRR) fields(c *codec) {
	c.seqNum(&m.RequestSeqNum)
	c.endpointType(&m.EndpointType)
	c.identifier(&m.EndpointIdentifier)
	c.transport(&m.RASAddress)
	c.transports(&m.CallSignalAddresses)
	c.optAliases(&m.EndpointAliases)
	if c.optional(len(m.PerCallInfo) > 0) {
		perCallInfos(c, &m.PerCallInfo)
	}
	c.optTokens(&m.Tokens)
	c.boolean(&m.NeedResponse)
	c.boolean(&m.Unsolicited)
}

// XRS UnknownMessageResponse
type XRS struct {
	Header
}

func (*XRS) Type() MessageType { return TypeXRS }

func (m *XRS) fields(c *codec) {
	c.seqNum(&m.RequestSeqNum)
}

// RIP RequestInProgress: запрос принят, ответ задерживается на Delay миллисекунд
type RIP struct {
	Header
	Delay uint16
}

func (*RIP) Type() MessageType { return TypeRIP }

func (m *RIP) fields(c *codec) {
	c.seqNum(&m.RequestSeqNum)
	if !c.active() {
		return
	}
	if m.Delay == 0 && c.mode == modeEncode {
		m.Delay = 1
	}
	c.seqNum(&m.Delay)
}

// IACK InfoRequestAck
type IACK struct {
	Header
}

func (*IACK) Type() MessageType { return TypeIACK }

func (m *IACK) fields(c *codec) {
	c.seqNum(&m.RequestSeqNum)
}

// INAK InfoRequestNak
type INAK struct {
	Header
	Reason InfoRequestNakReason
}

func (*INAK) Type() MessageType { return TypeINAK }

func (m *INAK) fields(c *codec) {
	c.seqNum(&m.RequestSeqNum)
	enumField(c, &m.Reason, inakRoot)
}
