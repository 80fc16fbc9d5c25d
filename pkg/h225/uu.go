package h225

import (
	"fmt"

	"github.com/arzzra/h323/pkg/per"
	"github.com/pkg/errors"
)

// BodyType тип тела H323-UU-PDU
type BodyType int

const (
	BodySetup BodyType = iota
	BodyCallProceeding
	BodyConnect
	BodyAlerting
	BodyInformation
	BodyReleaseComplete
	BodyFacility
	BodyProgress
	BodyEmpty
	BodyStatus
	BodyStatusInquiry
	BodySetupAcknowledge
	BodyNotify
)

const bodyRootChoices = 7

var bodyNames = map[BodyType]string{
	BodySetup:            "setup",
	BodyCallProceeding:   "callProceeding",
	BodyConnect:          "connect",
	BodyAlerting:         "alerting",
	BodyInformation:      "information",
	BodyReleaseComplete:  "releaseComplete",
	BodyFacility:         "facility",
	BodyProgress:         "progress",
	BodyEmpty:            "empty",
	BodyStatus:           "status",
	BodyStatusInquiry:    "statusInquiry",
	BodySetupAcknowledge: "setupAcknowledge",
	BodyNotify:           "notify",
}

func (t BodyType) String() string {
	if n, ok := bodyNames[t]; ok {
		return n
	}
	return fmt.Sprintf("BodyType(%d)", int(t))
}

// Body тело H323-UU-PDU
type Body interface {
	Type() BodyType
	encode(e *per.Encoder) error
	decode(d *per.Decoder) error
}

// UserUserPDU содержимое H323-UU-PDU, переносимое в Q.931 User-User IE
type UserUserPDU struct {
	Body           Body
	H245Tunnelling bool
	// H245Control туннелированные сообщения H.245 в PER-кодировании
	H245Control [][]byte
	GenericData []GenericData
}

// CallIdentifier возвращает идентификатор вызова из тела PDU, если он там есть
func (u *UserUserPDU) CallIdentifier() GUID {
	switch b := u.Body.(type) {
	case *Setup:
		return b.CallIdentifier
	case *CallProceeding:
		return b.CallIdentifier
	case *Alerting:
		return b.CallIdentifier
	case *Progress:
		return b.CallIdentifier
	case *Connect:
		return b.CallIdentifier
	case *ReleaseComplete:
		return b.CallIdentifier
	case *Facility:
		return b.CallIdentifier
	case *Information:
		return b.CallIdentifier
	case *Status:
		return b.CallIdentifier
	case *StatusInquiry:
		return b.CallIdentifier
	case *Notify:
		return b.CallIdentifier
	}
	return GUID{}
}

// FastStartOf возвращает массив fastStart тела PDU
func FastStartOf(b Body) [][]byte {
	switch m := b.(type) {
	case *Setup:
		return m.FastStart
	case *CallProceeding:
		return m.FastStart
	case *Alerting:
		return m.FastStart
	case *Progress:
		return m.FastStart
	case *Connect:
		return m.FastStart
	case *Facility:
		return m.FastStart
	}
	return nil
}

// H245AddressOf возвращает адрес отдельного канала H.245 из тела PDU
func H245AddressOf(b Body) *TransportAddress {
	switch m := b.(type) {
	case *Setup:
		return m.H245Address
	case *CallProceeding:
		return m.H245Address
	case *Alerting:
		return m.H245Address
	case *Progress:
		return m.H245Address
	case *Connect:
		return m.H245Address
	case *Facility:
		return m.H245Address
	}
	return nil
}

// EncodeUserUser кодирует H323-UU-PDU
func EncodeUserUser(u *UserUserPDU) ([]byte, error) {
	if u.Body == nil {
		return nil, errors.New("h225: empty uu-pdu body")
	}
	e := per.NewEncoder(256)
	e.PutExtensionBit(false)
	e.PutOptionals(len(u.H245Control) > 0, len(u.GenericData) > 0)

	t := u.Body.Type()
	if err := e.PutChoice(int(t), bodyRootChoices, true); err != nil {
		return nil, err
	}
	var err error
	if int(t) < bodyRootChoices {
		err = u.Body.encode(e)
	} else {
		err = e.PutOpenType(u.Body.encode)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s", t)
	}

	e.PutBool(u.H245Tunnelling)
	if len(u.H245Control) > 0 {
		if err := EncodeOctetStrings(e, u.H245Control); err != nil {
			return nil, errors.Wrap(err, "encode h245Control")
		}
	}
	if len(u.GenericData) > 0 {
		if err := EncodeGenericData(e, u.GenericData); err != nil {
			return nil, errors.Wrap(err, "encode genericData")
		}
	}
	return e.Bytes(), nil
}

// DecodeUserUser декодирует H323-UU-PDU
func DecodeUserUser(b []byte) (*UserUserPDU, error) {
	d := per.NewDecoder(b)
	if _, err := d.ExtensionBit(); err != nil {
		return nil, err
	}
	opts, err := d.Optionals(2)
	if err != nil {
		return nil, err
	}
	idx, err := d.Choice(bodyRootChoices, true)
	if err != nil {
		return nil, errors.Wrap(err, "decode body choice")
	}
	body := newBody(BodyType(idx))
	if body == nil {
		return nil, errors.Wrapf(ErrUnknownChoice, "uu-pdu body %d", idx)
	}
	if idx < bodyRootChoices {
		err = body.decode(d)
	} else {
		err = d.OpenType(body.decode)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", body.Type())
	}

	u := &UserUserPDU{Body: body}
	if u.H245Tunnelling, err = d.Bool(); err != nil {
		return nil, err
	}
	if opts[0] {
		if u.H245Control, err = DecodeOctetStrings(d); err != nil {
			return nil, errors.Wrap(err, "decode h245Control")
		}
	}
	if opts[1] {
		if u.GenericData, err = DecodeGenericData(d); err != nil {
			return nil, errors.Wrap(err, "decode genericData")
		}
	}
	return u, nil
}

func newBody(t BodyType) Body {
	switch t {
	case BodySetup:
		return &Setup{}
	case BodyCallProceeding:
		return &CallProceeding{}
	case BodyConnect:
		return &Connect{}
	case BodyAlerting:
		return &Alerting{}
	case BodyInformation:
		return &Information{}
	case BodyReleaseComplete:
		return &ReleaseComplete{}
	case BodyFacility:
		return &Facility{}
	case BodyProgress:
		return &Progress{}
	case BodyEmpty:
		return &Empty{}
	case BodyStatus:
		return &Status{}
	case BodyStatusInquiry:
		return &StatusInquiry{}
	case BodySetupAcknowledge:
		return &SetupAcknowledge{}
	case BodyNotify:
		return &Notify{}
	}
	return nil
}

// Setup тело сообщения SETUP
type Setup struct {
	SourceAliases           []AliasAddress
	SourceCallSignalAddress *TransportAddress
	DestinationAliases      []AliasAddress
	DestCallSignalAddress   *TransportAddress
	ConferenceID            GUID
	CallIdentifier          GUID
	SourceInfo              EndpointType
	H245Address             *TransportAddress
	FastStart               [][]byte
	Tokens                  []Token
	EndpointIdentifier      string
	MediaWaitForConnect     bool
	CanOverlapSend          bool
	ActiveMC                bool
}

func (*Setup) Type() BodyType { return BodySetup }

func (m *Setup) encode(e *per.Encoder) error {
	e.PutExtensionBit(false)
	e.PutOptionals(
		len(m.SourceAliases) > 0,
		m.SourceCallSignalAddress != nil,
		len(m.DestinationAliases) > 0,
		m.DestCallSignalAddress != nil,
		m.H245Address != nil,
		len(m.FastStart) > 0,
		len(m.Tokens) > 0,
		m.EndpointIdentifier != "",
	)
	if err := e.PutIA5String(ProtocolIdentifier, 1, 64); err != nil {
		return err
	}
	if len(m.SourceAliases) > 0 {
		if err := EncodeAliasList(e, m.SourceAliases); err != nil {
			return err
		}
	}
	if err := encodeTransportPtr(e, m.SourceCallSignalAddress); err != nil {
		return err
	}
	if len(m.DestinationAliases) > 0 {
		if err := EncodeAliasList(e, m.DestinationAliases); err != nil {
			return err
		}
	}
	if err := encodeTransportPtr(e, m.DestCallSignalAddress); err != nil {
		return err
	}
	if err := EncodeGUID(e, m.ConferenceID); err != nil {
		return err
	}
	if err := EncodeGUID(e, m.CallIdentifier); err != nil {
		return err
	}
	if err := EncodeEndpointType(e, m.SourceInfo); err != nil {
		return err
	}
	if err := encodeTransportPtr(e, m.H245Address); err != nil {
		return err
	}
	if len(m.FastStart) > 0 {
		if err := EncodeOctetStrings(e, m.FastStart); err != nil {
			return err
		}
	}
	if len(m.Tokens) > 0 {
		if err := EncodeTokens(e, m.Tokens); err != nil {
			return err
		}
	}
	if m.EndpointIdentifier != "" {
		if err := e.PutBMPString(m.EndpointIdentifier, 1, 128); err != nil {
			return err
		}
	}
	e.PutBool(m.MediaWaitForConnect)
	e.PutBool(m.CanOverlapSend)
	e.PutBool(m.ActiveMC)
	return nil
}

func (m *Setup) decode(d *per.Decoder) error {
	if _, err := d.ExtensionBit(); err != nil {
		return err
	}
	opts, err := d.Optionals(8)
	if err != nil {
		return err
	}
	if _, err := d.IA5String(1, 64); err != nil {
		return err
	}
	if opts[0] {
		if m.SourceAliases, err = DecodeAliasList(d); err != nil {
			return err
		}
	}
	if m.SourceCallSignalAddress, err = decodeTransportPtr(d, opts[1]); err != nil {
		return err
	}
	if opts[2] {
		if m.DestinationAliases, err = DecodeAliasList(d); err != nil {
			return err
		}
	}
	if m.DestCallSignalAddress, err = decodeTransportPtr(d, opts[3]); err != nil {
		return err
	}
	if m.ConferenceID, err = DecodeGUID(d); err != nil {
		return err
	}
	if m.CallIdentifier, err = DecodeGUID(d); err != nil {
		return err
	}
	if m.SourceInfo, err = DecodeEndpointType(d); err != nil {
		return err
	}
	if m.H245Address, err = decodeTransportPtr(d, opts[4]); err != nil {
		return err
	}
	if opts[5] {
		if m.FastStart, err = DecodeOctetStrings(d); err != nil {
			return err
		}
	}
	if opts[6] {
		if m.Tokens, err = DecodeTokens(d); err != nil {
			return err
		}
	}
	if opts[7] {
		if m.EndpointIdentifier, err = d.BMPString(1, 128); err != nil {
			return err
		}
	}
	if m.MediaWaitForConnect, err = d.Bool(); err != nil {
		return err
	}
	if m.CanOverlapSend, err = d.Bool(); err != nil {
		return err
	}
	m.ActiveMC, err = d.Bool()
	return err
}

// CallProceeding тело сообщения CALL PROCEEDING
type CallProceeding struct {
	CallIdentifier     GUID
	DestinationInfo    EndpointType
	H245Address        *TransportAddress
	FastStart          [][]byte
	FastConnectRefused bool
}

func (*CallProceeding) Type() BodyType { return BodyCallProceeding }

func (m *CallProceeding) encode(e *per.Encoder) error {
	return encodeProgressLike(e, m.CallIdentifier, m.DestinationInfo, m.H245Address, m.FastStart, m.FastConnectRefused)
}

func (m *CallProceeding) decode(d *per.Decoder) error {
	return decodeProgressLike(d, &m.CallIdentifier, &m.DestinationInfo, &m.H245Address, &m.FastStart, &m.FastConnectRefused)
}

// Alerting тело сообщения ALERTING
type Alerting struct {
	CallIdentifier     GUID
	DestinationInfo    EndpointType
	H245Address        *TransportAddress
	FastStart          [][]byte
	FastConnectRefused bool
}

func (*Alerting) Type() BodyType { return BodyAlerting }

func (m *Alerting) encode(e *per.Encoder) error {
	return encodeProgressLike(e, m.CallIdentifier, m.DestinationInfo, m.H245Address, m.FastStart, m.FastConnectRefused)
}

func (m *Alerting) decode(d *per.Decoder) error {
	return decodeProgressLike(d, &m.CallIdentifier, &m.DestinationInfo, &m.H245Address, &m.FastStart, &m.FastConnectRefused)
}

// Progress тело сообщения PROGRESS
type Progress struct {
	CallIdentifier     GUID
	DestinationInfo    EndpointType
	H245Address        *TransportAddress
	FastStart          [][]byte
	FastConnectRefused bool
}

func (*Progress) Type() BodyType { return BodyProgress }

func (m *Progress) encode(e *per.Encoder) error {
	return encodeProgressLike(e, m.CallIdentifier, m.DestinationInfo, m.H245Address, m.FastStart, m.FastConnectRefused)
}

func (m *Progress) decode(d *per.Decoder) error {
	return decodeProgressLike(d, &m.CallIdentifier, &m.DestinationInfo, &m.H245Address, &m.FastStart, &m.FastConnectRefused)
}

func encodeProgressLike(e *per.Encoder, callID GUID, info EndpointType, h245 *TransportAddress, fastStart [][]byte, refused bool) error {
	e.PutExtensionBit(false)
	e.PutOptionals(h245 != nil, len(fastStart) > 0)
	if err := e.PutIA5String(ProtocolIdentifier, 1, 64); err != nil {
		return err
	}
	if err := EncodeEndpointType(e, info); err != nil {
		return err
	}
	if err := encodeTransportPtr(e, h245); err != nil {
		return err
	}
	if err := EncodeGUID(e, callID); err != nil {
		return err
	}
	if len(fastStart) > 0 {
		if err := EncodeOctetStrings(e, fastStart); err != nil {
			return err
		}
	}
	e.PutBool(refused)
	return nil
}

func decodeProgressLike(d *per.Decoder, callID *GUID, info *EndpointType, h245 **TransportAddress, fastStart *[][]byte, refused *bool) error {
	if _, err := d.ExtensionBit(); err != nil {
		return err
	}
	opts, err := d.Optionals(2)
	if err != nil {
		return err
	}
	if _, err := d.IA5String(1, 64); err != nil {
		return err
	}
	if *info, err = DecodeEndpointType(d); err != nil {
		return err
	}
	if *h245, err = decodeTransportPtr(d, opts[0]); err != nil {
		return err
	}
	if *callID, err = DecodeGUID(d); err != nil {
		return err
	}
	if opts[1] {
		if *fastStart, err = DecodeOctetStrings(d); err != nil {
			return err
		}
	}
	*refused, err = d.Bool()
	return err
}

// Connect тело сообщения CONNECT
type Connect struct {
	CallIdentifier  GUID
	ConferenceID    GUID
	DestinationInfo EndpointType
	H245Address     *TransportAddress
	FastStart       [][]byte
	Tokens          []Token
}

func (*Connect) Type() BodyType { return BodyConnect }

func (m *Connect) encode(e *per.Encoder) error {
	e.PutExtensionBit(false)
	e.PutOptionals(m.H245Address != nil, len(m.FastStart) > 0, len(m.Tokens) > 0)
	if err := e.PutIA5String(ProtocolIdentifier, 1, 64); err != nil {
		return err
	}
	if err := encodeTransportPtr(e, m.H245Address); err != nil {
		return err
	}
	if err := EncodeEndpointType(e, m.DestinationInfo); err != nil {
		return err
	}
	if err := EncodeGUID(e, m.ConferenceID); err != nil {
		return err
	}
	if err := EncodeGUID(e, m.CallIdentifier); err != nil {
		return err
	}
	if len(m.FastStart) > 0 {
		if err := EncodeOctetStrings(e, m.FastStart); err != nil {
			return err
		}
	}
	if len(m.Tokens) > 0 {
		return EncodeTokens(e, m.Tokens)
	}
	return nil
}

func (m *Connect) decode(d *per.Decoder) error {
	if _, err := d.ExtensionBit(); err != nil {
		return err
	}
	opts, err := d.Optionals(3)
	if err != nil {
		return err
	}
	if _, err := d.IA5String(1, 64); err != nil {
		return err
	}
	if m.H245Address, err = decodeTransportPtr(d, opts[0]); err != nil {
		return err
	}
	if m.DestinationInfo, err = DecodeEndpointType(d); err != nil {
		return err
	}
	if m.ConferenceID, err = DecodeGUID(d); err != nil {
		return err
	}
	if m.CallIdentifier, err = DecodeGUID(d); err != nil {
		return err
	}
	if opts[1] {
		if m.FastStart, err = DecodeOctetStrings(d); err != nil {
			return err
		}
	}
	if opts[2] {
		m.Tokens, err = DecodeTokens(d)
	}
	return err
}

// ReleaseComplete тело сообщения RELEASE COMPLETE
type ReleaseComplete struct {
	CallIdentifier GUID
	Reason         ReleaseCompleteReason
	HasReason      bool
}

func (*ReleaseComplete) Type() BodyType { return BodyReleaseComplete }

func (m *ReleaseComplete) encode(e *per.Encoder) error {
	e.PutExtensionBit(false)
	e.PutOptionals(m.HasReason)
	if err := e.PutIA5String(ProtocolIdentifier, 1, 64); err != nil {
		return err
	}
	if m.HasReason {
		if err := encodeNullChoice(e, int(m.Reason), releaseReasonRoot); err != nil {
			return err
		}
	}
	return EncodeGUID(e, m.CallIdentifier)
}

func (m *ReleaseComplete) decode(d *per.Decoder) error {
	if _, err := d.ExtensionBit(); err != nil {
		return err
	}
	opts, err := d.Optionals(1)
	if err != nil {
		return err
	}
	if _, err := d.IA5String(1, 64); err != nil {
		return err
	}
	if opts[0] {
		r, err := decodeNullChoice(d, releaseReasonRoot)
		if err != nil {
			return err
		}
		m.Reason, m.HasReason = ReleaseCompleteReason(r), true
	}
	m.CallIdentifier, err = DecodeGUID(d)
	return err
}

// Facility тело сообщения FACILITY
type Facility struct {
	CallIdentifier     GUID
	ConferenceID       GUID
	Reason             FacilityReason
	AlternativeAddress *TransportAddress
	AlternativeAliases []AliasAddress
	H245Address        *TransportAddress
	FastStart          [][]byte
	Tokens             []Token
}

func (*Facility) Type() BodyType { return BodyFacility }

func (m *Facility) encode(e *per.Encoder) error {
	e.PutExtensionBit(false)
	e.PutOptionals(
		m.AlternativeAddress != nil,
		len(m.AlternativeAliases) > 0,
		m.H245Address != nil,
		len(m.FastStart) > 0,
		len(m.Tokens) > 0,
	)
	if err := e.PutIA5String(ProtocolIdentifier, 1, 64); err != nil {
		return err
	}
	if err := encodeTransportPtr(e, m.AlternativeAddress); err != nil {
		return err
	}
	if len(m.AlternativeAliases) > 0 {
		if err := EncodeAliasList(e, m.AlternativeAliases); err != nil {
			return err
		}
	}
	if err := EncodeGUID(e, m.ConferenceID); err != nil {
		return err
	}
	if err := encodeNullChoice(e, int(m.Reason), facilityReasonRoot); err != nil {
		return err
	}
	if err := EncodeGUID(e, m.CallIdentifier); err != nil {
		return err
	}
	if err := encodeTransportPtr(e, m.H245Address); err != nil {
		return err
	}
	if len(m.FastStart) > 0 {
		if err := EncodeOctetStrings(e, m.FastStart); err != nil {
			return err
		}
	}
	if len(m.Tokens) > 0 {
		return EncodeTokens(e, m.Tokens)
	}
	return nil
}

func (m *Facility) decode(d *per.Decoder) error {
	if _, err := d.ExtensionBit(); err != nil {
		return err
	}
	opts, err := d.Optionals(5)
	if err != nil {
		return err
	}
	if _, err := d.IA5String(1, 64); err != nil {
		return err
	}
	if m.AlternativeAddress, err = decodeTransportPtr(d, opts[0]); err != nil {
		return err
	}
	if opts[1] {
		if m.AlternativeAliases, err = DecodeAliasList(d); err != nil {
			return err
		}
	}
	if m.ConferenceID, err = DecodeGUID(d); err != nil {
		return err
	}
	r, err := decodeNullChoice(d, facilityReasonRoot)
	if err != nil {
		return err
	}
	m.Reason = FacilityReason(r)
	if m.CallIdentifier, err = DecodeGUID(d); err != nil {
		return err
	}
	if m.H245Address, err = decodeTransportPtr(d, opts[2]); err != nil {
		return err
	}
	if opts[3] {
		if m.FastStart, err = DecodeOctetStrings(d); err != nil {
			return err
		}
	}
	if opts[4] {
		m.Tokens, err = DecodeTokens(d)
	}
	return err
}

// callIDOnly общее кодирование сообщений, несущих только идентификатор вызова
type callIDOnly struct {
	CallIdentifier GUID
}

func (m *callIDOnly) encode(e *per.Encoder) error {
	e.PutExtensionBit(false)
	if err := e.PutIA5String(ProtocolIdentifier, 1, 64); err != nil {
		return err
	}
	return EncodeGUID(e, m.CallIdentifier)
}

func (m *callIDOnly) decode(d *per.Decoder) error {
	if _, err := d.ExtensionBit(); err != nil {
		return err
	}
	if _, err := d.IA5String(1, 64); err != nil {
		return err
	}
	var err error
	m.CallIdentifier, err = DecodeGUID(d)
	return err
}

// Information тело сообщения INFORMATION
type Information struct {
	CallIdentifier GUID
}

func (*Information) Type() BodyType { return BodyInformation }

func (m *Information) encode(e *per.Encoder) error {
	return (&callIDOnly{m.CallIdentifier}).encode(e)
}

func (m *Information) decode(d *per.Decoder) error {
	c := &callIDOnly{}
	err := c.decode(d)
	m.CallIdentifier = c.CallIdentifier
	return err
}

// Status тело сообщения STATUS
type Status struct {
	CallIdentifier GUID
}

func (*Status) Type() BodyType { return BodyStatus }

func (m *Status) encode(e *per.Encoder) error {
	return (&callIDOnly{m.CallIdentifier}).encode(e)
}

func (m *Status) decode(d *per.Decoder) error {
	c := &callIDOnly{}
	err := c.decode(d)
	m.CallIdentifier = c.CallIdentifier
	return err
}

// StatusInquiry тело сообщения STATUS ENQUIRY
type StatusInquiry struct {
	CallIdentifier GUID
}

func (*StatusInquiry) Type() BodyType { return BodyStatusInquiry }

func (m *StatusInquiry) encode(e *per.Encoder) error {
	return (&callIDOnly{m.CallIdentifier}).encode(e)
}

func (m *StatusInquiry) decode(d *per.Decoder) error {
	c := &callIDOnly{}
	err := c.decode(d)
	m.CallIdentifier = c.CallIdentifier
	return err
}

// Notify тело сообщения NOTIFY
type Notify struct {
	CallIdentifier GUID
}

func (*Notify) Type() BodyType { return BodyNotify }

func (m *Notify) encode(e *per.Encoder) error {
	return (&callIDOnly{m.CallIdentifier}).encode(e)
}

func (m *Notify) decode(d *per.Decoder) error {
	c := &callIDOnly{}
	err := c.decode(d)
	m.CallIdentifier = c.CallIdentifier
	return err
}

// SetupAcknowledge тело сообщения SETUP ACKNOWLEDGE
type SetupAcknowledge struct {
	CallIdentifier GUID
}

func (*SetupAcknowledge) Type() BodyType { return BodySetupAcknowledge }

func (m *SetupAcknowledge) encode(e *per.Encoder) error {
	return (&callIDOnly{m.CallIdentifier}).encode(e)
}

func (m *SetupAcknowledge) decode(d *per.Decoder) error {
	c := &callIDOnly{}
	err := c.decode(d)
	m.CallIdentifier = c.CallIdentifier
	return err
}

// Empty пустое тело, используется для передачи одного лишь h245Control
type Empty struct{}

func (*Empty) Type() BodyType { return BodyEmpty }

func (*Empty) encode(*per.Encoder) error { return nil }

func (*Empty) decode(*per.Decoder) error { return nil }

// encodeNullChoice кодирует CHOICE из NULL-альтернатив
func encodeNullChoice(e *per.Encoder, v, root int) error {
	if err := e.PutChoice(v, root, true); err != nil {
		return err
	}
	if v >= root {
		return e.PutOpenType(func(*per.Encoder) error { return nil })
	}
	return nil
}

func decodeNullChoice(d *per.Decoder, root int) (int, error) {
	v, err := d.Choice(root, true)
	if err != nil {
		return 0, err
	}
	if v >= root {
		if err := d.SkipOpenType(); err != nil {
			return 0, err
		}
	}
	return v, nil
}
