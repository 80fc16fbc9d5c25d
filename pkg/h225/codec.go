package h225

import (
	"net"

	"github.com/arzzra/h323/pkg/per"
	"github.com/pkg/errors"
)

// ErrUnknownChoice в PDU встретилась неподдерживаемая альтернатива CHOICE
var ErrUnknownChoice = errors.New("h225: unsupported choice")

const (
	transportRootChoices = 7
	transportIPv4        = 0
	transportIPv6        = 3

	aliasRootChoices = 2
)

// EncodeGUID кодирует GUID как OCTET STRING (SIZE(16))
func EncodeGUID(e *per.Encoder, g GUID) error {
	return e.PutOctetString(g[:], 16, 16)
}

// DecodeGUID декодирует GUID
func DecodeGUID(d *per.Decoder) (GUID, error) {
	b, err := d.OctetString(16, 16)
	if err != nil {
		return GUID{}, err
	}
	var g GUID
	copy(g[:], b)
	return g, nil
}

// EncodeTransportAddress кодирует TransportAddress (ipAddress или ip6Address)
func EncodeTransportAddress(e *per.Encoder, t TransportAddress) error {
	if v4 := t.IP.To4(); v4 != nil || len(t.IP) == 0 {
		if v4 == nil {
			v4 = net.IPv4zero.To4()
		}
		if err := e.PutChoice(transportIPv4, transportRootChoices, true); err != nil {
			return err
		}
		if err := e.PutOctetString(v4, 4, 4); err != nil {
			return err
		}
		return e.PutConstrainedInt(int64(t.Port), 0, 65535)
	}
	if err := e.PutChoice(transportIPv6, transportRootChoices, true); err != nil {
		return err
	}
	e.PutExtensionBit(false)
	if err := e.PutOctetString(t.IP.To16(), 16, 16); err != nil {
		return err
	}
	return e.PutConstrainedInt(int64(t.Port), 0, 65535)
}

// DecodeTransportAddress декодирует TransportAddress
func DecodeTransportAddress(d *per.Decoder) (TransportAddress, error) {
	idx, err := d.Choice(transportRootChoices, true)
	if err != nil {
		return TransportAddress{}, err
	}
	var ip []byte
	switch idx {
	case transportIPv4:
		ip, err = d.OctetString(4, 4)
	case transportIPv6:
		if _, err = d.ExtensionBit(); err != nil {
			return TransportAddress{}, err
		}
		ip, err = d.OctetString(16, 16)
	default:
		return TransportAddress{}, errors.Wrapf(ErrUnknownChoice, "transport address %d", idx)
	}
	if err != nil {
		return TransportAddress{}, err
	}
	port, err := d.ConstrainedInt(0, 65535)
	if err != nil {
		return TransportAddress{}, err
	}
	return TransportAddress{IP: net.IP(ip), Port: uint16(port)}, nil
}

// EncodeOptionalTransport кодирует адрес, присутствие которого уже отмечено в битовой карте
func encodeTransportPtr(e *per.Encoder, t *TransportAddress) error {
	if t == nil {
		return nil
	}
	return EncodeTransportAddress(e, *t)
}

func decodeTransportPtr(d *per.Decoder, present bool) (*TransportAddress, error) {
	if !present {
		return nil, nil
	}
	t, err := DecodeTransportAddress(d)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// EncodeAliasAddress кодирует AliasAddress
func EncodeAliasAddress(e *per.Encoder, a AliasAddress) error {
	if err := e.PutChoice(int(a.Kind), aliasRootChoices, true); err != nil {
		return err
	}
	switch a.Kind {
	case AliasDialedDigits:
		return e.PutIA5String(a.Value, 1, 128)
	case AliasH323ID:
		return e.PutBMPString(a.Value, 1, 256)
	case AliasURL, AliasEmail, AliasPartyNumber:
		return e.PutOpenType(func(in *per.Encoder) error {
			return in.PutIA5String(a.Value, 1, 512)
		})
	case AliasTransport:
		return e.PutOpenType(func(in *per.Encoder) error {
			return EncodeTransportAddress(in, a.Transport)
		})
	}
	return errors.Wrapf(ErrUnknownChoice, "alias kind %d", a.Kind)
}

// DecodeAliasAddress декодирует AliasAddress
func DecodeAliasAddress(d *per.Decoder) (AliasAddress, error) {
	idx, err := d.Choice(aliasRootChoices, true)
	if err != nil {
		return AliasAddress{}, err
	}
	a := AliasAddress{Kind: AliasKind(idx)}
	switch a.Kind {
	case AliasDialedDigits:
		a.Value, err = d.IA5String(1, 128)
	case AliasH323ID:
		a.Value, err = d.BMPString(1, 256)
	case AliasURL, AliasEmail, AliasPartyNumber:
		err = d.OpenType(func(in *per.Decoder) error {
			var e error
			a.Value, e = in.IA5String(1, 512)
			return e
		})
	case AliasTransport:
		err = d.OpenType(func(in *per.Decoder) error {
			var e error
			a.Transport, e = DecodeTransportAddress(in)
			return e
		})
	default:
		err = d.SkipOpenType()
		if err == nil {
			err = errors.Wrapf(ErrUnknownChoice, "alias kind %d", idx)
		}
	}
	return a, err
}

// EncodeAliasList кодирует SEQUENCE OF AliasAddress
func EncodeAliasList(e *per.Encoder, l []AliasAddress) error {
	if err := e.PutLength(len(l)); err != nil {
		return err
	}
	for _, a := range l {
		if err := EncodeAliasAddress(e, a); err != nil {
			return err
		}
	}
	return nil
}

// DecodeAliasList декодирует SEQUENCE OF AliasAddress
func DecodeAliasList(d *per.Decoder) ([]AliasAddress, error) {
	n, err := d.Length()
	if err != nil {
		return nil, err
	}
	out := make([]AliasAddress, 0, n)
	for i := 0; i < n; i++ {
		a, err := DecodeAliasAddress(d)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// EncodeTransportList кодирует SEQUENCE OF TransportAddress
func EncodeTransportList(e *per.Encoder, l []TransportAddress) error {
	if err := e.PutLength(len(l)); err != nil {
		return err
	}
	for _, t := range l {
		if err := EncodeTransportAddress(e, t); err != nil {
			return err
		}
	}
	return nil
}

// DecodeTransportList декодирует SEQUENCE OF TransportAddress
func DecodeTransportList(d *per.Decoder) ([]TransportAddress, error) {
	n, err := d.Length()
	if err != nil {
		return nil, err
	}
	out := make([]TransportAddress, 0, n)
	for i := 0; i < n; i++ {
		t, err := DecodeTransportAddress(d)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// EncodeOctetStrings кодирует SEQUENCE OF OCTET STRING (fastStart, h245Control)
func EncodeOctetStrings(e *per.Encoder, l [][]byte) error {
	if err := e.PutLength(len(l)); err != nil {
		return err
	}
	for _, b := range l {
		if err := e.PutOctetString(b, 0, -1); err != nil {
			return err
		}
	}
	return nil
}

// DecodeOctetStrings декодирует SEQUENCE OF OCTET STRING
func DecodeOctetStrings(d *per.Decoder) ([][]byte, error) {
	n, err := d.Length()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		b, err := d.OctetString(0, -1)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// EncodeEndpointType кодирует EndpointType
func EncodeEndpointType(e *per.Encoder, t EndpointType) error {
	e.PutExtensionBit(false)
	e.PutOptionals(t.Vendor != "", t.Version != "")
	if err := e.PutConstrainedInt(int64(t.Kind), 0, 3); err != nil {
		return err
	}
	if t.Vendor != "" {
		if err := e.PutIA5String(t.Vendor, 1, 256); err != nil {
			return err
		}
	}
	if t.Version != "" {
		return e.PutIA5String(t.Version, 1, 256)
	}
	return nil
}

// DecodeEndpointType декодирует EndpointType
func DecodeEndpointType(d *per.Decoder) (EndpointType, error) {
	var t EndpointType
	if _, err := d.ExtensionBit(); err != nil {
		return t, err
	}
	opts, err := d.Optionals(2)
	if err != nil {
		return t, err
	}
	k, err := d.ConstrainedInt(0, 3)
	if err != nil {
		return t, err
	}
	t.Kind = EndpointKind(k)
	if opts[0] {
		if t.Vendor, err = d.IA5String(1, 256); err != nil {
			return t, err
		}
	}
	if opts[1] {
		if t.Version, err = d.IA5String(1, 256); err != nil {
			return t, err
		}
	}
	return t, nil
}

// EncodeTokens кодирует SEQUENCE OF Token
func EncodeTokens(e *per.Encoder, l []Token) error {
	if err := e.PutLength(len(l)); err != nil {
		return err
	}
	for _, t := range l {
		e.PutExtensionBit(false)
		e.PutOptionals(t.GeneralID != "", t.SenderID != "", len(t.Challenge) > 0, len(t.Hash) > 0)
		if err := e.PutIA5String(t.OID, 1, 128); err != nil {
			return err
		}
		if err := e.PutConstrainedInt(int64(t.Timestamp), 0, 1<<32-1); err != nil {
			return err
		}
		if err := e.PutConstrainedInt(int64(t.Random), 0, 1<<32-1); err != nil {
			return err
		}
		if t.GeneralID != "" {
			if err := e.PutBMPString(t.GeneralID, 1, 256); err != nil {
				return err
			}
		}
		if t.SenderID != "" {
			if err := e.PutBMPString(t.SenderID, 1, 256); err != nil {
				return err
			}
		}
		if len(t.Challenge) > 0 {
			if err := e.PutOctetString(t.Challenge, 1, 128); err != nil {
				return err
			}
		}
		if len(t.Hash) > 0 {
			if err := e.PutOctetString(t.Hash, 1, 128); err != nil {
				return err
			}
		}
	}
	return nil
}

// DecodeTokens декодирует SEQUENCE OF Token
func DecodeTokens(d *per.Decoder) ([]Token, error) {
	n, err := d.Length()
	if err != nil {
		return nil, err
	}
	out := make([]Token, 0, n)
	for i := 0; i < n; i++ {
		var t Token
		if _, err := d.ExtensionBit(); err != nil {
			return nil, err
		}
		opts, err := d.Optionals(4)
		if err != nil {
			return nil, err
		}
		if t.OID, err = d.IA5String(1, 128); err != nil {
			return nil, err
		}
		ts, err := d.ConstrainedInt(0, 1<<32-1)
		if err != nil {
			return nil, err
		}
		t.Timestamp = uint32(ts)
		rnd, err := d.ConstrainedInt(0, 1<<32-1)
		if err != nil {
			return nil, err
		}
		t.Random = uint32(rnd)
		if opts[0] {
			if t.GeneralID, err = d.BMPString(1, 256); err != nil {
				return nil, err
			}
		}
		if opts[1] {
			if t.SenderID, err = d.BMPString(1, 256); err != nil {
				return nil, err
			}
		}
		if opts[2] {
			if t.Challenge, err = d.OctetString(1, 128); err != nil {
				return nil, err
			}
		}
		if opts[3] {
			if t.Hash, err = d.OctetString(1, 128); err != nil {
				return nil, err
			}
		}
		out = append(out, t)
	}
	return out, nil
}

// EncodeGenericData кодирует SEQUENCE OF GenericData
func EncodeGenericData(e *per.Encoder, l []GenericData) error {
	if err := e.PutLength(len(l)); err != nil {
		return err
	}
	for _, g := range l {
		if err := e.PutIA5String(g.ID, 1, 128); err != nil {
			return err
		}
		if err := e.PutLength(len(g.Parameters)); err != nil {
			return err
		}
		for _, p := range g.Parameters {
			if err := e.PutConstrainedInt(int64(p.ID), 0, 1<<32-1); err != nil {
				return err
			}
			if err := e.PutOctetString(p.Value, 0, -1); err != nil {
				return err
			}
		}
	}
	return nil
}

// DecodeGenericData декодирует SEQUENCE OF GenericData
func DecodeGenericData(d *per.Decoder) ([]GenericData, error) {
	n, err := d.Length()
	if err != nil {
		return nil, err
	}
	out := make([]GenericData, 0, n)
	for i := 0; i < n; i++ {
		var g GenericData
		if g.ID, err = d.IA5String(1, 128); err != nil {
			return nil, err
		}
		np, err := d.Length()
		if err != nil {
			return nil, err
		}
		for j := 0; j < np; j++ {
			id, err := d.ConstrainedInt(0, 1<<32-1)
			if err != nil {
				return nil, err
			}
			v, err := d.OctetString(0, -1)
			if err != nil {
				return nil, err
			}
			g.Parameters = append(g.Parameters, GenericParameter{ID: uint32(id), Value: v})
		}
		out = append(out, g)
	}
	return out, nil
}
