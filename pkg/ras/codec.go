package ras

import (
	"github.com/arzzra/h323/pkg/h225"
	"github.com/arzzra/h323/pkg/per"
	"github.com/pkg/errors"
)

type codecMode int

const (
	modeCount codecMode = iota
	modeEncode
	modeDecode
)

// codec симметричный обход полей сообщения.
// Проход modeCount собирает битовую карту OPTIONAL полей,
// затем тот же обход выполняет кодирование или декодирование.
type codec struct {
	mode codecMode
	e    *per.Encoder
	d    *per.Decoder
	opts []bool
	idx  int
	err  error
}

func (c *codec) active() bool {
	return c.mode != modeCount && c.err == nil
}

func (c *codec) fail(err error) {
	if c.err == nil && err != nil {
		c.err = err
	}
}

// optional отмечает OPTIONAL поле и возвращает true, если поле нужно обработать
func (c *codec) optional(present bool) bool {
	if c.mode == modeCount {
		c.opts = append(c.opts, present)
		return false
	}
	if c.err != nil || c.idx >= len(c.opts) {
		return false
	}
	v := c.opts[c.idx]
	c.idx++
	return v
}

func (c *codec) seqNum(p *uint16) {
	if !c.active() {
		return
	}
	if c.mode == modeEncode {
		c.fail(c.e.PutConstrainedInt(int64(*p), 1, 65535))
		return
	}
	v, err := c.d.ConstrainedInt(1, 65535)
	c.fail(err)
	*p = uint16(v)
}

func (c *codec) uint16v(p *uint16) {
	if !c.active() {
		return
	}
	if c.mode == modeEncode {
		c.fail(c.e.PutConstrainedInt(int64(*p), 0, 65535))
		return
	}
	v, err := c.d.ConstrainedInt(0, 65535)
	c.fail(err)
	*p = uint16(v)
}

func (c *codec) uint32v(p *uint32) {
	if !c.active() {
		return
	}
	if c.mode == modeEncode {
		c.fail(c.e.PutConstrainedInt(int64(*p), 0, 1<<32-1))
		return
	}
	v, err := c.d.ConstrainedInt(0, 1<<32-1)
	c.fail(err)
	*p = uint32(v)
}

func (c *codec) boolean(p *bool) {
	if !c.active() {
		return
	}
	if c.mode == modeEncode {
		c.e.PutBool(*p)
		return
	}
	v, err := c.d.Bool()
	c.fail(err)
	*p = v
}

func (c *codec) identifier(p *string) {
	if !c.active() {
		return
	}
	if c.mode == modeEncode {
		c.fail(c.e.PutBMPString(*p, 0, 128))
		return
	}
	v, err := c.d.BMPString(0, 128)
	c.fail(err)
	*p = v
}

func (c *codec) protocolID() {
	if !c.active() {
		return
	}
	if c.mode == modeEncode {
		c.fail(c.e.PutIA5String(h225.ProtocolIdentifier, 1, 64))
		return
	}
	_, err := c.d.IA5String(1, 64)
	c.fail(err)
}

func (c *codec) guid(p *h225.GUID) {
	if !c.active() {
		return
	}
	if c.mode == modeEncode {
		c.fail(h225.EncodeGUID(c.e, *p))
		return
	}
	v, err := h225.DecodeGUID(c.d)
	c.fail(err)
	*p = v
}

func (c *codec) transport(p *h225.TransportAddress) {
	if !c.active() {
		return
	}
	if c.mode == modeEncode {
		c.fail(h225.EncodeTransportAddress(c.e, *p))
		return
	}
	v, err := h225.DecodeTransportAddress(c.d)
	c.fail(err)
	*p = v
}

func (c *codec) transports(p *[]h225.TransportAddress) {
	if !c.active() {
		return
	}
	if c.mode == modeEncode {
		c.fail(h225.EncodeTransportList(c.e, *p))
		return
	}
	v, err := h225.DecodeTransportList(c.d)
	c.fail(err)
	*p = v
}

func (c *codec) aliases(p *[]h225.AliasAddress) {
	if !c.active() {
		return
	}
	if c.mode == modeEncode {
		c.fail(h225.EncodeAliasList(c.e, *p))
		return
	}
	v, err := h225.DecodeAliasList(c.d)
	c.fail(err)
	*p = v
}

func (c *codec) endpointType(p *h225.EndpointType) {
	if !c.active() {
		return
	}
	if c.mode == modeEncode {
		c.fail(h225.EncodeEndpointType(c.e, *p))
		return
	}
	v, err := h225.DecodeEndpointType(c.d)
	c.fail(err)
	*p = v
}

func (c *codec) strings(p *[]string) {
	if !c.active() {
		return
	}
	if c.mode == modeEncode {
		if err := c.e.PutLength(len(*p)); err != nil {
			c.fail(err)
			return
		}
		for _, s := range *p {
			c.fail(c.e.PutIA5String(s, 1, 128))
		}
		return
	}
	n, err := c.d.Length()
	if err != nil {
		c.fail(err)
		return
	}
	out := make([]string, 0, n)
	for i := 0; i < n && c.err == nil; i++ {
		s, err := c.d.IA5String(1, 128)
		c.fail(err)
		out = append(out, s)
	}
	*p = out
}

func (c *codec) optTokens(p *[]h225.Token) {
	if !c.optional(len(*p) > 0) {
		return
	}
	if c.mode == modeEncode {
		c.fail(h225.EncodeTokens(c.e, *p))
		return
	}
	v, err := h225.DecodeTokens(c.d)
	c.fail(err)
	*p = v
}

func (c *codec) optAliases(p *[]h225.AliasAddress) {
	if c.optional(len(*p) > 0) {
		c.aliases(p)
	}
}

func (c *codec) optTransport(p **h225.TransportAddress) {
	if !c.optional(*p != nil) {
		return
	}
	if c.mode == modeDecode {
		*p = &h225.TransportAddress{}
	}
	c.transport(*p)
}

func (c *codec) optIdentifier(p *string) {
	if c.optional(*p != "") {
		c.identifier(p)
	}
}

func (c *codec) optUint32(p *uint32) {
	if c.optional(*p != 0) {
		c.uint32v(p)
	}
}

func (c *codec) optStrings(p *[]string) {
	if c.optional(len(*p) > 0) {
		c.strings(p)
	}
}

func (c *codec) optGUID(p *h225.GUID) {
	if c.optional(!p.IsZero()) {
		c.guid(p)
	}
}

// enumField кодирует CHOICE из NULL-альтернатив с расширениями
func enumField[T ~int](c *codec, p *T, root int) {
	if !c.active() {
		return
	}
	if c.mode == modeEncode {
		v := int(*p)
		if err := c.e.PutChoice(v, root, true); err != nil {
			c.fail(err)
			return
		}
		if v >= root {
			c.fail(c.e.PutOpenType(func(*per.Encoder) error { return nil }))
		}
		return
	}
	v, err := c.d.Choice(root, true)
	if err != nil {
		c.fail(err)
		return
	}
	if v >= root {
		c.fail(c.d.SkipOpenType())
	}
	*p = T(v)
}

func optEnum[T ~int](c *codec, p *T, present bool, root int) bool {
	if !c.optional(present) {
		return false
	}
	enumField(c, p, root)
	return true
}

func perCallInfos(c *codec, p *[]PerCallInfo) {
	if !c.active() {
		return
	}
	n := len(*p)
	if c.mode == modeEncode {
		c.fail(c.e.PutLength(n))
	} else {
		v, err := c.d.Length()
		c.fail(err)
		n = v
		*p = make([]PerCallInfo, n)
	}
	for i := 0; i < n && c.err == nil; i++ {
		pc := &(*p)[i]
		c.uint16v(&pc.CallReferenceValue)
		c.guid(&pc.ConferenceID)
		c.guid(&pc.CallIdentifier)
		c.boolean(&pc.Originator)
		c.uint32v(&pc.BandWidth)
	}
}

// Encode кодирует RAS сообщение
func Encode(m Message) ([]byte, error) {
	e := per.NewEncoder(128)
	t := m.Type()
	if err := e.PutChoice(int(t), rootMessages, true); err != nil {
		return nil, err
	}
	var err error
	if int(t) < rootMessages {
		err = encodeFields(e, m)
	} else {
		err = e.PutOpenType(func(in *per.Encoder) error { return encodeFields(in, m) })
	}
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s", t)
	}
	return e.Bytes(), nil
}

func encodeFields(e *per.Encoder, m Message) error {
	count := &codec{mode: modeCount}
	m.fields(count)
	e.PutExtensionBit(false)
	e.PutOptionals(count.opts...)
	c := &codec{mode: modeEncode, e: e, opts: count.opts}
	m.fields(c)
	return c.err
}

// Decode декодирует RAS сообщение
func Decode(b []byte) (Message, error) {
	d := per.NewDecoder(b)
	idx, err := d.Choice(rootMessages, true)
	if err != nil {
		return nil, errors.Wrap(err, "decode ras choice")
	}
	m := newMessage(MessageType(idx))
	if m == nil {
		return nil, errors.Wrapf(ErrUnknownMessage, "type %d", idx)
	}
	if idx < rootMessages {
		err = decodeFields(d, m)
	} else {
		err = d.OpenType(func(in *per.Decoder) error { return decodeFields(in, m) })
	}
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", m.Type())
	}
	return m, nil
}

func decodeFields(d *per.Decoder, m Message) error {
	count := &codec{mode: modeCount}
	m.fields(count)
	if _, err := d.ExtensionBit(); err != nil {
		return err
	}
	opts, err := d.Optionals(len(count.opts))
	if err != nil {
		return err
	}
	c := &codec{mode: modeDecode, d: d, opts: opts}
	m.fields(c)
	return c.err
}
