package h245

import (
	"github.com/arzzra/h323/pkg/h225"
	"github.com/arzzra/h323/pkg/per"
)

type walkMode int

const (
	walkCount walkMode = iota
	walkEncode
	walkDecode
)

// walker обходит поля сообщения одинаково при подсчете OPTIONAL,
// кодировании и декодировании
type walker struct {
	mode walkMode
	e    *per.Encoder
	d    *per.Decoder
	opts []bool
	idx  int
	err  error
}

func (w *walker) active() bool {
	return w.mode != walkCount && w.err == nil
}

func (w *walker) fail(err error) {
	if w.err == nil && err != nil {
		w.err = err
	}
}

func (w *walker) optional(present bool) bool {
	if w.mode == walkCount {
		w.opts = append(w.opts, present)
		return false
	}
	if w.err != nil || w.idx >= len(w.opts) {
		return false
	}
	v := w.opts[w.idx]
	w.idx++
	return v
}

func (w *walker) intRange(p *int64, lb, ub int64) {
	if !w.active() {
		return
	}
	if w.mode == walkEncode {
		w.fail(w.e.PutConstrainedInt(*p, lb, ub))
		return
	}
	v, err := w.d.ConstrainedInt(lb, ub)
	w.fail(err)
	*p = v
}

func (w *walker) u8(p *uint8, lb, ub int64) {
	v := int64(*p)
	w.intRange(&v, lb, ub)
	*p = uint8(v)
}

func (w *walker) u16(p *uint16, lb, ub int64) {
	v := int64(*p)
	w.intRange(&v, lb, ub)
	*p = uint16(v)
}

func (w *walker) u32(p *uint32, lb, ub int64) {
	v := int64(*p)
	w.intRange(&v, lb, ub)
	*p = uint32(v)
}

func (w *walker) boolean(p *bool) {
	if !w.active() {
		return
	}
	if w.mode == walkEncode {
		w.e.PutBool(*p)
		return
	}
	v, err := w.d.Bool()
	w.fail(err)
	*p = v
}

func (w *walker) ia5(p *string, lb, ub int) {
	if !w.active() {
		return
	}
	if w.mode == walkEncode {
		w.fail(w.e.PutIA5String(*p, lb, ub))
		return
	}
	v, err := w.d.IA5String(lb, ub)
	w.fail(err)
	*p = v
}

func (w *walker) octets(p *[]byte, lb, ub int) {
	if !w.active() {
		return
	}
	if w.mode == walkEncode {
		w.fail(w.e.PutOctetString(*p, lb, ub))
		return
	}
	v, err := w.d.OctetString(lb, ub)
	w.fail(err)
	*p = v
}

func (w *walker) transport(p *h225.TransportAddress) {
	if !w.active() {
		return
	}
	if w.mode == walkEncode {
		w.fail(h225.EncodeTransportAddress(w.e, *p))
		return
	}
	v, err := h225.DecodeTransportAddress(w.d)
	w.fail(err)
	*p = v
}

func (w *walker) optTransport(p **h225.TransportAddress) {
	if !w.optional(*p != nil) {
		return
	}
	if w.mode == walkDecode {
		*p = &h225.TransportAddress{}
	}
	w.transport(*p)
}

// count обрабатывает длину списка
func (w *walker) count(n *int) {
	if !w.active() {
		return
	}
	if w.mode == walkEncode {
		w.fail(w.e.PutLength(*n))
		return
	}
	v, err := w.d.Length()
	w.fail(err)
	*n = v
}

// choice кодирует CHOICE из NULL-альтернатив с расширениями
func choice[T ~int](w *walker, p *T, root int) {
	if !w.active() {
		return
	}
	if w.mode == walkEncode {
		v := int(*p)
		if err := w.e.PutChoice(v, root, true); err != nil {
			w.fail(err)
			return
		}
		if v >= root {
			w.fail(w.e.PutOpenType(func(*per.Encoder) error { return nil }))
		}
		return
	}
	v, err := w.d.Choice(root, true)
	if err != nil {
		w.fail(err)
		return
	}
	if v >= root {
		w.fail(w.d.SkipOpenType())
	}
	*p = T(v)
}

// sequence обходит SEQUENCE: бит расширения, битовая карта OPTIONAL, поля
func (w *walker) sequence(fields func(w *walker)) {
	if !w.active() {
		return
	}
	count := &walker{mode: walkCount}
	fields(count)
	inner := &walker{mode: w.mode, e: w.e, d: w.d}
	if w.mode == walkEncode {
		w.e.PutExtensionBit(false)
		w.e.PutOptionals(count.opts...)
		inner.opts = count.opts
	} else {
		if _, err := w.d.ExtensionBit(); err != nil {
			w.fail(err)
			return
		}
		opts, err := w.d.Optionals(len(count.opts))
		if err != nil {
			w.fail(err)
			return
		}
		inner.opts = opts
	}
	fields(inner)
	w.fail(inner.err)
}

func (w *walker) capability(c *Capability) {
	w.sequence(func(w *walker) {
		choice(w, &c.Kind, kindCount)
		w.ia5(&c.Format.Name, 1, 64)
		w.u8(&c.Format.PayloadType, 0, 127)
		w.u32(&c.Format.ClockRate, 0, 1<<32-1)
		if w.optional(c.Format.FramesPerPacket != 0) {
			w.u16(&c.Format.FramesPerPacket, 1, 65535)
		}
		if w.optional(c.Format.MaxBitRate != 0) {
			w.u32(&c.Format.MaxBitRate, 1, 1<<32-1)
		}
		choice(w, &c.Direction, 3)
	})
}

func (w *walker) capabilityList(l *[]Capability) {
	n := len(*l)
	w.count(&n)
	if w.mode == walkDecode && w.err == nil {
		*l = make([]Capability, n)
	}
	for i := 0; i < n && w.active(); i++ {
		w.capability(&(*l)[i])
	}
}

func (w *walker) genericParameters(l *[]h225.GenericParameter) {
	n := len(*l)
	w.count(&n)
	if w.mode == walkDecode && w.err == nil {
		*l = make([]h225.GenericParameter, n)
	}
	for i := 0; i < n && w.active(); i++ {
		w.u32(&(*l)[i].ID, 0, 1<<32-1)
		w.octets(&(*l)[i].Value, 0, -1)
	}
}
