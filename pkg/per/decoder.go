package per

import (
	"unicode/utf16"

	"github.com/pkg/errors"
)

// ErrTruncated данные закончились раньше ожидаемого
var ErrTruncated = errors.New("per: truncated input")

// Decoder читает PER-кодирование, записанное Encoder
type Decoder struct {
	buf []byte
	pos int // позиция в битах
}

// NewDecoder создает декодер поверх буфера
func NewDecoder(b []byte) *Decoder {
	return &Decoder{buf: b}
}

// Remaining возвращает количество непрочитанных бит
func (d *Decoder) Remaining() int {
	return len(d.buf)*8 - d.pos
}

// Bit читает один бит
func (d *Decoder) Bit() (bool, error) {
	if d.pos >= len(d.buf)*8 {
		return false, ErrTruncated
	}
	b := d.buf[d.pos/8]&(0x80>>uint(d.pos%8)) != 0
	d.pos++
	return b, nil
}

// Bits читает n бит как беззнаковое число
func (d *Decoder) Bits(n int) (uint64, error) {
	var v uint64
	for i := 0; i < n; i++ {
		b, err := d.Bit()
		if err != nil {
			return 0, err
		}
		v <<= 1
		if b {
			v |= 1
		}
	}
	return v, nil
}

// Align пропускает биты до границы октета
func (d *Decoder) Align() {
	if r := d.pos % 8; r != 0 {
		d.pos += 8 - r
	}
}

// Octets читает n выровненных октетов
func (d *Decoder) Octets(n int) ([]byte, error) {
	d.Align()
	start := d.pos / 8
	if start+n > len(d.buf) {
		return nil, ErrTruncated
	}
	out := make([]byte, n)
	copy(out, d.buf[start:start+n])
	d.pos += n * 8
	return out, nil
}

// ExtensionBit читает бит наличия расширений
func (d *Decoder) ExtensionBit() (bool, error) {
	return d.Bit()
}

// ConstrainedInt декодирует целое в диапазоне [lb, ub]
func (d *Decoder) ConstrainedInt(lb, ub int64) (int64, error) {
	rng := uint64(ub - lb + 1)
	var off uint64
	switch {
	case rng == 1:
		return lb, nil
	case rng <= 255:
		v, err := d.Bits(bitsFor(rng - 1))
		if err != nil {
			return 0, err
		}
		off = v
	case rng == 256:
		b, err := d.Octets(1)
		if err != nil {
			return 0, err
		}
		off = uint64(b[0])
	case rng <= 65536:
		b, err := d.Octets(2)
		if err != nil {
			return 0, err
		}
		off = uint64(b[0])<<8 | uint64(b[1])
	default:
		n, err := d.ConstrainedInt(1, int64(octetsFor(rng-1)))
		if err != nil {
			return 0, err
		}
		b, err := d.Octets(int(n))
		if err != nil {
			return 0, err
		}
		for _, c := range b {
			off = off<<8 | uint64(c)
		}
	}
	v := lb + int64(off)
	if v > ub {
		return 0, errors.Wrapf(ErrOutOfRange, "%d not in [%d..%d]", v, lb, ub)
	}
	return v, nil
}

// Length декодирует неограниченный детерминант длины
func (d *Decoder) Length() (int, error) {
	b, err := d.Octets(1)
	if err != nil {
		return 0, err
	}
	if b[0]&0x80 == 0 {
		return int(b[0]), nil
	}
	if b[0]&0xc0 == 0xc0 {
		return 0, errors.Wrap(ErrTooLong, "fragmented length not supported")
	}
	lo, err := d.Octets(1)
	if err != nil {
		return 0, err
	}
	return int(b[0]&0x3f)<<8 | int(lo[0]), nil
}

// SmallNumber декодирует "normally small non-negative whole number"
func (d *Decoder) SmallNumber() (int, error) {
	big, err := d.Bit()
	if err != nil {
		return 0, err
	}
	if !big {
		v, err := d.Bits(6)
		return int(v), err
	}
	v, err := d.Unsigned()
	return int(v), err
}

// Unsigned декодирует полуограниченное целое (lb = 0)
func (d *Decoder) Unsigned() (uint64, error) {
	n, err := d.Length()
	if err != nil {
		return 0, err
	}
	if n > 8 {
		return 0, errors.Wrapf(ErrTooLong, "integer of %d octets", n)
	}
	b, err := d.Octets(n)
	if err != nil {
		return 0, err
	}
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v, nil
}

// Int декодирует неограниченное целое со знаком
func (d *Decoder) Int() (int64, error) {
	n, err := d.Length()
	if err != nil {
		return 0, err
	}
	if n == 0 || n > 8 {
		return 0, errors.Wrapf(ErrTooLong, "integer of %d octets", n)
	}
	b, err := d.Octets(n)
	if err != nil {
		return 0, err
	}
	var v int64
	if b[0]&0x80 != 0 {
		v = -1
	}
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	return v, nil
}

// Choice декодирует индекс CHOICE. Для расширений возвращает root+n.
func (d *Decoder) Choice(root int, extensible bool) (int, error) {
	if extensible {
		ext, err := d.Bit()
		if err != nil {
			return 0, err
		}
		if ext {
			n, err := d.SmallNumber()
			if err != nil {
				return 0, err
			}
			return root + n, nil
		}
	}
	v, err := d.ConstrainedInt(0, int64(root-1))
	return int(v), err
}

// Enum декодирует ENUMERATED
func (d *Decoder) Enum(root int, extensible bool) (int, error) {
	return d.Choice(root, extensible)
}

// Bool декодирует BOOLEAN
func (d *Decoder) Bool() (bool, error) {
	return d.Bit()
}

// Optionals читает битовую карту присутствия из n полей
func (d *Decoder) Optionals(n int) ([]bool, error) {
	out := make([]bool, n)
	for i := range out {
		b, err := d.Bit()
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

// SizedLength декодирует длину с ограничением размера [lb, ub]
func (d *Decoder) SizedLength(lb, ub int) (int, error) {
	if ub >= 0 && ub < 65536 {
		v, err := d.ConstrainedInt(int64(lb), int64(ub))
		return int(v), err
	}
	n, err := d.Length()
	if err != nil {
		return 0, err
	}
	return n + lb, nil
}

// OctetString декодирует OCTET STRING с ограничением размера
func (d *Decoder) OctetString(lb, ub int) ([]byte, error) {
	if lb == ub && lb >= 0 {
		if lb > 2 {
			d.Align()
		}
		out := make([]byte, lb)
		for i := range out {
			v, err := d.Bits(8)
			if err != nil {
				return nil, err
			}
			out[i] = byte(v)
		}
		return out, nil
	}
	n, err := d.SizedLength(lb, ub)
	if err != nil {
		return nil, err
	}
	return d.Octets(n)
}

// IA5String декодирует IA5String
func (d *Decoder) IA5String(lb, ub int) (string, error) {
	n, err := d.SizedLength(lb, ub)
	if err != nil {
		return "", err
	}
	b, err := d.Octets(n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// BMPString декодирует BMPString
func (d *Decoder) BMPString(lb, ub int) (string, error) {
	n, err := d.SizedLength(lb, ub)
	if err != nil {
		return "", err
	}
	b, err := d.Octets(n * 2)
	if err != nil {
		return "", err
	}
	units := make([]uint16, n)
	for i := range units {
		units[i] = uint16(b[2*i])<<8 | uint16(b[2*i+1])
	}
	return string(utf16.Decode(units)), nil
}

// OpenType читает open type и декодирует его содержимое функцией fn
func (d *Decoder) OpenType(fn func(*Decoder) error) error {
	n, err := d.Length()
	if err != nil {
		return err
	}
	b, err := d.Octets(n)
	if err != nil {
		return err
	}
	return fn(NewDecoder(b))
}

// SkipOpenType пропускает open type неизвестного расширения
func (d *Decoder) SkipOpenType() error {
	n, err := d.Length()
	if err != nil {
		return err
	}
	_, err = d.Octets(n)
	return err
}
