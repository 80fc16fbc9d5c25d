// Package per реализует подмножество ASN.1 PER (aligned variant), достаточное
// для кодирования PDU H.225.0, RAS и H.245.
//
// Поддерживаются:
//   - битовые поля и выравнивание на границу октета
//   - ограниченные и неограниченные целые числа
//   - детерминанты длины до 16K
//   - индексы CHOICE и бит расширения
//   - OCTET STRING, IA5String, BMPString с ограничениями размера
//   - open type (вложенное кодирование с префиксом длины)
package per

import (
	"math/bits"
	"unicode/utf16"

	"github.com/pkg/errors"
)

// MaxLength максимальная длина, кодируемая одним детерминантом длины
const MaxLength = 16383

var (
	// ErrOutOfRange значение вне допустимого диапазона ограничения
	ErrOutOfRange = errors.New("per: value out of range")
	// ErrTooLong длина превышает поддерживаемый предел
	ErrTooLong = errors.New("per: length too large")
)

// Encoder накапливает биты PER-кодирования.
// Нулевое значение готово к использованию.
type Encoder struct {
	buf  []byte
	used int // занятых бит в последнем октете (0 = октет заполнен или буфер пуст)
}

// NewEncoder создает энкодер с заранее выделенной емкостью
func NewEncoder(capacity int) *Encoder {
	return &Encoder{buf: make([]byte, 0, capacity)}
}

// Bytes возвращает закодированные октеты. Хвостовые биты дополняются нулями.
func (e *Encoder) Bytes() []byte {
	return e.buf
}

// Len возвращает количество записанных бит
func (e *Encoder) Len() int {
	if e.used == 0 {
		return len(e.buf) * 8
	}
	return (len(e.buf)-1)*8 + e.used
}

// PutBit записывает один бит
func (e *Encoder) PutBit(b bool) {
	if e.used == 0 {
		e.buf = append(e.buf, 0)
	}
	if b {
		e.buf[len(e.buf)-1] |= 0x80 >> uint(e.used)
	}
	e.used = (e.used + 1) % 8
}

// PutBits записывает n младших бит значения v, начиная со старшего
func (e *Encoder) PutBits(v uint64, n int) {
	for i := n - 1; i >= 0; i-- {
		e.PutBit(v&(1<<uint(i)) != 0)
	}
}

// Align дополняет текущий октет нулями
func (e *Encoder) Align() {
	e.used = 0
}

// PutOctets записывает октеты с выравниванием
func (e *Encoder) PutOctets(b []byte) {
	e.Align()
	e.buf = append(e.buf, b...)
}

// PutExtensionBit записывает бит наличия расширений
func (e *Encoder) PutExtensionBit(extended bool) {
	e.PutBit(extended)
}

// PutConstrainedInt кодирует целое в диапазоне [lb, ub] (X.691 10.5)
func (e *Encoder) PutConstrainedInt(v, lb, ub int64) error {
	if v < lb || v > ub {
		return errors.Wrapf(ErrOutOfRange, "%d not in [%d..%d]", v, lb, ub)
	}
	rng := uint64(ub - lb + 1)
	off := uint64(v - lb)
	switch {
	case rng == 1:
		return nil
	case rng <= 255:
		e.PutBits(off, bitsFor(rng-1))
	case rng == 256:
		e.Align()
		e.buf = append(e.buf, byte(off))
	case rng <= 65536:
		e.Align()
		e.buf = append(e.buf, byte(off>>8), byte(off))
	default:
		n := octetsFor(off)
		maxOctets := octetsFor(rng - 1)
		if err := e.PutConstrainedInt(int64(n), 1, int64(maxOctets)); err != nil {
			return err
		}
		e.Align()
		for i := n - 1; i >= 0; i-- {
			e.buf = append(e.buf, byte(off>>(uint(i)*8)))
		}
	}
	return nil
}

// PutLength кодирует неограниченный детерминант длины (X.691 10.9)
func (e *Encoder) PutLength(n int) error {
	if n < 0 || n > MaxLength {
		return errors.Wrapf(ErrTooLong, "length %d", n)
	}
	e.Align()
	if n < 128 {
		e.buf = append(e.buf, byte(n))
		return nil
	}
	e.buf = append(e.buf, 0x80|byte(n>>8), byte(n))
	return nil
}

// PutSmallNumber кодирует "normally small non-negative whole number"
func (e *Encoder) PutSmallNumber(n int) error {
	if n < 64 {
		e.PutBit(false)
		e.PutBits(uint64(n), 6)
		return nil
	}
	e.PutBit(true)
	return e.PutUnsigned(uint64(n))
}

// PutUnsigned кодирует полуограниченное целое (lb = 0)
func (e *Encoder) PutUnsigned(v uint64) error {
	n := octetsFor(v)
	if err := e.PutLength(n); err != nil {
		return err
	}
	for i := n - 1; i >= 0; i-- {
		e.buf = append(e.buf, byte(v>>(uint(i)*8)))
	}
	return nil
}

// PutInt кодирует неограниченное целое со знаком (дополнительный код)
func (e *Encoder) PutInt(v int64) error {
	n := 1
	for n < 8 {
		lim := int64(1) << (uint(n)*8 - 1)
		if v >= -lim && v < lim {
			break
		}
		n++
	}
	if err := e.PutLength(n); err != nil {
		return err
	}
	u := uint64(v)
	for i := n - 1; i >= 0; i-- {
		e.buf = append(e.buf, byte(u>>(uint(i)*8)))
	}
	return nil
}

// PutChoice кодирует индекс альтернативы CHOICE.
// Для расширяемого CHOICE индексы >= root кодируются как расширения.
func (e *Encoder) PutChoice(idx, root int, extensible bool) error {
	if extensible {
		if idx >= root {
			e.PutBit(true)
			return e.PutSmallNumber(idx - root)
		}
		e.PutBit(false)
	}
	if idx < 0 || idx >= root {
		return errors.Wrapf(ErrOutOfRange, "choice %d of %d", idx, root)
	}
	return e.PutConstrainedInt(int64(idx), 0, int64(root-1))
}

// PutEnum кодирует ENUMERATED (аналогично индексу CHOICE)
func (e *Encoder) PutEnum(v, root int, extensible bool) error {
	return e.PutChoice(v, root, extensible)
}

// PutBool кодирует BOOLEAN
func (e *Encoder) PutBool(b bool) {
	e.PutBit(b)
}

// PutOptionals записывает битовую карту присутствия OPTIONAL полей
func (e *Encoder) PutOptionals(present ...bool) {
	for _, p := range present {
		e.PutBit(p)
	}
}

// PutSizedLength кодирует длину с ограничением размера [lb, ub].
// ub < 0 означает отсутствие верхней границы.
func (e *Encoder) PutSizedLength(n, lb, ub int) error {
	if n < lb || (ub >= 0 && n > ub) {
		return errors.Wrapf(ErrOutOfRange, "size %d not in [%d..%d]", n, lb, ub)
	}
	if ub >= 0 && ub < 65536 {
		return e.PutConstrainedInt(int64(n), int64(lb), int64(ub))
	}
	return e.PutLength(n - lb)
}

// PutOctetString кодирует OCTET STRING с ограничением размера
func (e *Encoder) PutOctetString(b []byte, lb, ub int) error {
	if lb == ub && lb >= 0 {
		if len(b) != lb {
			return errors.Wrapf(ErrOutOfRange, "fixed size %d, got %d", lb, len(b))
		}
		if lb > 2 {
			e.Align()
		}
		for _, c := range b {
			e.PutBits(uint64(c), 8)
		}
		return nil
	}
	if err := e.PutSizedLength(len(b), lb, ub); err != nil {
		return err
	}
	e.PutOctets(b)
	return nil
}

// PutIA5String кодирует IA5String (7 бит на символ в aligned PER расширяется до 8)
func (e *Encoder) PutIA5String(s string, lb, ub int) error {
	if err := e.PutSizedLength(len(s), lb, ub); err != nil {
		return err
	}
	e.Align()
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7f {
			return errors.Wrapf(ErrOutOfRange, "non-IA5 character %q", s[i])
		}
		e.buf = append(e.buf, s[i])
	}
	return nil
}

// PutBMPString кодирует BMPString (UCS-2, 16 бит на символ)
func (e *Encoder) PutBMPString(s string, lb, ub int) error {
	units := utf16.Encode([]rune(s))
	if err := e.PutSizedLength(len(units), lb, ub); err != nil {
		return err
	}
	e.Align()
	for _, u := range units {
		e.buf = append(e.buf, byte(u>>8), byte(u))
	}
	return nil
}

// PutOpenType кодирует вложенное значение как open type.
// Внутреннее кодирование выполняется отдельным энкодером.
func (e *Encoder) PutOpenType(fn func(*Encoder) error) error {
	inner := NewEncoder(32)
	if err := fn(inner); err != nil {
		return err
	}
	b := inner.Bytes()
	if len(b) == 0 {
		b = []byte{0}
	}
	if err := e.PutLength(len(b)); err != nil {
		return err
	}
	e.PutOctets(b)
	return nil
}

func bitsFor(v uint64) int {
	if v == 0 {
		return 1
	}
	return bits.Len64(v)
}

func octetsFor(v uint64) int {
	if v == 0 {
		return 1
	}
	return (bits.Len64(v) + 7) / 8
}
