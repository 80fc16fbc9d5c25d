package q931

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

const (
	tpktVersion    = 3
	tpktHeaderSize = 4
	// MaxTPKTPayload максимальный размер полезной нагрузки TPKT
	MaxTPKTPayload = 0xffff - tpktHeaderSize
)

// ErrBadTPKT заголовок TPKT некорректен
var ErrBadTPKT = errors.New("tpkt: bad header")

// WriteTPKT записывает payload в w одним кадром TPKT
func WriteTPKT(w io.Writer, payload []byte) error {
	if len(payload) > MaxTPKTPayload {
		return errors.Wrapf(ErrBadTPKT, "payload of %d bytes", len(payload))
	}
	frame := make([]byte, tpktHeaderSize+len(payload))
	frame[0] = tpktVersion
	binary.BigEndian.PutUint16(frame[2:], uint16(len(frame)))
	copy(frame[tpktHeaderSize:], payload)
	_, err := w.Write(frame)
	return err
}

// ReadTPKT читает один кадр TPKT и возвращает полезную нагрузку
func ReadTPKT(r io.Reader) ([]byte, error) {
	var hdr [tpktHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	if hdr[0] != tpktVersion {
		return nil, errors.Wrapf(ErrBadTPKT, "version %d", hdr[0])
	}
	n := int(binary.BigEndian.Uint16(hdr[2:]))
	if n < tpktHeaderSize {
		return nil, errors.Wrapf(ErrBadTPKT, "length %d", n)
	}
	payload := make([]byte, n-tpktHeaderSize)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, errors.Wrap(err, "tpkt payload")
	}
	return payload, nil
}
