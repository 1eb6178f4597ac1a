package codec

import (
	"encoding/binary"

	ixerrors "github.com/Adithya-Monish-Kumar-K/incremental-index/pkg/errors"
)

// Reader consumes varint framed data from a byte slice.
type Reader struct {
	buf []byte
	off int
}

// NewReader returns a Reader positioned at the start of buf.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Len returns the number of unread bytes.
func (r *Reader) Len() int {
	return len(r.buf) - r.off
}

func (r *Reader) Varint() (int64, error) {
	v, n := binary.Varint(r.buf[r.off:])
	if n <= 0 {
		return 0, ixerrors.Corrupt("truncated varint at offset %d", r.off)
	}
	r.off += n
	return v, nil
}

func (r *Reader) Uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.off:])
	if n <= 0 {
		return 0, ixerrors.Corrupt("truncated uvarint at offset %d", r.off)
	}
	r.off += n
	return v, nil
}

// Bytes reads a uvarint length prefix and returns that many bytes without
// copying.
func (r *Reader) Bytes() ([]byte, error) {
	n, err := r.Uvarint()
	if err != nil {
		return nil, err
	}
	if uint64(r.Len()) < n {
		return nil, ixerrors.Corrupt("length %d exceeds remaining %d bytes", n, r.Len())
	}
	b := r.buf[r.off : r.off+int(n)]
	r.off += int(n)
	return b, nil
}

// AppendBytes writes b with a uvarint length prefix.
func AppendBytes(dst, b []byte) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(b)))
	return append(dst, b...)
}
