package decproto

import (
	"bufio"
	"encoding"
	"fmt"
	"io"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// DefaultMaxMessageSize bounds a single delimited record. It matches the
// message size limit the decoder service advertises on its channel, so any
// payload a producer can legally send fits under it.
const DefaultMaxMessageSize = math.MaxInt32

// WriteDelimited writes m to w prefixed with its varint-encoded byte
// length, the framing used for spool files and archive exports. It returns
// the number of bytes written.
func WriteDelimited(w io.Writer, m encoding.BinaryMarshaler) (int, error) {
	payload, err := m.MarshalBinary()
	if err != nil {
		return 0, err
	}
	buf := protowire.AppendVarint(nil, uint64(len(payload)))
	buf = append(buf, payload...)
	return w.Write(buf)
}

// Reader reads varint length-delimited payloads from a stream.
type Reader struct {
	r       *bufio.Reader
	off     int
	maxSize int
}

// NewReader wraps r. Records larger than DefaultMaxMessageSize are
// rejected; use SetMaxMessageSize to tighten the limit.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r), maxSize: DefaultMaxMessageSize}
}

// SetMaxMessageSize changes the per-record size limit.
func (r *Reader) SetMaxMessageSize(n int) { r.maxSize = n }

// Next reads the next record and decodes it into m. It returns io.EOF at a
// clean record boundary; end of input inside a record is a DecodeError, as
// is a record exceeding the size limit.
func (r *Reader) Next(m encoding.BinaryUnmarshaler) error {
	size, err := r.readSize()
	if err != nil {
		return err
	}
	if size > uint64(r.maxSize) {
		return &DecodeError{Message: "record", Offset: r.off, Err: fmt.Errorf("record size %d exceeds limit %d", size, r.maxSize)}
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return &DecodeError{Message: "record", Offset: r.off, Err: err}
	}
	r.off += len(buf)
	return m.UnmarshalBinary(buf)
}

// readSize reads the varint length prefix byte by byte so a clean EOF at a
// record boundary stays distinguishable from truncation inside a record.
func (r *Reader) readSize() (uint64, error) {
	var buf []byte
	for {
		c, err := r.r.ReadByte()
		if err != nil {
			if err == io.EOF {
				if len(buf) == 0 {
					return 0, io.EOF
				}
				err = io.ErrUnexpectedEOF
			}
			return 0, &DecodeError{Message: "record", Offset: r.off + len(buf), Err: err}
		}
		buf = append(buf, c)
		if c < 0x80 || len(buf) == 10 {
			break
		}
	}
	v, n := protowire.ConsumeVarint(buf)
	if n < 0 {
		return 0, &DecodeError{Message: "record", Offset: r.off, Err: protowire.ParseError(n)}
	}
	r.off += n
	return v, nil
}
