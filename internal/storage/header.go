package storage

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow/endian"
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"github.com/23skdu/longbow-tensorcore/internal/device"
	"github.com/23skdu/longbow-tensorcore/internal/dtype"
)

var (
	errPayloadSize = errors.New("payload size does not match header")
	errByteOrder   = errors.New("payload byte order differs from host")
)

// Header describes a storage buffer well enough to rebuild it from its raw
// bytes.
type Header struct {
	Kind      string `cbor:"kind" json:"kind"`
	Count     int    `cbor:"count" json:"count"`
	Backend   string `cbor:"backend" json:"backend"`
	BigEndian bool   `cbor:"big_endian" json:"big_endian"`
}

// Header returns the metadata of s.
func (s *Storage) Header() Header {
	return Header{
		Kind:      s.kind.String(),
		Count:     s.count,
		Backend:   s.backend.Name(),
		BigEndian: endian.IsBigEndian,
	}
}

// MarshalHeader encodes h as CBOR.
func MarshalHeader(h Header) ([]byte, error) {
	return cbor.Marshal(h)
}

// UnmarshalHeader decodes a CBOR header and checks that its kind is known.
func UnmarshalHeader(b []byte) (Header, error) {
	var h Header
	if err := cbor.Unmarshal(b, &h); err != nil {
		return Header{}, errors.Wrap(err, "decode storage header")
	}
	if _, err := dtype.Parse(h.Kind); err != nil {
		return Header{}, errors.Wrap(err, "decode storage header")
	}
	if h.Count < 0 {
		return Header{}, errors.Errorf("decode storage header: negative count %d", h.Count)
	}
	return h, nil
}

// Restore allocates a storage on backend and fills it with payload, which
// must be exactly the bytes described by h. The header's backend tag is
// informational; the caller picks the backend.
func Restore(ctx context.Context, backend device.Backend, h Header, payload []byte) (*Storage, error) {
	kind, err := dtype.Parse(h.Kind)
	if err != nil {
		return nil, err
	}
	if h.BigEndian != endian.IsBigEndian {
		return nil, errByteOrder
	}
	want, err := byteSize(kind, h.Count)
	if err != nil {
		return nil, err
	}
	if len(payload) != want {
		return nil, errors.Wrapf(errPayloadSize, "%d bytes for %d x %s", len(payload), h.Count, kind)
	}
	s, err := Allocate(ctx, backend, kind, h.Count)
	if err != nil {
		return nil, err
	}
	copy(s.data, payload)
	return s, nil
}
