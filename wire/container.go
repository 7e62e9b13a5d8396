// Package wire implements the PIMA 15740 container framing format: the
// 12-byte little-endian header shared by command, data and response
// containers, plus the parameter and array encodings carried in their
// bodies.
package wire

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// HeaderSize is the fixed length of a container header in bytes.
const HeaderSize = 12

// ContainerType is the PTP container type field.
type ContainerType uint16

// The four container types defined by PIMA 15740.
const (
	TypeCommand  ContainerType = 1
	TypeData     ContainerType = 2
	TypeResponse ContainerType = 3
	TypeEvent    ContainerType = 4
)

// Sentinel errors surfaced by the bulk engine to distinguish a container
// still arriving from a genuine protocol violation.
var (
	ErrShortHeader     = errors.New("wire: fewer than 12 header bytes available")
	ErrLengthMismatch  = errors.New("wire: declared length shorter than header")
	ErrTooManyBytes    = errors.New("wire: received more bytes than the declared length")
	ErrOddParameterLen = errors.New("wire: parameter body is not a multiple of 4 bytes")
)

// Header is the decoded form of a container's first 12 bytes.
type Header struct {
	Length uint32
	Type   ContainerType
	Code   uint16
	ID     uint32
}

// EncodeHeader writes a 12-byte header for the given type, code, transaction
// id and total container length (header included).
func EncodeHeader(typ ContainerType, code uint16, id uint32, length uint32) []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], length)
	binary.LittleEndian.PutUint16(buf[4:6], uint16(typ))
	binary.LittleEndian.PutUint16(buf[6:8], code)
	binary.LittleEndian.PutUint32(buf[8:12], id)
	return buf
}

// DecodeHeader parses the first 12 bytes of buf into a Header. It does not
// validate that len(buf) >= Length; callers read until that much has
// arrived.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrShortHeader
	}
	h := Header{
		Length: binary.LittleEndian.Uint32(buf[0:4]),
		Type:   ContainerType(binary.LittleEndian.Uint16(buf[4:6])),
		Code:   binary.LittleEndian.Uint16(buf[6:8]),
		ID:     binary.LittleEndian.Uint32(buf[8:12]),
	}
	if h.Length < HeaderSize {
		return h, ErrLengthMismatch
	}
	return h, nil
}

// Container is a fully decoded command, data, or response container.
type Container struct {
	Header
	Body []byte
}

// Decode parses a complete container (header + body) from buf. buf must
// contain exactly Length bytes; a shorter or longer buffer is a protocol
// violation the caller (the bulk engine) must have already ruled out by
// reading until Length bytes are in hand.
func Decode(buf []byte) (Container, error) {
	h, err := DecodeHeader(buf)
	if err != nil {
		return Container{}, err
	}
	if uint32(len(buf)) != h.Length {
		return Container{}, errors.Wrapf(ErrLengthMismatch, "have %d bytes, header declares %d", len(buf), h.Length)
	}
	return Container{Header: h, Body: buf[HeaderSize:]}, nil
}

// Encode serializes a container's header and body into one contiguous
// buffer. Length is computed from len(body).
func Encode(typ ContainerType, code uint16, id uint32, body []byte) []byte {
	total := uint32(HeaderSize + len(body))
	buf := make([]byte, 0, total)
	buf = append(buf, EncodeHeader(typ, code, id, total)...)
	buf = append(buf, body...)
	return buf
}

// Params decodes a command or response body as up to five little-endian
// uint32 parameters. The body length must be a multiple of 4.
func (c Container) Params() ([]uint32, error) {
	if len(c.Body)%4 != 0 {
		return nil, ErrOddParameterLen
	}
	out := make([]uint32, len(c.Body)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(c.Body[i*4 : i*4+4])
	}
	return out, nil
}

// Param returns the i'th parameter (0-indexed), or ok=false if the body is
// too short to contain it.
func (c Container) Param(i int) (uint32, bool) {
	params, err := c.Params()
	if err != nil || i >= len(params) {
		return 0, false
	}
	return params[i], true
}

// PutParams encodes a slice of uint32 parameters as a command/response body.
func PutParams(params ...uint32) []byte {
	buf := make([]byte, len(params)*4)
	for i, p := range params {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], p)
	}
	return buf
}

// PutUint32Array encodes the length-prefixed uint32 array format used for
// GetStorageIDs and GetObjectHandles data phases: a 4-byte count followed
// by that many little-endian uint32 values.
func PutUint32Array(values []uint32) []byte {
	buf := make([]byte, 4+len(values)*4)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(values)))
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[4+i*4:4+i*4+4], v)
	}
	return buf
}

// PutUint16 appends a little-endian uint16 to buf and returns the result.
func PutUint16(buf []byte, v uint16) []byte {
	tmp := make([]byte, 2)
	binary.LittleEndian.PutUint16(tmp, v)
	return append(buf, tmp...)
}

// PutUint32 appends a little-endian uint32 to buf and returns the result.
func PutUint32(buf []byte, v uint32) []byte {
	tmp := make([]byte, 4)
	binary.LittleEndian.PutUint32(tmp, v)
	return append(buf, tmp...)
}

// PutUint16Array appends a 4-byte count followed by that many little-endian
// uint16 values, matching the array encoding PTP uses for the supported
// operations/formats lists inside GetDeviceInfo.
func PutUint16Array(buf []byte, values []uint16) []byte {
	buf = PutUint32(buf, uint32(len(values)))
	for _, v := range values {
		buf = PutUint16(buf, v)
	}
	return buf
}
