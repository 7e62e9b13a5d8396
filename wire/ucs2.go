package wire

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// ErrStringTooLong is returned by PutUCS2 when s (plus its trailing NUL)
// would not fit in the single-byte length prefix PTP strings use.
var ErrStringTooLong = errors.New("wire: string exceeds 254 code units")

// PutUCS2 encodes s as a PTP wire string: a single byte giving the code-unit
// count including a trailing NUL, followed by that many little-endian
// 16-bit code units. s is assumed to be in the host's 8-bit encoding; each
// byte is widened to one UCS-2 code unit, matching the original gadget's
// narrow-to-wide conversion (no multi-byte UTF-8 is supported on the wire).
func PutUCS2(s string) ([]byte, error) {
	n := len(s) + 1 // + trailing NUL
	if n > 255 {
		return nil, ErrStringTooLong
	}
	if n == 1 {
		// Empty string: PTP encodes this as a zero length-prefix byte
		// with no code units at all, not a lone NUL.
		return []byte{0}, nil
	}
	buf := make([]byte, 1+n*2)
	buf[0] = byte(n)
	for i := 0; i < len(s); i++ {
		binary.LittleEndian.PutUint16(buf[1+i*2:3+i*2], uint16(s[i]))
	}
	// trailing NUL code unit already zero from make()
	return buf, nil
}

// GetUCS2 decodes a PTP wire string at the start of buf, returning the
// decoded string (NUL trimmed) and the number of bytes consumed.
func GetUCS2(buf []byte) (string, int, error) {
	if len(buf) < 1 {
		return "", 0, errors.New("wire: buffer too short for string length prefix")
	}
	n := int(buf[0])
	consumed := 1 + n*2
	if len(buf) < consumed {
		return "", 0, errors.Errorf("wire: buffer too short for %d code units", n)
	}
	if n == 0 {
		return "", consumed, nil
	}
	out := make([]byte, 0, n-1)
	for i := 0; i < n; i++ {
		unit := binary.LittleEndian.Uint16(buf[1+i*2 : 3+i*2])
		if unit == 0 {
			break
		}
		out = append(out, byte(unit))
	}
	return string(out), consumed, nil
}
