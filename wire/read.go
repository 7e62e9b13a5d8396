package wire

import (
	"io"
)

// ReadContainer reads one complete container from r. It issues repeated
// Read calls — emulating repeated reads of a USB bulk transfer — until
// either the header's declared length has been fully received or a read
// error (including io.EOF) occurs. Receiving more bytes than the declared
// length in total is a protocol violation (ErrTooManyBytes); receiving a
// length shorter than 12 is also a protocol violation (ErrLengthMismatch).
func ReadContainer(r io.Reader) (Container, error) {
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)

	var declared uint32
	haveHeader := false

	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if !haveHeader && len(buf) >= HeaderSize {
			h, hdrErr := DecodeHeader(buf[:HeaderSize])
			if hdrErr != nil {
				return Container{}, hdrErr
			}
			declared = h.Length
			haveHeader = true
		}
		if haveHeader {
			if uint32(len(buf)) > declared {
				return Container{}, ErrTooManyBytes
			}
			if uint32(len(buf)) == declared {
				return Decode(buf)
			}
		}
		if err != nil {
			if err == io.EOF && len(buf) == 0 {
				return Container{}, io.EOF
			}
			return Container{}, err
		}
	}
}
