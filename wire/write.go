package wire

import (
	"io"

	"github.com/pkg/errors"
)

// DefaultChunkSize is the suggested data-phase chunk size for large
// object transfers (spec section 4.4).
const DefaultChunkSize = 8192

// WriteContainer encodes and writes a complete container (header plus
// body) to w in a single call.
func WriteContainer(w io.Writer, typ ContainerType, code uint16, id uint32, body []byte) error {
	_, err := w.Write(Encode(typ, code, id, body))
	return errors.Wrap(err, "wire: write container")
}

// WriteDataStream writes a data container's header declaring totalBodyLen
// bytes of body, then copies exactly totalBodyLen bytes from r to w in
// chunkSize pieces. It is used by GetObject/GetThumb to stream a file's
// contents without holding the whole thing in memory at once.
func WriteDataStream(w io.Writer, code uint16, id uint32, totalBodyLen int64, r io.Reader, chunkSize int) error {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	header := EncodeHeader(TypeData, code, id, uint32(HeaderSize)+uint32(totalBodyLen))
	if _, err := w.Write(header); err != nil {
		return errors.Wrap(err, "wire: write data header")
	}
	buf := make([]byte, chunkSize)
	var written int64
	for written < totalBodyLen {
		want := int64(chunkSize)
		if remaining := totalBodyLen - written; remaining < want {
			want = remaining
		}
		n, err := io.ReadFull(r, buf[:want])
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return errors.Wrap(werr, "wire: write data chunk")
			}
			written += int64(n)
		}
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return errors.Wrap(err, "wire: read data source")
		}
		if err != nil {
			break
		}
	}
	if written < totalBodyLen {
		return errors.Wrapf(io.ErrUnexpectedEOF, "wire: data source ended after %d of %d bytes", written, totalBodyLen)
	}
	return nil
}
