package ico

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/png"
	"io"
)

// The 8-byte PNG signature as the two little-endian words found where
// a DIB block would carry its header size field.
const (
	pngMagic1 = 0x474E5089
	pngMagic2 = 0x0A1A0A0D
)

// decodePNG reassembles a complete PNG payload and hands it to the
// configured delegate. Both signature words have already been
// consumed from the stream and are re-serialized into the buffer, so
// the delegate sees the resource exactly as stored.
func (dec *Decoder) decodePNG(cr *countingReader, e *Entry) (image.Image, error) {
	if e.size < 8 {
		return nil, fmt.Errorf("declared resource size %d smaller than the png signature", e.size)
	}
	buf := make([]byte, e.size)
	binary.LittleEndian.PutUint32(buf[0:4], pngMagic1)
	binary.LittleEndian.PutUint32(buf[4:8], pngMagic2)
	if _, err := io.ReadFull(cr, buf[8:]); err != nil {
		return nil, &SourceError{Op: "read png payload", Err: err}
	}

	decode := dec.PNG
	if decode == nil {
		decode = stdPNG
	}
	img, err := decode(buf)
	if err != nil {
		return nil, fmt.Errorf("decode png payload: %w", err)
	}
	return img, nil
}

// stdPNG is the default PNG delegate.
func stdPNG(data []byte) (image.Image, error) {
	return png.Decode(bytes.NewReader(data))
}
