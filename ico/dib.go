package ico

import (
	"encoding/binary"
	"fmt"
	"image"
	"io"
)

// bihSize is the BITMAPINFOHEADER size field value selecting the DIB
// decode path.
const bihSize = 40

// maxDim caps plausible bitmap dimensions. Directory entries encode
// width and height as single bytes, so anything past 256 on either
// axis is already suspect; the cap only guards allocation size.
const maxDim = 4096

// maxColors caps the color table size. Derived counts use at most a
// 16-bit exponent.
const maxColors = 1 << 16

// BitmapInfoHeader is the fixed 40-byte DIB header preceding the
// pixel planes of a legacy icon bitmap. Height covers the stacked
// XOR and AND planes and is twice the visible pixel height.
type BitmapInfoHeader struct {
	Size            uint32
	Width           int32
	Height          int32
	Planes          uint16
	BitCount        uint16
	Compression     uint32
	SizeImage       uint32
	XPelsPerMeter   int32
	YPelsPerMeter   int32
	ColorsUsed      uint32
	ColorsImportant uint32
}

// parseInfoHeader decodes the 36 header bytes following the already
// consumed size field.
func parseInfoHeader(b [36]byte) *BitmapInfoHeader {
	return &BitmapInfoHeader{
		Size:            bihSize,
		Width:           int32(binary.LittleEndian.Uint32(b[0:4])),
		Height:          int32(binary.LittleEndian.Uint32(b[4:8])),
		Planes:          binary.LittleEndian.Uint16(b[8:10]),
		BitCount:        binary.LittleEndian.Uint16(b[10:12]),
		Compression:     binary.LittleEndian.Uint32(b[12:16]),
		SizeImage:       binary.LittleEndian.Uint32(b[16:20]),
		XPelsPerMeter:   int32(binary.LittleEndian.Uint32(b[20:24])),
		YPelsPerMeter:   int32(binary.LittleEndian.Uint32(b[24:28])),
		ColorsUsed:      binary.LittleEndian.Uint32(b[28:32]),
		ColorsImportant: binary.LittleEndian.Uint32(b[32:36]),
	}
}

// resolveColorCount derives the effective color table size from the
// bitmap header when the directory entry declares none. A result of 0
// means true color, no table. Counts needing more than a 16-bit
// exponent report -1.
func resolveColorCount(planes, bitCount uint16) int {
	if planes == 1 {
		switch bitCount {
		case 1:
			return 2
		case 4:
			return 16
		case 8:
			return 256
		default:
			return 0
		}
	}
	shift := uint(planes) * uint(bitCount)
	if shift > 16 {
		return -1
	}
	return 1 << shift
}

// xorStride returns the byte width of one XOR plane scanline, padded
// to a 4-byte boundary.
func xorStride(width, bitCount int) int {
	return ((width*bitCount + 31) / 32) * 4
}

// andStride returns the byte width of one AND plane scanline, padded
// to a 4-byte boundary. The AND plane is always 1 bpp.
func andStride(width int) int {
	return ((width + 31) / 32) * 4
}

// rgbQuad is one color table entry, stored as blue, green, red,
// reserved in the container.
type rgbQuad struct {
	b, g, r byte
}

// bitmask selects the pixel bit within a byte, most significant bit
// first.
var bitmask = [8]byte{128, 64, 32, 16, 8, 4, 2, 1}

// decodeDIB reads and expands one DIB image block. The size field has
// already been consumed. The entry may be nil for orphan blocks; the
// block is decoded the same way so the stream stays positioned at the
// next block.
func (dec *Decoder) decodeDIB(cr *countingReader, e *Entry) (*image.NRGBA, *BitmapInfoHeader, error) {
	var hdr [36]byte
	if _, err := io.ReadFull(cr, hdr[:]); err != nil {
		return nil, nil, &SourceError{Op: "read bitmap header", Err: err}
	}
	bih := parseInfoHeader(hdr)

	if bih.Width <= 0 || bih.Height <= 0 || bih.Height%2 != 0 ||
		bih.Width > maxDim || bih.Height > 2*maxDim {
		return nil, nil, fmt.Errorf("implausible bitmap dimensions %dx%d", bih.Width, bih.Height)
	}
	width := int(bih.Width)
	pixelHeight := int(bih.Height) / 2

	colors := 0
	if e != nil {
		colors = int(e.colorCount)
	}
	if colors == 0 {
		colors = resolveColorCount(bih.Planes, bih.BitCount)
	}
	if colors < 0 || colors > maxColors {
		return nil, nil, fmt.Errorf("implausible color table size for %d planes at %d bpp", bih.Planes, bih.BitCount)
	}

	var pal []rgbQuad
	if colors > 0 {
		raw := make([]byte, 4*colors)
		if _, err := io.ReadFull(cr, raw); err != nil {
			return nil, nil, &SourceError{Op: "read color table", Err: err}
		}
		pal = make([]rgbQuad, colors)
		for i := range pal {
			pal[i] = rgbQuad{b: raw[4*i], g: raw[4*i+1], r: raw[4*i+2]}
		}
	}

	// Both planes are read fully even when expansion later fails, so
	// that the cumulative offset stays aligned with the next block.
	xs, as := xorStride(width, int(bih.BitCount)), andStride(width)
	xor := make([]byte, xs*pixelHeight)
	and := make([]byte, as*pixelHeight)
	if _, err := io.ReadFull(cr, xor); err != nil {
		return nil, nil, &SourceError{Op: "read xor plane", Err: err}
	}
	if _, err := io.ReadFull(cr, and); err != nil {
		return nil, nil, &SourceError{Op: "read and plane", Err: err}
	}

	img := image.NewNRGBA(image.Rect(0, 0, width, pixelHeight))
	var err error
	switch bih.BitCount {
	case 1, 4, 8:
		if len(pal) == 0 {
			return nil, bih, fmt.Errorf("missing color table for %d bpp bitmap", bih.BitCount)
		}
		err = expandPaletted(img, int(bih.BitCount), pal, xor, and, xs, as)
	case 16, 24, 32:
		if len(pal) > 0 {
			return nil, bih, fmt.Errorf("unexpected color table on %d bpp bitmap", bih.BitCount)
		}
		err = expandTrueColor(img, int(bih.BitCount), xor, and, xs, as)
	default:
		err = fmt.Errorf("unsupported bit depth %d", bih.BitCount)
	}
	if err != nil {
		return nil, bih, err
	}
	return img, bih, nil
}

// expandPaletted unpacks 1, 4 and 8 bpp XOR planes through the color
// table, compositing alpha from the AND plane. Rows are stored bottom
// up: output row y reads source row pixelHeight-1-y from both planes.
func expandPaletted(img *image.NRGBA, bitCount int, pal []rgbQuad, xor, and []byte, xs, as int) error {
	b := img.Bounds()
	width, pixelHeight := b.Dx(), b.Dy()
	for y := 0; y < pixelHeight; y++ {
		src := pixelHeight - 1 - y
		row := xor[src*xs:]
		for x := 0; x < width; x++ {
			var idx int
			switch bitCount {
			case 1:
				if row[x/8]&bitmask[x%8] != 0 {
					idx = 1
				}
			case 4:
				if x%2 == 0 {
					idx = int(row[x/2] >> 4)
				} else {
					idx = int(row[x/2] & 0x0F)
				}
			case 8:
				idx = int(row[x])
			}
			if idx >= len(pal) {
				return fmt.Errorf("palette index %d out of range at (%d,%d)", idx, x, y)
			}
			setPixel(img, x, y, pal[idx].r, pal[idx].g, pal[idx].b, maskAlpha(and, as, x, src))
		}
	}
	return nil
}

// expandTrueColor unpacks 16, 24 and 32 bpp XOR planes. The 16 bpp
// format is 5-5-5 BGR scaled to 8-bit channels. At 32 bpp alpha comes
// from the fourth sample and the AND plane is ignored.
func expandTrueColor(img *image.NRGBA, bitCount int, xor, and []byte, xs, as int) error {
	b := img.Bounds()
	width, pixelHeight := b.Dx(), b.Dy()
	for y := 0; y < pixelHeight; y++ {
		src := pixelHeight - 1 - y
		row := xor[src*xs:]
		for x := 0; x < width; x++ {
			switch bitCount {
			case 16:
				v := uint16(row[2*x]) | uint16(row[2*x+1])<<8
				blue := byte(v&0x1F) << 3
				green := byte(v>>5&0x1F) << 3
				red := byte(v>>10&0x1F) << 3
				setPixel(img, x, y, red, green, blue, maskAlpha(and, as, x, src))
			case 24:
				setPixel(img, x, y, row[3*x+2], row[3*x+1], row[3*x], maskAlpha(and, as, x, src))
			case 32:
				setPixel(img, x, y, row[4*x+2], row[4*x+1], row[4*x], row[4*x+3])
			}
		}
	}
	return nil
}

// maskAlpha reads the AND plane transparency bit for one pixel:
// 0 means opaque, 1 means transparent.
func maskAlpha(and []byte, as, x, srcRow int) byte {
	if and[srcRow*as+x/8]&bitmask[x%8] != 0 {
		return 0x00
	}
	return 0xFF
}

func setPixel(img *image.NRGBA, x, y int, r, g, b, a byte) {
	off := img.PixOffset(x, y)
	img.Pix[off] = r
	img.Pix[off+1] = g
	img.Pix[off+2] = b
	img.Pix[off+3] = a
}
