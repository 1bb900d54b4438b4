package ico

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testEntry mirrors the 16-byte directory record layout.
type testEntry struct {
	width, height, colorCount, reserved byte
	planes, bitCount                    uint16
	size, offset                        uint32
}

// buildContainer assembles a container from a header, directory
// records and image blocks appended in the given order.
func buildContainer(typ uint16, entries []testEntry, blocks ...[]byte) []byte {
	var b bytes.Buffer
	binary.Write(&b, binary.LittleEndian, uint16(0))
	binary.Write(&b, binary.LittleEndian, typ)
	binary.Write(&b, binary.LittleEndian, uint16(len(entries)))
	for _, e := range entries {
		b.WriteByte(e.width)
		b.WriteByte(e.height)
		b.WriteByte(e.colorCount)
		b.WriteByte(e.reserved)
		binary.Write(&b, binary.LittleEndian, e.planes)
		binary.Write(&b, binary.LittleEndian, e.bitCount)
		binary.Write(&b, binary.LittleEndian, e.size)
		binary.Write(&b, binary.LittleEndian, e.offset)
	}
	for _, blk := range blocks {
		b.Write(blk)
	}
	return b.Bytes()
}

// tableEnd returns the offset of the first image block for n declared
// records.
func tableEnd(n int) uint32 {
	return uint32(6 + 16*n)
}

// buildDIB assembles one DIB image block: bitmap header, color table
// and the two mask planes.
func buildDIB(width, height int32, planes, bitCount uint16, pal, xor, and []byte) []byte {
	var b bytes.Buffer
	binary.Write(&b, binary.LittleEndian, uint32(40))
	binary.Write(&b, binary.LittleEndian, width)
	binary.Write(&b, binary.LittleEndian, height)
	binary.Write(&b, binary.LittleEndian, planes)
	binary.Write(&b, binary.LittleEndian, bitCount)
	b.Write(make([]byte, 24)) // compression through colorsImportant
	b.Write(pal)
	b.Write(xor)
	b.Write(and)
	return b.Bytes()
}

// grayPalette returns n BGR0 palette entries with value i in every
// channel.
func grayPalette(n int) []byte {
	pal := make([]byte, 4*n)
	for i := 0; i < n; i++ {
		pal[4*i] = byte(i)
		pal[4*i+1] = byte(i)
		pal[4*i+2] = byte(i)
	}
	return pal
}

// mono2x2 builds the canonical 2x2 1 bpp test icon: palette
// {black, white}, XOR rows 10 and 01 bottom up, fully opaque.
func mono2x2() []byte {
	pal := []byte{
		0, 0, 0, 0, // black
		255, 255, 255, 0, // white
	}
	xor := []byte{
		0x80, 0, 0, 0, // bottom row: pixels 1,0
		0x40, 0, 0, 0, // top row: pixels 0,1
	}
	and := make([]byte, 8)
	return buildDIB(2, 4, 1, 1, pal, xor, and)
}

func TestDecodeHeaderErrors(t *testing.T) {
	t.Parallel()

	// Nonzero reserved word.
	data := buildContainer(1, nil)
	data[0] = 1
	d, err := DecodeAll(bytes.NewReader(data))
	assert.Nil(t, d)
	var hdrErr HeaderError
	require.ErrorAs(t, err, &hdrErr)

	// Unsupported resource type.
	d, err = DecodeAll(bytes.NewReader(buildContainer(3, nil)))
	assert.Nil(t, d)
	require.ErrorAs(t, err, &hdrErr)

	// Truncated header.
	d, err = DecodeAll(bytes.NewReader([]byte{0, 0, 1}))
	assert.Nil(t, d)
	var srcErr *SourceError
	require.ErrorAs(t, err, &srcErr)
}

func TestDecodeTruncatedTable(t *testing.T) {
	t.Parallel()

	data := buildContainer(1, []testEntry{
		{width: 2, height: 2, colorCount: 2, planes: 1, bitCount: 1, size: 64, offset: tableEnd(2)},
	})
	// Declare two records but provide only one.
	binary.LittleEndian.PutUint16(data[4:6], 2)

	d, err := DecodeAll(bytes.NewReader(data))
	assert.Nil(t, d)
	var srcErr *SourceError
	require.ErrorAs(t, err, &srcErr)
}

func TestDecodeMono(t *testing.T) {
	t.Parallel()

	block := mono2x2()
	data := buildContainer(1, []testEntry{
		{width: 2, height: 2, colorCount: 2, planes: 1, bitCount: 1, size: uint32(len(block)), offset: tableEnd(1)},
	}, block)

	d, err := DecodeAll(bytes.NewReader(data))
	require.NoError(t, err)
	require.NoError(t, d.DecodeErrors())
	assert.Equal(t, TypeIcon, d.Type())
	assert.Equal(t, 1, d.Count())
	require.Len(t, d.Entries(), 1)
	require.Len(t, d.Images(), 1)

	img := d.Images()[0]
	require.NotNil(t, img)
	assert.Equal(t, image.Rect(0, 0, 2, 2), img.Bounds())

	black := color.NRGBA{0, 0, 0, 255}
	white := color.NRGBA{255, 255, 255, 255}
	// Top output row comes from the upper source row (01), bottom
	// from the lower one (10).
	assert.Equal(t, black, img.At(0, 0))
	assert.Equal(t, white, img.At(1, 0))
	assert.Equal(t, white, img.At(0, 1))
	assert.Equal(t, black, img.At(1, 1))

	e := d.Entries()[0]
	assert.False(t, e.IsPNG())
	require.NotNil(t, e.BitmapInfo())
	assert.Equal(t, uint16(1), e.BitmapInfo().BitCount)
}

func TestDecodeDroppedEntry(t *testing.T) {
	t.Parallel()

	block := mono2x2()
	data := buildContainer(1, []testEntry{
		{width: 16, height: 16, reserved: 5, size: 9999, offset: 9999},
		{width: 2, height: 2, colorCount: 2, planes: 1, bitCount: 1, size: uint32(len(block)), offset: tableEnd(2)},
	}, block)

	d, err := DecodeAll(bytes.NewReader(data))
	require.NoError(t, err)

	// The bad record is gone from the entry set but still counted.
	assert.Equal(t, 2, d.Count())
	require.Len(t, d.Entries(), 1)
	assert.Equal(t, 1, d.Entries()[0].Index())

	// Image slots keep the declared positions.
	require.Len(t, d.Images(), 2)
	assert.Nil(t, d.Images()[0])
	assert.NotNil(t, d.Images()[1])

	var entryErr *DirectoryEntryError
	require.ErrorAs(t, d.DecodeErrors(), &entryErr)
	assert.Equal(t, 0, entryErr.Index)
}

func TestDecodeOutOfOrderBlocks(t *testing.T) {
	t.Parallel()

	small := mono2x2()
	big := buildDIB(4, 8, 1, 1, grayPalette(2),
		make([]byte, 4*4), make([]byte, 4*4))

	// Directory order is the reverse of file order.
	first := tableEnd(2)
	data := buildContainer(1, []testEntry{
		{width: 4, height: 4, colorCount: 2, planes: 1, bitCount: 1, size: uint32(len(big)), offset: first + uint32(len(small))},
		{width: 2, height: 2, colorCount: 2, planes: 1, bitCount: 1, size: uint32(len(small)), offset: first},
	}, small, big)

	d, err := DecodeAll(bytes.NewReader(data))
	require.NoError(t, err)
	require.NoError(t, d.DecodeErrors())
	require.Len(t, d.Images(), 2)
	assert.Equal(t, image.Rect(0, 0, 4, 4), d.Images()[0].Bounds())
	assert.Equal(t, image.Rect(0, 0, 2, 2), d.Images()[1].Bounds())
}

func TestDecodeOrphanBlock(t *testing.T) {
	t.Parallel()

	block := mono2x2()
	data := buildContainer(1, []testEntry{
		// Declared offset matches nothing in the file.
		{width: 2, height: 2, colorCount: 2, planes: 1, bitCount: 1, size: uint32(len(block)), offset: 9999},
	}, block)

	d, err := DecodeAll(bytes.NewReader(data))
	require.NoError(t, err)

	// The block was consumed but its result dropped.
	require.Len(t, d.Images(), 1)
	assert.Nil(t, d.Images()[0])
	assert.Nil(t, d.Entries()[0].Image())

	var imgErr *ImageDecodeError
	require.ErrorAs(t, d.DecodeErrors(), &imgErr)
	assert.Equal(t, -1, imgErr.Index)
}

func TestDecodeMissingBlock(t *testing.T) {
	t.Parallel()

	// Entry declared, stream ends at the block boundary.
	data := buildContainer(1, []testEntry{
		{width: 2, height: 2, colorCount: 2, planes: 1, bitCount: 1, size: 64, offset: tableEnd(1)},
	})

	d, err := DecodeAll(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, d.Images(), 1)
	assert.Nil(t, d.Images()[0])
}

func TestDecodeTruncatedBlock(t *testing.T) {
	t.Parallel()

	block := mono2x2()
	data := buildContainer(1, []testEntry{
		{width: 2, height: 2, colorCount: 2, planes: 1, bitCount: 1, size: uint32(len(block)), offset: tableEnd(1)},
	}, block[:len(block)-5])

	d, err := DecodeAll(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Nil(t, d.Images()[0])

	var imgErr *ImageDecodeError
	require.ErrorAs(t, d.DecodeErrors(), &imgErr)
	var srcErr *SourceError
	assert.ErrorAs(t, imgErr.Err, &srcErr)
}

func TestDecodeUnknownHeaderSize(t *testing.T) {
	t.Parallel()

	blk := make([]byte, 4)
	binary.LittleEndian.PutUint32(blk, 124) // BITMAPV4HEADER, unsupported
	data := buildContainer(1, []testEntry{
		{width: 2, height: 2, size: 4, offset: tableEnd(1)},
	}, blk)

	d, err := DecodeAll(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Nil(t, d.Images()[0])
	assert.ErrorContains(t, d.DecodeErrors(), "unrecognized bitmap header size")
}

func TestDecodePNGResource(t *testing.T) {
	t.Parallel()

	src := image.NewNRGBA(image.Rect(0, 0, 3, 3))
	src.SetNRGBA(1, 1, color.NRGBA{R: 200, A: 255})
	var pngBuf bytes.Buffer
	require.NoError(t, png.Encode(&pngBuf, src))
	block := pngBuf.Bytes()

	data := buildContainer(1, []testEntry{
		{width: 3, height: 3, planes: 1, bitCount: 32, size: uint32(len(block)), offset: tableEnd(1)},
	}, block)

	d, err := DecodeAll(bytes.NewReader(data))
	require.NoError(t, err)
	require.NoError(t, d.DecodeErrors())

	img := d.Images()[0]
	require.NotNil(t, img)
	assert.Equal(t, image.Rect(0, 0, 3, 3), img.Bounds())
	r, _, _, a := img.At(1, 1).RGBA()
	assert.Equal(t, uint32(200<<8|200), r)
	assert.Equal(t, uint32(0xFFFF), a)
	assert.True(t, d.Entries()[0].IsPNG())
	assert.Nil(t, d.Entries()[0].BitmapInfo())
}

func TestDecodeCorruptPNGKeepsOthers(t *testing.T) {
	t.Parallel()

	// Valid signature, garbage body.
	bad := make([]byte, 16)
	binary.LittleEndian.PutUint32(bad[0:4], pngMagic1)
	binary.LittleEndian.PutUint32(bad[4:8], pngMagic2)
	good := mono2x2()

	first := tableEnd(2)
	data := buildContainer(1, []testEntry{
		{width: 3, height: 3, planes: 1, bitCount: 32, size: uint32(len(bad)), offset: first},
		{width: 2, height: 2, colorCount: 2, planes: 1, bitCount: 1, size: uint32(len(good)), offset: first + uint32(len(bad))},
	}, bad, good)

	d, err := DecodeAll(bytes.NewReader(data))
	require.NoError(t, err)

	assert.Nil(t, d.Images()[0])
	assert.NotNil(t, d.Images()[1])

	var imgErr *ImageDecodeError
	require.ErrorAs(t, d.DecodeErrors(), &imgErr)
	assert.Equal(t, 0, imgErr.Index)
}

func TestDecodeHalfPNGSignature(t *testing.T) {
	t.Parallel()

	blk := make([]byte, 8)
	binary.LittleEndian.PutUint32(blk[0:4], pngMagic1)
	binary.LittleEndian.PutUint32(blk[4:8], 0xDEADBEEF)
	data := buildContainer(1, []testEntry{
		{width: 2, height: 2, size: 8, offset: tableEnd(1)},
	}, blk)

	d, err := DecodeAll(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Nil(t, d.Images()[0])
	assert.ErrorContains(t, d.DecodeErrors(), "without the second")
}

func TestDecodePNGDelegate(t *testing.T) {
	t.Parallel()

	var got []byte
	dec := &Decoder{PNG: func(data []byte) (image.Image, error) {
		got = append([]byte(nil), data...)
		return nil, errors.New("delegate declined")
	}}

	payload := []byte("not really a png")
	blk := make([]byte, 8+len(payload))
	binary.LittleEndian.PutUint32(blk[0:4], pngMagic1)
	binary.LittleEndian.PutUint32(blk[4:8], pngMagic2)
	copy(blk[8:], payload)

	data := buildContainer(1, []testEntry{
		{width: 2, height: 2, size: uint32(len(blk)), offset: tableEnd(1)},
	}, blk)

	d, err := dec.DecodeAll(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Nil(t, d.Images()[0])
	assert.ErrorContains(t, d.DecodeErrors(), "delegate declined")

	// The delegate sees the payload with the signature restored.
	require.Len(t, got, len(blk))
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}, got[:8])
	assert.Equal(t, payload, got[8:])
}

func TestCursorHotspot(t *testing.T) {
	t.Parallel()

	block := mono2x2()
	data := buildContainer(2, []testEntry{
		// planes and bitCount hold the hotspot for cursors; the real
		// depth lives in the bitmap header.
		{width: 2, height: 2, colorCount: 2, planes: 3, bitCount: 7, size: uint32(len(block)), offset: tableEnd(1)},
	}, block)

	d, err := DecodeAll(bytes.NewReader(data))
	require.NoError(t, err)
	require.NoError(t, d.DecodeErrors())
	assert.Equal(t, TypeCursor, d.Type())
	assert.Equal(t, image.Pt(3, 7), d.Entries()[0].Hotspot())
	assert.NotNil(t, d.Images()[0])
}

func TestEntryZeroMeans256(t *testing.T) {
	t.Parallel()

	data := buildContainer(1, []testEntry{
		{width: 0, height: 0, planes: 1, bitCount: 32, size: 100, offset: tableEnd(1)},
	})

	d, err := DecodeAll(bytes.NewReader(data))
	require.NoError(t, err)
	e := d.Entries()[0]
	assert.Equal(t, 256, e.Width())
	assert.Equal(t, 256, e.Height())
}

func TestDecodeBest(t *testing.T) {
	t.Parallel()

	small := mono2x2()
	big := buildDIB(4, 8, 1, 1, grayPalette(2),
		make([]byte, 4*4), make([]byte, 4*4))

	first := tableEnd(2)
	data := buildContainer(1, []testEntry{
		{width: 2, height: 2, colorCount: 2, planes: 1, bitCount: 1, size: uint32(len(small)), offset: first},
		{width: 4, height: 4, colorCount: 2, planes: 1, bitCount: 1, size: uint32(len(big)), offset: first + uint32(len(small))},
	}, small, big)

	img, err := Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 4), img.Bounds())
}

func TestDecodeConfig(t *testing.T) {
	t.Parallel()

	data := buildContainer(1, []testEntry{
		{width: 16, height: 16, planes: 1, bitCount: 8, size: 100, offset: 9999},
		{width: 0, height: 0, planes: 1, bitCount: 32, size: 100, offset: 9999},
	})

	cfg, err := DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 256, cfg.Width)
	assert.Equal(t, 256, cfg.Height)

	_, err = DecodeConfig(bytes.NewReader(buildContainer(1, nil)))
	assert.ErrorIs(t, err, ErrNoEntries)
}

func TestImageDecodeRegistration(t *testing.T) {
	t.Parallel()

	block := mono2x2()
	data := buildContainer(1, []testEntry{
		{width: 2, height: 2, colorCount: 2, planes: 1, bitCount: 1, size: uint32(len(block)), offset: tableEnd(1)},
	}, block)

	img, format, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "ico", format)
	assert.Equal(t, image.Rect(0, 0, 2, 2), img.Bounds())
}
