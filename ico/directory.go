package ico

import (
	"image"
)

// ResourceType identifies what kind of resources a container holds.
type ResourceType uint16

// Container resource types.
const (
	TypeIcon   ResourceType = 1
	TypeCursor ResourceType = 2
)

func (t ResourceType) String() string {
	switch t {
	case TypeIcon:
		return "icon"
	case TypeCursor:
		return "cursor"
	default:
		return "unknown"
	}
}

// Directory is the decoded form of an ICO/CUR container. It is
// immutable once DecodeAll returns and safe for concurrent reads.
type Directory struct {
	resType    ResourceType
	count      int
	entries    []*Entry
	images     []image.Image
	decodeErrs error
}

// Type returns the container resource type.
func (d *Directory) Type() ResourceType {
	return d.resType
}

// Count returns the entry count declared in the container header.
// It may exceed len(Entries()) when malformed records were dropped.
func (d *Directory) Count() int {
	return d.count
}

// Entries returns the usable directory entries in directory order.
// Records with a nonzero reserved byte are not included.
// The returned slice must not be modified.
func (d *Directory) Entries() []*Entry {
	return d.entries
}

// Images returns one slot per declared directory record, aligned with
// the declared order. Slots of dropped or failed entries are nil.
// The returned slice must not be modified.
func (d *Directory) Images() []image.Image {
	return d.images
}

// DecodeErrors returns the recoverable errors absorbed while decoding,
// or nil if every declared resource produced an image. Dropped
// directory records and empty image slots each contribute one error.
func (d *Directory) DecodeErrors() error {
	return d.decodeErrs
}

// Best returns the decoded image with the largest pixel area,
// breaking ties by color depth. It returns nil if no resource
// decoded successfully.
func (d *Directory) Best() image.Image {
	var (
		best  image.Image
		area  int
		depth int
	)
	for _, e := range d.entries {
		if e.img == nil {
			continue
		}
		b := e.img.Bounds()
		a := b.Dx() * b.Dy()
		dp := e.depth()
		if best == nil || a > area || (a == area && dp > depth) {
			best, area, depth = e.img, a, dp
		}
	}
	return best
}

// Entry is one directory record of a container. Except for the
// decoded image attached before DecodeAll returns, entries never
// change after parsing.
type Entry struct {
	index      int
	width      byte
	height     byte
	colorCount byte
	planes     uint16
	bitCount   uint16
	size       uint32
	offset     uint32

	img image.Image
	bih *BitmapInfoHeader
	png bool
}

// Index returns the entry's position in the declared directory table.
func (e *Entry) Index() int {
	return e.index
}

// Width returns the entry width in pixels. The stored byte value 0
// means 256.
func (e *Entry) Width() int {
	if e.width == 0 {
		return 256
	}
	return int(e.width)
}

// Height returns the entry height in pixels. The stored byte value 0
// means 256.
func (e *Entry) Height() int {
	if e.height == 0 {
		return 256
	}
	return int(e.height)
}

// ColorCount returns the declared palette size, 0 meaning the
// resource has no fixed palette size.
func (e *Entry) ColorCount() int {
	return int(e.colorCount)
}

// Planes returns the raw plane count field. For cursor containers the
// field holds the horizontal hotspot coordinate instead, see Hotspot.
func (e *Entry) Planes() uint16 {
	return e.planes
}

// BitCount returns the raw bits-per-pixel field. For cursor
// containers the field holds the vertical hotspot coordinate instead,
// see Hotspot.
func (e *Entry) BitCount() uint16 {
	return e.bitCount
}

// Hotspot returns the click point of a cursor resource, which the
// container stores in the planes and bitCount fields. The value is
// only meaningful when the directory type is TypeCursor.
func (e *Entry) Hotspot() image.Point {
	return image.Pt(int(e.planes), int(e.bitCount))
}

// Size returns the declared byte length of the entry's image block.
func (e *Entry) Size() uint32 {
	return e.size
}

// Offset returns the absolute byte offset of the entry's image block
// within the container.
func (e *Entry) Offset() uint32 {
	return e.offset
}

// Image returns the decoded image, or nil if decoding failed.
func (e *Entry) Image() image.Image {
	return e.img
}

// BitmapInfo returns the parsed bitmap header of a DIB resource.
// It is nil for PNG resources and for entries that failed to decode.
func (e *Entry) BitmapInfo() *BitmapInfoHeader {
	return e.bih
}

// IsPNG reports whether the entry's image block held an embedded PNG
// payload rather than a DIB bitmap.
func (e *Entry) IsPNG() bool {
	return e.png
}

// depth returns the effective color depth for best-image selection.
func (e *Entry) depth() int {
	if e.bih != nil {
		return int(e.bih.BitCount)
	}
	return int(e.bitCount)
}
