package ico

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/hashicorp/go-multierror"
)

// A Decoder decodes ICO/CUR containers. The zero value is ready to
// use and decodes embedded PNG resources with the standard library.
type Decoder struct {
	// PNG decodes an embedded PNG resource. It receives the complete
	// payload, signature included, and returns the decoded image.
	// A nil delegate selects image/png.
	PNG func(data []byte) (image.Image, error)
}

// countingReader tracks the cumulative number of bytes consumed from
// the source. Directory entries locate their image blocks by absolute
// offset, and the source cannot be seeked, so the count is the only
// way to match blocks to entries.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// DecodeAll reads a complete container from r in a single forward
// pass. A malformed header or an IO failure before the image blocks
// is fatal and returns a nil directory. Per-entry failures are
// absorbed: the affected image slot stays nil and the cause is
// available through the directory's DecodeErrors.
func (dec *Decoder) DecodeAll(r io.Reader) (*Directory, error) {
	cr := &countingReader{r: r}

	d, pending, errs, err := readDirectory(cr)
	if err != nil {
		return nil, err
	}

	// Image blocks appear in file order, which need not match
	// directory order. Each block start is matched against the
	// pending entries by cumulative offset. One block is attempted
	// per declared record; entries whose blocks never appear simply
	// stay unresolved.
	for i := 0; i < d.count; i++ {
		blockStart := cr.n
		owner := claimEntry(&pending, blockStart)

		var word [4]byte
		if _, err := io.ReadFull(cr, word[:]); err != nil {
			if errors.Is(err, io.EOF) && cr.n == blockStart {
				// Clean end of the container, keep what we have.
				break
			}
			errs = multierror.Append(errs, decodeFailure(owner, blockStart,
				&SourceError{Op: "read image block", Err: err}))
			break
		}

		var (
			img   image.Image
			bih   *BitmapInfoHeader
			isPNG bool
			derr  error
		)
		switch size := binary.LittleEndian.Uint32(word[:]); {
		case size == bihSize:
			img, bih, derr = dec.decodeDIB(cr, owner)

		case size == pngMagic1:
			if _, err := io.ReadFull(cr, word[:]); err != nil {
				derr = &SourceError{Op: "read png signature", Err: err}
				break
			}
			switch {
			case binary.LittleEndian.Uint32(word[:]) != pngMagic2:
				derr = errors.New("first png signature word without the second")
			case owner == nil:
				// The payload length lives in the directory entry, so
				// an unclaimed PNG block cannot even be skipped.
				derr = errors.New("orphan png block with unknown length")
			default:
				isPNG = true
				img, derr = dec.decodePNG(cr, owner)
			}

		default:
			derr = fmt.Errorf("unrecognized bitmap header size %d", size)
		}

		if derr != nil {
			errs = multierror.Append(errs, decodeFailure(owner, blockStart, derr))
			var srcErr *SourceError
			if errors.As(derr, &srcErr) {
				break
			}
			continue
		}

		if owner == nil {
			// Decoded to keep the stream position consistent, but no
			// entry claims this offset. Drop the result.
			errs = multierror.Append(errs, &ImageDecodeError{
				Index:  -1,
				Offset: blockStart,
				Err:    errors.New("no directory entry claims this offset"),
			})
			continue
		}
		owner.img = img
		owner.bih = bih
		owner.png = isPNG
		d.images[owner.index] = img
	}

	d.decodeErrs = errs.ErrorOrNil()
	return d, nil
}

// readDirectory parses the container header and the declared table of
// 16-byte records. Records with a nonzero reserved byte are dropped
// from the entry and pending sets but still advance the cumulative
// offset by their full record size.
func readDirectory(cr *countingReader) (*Directory, []*Entry, *multierror.Error, error) {
	var buf [16]byte
	if _, err := io.ReadFull(cr, buf[:6]); err != nil {
		return nil, nil, nil, &SourceError{Op: "read container header", Err: err}
	}
	reserved := binary.LittleEndian.Uint16(buf[0:2])
	resType := binary.LittleEndian.Uint16(buf[2:4])
	count := int(binary.LittleEndian.Uint16(buf[4:6]))

	if reserved != 0 {
		return nil, nil, nil, HeaderError(fmt.Sprintf("reserved word is %#04x, must be zero", reserved))
	}
	if resType != uint16(TypeIcon) && resType != uint16(TypeCursor) {
		return nil, nil, nil, HeaderError(fmt.Sprintf("unsupported resource type %d", resType))
	}

	d := &Directory{
		resType: ResourceType(resType),
		count:   count,
		entries: make([]*Entry, 0, count),
		images:  make([]image.Image, count),
	}

	var errs *multierror.Error
	pending := make([]*Entry, 0, count)
	for i := 0; i < count; i++ {
		if _, err := io.ReadFull(cr, buf[:]); err != nil {
			return nil, nil, nil, &SourceError{Op: "read directory table", Err: err}
		}
		if buf[3] != 0 {
			errs = multierror.Append(errs, &DirectoryEntryError{Index: i})
			continue
		}
		e := &Entry{
			index:      i,
			width:      buf[0],
			height:     buf[1],
			colorCount: buf[2],
			planes:     binary.LittleEndian.Uint16(buf[4:6]),
			bitCount:   binary.LittleEndian.Uint16(buf[6:8]),
			size:       binary.LittleEndian.Uint32(buf[8:12]),
			offset:     binary.LittleEndian.Uint32(buf[12:16]),
		}
		d.entries = append(d.entries, e)
		pending = append(pending, e)
	}
	return d, pending, errs, nil
}

// claimEntry removes and returns the pending entry whose declared
// image offset equals the current stream position, or nil if the
// block is unclaimed. The linear scan is fine: containers hold a
// handful of entries.
func claimEntry(pending *[]*Entry, offset int64) *Entry {
	for i, e := range *pending {
		if int64(e.offset) == offset {
			*pending = append((*pending)[:i], (*pending)[i+1:]...)
			return e
		}
	}
	return nil
}

// decodeFailure builds the ImageDecodeError for a failed block,
// attributing it to the owning slot when one was claimed.
func decodeFailure(owner *Entry, offset int64, err error) *ImageDecodeError {
	idx := -1
	if owner != nil {
		idx = owner.index
	}
	return &ImageDecodeError{Index: idx, Offset: offset, Err: err}
}

// decodeConfig parses only the header and directory table and reports
// the dimensions of the best entry without decoding pixels.
func (dec *Decoder) decodeConfig(r io.Reader) (image.Config, error) {
	cr := &countingReader{r: r}
	d, _, _, err := readDirectory(cr)
	if err != nil {
		return image.Config{}, err
	}

	var best *Entry
	for _, e := range d.entries {
		if best == nil {
			best = e
			continue
		}
		ea, ba := e.Width()*e.Height(), best.Width()*best.Height()
		if ea > ba || (ea == ba && e.bitCount > best.bitCount) {
			best = e
		}
	}
	if best == nil {
		return image.Config{}, ErrNoEntries
	}
	return image.Config{
		ColorModel: color.NRGBAModel,
		Width:      best.Width(),
		Height:     best.Height(),
	}, nil
}
