package icons

import (
	"bytes"
	"fmt"
	"image"

	"github.com/fogleman/gg"
	xdraw "golang.org/x/image/draw"

	"github.com/safing/winicon/ico"
)

// ConvertICOtoPNG converts an .ico or .cur to a .png image.
// The resource with the largest pixel area is used.
func ConvertICOtoPNG(icoBytes []byte) (png []byte, err error) {
	// Decode directly instead of through image.Decode. The typed decode
	// errors survive that way and cursor containers do not depend on
	// magic byte sniffing.
	icon, err := ico.Decode(bytes.NewReader(icoBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to decode ICO: %w", err)
	}

	return encodePNG(icon)
}

// ConvertICOtoPNGSized converts an .ico or .cur to a .png image of the given
// size. The resource closest to the target size is used and scaled when it
// does not match exactly.
func ConvertICOtoPNGSized(icoBytes []byte, size int) (png []byte, err error) {
	directory, err := ico.DecodeAll(bytes.NewReader(icoBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to decode ICO: %w", err)
	}

	icon := ClosestImage(directory, size)
	if icon == nil {
		if decodeErrs := directory.DecodeErrors(); decodeErrs != nil {
			return nil, fmt.Errorf("failed to decode ICO: %w", decodeErrs)
		}
		return nil, ico.ErrNoEntries
	}

	if b := icon.Bounds(); b.Dx() != size || b.Dy() != size {
		icon = Scale(icon, size, size)
	}

	return encodePNG(icon)
}

// ClosestImage returns the decoded image closest to the given target size.
// Images at least as large as the target are preferred over smaller ones,
// ties are broken by color depth. Returns nil if no resource decoded
// successfully.
func ClosestImage(directory *ico.Directory, size int) image.Image {
	var best *ico.Entry
	for _, e := range directory.Entries() {
		if e.Image() == nil {
			continue
		}
		if best == nil || closerFit(e, best, size) {
			best = e
		}
	}
	if best == nil {
		return nil
	}
	return best.Image()
}

// closerFit reports whether a fits the target size better than b.
func closerFit(a, b *ico.Entry, size int) bool {
	aSide, bSide := longSide(a), longSide(b)
	switch {
	case aSide == bSide:
		return entryDepth(a) > entryDepth(b)
	case aSide >= size && bSide >= size:
		return aSide < bSide
	case aSide >= size:
		return true
	case bSide >= size:
		return false
	default:
		return aSide > bSide
	}
}

func longSide(e *ico.Entry) int {
	b := e.Image().Bounds()
	if b.Dx() > b.Dy() {
		return b.Dx()
	}
	return b.Dy()
}

func entryDepth(e *ico.Entry) int {
	switch {
	case e.BitmapInfo() != nil:
		return int(e.BitmapInfo().BitCount)
	case e.IsPNG():
		return 32
	default:
		return int(e.BitCount())
	}
}

// Scale scales the given image to the given size using Catmull-Rom
// interpolation.
func Scale(img image.Image, width, height int) image.Image {
	scaled := image.NewNRGBA(image.Rect(0, 0, width, height))
	xdraw.CatmullRom.Scale(scaled, scaled.Bounds(), img, img.Bounds(), xdraw.Over, nil)
	return scaled
}

func encodePNG(icon image.Image) ([]byte, error) {
	// Rendering through a drawing context also normalizes exotic color
	// models to something the PNG encoder handles well.
	img := gg.NewContextForImage(icon)

	imgBuf := &bytes.Buffer{}
	if err := img.EncodePNG(imgBuf); err != nil {
		return nil, fmt.Errorf("failed to encode PNG: %w", err)
	}
	return imgBuf.Bytes(), nil
}
