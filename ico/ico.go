// Package ico implements a decoder for Windows icon (ICO) and cursor
// (CUR) container files.
//
// A container holds a directory of resources, each either a legacy
// DIB bitmap (1, 4, 8, 16, 24 or 32 bits per pixel with stacked XOR
// and AND planes) or, since Windows Vista, an embedded PNG payload.
// The decoder reads its source strictly forward and never seeks, so
// containers can be decoded straight off sockets and pipes. Image
// blocks are matched to directory entries by comparing their declared
// offsets against the number of bytes consumed so far.
//
// DecodeAll returns the full directory with one image slot per
// declared entry. Decode returns only the best resource and is
// registered with image.RegisterFormat, so icon files also decode
// through image.Decode.
package ico

import (
	"image"
	"io"
)

func init() {
	image.RegisterFormat("ico", "\x00\x00\x01\x00", Decode, DecodeConfig)
	image.RegisterFormat("cur", "\x00\x00\x02\x00", Decode, DecodeConfig)
}

// DecodeAll reads an ICO/CUR container from r and returns its decoded
// directory. See Decoder.DecodeAll.
func DecodeAll(r io.Reader) (*Directory, error) {
	return new(Decoder).DecodeAll(r)
}

// Decode reads an ICO/CUR container from r and returns the resource
// with the largest pixel area, preferring higher color depth on ties.
func Decode(r io.Reader) (image.Image, error) {
	d, err := DecodeAll(r)
	if err != nil {
		return nil, err
	}
	img := d.Best()
	if img == nil {
		if err := d.DecodeErrors(); err != nil {
			return nil, err
		}
		return nil, ErrNoEntries
	}
	return img, nil
}

// DecodeConfig returns the dimensions of the largest resource without
// decoding any pixel data. Only the header and directory table are
// read.
func DecodeConfig(r io.Reader) (image.Config, error) {
	return new(Decoder).decodeConfig(r)
}
