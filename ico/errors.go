package ico

import (
	"errors"
	"fmt"
)

// ErrNoEntries is returned by Decode and DecodeConfig when a container
// holds no usable directory entries.
var ErrNoEntries = errors.New("ico: no usable directory entries")

// HeaderError reports a malformed container header. It is fatal:
// parsing stops before any directory state is built.
type HeaderError string

func (e HeaderError) Error() string {
	return "ico: invalid header: " + string(e)
}

// DirectoryEntryError reports a directory record that was dropped
// because its reserved byte is not zero. The record still counts
// toward the declared entry count and toward offset accounting.
type DirectoryEntryError struct {
	Index int // position in the declared directory table
}

func (e *DirectoryEntryError) Error() string {
	return fmt.Sprintf("ico: directory entry %d: reserved byte is not zero", e.Index)
}

// ImageDecodeError reports a resource block whose pixels could not be
// decoded. The owning image slot stays empty and parsing continues
// with the next block.
type ImageDecodeError struct {
	Index  int   // declared directory slot, -1 for orphan blocks
	Offset int64 // stream offset of the block
	Err    error
}

func (e *ImageDecodeError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("ico: orphan image block at offset %d: %v", e.Offset, e.Err)
	}
	return fmt.Sprintf("ico: image %d at offset %d: %v", e.Index, e.Offset, e.Err)
}

func (e *ImageDecodeError) Unwrap() error {
	return e.Err
}

// SourceError wraps a read failure of the underlying byte source.
// Stream position integrity is gone after one occurs, so scanning
// stops. The original error is preserved for errors.Is/As.
type SourceError struct {
	Op  string
	Err error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("ico: %s: %v", e.Op, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}
