package submission

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyRequest     = errors.New("empty request: a prompt or at least one file is required")
	ErrUnsupportedMedia = errors.New("unsupported media type")
	ErrInvalidJobID     = errors.New("invalid job id")
	ErrInvalidHistory   = errors.New("invalid conversation history")
	ErrTooManyFiles     = errors.New("too many files")
	ErrFileTooLarge     = errors.New("file too large")
)

// UnsupportedMediaError names the first file whose media type is not on the
// allow-list. It matches ErrUnsupportedMedia.
type UnsupportedMediaError struct {
	Filename  string
	MediaType string
}

func (e *UnsupportedMediaError) Error() string {
	return fmt.Sprintf("file %q has unsupported media type %s", e.Filename, e.MediaType)
}

func (e *UnsupportedMediaError) Is(target error) bool {
	return target == ErrUnsupportedMedia
}

// FileTooLargeError matches ErrFileTooLarge.
type FileTooLargeError struct {
	Filename string
	Size     int64
	Limit    int64
}

func (e *FileTooLargeError) Error() string {
	return fmt.Sprintf("file %q is %d bytes, limit is %d", e.Filename, e.Size, e.Limit)
}

func (e *FileTooLargeError) Is(target error) bool {
	return target == ErrFileTooLarge
}
