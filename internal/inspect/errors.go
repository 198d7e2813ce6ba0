package inspect

import (
	"errors"
	"fmt"
)

// ErrIndexOutOfRange is matched by every rejected layer, head or token
// selection.
var ErrIndexOutOfRange = errors.New("index out of range")

// Axis names used in IndexError.
const (
	AxisLayer = "layer"
	AxisHead  = "head"
	AxisToken = "token"
)

// IndexError describes a selection outside the available extents.
type IndexError struct {
	Axis  string
	Index int
	Limit int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("%s index %d out of range [0, %d)", e.Axis, e.Index, e.Limit)
}

func (e *IndexError) Unwrap() error {
	return ErrIndexOutOfRange
}

func checkIndex(axis string, index, limit int) error {
	if index < 0 || index >= limit {
		return &IndexError{Axis: axis, Index: index, Limit: limit}
	}
	return nil
}
