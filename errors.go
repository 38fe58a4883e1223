package lsmkv

import (
	"errors"
	"fmt"

	"github.com/flashkv/lsmkv/internal/kvrecord"
)

// ErrClosed is returned by any operation on an Engine after Close has been
// called.
var ErrClosed = errors.New("lsmkv: engine closed")

// ErrEmptyValue is returned by Put for a non-nil, zero-length value. The
// on-disk record format cannot distinguish an empty value from a
// tombstone, so storing one is undefined behavior per spec; this module
// rejects it outright rather than silently reading it back as a deletion.
var ErrEmptyValue = errors.New("lsmkv: empty value is indistinguishable from a tombstone")

// ErrCorruptRecord is re-exported so callers can errors.Is against it
// without importing the internal codec package.
var ErrCorruptRecord = kvrecord.ErrCorruptRecord

func wrapIO(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("lsmkv: %s: %w", op, err)
}
