package commitlog

import (
	"errors"
	"io"

	"github.com/flashkv/lsmkv/internal/kvrecord"
)

// Replay reads every frame from the segment in arrival order, calling fn for
// each. If a trailing record is truncated, replay stops at the last
// complete frame instead of failing, per spec: a crash can leave a partial
// final write in the segment.
func Replay(s *Segment, fn func(kvrecord.WALFrame)) error {
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return err
	}

	for {
		frame, err := kvrecord.DecodeWALFrame(s.f)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return err
		}
		fn(frame)
	}
}
