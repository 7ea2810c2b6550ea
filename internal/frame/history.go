package frame

import (
	"errors"
	"fmt"
)

// ErrNoSnapshot is returned when a history index does not exist.
var ErrNoSnapshot = errors.New("frame: no such snapshot")

// History is an append-only arena of frame snapshots. Indexes handed out by
// Append stay valid for the lifetime of the History.
//
// History is not safe for concurrent use; the widget serializes access.
type History struct {
	snaps []*Frame
}

// Append adds a snapshot and returns its index.
func (h *History) Append(f *Frame) int {
	h.snaps = append(h.snaps, f)
	return len(h.snaps) - 1
}

// At returns the snapshot stored at index i.
func (h *History) At(i int) (*Frame, error) {
	if i < 0 || i >= len(h.snaps) {
		return nil, fmt.Errorf("%w: %d (len=%d)", ErrNoSnapshot, i, len(h.snaps))
	}
	return h.snaps[i], nil
}

// Latest returns the most recent snapshot.
func (h *History) Latest() (*Frame, bool) {
	if len(h.snaps) == 0 {
		return nil, false
	}
	return h.snaps[len(h.snaps)-1], true
}

// Len returns the number of snapshots.
func (h *History) Len() int { return len(h.snaps) }
