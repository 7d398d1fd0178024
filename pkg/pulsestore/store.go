// Package pulsestore implements a compact tape-signal representation: a
// bounded table of distinct pulse durations plus a byte-indexed stream
// of references into it.
package pulsestore

import "errors"

// MaxPulses is the table capacity: indices must fit a stream byte.
const MaxPulses = 256

// Sentinel marks an end-of-block/end-of-tape pulse entry. Any byte in
// image[] indexing an entry whose value is Sentinel ends the tape.
const Sentinel uint32 = 0xFFFFFFFF

// ErrInvalidDuration is returned when a loader requests a nonsensical
// pulse duration (zero, where the format gives zero no meaning).
var ErrInvalidDuration = errors.New("pulsestore: invalid pulse duration")

// Block is metadata describing one logical tape block: a human-readable
// description, the offset into Image at which it starts, and its total
// duration in T-states.
type Block struct {
	Description string
	Offset      int
	TStates     uint64
}

// Store is a fixed-capacity lookup table of T-state durations (Pulses)
// plus a growable byte stream (Image) where each byte indexes into
// Pulses. Blocks records logical block boundaries.
type Store struct {
	Pulses []uint32
	Image  []byte
	Blocks []Block
}

// New creates an empty Pulse Store.
func New() *Store {
	return &Store{
		Pulses: make([]uint32, 0, MaxPulses),
		Image:  make([]byte, 0, 4096),
	}
}

// Intern finds or creates a table entry for duration d and returns its
// index:
//
//  1. linear-scan for an exact match; if found, return its index.
//  2. otherwise, if there's room (< MaxPulses), append d and return the
//     new index.
//  3. otherwise return the index of the nearest existing entry by
//     absolute difference, first wins on an exact tie. The fallback is
//     lossy but loaders tolerate around 10% pulse timing variance.
func (s *Store) Intern(d uint32) (byte, error) {
	if d == 0 {
		return 0, ErrInvalidDuration
	}
	for i, p := range s.Pulses {
		if p == d {
			return byte(i), nil
		}
	}
	if len(s.Pulses) < MaxPulses {
		s.Pulses = append(s.Pulses, d)
		return byte(len(s.Pulses) - 1), nil
	}
	return s.nearest(d), nil
}

// InternSentinel returns the index of the end-of-tape/end-of-block
// sentinel entry, creating it on first use. It follows the same
// capacity-then-nearest path as Intern: when 256 distinct real
// durations fill the table before the first block closes, the nearest
// entry (the longest duration) stands in for the sentinel rather than
// a wrapped index naming an arbitrary pulse.
func (s *Store) InternSentinel() byte {
	for i, p := range s.Pulses {
		if p == Sentinel {
			return byte(i)
		}
	}
	if len(s.Pulses) < MaxPulses {
		s.Pulses = append(s.Pulses, Sentinel)
		return byte(len(s.Pulses) - 1)
	}
	return s.nearest(Sentinel)
}

func (s *Store) nearest(d uint32) byte {
	best := 0
	bestDelta := absDelta(s.Pulses[0], d)
	for i := 1; i < len(s.Pulses); i++ {
		delta := absDelta(s.Pulses[i], d)
		if delta < bestDelta {
			best = i
			bestDelta = delta
		}
	}
	return byte(best)
}

func absDelta(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}

// Append writes a pulse index byte to Image, growing it as needed.
func (s *Store) Append(index byte) {
	s.Image = append(s.Image, index)
}

// AppendPulse interns d and appends its index in one step.
func (s *Store) AppendPulse(d uint32) error {
	idx, err := s.Intern(d)
	if err != nil {
		return err
	}
	s.Append(idx)
	return nil
}

// CloseBlock appends the end-of-block sentinel and records block metadata
// spanning from startOffset to the current end of Image.
func (s *Store) CloseBlock(description string, startOffset int, tstates uint64) {
	s.Append(s.InternSentinel())
	s.Blocks = append(s.Blocks, Block{
		Description: description,
		Offset:      startOffset,
		TStates:     tstates,
	})
}

// Duration returns the T-state duration for a pulse index and whether it
// is the end-of-tape sentinel.
func (s *Store) Duration(index byte) (d uint32, isSentinel bool) {
	d = s.Pulses[index]
	return d, d == Sentinel
}

// Valid reports whether every byte in Image indexes a valid Pulses
// entry.
func (s *Store) Valid() bool {
	for _, b := range s.Image {
		if int(b) >= len(s.Pulses) {
			return false
		}
	}
	return true
}
