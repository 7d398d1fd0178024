package tape

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/minz/zxcore/pkg/pulsestore"
)

// SaveTAP re-encodes a pulse store produced from canonical ROM timings
// back into a TAP file. It walks each logical block, skips the pilot
// and sync pulses, and decodes the two-pulses-per-bit payload by exact
// match against ZeroPulse and OnePulse; a store built by LoadTAP round-
// trips byte-identically. Streams with non-canonical structure (turbo
// timings, pure tones) fail with INVALID_FORMAT.
func SaveTAP(store *pulsestore.Store) ([]byte, error) {
	var out []byte
	r := &pulseReader{store: store}

	for b := 0; b < len(store.Blocks); b++ {
		payload, err := r.decodeBlock()
		if err != nil {
			return nil, errors.Wrapf(err, "tape: block %d", b)
		}
		if payload == nil {
			break // clean end of stream
		}
		var l [2]byte
		binary.LittleEndian.PutUint16(l[:], uint16(len(payload)))
		out = append(out, l[:]...)
		out = append(out, payload...)
	}
	return out, nil
}

// pulseReader walks Image decoding durations, tracking sentinels.
type pulseReader struct {
	store *pulsestore.Store
	pos   int
}

// next returns the next duration; end is true at end-of-image, and
// sentinel is true for an end-of-block marker.
func (r *pulseReader) next() (d uint32, sentinel, end bool) {
	if r.pos >= len(r.store.Image) {
		return 0, false, true
	}
	idx := r.store.Image[r.pos]
	r.pos++
	d, isSentinel := r.store.Duration(idx)
	return d, isSentinel, false
}

// decodeBlock consumes one logical block: pilot run, two syncs, data
// bytes, trailing pause, sentinel. Returns nil at end of stream.
func (r *pulseReader) decodeBlock() ([]byte, error) {
	// Pilot skip.
	for {
		d, sentinel, end := r.next()
		if end {
			return nil, nil
		}
		if sentinel {
			continue // stray block boundary before any pilot
		}
		if d == PilotPulse {
			continue
		}
		if d == Sync1Pulse {
			break
		}
		return nil, errors.Wrapf(ErrInvalidFormat, "pulse of %d T-states where pilot/sync expected", d)
	}
	if d, _, end := r.next(); end || d != Sync2Pulse {
		return nil, errors.Wrap(ErrInvalidFormat, "second sync pulse missing")
	}

	var payload []byte
	for {
		b, done, err := r.decodeByte()
		if err != nil {
			return nil, err
		}
		if done {
			return payload, nil
		}
		payload = append(payload, b)
	}
}

// decodeByte reads eight bit-pairs; done is true when the trailing
// pause (any pulse that is neither a zero nor a one half) arrives
// instead of a first bit pulse.
func (r *pulseReader) decodeByte() (b byte, done bool, err error) {
	for mask := byte(0x80); mask != 0; mask >>= 1 {
		first, sentinel, end := r.next()
		if end || sentinel {
			if mask == 0x80 {
				return 0, true, nil
			}
			return 0, false, errors.Wrap(ErrInvalidFormat, "stream ends mid-byte")
		}
		if mask == 0x80 && first != ZeroPulse && first != OnePulse {
			// Trailing pause: consume up to the block sentinel.
			for {
				_, sentinel, end := r.next()
				if sentinel || end {
					return 0, true, nil
				}
			}
		}
		second, sentinel, end := r.next()
		if end || sentinel || second != first {
			return 0, false, errors.Wrap(ErrInvalidFormat, "unpaired bit pulse")
		}
		if first == OnePulse {
			b |= mask
		} else if first != ZeroPulse {
			return 0, false, errors.Wrapf(ErrInvalidFormat, "pulse of %d T-states where bit expected", first)
		}
	}
	return b, false, nil
}
