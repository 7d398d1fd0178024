// Package tape implements the tape subsystem: parsers
// for TAP, TZX and CSW tape images into a shared pulsestore.Store,
// lazy-edge playback, and the two tiers of loading acceleration (ROM
// trap and instruction-pattern matching) real emulators use to avoid
// single-stepping through minutes of tape loader code.
package tape

// Canonical ZX Spectrum ROM pulse timings, in T-states, used by both the
// TAP parser and the TZX standard-speed block.
const (
	PilotPulse = 2168
	Sync1Pulse = 667
	Sync2Pulse = 735
	ZeroPulse  = 855
	OnePulse   = 1710

	PilotLenHeader = 8064 // first byte < 4 (header block)
	PilotLenData   = 3220 // first byte >= 4 (data block)

	TrailingPauseMS = 1000
)

// Z80ClockHz is the reference clock rate CSW sample-rate and pause-length
// conversions are computed against.
const Z80ClockHz = 3500000

// syncPulseThreshold is the ROM trap's pilot/sync boundary: the pilot
// skip consumes pulses until one is at or below it.
const syncPulseThreshold = 770

// bitOneThreshold distinguishes a decoded '1' bit from a '0' bit in the
// ROM trap's byte loop: a bit whose first pulse exceeds this is a 1.
const bitOneThreshold = 1240
