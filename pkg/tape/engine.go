package tape

import "github.com/minz/zxcore/pkg/pulsestore"

// SoundSink receives tape-edge notifications. The audio chain lives
// outside this package; a nil sink
// is a valid no-op receiver.
type SoundSink interface {
	TapeEdge(at uint64)
}

// Engine is the tape playback state machine: lazy pulse-by-pulse playback
// driven by a shared absolute time source, plus the ROM-trap and
// pattern-acceleration layers (rom_trap.go, pattern_accel.go) that let
// callers skip most of that pulse-by-pulse work.
type Engine struct {
	Store *pulsestore.Store

	playPtr int
	endPtr  int

	bit        byte
	edgeChange uint64

	playing bool

	soundBlocked bool
	sink         SoundSink

	TrapsEnabled    bool
	PatternsEnabled bool
}

// NewEngine creates an Engine over store, initially stopped.
func NewEngine(store *pulsestore.Store) *Engine {
	return &Engine{
		Store:           store,
		endPtr:          len(store.Image),
		TrapsEnabled:    true,
		PatternsEnabled: true,
	}
}

// SetSoundSink installs the collaborator notified of tape edges.
func (e *Engine) SetSoundSink(s SoundSink) { e.sink = s }

// SetSoundBlocked toggles whether edge notifications are delivered;
// pattern acceleration (pattern_accel.go)
// is only active while this is true.
func (e *Engine) SetSoundBlocked(blocked bool) { e.soundBlocked = blocked }

func (e *Engine) SoundBlocked() bool { return e.soundBlocked }

// Play starts playback from the beginning of the stream at absolute time
// now.
func (e *Engine) Play(now uint64) {
	e.playPtr = 0
	e.endPtr = len(e.Store.Image)
	e.bit = 0
	e.edgeChange = now
	e.playing = true
}

// StopTape halts playback; tape_bit() then always returns the last
// latched level.
func (e *Engine) StopTape() { e.playing = false }

func (e *Engine) Playing() bool { return e.playing }

func (e *Engine) PlayPtr() int { return e.playPtr }

// TapeBit returns the current signal level, lazily advancing through the
// pulse stream until the current absolute time now is within the pulse
// whose edge hasn't yet occurred.
func (e *Engine) TapeBit(now uint64) byte {
	if !e.playing {
		return e.bit
	}
	for now >= e.edgeChange {
		if !e.soundBlocked && e.sink != nil {
			e.sink.TapeEdge(e.edgeChange)
		}
		e.bit ^= 0x40

		if e.playPtr >= e.endPtr {
			e.StopTape()
			return e.bit
		}
		idx := e.Store.Image[e.playPtr]
		e.playPtr++
		d, isSentinel := e.Store.Duration(idx)
		if isSentinel {
			e.StopTape()
			return e.bit
		}
		e.edgeChange += uint64(d)
	}
	return e.bit
}

// EarPort computes the port-0xFE "ear" input: the signal level on bit 6,
// masked as 0xBF | (bit & 0x40).
func (e *Engine) EarPort(now uint64) byte {
	return 0xBF | (e.TapeBit(now) & 0x40)
}
