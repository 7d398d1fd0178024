// Package tas records and replays emulator sessions deterministically.
// Everything that can perturb execution from outside the core — key
// matrix changes, tape start/stop, reset — is logged against the
// absolute T-state clock; replaying the log against the same media
// reproduces the run cycle for cycle. Periodic keyframes of CPU state
// let a replay verify it hasn't diverged.
package tas

import (
	"github.com/minz/zxcore/pkg/system"
)

// EventType identifies one kind of externally injected event.
type EventType byte

const (
	EventKeyRow EventType = iota
	EventTapePlay
	EventTapeStop
	EventReset
)

// InputEvent is one timestamped external input.
type InputEvent struct {
	Cycle uint64
	Type  EventType
	Arg1  byte // key row for EventKeyRow
	Arg2  byte // row bits for EventKeyRow
}

// Keyframe captures the CPU-visible state at a cycle, for divergence
// checking during replay.
type Keyframe struct {
	Cycle uint64
	Frame uint64
	PC    uint16
	SP    uint16
	AF    uint16
	BC    uint16
	DE    uint16
	HL    uint16
	IX    uint16
	IY    uint16
}

// Metadata describes a recording.
type Metadata struct {
	Title       string
	TotalCycles uint64
	TotalFrames uint64
}

// Recording is a complete session log.
type Recording struct {
	Meta      Metadata
	Events    []InputEvent
	Keyframes []Keyframe
}

// Recorder wraps a System and logs every external input routed through
// it.
type Recorder struct {
	sys *system.System
	rec *Recording

	keyframeEvery uint64 // frames between keyframes
	lastKeyframe  uint64
}

// NewRecorder starts a recording session over sys.
func NewRecorder(sys *system.System, title string) *Recorder {
	return &Recorder{
		sys:           sys,
		rec:           &Recording{Meta: Metadata{Title: title}},
		keyframeEvery: 50,
	}
}

// Recording returns the log captured so far.
func (r *Recorder) Recording() *Recording { return r.rec }

func (r *Recorder) log(t EventType, a1, a2 byte) {
	r.rec.Events = append(r.rec.Events, InputEvent{
		Cycle: r.sys.Clock().Now(),
		Type:  t,
		Arg1:  a1,
		Arg2:  a2,
	})
}

// KeyRow logs and applies a key matrix change.
func (r *Recorder) KeyRow(row int, bits byte) {
	r.log(EventKeyRow, byte(row), bits)
	r.sys.SetKeyRow(row, bits)
}

// PlayTape logs and applies a tape start.
func (r *Recorder) PlayTape() {
	r.log(EventTapePlay, 0, 0)
	r.sys.PlayTape()
}

// StopTape logs and applies a tape stop request.
func (r *Recorder) StopTape() {
	r.log(EventTapeStop, 0, 0)
	r.sys.RequestStopTape()
}

// Reset logs and applies a reset request.
func (r *Recorder) Reset() {
	r.log(EventReset, 0, 0)
	r.sys.RequestReset()
}

// RunFrame advances the system one frame, taking a keyframe on the
// configured cadence.
func (r *Recorder) RunFrame() {
	r.sys.RunFrame()
	clk := r.sys.Clock()
	r.rec.Meta.TotalFrames = clk.FrameCounter()
	r.rec.Meta.TotalCycles = clk.Now()
	if clk.FrameCounter()-r.lastKeyframe >= r.keyframeEvery {
		r.lastKeyframe = clk.FrameCounter()
		r.rec.Keyframes = append(r.rec.Keyframes, r.snapshot())
	}
}

func (r *Recorder) snapshot() Keyframe {
	cpu := r.sys.CPU()
	clk := r.sys.Clock()
	return Keyframe{
		Cycle: clk.Now(),
		Frame: clk.FrameCounter(),
		PC:    cpu.PC(),
		SP:    cpu.SP(),
		AF:    uint16(cpu.A())<<8 | uint16(cpu.F()),
		BC:    cpu.BC(),
		DE:    cpu.DE(),
		HL:    cpu.HL(),
		IX:    cpu.IX(),
		IY:    cpu.IY(),
	}
}

// Divergence describes a keyframe mismatch found during replay.
type Divergence struct {
	Cycle    uint64
	Expected Keyframe
	Actual   Keyframe
}

// Replayer feeds a recording's events back into a System at the
// recorded cycles.
type Replayer struct {
	sys *system.System
	rec *Recording

	nextEvent    int
	nextKeyframe int
	Divergences  []Divergence
}

// NewReplayer prepares a replay of rec over sys. The caller is
// responsible for loading the same media the recording ran against.
func NewReplayer(sys *system.System, rec *Recording) *Replayer {
	return &Replayer{sys: sys, rec: rec}
}

// Done reports whether the whole recording has been replayed.
func (p *Replayer) Done() bool {
	return p.sys.Clock().Now() >= p.rec.Meta.TotalCycles
}

// RunFrame replays one frame: applies every event whose cycle falls
// inside it, steps the system, and checks any keyframe passed.
func (p *Replayer) RunFrame() {
	clk := p.sys.Clock()
	frameEnd := clk.TTotal() + clk.FrameLen()

	for p.nextEvent < len(p.rec.Events) && p.rec.Events[p.nextEvent].Cycle < frameEnd {
		p.apply(p.rec.Events[p.nextEvent])
		p.nextEvent++
	}
	p.sys.RunFrame()

	for p.nextKeyframe < len(p.rec.Keyframes) && p.rec.Keyframes[p.nextKeyframe].Cycle <= clk.Now() {
		want := p.rec.Keyframes[p.nextKeyframe]
		p.nextKeyframe++
		got := (&Recorder{sys: p.sys}).snapshot()
		if got.PC != want.PC || got.SP != want.SP || got.AF != want.AF {
			p.Divergences = append(p.Divergences, Divergence{
				Cycle:    want.Cycle,
				Expected: want,
				Actual:   got,
			})
		}
	}
}

func (p *Replayer) apply(e InputEvent) {
	switch e.Type {
	case EventKeyRow:
		p.sys.SetKeyRow(int(e.Arg1), e.Arg2)
	case EventTapePlay:
		p.sys.PlayTape()
	case EventTapeStop:
		p.sys.RequestStopTape()
	case EventReset:
		p.sys.RequestReset()
	}
}
