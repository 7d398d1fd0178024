// Package disk emulates the Beta Disk Interface's WD1793 floppy disk
// controller: the command/track/sector/data register set, the internal
// state machine that walks raw MFM tracks held in a trackstore.Disk, and
// the TR-DOS ROM trap layer that short-circuits the byte-at-a-time
// transfer loops.
package disk

import (
	"github.com/minz/zxcore/pkg/clock"
	"github.com/minz/zxcore/pkg/trackstore"
)

// State is the controller's internal state machine position.
type State int

const (
	Idle State = iota
	Wait
	DelayBeforeCmd
	CmdRW
	FoundNextID
	RdSec
	Read
	WrSec
	Write
	WrTrack
	WrTrackData
	Type1Cmd
	Step
	SeekStart
	Seek
	Verify
	Reset
)

// Status register bits. Several bits are dual-purpose: their meaning
// depends on whether the last command was Type I or Type II/III, per the
// WD1793 datasheet.
const (
	StBusy         = 0x01
	StIndex        = 0x02 // Type I
	StDRQ          = 0x02 // Type II/III
	StTrack00      = 0x04 // Type I
	StLostData     = 0x04 // Type II/III
	StCRCError     = 0x08
	StSeekError    = 0x10 // Type I
	StNotFound     = 0x10 // Type II/III
	StHeadLoaded   = 0x20 // Type I
	StRecordType   = 0x20 // Type II read: deleted data mark
	StWriteProtect = 0x40
	StNotReady     = 0x80
)

// Request bits, visible on the Beta Disk system port (0xFF read).
const (
	RqsDRQ   = 0x40
	RqsINTRQ = 0x80
)

// Timing, in T-states at the 3.5 MHz Z80 clock. One MFM byte passes
// under the head every 32 us at 250 kbit/s; the index hole comes around
// every 200 ms at 300 rpm.
const (
	tstatesPerMS = 3500
	byteTime     = 112
	indexPeriod  = 200 * tstatesPerMS
	indexPulse   = 4 * tstatesPerMS
	motorTimeout = 2500 * tstatesPerMS
)

// stepRates maps command bits 0-1 to the head step interval in ms.
var stepRates = [4]uint64{6, 12, 20, 30}

// Config carries the controller options the host exposes.
type Config struct {
	NoDelay      bool
	WriteProtect [4]bool
	SeekRetries  int // index-hole rotations before NOT_FOUND; 0 means 5
}

// WD1793 is the disk controller state machine of the Beta Disk
// Interface, clocked against the shared absolute T-state time base.
type WD1793 struct {
	clk *clock.Clock
	cfg Config

	drives  [4]*trackstore.Disk
	headCyl [4]int // physical head position per drive

	drive   int
	side    int
	hlt     bool
	density bool

	state     State
	stateNext State
	next      uint64 // absolute time of the pending transition

	cmd    byte
	track  byte
	sector byte
	data   byte
	status byte
	rqs    byte

	stepDir   int
	rwptr     int
	rwlen     int
	curTrack  *trackstore.Track
	rotations int
	startCRC  int // data-field start, for end-of-transfer CRC work

	idamQueue []int // remaining ID marks to inspect this rotation

	motorOff uint64
}

// New creates a controller with no disks inserted, in the reset state.
func New(clk *clock.Clock, cfg Config) *WD1793 {
	if cfg.SeekRetries == 0 {
		cfg.SeekRetries = 5
	}
	return &WD1793{clk: clk, cfg: cfg, state: Idle}
}

// InsertDisk mounts a track store into drive slot n (0-3).
func (w *WD1793) InsertDisk(n int, d *trackstore.Disk) {
	w.drives[n&3] = d
}

// Disk returns the media in drive n, or nil.
func (w *WD1793) Disk(n int) *trackstore.Disk { return w.drives[n&3] }

// SelectedDisk returns the media in the currently selected drive.
func (w *WD1793) SelectedDisk() *trackstore.Disk { return w.drives[w.drive] }

// CurrentState exposes the state machine position (read by the trap layer).
func (w *WD1793) CurrentState() State { return w.state }

// WaitingFor reports the state a Wait will resolve into.
func (w *WD1793) WaitingFor() State { return w.stateNext }

// RQS returns the DRQ/INTRQ request bits.
func (w *WD1793) RQS() byte { return w.rqs }

// RWLen returns the bytes remaining in the active transfer.
func (w *WD1793) RWLen() int { return w.rwlen }

func (w *WD1793) delay(ms uint64, then State) {
	if w.cfg.NoDelay {
		w.state = then
		return
	}
	w.next = w.clk.Now() + ms*tstatesPerMS
	w.state = Wait
	w.stateNext = then
}

func (w *WD1793) delayT(t uint64, then State) {
	if w.cfg.NoDelay {
		w.state = then
		return
	}
	w.next = w.clk.Now() + t
	w.state = Wait
	w.stateNext = then
}

// ready reports whether the selected drive has media and the motor
// window is open.
func (w *WD1793) ready() bool {
	d := w.SelectedDisk()
	return d != nil && d.Present()
}

// WriteCommand handles a write to the command register (port 0x1F). A
// new command is accepted only when BSY is clear, except Type IV (force
// interrupt) which always lands.
func (w *WD1793) WriteCommand(v byte) {
	w.Process(w.clk.Now())

	if v&0xF0 == 0xD0 { // Type IV: force interrupt
		w.cmd = v
		w.state = Idle
		w.status &^= StBusy
		w.rqs &^= RqsDRQ
		if v&0x0F != 0 {
			w.rqs |= RqsINTRQ
		}
		return
	}
	if w.status&StBusy != 0 {
		return
	}

	w.cmd = v
	w.status = StBusy
	w.rqs = 0
	w.motorOff = w.clk.Now() + motorTimeout

	if v&0x80 == 0 { // Type I
		w.delayT(64, Type1Cmd)
		w.Process(w.clk.Now())
		return
	}
	// Type II/III commands spin up and optionally honor the E (head
	// settling) delay in bit 2.
	if !w.ready() {
		w.status = StNotReady
		w.endCommand()
		return
	}
	settle := uint64(0)
	if v&0x04 != 0 {
		settle = 15
	}
	w.delay(settle, DelayBeforeCmd)
	w.Process(w.clk.Now())
}

func (w *WD1793) endCommand() {
	w.state = Idle
	w.status &^= StBusy
	w.rqs = (w.rqs &^ RqsDRQ) | RqsINTRQ
}

// Process advances the state machine up to absolute time now. Port
// accesses call it first so register reads observe a settled machine;
// the system loop calls it once per instruction.
func (w *WD1793) Process(now uint64) {
	for {
		switch w.state {
		case Idle, Reset:
			return

		case Wait:
			if now < w.next {
				return
			}
			w.state = w.stateNext

		case DelayBeforeCmd:
			w.dispatchType23()

		case Type1Cmd:
			w.beginType1()

		case SeekStart:
			target := w.data
			if target == w.track {
				w.state = Verify
				break
			}
			if target < w.track {
				w.stepDir = -1
			} else {
				w.stepDir = 1
			}
			w.state = Step

		case Step:
			isSeek := w.cmd&0xE0 == 0x00 // restore or seek
			w.doStep(isSeek || w.cmd&0x10 != 0)
			rate := stepRates[w.cmd&0x03]
			if isSeek {
				w.delay(rate, Seek)
			} else {
				w.delay(rate, Verify)
			}

		case Seek:
			if w.data == w.track {
				w.state = Verify
				break
			}
			w.state = Step

		case Verify:
			w.doVerify()

		case CmdRW:
			w.beginRW()

		case FoundNextID:
			if !w.findNextID(now) {
				return
			}

		case RdSec:
			// First data byte reaches the data register one byte time
			// after the DAM passes under the head.
			w.delayT(byteTime, Read)

		case Read:
			if !w.stepRead(now) {
				return
			}

		case WrSec:
			// The host must supply the first byte within 11 byte times
			// or the command aborts with LOST DATA.
			if w.rqs&RqsDRQ != 0 {
				if w.cfg.NoDelay || now < w.next {
					return
				}
				w.status |= StLostData
				w.endCommand()
				break
			}
			w.state = Write

		case Write:
			if !w.stepWrite(now) {
				return
			}

		case WrTrack:
			w.rwptr = 0
			w.curTrack = w.currentTrack()
			if w.curTrack == nil {
				w.status |= StNotFound
				w.endCommand()
				break
			}
			w.rwlen = len(w.curTrack.Data)
			w.curTrack.Marks = make([]byte, (len(w.curTrack.Data)+7)/8)
			w.data = 0
			w.rqs |= RqsDRQ
			w.status |= StDRQ
			w.next = now + byteTime*11
			w.state = WrTrackData

		case WrTrackData:
			if !w.stepWriteTrack(now) {
				return
			}

		default:
			return
		}
	}
}

func (w *WD1793) currentTrack() *trackstore.Track {
	d := w.SelectedDisk()
	if d == nil {
		return nil
	}
	return d.Track(w.headCyl[w.drive], w.side)
}

func (w *WD1793) beginType1() {
	switch {
	case w.cmd&0xF0 == 0x00: // restore
		w.track = 0xFF
		w.data = 0
		w.state = SeekStart
	case w.cmd&0xF0 == 0x10: // seek
		w.state = SeekStart
	case w.cmd&0xE0 == 0x40: // step in
		w.stepDir = 1
		w.state = Step
	case w.cmd&0xE0 == 0x60: // step out
		w.stepDir = -1
		w.state = Step
	default: // step, repeating the last direction
		w.state = Step
	}
}

func (w *WD1793) doStep(updateReg bool) {
	cyl := w.headCyl[w.drive] + w.stepDir
	if cyl < 0 {
		cyl = 0
	}
	if cyl > 85 {
		cyl = 85
	}
	w.headCyl[w.drive] = cyl
	if updateReg {
		w.track += byte(w.stepDir)
	}
	if cyl == 0 && w.cmd&0xF0 == 0x00 {
		// Restore terminates at the TRK00 sensor regardless of the
		// track register's starting value.
		w.track = 0
		w.data = 0
	}
}

func (w *WD1793) doVerify() {
	if w.cmd&0x04 == 0 { // V flag clear: done
		w.endCommand()
		return
	}
	t := w.currentTrack()
	if t == nil {
		w.status |= StSeekError
		w.endCommand()
		return
	}
	for _, idam := range t.IDAMs() {
		c, _, _, _ := t.IDField(idam)
		if c != w.track {
			continue
		}
		crc := trackstore.CRC16(t.Data[idam-3:idam+5], 0xFFFF)
		if t.Data[idam+5] == byte(crc>>8) && t.Data[idam+6] == byte(crc) {
			w.endCommand()
			return
		}
		w.status |= StCRCError
	}
	w.status |= StSeekError
	w.endCommand()
}

// dispatchType23 routes a settled Type II/III command to its flow.
func (w *WD1793) dispatchType23() {
	switch {
	case w.cmd&0xE0 == 0x80: // read sector
		w.state = CmdRW
	case w.cmd&0xE0 == 0xA0: // write sector
		if w.writeProtected() {
			w.status |= StWriteProtect
			w.endCommand()
			return
		}
		w.state = CmdRW
	case w.cmd&0xF0 == 0xC0: // read address
		w.state = CmdRW
	case w.cmd&0xF0 == 0xE0: // read track
		w.curTrack = w.currentTrack()
		if w.curTrack == nil {
			w.status |= StNotFound
			w.endCommand()
			return
		}
		w.rwptr = 0
		w.rwlen = len(w.curTrack.Data)
		w.startCRC = -1
		w.state = RdSec
	case w.cmd&0xF0 == 0xF0: // write track
		if w.writeProtected() {
			w.status |= StWriteProtect
			w.endCommand()
			return
		}
		w.state = WrTrack
	default:
		w.endCommand()
	}
}

func (w *WD1793) writeProtected() bool {
	if w.cfg.WriteProtect[w.drive] {
		return true
	}
	d := w.SelectedDisk()
	return d != nil && d.WriteProtected
}

// beginRW starts the ID scan for read/write sector and read address.
func (w *WD1793) beginRW() {
	w.curTrack = w.currentTrack()
	if w.curTrack == nil {
		w.status |= StNotFound
		w.endCommand()
		return
	}
	w.rotations = 0
	w.idamQueue = w.curTrack.IDAMs()
	w.state = FoundNextID
}

// findNextID consumes ID marks looking for a CHRN match. Returns false
// when it parked in Wait (still rotating) and Process should yield.
func (w *WD1793) findNextID(now uint64) bool {
	for {
		if len(w.idamQueue) == 0 {
			w.rotations++
			if w.rotations >= w.cfg.SeekRetries {
				w.status |= StNotFound
				w.endCommand()
				return true
			}
			w.idamQueue = w.curTrack.IDAMs()
			if len(w.idamQueue) == 0 {
				w.status |= StNotFound
				w.endCommand()
				return true
			}
			if !w.cfg.NoDelay {
				w.next = now + indexPeriod
				w.state = Wait
				w.stateNext = FoundNextID
				return false
			}
		}
		idam := w.idamQueue[0]
		w.idamQueue = w.idamQueue[1:]

		if w.cmd&0xF0 == 0xC0 { // read address: first ID wins
			w.sector = w.curTrack.Data[idam+1] // datasheet quirk: C -> sector reg
			w.rwptr = idam + 1
			w.rwlen = 6
			w.startCRC = -1
			w.state = RdSec
			return true
		}

		c, h, r, _ := w.curTrack.IDField(idam)
		if c != w.track || r != w.sector {
			continue
		}
		if w.cmd&0x02 != 0 && h != byte((w.cmd>>3)&1) {
			continue
		}
		crc := trackstore.CRC16(w.curTrack.Data[idam-3:idam+5], 0xFFFF)
		if w.curTrack.Data[idam+5] != byte(crc>>8) || w.curTrack.Data[idam+6] != byte(crc) {
			w.status |= StCRCError
			continue
		}

		if w.cmd&0xE0 == 0xA0 { // write sector
			off, length, ok := w.curTrack.DataOffset(idam)
			if !ok {
				continue
			}
			w.rwptr = off
			w.rwlen = length
			w.startCRC = off
			w.rqs |= RqsDRQ
			w.status |= StDRQ
			w.next = now + byteTime*11
			w.state = WrSec
			return true
		}

		off, length, ok := w.curTrack.DataOffset(idam)
		if !ok {
			continue
		}
		if w.curTrack.Data[off-1] == 0xF8 {
			w.status |= StRecordType
		}
		w.rwptr = off
		w.rwlen = length
		w.startCRC = off
		w.state = RdSec
		return true
	}
}

// stepRead paces one byte into the data register. Returns false when
// parked in Wait.
func (w *WD1793) stepRead(now uint64) bool {
	if w.rwlen == 0 {
		w.finishRead()
		return true
	}
	if w.rqs&RqsDRQ != 0 {
		// Host hasn't taken the previous byte yet. With delays off the
		// machine simply holds the byte; with delays on the next byte
		// overruns it after one byte time.
		if w.cfg.NoDelay {
			return false
		}
		if now < w.next {
			w.state = Wait
			w.stateNext = Read
			return false
		}
		w.status |= StLostData
	}
	w.data = w.curTrack.Data[w.rwptr]
	w.rwptr++
	w.rwlen--
	w.rqs |= RqsDRQ
	w.status |= StDRQ
	if w.cfg.NoDelay {
		return false
	}
	w.next = now + byteTime
	w.state = Wait
	w.stateNext = Read
	return false
}

func (w *WD1793) finishRead() {
	if w.startCRC >= 0 {
		length := w.rwptr - w.startCRC
		if !w.curTrack.DataCRCOK(w.startCRC, length) {
			w.status |= StCRCError
		}
	}
	if w.cmd&0xE0 == 0x80 && w.cmd&0x10 != 0 { // multi-sector read
		w.sector++
		w.rotations = 0
		w.idamQueue = w.curTrack.IDAMs()
		w.state = FoundNextID
		return
	}
	w.endCommand()
}

// stepWrite consumes host-supplied bytes into the track. The host pushes
// bytes via WriteData; this state only times out laggards and finishes
// the sector.
func (w *WD1793) stepWrite(now uint64) bool {
	if w.rwlen == 0 {
		w.curTrack.UpdateDataCRC(w.startCRC, w.rwptr-w.startCRC)
		if d := w.SelectedDisk(); d != nil {
			d.OpType |= trackstore.SectorDirty
		}
		if w.cmd&0x10 != 0 {
			w.sector++
			w.rotations = 0
			w.idamQueue = w.curTrack.IDAMs()
			w.state = FoundNextID
			return true
		}
		w.endCommand()
		return true
	}
	if w.rqs&RqsDRQ != 0 {
		if w.cfg.NoDelay {
			return false
		}
		if now < w.next {
			w.state = Wait
			w.stateNext = Write
			return false
		}
		w.status |= StLostData
		w.endCommand()
		return true
	}
	// Byte accepted by WriteData; request the next one.
	w.rqs |= RqsDRQ
	w.status |= StDRQ
	if w.cfg.NoDelay {
		return false
	}
	w.next = now + byteTime*11
	w.state = Wait
	w.stateNext = Write
	return false
}

// stepWriteTrack consumes a raw formatting stream. The F5/F6/F7 data
// patterns are the WD1793 format controls: F5 writes an A1 sync byte,
// F6 a C2, F7 the accumulated CRC; the byte after an A1 run is flagged
// as an address mark.
func (w *WD1793) stepWriteTrack(now uint64) bool {
	if w.rwlen == 0 {
		if d := w.SelectedDisk(); d != nil {
			d.OpType |= trackstore.SectorDirty | trackstore.TrackFormatted
		}
		w.endCommand()
		return true
	}
	if w.rqs&RqsDRQ != 0 {
		if w.cfg.NoDelay {
			return false
		}
		if now < w.next {
			w.state = Wait
			w.stateNext = WrTrackData
			return false
		}
		w.status |= StLostData
		w.endCommand()
		return true
	}
	w.rqs |= RqsDRQ
	w.status |= StDRQ
	if w.cfg.NoDelay {
		return false
	}
	w.next = now + byteTime*11
	w.state = Wait
	w.stateNext = WrTrackData
	return false
}

// acceptFormatByte translates one write-track stream byte into the raw
// track, handling the F5/F6/F7 controls and mark flagging.
func (w *WD1793) acceptFormatByte(v byte) {
	t := w.curTrack
	pos := w.rwptr
	switch v {
	case 0xF5:
		t.Data[pos] = 0xA1
	case 0xF6:
		t.Data[pos] = 0xC2
	case 0xF7:
		// CRC over everything since the last A1 run.
		start := pos
		for start > 2 && !(t.Data[start-1] == 0xA1 && t.Data[start-2] == 0xA1 && t.Data[start-3] == 0xA1) {
			start--
		}
		crc := trackstore.CRC16(t.Data[start-3:pos], 0xFFFF)
		t.Data[pos] = byte(crc >> 8)
		if pos+1 < len(t.Data) {
			t.Data[pos+1] = byte(crc)
			w.rwptr++
			w.rwlen--
		}
	default:
		t.Data[pos] = v
		if pos >= 3 && t.Data[pos-1] == 0xA1 && t.Data[pos-2] == 0xA1 && t.Data[pos-3] == 0xA1 {
			t.SetMark(pos)
		}
	}
	w.rwptr++
	w.rwlen--
	if w.rwlen < 0 {
		w.rwlen = 0
	}
}

// --- Register file access (ports 0x1F/0x3F/0x5F/0x7F) ---

// ReadStatus returns the status register. Reading it clears INTRQ, per
// the datasheet. Type I status carries the live TRK00/INDEX/head bits.
func (w *WD1793) ReadStatus() byte {
	now := w.clk.Now()
	w.Process(now)
	w.rqs &^= RqsINTRQ

	st := w.status
	if w.cmd&0x80 == 0 || w.cmd&0xF0 == 0xD0 { // Type I view
		st &^= StIndex | StTrack00 | StHeadLoaded | StWriteProtect | StNotReady
		if !w.ready() {
			st |= StNotReady
		} else {
			if w.headCyl[w.drive] == 0 {
				st |= StTrack00
			}
			if now%indexPeriod < indexPulse {
				st |= StIndex
			}
			if w.hlt {
				st |= StHeadLoaded
			}
			if w.writeProtected() {
				st |= StWriteProtect
			}
		}
	} else if !w.ready() {
		st |= StNotReady
	}
	return st
}

// ReadTrack returns the track register.
func (w *WD1793) ReadTrack() byte {
	w.Process(w.clk.Now())
	return w.track
}

// ReadSectorReg returns the sector register.
func (w *WD1793) ReadSectorReg() byte {
	w.Process(w.clk.Now())
	return w.sector
}

// ReadData returns the data register, acknowledging DRQ.
func (w *WD1793) ReadData() byte {
	w.Process(w.clk.Now())
	v := w.data
	if w.rqs&RqsDRQ != 0 {
		w.rqs &^= RqsDRQ
		w.status &^= StDRQ
		w.Process(w.clk.Now())
	}
	return v
}

// WriteTrackReg sets the track register (ignored while busy).
func (w *WD1793) WriteTrackReg(v byte) {
	if w.status&StBusy == 0 {
		w.track = v
	}
}

// WriteSectorReg sets the sector register (ignored while busy).
func (w *WD1793) WriteSectorReg(v byte) {
	if w.status&StBusy == 0 {
		w.sector = v
	}
}

// WriteData feeds the data register. During write flows the byte lands
// in the track store at rwptr.
func (w *WD1793) WriteData(v byte) {
	w.Process(w.clk.Now())
	w.data = v
	if w.rqs&RqsDRQ == 0 {
		return
	}
	switch {
	case w.state == Write || (w.state == Wait && w.stateNext == Write) || w.state == WrSec:
		w.curTrack.Data[w.rwptr] = v
		w.rwptr++
		w.rwlen--
		w.rqs &^= RqsDRQ
		w.status &^= StDRQ
		w.state = Write
		w.Process(w.clk.Now())
	case w.state == WrTrackData || (w.state == Wait && w.stateNext == WrTrackData):
		w.acceptFormatByte(v)
		w.rqs &^= RqsDRQ
		w.status &^= StDRQ
		w.state = WrTrackData
		w.Process(w.clk.Now())
	default:
		w.rqs &^= RqsDRQ
		w.status &^= StDRQ
	}
}

// --- Beta Disk system register (port 0xFF) ---

// WriteSystem handles a write to the Beta Disk system register: drive
// select in bits 0-1, controller reset in bit 2 (active low), HLT in
// bit 3, side select in bit 4 (inverted on the interface), density in
// bit 6.
func (w *WD1793) WriteSystem(v byte) {
	w.Process(w.clk.Now())
	w.drive = int(v & 0x03)
	w.side = int((v>>4)&1) ^ 1
	w.hlt = v&0x08 != 0
	w.density = v&0x40 != 0
	if v&0x04 == 0 {
		w.reset()
	}
}

// ReadSystem returns the system register view: DRQ in bit 6, INTRQ in
// bit 7, remaining bits high.
func (w *WD1793) ReadSystem() byte {
	w.Process(w.clk.Now())
	return w.rqs | 0x3F
}

func (w *WD1793) reset() {
	w.state = Idle
	w.status = 0
	w.rqs = 0
	w.cmd = 0
	w.sector = 1
}

// Reset performs a hard controller reset, including head positions.
func (w *WD1793) Reset() {
	w.reset()
	w.track = 0
	w.data = 0
	for i := range w.headCyl {
		w.headCyl[i] = 0
	}
}
