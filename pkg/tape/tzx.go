package tape

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/minz/zxcore/pkg/pulsestore"
)

// tzxSignature is the fixed 8-byte signature that opens the 10-byte TZX
// file header (signature, then major and minor version).
var tzxSignature = [8]byte{'Z', 'X', 'T', 'a', 'p', 'e', '!', 0x1A}

// rawBlock is one parsed-but-uninterpreted TZX block: its ID and the raw
// payload bytes conventionally documented for that ID, boundaries already
// resolved so the control-flow interpreter can skip unsupported ones.
type rawBlock struct {
	id      byte
	payload []byte
}

// LoadTZX parses a TZX image into store. Block IDs 0x10-0x15
// become audio; 0x20-0x28 drive a small control-flow interpreter over the
// block list; metadata/archive blocks are skipped; 0x40 (embedded
// snapshot) fails with INVALID_FORMAT since mid-tape machine-state
// injection has no representation in a pulse stream.
func LoadTZX(store *pulsestore.Store, data []byte) error {
	if len(data) < 10 {
		return errors.Wrap(ErrInvalidFormat, "TZX file too short")
	}
	var sig [8]byte
	copy(sig[:], data[:8])
	if sig != tzxSignature {
		return errors.Wrap(ErrInvalidFormat, "bad TZX signature")
	}
	pos := 10 // signature(8) + major + minor

	blocks, err := splitTZXBlocks(data[pos:])
	if err != nil {
		return err
	}
	return executeTZXBlocks(store, blocks)
}

// splitTZXBlocks walks the block stream once, resolving each block's
// length from its ID-specific layout, without interpreting control flow.
func splitTZXBlocks(data []byte) ([]rawBlock, error) {
	var blocks []rawBlock
	pos := 0
	for pos < len(data) {
		id := data[pos]
		pos++
		size, err := tzxBlockSize(id, data[pos:])
		if err != nil {
			return nil, err
		}
		if pos+size > len(data) {
			return nil, errors.Wrap(ErrInvalidFormat, "truncated TZX block")
		}
		blocks = append(blocks, rawBlock{id: id, payload: data[pos : pos+size]})
		pos += size
	}
	return blocks, nil
}

// tzxBlockSize returns how many payload bytes (after the ID byte) the
// given block ID occupies, per the length encoding conventionally
// documented for each ID.
func tzxBlockSize(id byte, rest []byte) (int, error) {
	u16 := func(off int) int { return int(binary.LittleEndian.Uint16(rest[off : off+2])) }
	u24 := func(off int) int {
		return int(rest[off]) | int(rest[off+1])<<8 | int(rest[off+2])<<16
	}

	switch id {
	case 0x10: // standard speed data: pause(2) + len(2) + data
		if len(rest) < 4 {
			return 0, errors.Wrap(ErrInvalidFormat, "short 0x10 block")
		}
		return 4 + u16(2), nil
	case 0x11: // turbo speed data: 15-byte header + data_len(3)
		if len(rest) < 18 {
			return 0, errors.Wrap(ErrInvalidFormat, "short 0x11 block")
		}
		return 18 + u24(15), nil
	case 0x12: // pure tone: pulse(2) + count(2)
		return 4, nil
	case 0x13: // pulse sequence: count(1) + count*2
		if len(rest) < 1 {
			return 0, errors.Wrap(ErrInvalidFormat, "short 0x13 block")
		}
		return 1 + int(rest[0])*2, nil
	case 0x14: // pure data: 7-byte header + data_len(3)
		if len(rest) < 10 {
			return 0, errors.Wrap(ErrInvalidFormat, "short 0x14 block")
		}
		return 10 + u24(7), nil
	case 0x15: // direct recording: 5-byte header + data_len(3)
		if len(rest) < 8 {
			return 0, errors.Wrap(ErrInvalidFormat, "short 0x15 block")
		}
		return 8 + u24(5), nil
	case 0x18, 0x19, 0x35: // CSW recording / generalized data / custom info: length(4) + data
		if len(rest) < 4 {
			return 0, errors.Wrap(ErrInvalidFormat, "short length-prefixed block")
		}
		return 4 + int(binary.LittleEndian.Uint32(rest[:4])), nil
	case 0x20: // pause/stop tape: 2
		return 2, nil
	case 0x21: // group start: len(1) + text
		if len(rest) < 1 {
			return 0, errors.Wrap(ErrInvalidFormat, "short 0x21 block")
		}
		return 1 + int(rest[0]), nil
	case 0x22: // group end: no payload
		return 0, nil
	case 0x23: // jump: 2 (signed relative)
		return 2, nil
	case 0x24: // loop start: count(2)
		return 2, nil
	case 0x25: // loop end: no payload
		return 0, nil
	case 0x26: // call sequence: count(2) + count*2
		if len(rest) < 2 {
			return 0, errors.Wrap(ErrInvalidFormat, "short 0x26 block")
		}
		return 2 + u16(0)*2, nil
	case 0x27: // return: no payload
		return 0, nil
	case 0x28: // select block: length(2) + data
		if len(rest) < 2 {
			return 0, errors.Wrap(ErrInvalidFormat, "short 0x28 block")
		}
		return 2 + u16(0), nil
	case 0x2A: // stop if 48k: length(4), always 0
		return 4, nil
	case 0x2B: // set signal level: length(4)=1 + level(1)
		return 5, nil
	case 0x30: // text description: len(1) + text
		if len(rest) < 1 {
			return 0, errors.Wrap(ErrInvalidFormat, "short 0x30 block")
		}
		return 1 + int(rest[0]), nil
	case 0x31: // message: duration(1) + len(1) + text
		if len(rest) < 2 {
			return 0, errors.Wrap(ErrInvalidFormat, "short 0x31 block")
		}
		return 2 + int(rest[1]), nil
	case 0x32: // archive info: length(2) + data
		if len(rest) < 2 {
			return 0, errors.Wrap(ErrInvalidFormat, "short 0x32 block")
		}
		return 2 + u16(0), nil
	case 0x33: // hardware type: count(1) + count*3
		if len(rest) < 1 {
			return 0, errors.Wrap(ErrInvalidFormat, "short 0x33 block")
		}
		return 1 + int(rest[0])*3, nil
	case 0x40: // embedded snapshot: length(3) + data
		if len(rest) < 3 {
			return 0, errors.Wrap(ErrInvalidFormat, "short 0x40 block")
		}
		return 3 + u24(0), nil
	case 0x5A: // glue: 9 bytes, always "XTape!" + version
		return 9, nil
	default:
		return 0, errors.Wrapf(ErrInvalidFormat, "unsupported TZX block ID 0x%02X", id)
	}
}

// loopFrame tracks an active 0x24/0x25 loop's start index and remaining
// iteration count.
type loopFrame struct {
	startIdx int
	count    int
}

// executeTZXBlocks interprets the jump/loop/call control-flow blocks
// while emitting audio for data blocks into store.
func executeTZXBlocks(store *pulsestore.Store, blocks []rawBlock) error {
	var loopStack []loopFrame
	var callStack []int

	for i := 0; i < len(blocks); i++ {
		b := blocks[i]
		switch b.id {
		case 0x10:
			if err := makeblock(store, b.payload[4:]); err != nil {
				return err
			}
		case 0x11:
			if err := appendTurboBlock(store, b.payload); err != nil {
				return err
			}
		case 0x12:
			if err := appendPureTone(store, b.payload); err != nil {
				return err
			}
		case 0x13:
			if err := appendPulseSequence(store, b.payload); err != nil {
				return err
			}
		case 0x14:
			if err := appendPureData(store, b.payload); err != nil {
				return err
			}
		case 0x15:
			if err := appendDirectRecording(store, b.payload); err != nil {
				return err
			}
		case 0x20:
			pauseMS := binary.LittleEndian.Uint16(b.payload[:2])
			if pauseMS > 0 {
				if err := store.AppendPulse(uint32(pauseMS) * (Z80ClockHz / 1000)); err != nil {
					return err
				}
			}
		case 0x21, 0x22, 0x28, 0x2A, 0x2B, 0x30, 0x31, 0x32, 0x33, 0x35, 0x5A:
			// metadata / cosmetic blocks: no audio effect.
		case 0x23:
			delta := int(int16(binary.LittleEndian.Uint16(b.payload[:2])))
			i += delta - 1 // loop increments i again
		case 0x24:
			count := int(binary.LittleEndian.Uint16(b.payload[:2]))
			loopStack = append(loopStack, loopFrame{startIdx: i, count: count})
		case 0x25:
			if len(loopStack) == 0 {
				return errors.Wrap(ErrInvalidFormat, "loop end without loop start")
			}
			top := &loopStack[len(loopStack)-1]
			top.count--
			if top.count > 0 {
				i = top.startIdx
			} else {
				loopStack = loopStack[:len(loopStack)-1]
			}
		case 0x26:
			n := int(binary.LittleEndian.Uint16(b.payload[:2]))
			for k := 0; k < n; k++ {
				delta := int(int16(binary.LittleEndian.Uint16(b.payload[2+k*2 : 4+k*2])))
				callStack = append(callStack, i+1)
				i += delta - 1
			}
		case 0x27:
			if len(callStack) == 0 {
				return errors.Wrap(ErrInvalidFormat, "return without call")
			}
			i = callStack[len(callStack)-1] - 1
			callStack = callStack[:len(callStack)-1]
		case 0x40:
			return errors.Wrap(ErrInvalidFormat, "embedded snapshot block not supported mid-tape")
		default:
			return errors.Wrapf(ErrInvalidFormat, "unsupported TZX block ID 0x%02X", b.id)
		}
	}
	return nil
}

func appendTurboBlock(store *pulsestore.Store, p []byte) error {
	pilot := binary.LittleEndian.Uint16(p[0:2])
	sync1 := binary.LittleEndian.Uint16(p[2:4])
	sync2 := binary.LittleEndian.Uint16(p[4:6])
	zero := binary.LittleEndian.Uint16(p[6:8])
	one := binary.LittleEndian.Uint16(p[8:10])
	pilotLen := binary.LittleEndian.Uint16(p[10:12])
	usedBits := p[12]
	dataLen := int(p[15]) | int(p[16])<<8 | int(p[17])<<16
	data := p[18 : 18+dataLen]

	start := len(store.Image)
	var tstates uint64
	for i := 0; i < int(pilotLen); i++ {
		if err := store.AppendPulse(uint32(pilot)); err != nil {
			return err
		}
		tstates += uint64(pilot)
	}
	if sync1 != 0 {
		if err := store.AppendPulse(uint32(sync1)); err != nil {
			return err
		}
		tstates += uint64(sync1)
	}
	if sync2 != 0 {
		if err := store.AppendPulse(uint32(sync2)); err != nil {
			return err
		}
		tstates += uint64(sync2)
	}
	for i, b := range data {
		bits := 8
		if i == len(data)-1 && usedBits > 0 {
			bits = int(usedBits)
		}
		for bit := 7; bit >= 8-bits; bit-- {
			pulse := uint32(zero)
			if b&(1<<uint(bit)) != 0 {
				pulse = uint32(one)
			}
			if err := store.AppendPulse(pulse); err != nil {
				return err
			}
			tstates += uint64(pulse)
			if err := store.AppendPulse(pulse); err != nil {
				return err
			}
			tstates += uint64(pulse)
		}
	}
	store.CloseBlock("turbo speed data", start, tstates)
	return nil
}

func appendPureTone(store *pulsestore.Store, p []byte) error {
	pulse := binary.LittleEndian.Uint16(p[0:2])
	count := binary.LittleEndian.Uint16(p[2:4])
	for i := 0; i < int(count); i++ {
		if err := store.AppendPulse(uint32(pulse)); err != nil {
			return err
		}
	}
	return nil
}

func appendPulseSequence(store *pulsestore.Store, p []byte) error {
	count := int(p[0])
	for i := 0; i < count; i++ {
		d := binary.LittleEndian.Uint16(p[1+i*2 : 3+i*2])
		if err := store.AppendPulse(uint32(d)); err != nil {
			return err
		}
	}
	return nil
}

func appendPureData(store *pulsestore.Store, p []byte) error {
	zero := binary.LittleEndian.Uint16(p[0:2])
	one := binary.LittleEndian.Uint16(p[2:4])
	usedBits := p[4]
	dataLen := int(p[7]) | int(p[8])<<8 | int(p[9])<<16
	data := p[10 : 10+dataLen]

	start := len(store.Image)
	var tstates uint64
	for i, b := range data {
		bits := 8
		if i == len(data)-1 && usedBits > 0 {
			bits = int(usedBits)
		}
		for bit := 7; bit >= 8-bits; bit-- {
			pulse := uint32(zero)
			if b&(1<<uint(bit)) != 0 {
				pulse = uint32(one)
			}
			if err := store.AppendPulse(pulse); err != nil {
				return err
			}
			tstates += uint64(pulse)
		}
	}
	store.CloseBlock("pure data", start, tstates)
	return nil
}

// appendDirectRecording decodes a raw-sample block (ID 0x15) by
// XORing consecutive sample polarities and emitting a pulse at each flip.
func appendDirectRecording(store *pulsestore.Store, p []byte) error {
	period := binary.LittleEndian.Uint16(p[0:2])
	dataLen := int(p[5]) | int(p[6])<<8 | int(p[7])<<16
	samples := p[8 : 8+dataLen]

	start := len(store.Image)
	var tstates uint64
	var run uint32
	var lastBit byte
	first := true
	for _, sampleByte := range samples {
		for bit := 7; bit >= 0; bit-- {
			cur := (sampleByte >> uint(bit)) & 1
			if first {
				lastBit = cur
				first = false
			}
			if cur^lastBit != 0 {
				if err := store.AppendPulse(run * uint32(period)); err != nil {
					return err
				}
				tstates += uint64(run) * uint64(period)
				run = 0
				lastBit = cur
			}
			run++
		}
	}
	if run > 0 {
		if err := store.AppendPulse(run * uint32(period)); err != nil {
			return err
		}
		tstates += uint64(run) * uint64(period)
	}
	store.CloseBlock("direct recording", start, tstates)
	return nil
}
