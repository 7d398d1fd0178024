package tape

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"

	"github.com/minz/zxcore/pkg/pulsestore"
)

// ErrInvalidFormat is returned by every parser in this package on
// malformed input.
var ErrInvalidFormat = errors.New("tape: INVALID_FORMAT")

// LoadTAP parses a TAP image into store, appending one
// pulse-store block per TAP block.
func LoadTAP(store *pulsestore.Store, data []byte) error {
	pos := 0
	for pos < len(data) {
		if pos+2 > len(data) {
			return errors.Wrap(ErrInvalidFormat, "truncated TAP block length")
		}
		length := int(binary.LittleEndian.Uint16(data[pos : pos+2]))
		pos += 2
		if pos+length > len(data) {
			return errors.Wrap(ErrInvalidFormat, "truncated TAP block data")
		}
		block := data[pos : pos+length]
		pos += length
		if len(block) == 0 {
			return errors.Wrap(ErrInvalidFormat, "empty TAP block")
		}
		if err := makeblock(store, block); err != nil {
			return err
		}
	}
	return nil
}

// makeblock emits the canonical ZX ROM pilot/sync/bit pulse structure for
// one TAP/standard-speed-TZX block, then closes it with the
// end-of-block sentinel and a trailing pause.
func makeblock(store *pulsestore.Store, block []byte) error {
	start := len(store.Image)
	var tstates uint64

	pilotLen := PilotLenData
	if block[0] < 4 {
		pilotLen = PilotLenHeader
	}
	for i := 0; i < pilotLen; i++ {
		if err := store.AppendPulse(PilotPulse); err != nil {
			return errors.Wrap(err, "tape: pilot pulse")
		}
		tstates += PilotPulse
	}
	if err := store.AppendPulse(Sync1Pulse); err != nil {
		return err
	}
	tstates += Sync1Pulse
	if err := store.AppendPulse(Sync2Pulse); err != nil {
		return err
	}
	tstates += Sync2Pulse

	for _, b := range block {
		if err := appendByte(store, b, &tstates); err != nil {
			return err
		}
	}

	pauseT := uint32(TrailingPauseMS * (Z80ClockHz / 1000))
	if err := store.AppendPulse(pauseT); err != nil {
		return err
	}
	tstates += uint64(pauseT)

	store.CloseBlock(fmt.Sprintf("block flag=0x%02X len=%d", block[0], len(block)), start, tstates)
	return nil
}

// appendByte emits the two-pulse-per-bit encoding for one byte, MSB
// first, per the ZX ROM save routine.
func appendByte(store *pulsestore.Store, b byte, tstates *uint64) error {
	for bit := 7; bit >= 0; bit-- {
		pulse := uint32(ZeroPulse)
		if b&(1<<uint(bit)) != 0 {
			pulse = OnePulse
		}
		if err := store.AppendPulse(pulse); err != nil {
			return err
		}
		*tstates += uint64(pulse)
		if err := store.AppendPulse(pulse); err != nil {
			return err
		}
		*tstates += uint64(pulse)
	}
	return nil
}
