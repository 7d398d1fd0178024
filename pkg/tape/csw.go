package tape

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/minz/zxcore/pkg/pulsestore"
)

var cswSignature = []byte("Compressed Square Wave\x1A")

// LoadCSW parses a CSW v1 image into store. The header is always read
// with the 32-byte v1 layout, so a CSW v2 file is not parsed as v2. Only
// RLE compression (type 1) is accepted; any other compression byte is
// rejected as an invalid format.
func LoadCSW(store *pulsestore.Store, data []byte) error {
	if len(data) < 32 {
		return errors.Wrap(ErrInvalidFormat, "CSW header too short")
	}
	if string(data[:len(cswSignature)]) != string(cswSignature) {
		return errors.Wrap(ErrInvalidFormat, "bad CSW signature")
	}
	sampleRate := binary.LittleEndian.Uint16(data[0x19:0x1B])
	if sampleRate == 0 {
		return errors.Wrap(ErrInvalidFormat, "zero CSW sample rate")
	}
	compression := data[0x1B]
	if compression != 1 {
		return errors.Wrapf(ErrInvalidFormat, "unsupported CSW compression type %d", compression)
	}

	tPerSample := uint32(Z80ClockHz / uint32(sampleRate))

	start := len(store.Image)
	var tstates uint64
	pos := 32
	for pos < len(data) {
		var runLen uint32
		b := data[pos]
		pos++
		if b == 0x00 {
			if pos+4 > len(data) {
				return errors.Wrap(ErrInvalidFormat, "truncated CSW escape run length")
			}
			runLen = binary.LittleEndian.Uint32(data[pos : pos+4])
			pos += 4
		} else {
			runLen = uint32(b)
		}
		d := runLen * tPerSample
		if err := store.AppendPulse(d); err != nil {
			return errors.Wrap(err, "tape: CSW run")
		}
		tstates += uint64(d)
	}

	finalPause := uint32(Z80ClockHz / 10)
	if err := store.AppendPulse(finalPause); err != nil {
		return err
	}
	tstates += uint64(finalPause)

	store.CloseBlock("CSW recording", start, tstates)
	return nil
}
