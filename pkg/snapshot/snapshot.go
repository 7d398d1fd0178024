// Package snapshot restores machine state from SNA, Z80 and SP snapshot
// files. Snapshots bypass the tape and disk engines entirely: they
// write the register file, interrupt state, paging registers and RAM
// pages directly and hand back control.
package snapshot

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/minz/zxcore/pkg/z80"
)

// ErrInvalidFormat is returned for signature/size mismatches. Nothing
// is written to the machine before validation passes.
var ErrInvalidFormat = errors.New("snapshot: INVALID_FORMAT")

// Kind tags the snapshot container.
type Kind int

const (
	KindUnknown Kind = iota
	KindSNA
	KindZ80
	KindSP
)

// Exact SNA file sizes: 48K, and the two 128K variants (5 or 6 extra
// banks after the 48K body, depending on whether the paged-in bank
// duplicates bank 5 or 2).
const (
	snaSize48     = 49179
	snaSize128    = 131103
	snaSize128Dup = 147487
)

// Detect classifies a snapshot: SNA by exact file size, Z80 by
// extension, SP by signature plus size consistency.
func Detect(path string, data []byte) Kind {
	switch len(data) {
	case snaSize48, snaSize128, snaSize128Dup:
		return KindSNA
	}
	if strings.ToLower(filepath.Ext(path)) == ".z80" {
		return KindZ80
	}
	if len(data) >= 38 && data[0] == 'S' && data[1] == 'P' {
		length := int(data[2]) | int(data[3])<<8
		if 38+length == len(data) {
			return KindSP
		}
	}
	if strings.ToLower(filepath.Ext(path)) == ".sna" {
		return KindSNA
	}
	return KindUnknown
}

// Result carries the machine state a snapshot restores beyond the CPU
// core itself.
type Result struct {
	Border byte
	P7FFD  byte
	TRDOS  bool // snapshot taken with TR-DOS ROM paged in
}

// Load detects and restores a snapshot into the core. The memory
// reached through core.Memory() receives the RAM pages; paging
// registers are restored through the same WriteP7FFD path the emulated
// OUT takes, so the sticky lock semantics apply.
func Load(path string, data []byte, core *z80.Core) (*Result, error) {
	var (
		res *Result
		err error
	)
	switch Detect(path, data) {
	case KindSNA:
		res, err = LoadSNA(data, core)
	case KindZ80:
		res, err = LoadZ80(data, core)
	case KindSP:
		res, err = LoadSP(data, core)
	default:
		return nil, errors.Wrapf(ErrInvalidFormat, "unrecognized snapshot %q", path)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "loading %q", path)
	}
	return res, nil
}
