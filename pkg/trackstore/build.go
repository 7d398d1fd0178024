package trackstore

// SectorSpec describes one sector for BuildTrack: explicit CHRN fields
// (which need not match the physical cylinder on copy-protected disks),
// the data payload, and whether the data CRC should be recorded bad or
// the data mark deleted.
type SectorSpec struct {
	C, H, R, N byte
	Data       []byte
	BadCRC     bool
	Deleted    bool
}

// BuildTrack lays out a raw track from an explicit sector list, sized to
// fit (at least RawTrackSize). Used by loaders whose images carry
// irregular per-sector geometry instead of the standard 16x256 layout.
func BuildTrack(sectors []SectorSpec) *Track {
	size := 80
	for _, s := range sectors {
		size += 12 + 3 + 7 + 22 + 12 + 3 + 1 + sectorLen(s.N) + 2 + 54
	}
	if size < RawTrackSize {
		size = RawTrackSize
	}
	t := NewTrack(size)
	pos := fill(t.Data, 0, 0x4E, 80)

	for _, s := range sectors {
		pos = fill(t.Data, pos, 0x00, 12)
		pos = fill(t.Data, pos, 0xA1, 3)
		idam := pos
		t.Data[pos] = 0xFE
		t.SetMark(pos)
		pos++
		t.Data[pos] = s.C
		t.Data[pos+1] = s.H
		t.Data[pos+2] = s.R
		t.Data[pos+3] = s.N
		pos += 4
		crc := CRC16(t.Data[idam-3:pos], 0xFFFF)
		t.Data[pos] = byte(crc >> 8)
		t.Data[pos+1] = byte(crc)
		pos += 2

		if s.Data == nil {
			// ID without a data field; leave only the gap.
			pos = fill(t.Data, pos, 0x4E, 54)
			continue
		}

		pos = fill(t.Data, pos, 0x4E, 22)
		pos = fill(t.Data, pos, 0x00, 12)
		pos = fill(t.Data, pos, 0xA1, 3)
		dam := pos
		mark := byte(0xFB)
		if s.Deleted {
			mark = 0xF8
		}
		t.Data[pos] = mark
		t.SetMark(pos)
		pos++
		n := sectorLen(s.N)
		want := s.Data
		if len(want) > n {
			want = want[:n]
		}
		copied := copy(t.Data[pos:], want)
		pos = fill(t.Data, pos+copied, 0x00, n-copied)
		crc = CRC16(t.Data[dam-3:pos], 0xFFFF)
		if s.BadCRC {
			crc ^= 0xFFFF
		}
		t.Data[pos] = byte(crc >> 8)
		t.Data[pos+1] = byte(crc)
		pos += 2
		pos = fill(t.Data, pos, 0x4E, 54)
	}

	fill(t.Data, pos, 0x4E, len(t.Data)-pos)
	return t
}

func sectorLen(n byte) int { return 128 << uint(n&0x03) }
