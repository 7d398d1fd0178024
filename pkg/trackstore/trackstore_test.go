package trackstore

import (
	"bytes"
	"testing"
)

func TestFormatLaysOutSixteenSectors(t *testing.T) {
	d := New()
	d.Format(80, 2, 0)

	if d.Cyls != 80 || d.Sides != 2 {
		t.Fatalf("geometry = %dx%d, want 80x2", d.Cyls, d.Sides)
	}
	tr := d.Track(0, 0)
	if tr == nil {
		t.Fatal("track (0,0) missing")
	}
	idams := tr.IDAMs()
	if len(idams) != SectorsPerTrack {
		t.Fatalf("got %d IDAMs, want %d", len(idams), SectorsPerTrack)
	}
	seen := map[byte]bool{}
	for _, pos := range idams {
		c, h, r, n := tr.IDField(pos)
		if c != 0 || h != 0 {
			t.Errorf("IDAM at %d: C/H = %d/%d, want 0/0", pos, c, h)
		}
		if n != 1 {
			t.Errorf("IDAM at %d: N = %d, want 1 (256 bytes)", pos, n)
		}
		seen[r] = true
	}
	for r := byte(1); r <= 16; r++ {
		if !seen[r] {
			t.Errorf("sector %d not present", r)
		}
	}
}

func TestInterleaveOrdering(t *testing.T) {
	d := New()
	d.Format(1, 1, 1)
	tr := d.Track(0, 0)
	var order []byte
	for _, pos := range tr.IDAMs() {
		_, _, r, _ := tr.IDField(pos)
		order = append(order, r)
	}
	want := []byte{1, 9, 2, 10, 3, 11, 4, 12, 5, 13, 6, 14, 7, 15, 8, 16}
	if !bytes.Equal(order, want) {
		t.Fatalf("interleave 1 order = %v, want %v", order, want)
	}
}

func TestReadWriteSectorRoundTrip(t *testing.T) {
	d := New()
	d.Format(40, 1, 0)

	payload := make([]byte, SectorSize)
	for i := range payload {
		payload[i] = byte(i * 3)
	}
	if !d.WriteSector(5, 0, 9, payload) {
		t.Fatal("WriteSector failed")
	}
	got := d.ReadSector(5, 0, 9)
	if !bytes.Equal(got, payload) {
		t.Fatal("sector data mismatch after write")
	}
	if d.OpType&SectorDirty == 0 {
		t.Error("SectorDirty not set after write")
	}
}

func TestWriteSectorUpdatesCRC(t *testing.T) {
	d := New()
	d.Format(1, 1, 0)
	tr := d.Track(0, 0)

	payload := bytes.Repeat([]byte{0x5A}, SectorSize)
	d.WriteSector(0, 0, 1, payload)

	_, off, length, ok := d.findSector(0, 0, 1)
	if !ok {
		t.Fatal("sector 1 not found")
	}
	if !tr.DataCRCOK(off, length) {
		t.Error("data CRC invalid after WriteSector")
	}

	d.CorruptSectorCRC(0, 0, 1)
	if tr.DataCRCOK(off, length) {
		t.Error("data CRC still valid after CorruptSectorCRC")
	}
}

func TestBuildTrackIrregularGeometry(t *testing.T) {
	specs := []SectorSpec{
		{C: 40, H: 1, R: 66, N: 2, Data: bytes.Repeat([]byte{0xAA}, 512)},
		{C: 0, H: 0, R: 1, N: 1, Data: bytes.Repeat([]byte{0xBB}, 256), BadCRC: true},
		{C: 0, H: 0, R: 2, N: 1}, // ID with no data field
	}
	tr := BuildTrack(specs)

	idams := tr.IDAMs()
	if len(idams) != 3 {
		t.Fatalf("got %d IDAMs, want 3", len(idams))
	}
	c, h, r, n := tr.IDField(idams[0])
	if c != 40 || h != 1 || r != 66 || n != 2 {
		t.Errorf("first ID = %d/%d/%d/%d, want 40/1/66/2", c, h, r, n)
	}
	off, length, ok := tr.DataOffset(idams[0])
	if !ok || length != 512 {
		t.Fatalf("first sector: ok=%v length=%d", ok, length)
	}
	if tr.Data[off] != 0xAA || !tr.DataCRCOK(off, length) {
		t.Error("first sector data or CRC wrong")
	}

	off, length, ok = tr.DataOffset(idams[1])
	if !ok {
		t.Fatal("second sector has no data field")
	}
	if tr.DataCRCOK(off, length) {
		t.Error("BadCRC sector verifies clean")
	}

	if _, _, ok := tr.DataOffset(idams[2]); ok {
		t.Error("dataless ID reported a data field")
	}
}

func TestCRC16KnownValue(t *testing.T) {
	// CRC-CCITT of "123456789" with initial 0xFFFF is 0x29B1.
	if got := CRC16([]byte("123456789"), 0xFFFF); got != 0x29B1 {
		t.Fatalf("CRC16 = %04X, want 29B1", got)
	}
}
