package disk

import (
	"bytes"
	"testing"

	"github.com/minz/zxcore/pkg/clock"
	"github.com/minz/zxcore/pkg/trackstore"
)

func newTestController(t *testing.T) (*WD1793, *trackstore.Disk, *clock.Clock) {
	t.Helper()
	clk := clock.New(clock.DefaultFrameLength)
	w := New(clk, Config{NoDelay: true})
	d := trackstore.New()
	d.Format(80, 2, 0)
	w.InsertDisk(0, d)
	return w, d, clk
}

func TestReadSectorFlow(t *testing.T) {
	w, d, _ := newTestController(t)

	payload := make([]byte, trackstore.SectorSize)
	for i := range payload {
		payload[i] = byte(i ^ 0x5A)
	}
	d.WriteSector(0, 0, 3, payload)

	w.WriteSectorReg(3)
	w.WriteCommand(0x80) // read sector, single

	if w.ReadStatus()&StBusy == 0 {
		t.Fatal("BSY clear during read command")
	}
	if w.RQS()&RqsDRQ == 0 {
		t.Fatal("DRQ not raised for first byte")
	}

	var got []byte
	for i := 0; i < trackstore.SectorSize; i++ {
		if w.RQS()&RqsDRQ == 0 {
			t.Fatalf("DRQ dropped at byte %d", i)
		}
		got = append(got, w.ReadData())
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("sector data mismatch")
	}
	st := w.ReadStatus()
	if st&StBusy != 0 {
		t.Error("BSY still set after transfer")
	}
	if st&StCRCError != 0 {
		t.Error("CRC error on clean sector")
	}
}

func TestCommandIgnoredWhileBusy(t *testing.T) {
	clk := clock.New(clock.DefaultFrameLength)
	w := New(clk, Config{}) // real delays so the command stays busy
	d := trackstore.New()
	d.Format(40, 1, 0)
	w.InsertDisk(0, d)

	w.WriteSectorReg(1)
	w.WriteCommand(0x80)
	if w.status&StBusy == 0 {
		t.Fatal("read command did not go busy")
	}
	w.WriteCommand(0xA0) // write sector must be ignored
	if w.cmd != 0x80 {
		t.Errorf("busy controller accepted new command %02X", w.cmd)
	}

	w.WriteCommand(0xD0) // force interrupt always lands
	if w.cmd != 0xD0 {
		t.Error("force interrupt rejected while busy")
	}
	if w.status&StBusy != 0 {
		t.Error("force interrupt did not clear BSY")
	}
}

func TestWriteProtect(t *testing.T) {
	clk := clock.New(clock.DefaultFrameLength)
	w := New(clk, Config{NoDelay: true, WriteProtect: [4]bool{true}})
	d := trackstore.New()
	d.Format(40, 1, 0)
	w.InsertDisk(0, d)

	w.WriteSectorReg(1)
	w.WriteCommand(0xA0)
	st := w.ReadStatus()
	if st&StWriteProtect == 0 {
		t.Error("write to protected drive did not set WRITE PROTECT")
	}
	if st&StBusy != 0 {
		t.Error("protected write left BSY set")
	}
}

func TestWriteSectorFlow(t *testing.T) {
	w, d, _ := newTestController(t)

	w.WriteSectorReg(5)
	w.WriteCommand(0xA0)
	if w.RQS()&RqsDRQ == 0 {
		t.Fatal("DRQ not raised for write")
	}
	for i := 0; i < trackstore.SectorSize; i++ {
		w.WriteData(byte(i))
	}
	if w.ReadStatus()&StBusy != 0 {
		t.Fatal("BSY after write completed")
	}
	got := d.ReadSector(0, 0, 5)
	for i := range got {
		if got[i] != byte(i) {
			t.Fatalf("byte %d = %02X, want %02X", i, got[i], byte(i))
		}
	}
	tr := d.Track(0, 0)
	idams := tr.IDAMs()
	for _, idam := range idams {
		if _, _, r, _ := tr.IDField(idam); r == 5 {
			off, length, _ := tr.DataOffset(idam)
			if !tr.DataCRCOK(off, length) {
				t.Error("data CRC stale after sector write")
			}
		}
	}
}

func TestSectorNotFound(t *testing.T) {
	w, _, _ := newTestController(t)

	w.WriteSectorReg(200) // no such sector
	w.WriteCommand(0x80)
	// Checked before the status read, which clears INTRQ.
	if w.RQS()&RqsINTRQ == 0 {
		t.Error("command completion did not raise INTRQ")
	}
	st := w.ReadStatus()
	if st&StNotFound == 0 {
		t.Error("missing sector did not set RECORD NOT FOUND")
	}
	if st&StBusy != 0 {
		t.Error("not-found left BSY set")
	}
}

func TestSeekAndRestore(t *testing.T) {
	w, _, _ := newTestController(t)

	// Seek to track 12 with verify.
	w.data = 12
	w.WriteCommand(0x14) // seek, V set
	if w.track != 12 {
		t.Fatalf("track register = %d after seek, want 12", w.track)
	}
	if w.headCyl[0] != 12 {
		t.Fatalf("head at cyl %d, want 12", w.headCyl[0])
	}
	if w.status&StSeekError != 0 {
		t.Error("verify failed on formatted track")
	}

	w.WriteCommand(0x04) // restore, V set
	if w.track != 0 || w.headCyl[0] != 0 {
		t.Errorf("restore left track=%d cyl=%d", w.track, w.headCyl[0])
	}
	if w.ReadStatus()&StTrack00 == 0 {
		t.Error("TRK00 clear after restore")
	}
}

func TestReadAddress(t *testing.T) {
	w, _, _ := newTestController(t)

	w.WriteCommand(0xC0)
	var id [6]byte
	for i := range id {
		if w.RQS()&RqsDRQ == 0 {
			t.Fatalf("DRQ missing for ID byte %d", i)
		}
		id[i] = w.ReadData()
	}
	if id[0] != 0 || id[1] != 0 || id[3] != 1 {
		t.Errorf("ID field = % X", id)
	}
	if w.ReadSectorReg() != id[0] {
		t.Error("track address not copied to sector register")
	}
}

func TestCRCErrorSurfacesInStatus(t *testing.T) {
	w, d, _ := newTestController(t)
	d.CorruptSectorCRC(0, 0, 7)

	w.WriteSectorReg(7)
	w.WriteCommand(0x80)
	for w.RQS()&RqsDRQ != 0 {
		w.ReadData()
	}
	if w.ReadStatus()&StCRCError == 0 {
		t.Error("bad data CRC not reported")
	}
}

func TestSystemRegister(t *testing.T) {
	w, _, _ := newTestController(t)

	w.WriteSystem(0x3C) // drive 0, reset high, HLT, side 0 bit set
	if w.drive != 0 {
		t.Errorf("drive = %d, want 0", w.drive)
	}
	if w.side != 0 {
		t.Errorf("side = %d, want 0 (bit 4 set selects side 0)", w.side)
	}
	w.WriteSystem(0x2D) // drive 1, side 1
	if w.drive != 1 {
		t.Errorf("drive = %d, want 1", w.drive)
	}

	w.rqs = RqsDRQ | RqsINTRQ
	if got := w.ReadSystem(); got != 0xFF {
		t.Errorf("system read = %02X, want FF", got)
	}
	w.rqs = 0
	if got := w.ReadSystem(); got != 0x3F {
		t.Errorf("system read = %02X, want 3F", got)
	}
}
