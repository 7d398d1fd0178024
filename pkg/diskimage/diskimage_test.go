package diskimage

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"

	"github.com/minz/zxcore/pkg/trackstore"
)

// buildTRD assembles a raw 80x2 TRD dump with a valid system sector.
func buildTRD(t *testing.T) []byte {
	t.Helper()
	data := make([]byte, 80*2*trdTrackBytes)
	sysOff := (trdSystemSector - 1) * trdSectorSize
	data[sysOff+trdDiskType] = DiskType80DS
	data[sysOff+trdSignature] = 0x10
	data[sysOff+trdFirstFreeTrack] = 1
	data[sysOff+trdFreeSectors] = 0x10
	copy(data[sysOff+trdLabel:], "testdisk")
	return data
}

func TestTRDRoundTrip(t *testing.T) {
	src := buildTRD(t)
	// Scatter recognizable data around the image.
	for i := 0; i < len(src); i += 1017 {
		src[i] = byte(i >> 3)
	}
	sysOff := (trdSystemSector - 1) * trdSectorSize
	src[sysOff+trdDiskType] = DiskType80DS
	src[sysOff+trdSignature] = 0x10

	d, err := LoadTRD(src, 0)
	if err != nil {
		t.Fatal(err)
	}
	if d.Cyls != 80 || d.Sides != 2 {
		t.Fatalf("geometry = %dx%d, want 80x2", d.Cyls, d.Sides)
	}
	if d.OpType&trackstore.SectorDirty != 0 {
		t.Error("freshly loaded disk marked dirty")
	}

	out, err := SaveTRD(d)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, src) {
		t.Fatal("TRD round trip not byte-identical")
	}
}

func TestTRDDescriptorGeometry(t *testing.T) {
	tests := []struct {
		diskType byte
		cyls     int
		sides    int
	}{
		{DiskType80DS, 80, 2},
		{DiskType40DS, 40, 2},
		{DiskType80SS, 80, 1},
		{DiskType40SS, 40, 1},
	}
	for _, tc := range tests {
		data := make([]byte, 80*2*trdTrackBytes)
		sysOff := (trdSystemSector - 1) * trdSectorSize
		data[sysOff+trdDiskType] = tc.diskType
		data[sysOff+trdSignature] = 0x10

		d, err := LoadTRD(data, 0)
		if err != nil {
			t.Fatalf("type %02X: %v", tc.diskType, err)
		}
		if d.Cyls != tc.cyls || d.Sides != tc.sides {
			t.Errorf("type %02X: geometry %dx%d, want %dx%d",
				tc.diskType, d.Cyls, d.Sides, tc.cyls, tc.sides)
		}
		sys := d.ReadSector(0, 0, trdSystemSector)
		if sys[trdSignature] != 0x10 {
			t.Errorf("type %02X: TR-DOS signature lost in load", tc.diskType)
		}
	}
}

func TestTRDRejectsBadSize(t *testing.T) {
	if _, err := LoadTRD(make([]byte, 1000), 0); errors.Cause(err) != ErrInvalidFormat {
		t.Fatalf("err = %v, want ErrInvalidFormat", err)
	}
}

func buildSCL(name string, payload []byte) []byte {
	sectors := (len(payload) + trdSectorSize - 1) / trdSectorSize
	var out []byte
	out = append(out, sclSignature...)
	out = append(out, 1) // one file
	var hdr [14]byte
	copy(hdr[0:8], name)
	hdr[8] = 'C'
	hdr[11] = byte(len(payload))
	hdr[12] = byte(len(payload) >> 8)
	hdr[13] = byte(sectors)
	out = append(out, hdr[:]...)
	data := make([]byte, sectors*trdSectorSize)
	copy(data, payload)
	return append(out, data...)
}

func TestSCLLoad(t *testing.T) {
	payload := bytes.Repeat([]byte{0xC9}, 300)
	d, err := LoadSCL(buildSCL("hello   ", payload), 0)
	if err != nil {
		t.Fatal(err)
	}

	sys := d.ReadSector(0, 0, trdSystemSector)
	if sys[trdFileCount] != 1 {
		t.Fatalf("file count = %d, want 1", sys[trdFileCount])
	}
	cat := d.ReadSector(0, 0, 1)
	if string(cat[0:8]) != "hello   " || cat[8] != 'C' {
		t.Errorf("catalog entry = %q.%c", cat[0:8], cat[8])
	}
	if cat[13] != 2 {
		t.Errorf("sector count = %d, want 2", cat[13])
	}
	// Data starts at the first free sector: track 1, sector 1.
	sec := d.ReadSector(0, 1, 1)
	if sec[0] != 0xC9 {
		t.Errorf("file data byte 0 = %02X, want C9", sec[0])
	}
	free := int(sys[trdFreeSectors]) | int(sys[trdFreeSectors+1])<<8
	if free != 80*2*16-16-2 {
		t.Errorf("free sectors = %d", free)
	}
}

func TestSCLRejectsBadSignature(t *testing.T) {
	if _, err := LoadSCL([]byte("NOTSCLXX\x00"), 0); errors.Cause(err) != ErrInvalidFormat {
		t.Fatalf("err = %v, want ErrInvalidFormat", err)
	}
}

func buildHOB(payload []byte) []byte {
	sectors := (len(payload) + trdSectorSize - 1) / trdSectorSize
	hdr := make([]byte, hobHeaderSize)
	copy(hdr[0:8], "monoblok")
	hdr[8] = 'B'
	hdr[11] = byte(len(payload))
	hdr[12] = byte(len(payload) >> 8)
	hdr[14] = byte(sectors)
	var sum uint16
	for i := 0; i < 15; i++ {
		sum += uint16(hdr[i])*257 + uint16(i)
	}
	hdr[15] = byte(sum)
	hdr[16] = byte(sum >> 8)
	return append(hdr, payload...)
}

func TestHOBLoad(t *testing.T) {
	payload := bytes.Repeat([]byte{0x21}, 256)
	d, err := LoadHOB(buildHOB(payload), 0)
	if err != nil {
		t.Fatal(err)
	}
	cat := d.ReadSector(0, 0, 1)
	if string(cat[0:8]) != "monoblok" {
		t.Errorf("catalog name = %q", cat[0:8])
	}
	sec := d.ReadSector(0, 1, 1)
	if sec[0] != 0x21 {
		t.Errorf("data byte 0 = %02X", sec[0])
	}
}

func TestHOBRejectsBadChecksum(t *testing.T) {
	img := buildHOB(make([]byte, 256))
	img[15] ^= 0xFF
	if _, err := LoadHOB(img, 0); errors.Cause(err) != ErrInvalidFormat {
		t.Fatalf("err = %v, want ErrInvalidFormat", err)
	}
}

func TestUDILoad(t *testing.T) {
	// One cylinder, one side, a short MFM track with one marked IDAM.
	track := make([]byte, 32)
	track[4] = 0xFE
	marks := make([]byte, 4)
	marks[0] = 1 << 4

	var img []byte
	img = append(img, "UDI!"...)
	img = append(img, 0, 0, 0, 0) // length, patched below
	img = append(img, 0x00)       // version
	img = append(img, 0, 0)       // max cyl 0, max side 0
	img = append(img, 0)          // flags
	img = append(img, 0, 0, 0, 0) // no extended header
	img = append(img, 0x00)       // MFM track
	img = append(img, byte(len(track)), 0)
	img = append(img, track...)
	img = append(img, marks...)
	img[4] = byte(len(img))

	d, err := LoadUDI(img)
	if err != nil {
		t.Fatal(err)
	}
	if d.Cyls != 1 || d.Sides != 1 {
		t.Fatalf("geometry = %dx%d, want 1x1", d.Cyls, d.Sides)
	}
	tr := d.Track(0, 0)
	if len(tr.Data) != 32 {
		t.Fatalf("track length = %d, want 32", len(tr.Data))
	}
	if !tr.IsMark(4) || tr.Data[4] != 0xFE {
		t.Error("index mark at position 4 lost")
	}
}

func TestFDILoad(t *testing.T) {
	sector := bytes.Repeat([]byte{0x42}, 256)

	var img []byte
	img = append(img, "FDI"...)
	img = append(img, 0)    // not write-protected
	img = append(img, 1, 0) // 1 cylinder
	img = append(img, 1, 0) // 1 side
	img = append(img, 0, 0) // text offset
	hdrLen := 14 + 7 + 7    // file header + track header + 1 sector descriptor
	img = append(img, byte(hdrLen), byte(hdrLen>>8))
	img = append(img, 0, 0) // no extra header

	img = append(img, 0, 0, 0, 0) // track data offset 0
	img = append(img, 0, 0)       // reserved
	img = append(img, 1)          // one sector

	// Sector descriptor: C=0 H=0 R=1 N=1, flags with CRC-ok bit for N=1.
	img = append(img, 0, 0, 1, 1, 1<<1, 0, 0)
	img = append(img, sector...)

	d, err := LoadFDI(img)
	if err != nil {
		t.Fatal(err)
	}
	got := d.ReadSector(0, 0, 1)
	if !bytes.Equal(got, sector) {
		t.Fatal("FDI sector data mismatch")
	}
}

func TestTD0Load(t *testing.T) {
	var img []byte
	img = append(img, "TD"...)
	img = append(img, 0, 0, 0x15, 0, 0, 0, 0, 1) // header fields, no comment
	img = append(img, 0, 0)                      // header CRC (unchecked)

	// Track 0/0 with two sectors: one raw, one repeated-pattern.
	img = append(img, 2, 0, 0, 0) // 2 sectors, cyl 0, side 0, CRC
	raw := bytes.Repeat([]byte{0x7E}, 256)
	img = append(img, 0, 0, 1, 1, 0, 0)                     // CHRN=0,0,1,1 flags=0
	img = append(img, byte(len(raw)+1), byte((len(raw)+1)>>8), 0) // raw encoding
	img = append(img, raw...)
	img = append(img, 0, 0, 2, 1, 0, 0) // CHRN=0,0,2,1
	img = append(img, 5, 0, 1)          // block len 5, repeated-pattern encoding
	img = append(img, 128, 0, 0xAB, 0xCD)

	img = append(img, 0xFF) // end of image

	d, err := LoadTD0(img)
	if err != nil {
		t.Fatal(err)
	}
	if got := d.ReadSector(0, 0, 1); !bytes.Equal(got, raw) {
		t.Fatal("TD0 raw sector mismatch")
	}
	got := d.ReadSector(0, 0, 2)
	if got[0] != 0xAB || got[1] != 0xCD || got[254] != 0xAB || got[255] != 0xCD {
		t.Fatalf("TD0 repeated-pattern sector = % X...", got[:4])
	}
}

func TestDetect(t *testing.T) {
	tests := []struct {
		path string
		data string
		want Format
	}{
		{"game.trd", "", FormatTRD},
		{"game.scl", "", FormatSCL},
		{"file.$b", "", FormatHOB},
		{"dump.fdi", "", FormatFDI},
		{"dump.td0", "", FormatTD0},
		{"dump.udi", "", FormatUDI},
		{"dump.isd", "", FormatISD},
		{"dump.pro", "", FormatPRO},
		{"noext", "SINCLAIR\x01", FormatSCL},
		{"noext", "UDI!xxxx", FormatUDI},
		{"noext", "??", FormatUnknown},
	}
	for _, tc := range tests {
		if got := Detect(tc.path, []byte(tc.data)); got != tc.want {
			t.Errorf("Detect(%q, %q) = %v, want %v", tc.path, tc.data, got, tc.want)
		}
	}
}
