package tape

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/minz/zxcore/pkg/pulsestore"
)

func tapImage(blocks ...[]byte) []byte {
	var out []byte
	for _, b := range blocks {
		var l [2]byte
		binary.LittleEndian.PutUint16(l[:], uint16(len(b)))
		out = append(out, l[:]...)
		out = append(out, b...)
	}
	return out
}

func TestTAPRoundTrip(t *testing.T) {
	header := append([]byte{0x00, 0x03}, []byte("test      ")...)
	header = append(header, 0x00, 0x01, 0x00, 0x40, 0x00, 0x80, 0x55)
	data := []byte{0xFF, 0xDE, 0xAD, 0xBE, 0xEF, 0x12}
	src := tapImage(header, data)

	store := pulsestore.New()
	if err := LoadTAP(store, src); err != nil {
		t.Fatal(err)
	}
	out, err := SaveTAP(store)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, src) {
		t.Fatalf("TAP round trip mismatch:\n got % X\nwant % X", out, src)
	}
}

func TestSaveTAPRejectsNonCanonicalStream(t *testing.T) {
	store := pulsestore.New()
	_ = store.AppendPulse(1111) // neither pilot nor sync
	store.CloseBlock("odd", 0, 1111)
	if _, err := SaveTAP(store); err == nil {
		t.Fatal("expected INVALID_FORMAT for non-canonical pulses")
	}
}
