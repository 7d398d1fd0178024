package tape

import (
	"encoding/binary"
	"testing"

	"github.com/minz/zxcore/pkg/pulsestore"
)

func buildTAP(blocks ...[]byte) []byte {
	var out []byte
	for _, b := range blocks {
		length := make([]byte, 2)
		binary.LittleEndian.PutUint16(length, uint16(len(b)))
		out = append(out, length...)
		out = append(out, b...)
	}
	return out
}

func TestLoadTAPSingleHeaderBlock(t *testing.T) {
	store := pulsestore.New()
	block := append([]byte{0x00}, make([]byte, 18)...) // header flag byte
	data := buildTAP(block)

	if err := LoadTAP(store, data); err != nil {
		t.Fatal(err)
	}
	if len(store.Blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(store.Blocks))
	}
	if !store.Valid() {
		t.Fatal("expected valid pulse store")
	}
}

func TestLoadTAPTruncated(t *testing.T) {
	store := pulsestore.New()
	data := []byte{0x10, 0x00} // claims 16 bytes, provides none
	if err := LoadTAP(store, data); err == nil {
		t.Fatal("expected error on truncated TAP block")
	}
}

func TestMakeblockPilotLengthByFlag(t *testing.T) {
	store := pulsestore.New()
	header := append([]byte{0x00}, make([]byte, 3)...)
	if err := makeblock(store, header); err != nil {
		t.Fatal(err)
	}
	store2 := pulsestore.New()
	data := append([]byte{0xFF}, make([]byte, 3)...)
	if err := makeblock(store2, data); err != nil {
		t.Fatal(err)
	}
	// Header block's pilot is longer, so it should produce more pulses
	// for an equally-sized payload.
	if len(store.Image) <= len(store2.Image) {
		t.Fatalf("expected header pilot (%d) > data pilot (%d) pulse count", len(store.Image), len(store2.Image))
	}
}
