package tape

import (
	"testing"

	"github.com/minz/zxcore/pkg/pulsestore"
)

func buildCSWHeader(sampleRate uint16, compression, polarity byte) []byte {
	h := make([]byte, 32)
	copy(h, cswSignature)
	h[0x19] = byte(sampleRate)
	h[0x1A] = byte(sampleRate >> 8)
	h[0x1B] = compression
	h[0x1C] = polarity
	return h
}

func TestLoadCSWRejectsBadSignature(t *testing.T) {
	store := pulsestore.New()
	data := make([]byte, 32)
	if err := LoadCSW(store, data); err == nil {
		t.Fatal("expected error on bad CSW signature")
	}
}

func TestLoadCSWRejectsZeroSampleRate(t *testing.T) {
	store := pulsestore.New()
	data := buildCSWHeader(0, 1, 0)
	if err := LoadCSW(store, data); err == nil {
		t.Fatal("expected error on zero sample rate")
	}
}

func TestLoadCSWRejectsNonRLECompression(t *testing.T) {
	store := pulsestore.New()
	data := buildCSWHeader(44100, 2, 0)
	if err := LoadCSW(store, data); err == nil {
		t.Fatal("expected error on non-RLE compression")
	}
}

func TestLoadCSWDecodesRuns(t *testing.T) {
	store := pulsestore.New()
	data := buildCSWHeader(44100, 1, 0)
	data = append(data, 10, 20, 30) // three short runs
	if err := LoadCSW(store, data); err != nil {
		t.Fatal(err)
	}
	if len(store.Blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(store.Blocks))
	}
	if !store.Valid() {
		t.Fatal("expected valid pulse store")
	}
}

func TestLoadCSWEscapedRunLength(t *testing.T) {
	store := pulsestore.New()
	data := buildCSWHeader(44100, 1, 0)
	data = append(data, 0x00, 0x64, 0x00, 0x00, 0x00) // escape: run length 100
	if err := LoadCSW(store, data); err != nil {
		t.Fatal(err)
	}
}
