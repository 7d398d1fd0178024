package tas

import (
	"compress/gzip"
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"
)

// Recording file format: an 8-byte magic, then a gzip stream of
// little-endian binary records.
const (
	recMagic   = "ZXCTAS\x00\x01"
	recVersion = 1
)

// ErrBadRecording is returned when a recording file fails validation.
var ErrBadRecording = errors.New("tas: bad recording file")

// Save writes the recording to w.
func (r *Recording) Save(w io.Writer) error {
	if _, err := io.WriteString(w, recMagic); err != nil {
		return err
	}
	zw := gzip.NewWriter(w)

	title := []byte(r.Meta.Title)
	hdr := struct {
		Version     uint16
		TitleLen    uint16
		TotalCycles uint64
		TotalFrames uint64
		EventCount  uint32
		FrameCount  uint32
	}{
		Version:     recVersion,
		TitleLen:    uint16(len(title)),
		TotalCycles: r.Meta.TotalCycles,
		TotalFrames: r.Meta.TotalFrames,
		EventCount:  uint32(len(r.Events)),
		FrameCount:  uint32(len(r.Keyframes)),
	}
	if err := binary.Write(zw, binary.LittleEndian, hdr); err != nil {
		return err
	}
	if _, err := zw.Write(title); err != nil {
		return err
	}
	if err := binary.Write(zw, binary.LittleEndian, r.Events); err != nil {
		return err
	}
	if err := binary.Write(zw, binary.LittleEndian, r.Keyframes); err != nil {
		return err
	}
	return zw.Close()
}

// Load reads a recording from r.
func Load(r io.Reader) (*Recording, error) {
	magic := make([]byte, len(recMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, errors.Wrap(ErrBadRecording, "short magic")
	}
	if string(magic) != recMagic {
		return nil, errors.Wrap(ErrBadRecording, "magic mismatch")
	}
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, errors.Wrap(ErrBadRecording, "not gzip-compressed")
	}
	defer zr.Close()

	var hdr struct {
		Version     uint16
		TitleLen    uint16
		TotalCycles uint64
		TotalFrames uint64
		EventCount  uint32
		FrameCount  uint32
	}
	if err := binary.Read(zr, binary.LittleEndian, &hdr); err != nil {
		return nil, errors.Wrap(ErrBadRecording, "truncated header")
	}
	if hdr.Version != recVersion {
		return nil, errors.Wrapf(ErrBadRecording, "version %d", hdr.Version)
	}

	title := make([]byte, hdr.TitleLen)
	if _, err := io.ReadFull(zr, title); err != nil {
		return nil, errors.Wrap(ErrBadRecording, "truncated title")
	}

	rec := &Recording{
		Meta: Metadata{
			Title:       string(title),
			TotalCycles: hdr.TotalCycles,
			TotalFrames: hdr.TotalFrames,
		},
		Events:    make([]InputEvent, hdr.EventCount),
		Keyframes: make([]Keyframe, hdr.FrameCount),
	}
	if err := binary.Read(zr, binary.LittleEndian, rec.Events); err != nil {
		return nil, errors.Wrap(ErrBadRecording, "truncated events")
	}
	if err := binary.Read(zr, binary.LittleEndian, rec.Keyframes); err != nil {
		return nil, errors.Wrap(ErrBadRecording, "truncated keyframes")
	}
	return rec, nil
}

// SaveFile writes the recording to a file.
func (r *Recording) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return r.Save(f)
}

// LoadFile reads a recording from a file.
func LoadFile(path string) (*Recording, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}
