// Package diskimage parses floppy disk image files into the uniform
// trackstore representation the disk controller reads. Eight container
// formats are understood; all of them funnel into the same per-track
// raw MFM layout.
package diskimage

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/minz/zxcore/pkg/trackstore"
)

// ErrInvalidFormat is returned for any header/signature/size mismatch,
// wrapped with the offending offset where one is known.
var ErrInvalidFormat = errors.New("diskimage: INVALID_FORMAT")

// Format tags the container type of a disk image.
type Format int

const (
	FormatUnknown Format = iota
	FormatTRD
	FormatSCL
	FormatHOB
	FormatFDI
	FormatTD0
	FormatUDI
	FormatISD
	FormatPRO
)

func (f Format) String() string {
	switch f {
	case FormatTRD:
		return "TRD"
	case FormatSCL:
		return "SCL"
	case FormatHOB:
		return "HOB"
	case FormatFDI:
		return "FDI"
	case FormatTD0:
		return "TD0"
	case FormatUDI:
		return "UDI"
	case FormatISD:
		return "ISD"
	case FormatPRO:
		return "PRO"
	}
	return "unknown"
}

func (f Format) snapType() trackstore.SnapType {
	switch f {
	case FormatTRD:
		return trackstore.SnapTRD
	case FormatSCL:
		return trackstore.SnapSCL
	case FormatHOB:
		return trackstore.SnapHOB
	case FormatFDI:
		return trackstore.SnapFDI
	case FormatTD0:
		return trackstore.SnapTD0
	case FormatUDI:
		return trackstore.SnapUDI
	case FormatISD:
		return trackstore.SnapISD
	case FormatPRO:
		return trackstore.SnapPRO
	}
	return trackstore.SnapNone
}

// Detect determines the container format from the filename extension,
// falling back to signature sniffing for extensionless files. The
// HOBETA family covers several extensions ($B/$C/$D/$#).
func Detect(path string, data []byte) Format {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".trd":
		return FormatTRD
	case ".scl":
		return FormatSCL
	case ".hob", ".$b", ".$c", ".$d", ".$#":
		return FormatHOB
	case ".fdi":
		return FormatFDI
	case ".td0":
		return FormatTD0
	case ".udi":
		return FormatUDI
	case ".isd":
		return FormatISD
	case ".pro":
		return FormatPRO
	}
	switch {
	case len(data) >= 8 && string(data[:8]) == "SINCLAIR":
		return FormatSCL
	case len(data) >= 4 && string(data[:4]) == "UDI!":
		return FormatUDI
	case len(data) >= 3 && string(data[:3]) == "FDI":
		return FormatFDI
	case len(data) >= 2 && (string(data[:2]) == "TD" || string(data[:2]) == "td"):
		return FormatTD0
	case len(data) >= 3 && string(data[:3]) == "PRO":
		return FormatPRO
	}
	return FormatUnknown
}

// Load parses a disk image into a track store, dispatching by the
// detected format. interleave is the sector ordering to apply when the
// image carries logical sectors rather than raw tracks.
func Load(path string, data []byte, interleave int) (*trackstore.Disk, error) {
	format := Detect(path, data)
	var (
		d   *trackstore.Disk
		err error
	)
	switch format {
	case FormatTRD:
		d, err = LoadTRD(data, interleave)
	case FormatSCL:
		d, err = LoadSCL(data, interleave)
	case FormatHOB:
		d, err = LoadHOB(data, interleave)
	case FormatFDI:
		d, err = LoadFDI(data)
	case FormatTD0:
		d, err = LoadTD0(data)
	case FormatUDI:
		d, err = LoadUDI(data)
	case FormatISD:
		d, err = LoadISD(data)
	case FormatPRO:
		d, err = LoadPRO(data)
	default:
		return nil, errors.Wrapf(ErrInvalidFormat, "unrecognized disk image %q", path)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "loading %q", path)
	}
	d.SnapType = format.snapType()
	d.Path = path
	return d, nil
}

// Save writes the disk back to its source container. Only TRD save-back
// is supported; other formats save as TRD content.
func Save(d *trackstore.Disk) ([]byte, error) {
	return SaveTRD(d)
}

// sectorSize expands a size code N to its byte length.
func sectorSize(n byte) int { return 128 << uint(n&0x03) }
