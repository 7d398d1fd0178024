package diskimage

import "github.com/pkg/errors"

// LZSS + adaptive Huffman decompressor for "td"-signature images: a
// 4 KiB sliding window, 60-byte lookahead, copy lengths 3..60, with the
// literal/length alphabet coded by a self-adjusting Huffman tree and
// the window distance's upper 6 bits by a fixed canonical code.
const (
	lzhN         = 4096
	lzhF         = 60
	lzhThreshold = 2
	lzhNChar     = 256 - lzhThreshold + lzhF
	lzhT         = lzhNChar*2 - 1
	lzhR         = lzhT - 1
	lzhMaxFreq   = 0x8000
)

// pLen gives the canonical code lengths for the 64 distance-prefix
// values; dCode/dLen are its byte-indexed decode expansion.
var pLen = [64]byte{
	3, 4, 4, 4, 5, 5, 5, 5,
	5, 5, 5, 5, 6, 6, 6, 6,
	6, 6, 6, 6, 6, 6, 6, 6,
	7, 7, 7, 7, 7, 7, 7, 7,
	7, 7, 7, 7, 7, 7, 7, 7,
	7, 7, 7, 7, 7, 7, 7, 7,
	8, 8, 8, 8, 8, 8, 8, 8,
	8, 8, 8, 8, 8, 8, 8, 8,
}

var (
	dCode [256]byte
	dLen  [256]byte
)

func init() {
	i := 0
	for p := 0; p < 64; p++ {
		l := int(pLen[p])
		span := 1 << uint(8-l)
		for k := 0; k < span; k++ {
			dCode[i] = byte(p)
			dLen[i] = byte(l)
			i++
		}
	}
}

type lzhDecoder struct {
	src    []byte
	pos    int
	bitBuf uint16
	bitCnt uint

	freq [lzhT + 1]uint16
	prnt [lzhT + lzhNChar]int
	son  [lzhT]int

	text [lzhN]byte
	r    int
}

func newLZHDecoder(src []byte) *lzhDecoder {
	d := &lzhDecoder{src: src, r: lzhN - lzhF}
	for i := range d.text {
		d.text[i] = 0x20
	}
	for i := 0; i < lzhNChar; i++ {
		d.freq[i] = 1
		d.son[i] = i + lzhT
		d.prnt[i+lzhT] = i
	}
	i, j := 0, lzhNChar
	for j <= lzhR {
		d.freq[j] = d.freq[i] + d.freq[i+1]
		d.son[j] = i
		d.prnt[i] = j
		d.prnt[i+1] = j
		i += 2
		j++
	}
	d.freq[lzhT] = 0xFFFF
	d.prnt[lzhR] = 0
	return d
}

func (d *lzhDecoder) getBit() (int, bool) {
	if d.bitCnt == 0 {
		if d.pos >= len(d.src) {
			return 0, false
		}
		d.bitBuf = uint16(d.src[d.pos])
		d.pos++
		d.bitCnt = 8
	}
	d.bitCnt--
	return int(d.bitBuf>>d.bitCnt) & 1, true
}

func (d *lzhDecoder) getBits(n uint) (int, bool) {
	v := 0
	for i := uint(0); i < n; i++ {
		b, ok := d.getBit()
		if !ok {
			return 0, false
		}
		v = v<<1 | b
	}
	return v, true
}

// reconstruct halves all frequencies and rebuilds the tree once the
// root count saturates.
func (d *lzhDecoder) reconstruct() {
	j := 0
	for i := 0; i < lzhT; i++ {
		if d.son[i] >= lzhT {
			d.freq[j] = (d.freq[i] + 1) / 2
			d.son[j] = d.son[i]
			j++
		}
	}
	i, k := 0, lzhNChar
	for k < lzhT {
		l := i + 1
		f := d.freq[i] + d.freq[l]
		j = k - 1
		for f < d.freq[j] {
			j--
		}
		j++
		copy(d.freq[j+1:k+1], d.freq[j:k])
		d.freq[j] = f
		copy(d.son[j+1:k+1], d.son[j:k])
		d.son[j] = i
		i += 2
		k++
	}
	for i = 0; i < lzhT; i++ {
		k = d.son[i]
		if k >= lzhT {
			d.prnt[k] = i
		} else {
			d.prnt[k] = i
			d.prnt[k+1] = i
		}
	}
}

func (d *lzhDecoder) update(c int) {
	if d.freq[lzhR] == lzhMaxFreq {
		d.reconstruct()
	}
	c = d.prnt[c+lzhT]
	for {
		d.freq[c]++
		k := d.freq[c]
		l := c + 1
		if k > d.freq[l] {
			for k > d.freq[l+1] {
				l++
			}
			d.freq[c] = d.freq[l]
			d.freq[l] = k

			i := d.son[c]
			d.prnt[i] = l
			if i < lzhT {
				d.prnt[i+1] = l
			}
			j := d.son[l]
			d.son[l] = i
			d.prnt[j] = c
			if j < lzhT {
				d.prnt[j+1] = c
			}
			d.son[c] = j
			c = l
		}
		c = d.prnt[c]
		if c == 0 {
			break
		}
	}
}

func (d *lzhDecoder) decodeChar() (int, bool) {
	c := d.son[lzhR]
	for c < lzhT {
		b, ok := d.getBit()
		if !ok {
			return 0, false
		}
		c = d.son[c+b]
	}
	c -= lzhT
	d.update(c)
	return c, true
}

func (d *lzhDecoder) decodePosition() (int, bool) {
	i, ok := d.getBits(8)
	if !ok {
		return 0, false
	}
	c := int(dCode[i]) << 6
	extra := uint(dLen[i]) - 2
	lo, ok := d.getBits(extra)
	if !ok {
		return 0, false
	}
	i = i<<extra | lo
	return c | i&0x3F, true
}

// decompress inflates up to limit output bytes, stopping cleanly at end
// of input.
func (d *lzhDecoder) decompress(limit int) ([]byte, error) {
	out := make([]byte, 0, limit)
	for len(out) < limit {
		c, ok := d.decodeChar()
		if !ok {
			break
		}
		if c < 256 {
			out = append(out, byte(c))
			d.text[d.r] = byte(c)
			d.r = (d.r + 1) & (lzhN - 1)
			continue
		}
		pos, ok := d.decodePosition()
		if !ok {
			return nil, errors.Wrap(ErrInvalidFormat, "compressed stream cut mid-match")
		}
		i := (d.r - pos - 1) & (lzhN - 1)
		j := c - 255 + lzhThreshold
		for k := 0; k < j && len(out) < limit; k++ {
			b := d.text[(i+k)&(lzhN-1)]
			out = append(out, b)
			d.text[d.r] = b
			d.r = (d.r + 1) & (lzhN - 1)
		}
	}
	return out, nil
}
