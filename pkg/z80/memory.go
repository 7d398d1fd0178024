package z80

// PageSize is the 16 KiB granularity of every ROM/RAM bank and of the four
// address-space windows they're paged into.
const PageSize = 0x4000

// Memory implements the remogatto/z80 MemoryAccessor interface over a
// banked model: an 8-page RAM pool and a ROM pool, mapped into four
// 16 KiB windows by the p7FFD/p1FFD paging registers.
type Memory struct {
	ram  [][PageSize]byte // RAM pool, normally 8 pages (128 KiB)
	rom  [][PageSize]byte // ROM pool, 1 page (48K) up to 4 pages (+3)

	p7FFD      byte
	p1FFD      byte
	pagingLock bool

	// dosROMPage, when >= 0, overlays the 0x0000 window with this ROM
	// page regardless of p7FFD/p1FFD (Beta Disk TR-DOS paging).
	dosROMPage int

	smcTracker func(addr uint16, oldVal, newVal byte)
}

// NewMemory allocates a Memory with the given number of 16 KiB RAM and ROM
// pages. ramPages defaults to 8 and romPages to 1 if given as 0.
func NewMemory(ramPages, romPages int) *Memory {
	if ramPages <= 0 {
		ramPages = 8
	}
	if romPages <= 0 {
		romPages = 1
	}
	m := &Memory{
		ram:        make([][PageSize]byte, ramPages),
		rom:        make([][PageSize]byte, romPages),
		dosROMPage: -1,
	}
	return m
}

// MapDOSROM overlays ROM page n into the 0x0000 window (TR-DOS paged
// in); UnmapDOSROM restores normal ROM selection.
func (m *Memory) MapDOSROM(n int)   { m.dosROMPage = n % len(m.rom) }
func (m *Memory) UnmapDOSROM()      { m.dosROMPage = -1 }
func (m *Memory) DOSROMMapped() bool { return m.dosROMPage >= 0 }

// LoadROM copies data into ROM page index, truncating/zero-padding to
// PageSize.
func (m *Memory) LoadROM(page int, data []byte) {
	n := copy(m.rom[page][:], data)
	for i := n; i < PageSize; i++ {
		m.rom[page][i] = 0
	}
}

// SetSMCTracker installs a callback invoked on every RAM write whose value
// actually changes — used by pkg/debugger to track self-modifying code.
func (m *Memory) SetSMCTracker(f func(addr uint16, oldVal, newVal byte)) {
	m.smcTracker = f
}

// bankFor resolves a 16-bit address to the page slice and page-local offset
// it currently maps to, honoring p7FFD/p1FFD.
func (m *Memory) bankFor(address uint16) (page *[PageSize]byte, offset uint16, writable bool) {
	offset = address % PageSize
	window := address / PageSize

	if m.p1FFD&PagingSpecialMode != 0 {
		cfg := specialConfigs[(m.p1FFD>>1)&0x03]
		idx := cfg[window]
		return &m.ram[idx%len(m.ram)], offset, true
	}

	switch window {
	case 0: // 0x0000-0x3FFF: ROM
		if m.dosROMPage >= 0 {
			return &m.rom[m.dosROMPage], offset, false
		}
		romPage := int(m.p7FFD>>4) & 0x01
		romPage |= (int(m.p1FFD>>2) & 0x01) << 1
		romPage %= len(m.rom)
		return &m.rom[romPage], offset, false
	case 1: // 0x4000-0x7FFF: RAM page 5, fixed
		return &m.ram[5%len(m.ram)], offset, true
	case 2: // 0x8000-0xBFFF: RAM page 2, fixed
		return &m.ram[2%len(m.ram)], offset, true
	default: // 0xC000-0xFFFF: paged RAM per p7FFD bits 0-2
		idx := int(m.p7FFD & 0x07)
		return &m.ram[idx%len(m.ram)], offset, true
	}
}

// PagingSpecialMode is p1FFD bit 0: the +3's "special" all-RAM config mode.
const PagingSpecialMode = 0x01

// specialConfigs are the four +3 special-mode RAM page assignments for
// windows 0..3, selected by p1FFD bits 1-2.
var specialConfigs = [4][4]int{
	{0, 1, 2, 3},
	{4, 5, 6, 7},
	{4, 5, 6, 3},
	{4, 7, 6, 3},
}

// WriteP7FFD applies a write to port 0x7FFD, honoring the sticky paging
// lock: once bit 5 is set, further writes are ignored until a hard
// reset.
func (m *Memory) WriteP7FFD(value byte) {
	if m.pagingLock {
		return
	}
	m.p7FFD = value
	if value&0x20 != 0 {
		m.pagingLock = true
	}
}

// WriteP1FFD applies a write to port 0x1FFD (Spectrum +3 secondary
// paging). Also subject to the p7FFD paging lock, per real +3 hardware.
func (m *Memory) WriteP1FFD(value byte) {
	if m.pagingLock {
		return
	}
	m.p1FFD = value
}

// ResetPaging clears both paging registers and the sticky lock. Only a
// hard reset and snapshot restoration may do this.
func (m *Memory) ResetPaging() {
	m.p7FFD = 0
	m.p1FFD = 0
	m.pagingLock = false
}

// P7FFD returns the last value written to port 0x7FFD.
func (m *Memory) P7FFD() byte { return m.p7FFD }

// P1FFD returns the last value written to port 0x1FFD.
func (m *Memory) P1FFD() byte { return m.p1FFD }

// PagingLocked reports whether the sticky paging lock has engaged.
func (m *Memory) PagingLocked() bool { return m.pagingLock }

// ScreenPage returns which RAM page (5 or 7) the ULA should currently
// read for the display file, per p7FFD bit 3. Video rasterization lives
// outside the core; this is the only hook it needs.
func (m *Memory) ScreenPage() int {
	if m.p7FFD&0x08 != 0 {
		return 7
	}
	return 5
}

// RAMPage exposes a RAM page directly, for loaders writing snapshot memory.
func (m *Memory) RAMPage(i int) *[PageSize]byte { return &m.ram[i%len(m.ram)] }

// NumRAMPages returns how many 16 KiB RAM pages are available.
func (m *Memory) NumRAMPages() int { return len(m.ram) }

// ReadByte reads a byte from the currently paged-in bank at address.
func (m *Memory) ReadByte(address uint16) byte {
	page, off, _ := m.bankFor(address)
	return page[off]
}

// WriteByte writes a byte, ignoring writes into ROM windows (hardware
// ROM protection) and firing the SMC tracker on actual changes.
func (m *Memory) WriteByte(address uint16, value byte) {
	page, off, writable := m.bankFor(address)
	if !writable {
		return
	}
	old := page[off]
	page[off] = value
	if m.smcTracker != nil && old != value {
		m.smcTracker(address, old, value)
	}
}

// ReadByteInternal/WriteByteInternal/Contend* satisfy the rest of the
// remogatto/z80 MemoryAccessor interface; this core has no bus-contention
// model, so the Contend* hooks are no-ops and the Internal variants just
// delegate.

func (m *Memory) ReadByteInternal(address uint16) byte { return m.ReadByte(address) }

func (m *Memory) WriteByteInternal(address uint16, value byte) { m.WriteByte(address, value) }

func (m *Memory) ContendRead(address uint16, time int)                  {}
func (m *Memory) ContendReadNoMreq(address uint16, time int)             {}
func (m *Memory) ContendReadNoMreq_loop(address uint16, time int, count uint) {}
func (m *Memory) ContendWriteNoMreq(address uint16, time int)            {}
func (m *Memory) ContendWriteNoMreq_loop(address uint16, time int, count uint) {}

// Data assembles the 64 KiB address-space view under the current paging
// configuration, completing the MemoryAccessor interface.
func (m *Memory) Data() []byte {
	out := make([]byte, 0x10000)
	for w := 0; w < 4; w++ {
		page, _, _ := m.bankFor(uint16(w * PageSize))
		copy(out[w*PageSize:], page[:])
	}
	return out
}

// Read/Write complete the MemoryAccessor surface, with an explicit
// ROM-protection override used by loaders that must write through ROM
// (e.g. restoring a snapshot's memory pages directly).
func (m *Memory) Read(address uint16) byte { return m.ReadByte(address) }

func (m *Memory) Write(address uint16, value byte, protectROM bool) {
	if !protectROM {
		page, off, _ := m.bankFor(address)
		page[off] = value
		return
	}
	m.WriteByte(address, value)
}
