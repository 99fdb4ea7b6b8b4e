package spinor

const (
	PageSize    = 256
	SectorSize  = 4 << 10  // 16 pages
	Block32Size = 32 << 10 // half block
	BlockSize   = 64 << 10 // 16 sectors

	maxAddr = 1<<24 - 1 // 24-bit addressing
)

// Geometry is the erase/program layout of a chip.
type Geometry struct {
	Capacity int // bytes
}

// W25Q16 is 2MiB: 32 blocks, 512 sectors.
var W25Q16 = Geometry{Capacity: 32 * BlockSize}

func (g Geometry) Blocks() int  { return g.Capacity / BlockSize }
func (g Geometry) Sectors() int { return g.Capacity / SectorSize }
func (g Geometry) Pages() int   { return g.Capacity / PageSize }

// SectorBase returns the start of the 4KB sector containing addr.
func SectorBase(addr uint32) uint32 { return addr & 0xFFFFF000 }

// BlockBase returns the start of the 64KB block containing addr.
func BlockBase(addr uint32) uint32 { return addr &^ (BlockSize - 1) }

// Block32Base returns the start of the 32KB half block containing addr.
func Block32Base(addr uint32) uint32 { return addr &^ (Block32Size - 1) }

// PageOffset returns the position of addr within its page.
func PageOffset(addr uint32) int { return int(addr % PageSize) }

// checkRange reports whether [addr, addr+n) is addressable on the chip.
func (g Geometry) checkRange(addr uint32, n int) error {
	end := uint64(addr) + uint64(n)
	if addr > maxAddr || end > maxAddr+1 {
		return rangeErrorf(addr, n, "24-bit address space")
	}
	if g.Capacity > 0 && end > uint64(g.Capacity) {
		return rangeErrorf(addr, n, "capacity")
	}
	return nil
}
