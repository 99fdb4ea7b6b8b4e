package spinor

import (
	"fmt"
	"strings"
)

// StatusRegister is status register 1 of the flash (RDSR0, 0x05).
//
//	Bits| [W25Q16|7.1 Status Registers]
//	----+---------------------------------
//	7   | SRP0: Status Register Protect 0
//	6   | SEC: Sector/Block Protect
//	5   | TB: Top/Bottom Protect
//	4:2 | BP2-0: Block Protect bit 2-0
//	1   | WEL: Write Enable Latch
//	0   | BUSY: Erase/Write in progress
type StatusRegister byte

const (
	StatusBusy StatusRegister = 1 << iota
	StatusWEL
	StatusBP0
	StatusBP1
	StatusBP2
	StatusTB
	StatusSEC
	StatusSRP0
)

func (sr StatusRegister) StatusRegisterProtect() bool { return sr&StatusSRP0 != 0 }
func (sr StatusRegister) SectorProtect() bool         { return sr&StatusSEC != 0 }
func (sr StatusRegister) TopBottom() bool             { return sr&StatusTB != 0 }
func (sr StatusRegister) WriteEnabled() bool          { return sr&StatusWEL != 0 }
func (sr StatusRegister) Busy() bool                  { return sr&StatusBusy != 0 }

// BlockProtect returns BP2..BP0 as a number 0..7.
func (sr StatusRegister) BlockProtect() int { return int(sr>>2) & 0x7 }

func (sr StatusRegister) String() string {
	return flagString(byte(sr), []string{"BUSY", "WEL", "BP0", "BP1", "BP2", "TB", "SEC", "SRP0"})
}

// StatusRegister1 is status register 2 of the flash (RDSR1, 0x35).
//
//	Bits| [W25Q16|7.1 Status Registers]
//	----+---------------------------------
//	7   | SUS: Suspend Status
//	6   | CMP: Complement Protect
//	5:3 | LB3-1: Security Register Lock Bits
//	1   | QE: Quad Enable
//	0   | SRP1: Status Register Protect 1
type StatusRegister1 byte

func (sr StatusRegister1) Suspended() bool   { return sr&(1<<7) != 0 }
func (sr StatusRegister1) Complement() bool  { return sr&(1<<6) != 0 }
func (sr StatusRegister1) QuadEnabled() bool { return sr&(1<<1) != 0 }

func (sr StatusRegister1) String() string {
	return flagString(byte(sr), []string{"SRP1", "QE", "", "LB1", "LB2", "LB3", "CMP", "SUS"})
}

// flagString renders b in binary followed by the names of set bits, MSB first.
func flagString(b byte, names []string) string {
	s := []string{}
	for i := 7; i >= 0; i-- {
		if b&(1<<i) != 0 && names[i] != "" {
			s = append(s, names[i])
		}
	}
	bin := fmt.Sprintf("%08b", b)
	if len(s) == 0 {
		return bin
	}
	return bin + " " + strings.Join(s, ",")
}
