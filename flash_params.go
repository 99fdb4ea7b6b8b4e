package spinor

import "time"

type flashParams struct {
	name     string
	deviceID uint16 // manufacturer/device id returned by 0x90
	capacity int

	tRES1      time.Duration
	tDP        time.Duration
	tW         time.Duration
	tPP        time.Duration
	tErase4KB  time.Duration
	tErase32KB time.Duration
	tErase64KB time.Duration
	tEraseChip time.Duration
}

var (
	flashIDWinbondW25Q16  = [3]byte{0xEF, 0x40, 0x15}
	flashIDWinbondW25Q128 = [3]byte{0xEF, 0x70, 0x18}
	flashIDMicronN25Q32   = [3]byte{0x20, 0xBA, 0x16}
)

var knownFlash = map[[3]byte]flashParams{
	flashIDWinbondW25Q16: {
		name:     "Winbond W25Q16JV 16Mb",
		deviceID: 0xEF14,
		capacity: 2 << 20,

		// [W25Q16|9.6 AC Electrical Characteristics]
		tRES1:      3 * time.Microsecond,
		tDP:        3 * time.Microsecond,
		tW:         15 * time.Millisecond, // Write Status Register Time
		tPP:        3 * time.Millisecond,
		tErase4KB:  400 * time.Millisecond,
		tErase32KB: 1600 * time.Millisecond, // tBE1
		tErase64KB: 2000 * time.Millisecond, // tBE2
		tEraseChip: 25 * time.Second,
	},

	flashIDWinbondW25Q128: {
		name:     "Winbond W25Q 128Mb",
		deviceID: 0xEF17,
		capacity: 16 << 20,

		// [W25Q128|9.6 AC Electrical Characteristics]
		tRES1:      3 * time.Microsecond,
		tDP:        3 * time.Microsecond,
		tW:         15 * time.Millisecond,
		tPP:        3 * time.Millisecond,
		tErase4KB:  400 * time.Millisecond,
		tErase32KB: 1600 * time.Millisecond,
		tErase64KB: 2000 * time.Millisecond,
		tEraseChip: 200 * time.Second,
	},

	flashIDMicronN25Q32: {
		name:     "Micron N25Q 32Mb",
		deviceID: 0, // no READ DEVICE ID (0x90)
		capacity: 4 << 20,

		// [N25Q32|Table 38: AC Characteristics and Operating Conditions]
		tW:         8 * time.Millisecond,
		tPP:        5 * time.Millisecond,
		tErase4KB:  800 * time.Millisecond,
		tErase32KB: 3 * time.Second, // no 32KB erase; same as the 64KB block
		tErase64KB: 3 * time.Second,
		tEraseChip: 60 * time.Second,
	},
}

// lookupDeviceID finds a known chip by its 0x90 manufacturer/device id.
func lookupDeviceID(id uint16) (flashParams, bool) {
	for _, p := range knownFlash {
		if p.deviceID != 0 && p.deviceID == id {
			return p, true
		}
	}
	return flashParams{}, false
}

// timing returns the maximum time the chip needs to complete op: the wake-up
// or power-down delay for 0xAB/0xB9, the busy time for writes and erases.
func (p *flashParams) timing(op byte) time.Duration {
	switch op {
	case flashCmdPowerUp:
		return p.tRES1
	case flashCmdPowerDown:
		return p.tDP
	case flashCmdWriteStatus:
		return p.tW
	case flashCmdPageProgram:
		return p.tPP
	case flashCmdErase4KB:
		return p.tErase4KB
	case flashCmdErase32KB:
		return p.tErase32KB
	case flashCmdErase64KB:
		return p.tErase64KB
	case flashCmdEraseChip:
		return p.tEraseChip
	}
	return 0
}

// timing returns op's time for the identified chip, or the worst case over all
// known chips before identification.
func (f *Flash) timing(op byte) time.Duration {
	if f.pr != nil {
		return f.pr.timing(op)
	}
	var worst time.Duration
	for _, p := range knownFlash {
		worst = max(worst, p.timing(op))
	}
	return worst
}
