// Package spinor drives W25Q-series SPI NOR flash from a host SPI port.
//
// A Link is one configured SPI channel: role, mode, frame width and a baud
// rate derived from a peripheral clock by a prescaler and serial clock rate
// divisor. A Flash issues the chip's command set over a Link, holding a
// ChipSelect line low for each whole command and polling the BUSY bit after
// every program, erase or status write with a bounded WaitPolicy.
//
// Device wires both to periph.io: a spireg port or an FT2232H MPSSE port, with
// chip select and /WP looked up in gpioreg.
//
// # References:
//
// FTDI (https://ftdichip.com/document/application-notes/)
//   - [FTDI-AN_114]: Interfacing FT2232H Hi-Speed Devices To SPI Bus (https://ftdichip.com/wp-content/uploads/2020/08/AN_114_FTDI_Hi_Speed_USB_To_SPI_Example.pdf)
//   - [FTDI-AN_135]: FTDI MPSSE Basics (https://ftdichip.com/wp-content/uploads/2020/08/AN_135_MPSSE_Basics.pdf)
//
// Boards
//   - [EB82]: iCEstick User Manual (https://www.latticesemi.com/view_document?document_id=50701)
//
// SPI Flash
//   - [W25Q16]: W25Q16JV Winbond 3V 16M-bit Serial Flash Memory datasheet
//   - [W25Q128]: W25Q128JV-DTR Winbond Serial Flash Memory (https://www.winbond.com/resource-files/W25Q128JV_DTR%20RevD%2012232024%20Plus.pdf)
//   - [N25Q32]: N25Q032A Micron Serial NOR Flash Memory datasheet
package spinor
