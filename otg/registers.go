package otg

import "unsafe"

// Register offsets, relative to the controller's base address. These
// match the DWC2-style OTG host-mode register map described in spec.md
// §6 and implemented by original_source/src/usbh_lld_stm32f4.c.
const (
	offGOTGCTL   = 0x000
	offGAHBCFG   = 0x008
	offGUSBCFG   = 0x00C
	offGRSTCTL   = 0x010
	offGINTSTS   = 0x014
	offGINTMSK   = 0x018
	offGRXSTSP   = 0x020
	offGRXFSIZ   = 0x024
	offGNPTXFSIZ = 0x028
	offGCCFG     = 0x038
	offGOTGINT   = 0x004
	offHCFG      = 0x400
	offHFIR      = 0x404
	offHAINT     = 0x414
	offHAINTMSK  = 0x418
	offHPRT      = 0x440
	offHPTXFSIZ  = 0x100
	offPCGCCTL   = 0xE00

	// per-channel register bank, indexed by channel*chanStride
	offHCCHAR    = 0x500
	offHCINT     = 0x508
	offHCINTMSK  = 0x50C
	offHCTSIZ    = 0x510
	chanStride   = 0x20
	offFIFOBase  = 0x1000
	fifoChanSize = 0x1000 // bytes of address space per channel FIFO window
)

// Bit positions and field widths, named after the bits they implement.
const (
	// GAHBCFG
	bitGAHBCFG_GINT = 0

	// GUSBCFG
	bitGUSBCFG_PHYSEL = 6
	bitGUSBCFG_FHMOD  = 29

	// GRSTCTL
	bitGRSTCTL_CSRST   = 0
	bitGRSTCTL_RXFFLSH = 4
	bitGRSTCTL_TXFFLSH = 5
	posGRSTCTL_TXFNUM  = 6
	maskGRSTCTL_TXFNUM = 0x1F
	txfnumAllFIFOs     = 0x10
	bitGRSTCTL_AHBIDL  = 31

	// GINTSTS / GINTMSK
	bitGINTSTS_MMIS    = 1
	bitGINTSTS_SOF     = 3
	bitGINTSTS_RXFLVL  = 4
	bitGINTSTS_IPXFR   = 21
	bitGINTSTS_HPRTINT = 24
	bitGINTSTS_HCINT   = 25
	bitGINTSTS_DISCINT = 29

	// GCCFG
	bitGCCFG_PWRDWN     = 16
	bitGCCFG_VBUSASEN   = 18
	bitGCCFG_VBUSBSEN   = 19
	bitGCCFG_NOVBUSSENS = 21

	// GRXSTSP packet status field
	posGRXSTSP_CHNUM  = 0
	maskGRXSTSP_CHNUM = 0xF
	posGRXSTSP_BCNT   = 4
	maskGRXSTSP_BCNT  = 0x7FF
	posGRXSTSP_PKTSTS = 17
	maskGRXSTSP_PKTSTS = 0xF

	pktstsIN     = 0x2
	pktstsINDone = 0x3
	pktstsCHH    = 0x7 // reserved status, observed but unused per spec §4.3

	// HCFG
	posHCFG_FSLSPCS  = 0
	maskHCFG_FSLSPCS = 0x3
	fslspcs6MHz      = 0x0
	fslspcs48MHz     = 0x1
	bitHCFG_FSLSS    = 2

	// HFIR
	maskHFIR_FRIVL = 0xFFFF

	// HPRT
	bitHPRT_PCSTS    = 0
	bitHPRT_PCDET    = 1
	bitHPRT_PENA     = 2
	bitHPRT_PENCHNG  = 3
	bitHPRT_POCCHNG  = 5
	bitHPRT_PRST     = 8
	bitHPRT_PPWR     = 12
	posHPRT_PSPD     = 16
	maskHPRT_PSPD    = 0x3
	pspdFull         = 0x0
	pspdLow          = 0x1
	pspdHigh         = 0x2

	// HCCHAR
	maskHCCHAR_MPSIZ  = 0x7FF
	posHCCHAR_EPNUM   = 11
	maskHCCHAR_EPNUM  = 0xF
	bitHCCHAR_EPDIR   = 15
	bitHCCHAR_LSDEV   = 17
	posHCCHAR_EPTYP   = 18
	maskHCCHAR_EPTYP  = 0x3
	posHCCHAR_MCNT    = 20
	maskHCCHAR_MCNT   = 0x3
	posHCCHAR_DAD     = 22
	maskHCCHAR_DAD    = 0x7F
	bitHCCHAR_CHDIS   = 30
	bitHCCHAR_CHENA   = 31

	// HCINT / HCINTMSK
	bitHCINT_XFRC  = 0
	bitHCINT_CHH   = 1
	bitHCINT_STALL = 3
	bitHCINT_NAK   = 4
	bitHCINT_ACK   = 5
	bitHCINT_TXERR = 7
	bitHCINT_BBERR = 8
	bitHCINT_FRMOR = 9
	bitHCINT_DTERR = 10

	maskHCINT_ALL = 1<<bitHCINT_XFRC | 1<<bitHCINT_CHH | 1<<bitHCINT_STALL |
		1<<bitHCINT_NAK | 1<<bitHCINT_ACK | 1<<bitHCINT_TXERR |
		1<<bitHCINT_BBERR | 1<<bitHCINT_FRMOR | 1<<bitHCINT_DTERR

	// HCTSIZ
	maskHCTSIZ_XFRSIZ = 0x7FFFF
	posHCTSIZ_PKTCNT  = 19
	maskHCTSIZ_PKTCNT = 0x3FF
	posHCTSIZ_DPID    = 29
	maskHCTSIZ_DPID   = 0x3

	dpidDATA0 = 0x0
	dpidDATA1 = 0x2
	dpidMDATA = 0x3
)

// Direction codes, matching the hardware's HCCHAR.EPDIR encoding.
const (
	dirOUT = 0
	dirIN  = 1 << bitHCCHAR_EPDIR
)

// channelRegs is the per-channel register bank: characteristics,
// interrupt status, interrupt mask, and transfer-size, plus the base of
// this channel's FIFO window. The window's first word is shared by the
// RX path and both TX paths; which region a write lands in is selected
// by a word offset computed from endpoint type (see fifoAt below),
// exactly as REBASE_CH(OTG_FIFO, channel) is reused with an added
// offset in the original driver this is grounded on.
type channelRegs struct {
	char   *uint32
	intr   *uint32
	intmsk *uint32
	tsiz   *uint32
	fifo   *uint32 // first word of this channel's FIFO window
}

// registers is the register facade for one controller instance: a base
// address broken out into typed accessors. Every field is a pointer
// derived once, at construction, from the instance's base address; every
// access afterwards goes through internal/reg so reads and writes are
// never reordered with respect to one another.
type registers struct {
	base uintptr

	gotgctl   *uint32
	gahbcfg   *uint32
	gusbcfg   *uint32
	grstctl   *uint32
	gintsts   *uint32
	gintmsk   *uint32
	grxstsp   *uint32
	grxfsiz   *uint32
	gnptxfsiz *uint32
	gccfg     *uint32
	hcfg      *uint32
	hfir      *uint32
	haint     *uint32
	haintmsk  *uint32
	hprt      *uint32
	hptxfsiz  *uint32
	pcgcctl   *uint32

	channels []channelRegs
}

func at(base uintptr, offset uintptr) *uint32 {
	return (*uint32)(unsafe.Pointer(base + offset))
}

// fifoAt returns the word at wordOffset past fifo, the same pointer
// arithmetic the register facade uses to turn a channel's FIFO window
// base into the RX, non-periodic-TX, or periodic-TX push address (§4.3,
// §6): `&REBASE_CH(OTG_FIFO, channel) + RX_FIFO_SIZE` and
// `... + RX_FIFO_SIZE + TX_NP_FIFO_SIZE` in the original driver.
func fifoAt(fifo *uint32, wordOffset int) *uint32 {
	return (*uint32)(unsafe.Pointer(uintptr(unsafe.Pointer(fifo)) + uintptr(wordOffset)*4))
}

// newRegisters derives the register facade for a controller whose
// register window starts at base and which exposes numChannels hardware
// channels.
//
// base may be a real physical MMIO address (production) or the address
// of a Go-allocated buffer standing in for the register window (tests);
// either way the same pointer arithmetic and the same internal/reg
// accessors are used, so production and test exercise identical code.
func newRegisters(base uintptr, numChannels int) *registers {
	r := &registers{
		base:      base,
		gotgctl:   at(base, offGOTGCTL),
		gahbcfg:   at(base, offGAHBCFG),
		gusbcfg:   at(base, offGUSBCFG),
		grstctl:   at(base, offGRSTCTL),
		gintsts:   at(base, offGINTSTS),
		gintmsk:   at(base, offGINTMSK),
		grxstsp:   at(base, offGRXSTSP),
		grxfsiz:   at(base, offGRXFSIZ),
		gnptxfsiz: at(base, offGNPTXFSIZ),
		gccfg:     at(base, offGCCFG),
		hcfg:      at(base, offHCFG),
		hfir:      at(base, offHFIR),
		haint:     at(base, offHAINT),
		haintmsk:  at(base, offHAINTMSK),
		hprt:      at(base, offHPRT),
		hptxfsiz:  at(base, offHPTXFSIZ),
		pcgcctl:   at(base, offPCGCCTL),
		channels:  make([]channelRegs, numChannels),
	}

	for ch := 0; ch < numChannels; ch++ {
		stride := uintptr(ch) * chanStride
		r.channels[ch] = channelRegs{
			char:   at(base, offHCCHAR+stride),
			intr:   at(base, offHCINT+stride),
			intmsk: at(base, offHCINTMSK+stride),
			tsiz:   at(base, offHCTSIZ+stride),
			fifo:   at(base, offFIFOBase+uintptr(ch)*fifoChanSize),
		}
	}

	return r
}
