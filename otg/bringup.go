package otg

import "github.com/rgwan/libusbhost/internal/reg"

// Timing constants for the bring-up sequence and runtime port state
// machine, in microseconds. Matches original_source/usbh_lld_stm32f4.c's
// poll_init / poll_run timing exactly (spec.md §4.4, §4.5, §4.6).
const (
	usAfterPowerOn   = 1_000
	usSoftResetWait  = 50_000
	usAfterAHBIdle   = 50_000
	usAfterHostForce = 200_000
	usPortResetHold  = 12_000
	usAfterPortReset = 12_000
	usFinalWait      = 200_000

	usDebounce       = 500_000
	usPortResetPulse = 10_000
	usResetToRun     = 210_000

	hfirFullSpeed = 48000
	hfirLowSpeed  = 6000
)

// pollBringup drives the 12-step sequence of §4.4, one predicate check
// per Poll call. Steps are never skipped or reordered; a predicate that
// isn't yet true simply leaves step unchanged and tries again next Poll.
func (c *Controller) pollBringup() {
	switch c.step {
	case 0:
		// AHB idle flag set
		if reg.Get(c.regs.grstctl, bitGRSTCTL_AHBIDL, 1) != 0 {
			c.advanceStep()
		}

	case 1:
		if c.elapsed(usAfterPowerOn) {
			reg.Set(c.regs.grstctl, bitGRSTCTL_CSRST)
			c.advanceStep()
		}

	case 2:
		// Soft reset self-clears
		if reg.Get(c.regs.grstctl, bitGRSTCTL_CSRST, 1) == 0 {
			c.advanceStep()
		}

	case 3:
		if c.elapsed(usSoftResetWait) {
			c.advanceStep()
		}

	case 4:
		if reg.Get(c.regs.grstctl, bitGRSTCTL_AHBIDL, 1) != 0 {
			reg.Set(c.regs.gccfg, bitGCCFG_VBUSASEN)
			reg.Set(c.regs.gccfg, bitGCCFG_VBUSBSEN)
			reg.Set(c.regs.gccfg, bitGCCFG_NOVBUSSENS)
			reg.Set(c.regs.gccfg, bitGCCFG_PWRDWN)
			c.advanceStep()
		}

	case 5:
		if c.elapsed(usAfterAHBIdle) {
			reg.Set(c.regs.gusbcfg, bitGUSBCFG_FHMOD)
			c.advanceStep()
		}

	case 6:
		if c.elapsed(usAfterHostForce) {
			reg.SetN(c.regs.hcfg, posHCFG_FSLSPCS, maskHCFG_FSLSPCS, fslspcs48MHz)
			reg.Set(c.regs.hprt, bitHPRT_PRST)
			c.advanceStep()
		}

	case 7:
		if c.elapsed(usPortResetHold) {
			reg.Clear(c.regs.hprt, bitHPRT_PRST)
			c.advanceStep()
		}

	case 8:
		if c.elapsed(usAfterPortReset) {
			reg.SetN(c.regs.hcfg, posHCFG_FSLSPCS, maskHCFG_FSLSPCS, fslspcs48MHz)
			c.programFIFOSizes()
			reg.Set(c.regs.grstctl, bitGRSTCTL_RXFFLSH)
			c.advanceStep()
		}

	case 9:
		if reg.Get(c.regs.grstctl, bitGRSTCTL_RXFFLSH, 1) == 0 {
			reg.SetN(c.regs.grstctl, posGRSTCTL_TXFNUM, maskGRSTCTL_TXFNUM, txfnumAllFIFOs)
			reg.Set(c.regs.grstctl, bitGRSTCTL_TXFFLSH)
			c.advanceStep()
		}

	case 10:
		if reg.Get(c.regs.grstctl, bitGRSTCTL_TXFFLSH, 1) == 0 {
			c.resetChannelTable()
			reg.Write(c.regs.gintsts, 0xFFFFFFFF)
			reg.Write(c.regs.gintmsk, 0)
			reg.Set(c.regs.hprt, bitHPRT_PPWR)
			c.advanceStep()
		}

	case 11:
		if c.elapsed(usFinalWait) {
			reg.Set(c.regs.gahbcfg, bitGAHBCFG_GINT)
			c.top = stateRun
			c.port = portDisconnected
			c.step = 0
		}
	}
}

// pollReset implements the RESET top-level sub-state of §4.6: hold the
// port-reset bit for usPortResetPulse, then clear it and restore
// whichever state asked for the reset. phaseStartUs is left as
// resetStart set it, so a wait that follows (RESETTING's 210ms) counts
// from the start of the pulse. Reached via resetStart, called
// from the runtime port state machine (port.go) when a fresh connection
// resets the port. Bring-up's own step 6→7 port-reset hold (§4.4's
// literal 12ms, not this state's 10ms) is sequenced inline in
// pollBringup instead, since it is one step of a strictly ordered
// sequence with its own timing, not a detour through the shared state.
func (c *Controller) pollReset() {
	if !c.elapsed(usPortResetPulse) {
		return
	}
	reg.Clear(c.regs.hprt, bitHPRT_PRST)
	c.top = c.prevTop
}

// programFIFOSizes writes the RX/non-periodic-TX/periodic-TX FIFO size
// registers. The FIFO memory map is RX first, then non-periodic TX, then
// periodic TX (§6); NPTX and PTX are programmed as (offset, depth) pairs.
func (c *Controller) programFIFOSizes() {
	reg.Write(c.regs.grxfsiz, uint32(c.rxFIFOWords))

	nptxOffset := uint32(c.rxFIFOWords)
	reg.Write(c.regs.gnptxfsiz, nptxOffset|(uint32(c.nptxFIFOWords)<<16))

	ptxOffset := nptxOffset + uint32(c.nptxFIFOWords)
	reg.Write(c.regs.hptxfsiz, ptxOffset|(uint32(c.ptxFIFOWords)<<16))
}

// resetChannelTable clears every channel back to Free, used at the end
// of bring-up (step 10), on every connect, and on a disconnect that
// PCSTS confirms (§4.5); a DISCINT with PCSTS still set leaves it as is.
func (c *Controller) resetChannelTable() {
	for i := range c.channels {
		c.channels[i] = channel{}
	}
}
