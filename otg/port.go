package otg

import "github.com/rgwan/libusbhost/internal/reg"

// pollRun dispatches to whichever runtime port sub-state is current
// (§4.5). Only portRun does per-poll interrupt servicing; the other
// three sub-states are purely about detecting and debouncing a
// connection before handing off to normal operation.
func (c *Controller) pollRun() Event {
	switch c.port {
	case portDisconnected:
		return c.pollPortDisconnected()
	case portConnecting:
		return c.pollPortConnecting()
	case portResetting:
		return c.pollPortResetting()
	default:
		return c.pollPortRun()
	}
}

// pollPortDisconnected clears stale global interrupt status every poll
// and watches for the hardware to report a connected device.
func (c *Controller) pollPortDisconnected() Event {
	reg.Ack(c.regs.gintsts, reg.Read(c.regs.gintsts))

	hprt := reg.Read(c.regs.hprt)
	if hprt&(1<<bitHPRT_PCDET) != 0 && hprt&(1<<bitHPRT_PCSTS) != 0 {
		c.port = portConnecting
		c.phaseStartUs = c.nowUs
	}
	return EventNone
}

// pollPortConnecting waits out the 500ms debounce, then reads the
// negotiated speed, programs the host frame interval and PHY clock
// select, reinitializes the channel table, and kicks off the port
// reset pulse via resetStart. If the port no longer looks connected
// once the debounce elapses, or the negotiated speed is neither Full
// nor Low, it simply stays in CONNECTING for the next poll.
func (c *Controller) pollPortConnecting() Event {
	if !c.elapsed(usDebounce) {
		return EventNone
	}

	hprt := reg.Read(c.regs.hprt)
	if hprt&(1<<bitHPRT_PCDET) == 0 || hprt&(1<<bitHPRT_PCSTS) == 0 {
		return EventNone
	}

	switch reg.Get(c.regs.hprt, posHPRT_PSPD, maskHPRT_PSPD) {
	case pspdFull:
		reg.SetN(c.regs.hfir, 0, maskHFIR_FRIVL, hfirFullSpeed)
		reg.SetN(c.regs.hcfg, posHCFG_FSLSPCS, maskHCFG_FSLSPCS, fslspcs48MHz)
		c.speed = SpeedFull
	case pspdLow:
		reg.SetN(c.regs.hfir, 0, maskHFIR_FRIVL, hfirLowSpeed)
		reg.SetN(c.regs.hcfg, posHCFG_FSLSPCS, maskHCFG_FSLSPCS, fslspcs6MHz)
		c.speed = SpeedLow
	default:
		// High-speed negotiation is the upper stack's concern; the core
		// only distinguishes Full and Low here (§9).
		return EventNone
	}

	c.resetChannelTable()
	c.port = portResetting
	c.resetStart()
	return EventNone
}

// pollPortResetting waits the remaining portion of the 210ms enumeration
// window (the ~10ms hardware reset pulse itself is handled by the
// shared RESET top-level sub-state, §4.6) before entering normal
// operation.
func (c *Controller) pollPortResetting() Event {
	if !c.elapsed(usResetToRun) {
		return EventNone
	}
	c.port = portRun
	return EventNone
}

// pollPortRun services RXFLVL, port-change, disconnect, and per-channel
// interrupts (§4.5 RUN state / §4.7).
func (c *Controller) pollPortRun() Event {
	if reg.Get(c.regs.gintsts, bitGINTSTS_SOF, 1) != 0 {
		reg.Ack(c.regs.gintsts, 1<<bitGINTSTS_SOF)
	}

	for reg.Get(c.regs.gintsts, bitGINTSTS_RXFLVL, 1) != 0 {
		c.drainRxFIFO()
	}

	event := EventNone

	if reg.Get(c.regs.gintsts, bitGINTSTS_HPRTINT, 1) != 0 {
		hprt := reg.Read(c.regs.hprt)
		if hprt&(1<<bitHPRT_PENCHNG) != 0 {
			// Hardware quirk inherited from the original driver: writing
			// 0 to PENA is what actually clears this interrupt, despite
			// PENCHNG being the documented status bit.
			reg.Clear(c.regs.hprt, bitHPRT_PENA)
			if hprt&(1<<bitHPRT_PENA) != 0 {
				event = EventDeviceConnected
			}
		}
		if hprt&(1<<bitHPRT_POCCHNG) != 0 {
			reg.Set(c.regs.hprt, bitHPRT_POCCHNG)
		}
	}

	if reg.Get(c.regs.gintsts, bitGINTSTS_DISCINT, 1) != 0 {
		reg.Ack(c.regs.gintsts, 1<<bitGINTSTS_DISCINT)

		// A voltage dip can raise DISCINT while the device is still
		// connected; only reinitialize channels when the port genuinely
		// reports disconnected.
		if reg.Get(c.regs.hprt, bitHPRT_PCSTS, 1) == 0 {
			c.resetChannelTable()
		}
		reg.Ack(c.regs.gintsts, reg.Read(c.regs.gintsts))
		c.port = portDisconnected
		return EventDeviceDisconnected
	}

	if reg.Get(c.regs.gintsts, bitGINTSTS_HCINT, 1) != 0 {
		c.dispatchChannelInterrupts()
	}

	if reg.Get(c.regs.gintsts, bitGINTSTS_MMIS, 1) != 0 {
		reg.Ack(c.regs.gintsts, 1<<bitGINTSTS_MMIS)
	}
	if reg.Get(c.regs.gintsts, bitGINTSTS_IPXFR, 1) != 0 {
		reg.Ack(c.regs.gintsts, 1<<bitGINTSTS_IPXFR)
	}

	return event
}

// dispatchChannelInterrupts scans channels in ascending index order
// (the ordering guarantee of §5) and handles the interrupt flags of
// every Working channel whose bit is set in the aggregate channel
// interrupt register.
func (c *Controller) dispatchChannelInterrupts() {
	haint := reg.Read(c.regs.haint)

	for id := range c.channels {
		ch := &c.channels[id]
		if ch.state != chanWorking {
			continue
		}
		if haint&(1<<uint(id)) == 0 {
			continue
		}

		cr := &c.regs.channels[id]
		hcint := reg.Read(cr.intr)

		if reg.Get(cr.char, bitHCCHAR_EPDIR, 1) != 0 {
			c.handleChannelIN(id, hcint)
		} else {
			c.handleChannelOUT(id, hcint)
		}
	}
}

// deliver releases the channel and invokes its callback. The packet's
// callback and argument are read after release because releaseChannel
// intentionally preserves them (§4.2).
func (c *Controller) deliver(id int, status Status, transferred int) {
	ch := &c.channels[id]
	cb, arg := ch.packet.Callback, ch.packet.Arg
	c.releaseChannel(id)
	if cb != nil {
		cb(arg, status, transferred)
	}
}

// handleChannelOUT implements the OUT-direction flag table of §4.7.
// Flags are checked in the listed order; once XFRC has been handled the
// channel is done for this pass.
func (c *Controller) handleChannelOUT(id int, hcint uint32) {
	ch := &c.channels[id]
	cr := &c.regs.channels[id]

	if hcint&(1<<bitHCINT_NAK) != 0 {
		reg.Ack(cr.intr, 1<<bitHCINT_NAK)
		reg.Set(cr.char, bitHCCHAR_CHENA)
	}

	if hcint&(1<<bitHCINT_ACK) != 0 {
		reg.Ack(cr.intr, 1<<bitHCINT_ACK)
		if ch.packet.EndpointType == EndpointControl {
			*ch.packet.Toggle = 1
		} else {
			*ch.packet.Toggle ^= 1
		}
	}

	if hcint&(1<<bitHCINT_XFRC) != 0 {
		reg.Ack(cr.intr, 1<<bitHCINT_XFRC)
		c.deliver(id, OK, ch.dataIndex)
		return
	}

	if hcint&(1<<bitHCINT_FRMOR) != 0 {
		reg.Ack(cr.intr, 1<<bitHCINT_FRMOR)
		c.deliver(id, EFATAL, 0)
	}

	if hcint&(1<<bitHCINT_TXERR) != 0 {
		reg.Ack(cr.intr, 1<<bitHCINT_TXERR)
		// Recoverable; the caller decides whether to resubmit. See
		// DESIGN.md's Open Question decisions re: escalation after
		// repeated TXERR.
		c.deliver(id, EAGAIN, 0)
	}

	if hcint&(1<<bitHCINT_STALL) != 0 {
		reg.Ack(cr.intr, 1<<bitHCINT_STALL)
		c.deliver(id, EFATAL, 0)
	}

	if hcint&(1<<bitHCINT_CHH) != 0 {
		reg.Ack(cr.intr, 1<<bitHCINT_CHH)
		c.releaseChannel(id)
	}
}

// handleChannelIN implements the IN-direction flag table of §4.7.
func (c *Controller) handleChannelIN(id int, hcint uint32) {
	ch := &c.channels[id]
	cr := &c.regs.channels[id]

	if hcint&(1<<bitHCINT_NAK) != 0 {
		reg.Ack(cr.intr, 1<<bitHCINT_NAK)
		reg.Set(cr.char, bitHCCHAR_CHENA)
	}

	if hcint&(1<<bitHCINT_DTERR) != 0 {
		reg.Ack(cr.intr, 1<<bitHCINT_DTERR)
	}

	if hcint&(1<<bitHCINT_ACK) != 0 {
		reg.Ack(cr.intr, 1<<bitHCINT_ACK)
		*ch.packet.Toggle ^= 1
	}

	if hcint&(1<<bitHCINT_XFRC) != 0 {
		reg.Ack(cr.intr, 1<<bitHCINT_XFRC)
		status := OK
		if ch.dataIndex != len(ch.packet.Data) {
			status = ERRSIZ
		}
		c.deliver(id, status, ch.dataIndex)
		return
	}

	if hcint&(1<<bitHCINT_BBERR) != 0 {
		reg.Ack(cr.intr, 1<<bitHCINT_BBERR)
		c.deliver(id, EFATAL, 0)
	}

	if hcint&(1<<bitHCINT_FRMOR) != 0 {
		reg.Ack(cr.intr, 1<<bitHCINT_FRMOR)
	}

	if hcint&(1<<bitHCINT_TXERR) != 0 {
		reg.Ack(cr.intr, 1<<bitHCINT_TXERR)
		c.deliver(id, EFATAL, 0)
	}

	if hcint&(1<<bitHCINT_STALL) != 0 {
		reg.Ack(cr.intr, 1<<bitHCINT_STALL)
		c.deliver(id, EFATAL, 0)
	}

	if hcint&(1<<bitHCINT_CHH) != 0 {
		reg.Ack(cr.intr, 1<<bitHCINT_CHH)
		c.releaseChannel(id)
	}
}
