package otg

import "github.com/rgwan/libusbhost/internal/reg"

type allocState uint8

const (
	chanFree allocState = iota
	chanWorking
)

// channel is one hardware transfer context: its allocation state, the
// packet currently bound to it, how far the transfer has progressed, and
// an error counter reserved for escalating repeated TXERR (see
// DESIGN.md's Open Question decisions — currently unused).
type channel struct {
	state     allocState
	packet    Packet
	dataIndex int
	errors    int
}

// channelInterruptMask is the set unmasked on every acquired channel:
// ACK, NAK, TXERR, XFRC, DTERR, BBERR, CHH, STALL, FRMOR.
const channelInterruptMask = 1<<bitHCINT_ACK | 1<<bitHCINT_NAK | 1<<bitHCINT_TXERR |
	1<<bitHCINT_XFRC | 1<<bitHCINT_DTERR | 1<<bitHCINT_BBERR |
	1<<bitHCINT_CHH | 1<<bitHCINT_STALL | 1<<bitHCINT_FRMOR

// acquire scans channels in index order and returns the first one that is
// both software-Free and hardware-disabled (HCCHAR.CHENA clear); both
// conditions are required, matching get_free_channel in the original
// driver this is grounded on. On success it marks the channel Working,
// clears stale interrupt flags, unmasks the standard set, and unmasks the
// channel's bit in the controller's aggregate interrupt mask.
func (c *Controller) acquireChannel() (int, bool) {
	for id := range c.channels {
		ch := &c.channels[id]
		cr := &c.regs.channels[id]
		if ch.state != chanFree {
			continue
		}
		if reg.Get(cr.char, bitHCCHAR_CHENA, 1) != 0 {
			continue
		}

		ch.state = chanWorking
		ch.errors = 0

		reg.Write(cr.intr, maskHCINT_ALL)
		reg.Write(cr.intmsk, channelInterruptMask)
		reg.Set(c.regs.haintmsk, id)

		return id, true
	}
	return 0, false
}

// releaseChannel implements the disable-then-free sequence: if the
// channel is hardware-enabled, it is asked to halt (CHDIS) and its flags
// are cleared, but allocation state stays Working until the hardware
// delivers CHH on a later poll; if it was never enabled, it is freed
// immediately. The packet and callback fields are left untouched so the
// upper stack may resubmit on the same index from within its callback.
func (c *Controller) releaseChannel(id int) {
	ch := &c.channels[id]
	cr := &c.regs.channels[id]

	if reg.Get(cr.char, bitHCCHAR_CHENA, 1) != 0 {
		reg.Set(cr.char, bitHCCHAR_CHDIS)
		reg.Write(cr.intr, maskHCINT_ALL)
		return
	}
	ch.state = chanFree
}
