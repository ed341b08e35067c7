package otg

import "github.com/rgwan/libusbhost/internal/reg"

// EndpointType identifies the USB transfer type of an endpoint, using the
// same numeric encoding as the hardware's HCCHAR.EPTYP field so a Packet's
// EndpointType can be written into the register without translation.
type EndpointType uint8

const (
	EndpointControl EndpointType = iota
	EndpointIsochronous
	EndpointBulk
	EndpointInterrupt
)

// ControlPhase distinguishes the Setup and Data stages of a Control
// transfer. It is meaningless for any other EndpointType.
type ControlPhase uint8

const (
	PhaseSetup ControlPhase = iota
	PhaseData
)

// Speed is the negotiated (or requested) USB signaling speed.
type Speed uint8

const (
	SpeedLow Speed = iota
	SpeedFull
	SpeedHigh
)

// Status is delivered to a Callback exactly once per accepted submission.
type Status uint8

const (
	// OK: the transfer completed with the requested length (IN) or was
	// acknowledged (OUT).
	OK Status = iota
	// ERRSIZ: an IN transfer completed with fewer bytes than requested.
	// Not retried by the core.
	ERRSIZ
	// EAGAIN: a recoverable transaction error (OUT TXERR). The caller
	// decides whether to resubmit.
	EAGAIN
	// EFATAL: STALL, babble, frame overrun, IN TXERR, or channel
	// exhaustion. The caller must abandon the transfer.
	EFATAL
)

func (s Status) String() string {
	switch s {
	case OK:
		return "OK"
	case ERRSIZ:
		return "ERRSIZ"
	case EAGAIN:
		return "EAGAIN"
	case EFATAL:
		return "EFATAL"
	default:
		return "unknown"
	}
}

// Callback is invoked exactly once per accepted submission, from inside
// Poll. It must not block, and may immediately resubmit on the same
// logical endpoint by calling Read or Write.
type Callback func(arg interface{}, status Status, transferred int)

// Packet is a caller-owned transfer descriptor. It is copied into a
// Channel on submission; Data and Toggle are referenced (not copied) and
// must remain valid until Callback fires.
type Packet struct {
	Data []byte

	DevAddr      uint8
	EndpointNum  uint8
	MaxPacket    uint16
	EndpointType EndpointType
	ControlPhase ControlPhase
	Speed        Speed

	// Toggle points at the caller-owned DATA0/DATA1 state for this
	// endpoint. The driver reads it to compute the PID for this
	// submission and writes it back only after observing ACK.
	Toggle *uint8

	Callback Callback
	Arg      interface{}
}

func numPackets(datalen int, maxPacket uint16, out bool) int {
	switch {
	case datalen == 0 && out:
		return 1
	case datalen == 0:
		return 0
	default:
		return (datalen + int(maxPacket) - 1) / int(maxPacket)
	}
}

// submit implements §4.8: acquire a channel, bind the packet to it,
// compute the DATA toggle PID, program the transfer-size and channel
// characteristics registers, and for OUT push the payload into the
// right FIFO window. dir is dirIN or dirOUT (registers.go).
func (c *Controller) submit(p Packet, dir uint32) {
	id, ok := c.acquireChannel()
	if !ok {
		if p.Callback != nil {
			p.Callback(p.Arg, EFATAL, 0)
		}
		return
	}

	ch := &c.channels[id]
	ch.dataIndex = 0
	ch.packet = p

	var dpid uint32
	var numPkts int
	if dir == dirIN {
		if *p.Toggle != 0 {
			dpid = dpidDATA1
		} else {
			dpid = dpidDATA0
		}
		numPkts = numPackets(len(p.Data), p.MaxPacket, false)
	} else {
		dpid = outToggle(&ch.packet)
		numPkts = numPackets(len(p.Data), p.MaxPacket, true)
	}

	cr := &c.regs.channels[id]
	reg.Write(cr.tsiz, dpid<<posHCTSIZ_DPID|uint32(numPkts)<<posHCTSIZ_PKTCNT|uint32(len(p.Data)))

	c.setupChannel(id, dir)

	if dir == dirOUT {
		c.pushTxFIFO(id)
		ch.dataIndex = len(p.Data)
	}
}

// outToggle computes the DATA PID for an OUT submission and updates the
// caller's toggle byte in place where the protocol requires it. Control
// transfers always use MDATA and reset toggle to DATA0 for the next
// Data stage (§3); Bulk and Interrupt use the toggle byte directly.
// Isochronous falls through to the same latent DATA0 behavior (and
// diagnostic) the original driver has — see DESIGN.md's Open Question
// decisions; not guessed at or fixed here.
func outToggle(p *Packet) uint32 {
	switch p.EndpointType {
	case EndpointControl:
		*p.Toggle = 0
		return dpidMDATA
	case EndpointInterrupt, EndpointBulk:
		if *p.Toggle != 0 {
			return dpidDATA1
		}
		return dpidDATA0
	default:
		Logger.Printf("BUG: isochronous OUT toggle left at DATA0")
		return dpidDATA0
	}
}

// setupChannel writes the channel characteristics register in a single
// shot, matching stm32f4_usbh_port_channel_setup in the original
// driver: enable, device address, multi-count=1, endpoint type,
// low-speed flag, direction, endpoint number, max packet size.
func (c *Controller) setupChannel(id int, dir uint32) {
	ch := &c.channels[id]
	cr := &c.regs.channels[id]

	var speed uint32
	if ch.packet.Speed == SpeedLow {
		speed = 1 << bitHCCHAR_LSDEV
	}

	var val uint32
	val |= 1 << bitHCCHAR_CHENA
	val |= (uint32(ch.packet.DevAddr) & maskHCCHAR_DAD) << posHCCHAR_DAD
	val |= 1 << posHCCHAR_MCNT
	val |= (uint32(ch.packet.EndpointType) & maskHCCHAR_EPTYP) << posHCCHAR_EPTYP
	val |= speed
	val |= dir
	val |= (uint32(ch.packet.EndpointNum) & maskHCCHAR_EPNUM) << posHCCHAR_EPNUM
	val |= uint32(ch.packet.MaxPacket) & maskHCCHAR_MPSIZ

	reg.Write(cr.char, val)
}
