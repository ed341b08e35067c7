package otg

import "github.com/rgwan/libusbhost/internal/reg"

// RX/non-periodic-TX/periodic-TX FIFO sizes, in 32-bit words. The FIFO
// memory map is RX first, then non-periodic TX, then periodic TX; a
// channel's transmit window is selected by endpoint type (§4.3).
const (
	defaultRxFIFOWords    = 64
	defaultNPTxFIFOWords  = 64
	defaultPTxFIFOWords   = 64
)

// popRxStatus reads one entry from the RX status FIFO. On real silicon
// this is just reg.Read(grxstsp): reading the register pops an entry as
// a side effect of the read itself, something no *uint32-backed
// simulation of plain memory can reproduce. Controller.popRxStatus is a
// function value instead of a bare register read so tests can back it
// with a software queue while production backs it with the real
// register, without either one needing a different code path anywhere
// else in the FIFO engine.
func (c *Controller) defaultPopRxStatus() (uint32, bool) {
	return reg.Read(c.regs.grxstsp), true
}

// drainRxFIFO services one RXFLVL event: pop the status word, and if it
// describes IN data, copy it from the owning channel's FIFO window into
// the packet buffer at data_index, padding the final partial word.
func (c *Controller) drainRxFIFO() {
	pop := c.popRxStatus
	if pop == nil {
		pop = c.defaultPopRxStatus
	}
	status, ok := pop()
	if !ok {
		return
	}

	chanNum := int(status>>posGRXSTSP_CHNUM) & maskGRXSTSP_CHNUM
	byteCount := int(status>>posGRXSTSP_BCNT) & maskGRXSTSP_BCNT
	pktSts := int(status>>posGRXSTSP_PKTSTS) & maskGRXSTSP_PKTSTS

	if pktSts != pktstsIN || byteCount == 0 {
		// IN-complete and channel-halted status entries are observed
		// but require no FIFO action.
		return
	}
	if chanNum < 0 || chanNum >= len(c.channels) {
		return
	}

	ch := &c.channels[chanNum]
	cr := &c.regs.channels[chanNum]
	if ch.state != chanWorking {
		return
	}

	readFIFOInto(cr.fifo, ch.packet.Data[ch.dataIndex:ch.dataIndex+byteCount], byteCount)
	ch.dataIndex += byteCount

	if ch.dataIndex < len(ch.packet.Data) && byteCount == int(ch.packet.MaxPacket) {
		reg.Set(cr.char, bitHCCHAR_CHENA)
	}
}

// readFIFOInto copies n bytes out of a channel's FIFO window, 32 bits at
// a time, padding the final 1-3 byte tail by reading one extra word and
// copying only the bytes that belong to dst.
func readFIFOInto(fifo *uint32, dst []byte, n int) {
	full := n / 4
	for i := 0; i < full; i++ {
		word := reg.Read(fifo)
		dst[i*4+0] = byte(word)
		dst[i*4+1] = byte(word >> 8)
		dst[i*4+2] = byte(word >> 16)
		dst[i*4+3] = byte(word >> 24)
	}
	if rem := n - full*4; rem > 0 {
		word := reg.Read(fifo)
		for i := 0; i < rem; i++ {
			dst[full*4+i] = byte(word >> (8 * i))
		}
	}
}

// writeFIFOFrom pushes n bytes into a channel's FIFO window, 32 bits at a
// time to consecutive word addresses starting at fifo, zero-padding the
// final partial word.
func writeFIFOFrom(fifo *uint32, src []byte) {
	n := len(src)
	full := n / 4
	for i := 0; i < full; i++ {
		word := uint32(src[i*4+0]) | uint32(src[i*4+1])<<8 |
			uint32(src[i*4+2])<<16 | uint32(src[i*4+3])<<24
		reg.Write(fifoAt(fifo, i), word)
	}
	if rem := n - full*4; rem > 0 {
		var word uint32
		for i := 0; i < rem; i++ {
			word |= uint32(src[full*4+i]) << (8 * i)
		}
		reg.Write(fifoAt(fifo, full), word)
	}
}

// pushTxFIFO writes a packet's payload into the channel's FIFO window, at
// an offset selected by endpoint type per §4.3/§6: Control and Bulk land
// in the non-periodic region (after RX), Interrupt and Isochronous in
// the periodic region (after RX + non-periodic). This mirrors the
// original driver's `&REBASE_CH(OTG_FIFO, channel) + RX_FIFO_SIZE` (and
// `+ TX_NP_FIFO_SIZE` for the periodic case) pointer arithmetic exactly.
func (c *Controller) pushTxFIFO(id int) {
	ch := &c.channels[id]
	cr := &c.regs.channels[id]

	var offset int
	switch ch.packet.EndpointType {
	case EndpointControl, EndpointBulk:
		offset = c.rxFIFOWords
	default: // Interrupt, Isochronous
		offset = c.rxFIFOWords + c.nptxFIFOWords
	}

	writeFIFOFrom(fifoAt(cr.fifo, offset), ch.packet.Data)
}
