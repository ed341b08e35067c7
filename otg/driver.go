// Package otg implements a low-level driver for an on-chip USB OTG host
// controller (DWC2-style: global registers, a fixed bank of per-channel
// registers, and RX/non-periodic-TX/periodic-TX FIFOs). It is polled and
// single-threaded: there is no interrupt handler anywhere in this
// package, only Poll, called repeatedly by the host stack with a
// monotonic microsecond timestamp.
package otg

import (
	"io"
	"log"

	"github.com/rgwan/libusbhost/internal/reg"
)

// Logger is the package-level diagnostic sink. It defaults to discarding
// everything, so the driver is silent unless a host wires one in, the
// same posture internal/reg takes toward its caller: nothing here
// assumes a particular logging destination exists.
var Logger = log.New(io.Discard, "otg: ", 0)

// topState is the controller's top-level driver state.
type topState uint8

const (
	stateInit topState = iota
	stateRun
	stateReset
)

// portSubState is the runtime port state machine's state, meaningful
// only while topState == stateRun.
type portSubState uint8

const (
	portDisconnected portSubState = iota
	portConnecting
	portResetting
	portRun
)

// Event is returned by Poll to report a state transition the host stack
// must react to.
type Event uint8

const (
	EventNone Event = iota
	EventDeviceConnected
	EventDeviceDisconnected
)

// Config selects the compile-time shape of a Controller: its register
// base address, channel count, and FIFO sizes. There is no runtime
// configuration format; a host builds one of these per controller
// instance it wants to drive (e.g. one FS, one HS).
type Config struct {
	Base        uintptr
	NumChannels int

	RxFIFOWords   int
	NPTxFIFOWords int
	PTxFIFOWords  int
}

// Controller is one USB OTG host controller instance: its register
// facade, its channel table, and the state machines driving bring-up and
// runtime operation. Two Controllers share no mutable state and may be
// polled independently within the same cooperative loop.
type Controller struct {
	regs     *registers
	channels []channel

	top     topState
	prevTop topState
	port    portSubState

	step int // bring-up sequence counter, §4.4

	nowUs        int64
	phaseStartUs int64

	speed Speed

	rxFIFOWords   int
	nptxFIFOWords int
	ptxFIFOWords  int

	// popRxStatus reads one entry from the RX status FIFO. Overridden by
	// tests; production leaves it nil and falls back to
	// defaultPopRxStatus (see fifo.go).
	popRxStatus func() (uint32, bool)
}

// NewController constructs a Controller from cfg. It panics if cfg
// describes something the driver cannot operate on (zero channels or a
// zero base address), matching the teacher's posture toward
// caller-violated preconditions: these are programmer errors, not
// runtime conditions the polled state machine could recover from.
func NewController(cfg Config) *Controller {
	if cfg.NumChannels <= 0 {
		panic("otg: NewController: NumChannels must be > 0")
	}
	if cfg.Base == 0 {
		panic("otg: NewController: Base must be non-zero")
	}

	rx := cfg.RxFIFOWords
	if rx == 0 {
		rx = defaultRxFIFOWords
	}
	nptx := cfg.NPTxFIFOWords
	if nptx == 0 {
		nptx = defaultNPTxFIFOWords
	}
	ptx := cfg.PTxFIFOWords
	if ptx == 0 {
		ptx = defaultPTxFIFOWords
	}

	c := &Controller{
		regs:          newRegisters(cfg.Base, cfg.NumChannels),
		channels:      make([]channel, cfg.NumChannels),
		top:           stateInit,
		port:          portDisconnected,
		rxFIFOWords:   rx,
		nptxFIFOWords: nptx,
		ptxFIFOWords:  ptx,
	}
	return c
}

// Init places the controller in the INIT state. It is non-blocking; all
// bring-up work happens across subsequent Poll calls.
func (c *Controller) Init() {
	c.top = stateInit
	c.step = 0
	c.phaseStartUs = 0
}

// Poll advances the controller's state machines by one step using nowUs,
// a monotonic microsecond timestamp, and drains whatever hardware status
// is pending. It must be called repeatedly; between calls the driver is
// inert.
func (c *Controller) Poll(nowUs int64) Event {
	c.nowUs = nowUs

	switch c.top {
	case stateInit:
		c.pollBringup()
		return EventNone
	case stateReset:
		c.pollReset()
		return EventNone
	case stateRun:
		return c.pollRun()
	default:
		return EventNone
	}
}

func (c *Controller) elapsed(thresholdUs int64) bool {
	return c.nowUs-c.phaseStartUs >= thresholdUs
}

func (c *Controller) advanceStep() {
	c.step++
	c.phaseStartUs = c.nowUs
}

// resetStart asserts the port-reset bit, saves the current top-level
// state, and switches to stateReset, per §4.6. Used by the runtime port
// state machine (CONNECTING → RESETTING); bring-up's step 6 asserts the
// port reset inline instead (see pollReset).
func (c *Controller) resetStart() {
	reg.Set(c.regs.hprt, bitHPRT_PRST)
	c.prevTop = c.top
	c.top = stateReset
	c.phaseStartUs = c.nowUs
}

// RootSpeed returns the negotiated port speed. Valid only after a
// Poll call has returned EventDeviceConnected.
func (c *Controller) RootSpeed() Speed {
	return c.speed
}

// Read submits an IN transfer. See §4.8.
func (c *Controller) Read(p Packet) {
	c.submit(p, dirIN)
}

// Write submits an OUT transfer. See §4.8.
func (c *Controller) Write(p Packet) {
	c.submit(p, dirOUT)
}
