package otg

import (
	"testing"
	"unsafe"

	"github.com/rgwan/libusbhost/internal/reg"
)

// newTestController backs a Controller with a plain Go slice standing in
// for the MMIO register window, the same trick newRegisters' doc comment
// describes: production and tests both go through internal/reg and the
// same pointer arithmetic, so a test exercising this Controller exercises
// the identical code path a real controller instance would.
func newTestController(t *testing.T, numChannels int) *Controller {
	t.Helper()

	words := (offFIFOBase + numChannels*fifoChanSize) / 4
	buf := make([]uint32, words)
	base := uintptr(unsafe.Pointer(&buf[0]))

	c := NewController(Config{Base: base, NumChannels: numChannels})
	t.Cleanup(func() { _ = buf })
	return c
}

// runBringup drives Poll with a fake, monotonically increasing clock
// until the controller reaches stateRun, or fails the test after a
// generous number of polls (a bring-up that never terminates is itself
// a bug worth failing loudly on). Plain memory has none of the
// hardware's self-setting and self-clearing GRSTCTL bits, so the loop
// models them: AHBIDL always reads set, and a soft reset or FIFO flush
// requested by one Poll has completed by the next.
func runBringup(t *testing.T, c *Controller) {
	t.Helper()
	c.Init()

	var now int64
	for i := 0; i < 100000; i++ {
		reg.Set(c.regs.grstctl, bitGRSTCTL_AHBIDL)
		c.Poll(now)
		if c.top == stateRun {
			return
		}
		reg.Clear(c.regs.grstctl, bitGRSTCTL_CSRST)
		reg.Clear(c.regs.grstctl, bitGRSTCTL_RXFFLSH)
		reg.Clear(c.regs.grstctl, bitGRSTCTL_TXFFLSH)
		now += 1000 // 1ms granularity
	}
	t.Fatalf("bring-up did not reach stateRun after %d polls", 100000)
}

// connectFullSpeed drives the runtime port state machine from
// DISCONNECTED through to RUN at Full-Speed, returning the timestamp
// Poll was last called with.
func connectFullSpeed(t *testing.T, c *Controller, now int64) int64 {
	t.Helper()

	reg.Set(c.regs.hprt, bitHPRT_PCDET)
	reg.Set(c.regs.hprt, bitHPRT_PCSTS)
	reg.SetN(c.regs.hprt, posHPRT_PSPD, maskHPRT_PSPD, pspdFull)

	if ev := c.Poll(now); ev != EventNone {
		t.Fatalf("unexpected event on connect detect: %v", ev)
	}
	if c.port != portConnecting {
		t.Fatalf("expected portConnecting after connect detect, got %v", c.port)
	}

	now += usDebounce
	if ev := c.Poll(now); ev != EventNone {
		t.Fatalf("unexpected event after debounce: %v", ev)
	}
	if c.port != portResetting {
		t.Fatalf("expected portResetting after debounce, got %v", c.port)
	}
	if c.top != stateReset {
		t.Fatalf("expected stateReset during port reset pulse, got %v", c.top)
	}

	now += usPortResetPulse
	c.Poll(now)
	if c.top != stateRun {
		t.Fatalf("expected stateRun after reset pulse, got %v", c.top)
	}

	now += usResetToRun
	c.Poll(now)
	if c.port != portRun {
		t.Fatalf("expected portRun after enumeration window, got %v", c.port)
	}

	// Port-enable-change interrupt: upper stack learns about the
	// connection only once this fires.
	reg.Set(c.regs.gintsts, bitGINTSTS_HPRTINT)
	reg.Set(c.regs.hprt, bitHPRT_PENCHNG)
	reg.Set(c.regs.hprt, bitHPRT_PENA)

	ev := c.Poll(now)
	if ev != EventDeviceConnected {
		t.Fatalf("expected EventDeviceConnected, got %v", ev)
	}

	return now
}
