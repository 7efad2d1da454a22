package riscv

// setPriv switches privilege and recomputes the effective XLEN from the
// SXL/UXL fields.
func (c *CPU) setPriv(p uint8) {
	if c.Priv == p {
		return
	}
	if c.MaxXLEN == 64 {
		switch p {
		case PrivSupervisor:
			c.XLEN = mxlToWidth(c.sxl())
		case PrivUser:
			c.XLEN = mxlToWidth(c.uxl())
		default:
			c.XLEN = mxlToWidth(c.mxl)
		}
	}
	c.Priv = p
}

// RaiseTrap enters the trap handler for cause. Interrupt causes carry
// CauseInterrupt. The faulting pc is taken from c.PC.
func (c *CPU) RaiseTrap(cause, tval uint64) {
	interrupt := cause&CauseInterrupt != 0
	code := cause &^ CauseInterrupt

	if c.Trace {
		c.log.Debug("trap",
			"cause", code, "interrupt", interrupt,
			"tval", tval, "pc", c.PC, "priv", c.Priv)
	}

	delegate := false
	if c.Priv <= PrivSupervisor {
		if interrupt {
			delegate = (c.Mideleg>>code)&1 != 0
		} else {
			delegate = (c.Medeleg>>code)&1 != 0
		}
	}

	// Any trap between LR and SC breaks the reservation.
	c.ReservationValid = false
	c.PowerDown = false

	if delegate {
		xcause := code
		if interrupt {
			xcause |= 1 << (mxlToWidth(c.sxlOrMax()) - 1)
		}
		c.Scause = xcause
		c.Sepc = c.PC
		c.Stval = tval
		c.setStatus(MstatusSPIE, c.status(MstatusSIE))
		c.setSPP(c.Priv)
		c.setStatus(MstatusSIE, false)
		c.setPriv(PrivSupervisor)
		c.PC = c.addr(trapVector(c.Stvec, code, interrupt))
		return
	}

	xcause := code
	if interrupt {
		xcause |= 1 << (mxlToWidth(c.mxl) - 1)
	}
	c.Mcause = xcause
	c.Mepc = c.PC
	c.Mtval = tval
	c.setStatus(MstatusMPIE, c.status(MstatusMIE))
	c.setMPP(c.Priv)
	c.setStatus(MstatusMIE, false)
	c.setPriv(PrivMachine)
	c.PC = c.addr(trapVector(c.Mtvec, code, interrupt))
}

func (c *CPU) sxlOrMax() uint8 {
	if c.MaxXLEN == 32 {
		return MXL32
	}
	return c.sxl()
}

// trapVector applies the tvec mode: vectored handlers only apply to interrupts.
func trapVector(tvec, code uint64, interrupt bool) uint64 {
	base := tvec &^ 3
	if tvec&1 != 0 && interrupt {
		return base + 4*code
	}
	return base
}

// pendingInterrupts returns the pending, enabled interrupts that may be taken
// at the current privilege level.
func (c *CPU) pendingInterrupts() uint64 {
	pending := c.Mip & c.Mie
	if pending == 0 {
		return 0
	}

	var enabled uint64
	switch c.Priv {
	case PrivMachine:
		if c.status(MstatusMIE) {
			enabled = ^c.Mideleg
		}
	case PrivSupervisor:
		enabled = ^c.Mideleg
		if c.status(MstatusSIE) {
			enabled |= c.Mideleg
		}
	default:
		enabled = ^uint64(0)
	}
	return pending & enabled
}

// CheckInterrupt takes the lowest-numbered pending and enabled interrupt.
// It reports whether a trap was raised.
func (c *CPU) CheckInterrupt() bool {
	mask := c.pendingInterrupts()
	if mask == 0 {
		return false
	}
	var irq uint64
	for mask&1 == 0 {
		mask >>= 1
		irq++
	}
	c.RaiseTrap(CauseInterrupt|irq, 0)
	return true
}

// SetInterrupt raises bits in mip. A parked hart resumes when one of the
// newly pending bits is enabled in mie.
func (c *CPU) SetInterrupt(mask uint64) {
	c.Mip |= mask
	if c.PowerDown && c.Mip&c.Mie != 0 {
		c.PowerDown = false
	}
}

// ClearInterrupt lowers bits in mip.
func (c *CPU) ClearInterrupt(mask uint64) {
	c.Mip &^= mask
}

// Parked reports whether the hart is waiting for an interrupt.
func (c *CPU) Parked() bool { return c.PowerDown }

// WakeIfPending clears power-down when an enabled interrupt is pending.
func (c *CPU) WakeIfPending() bool {
	if c.PowerDown && c.Mip&c.Mie != 0 {
		c.PowerDown = false
	}
	return !c.PowerDown
}

// handleSret returns from a supervisor trap handler.
func (c *CPU) handleSret() {
	spp := c.spp()
	c.setStatus(MstatusSIE, c.status(MstatusSPIE))
	c.setStatus(MstatusSPIE, true)
	c.setSPP(PrivUser)
	c.setPriv(spp)
	c.PC = c.addr(c.Sepc)
}

// handleMret returns from a machine trap handler.
func (c *CPU) handleMret() {
	mpp := c.mpp()
	c.setStatus(MstatusMIE, c.status(MstatusMPIE))
	c.setStatus(MstatusMPIE, true)
	c.setMPP(PrivUser)
	if mpp != PrivMachine {
		c.setStatus(MstatusMPRV, false)
	}
	c.setPriv(mpp)
	c.PC = c.addr(c.Mepc)
}
