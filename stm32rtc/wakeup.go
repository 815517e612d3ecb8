package stm32rtc

import "time"

// WakeupDivision is the clock feeding the wake-up counter, as written to CR.WUCKSEL.
type WakeupDivision uint8

const (
	WakeupRTCDiv16 WakeupDivision = 0b000 // RTC clock / 16
	WakeupRTCDiv8  WakeupDivision = 0b001 // RTC clock / 8
	WakeupRTCDiv4  WakeupDivision = 0b010 // RTC clock / 4
	WakeupRTCDiv2  WakeupDivision = 0b011 // RTC clock / 2
	WakeupSeconds  WakeupDivision = 0b100 // the 1 Hz calendar clock
	// WakeupSecondsLong also uses the 1 Hz clock but adds 2^16 to the counter, for intervals of 65537 to 131072 s.
	WakeupSecondsLong WakeupDivision = 0b110
)

// OutputSelection routes an RTC event to the RTC_ALARM output pin.
type OutputSelection uint8

const (
	OutputDisabled OutputSelection = 0b00
	OutputWakeup   OutputSelection = 0b11
)

// Polarity of the RTC_ALARM output when the selected event is active.
type Polarity uint8

const (
	PolarityHigh Polarity = iota
	PolarityLow
)

// WakeupConfig describes a periodic wake-up. The event fires every Counter+1 periods of the Division clock.
type WakeupConfig struct {
	Division WakeupDivision
	Counter  uint16
	// Interrupt sets the wake-up interrupt enable bit. On TinyGo, SetWakeupHandler routes the interrupt to a function.
	Interrupt bool
	Output    OutputSelection
	Polarity  Polarity
}

// longWakeupOffset is the counter offset of WakeupSecondsLong.
const longWakeupOffset = 1 << 16

// maxWakeupSeconds is the longest interval a single wake-up timer period can cover.
const maxWakeupSeconds = 2 * longWakeupOffset

// EnableWakeup starts the periodic wake-up timer. Calling it again reconfigures the timer.
func (d *Device) EnableWakeup(c WakeupConfig) error {
	if d.state != running {
		return ErrNotRunning
	}
	switch c.Division {
	case WakeupRTCDiv16, WakeupRTCDiv8, WakeupRTCDiv4, WakeupRTCDiv2, WakeupSeconds, WakeupSecondsLong:
	default:
		return &ConfigurationError{Reason: "invalid wake-up clock division"}
	}
	if c.Output != OutputDisabled && c.Output != OutputWakeup {
		return &ConfigurationError{Reason: "unsupported output selection"}
	}
	return d.unlocked(func() error {
		if err := d.stopWakeup(); err != nil {
			return err
		}
		cr := d.regs.Get(CR) &^ (CR_WUCKSEL_Msk | CR_OSEL_Msk | CR_POL | CR_WUTIE)
		cr |= uint32(c.Division) << CR_WUCKSEL_Pos
		cr |= uint32(c.Output) << CR_OSEL_Pos
		if c.Polarity == PolarityLow {
			cr |= CR_POL
		}
		if c.Interrupt {
			cr |= CR_WUTIE
		}
		d.regs.Set(CR, cr)
		d.regs.Set(WUTR, uint32(c.Counter))
		d.ClearWakeup()
		d.regs.Set(CR, cr|CR_WUTE)
		return nil
	})
}

// DisableWakeup stops the wake-up timer and disconnects it from the output pin.
func (d *Device) DisableWakeup() error {
	if d.state != running {
		return ErrNotRunning
	}
	return d.unlocked(func() error {
		d.regs.Set(CR, d.regs.Get(CR)&^(CR_WUTE|CR_WUTIE|CR_OSEL_Msk))
		d.ClearWakeup()
		return nil
	})
}

// WakeupPending reports whether a wake-up event occurred since the last ClearWakeup.
func (d *Device) WakeupPending() bool {
	return d.regs.Get(ISR)&ISR_WUTF != 0
}

// ClearWakeup acknowledges a wake-up event. The flag is not write protected.
func (d *Device) ClearWakeup() {
	clearWakeupFlag(d.regs)
}

func clearWakeupFlag(regs Registers) {
	regs.Set(ISR, regs.Get(ISR)&^ISR_WUTF)
}

// stopWakeup disables the timer and waits until its configuration may be written. Write protection must be lifted.
func (d *Device) stopWakeup() error {
	d.regs.Set(CR, d.regs.Get(CR)&^CR_WUTE)
	return d.poll("WUTWF", func() bool { return d.regs.Get(ISR)&ISR_WUTWF != 0 })
}

// Delay blocks for the given number of seconds by busy waiting on the wake-up timer. Intervals longer than a single
// timer period are split. The wake-up timer is left running afterwards.
func (d *Device) Delay(seconds uint32) error {
	if d.state != running {
		return ErrNotRunning
	}
	for seconds > 0 {
		n := seconds
		if n > maxWakeupSeconds {
			n = maxWakeupSeconds
		}
		if err := d.wait(n); err != nil {
			return err
		}
		seconds -= n
	}
	return nil
}

// wait programs a single wake-up after seconds (1 to maxWakeupSeconds) and spins until it fired.
func (d *Device) wait(seconds uint32) error {
	c := WakeupConfig{Division: WakeupSeconds, Interrupt: true}
	if seconds > longWakeupOffset {
		c.Division = WakeupSecondsLong
		c.Counter = uint16(seconds - 1 - longWakeupOffset)
	} else {
		c.Counter = uint16(seconds - 1)
	}
	// keep the output routing of a previous EnableWakeup call
	cr := d.regs.Get(CR)
	if OutputSelection((cr&CR_OSEL_Msk)>>CR_OSEL_Pos) == OutputWakeup {
		c.Output = OutputWakeup
	}
	if cr&CR_POL != 0 {
		c.Polarity = PolarityLow
	}
	if err := d.EnableWakeup(c); err != nil {
		return err
	}

	limit := time.Duration(seconds) * time.Second
	if d.source.Oscillator() == LSI {
		// the RC oscillator can be far off
		limit *= 2
	}
	deadline := time.Now().Add(limit + d.wakeupMargin)
	polls := 0
	for !d.WakeupPending() {
		polls++
		if time.Now().After(deadline) {
			l("rtc: wake-up did not fire")
			return &TimeoutError{Flag: "WUTF", Polls: polls}
		}
	}
	d.ClearWakeup()
	return nil
}
