// Package rtcsim simulates the STM32F3 RTC together with the bits of the power and clock controllers it depends on.
// A Chip implements stm32rtc.Registers, stm32rtc.Power and stm32rtc.ClockControl, so drivers can run on a host.
//
// The simulation enforces the write protection, initialization mode and wake-up timer write rules of the reference
// manual. Writes breaking them are dropped and recorded as violations; every write is recorded in order in the log.
//
// Time does not pass on its own: the calendar only advances when a wake-up event fires, by the programmed interval.
// An event fires once per enabling of the wake-up timer.
package rtcsim

import (
	"fmt"
	"time"

	"github.com/ajanata/drivers/bcd"
	"github.com/ajanata/drivers/stm32rtc"
)

// Reset values
const (
	resetDR   = 0x00002101
	resetISR  = 0x00000007
	resetPRER = 0x007F00FF
	resetWUTR = 0x0000FFFF
)

// Chip is a simulated microcontroller. The zero value is not usable, use New.
type Chip struct {
	regs map[stm32rtc.Register]uint32

	// write protection: 0 locked, 1 first key seen, 2 unlocked
	wp int

	initPolls int
	calWrite  bool // calendar written during the current initialization

	syncing   bool // RSF was cleared, shadow registers resynchronizing
	syncPolls int

	wutwfPolls int
	armed      bool
	wakePolls  int

	pwren  bool
	dbp    bool
	osc    map[stm32rtc.Oscillator]bool
	ready  map[stm32rtc.Oscillator]int
	rtcsel stm32rtc.Oscillator
	rtcen  bool

	// Delays, in polls of the corresponding flag, before the hardware responds.
	InitDelay   int
	ReadyDelay  int
	WUTWFDelay  int
	WakeupDelay int
	SyncDelay   int

	// HSEFrequency is the crystal frequency assumed for the wake-up timer when the RTC runs from HSE.
	HSEFrequency uint32

	stuck map[string]bool

	log        []string
	violations []string
}

// New returns a chip as it comes out of a power-on reset.
func New() *Chip {
	c := &Chip{
		osc:         map[stm32rtc.Oscillator]bool{},
		ready:       map[stm32rtc.Oscillator]int{},
		stuck:       map[string]bool{},
		InitDelay:   2,
		ReadyDelay:  3,
		WUTWFDelay:  1,
		WakeupDelay: 5,
		SyncDelay:   1,

		HSEFrequency: 8000000,
	}
	c.resetRTC()
	return c
}

func (c *Chip) resetRTC() {
	c.regs = map[stm32rtc.Register]uint32{
		stm32rtc.DR:   resetDR,
		stm32rtc.ISR:  resetISR,
		stm32rtc.PRER: resetPRER,
		stm32rtc.WUTR: resetWUTR,
		stm32rtc.SSR:  resetPRER & stm32rtc.PRER_PREDIV_S_Msk,
	}
	c.wp = 0
	c.armed = false
	c.rtcsel = 0
	c.rtcen = false
}

// Stick keeps a flag from ever being set. Valid flags are "LSIRDY", "LSERDY", "HSERDY", "INITF", "WUTWF", "WUTF", "RSF"
// and "DBP".
func (c *Chip) Stick(flag string) {
	c.stuck[flag] = true
}

// Log returns the ordered list of writes and clock controller operations.
func (c *Chip) Log() []string {
	return append([]string(nil), c.log...)
}

// ResetLog clears the log and the violations.
func (c *Chip) ResetLog() {
	c.log = nil
	c.violations = nil
}

// Violations returns the writes the hardware would have ignored.
func (c *Chip) Violations() []string {
	return append([]string(nil), c.violations...)
}

// Locked reports whether the RTC registers are write protected.
func (c *Chip) Locked() bool {
	return c.wp != 2
}

// InInit reports whether the initialization mode is requested.
func (c *Chip) InInit() bool {
	return c.regs[stm32rtc.ISR]&stm32rtc.ISR_INIT != 0
}

// Raw returns a register without the side effects of a read.
func (c *Chip) Raw(r stm32rtc.Register) uint32 {
	return c.regs[r]
}

// Poke writes a register bypassing every protection, as a corrupted backup domain would look.
func (c *Chip) Poke(r stm32rtc.Register, v uint32) {
	c.regs[r] = v
}

// RTCClock implements stm32rtc.ClockControl.
func (c *Chip) RTCClock() (stm32rtc.Oscillator, bool) {
	return c.rtcsel, c.rtcsel != 0
}

func (c *Chip) record(format string, args ...interface{}) {
	c.log = append(c.log, fmt.Sprintf(format, args...))
}

func (c *Chip) violate(format string, args ...interface{}) {
	c.violations = append(c.violations, fmt.Sprintf(format, args...))
}

// Calendar returns the simulated date and time.
func (c *Chip) Calendar() time.Time {
	tr, dr := c.regs[stm32rtc.TR], c.regs[stm32rtc.DR]
	return time.Date(
		2000+int(bcd.Decode(uint8(dr>>stm32rtc.DR_YU_Pos))),
		time.Month(bcd.Decode(uint8(dr>>stm32rtc.DR_MU_Pos)&0x1F)),
		int(bcd.Decode(uint8(dr>>stm32rtc.DR_DU_Pos)&0x3F)),
		int(bcd.Decode(uint8(tr>>stm32rtc.TR_HU_Pos)&0x3F)),
		int(bcd.Decode(uint8(tr>>stm32rtc.TR_MNU_Pos)&0x7F)),
		int(bcd.Decode(uint8(tr>>stm32rtc.TR_SU_Pos)&0x7F)),
		0, time.UTC)
}

// SetCalendar sets the simulated date and time directly. Years outside 2000-2099 wrap.
func (c *Chip) SetCalendar(t time.Time) {
	t = t.UTC()
	wd := uint32(t.Weekday())
	if wd == 0 {
		wd = 7
	}
	c.regs[stm32rtc.TR] = uint32(bcd.MustEncode(uint8(t.Hour())))<<stm32rtc.TR_HU_Pos |
		uint32(bcd.MustEncode(uint8(t.Minute())))<<stm32rtc.TR_MNU_Pos |
		uint32(bcd.MustEncode(uint8(t.Second())))<<stm32rtc.TR_SU_Pos
	c.regs[stm32rtc.DR] = uint32(bcd.MustEncode(uint8(t.Year()%100)))<<stm32rtc.DR_YU_Pos |
		wd<<stm32rtc.DR_WDU_Pos |
		uint32(bcd.MustEncode(uint8(t.Month())))<<stm32rtc.DR_MU_Pos |
		uint32(bcd.MustEncode(uint8(t.Day())))<<stm32rtc.DR_DU_Pos
}

// Get implements stm32rtc.Registers.
func (c *Chip) Get(r stm32rtc.Register) uint32 {
	switch r {
	case stm32rtc.ISR:
		c.updateISR()
	}
	return c.regs[r]
}

func (c *Chip) updateISR() {
	isr := c.regs[stm32rtc.ISR]

	if isr&stm32rtc.ISR_INIT != 0 && isr&stm32rtc.ISR_INITF == 0 && !c.stuck["INITF"] {
		c.initPolls++
		if c.initPolls > c.InitDelay {
			isr |= stm32rtc.ISR_INITF
		}
	}

	if c.regs[stm32rtc.CR]&stm32rtc.CR_WUTE == 0 && isr&stm32rtc.ISR_WUTWF == 0 && !c.stuck["WUTWF"] {
		c.wutwfPolls++
		if c.wutwfPolls > c.WUTWFDelay {
			isr |= stm32rtc.ISR_WUTWF
		}
	}

	if c.syncing && isr&stm32rtc.ISR_INIT == 0 && !c.stuck["RSF"] {
		c.syncPolls++
		if c.syncPolls > c.SyncDelay {
			c.syncing = false
			isr |= stm32rtc.ISR_RSF
		}
	}

	if c.armed && !c.stuck["WUTF"] {
		c.wakePolls++
		if c.wakePolls > c.WakeupDelay {
			c.armed = false
			isr |= stm32rtc.ISR_WUTF
			c.regs[stm32rtc.ISR] = isr
			c.advance(c.wakeupInterval())
			isr = c.regs[stm32rtc.ISR]
		}
	}

	c.regs[stm32rtc.ISR] = isr
}

// wakeupInterval returns the programmed wake-up period.
func (c *Chip) wakeupInterval() time.Duration {
	cr := c.regs[stm32rtc.CR]
	n := time.Duration(c.regs[stm32rtc.WUTR]&stm32rtc.WUTR_WUT_Msk) + 1
	sel := stm32rtc.WakeupDivision((cr & stm32rtc.CR_WUCKSEL_Msk) >> stm32rtc.CR_WUCKSEL_Pos)
	switch {
	case sel&0b110 == 0b110:
		return (n + 1<<16) * time.Second
	case sel&0b100 != 0:
		return n * time.Second
	}
	f := time.Duration(c.sourceFrequency())
	if f == 0 {
		return 0
	}
	div := time.Duration(16 >> sel)
	return n * div * time.Second / f
}

func (c *Chip) sourceFrequency() uint32 {
	switch c.rtcsel {
	case stm32rtc.LSI:
		return stm32rtc.LSIFrequency
	case stm32rtc.LSE:
		return stm32rtc.LSEFrequency
	case stm32rtc.HSE:
		return c.HSEFrequency / stm32rtc.HSEDivider
	}
	return 0
}

// advance moves the calendar forward by whole seconds.
func (c *Chip) advance(d time.Duration) {
	if d < time.Second {
		return
	}
	c.SetCalendar(c.Calendar().Add(d.Truncate(time.Second)))
}

// Set implements stm32rtc.Registers.
func (c *Chip) Set(r stm32rtc.Register, v uint32) {
	c.record("RTC.%s <- 0x%08X", r, v)
	if !c.rtcen {
		c.violate("%s written while the RTC clock is disabled", r)
		return
	}

	switch r {
	case stm32rtc.WPR:
		switch {
		case v&0xFF == stm32rtc.UnlockKey1:
			c.wp = 1
		case v&0xFF == stm32rtc.UnlockKey2 && c.wp == 1:
			c.wp = 2
		default:
			c.wp = 0
		}
		return

	case stm32rtc.ISR:
		c.writeISR(v)
		return

	case stm32rtc.SSR:
		c.violate("SSR is read only")
		return
	}

	if c.Locked() {
		c.violate("%s written while write protected", r)
		return
	}

	isr := c.regs[stm32rtc.ISR]
	switch r {
	case stm32rtc.TR, stm32rtc.DR, stm32rtc.PRER:
		if isr&stm32rtc.ISR_INITF == 0 {
			c.violate("%s written outside initialization mode", r)
			return
		}
		switch r {
		case stm32rtc.TR:
			v &= stm32rtc.TR_Msk
			c.calWrite = true
		case stm32rtc.DR:
			v &= stm32rtc.DR_Msk
			c.calWrite = true
		case stm32rtc.PRER:
			v &= stm32rtc.PRER_PREDIV_A_Msk | stm32rtc.PRER_PREDIV_S_Msk
			// the sub-second counter reloads from PREDIV_S
			c.regs[stm32rtc.SSR] = v & stm32rtc.PRER_PREDIV_S_Msk
		}

	case stm32rtc.WUTR:
		if isr&stm32rtc.ISR_WUTWF == 0 {
			c.violate("WUTR written while the wake-up timer is enabled")
			return
		}
		v &= stm32rtc.WUTR_WUT_Msk

	case stm32rtc.CR:
		old := c.regs[stm32rtc.CR]
		if (old^v)&stm32rtc.CR_WUCKSEL_Msk != 0 && isr&stm32rtc.ISR_WUTWF == 0 {
			c.violate("WUCKSEL changed while the wake-up timer is enabled")
			v = v&^stm32rtc.CR_WUCKSEL_Msk | old&stm32rtc.CR_WUCKSEL_Msk
		}
		switch {
		case old&stm32rtc.CR_WUTE == 0 && v&stm32rtc.CR_WUTE != 0:
			c.armed = true
			c.wakePolls = 0
			c.regs[stm32rtc.ISR] &^= stm32rtc.ISR_WUTWF
		case old&stm32rtc.CR_WUTE != 0 && v&stm32rtc.CR_WUTE == 0:
			c.armed = false
			c.wutwfPolls = 0
		}
	}
	c.regs[r] = v
}

func (c *Chip) writeISR(v uint32) {
	isr := c.regs[stm32rtc.ISR]

	// WUTF sits in the unprotected flag byte
	if v&stm32rtc.ISR_WUTF == 0 {
		isr &^= stm32rtc.ISR_WUTF
	}
	if isr&stm32rtc.ISR_RSF != 0 && v&stm32rtc.ISR_RSF == 0 {
		if c.Locked() {
			c.violate("ISR.RSF cleared while write protected")
		} else {
			isr &^= stm32rtc.ISR_RSF
			c.syncing = true
			c.syncPolls = 0
		}
	}

	if (isr^v)&stm32rtc.ISR_INIT != 0 {
		switch {
		case c.Locked():
			c.violate("ISR.INIT changed while write protected")
		case v&stm32rtc.ISR_INIT != 0:
			isr |= stm32rtc.ISR_INIT
			c.initPolls = 0
			c.calWrite = false
		default:
			isr &^= stm32rtc.ISR_INIT | stm32rtc.ISR_INITF
			// the shadow registers are reloaded on leaving initialization
			isr |= stm32rtc.ISR_RSF
			c.syncing = false
			if c.calWrite {
				if c.regs[stm32rtc.DR]>>stm32rtc.DR_YU_Pos&0xFF != 0 {
					isr |= stm32rtc.ISR_INITS
				}
			}
		}
	}
	c.regs[stm32rtc.ISR] = isr
}

// EnableBackupAccess implements stm32rtc.Power.
func (c *Chip) EnableBackupAccess() {
	c.record("PWR.DBP")
	if !c.pwren {
		c.violate("PWR written while its clock is disabled")
		return
	}
	c.dbp = true
}

// BackupAccessEnabled implements stm32rtc.Power.
func (c *Chip) BackupAccessEnabled() bool {
	return c.dbp && !c.stuck["DBP"]
}

// EnablePowerInterface implements stm32rtc.ClockControl.
func (c *Chip) EnablePowerInterface() {
	c.record("RCC.PWREN")
	c.pwren = true
}

// EnableOscillator implements stm32rtc.ClockControl.
func (c *Chip) EnableOscillator(osc stm32rtc.Oscillator, bypass bool) {
	if bypass {
		c.record("RCC.%sON bypass", osc)
	} else {
		c.record("RCC.%sON", osc)
	}
	if osc == stm32rtc.LSE && !c.dbp {
		c.violate("LSEON written without backup domain access")
		return
	}
	if !c.osc[osc] {
		c.osc[osc] = true
		c.ready[osc] = 0
	}
}

// OscillatorReady implements stm32rtc.ClockControl.
func (c *Chip) OscillatorReady(osc stm32rtc.Oscillator) bool {
	if !c.osc[osc] || c.stuck[osc.String()+"RDY"] {
		return false
	}
	c.ready[osc]++
	return c.ready[osc] > c.ReadyDelay
}

// ResetBackupDomain implements stm32rtc.ClockControl. The calendar is lost and the LSE, which lives in the backup
// domain, stops.
func (c *Chip) ResetBackupDomain() {
	c.record("RCC.BDRST")
	if !c.dbp {
		c.violate("BDRST written without backup domain access")
		return
	}
	c.resetRTC()
	delete(c.osc, stm32rtc.LSE)
}

// OscillatorOn reports whether osc was enabled and not stopped since.
func (c *Chip) OscillatorOn(osc stm32rtc.Oscillator) bool {
	return c.osc[osc]
}

// SelectRTCClock implements stm32rtc.ClockControl.
func (c *Chip) SelectRTCClock(osc stm32rtc.Oscillator) {
	c.record("RCC.RTCSEL %s", osc)
	switch {
	case !c.dbp:
		c.violate("RTCSEL written without backup domain access")
	case c.rtcsel != 0 && c.rtcsel != osc:
		c.violate("RTCSEL changed without a backup domain reset")
	default:
		c.rtcsel = osc
	}
}

// EnableRTC implements stm32rtc.ClockControl.
func (c *Chip) EnableRTC() {
	c.record("RCC.RTCEN")
	if !c.dbp {
		c.violate("RTCEN written without backup domain access")
		return
	}
	c.rtcen = true
}
