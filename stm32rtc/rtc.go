// Package stm32rtc implements a driver for the Real-Time Clock peripheral of the STM32F3 series. It selects the RTC
// clock source and prescalers, reads and writes the BCD calendar registers and offers a blocking delay built on the
// periodic wake-up timer. Alarms, time stamps, tamper detection and daylight saving are not implemented.
//
// Reference manual: https://www.st.com/resource/en/reference_manual/rm0316.pdf (chapter 27)
package stm32rtc

import (
	"strconv"
	"time"
)

// DefaultPollLimit bounds every busy wait on a hardware flag.
const DefaultPollLimit = 0x10000

type logger interface {
	Println(string) error
}

// Log receives progress messages when set.
var Log logger

func l(msg string) {
	if Log != nil {
		Log.Println(msg)
	}
}

type state uint8

const (
	unconfigured state = iota
	running
)

// Device drives an RTC register block. It is not safe for concurrent use.
type Device struct {
	regs Registers

	source     ClockSource
	prescalers Prescalers
	custom     bool // prescalers were set by the user

	pollLimit    int
	wakeupMargin time.Duration

	state state
}

// Config holds the optional settings of a Device. Zero values select the defaults.
type Config struct {
	// Source defaults to InternalLowSpeed.
	Source ClockSource
	// Prescalers, when non-nil, replaces the pair computed for Source. It is not checked against the source frequency.
	Prescalers *Prescalers
	// PollLimit bounds the polls on oscillator ready, initialization mode and wake-up write flags.
	PollLimit int
	// WakeupMargin is added to the expected wake-up interval before Delay gives up. Defaults to one second.
	WakeupMargin time.Duration
}

// New creates a driver for regs. It does not touch the hardware; call StartClock for that.
func New(regs Registers) *Device {
	d := &Device{
		regs:         regs,
		source:       InternalLowSpeed(),
		pollLimit:    DefaultPollLimit,
		wakeupMargin: time.Second,
	}
	d.prescalers, _ = DefaultPrescalers(d.source.Frequency())
	return d
}

// Configure applies c to a device that was not started yet.
func (d *Device) Configure(c Config) error {
	if d.state == running {
		return ErrRunning
	}
	if c.Source != (ClockSource{}) {
		if err := d.SetClockSource(c.Source); err != nil {
			return err
		}
	}
	if c.Prescalers != nil {
		if err := d.SetPrescalers(*c.Prescalers); err != nil {
			return err
		}
	}
	if c.PollLimit > 0 {
		d.pollLimit = c.PollLimit
	}
	if c.WakeupMargin > 0 {
		d.wakeupMargin = c.WakeupMargin
	}
	return nil
}

// SetClockSource selects the oscillator used by StartClock. Unless SetPrescalers was called, the prescalers are
// recomputed for the new source. Nothing is written to the hardware.
func (d *Device) SetClockSource(s ClockSource) error {
	if d.state == running {
		return ErrRunning
	}
	if err := s.validate(); err != nil {
		return err
	}
	if !d.custom {
		p, err := DefaultPrescalers(s.Frequency())
		if err != nil {
			return err
		}
		d.prescalers = p
	}
	d.source = s
	return nil
}

// SetPrescalers overrides the default prescalers. The caller is responsible for the pair dividing the source down to
// 1 Hz; only the register ranges are checked.
func (d *Device) SetPrescalers(p Prescalers) error {
	if d.state == running {
		return ErrRunning
	}
	if err := p.validate(); err != nil {
		return err
	}
	d.prescalers = p
	d.custom = true
	return nil
}

// ClockSource returns the selected clock source.
func (d *Device) ClockSource() ClockSource { return d.source }

// Prescalers returns the prescalers written by StartClock.
func (d *Device) Prescalers() Prescalers { return d.prescalers }

// Running reports whether StartClock succeeded.
func (d *Device) Running() bool { return d.state == running }

// StartClock powers the backup domain, starts the selected oscillator, routes it to the RTC and programs the
// prescalers. The device is only usable after it returned nil. When the RTC runs from another oscillator, the backup
// domain is reset before the new one is started, losing the calendar.
func (d *Device) StartClock(pwr Power, rcc ClockControl) error {
	d.state = unconfigured
	osc := d.source.Oscillator()

	rcc.EnablePowerInterface()
	pwr.EnableBackupAccess()
	if err := d.poll("DBP", pwr.BackupAccessEnabled); err != nil {
		return err
	}

	if cur, ok := rcc.RTCClock(); ok && cur != osc {
		// the mux is locked until the backup domain is reset, which also stops the LSE
		l("rtc: resetting backup domain to switch from " + cur.String())
		rcc.ResetBackupDomain()
	}

	rcc.EnableOscillator(osc, d.source.Bypass())
	if err := d.poll(osc.String()+"RDY", func() bool { return rcc.OscillatorReady(osc) }); err != nil {
		return err
	}
	l("rtc: " + d.source.String() + " ready")

	rcc.SelectRTCClock(osc)
	rcc.EnableRTC()

	err := d.modify(func() {
		p := d.prescalers
		// PREDIV_S first, PREDIV_A last
		prer := d.regs.Get(PRER) &^ PRER_PREDIV_S_Msk
		d.regs.Set(PRER, prer|uint32(p.Sync)<<PRER_PREDIV_S_Pos)
		d.regs.Set(PRER, uint32(p.Async)<<PRER_PREDIV_A_Pos|uint32(p.Sync)<<PRER_PREDIV_S_Pos)
		d.regs.Set(CR, d.regs.Get(CR)&^CR_FMT)
	})
	if err != nil {
		return err
	}
	d.state = running
	l("rtc: running, prescalers " + strconv.Itoa(int(d.prescalers.Async)) + "/" + strconv.Itoa(int(d.prescalers.Sync)))
	return nil
}

// Reconfigure switches a running device to another clock source and restarts it. The default prescalers for the new
// source are used unless SetPrescalers was called before.
func (d *Device) Reconfigure(s ClockSource, pwr Power, rcc ClockControl) error {
	if err := s.validate(); err != nil {
		return err
	}
	d.state = unconfigured
	if err := d.SetClockSource(s); err != nil {
		return err
	}
	return d.StartClock(pwr, rcc)
}

// Initialized reports whether the calendar was set since the last backup domain reset.
func (d *Device) Initialized() bool {
	return d.regs.Get(ISR)&ISR_INITS != 0
}

// SetTime writes t to the calendar. The date is unchanged.
func (d *Device) SetTime(t Time) error {
	if d.state != running {
		return ErrNotRunning
	}
	tr, err := t.register()
	if err != nil {
		return err
	}
	return d.modify(func() {
		d.regs.Set(TR, tr)
	})
}

// Time reads the time of day from the shadow register. Right after a calendar write or a wake-up from a low-power
// mode the shadow registers may still hold the old value, call WaitSync first in that case.
func (d *Device) Time() (Time, error) {
	if d.state != running {
		return Time{}, ErrNotRunning
	}
	return timeFromRegister(d.regs.Get(TR))
}

// SetDate writes dt to the calendar. The time is unchanged.
func (d *Device) SetDate(dt Date) error {
	if d.state != running {
		return ErrNotRunning
	}
	dr, err := dt.register()
	if err != nil {
		return err
	}
	return d.modify(func() {
		d.regs.Set(DR, dr)
	})
}

// Date reads the calendar date from the shadow register. See Time about stale values.
func (d *Device) Date() (Date, error) {
	if d.state != running {
		return Date{}, ErrNotRunning
	}
	return dateFromRegister(d.regs.Get(DR))
}

// Set writes both date and time of t, truncated to the second. t is used as is, convert it to the wanted location
// first.
func (d *Device) Set(t time.Time) error {
	if d.state != running {
		return ErrNotRunning
	}
	dt, err := NewDate(t.Day(), int(t.Month()), t.Year())
	if err != nil {
		return err
	}
	tm, err := NewTime(t.Hour(), t.Minute(), t.Second())
	if err != nil {
		return err
	}
	tr, err := tm.register()
	if err != nil {
		return err
	}
	dr, err := dt.register()
	if err != nil {
		return err
	}
	return d.modify(func() {
		d.regs.Set(TR, tr)
		d.regs.Set(DR, dr)
	})
}

// Now reads date and time as a time.Time in UTC, including the sub-second part. See Time about stale values.
func (d *Device) Now() (time.Time, error) {
	if d.state != running {
		return time.Time{}, ErrNotRunning
	}
	// reading TR freezes DR until DR is read
	ssr := d.regs.Get(SSR)
	tr := d.regs.Get(TR)
	dr := d.regs.Get(DR)
	tm, err := timeFromRegister(tr)
	if err != nil {
		return time.Time{}, err
	}
	dt, err := dateFromRegister(dr)
	if err != nil {
		return time.Time{}, err
	}
	ns := d.subseconds(ssr)
	return time.Date(int(dt.Year), time.Month(dt.Month), int(dt.Day),
		int(tm.Hour), int(tm.Minute), int(tm.Second), int(ns), time.UTC), nil
}

// WaitSync clears the registers synchronization flag and waits until the calendar shadow registers were reloaded
// from the counters.
func (d *Device) WaitSync() error {
	if d.state != running {
		return ErrNotRunning
	}
	return d.unlocked(func() error {
		d.regs.Set(ISR, d.regs.Get(ISR)&^ISR_RSF)
		return d.poll("RSF", func() bool { return d.regs.Get(ISR)&ISR_RSF != 0 })
	})
}

// Millis returns the milliseconds elapsed in the current second.
func (d *Device) Millis() (uint32, error) {
	if d.state != running {
		return 0, ErrNotRunning
	}
	return d.fraction(d.regs.Get(SSR)) * 1000 / (uint32(d.prescalers.Sync) + 1), nil
}

// Subseconds returns the time elapsed in the current second, at the resolution of the sync prescaler.
func (d *Device) Subseconds() (time.Duration, error) {
	if d.state != running {
		return 0, ErrNotRunning
	}
	return d.subseconds(d.regs.Get(SSR)), nil
}

func (d *Device) subseconds(ssr uint32) time.Duration {
	return time.Duration(d.fraction(ssr)) * time.Second / time.Duration(uint32(d.prescalers.Sync)+1)
}

// fraction converts the down counting sub-second register into sync prescaler ticks since the last second.
func (d *Device) fraction(ssr uint32) uint32 {
	ss := ssr & SSR_SS_Msk
	s := uint32(d.prescalers.Sync)
	if ss > s {
		// a shift operation is in progress, the counter can exceed PREDIV_S
		return 0
	}
	return s - ss
}

// modify runs fn with the write protection lifted and the calendar in initialization mode. Write protection and
// initialization mode are restored on every return path.
func (d *Device) modify(fn func()) error {
	return d.unlocked(func() error {
		d.regs.Set(ISR, d.regs.Get(ISR)|ISR_INIT)
		defer func() {
			d.regs.Set(ISR, d.regs.Get(ISR)&^ISR_INIT)
		}()
		if err := d.poll("INITF", func() bool { return d.regs.Get(ISR)&ISR_INITF != 0 }); err != nil {
			return err
		}
		fn()
		return nil
	})
}

// unlocked runs fn between the unlock key sequence and the lock key.
func (d *Device) unlocked(fn func() error) error {
	d.regs.Set(WPR, UnlockKey1)
	d.regs.Set(WPR, UnlockKey2)
	defer d.regs.Set(WPR, LockKey)
	return fn()
}

// poll waits until ready returns true, at most pollLimit times.
func (d *Device) poll(flag string, ready func() bool) error {
	for i := 0; i < d.pollLimit; i++ {
		if ready() {
			return nil
		}
	}
	l("rtc: timeout waiting for " + flag)
	return &TimeoutError{Flag: flag, Polls: d.pollLimit}
}
