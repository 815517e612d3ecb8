//go:build tinygo && stm32f3

package stm32rtc

import (
	"runtime/interrupt"
	"runtime/volatile"
	"unsafe"
)

const (
	rtcBase = 0x40002800
	pwrBase = 0x40007000
	rccBase = 0x40021000
)

// RCC and PWR bits used by the RTC.
const (
	rccCR      = rccBase + 0x00
	rccAPB1ENR = rccBase + 0x1C
	rccBDCR    = rccBase + 0x20
	rccCSR     = rccBase + 0x24
	pwrCR      = pwrBase + 0x00

	rccCR_HSEON  = 1 << 16
	rccCR_HSERDY = 1 << 17
	rccCR_HSEBYP = 1 << 18

	rccAPB1ENR_PWREN = 1 << 28

	rccBDCR_LSEON      = 1 << 0
	rccBDCR_LSERDY     = 1 << 1
	rccBDCR_LSEBYP     = 1 << 2
	rccBDCR_RTCSEL_Pos = 8
	rccBDCR_RTCSEL_Msk = 0x3 << rccBDCR_RTCSEL_Pos
	rccBDCR_RTCEN      = 1 << 15
	rccBDCR_BDRST      = 1 << 16

	rccCSR_LSION  = 1 << 0
	rccCSR_LSIRDY = 1 << 1

	pwrCR_DBP = 1 << 8
)

// The wake-up event reaches the NVIC through EXTI line 20.
const (
	extiBase  = 0x40010400
	extiIMR1  = extiBase + 0x00
	extiRTSR1 = extiBase + 0x08
	extiPR1   = extiBase + 0x14

	extiLineWakeup = 1 << 20

	irqRTCWakeup = 3 // RTC_WKUP
)

func reg(addr uintptr) *volatile.Register32 {
	return (*volatile.Register32)(unsafe.Pointer(addr))
}

type hwRegisters struct{}

func (hwRegisters) Get(r Register) uint32 {
	return reg(rtcBase + uintptr(r)).Get()
}

func (hwRegisters) Set(r Register, value uint32) {
	reg(rtcBase + uintptr(r)).Set(value)
}

// RTC is the on-chip RTC register block. Take it once and pass it to New.
var RTC = NewHandle(hwRegisters{})

// PWR implements Power on the on-chip power controller.
var PWR Power = hwPower{}

// RCC implements ClockControl on the on-chip reset and clock controller.
var RCC ClockControl = hwClock{}

type hwPower struct{}

func (hwPower) EnableBackupAccess() {
	reg(pwrCR).SetBits(pwrCR_DBP)
}

func (hwPower) BackupAccessEnabled() bool {
	return reg(pwrCR).HasBits(pwrCR_DBP)
}

type hwClock struct{}

func (hwClock) EnablePowerInterface() {
	reg(rccAPB1ENR).SetBits(rccAPB1ENR_PWREN)
}

func (hwClock) EnableOscillator(osc Oscillator, bypass bool) {
	switch osc {
	case LSI:
		reg(rccCSR).SetBits(rccCSR_LSION)
	case LSE:
		// LSEBYP may only be changed while LSEON is clear
		bdcr := reg(rccBDCR)
		if bdcr.HasBits(rccBDCR_LSEON) && bdcr.HasBits(rccBDCR_LSEBYP) == bypass {
			return
		}
		bdcr.ClearBits(rccBDCR_LSEON)
		if bypass {
			bdcr.SetBits(rccBDCR_LSEBYP)
		} else {
			bdcr.ClearBits(rccBDCR_LSEBYP)
		}
		bdcr.SetBits(rccBDCR_LSEON)
	case HSE:
		cr := reg(rccCR)
		if cr.HasBits(rccCR_HSEON) {
			// already running as system clock source, leave it alone
			return
		}
		if bypass {
			cr.SetBits(rccCR_HSEBYP)
		} else {
			cr.ClearBits(rccCR_HSEBYP)
		}
		cr.SetBits(rccCR_HSEON)
	}
}

func (hwClock) OscillatorReady(osc Oscillator) bool {
	switch osc {
	case LSI:
		return reg(rccCSR).HasBits(rccCSR_LSIRDY)
	case LSE:
		return reg(rccBDCR).HasBits(rccBDCR_LSERDY)
	case HSE:
		return reg(rccCR).HasBits(rccCR_HSERDY)
	}
	return false
}

// RTCSEL values
var rtcsel = [...]Oscillator{1: LSE, 2: LSI, 3: HSE}

func (hwClock) RTCClock() (Oscillator, bool) {
	sel := (reg(rccBDCR).Get() & rccBDCR_RTCSEL_Msk) >> rccBDCR_RTCSEL_Pos
	if sel == 0 {
		return 0, false
	}
	return rtcsel[sel], true
}

// ResetBackupDomain pulses BDRST. The reset also stops the LSE.
func (hwClock) ResetBackupDomain() {
	bdcr := reg(rccBDCR)
	bdcr.SetBits(rccBDCR_BDRST)
	bdcr.ClearBits(rccBDCR_BDRST)
}

func (hwClock) SelectRTCClock(osc Oscillator) {
	var sel uint32
	for i, o := range rtcsel {
		if o == osc && i != 0 {
			sel = uint32(i)
		}
	}
	bdcr := reg(rccBDCR)
	bdcr.Set(bdcr.Get()&^rccBDCR_RTCSEL_Msk | sel<<rccBDCR_RTCSEL_Pos)
}

func (hwClock) EnableRTC() {
	reg(rccBDCR).SetBits(rccBDCR_RTCEN)
}

var wakeupHandler func()

// SetWakeupHandler calls fn from the RTC_WKUP interrupt on every wake-up event. The wake-up flag is cleared after fn
// returned. The interrupt only fires when the timer was enabled with WakeupConfig.Interrupt. A nil fn masks the
// event again.
func SetWakeupHandler(fn func()) {
	intr := interrupt.New(irqRTCWakeup, handleWakeup)
	if fn == nil {
		intr.Disable()
		reg(extiIMR1).ClearBits(extiLineWakeup)
		wakeupHandler = nil
		return
	}
	wakeupHandler = fn
	reg(extiRTSR1).SetBits(extiLineWakeup)
	reg(extiIMR1).SetBits(extiLineWakeup)
	intr.Enable()
}

func handleWakeup(interrupt.Interrupt) {
	if wakeupHandler != nil {
		wakeupHandler()
	}
	clearWakeupFlag(hwRegisters{})
	// pending bits are cleared by writing 1
	reg(extiPR1).Set(extiLineWakeup)
}
