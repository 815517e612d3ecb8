package stm32rtc

// Registers gives access to the RTC register block. Reads are never write protected; writes to protected registers are
// only effective between an unlock and a lock.
type Registers interface {
	Get(r Register) uint32
	Set(r Register, value uint32)
}

// Power is the part of the power controller the RTC needs.
type Power interface {
	// EnableBackupAccess lifts the write protection of the backup domain (DBP bit).
	EnableBackupAccess()
	BackupAccessEnabled() bool
}

// ClockControl is the part of the reset and clock controller the RTC needs.
type ClockControl interface {
	// EnablePowerInterface gates the clock of the power controller so Power can be used.
	EnablePowerInterface()
	EnableOscillator(osc Oscillator, bypass bool)
	OscillatorReady(osc Oscillator) bool
	// RTCClock returns the oscillator currently routed to the RTC, if any.
	RTCClock() (Oscillator, bool)
	// ResetBackupDomain pulses the backup domain reset. The RTC clock mux can only be changed after it, and the
	// calendar is lost.
	ResetBackupDomain()
	SelectRTCClock(osc Oscillator)
	EnableRTC()
}

// Handle guards a register block so it is handed out to a single owner.
type Handle struct {
	regs  Registers
	taken bool
}

// NewHandle wraps regs.
func NewHandle(regs Registers) *Handle {
	return &Handle{regs: regs}
}

// Take returns the register block. Every call after the first returns ErrAlreadyTaken.
func (h *Handle) Take() (Registers, error) {
	if h.taken {
		return nil, ErrAlreadyTaken
	}
	h.taken = true
	return h.regs, nil
}
