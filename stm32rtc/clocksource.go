package stm32rtc

import "strconv"

// Oscillator identifies one of the clocks that can drive the RTC.
type Oscillator uint8

const (
	LSI Oscillator = iota + 1 // internal low speed RC oscillator
	LSE                       // external low speed crystal
	HSE                       // external high speed crystal, divided by 32
)

func (o Oscillator) String() string {
	switch o {
	case LSI:
		return "LSI"
	case LSE:
		return "LSE"
	case HSE:
		return "HSE"
	}
	return "none"
}

const (
	LSIFrequency = 40000
	LSEFrequency = 32768

	// HSEDivider is the fixed divider between the HSE line and the RTC clock mux.
	HSEDivider = 32
	// MaxHSEFrequency is the highest HSE input accepted as RTC clock.
	MaxHSEFrequency = 12000000
	// MaxRTCClock is the highest frequency the RTC kernel clock may run at.
	MaxRTCClock = 1000000
)

// ClockSource selects the oscillator feeding the RTC. Build it with InternalLowSpeed, ExternalLowSpeed or
// ExternalHighSpeed; the zero value is not a valid source.
type ClockSource struct {
	osc       Oscillator
	bypass    bool
	frequency uint32
}

// InternalLowSpeed uses the internal ~40 kHz RC oscillator. It is always available but can be off by tens of percent.
func InternalLowSpeed() ClockSource {
	return ClockSource{osc: LSI, frequency: LSIFrequency}
}

// ExternalLowSpeed uses a 32.768 kHz crystal, or an external clock on OSC32_IN when bypass is set.
func ExternalLowSpeed(bypass bool) ClockSource {
	return ClockSource{osc: LSE, bypass: bypass, frequency: LSEFrequency}
}

// ExternalHighSpeed uses the HSE line running at frequency Hz, divided by HSEDivider. The frequency is checked by
// SetClockSource.
func ExternalHighSpeed(frequency uint32, bypass bool) ClockSource {
	return ClockSource{osc: HSE, bypass: bypass, frequency: frequency}
}

// Oscillator returns the selected oscillator.
func (s ClockSource) Oscillator() Oscillator { return s.osc }

// Bypass reports whether the oscillator is bypassed by an external clock signal.
func (s ClockSource) Bypass() bool { return s.bypass }

// Frequency returns the clock frequency as seen by the RTC prescalers.
func (s ClockSource) Frequency() uint32 {
	if s.osc == HSE {
		return s.frequency / HSEDivider
	}
	return s.frequency
}

func (s ClockSource) String() string {
	str := s.osc.String()
	if s.osc == HSE {
		str += "(" + strconv.FormatUint(uint64(s.frequency), 10) + " Hz)"
	}
	if s.bypass {
		str += " bypass"
	}
	return str
}

func (s ClockSource) validate() error {
	switch s.osc {
	case LSI, LSE:
		return nil
	case HSE:
		switch {
		case s.frequency == 0:
			return &ConfigurationError{Reason: "HSE frequency not set"}
		case s.frequency > MaxHSEFrequency:
			return &ConfigurationError{Reason: "HSE frequency " + hz(s.frequency) + " above " + hz(MaxHSEFrequency)}
		case s.frequency%HSEDivider != 0:
			return &ConfigurationError{Reason: "HSE frequency " + hz(s.frequency) + " not divisible by " + strconv.Itoa(HSEDivider)}
		case s.Frequency() > MaxRTCClock:
			return &ConfigurationError{Reason: "RTC clock " + hz(s.Frequency()) + " above " + hz(MaxRTCClock)}
		}
		_, err := DefaultPrescalers(s.Frequency())
		return err
	}
	return &ConfigurationError{Reason: "no oscillator selected"}
}

func hz(f uint32) string {
	return strconv.FormatUint(uint64(f), 10) + " Hz"
}

// Prescalers holds the register values of the two cascaded RTC dividers. The calendar ticks at
// f / ((Async+1) * (Sync+1)) Hz.
type Prescalers struct {
	Async uint8  // 0-127
	Sync  uint16 // 0-32767
}

const (
	MaxAsyncPrescaler = 127
	MaxSyncPrescaler  = 32767
)

func (p Prescalers) validate() error {
	if p.Async > MaxAsyncPrescaler {
		return &ConfigurationError{Reason: "async prescaler " + strconv.Itoa(int(p.Async)) + " above 127"}
	}
	if p.Sync > MaxSyncPrescaler {
		return &ConfigurationError{Reason: "sync prescaler " + strconv.Itoa(int(p.Sync)) + " above 32767"}
	}
	return nil
}

// Divides returns the total division ratio.
func (p Prescalers) Divides() uint32 {
	return (uint32(p.Async) + 1) * (uint32(p.Sync) + 1)
}

// DefaultPrescalers returns the prescaler pair dividing f Hz down to exactly 1 Hz. The asynchronous divider is kept as
// large as possible, which lowers power consumption. f = 32768 gives Async 127, Sync 255.
func DefaultPrescalers(f uint32) (Prescalers, error) {
	for a := uint32(MaxAsyncPrescaler + 1); a > 0; a-- {
		if f%a != 0 {
			continue
		}
		s := f / a
		if s == 0 || s > MaxSyncPrescaler+1 {
			continue
		}
		return Prescalers{Async: uint8(a - 1), Sync: uint16(s - 1)}, nil
	}
	return Prescalers{}, &ConfigurationError{Reason: "no prescaler pair divides " + hz(f) + " to 1 Hz"}
}
