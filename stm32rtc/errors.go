package stm32rtc

import (
	"errors"
	"fmt"
)

var (
	// ErrNotRunning is returned by calendar and wake-up operations before StartClock succeeded.
	ErrNotRunning = errors.New("stm32rtc: clock not started")
	// ErrRunning is returned when trying to change the clock configuration of a started device. Use Reconfigure.
	ErrRunning = errors.New("stm32rtc: clock already running")
	// ErrAlreadyTaken is returned when a register block is taken a second time.
	ErrAlreadyTaken = errors.New("stm32rtc: peripheral already taken")
)

// RangeError reports a time or date field outside its valid range. Nothing is written to the peripheral when it is
// returned.
type RangeError struct {
	Field string
	Value int
	Min   int
	Max   int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("stm32rtc: %s %d out of range %d-%d", e.Field, e.Value, e.Min, e.Max)
}

// ConfigurationError reports unsupported clock source or prescaler parameters.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "stm32rtc: invalid configuration: " + e.Reason
}

// TimeoutError reports a hardware flag that did not reach the expected state within the poll bound. It covers
// oscillator start-up, initialization mode entry and the wake-up timer flags.
type TimeoutError struct {
	Flag  string
	Polls int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("stm32rtc: timeout waiting for %s after %d polls", e.Flag, e.Polls)
}

func checkRange(field string, v, min, max int) error {
	if v < min || v > max {
		return &RangeError{Field: field, Value: v, Min: min, Max: max}
	}
	return nil
}
