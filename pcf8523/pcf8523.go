// Package pcf8523 implements a driver for the PCF8523 Real-Time Clock (RTC), providing basic read-write of the current
// time only. The PCF8523 itself supports alarms, clock drift compensation, and timer interrupts, but those features
// remain unimplemented.
//
// It is typically used as a battery backed reference to set the clock of a microcontroller's own RTC at boot, see
// examples/stm32rtc/sync.
//
// Datasheet: https://www.nxp.com/docs/en/data-sheet/PCF8523.pdf
package pcf8523

import (
	"errors"
	"time"

	"tinygo.org/x/drivers"

	"github.com/ajanata/drivers/bcd"
)

// ErrYear is returned by Set for times the chip cannot hold.
var ErrYear = errors.New("pcf8523: year must be within 2000-2099")

type Device struct {
	bus     drivers.I2C
	Address uint8
}

func New(i2c drivers.I2C) Device {
	return Device{
		bus:     i2c,
		Address: Address,
	}
}

// LostPower reports whether the oscillator stopped since the time was last set.
func (d *Device) LostPower() (bool, error) {
	buf := [1]byte{}
	err := d.bus.ReadRegister(d.Address, Status, buf[:])
	if err != nil {
		return false, err
	}
	return buf[0]&oscillatorStopped != 0, nil
}

// Initialized reports whether the battery switch-over was configured, which Set does.
func (d *Device) Initialized() (bool, error) {
	buf := [1]byte{}
	err := d.bus.ReadRegister(d.Address, Control3, buf[:])
	if err != nil {
		return false, err
	}
	return buf[0]&powerManagement != powerManagement, nil
}

// Set writes t, converted to UTC, to the clock.
func (d *Device) Set(t time.Time) error {
	t = t.UTC()
	if t.Year() < 2000 || t.Year() > 2099 {
		return ErrYear
	}

	rbuf := [1]byte{}
	err := d.bus.ReadRegister(d.Address, Control1, rbuf[:])
	if err != nil {
		return err
	}
	// do not change cap_sel or second/alarm/correction interrupts
	// ensure RTC is running and 24-hour mode is selected
	rbuf[0] &= 0b1000_0111
	err = d.bus.WriteRegister(d.Address, Control1, rbuf[:])
	if err != nil {
		return err
	}

	// writing the seconds register also clears the oscillator stop flag
	buf := []byte{
		bcd.MustEncode(uint8(t.Second())),
		bcd.MustEncode(uint8(t.Minute())),
		bcd.MustEncode(uint8(t.Hour())),
		bcd.MustEncode(uint8(t.Day())),
		bcd.MustEncode(uint8(t.Weekday())),
		bcd.MustEncode(uint8(t.Month())),
		bcd.MustEncode(uint8(t.Year() - 2000)),
	}
	err = d.bus.WriteRegister(d.Address, Time, buf)
	if err != nil {
		return err
	}
	// turn on battery switchover mode, turn off battery-related interrupts
	return d.bus.WriteRegister(d.Address, Control3, []byte{0})
}

// Now reads the time, in UTC.
func (d *Device) Now() (time.Time, error) {
	buf := [7]byte{}
	err := d.bus.ReadRegister(d.Address, Time, buf[:])
	if err != nil {
		return time.Time{}, err
	}

	seconds := int(bcd.Decode(buf[0] & 0x7F))
	minute := int(bcd.Decode(buf[1] & 0x7F))
	hour := int(bcd.Decode(buf[2] & 0x3F))
	day := int(bcd.Decode(buf[3] & 0x3F))
	// we don't need to read the weekday
	month := time.Month(bcd.Decode(buf[5] & 0x1F))
	year := int(bcd.Decode(buf[6])) + 2000

	return time.Date(year, month, day, hour, minute, seconds, 0, time.UTC), nil
}
