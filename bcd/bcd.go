// Package bcd converts between decimal values and packed binary-coded decimal bytes, the format used by the calendar
// registers of most real-time clocks.
package bcd

import "errors"

// ErrRange is returned when a value does not fit in two decimal digits.
var ErrRange = errors.New("bcd: value out of range 0-99")

// Encode packs v into a BCD byte: tens digit in the high nibble, units in the low nibble.
func Encode(v uint8) (uint8, error) {
	if v > 99 {
		return 0, ErrRange
	}
	return (v/10)<<4 | v%10, nil
}

// MustEncode is like Encode but panics on out of range values. Only use it on values that were already validated.
func MustEncode(v uint8) uint8 {
	b, err := Encode(v)
	if err != nil {
		panic(err)
	}
	return b
}

// Decode unpacks a BCD byte. Nibbles holding 10-15 are read as 9, so whatever the register contains the result stays
// within 0-99.
func Decode(b uint8) uint8 {
	return digit(b>>4)*10 + digit(b)
}

func digit(n uint8) uint8 {
	n &= 0x0F
	if n > 9 {
		return 9
	}
	return n
}
