package stm32rtc

import (
	"time"

	"github.com/ajanata/drivers/bcd"
)

// TimeAccess reads and writes the time of day.
type TimeAccess interface {
	Time() (Time, error)
	SetTime(Time) error
}

// DateAccess reads and writes the calendar date.
type DateAccess interface {
	Date() (Date, error)
	SetDate(Date) error
}

// Time is a time of day in 24-hour format.
type Time struct {
	Hour   uint8
	Minute uint8
	Second uint8
}

// NewTime returns the time h:m:s, or a *RangeError if any field is out of range.
func NewTime(h, m, s int) (Time, error) {
	if err := checkRange("hour", h, 0, 23); err != nil {
		return Time{}, err
	}
	if err := checkRange("minute", m, 0, 59); err != nil {
		return Time{}, err
	}
	if err := checkRange("second", s, 0, 59); err != nil {
		return Time{}, err
	}
	return Time{Hour: uint8(h), Minute: uint8(m), Second: uint8(s)}, nil
}

func (t Time) validate() error {
	_, err := NewTime(int(t.Hour), int(t.Minute), int(t.Second))
	return err
}

// Fields returns the BCD encoded hour, minute and second.
func (t Time) Fields() (hour, minute, second uint8, err error) {
	if err := t.validate(); err != nil {
		return 0, 0, 0, err
	}
	return bcd.MustEncode(t.Hour), bcd.MustEncode(t.Minute), bcd.MustEncode(t.Second), nil
}

// TimeFromFields decodes BCD hour, minute and second fields.
func TimeFromFields(hour, minute, second uint8) (Time, error) {
	return NewTime(int(bcd.Decode(hour)), int(bcd.Decode(minute)), int(bcd.Decode(second)))
}

func (t Time) String() string {
	return twoDigits(t.Hour) + ":" + twoDigits(t.Minute) + ":" + twoDigits(t.Second)
}

// register packs t into the TR layout. The PM bit stays clear, the device always runs in 24-hour mode.
func (t Time) register() (uint32, error) {
	h, m, s, err := t.Fields()
	if err != nil {
		return 0, err
	}
	return uint32(h)<<TR_HU_Pos | uint32(m)<<TR_MNU_Pos | uint32(s)<<TR_SU_Pos, nil
}

func timeFromRegister(tr uint32) (Time, error) {
	return TimeFromFields(
		uint8(tr>>TR_HU_Pos)&0x3F,
		uint8(tr>>TR_MNU_Pos)&0x7F,
		uint8(tr>>TR_SU_Pos)&0x7F,
	)
}

// Date is a calendar date between 2000-01-01 and 2099-12-31.
type Date struct {
	Day   uint8
	Month uint8
	Year  uint16
}

// NewDate returns the given date, or a *RangeError if it does not exist or is outside the range the hardware can hold.
func NewDate(day, month, year int) (Date, error) {
	if err := checkRange("year", year, 2000, 2099); err != nil {
		return Date{}, err
	}
	if err := checkRange("month", month, 1, 12); err != nil {
		return Date{}, err
	}
	if err := checkRange("day", day, 1, daysIn(time.Month(month), year)); err != nil {
		return Date{}, err
	}
	return Date{Day: uint8(day), Month: uint8(month), Year: uint16(year)}, nil
}

func daysIn(m time.Month, year int) int {
	// day 0 of the next month is the last day of m
	return time.Date(year, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func (d Date) validate() error {
	_, err := NewDate(int(d.Day), int(d.Month), int(d.Year))
	return err
}

// Weekday returns the day of the week in the hardware numbering, Monday is 1 and Sunday is 7.
func (d Date) Weekday() uint8 {
	wd := time.Date(int(d.Year), time.Month(d.Month), int(d.Day), 0, 0, 0, 0, time.UTC).Weekday()
	if wd == time.Sunday {
		return 7
	}
	return uint8(wd)
}

// Fields returns the BCD encoded day, month and year offset from 2000.
func (d Date) Fields() (day, month, year uint8, err error) {
	if err := d.validate(); err != nil {
		return 0, 0, 0, err
	}
	return bcd.MustEncode(d.Day), bcd.MustEncode(d.Month), bcd.MustEncode(uint8(d.Year - 2000)), nil
}

// DateFromFields decodes BCD day, month and year fields, the year being an offset from 2000.
func DateFromFields(day, month, year uint8) (Date, error) {
	return NewDate(int(bcd.Decode(day)), int(bcd.Decode(month)), 2000+int(bcd.Decode(year)))
}

func (d Date) String() string {
	return "20" + twoDigits(uint8(d.Year-2000)) + "-" + twoDigits(d.Month) + "-" + twoDigits(d.Day)
}

func (d Date) register() (uint32, error) {
	day, month, year, err := d.Fields()
	if err != nil {
		return 0, err
	}
	return uint32(year)<<DR_YU_Pos | uint32(d.Weekday())<<DR_WDU_Pos | uint32(month)<<DR_MU_Pos | uint32(day)<<DR_DU_Pos, nil
}

func dateFromRegister(dr uint32) (Date, error) {
	return DateFromFields(
		uint8(dr>>DR_DU_Pos)&0x3F,
		uint8(dr>>DR_MU_Pos)&0x1F,
		uint8(dr>>DR_YU_Pos),
	)
}

func twoDigits(v uint8) string {
	return string([]byte{'0' + v/10%10, '0' + v%10})
}
