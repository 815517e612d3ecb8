package stm32rtc_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/ajanata/drivers/stm32rtc"
	"github.com/ajanata/drivers/stm32rtc/rtcsim"
)

func newStarted(c *qt.C, src stm32rtc.ClockSource) (*stm32rtc.Device, *rtcsim.Chip) {
	sim := rtcsim.New()
	dev := stm32rtc.New(sim)
	c.Assert(dev.SetClockSource(src), qt.IsNil)
	c.Assert(dev.StartClock(sim, sim), qt.IsNil)
	assertClean(c, sim)
	sim.ResetLog()
	return dev, sim
}

// assertClean checks the registers are locked and no write was rejected.
func assertClean(c *qt.C, sim *rtcsim.Chip) {
	c.Helper()
	c.Assert(sim.Locked(), qt.Equals, true)
	c.Assert(sim.InInit(), qt.Equals, false)
	c.Assert(sim.Violations(), qt.HasLen, 0)
}

func TestStartClockSequence(t *testing.T) {
	c := qt.New(t)
	sim := rtcsim.New()
	dev := stm32rtc.New(sim)
	c.Assert(dev.Configure(stm32rtc.Config{
		Source:     stm32rtc.ExternalLowSpeed(false),
		Prescalers: &stm32rtc.Prescalers{Async: 63, Sync: 511},
	}), qt.IsNil)
	c.Assert(sim.Log(), qt.HasLen, 0)

	c.Assert(dev.StartClock(sim, sim), qt.IsNil)
	c.Assert(dev.Running(), qt.Equals, true)
	c.Assert(sim.Log(), qt.DeepEquals, []string{
		"RCC.PWREN",
		"PWR.DBP",
		"RCC.LSEON",
		"RCC.RTCSEL LSE",
		"RCC.RTCEN",
		"RTC.WPR <- 0x000000CA",
		"RTC.WPR <- 0x00000053",
		"RTC.ISR <- 0x00000087",
		"RTC.PRER <- 0x007F01FF", // sync first
		"RTC.PRER <- 0x003F01FF", // then async
		"RTC.CR <- 0x00000000",
		"RTC.ISR <- 0x00000047",
		"RTC.WPR <- 0x000000FF",
	})
	c.Assert(sim.Raw(stm32rtc.PRER), qt.Equals, uint32(0x003F01FF))
	assertClean(c, sim)
}

func TestStartClockDefaultPrescalers(t *testing.T) {
	c := qt.New(t)
	dev, sim := newStarted(c, stm32rtc.ExternalLowSpeed(false))
	p := dev.Prescalers()
	c.Assert(p, qt.Equals, stm32rtc.Prescalers{Async: 127, Sync: 255})
	c.Assert(p.Divides(), qt.Equals, uint32(32768))
	c.Assert(sim.Raw(stm32rtc.PRER), qt.Equals, uint32(127<<16|255))

	dev, sim = newStarted(c, stm32rtc.ExternalHighSpeed(8000000, true))
	c.Assert(dev.Prescalers().Divides(), qt.Equals, uint32(250000))
	c.Assert(sim.Raw(stm32rtc.PRER), qt.Equals, uint32(124<<16|1999))
}

func TestStartClockOscillatorTimeout(t *testing.T) {
	c := qt.New(t)
	sim := rtcsim.New()
	sim.Stick("LSERDY")
	dev := stm32rtc.New(sim)
	c.Assert(dev.Configure(stm32rtc.Config{
		Source:    stm32rtc.ExternalLowSpeed(false),
		PollLimit: 100,
	}), qt.IsNil)

	err := dev.StartClock(sim, sim)
	var te *stm32rtc.TimeoutError
	c.Assert(errors.As(err, &te), qt.Equals, true)
	c.Assert(te.Flag, qt.Equals, "LSERDY")
	c.Assert(te.Polls, qt.Equals, 100)
	c.Assert(dev.Running(), qt.Equals, false)
	assertClean(c, sim)

	tm, _ := stm32rtc.NewTime(12, 0, 0)
	c.Assert(dev.SetTime(tm), qt.Equals, stm32rtc.ErrNotRunning)
	_, err = dev.Time()
	c.Assert(err, qt.Equals, stm32rtc.ErrNotRunning)
	_, err = dev.Date()
	c.Assert(err, qt.Equals, stm32rtc.ErrNotRunning)
	c.Assert(dev.Delay(1), qt.Equals, stm32rtc.ErrNotRunning)
	_, err = dev.Subseconds()
	c.Assert(err, qt.Equals, stm32rtc.ErrNotRunning)
	c.Assert(dev.WaitSync(), qt.Equals, stm32rtc.ErrNotRunning)
}

func TestStartClockInitTimeout(t *testing.T) {
	c := qt.New(t)
	sim := rtcsim.New()
	sim.Stick("INITF")
	dev := stm32rtc.New(sim)
	c.Assert(dev.Configure(stm32rtc.Config{PollLimit: 10}), qt.IsNil)

	err := dev.StartClock(sim, sim)
	var te *stm32rtc.TimeoutError
	c.Assert(errors.As(err, &te), qt.Equals, true)
	c.Assert(te.Flag, qt.Equals, "INITF")
	c.Assert(dev.Running(), qt.Equals, false)
	// initialization mode was left and the registers locked again
	assertClean(c, sim)
	log := sim.Log()
	c.Assert(log[len(log)-1], qt.Equals, "RTC.WPR <- 0x000000FF")
}

func TestStartClockBackupDomainTimeout(t *testing.T) {
	c := qt.New(t)
	sim := rtcsim.New()
	sim.Stick("DBP")
	dev := stm32rtc.New(sim)
	c.Assert(dev.Configure(stm32rtc.Config{PollLimit: 10}), qt.IsNil)
	err := dev.StartClock(sim, sim)
	c.Assert(err, qt.ErrorMatches, "stm32rtc: timeout waiting for DBP after 10 polls")
}

func TestSetClockSourceHSETooFast(t *testing.T) {
	c := qt.New(t)
	sim := rtcsim.New()
	dev := stm32rtc.New(sim)
	err := dev.SetClockSource(stm32rtc.ExternalHighSpeed(stm32rtc.MaxHSEFrequency+32, false))
	var ce *stm32rtc.ConfigurationError
	c.Assert(errors.As(err, &ce), qt.Equals, true)
	c.Assert(sim.Log(), qt.HasLen, 0)
	// the previous source is kept
	c.Assert(dev.ClockSource().Oscillator(), qt.Equals, stm32rtc.LSI)
}

func TestConfigureRejectsBadPrescalers(t *testing.T) {
	c := qt.New(t)
	dev := stm32rtc.New(rtcsim.New())
	err := dev.Configure(stm32rtc.Config{Prescalers: &stm32rtc.Prescalers{Async: 200}})
	var ce *stm32rtc.ConfigurationError
	c.Assert(errors.As(err, &ce), qt.Equals, true)
}

func TestCustomPrescalersSurviveSourceChange(t *testing.T) {
	c := qt.New(t)
	dev := stm32rtc.New(rtcsim.New())
	p := stm32rtc.Prescalers{Async: 99, Sync: 399}
	c.Assert(dev.SetPrescalers(p), qt.IsNil)
	c.Assert(dev.SetClockSource(stm32rtc.ExternalLowSpeed(false)), qt.IsNil)
	c.Assert(dev.Prescalers(), qt.Equals, p)
}

func TestSetTime(t *testing.T) {
	c := qt.New(t)
	dev, sim := newStarted(c, stm32rtc.InternalLowSpeed())

	tm, err := stm32rtc.NewTime(12, 30, 0)
	c.Assert(err, qt.IsNil)
	c.Assert(dev.SetTime(tm), qt.IsNil)
	assertClean(c, sim)

	got, err := dev.Time()
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, stm32rtc.Time{Hour: 12, Minute: 30, Second: 0})
	c.Assert(sim.Raw(stm32rtc.TR), qt.Equals, uint32(0x00123000))
}

func TestSetDate(t *testing.T) {
	c := qt.New(t)
	dev, sim := newStarted(c, stm32rtc.ExternalLowSpeed(false))
	c.Assert(dev.Initialized(), qt.Equals, false)

	d, err := stm32rtc.NewDate(1, 1, 2024)
	c.Assert(err, qt.IsNil)
	c.Assert(dev.SetDate(d), qt.IsNil)
	assertClean(c, sim)

	got, err := dev.Date()
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, stm32rtc.Date{Day: 1, Month: 1, Year: 2024})
	c.Assert(dev.Initialized(), qt.Equals, true)
}

func TestSetTimeRangeErrorKeepsCalendar(t *testing.T) {
	c := qt.New(t)
	dev, sim := newStarted(c, stm32rtc.InternalLowSpeed())
	tm, _ := stm32rtc.NewTime(8, 15, 30)
	c.Assert(dev.SetTime(tm), qt.IsNil)
	sim.ResetLog()

	err := dev.SetTime(stm32rtc.Time{Hour: 24})
	var re *stm32rtc.RangeError
	c.Assert(errors.As(err, &re), qt.Equals, true)
	c.Assert(re.Field, qt.Equals, "hour")
	err = dev.SetDate(stm32rtc.Date{Day: 32, Month: 1, Year: 2024})
	c.Assert(errors.As(err, &re), qt.Equals, true)
	c.Assert(re.Field, qt.Equals, "day")

	// rejected before touching the hardware
	c.Assert(sim.Log(), qt.HasLen, 0)
	got, err := dev.Time()
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, tm)
	assertClean(c, sim)
}

func TestSetTimeInitTimeoutRelocks(t *testing.T) {
	c := qt.New(t)
	dev, sim := newStarted(c, stm32rtc.InternalLowSpeed())
	sim.Stick("INITF")
	tm, _ := stm32rtc.NewTime(1, 2, 3)
	err := dev.SetTime(tm)
	var te *stm32rtc.TimeoutError
	c.Assert(errors.As(err, &te), qt.Equals, true)
	assertClean(c, sim)
	c.Assert(sim.Raw(stm32rtc.TR), qt.Equals, uint32(0))
}

func TestSetAndNow(t *testing.T) {
	c := qt.New(t)
	dev, sim := newStarted(c, stm32rtc.ExternalLowSpeed(false))
	want := time.Date(2024, 3, 1, 12, 30, 10, 0, time.UTC)
	c.Assert(dev.Set(want), qt.IsNil)
	assertClean(c, sim)

	got, err := dev.Now()
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, want)
	c.Assert(sim.Calendar(), qt.Equals, want)

	ms, err := dev.Millis()
	c.Assert(err, qt.IsNil)
	c.Assert(ms, qt.Equals, uint32(0))

	sim.ResetLog()
	err = dev.Set(time.Date(1999, 12, 31, 0, 0, 0, 0, time.UTC))
	c.Assert(err, qt.ErrorMatches, "stm32rtc: year 1999 out of range 2000-2099")
	c.Assert(sim.Log(), qt.HasLen, 0)
	c.Assert(sim.Calendar(), qt.Equals, want)
}

func TestSubseconds(t *testing.T) {
	c := qt.New(t)
	dev, sim := newStarted(c, stm32rtc.ExternalLowSpeed(false))
	c.Assert(dev.Set(epoch), qt.IsNil)
	// sync prescaler 255, the counter runs down from 255 to 0 every second
	sim.Poke(stm32rtc.SSR, 255-64)

	ms, err := dev.Millis()
	c.Assert(err, qt.IsNil)
	c.Assert(ms, qt.Equals, uint32(250))
	sub, err := dev.Subseconds()
	c.Assert(err, qt.IsNil)
	c.Assert(sub, qt.Equals, 250*time.Millisecond)
	got, err := dev.Now()
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, epoch.Add(250*time.Millisecond))

	// a pending shift can push the counter above the prescaler
	sim.Poke(stm32rtc.SSR, 300)
	sub, err = dev.Subseconds()
	c.Assert(err, qt.IsNil)
	c.Assert(sub, qt.Equals, time.Duration(0))
}

func TestWaitSync(t *testing.T) {
	c := qt.New(t)
	dev, sim := newStarted(c, stm32rtc.ExternalLowSpeed(false))
	c.Assert(dev.Set(epoch), qt.IsNil)
	sim.ResetLog()

	c.Assert(dev.WaitSync(), qt.IsNil)
	c.Assert(sim.Raw(stm32rtc.ISR)&stm32rtc.ISR_RSF, qt.Equals, uint32(stm32rtc.ISR_RSF))
	log := sim.Log()
	c.Assert(log, qt.HasLen, 4)
	c.Assert(log[0], qt.Equals, "RTC.WPR <- 0x000000CA")
	c.Assert(contains(log[2:3], "RTC.ISR"), qt.Equals, true)
	c.Assert(log[3], qt.Equals, "RTC.WPR <- 0x000000FF")
	assertClean(c, sim)

	sim.Stick("RSF")
	err := dev.WaitSync()
	var te *stm32rtc.TimeoutError
	c.Assert(errors.As(err, &te), qt.Equals, true)
	c.Assert(te.Flag, qt.Equals, "RSF")
	assertClean(c, sim)
}

func TestSetClockSourceWhileRunning(t *testing.T) {
	c := qt.New(t)
	dev, _ := newStarted(c, stm32rtc.InternalLowSpeed())
	c.Assert(dev.SetClockSource(stm32rtc.ExternalLowSpeed(false)), qt.Equals, stm32rtc.ErrRunning)
	c.Assert(dev.SetPrescalers(stm32rtc.Prescalers{}), qt.Equals, stm32rtc.ErrRunning)
	c.Assert(dev.Configure(stm32rtc.Config{}), qt.Equals, stm32rtc.ErrRunning)
}

func TestReconfigure(t *testing.T) {
	c := qt.New(t)
	dev, sim := newStarted(c, stm32rtc.InternalLowSpeed())

	err := dev.Reconfigure(stm32rtc.ExternalHighSpeed(16000000, false), sim, sim)
	var ce *stm32rtc.ConfigurationError
	c.Assert(errors.As(err, &ce), qt.Equals, true)
	c.Assert(dev.Running(), qt.Equals, true)
	c.Assert(sim.Log(), qt.HasLen, 0)

	c.Assert(dev.Reconfigure(stm32rtc.ExternalLowSpeed(false), sim, sim), qt.IsNil)
	c.Assert(dev.Running(), qt.Equals, true)
	c.Assert(dev.Prescalers(), qt.Equals, stm32rtc.Prescalers{Async: 127, Sync: 255})
	c.Assert(contains(sim.Log(), "RCC.BDRST"), qt.Equals, true)
	src, ok := sim.RTCClock()
	c.Assert(ok, qt.Equals, true)
	c.Assert(src, qt.Equals, stm32rtc.LSE)
	assertClean(c, sim)
}

func TestReconfigureResetsBeforeStarting(t *testing.T) {
	c := qt.New(t)
	dev, sim := newStarted(c, stm32rtc.ExternalLowSpeed(false))
	sim.ResetLog()

	// the reset stops the LSE; switching to LSI must not wait for it
	sim.Stick("LSERDY")
	c.Assert(dev.Reconfigure(stm32rtc.InternalLowSpeed(), sim, sim), qt.IsNil)
	log := sim.Log()
	c.Assert(log[:4], qt.DeepEquals, []string{"RCC.PWREN", "PWR.DBP", "RCC.BDRST", "RCC.LSION"})
	c.Assert(sim.OscillatorOn(stm32rtc.LSE), qt.Equals, false)
	c.Assert(dev.Running(), qt.Equals, true)
	assertClean(c, sim)
}

func TestReconfigureOscillatorFailure(t *testing.T) {
	c := qt.New(t)
	sim := rtcsim.New()
	dev := stm32rtc.New(sim)
	c.Assert(dev.Configure(stm32rtc.Config{PollLimit: 50}), qt.IsNil)
	c.Assert(dev.StartClock(sim, sim), qt.IsNil)

	// a dead crystal after the reset times out instead of hanging
	sim.Stick("LSERDY")
	err := dev.Reconfigure(stm32rtc.ExternalLowSpeed(false), sim, sim)
	var te *stm32rtc.TimeoutError
	c.Assert(errors.As(err, &te), qt.Equals, true)
	c.Assert(te.Flag, qt.Equals, "LSERDY")
	c.Assert(te.Polls, qt.Equals, 50)
	c.Assert(dev.Running(), qt.Equals, false)
	c.Assert(indexOf(sim.Log(), "RCC.BDRST") < indexOf(sim.Log(), "RCC.LSEON"), qt.Equals, true)
	assertClean(c, sim)
}

func TestRestartSameSourceKeepsCalendar(t *testing.T) {
	c := qt.New(t)
	dev, sim := newStarted(c, stm32rtc.ExternalLowSpeed(false))
	want := time.Date(2030, 6, 15, 23, 59, 58, 0, time.UTC)
	c.Assert(dev.Set(want), qt.IsNil)

	// a second driver after a reset finds the clock already routed
	dev = stm32rtc.New(sim)
	c.Assert(dev.SetClockSource(stm32rtc.ExternalLowSpeed(false)), qt.IsNil)
	c.Assert(dev.StartClock(sim, sim), qt.IsNil)
	c.Assert(contains(sim.Log(), "RCC.BDRST"), qt.Equals, false)
	got, err := dev.Now()
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, want)
}

func TestHandleTake(t *testing.T) {
	c := qt.New(t)
	sim := rtcsim.New()
	h := stm32rtc.NewHandle(sim)
	regs, err := h.Take()
	c.Assert(err, qt.IsNil)
	c.Assert(regs, qt.Equals, stm32rtc.Registers(sim))
	_, err = h.Take()
	c.Assert(err, qt.Equals, stm32rtc.ErrAlreadyTaken)
}

type recorder []string

func (r *recorder) Println(s string) error {
	*r = append(*r, s)
	return nil
}

func TestLog(t *testing.T) {
	c := qt.New(t)
	defer c.Done()
	var r recorder
	stm32rtc.Log = &r
	c.Defer(func() { stm32rtc.Log = nil })

	dev, sim := newStarted(c, stm32rtc.ExternalLowSpeed(false))
	c.Assert(r, qt.DeepEquals, recorder{
		"rtc: LSE ready",
		"rtc: running, prescalers 127/255",
	})

	r = nil
	c.Assert(dev.Reconfigure(stm32rtc.InternalLowSpeed(), sim, sim), qt.IsNil)
	c.Assert(r, qt.DeepEquals, recorder{
		"rtc: resetting backup domain to switch from LSE",
		"rtc: LSI ready",
		"rtc: running, prescalers 124/319",
	})
}

func contains(log []string, prefix string) bool {
	for _, s := range log {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}
