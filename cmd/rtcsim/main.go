// Command rtcsim runs the stm32rtc driver against a simulated chip. It reads one command per line from standard input
// or from the file given with -script, which makes it handy to try a clock setup before flashing a board.
//
//	$ rtcsim -v
//	> start hse 8000000
//	> set 2024-02-29T23:59:58Z
//	> delay 5
//	> now
//	2024-03-01T00:00:03Z
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"

	"github.com/ajanata/drivers/stm32rtc"
	"github.com/ajanata/drivers/stm32rtc/rtcsim"
)

var (
	script  = flag.String("script", "", "read commands from `file` instead of standard input")
	verbose = flag.Bool("v", false, "print driver progress messages")
	trace   = flag.Bool("trace", false, "print every simulated register write")
)

// errQuit ends the command loop.
var errQuit = errors.New("quit")

type printer struct {
	w io.Writer
}

func (p printer) Println(s string) error {
	_, err := fmt.Fprintln(p.w, s)
	return err
}

type console struct {
	out   io.Writer
	chip  *rtcsim.Chip
	dev   *stm32rtc.Device
	trace bool
}

func newConsole(out io.Writer) (*console, error) {
	chip := rtcsim.New()
	regs, err := stm32rtc.NewHandle(chip).Take()
	if err != nil {
		return nil, err
	}
	return &console{
		out:  out,
		chip: chip,
		dev:  stm32rtc.New(regs),
	}, nil
}

const usage = `commands:
  start [lsi | lse [bypass] | hse <hz> [bypass]]   start the clock, or switch a running one
  prescalers <async> <sync>                         override the prescalers before start
  set <RFC 3339 time>                               set date and time
  now                                               print date and time
  set-time <hh:mm:ss>, time                         set or print the time of day
  set-date <yyyy-mm-dd>, date                       set or print the date
  millis                                            print the milliseconds into the current second
  sync                                              wait for the calendar shadow registers
  delay <seconds>                                   wait on the wake-up timer
  wakeup <division> <counter>                       start the periodic wake-up timer
  status                                            print the driver state
  log, violations                                   print the simulated register log
  help, quit`

// run executes a single command line.
func (c *console) run(line string) error {
	args, err := shlex.Split(line)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return nil
	}
	if c.trace {
		c.chip.ResetLog()
		defer func() {
			for _, s := range c.chip.Log() {
				fmt.Fprintln(c.out, "  "+s)
			}
		}()
	}
	cmd, args := args[0], args[1:]
	switch cmd {
	case "help":
		fmt.Fprintln(c.out, usage)
	case "quit", "exit":
		return errQuit
	case "start":
		return c.start(args)
	case "prescalers":
		if len(args) != 2 {
			return errors.New("usage: prescalers <async> <sync>")
		}
		async, err := strconv.ParseUint(args[0], 0, 8)
		if err != nil {
			return err
		}
		sync, err := strconv.ParseUint(args[1], 0, 16)
		if err != nil {
			return err
		}
		return c.dev.SetPrescalers(stm32rtc.Prescalers{Async: uint8(async), Sync: uint16(sync)})
	case "set":
		if len(args) != 1 {
			return errors.New("usage: set <time>")
		}
		t, err := time.Parse(time.RFC3339, args[0])
		if err != nil {
			return err
		}
		return c.dev.Set(t.UTC())
	case "now":
		t, err := c.dev.Now()
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, t.Format(time.RFC3339Nano))
	case "set-time":
		if len(args) != 1 {
			return errors.New("usage: set-time <hh:mm:ss>")
		}
		t, err := time.Parse("15:04:05", args[0])
		if err != nil {
			return err
		}
		tm, err := stm32rtc.NewTime(t.Hour(), t.Minute(), t.Second())
		if err != nil {
			return err
		}
		return c.dev.SetTime(tm)
	case "time":
		tm, err := c.dev.Time()
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, tm)
	case "set-date":
		if len(args) != 1 {
			return errors.New("usage: set-date <yyyy-mm-dd>")
		}
		t, err := time.Parse("2006-01-02", args[0])
		if err != nil {
			return err
		}
		dt, err := stm32rtc.NewDate(t.Day(), int(t.Month()), t.Year())
		if err != nil {
			return err
		}
		return c.dev.SetDate(dt)
	case "date":
		dt, err := c.dev.Date()
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%s weekday %d\n", dt, dt.Weekday())
	case "millis":
		ms, err := c.dev.Millis()
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, ms)
	case "sync":
		return c.dev.WaitSync()
	case "delay":
		if len(args) != 1 {
			return errors.New("usage: delay <seconds>")
		}
		n, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return err
		}
		return c.dev.Delay(uint32(n))
	case "wakeup":
		return c.wakeup(args)
	case "status":
		p := c.dev.Prescalers()
		fmt.Fprintf(c.out, "source %s, prescalers %d/%d, running %t, initialized %t\n",
			c.dev.ClockSource(), p.Async, p.Sync, c.dev.Running(), c.dev.Initialized())
	case "log":
		for _, s := range c.chip.Log() {
			fmt.Fprintln(c.out, s)
		}
	case "violations":
		for _, s := range c.chip.Violations() {
			fmt.Fprintln(c.out, s)
		}
	default:
		return fmt.Errorf("unknown command %q, try help", cmd)
	}
	return nil
}

func (c *console) start(args []string) error {
	src := stm32rtc.InternalLowSpeed()
	if len(args) > 0 {
		bypass := args[len(args)-1] == "bypass"
		switch args[0] {
		case "lsi":
		case "lse":
			src = stm32rtc.ExternalLowSpeed(bypass)
		case "hse":
			if len(args) < 2 {
				return errors.New("usage: start hse <hz> [bypass]")
			}
			f, err := strconv.ParseUint(args[1], 0, 32)
			if err != nil {
				return err
			}
			src = stm32rtc.ExternalHighSpeed(uint32(f), bypass)
		default:
			return fmt.Errorf("unknown clock source %q", args[0])
		}
	}
	if c.dev.Running() {
		return c.dev.Reconfigure(src, c.chip, c.chip)
	}
	if err := c.dev.SetClockSource(src); err != nil {
		return err
	}
	return c.dev.StartClock(c.chip, c.chip)
}

var divisions = map[string]stm32rtc.WakeupDivision{
	"div16":    stm32rtc.WakeupRTCDiv16,
	"div8":     stm32rtc.WakeupRTCDiv8,
	"div4":     stm32rtc.WakeupRTCDiv4,
	"div2":     stm32rtc.WakeupRTCDiv2,
	"seconds":  stm32rtc.WakeupSeconds,
	"seconds+": stm32rtc.WakeupSecondsLong,
}

func (c *console) wakeup(args []string) error {
	if len(args) == 1 && args[0] == "off" {
		return c.dev.DisableWakeup()
	}
	if len(args) != 2 {
		return errors.New("usage: wakeup <div16|div8|div4|div2|seconds|seconds+> <counter> or wakeup off")
	}
	div, ok := divisions[args[0]]
	if !ok {
		return fmt.Errorf("unknown division %q", args[0])
	}
	n, err := strconv.ParseUint(args[1], 0, 16)
	if err != nil {
		return err
	}
	return c.dev.EnableWakeup(stm32rtc.WakeupConfig{Division: div, Counter: uint16(n)})
}

// loop runs every line of r, reporting errors without stopping.
func (c *console) loop(r io.Reader, prompt bool) error {
	s := bufio.NewScanner(r)
	for {
		if prompt {
			fmt.Fprint(c.out, "> ")
		}
		if !s.Scan() {
			return s.Err()
		}
		line := strings.TrimSpace(s.Text())
		if strings.HasPrefix(line, "#") {
			continue
		}
		err := c.run(line)
		if err == errQuit {
			return nil
		}
		if err != nil {
			fmt.Fprintln(c.out, "error:", err)
		}
	}
}

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	c, err := newConsole(os.Stdout)
	if err != nil {
		return err
	}
	c.trace = *trace
	if *verbose {
		stm32rtc.Log = printer{os.Stdout}
	}

	if *script == "" {
		return c.loop(os.Stdin, true)
	}
	f, err := os.Open(*script)
	if err != nil {
		return err
	}
	defer f.Close()
	return c.loop(f, false)
}
