// Command piosh runs a PIO program on a simulated RP2 and drives its state
// machine from an interactive console.
package main

import (
	"bufio"
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/tarm/serial"
	pio "github.com/tinygo-org/pioengine/rp2-pio"
	"github.com/tinygo-org/pioengine/rp2-pio/piosim"
	"github.com/tinygo-org/pioengine/rp2-pio/progfile"
	"periph.io/x/conn/v3/physic"
)

var (
	programFile = flag.String("program", "", "program bundle (CBOR); defaults to a FIFO echo program")
	freq        = flag.Int64("freq", 0, "state machine frequency in Hz; 0 keeps the bundle's")
	version     = flag.Uint("version", 0, "simulated PIO version, 0 (RP2040) or 1 (RP2350)")
	noDMA       = flag.Bool("nodma", false, "simulate a chip without DMA")
	periph      = flag.String("periph", "loopback", "peripheral on the state machine pins: loopback, counter or sink")
	outPin      = flag.Int("out", -1, "first out pin")
	inPin       = flag.Int("in", -1, "first in pin")
	setPin      = flag.Int("set", -1, "first set pin")
	sidesetPin  = flag.Int("sideset", -1, "first side-set pin")
	serialDev   = flag.String("serial", "", "serial device receiving every word the state machine pulls")
	baud        = flag.Int("baud", 115200, "serial baud rate")
	timeout     = flag.Duration("timeout", 2*time.Second, "limit for blocking commands")
	verbose     = flag.Bool("v", false, "log pool activity")
)

func main() {
	flag.Parse()
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	if err := run(log); err != nil {
		log.Error("piosh", "err", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfgSim := piosim.Config{Version: uint8(*version)}
	if *noDMA {
		cfgSim.DMAChannels = -1
	}
	sim := piosim.New(cfgSim)
	poolCfg := sim.PoolConfig()
	poolCfg.Logger = log
	pool, err := pio.NewPool(poolCfg)
	if err != nil {
		return err
	}
	sm, err := pio.New(pool, cfg)
	if err != nil {
		return err
	}
	defer sm.Deinit()

	p, err := peripheral(*periph)
	if err != nil {
		return err
	}
	if *serialDev != "" {
		port, err := serial.OpenPort(&serial.Config{Name: *serialDev, Baud: *baud})
		if err != nil {
			return fmt.Errorf("piosh: failed to open %s: %w", *serialDev, err)
		}
		defer port.Close()
		p = &tap{w: port, next: p, log: log}
	}
	blk, _ := sm.Block()
	i, _ := sm.Index()
	offset, _ := sm.Offset()
	f, _ := sm.Frequency()
	sim.Block(int(blk)).Attach(i, p)
	log.Info("state machine running", "block", blk, "sm", i, "offset", offset, "freq", f)

	sh := &shell{sim: sim, sm: sm, out: os.Stdout, timeout: *timeout}
	return sh.loop(os.Stdin)
}

func loadConfig() (pio.Config, error) {
	var b progfile.Bundle
	if *programFile == "" {
		b = progfile.Bundle{
			Name:    "echo",
			Program: []uint16{0x80a0, 0xa0c7, 0x8020}, // pull; mov isr, osr; push
			Wrap:    -1,
			Origin:  -1,
		}
	} else {
		f, err := os.Open(*programFile)
		if err != nil {
			return pio.Config{}, err
		}
		defer f.Close()
		if b, err = progfile.Read(f); err != nil {
			return pio.Config{}, err
		}
	}
	cfg, err := b.Config()
	if err != nil {
		return pio.Config{}, err
	}
	if *freq != 0 {
		cfg.Frequency = physic.Frequency(*freq) * physic.Hertz
	}
	cfg.FirstOutPin = flagPin(*outPin)
	cfg.FirstInPin = flagPin(*inPin)
	cfg.FirstSetPin = flagPin(*setPin)
	cfg.FirstSidesetPin = flagPin(*sidesetPin)
	return cfg, nil
}

func flagPin(n int) pio.Pin {
	if n < 0 {
		return pio.NoPin
	}
	return pio.Pin(n)
}

func peripheral(name string) (piosim.Peripheral, error) {
	switch name {
	case "loopback":
		return piosim.Loopback{}, nil
	case "counter":
		return &piosim.Counter{}, nil
	case "sink":
		return &piosim.Recorder{}, nil
	}
	return nil, fmt.Errorf("piosh: unknown peripheral %q", name)
}

// tap copies every pulled word to w, little-endian, before passing it on.
type tap struct {
	w    io.Writer
	next piosim.Peripheral
	log  *slog.Logger
	buf  [4]byte
}

func (t *tap) Shift(in uint32, ok bool) (uint32, bool) {
	if ok {
		binary.LittleEndian.PutUint32(t.buf[:], in)
		if _, err := t.w.Write(t.buf[:]); err != nil {
			t.log.Warn("serial write failed", "err", err)
		}
	}
	return t.next.Shift(in, ok)
}

func (sh *shell) loop(r io.Reader) error {
	s := bufio.NewScanner(r)
	fmt.Fprint(sh.out, "> ")
	for s.Scan() {
		quit, err := sh.exec(s.Text())
		if err != nil {
			fmt.Fprintln(sh.out, "error:", err)
		}
		if quit {
			return nil
		}
		fmt.Fprint(sh.out, "> ")
	}
	return s.Err()
}
