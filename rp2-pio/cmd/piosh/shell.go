package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"
	pio "github.com/tinygo-org/pioengine/rp2-pio"
	"github.com/tinygo-org/pioengine/rp2-pio/piosim"
)

type shell struct {
	sim     *piosim.Sim
	sm      *pio.StateMachine
	out     io.Writer
	timeout time.Duration
	// Buffers handed to background transfers, kept until replaced.
	bg pio.Buffers
}

type command struct {
	usage string
	run   func(sh *shell, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"write":   {"write [-s stride] [-swap] value...", (*shell).write},
		"read":    {"read [-s stride] [-swap] count", (*shell).read},
		"bgwrite": {"bgwrite [-s stride] [-loop] value...", (*shell).bgwrite},
		"bgstop":  {"bgstop", func(sh *shell, _ []string) error { return sh.sm.StopBackgroundWrite() }},
		"last":    {"last", (*shell).last},
		"restart": {"restart", func(sh *shell, _ []string) error { return sh.sm.Restart() }},
		"stop":    {"stop", func(sh *shell, _ []string) error { return sh.sm.Stop() }},
		"clear":   {"clear", func(sh *shell, _ []string) error { return sh.sm.ClearRxFIFO() }},
		"status":  {"status", (*shell).status},
		"deinit":  {"deinit", func(sh *shell, _ []string) error { return sh.sm.Deinit() }},
		"step":    {"step [n]", (*shell).step},
		"help":    {"help", (*shell).help},
	}
}

var errUsage = errors.New("usage")

// exec runs one console line.
func (sh *shell) exec(line string) (quit bool, err error) {
	args, err := shlex.Split(line)
	if err != nil {
		return false, err
	}
	if len(args) == 0 {
		return false, nil
	}
	if args[0] == "quit" || args[0] == "exit" {
		return true, nil
	}
	cmd, ok := commands[args[0]]
	if !ok {
		return false, fmt.Errorf("unknown command %q, try help", args[0])
	}
	err = cmd.run(sh, args[1:])
	if errors.Is(err, errUsage) {
		err = fmt.Errorf("usage: %s", cmd.usage)
	}
	return false, err
}

// transferFlags parses the options shared by the transfer commands.
type transferFlags struct {
	stride int
	swap   bool
	loop   bool
}

func parseTransfer(args []string, loop bool) (transferFlags, []string, error) {
	var tf transferFlags
	fs := flag.NewFlagSet("", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.IntVar(&tf.stride, "s", 1, "element size")
	fs.BoolVar(&tf.swap, "swap", false, "swap bytes")
	if loop {
		fs.BoolVar(&tf.loop, "loop", false, "repeat")
	}
	if err := fs.Parse(args); err != nil {
		return tf, nil, errUsage
	}
	switch tf.stride {
	case 1, 2, 4:
	default:
		return tf, nil, fmt.Errorf("stride %d: %w", tf.stride, pio.ErrInvalidArgument)
	}
	return tf, fs.Args(), nil
}

func (sh *shell) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), sh.timeout)
}

func encode(stride int, args []string) (pio.Buffer, error) {
	buf := pio.Buffer{Data: make([]byte, 0, stride*len(args)), Stride: stride}
	for _, a := range args {
		v, err := strconv.ParseUint(a, 0, 8*stride)
		if err != nil {
			return pio.Buffer{}, err
		}
		for i := 0; i < stride; i++ {
			buf.Data = append(buf.Data, byte(v>>(8*i)))
		}
	}
	return buf, nil
}

// decode returns the little-endian elements of buf.
func decode(buf pio.Buffer) []uint64 {
	vals := make([]uint64, buf.Len())
	for i := range vals {
		el := buf.Data[i*buf.Stride : (i+1)*buf.Stride]
		for j := len(el) - 1; j >= 0; j-- {
			vals[i] = vals[i]<<8 | uint64(el[j])
		}
	}
	return vals
}

func (sh *shell) write(args []string) error {
	tf, vals, err := parseTransfer(args, false)
	if err != nil {
		return err
	}
	if len(vals) == 0 {
		return errUsage
	}
	buf, err := encode(tf.stride, vals)
	if err != nil {
		return err
	}
	ctx, cancel := sh.context()
	defer cancel()
	return sh.sm.Write(ctx, buf, pio.Options{Swap: tf.swap})
}

func (sh *shell) read(args []string) error {
	tf, rest, err := parseTransfer(args, false)
	if err != nil {
		return err
	}
	if len(rest) != 1 {
		return errUsage
	}
	n, err := strconv.Atoi(rest[0])
	if err != nil || n < 0 {
		return errUsage
	}
	buf := pio.Buffer{Data: make([]byte, n*tf.stride), Stride: tf.stride}
	ctx, cancel := sh.context()
	defer cancel()
	if err := sh.sm.ReadInto(ctx, buf, pio.Options{Swap: tf.swap}); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return fmt.Errorf("read: %w", ctx.Err())
	}
	sh.print(decode(buf))
	return nil
}

func (sh *shell) bgwrite(args []string) error {
	tf, vals, err := parseTransfer(args, true)
	if err != nil {
		return err
	}
	var bufs pio.Buffers
	if len(vals) > 0 {
		buf, err := encode(tf.stride, vals)
		if err != nil {
			return err
		}
		if tf.loop {
			bufs.Loop = buf
		} else {
			bufs.Once = buf
		}
		bufs.Swap = tf.swap
	}
	ctx, cancel := sh.context()
	defer cancel()
	if err := sh.sm.BackgroundWrite(ctx, bufs); err != nil {
		return err
	}
	sh.bg = bufs
	return nil
}

func (sh *shell) last([]string) error {
	buf, err := sh.sm.TakeLastWrite()
	if err != nil {
		return err
	}
	if buf.Data == nil {
		fmt.Fprintln(sh.out, "none")
		return nil
	}
	sh.print(decode(buf))
	return nil
}

func (sh *shell) step(args []string) error {
	n := 1
	if len(args) > 0 {
		var err error
		if n, err = strconv.Atoi(args[0]); err != nil || n < 0 {
			return errUsage
		}
	}
	sh.sim.Run(n)
	return nil
}

func (sh *shell) status([]string) error {
	sm := sh.sm
	if sm.State() == pio.StateDeinited {
		fmt.Fprintln(sh.out, sm.State())
		return nil
	}
	blk, _ := sm.Block()
	i, _ := sm.Index()
	offset, _ := sm.Offset()
	f, _ := sm.Frequency()
	fmt.Fprintf(sh.out, "block %d sm %d offset %d: %s at %s\n", blk, i, offset, sm.State(), f)
	pc, err := sm.PC()
	if err != nil {
		return err
	}
	tx, _ := sm.TxLevel()
	rx, _ := sm.InWaiting()
	txStall, _ := sm.TxStall()
	rxStall, _ := sm.RxStall()
	fmt.Fprintf(sh.out, "pc %d tx %d rx %d txstall %t rxstall %t\n", pc, tx, rx, txStall, rxStall)
	writing, _ := sm.Writing()
	reading, _ := sm.Reading()
	pending, _ := sm.Pending()
	fmt.Fprintf(sh.out, "writing %t reading %t pending %d steps %d\n", writing, reading, pending, sh.sim.Steps())
	return nil
}

func (sh *shell) help([]string) error {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		fmt.Fprintln(sh.out, " ", commands[name].usage)
	}
	fmt.Fprintln(sh.out, "  quit")
	return nil
}

func (sh *shell) print(vals []uint64) {
	s := make([]string, len(vals))
	for i, v := range vals {
		s[i] = "0x" + strconv.FormatUint(v, 16)
	}
	fmt.Fprintln(sh.out, strings.Join(s, " "))
}
