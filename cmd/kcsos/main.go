// Command kcsos boots the kernel on the hosted board.
//
// The board is described by a JSON configuration file (see machine.Config);
// command line flags override individual settings. The kernel console is
// attached to the host terminal, to a serial device or to a fixed input
// script.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/kcs1959/kcs-os/kernel/kmain"
	"github.com/kcs1959/kcs-os/machine"
	"github.com/kcs1959/kcs-os/user"
)

var errKernelHalted = errors.New("kernel halted")

type options struct {
	configPath string
	script     string
	overrides  machine.Config
	set        map[string]bool
}

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "kcsos: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	cfg, err := opts.config()
	if err != nil {
		return err
	}

	logger := newLogger(stderr, cfg.LogLevel, "launcher")

	image := user.Shell
	if cfg.UserProgram != "" {
		if image, err = os.ReadFile(cfg.UserProgram); err != nil {
			return err
		}
	}

	cons, err := openConsole(cfg, opts.script, stdout)
	if err != nil {
		return err
	}
	defer cons.Close()

	board, err := machine.NewBoard(cfg, cons)
	if err != nil {
		return err
	}
	defer board.Close()

	layout, kerr := kmain.NewLayout(machine.RAMBase, uintptr(cfg.RAMSize), uintptr(cfg.KernelReserved))
	if kerr != nil {
		return kerr
	}

	k := kmain.New(board.Hart, board.FW, board.Blk, kmain.Config{
		Layout:       layout,
		VolumeSerial: cfg.VolumeSerial,
		ForceFormat:  cfg.ForceFormat,
		UserImage:    image,
		Executor:     user.Run,
	})

	logger.Info("booting",
		"ram", cfg.RAMSize,
		"disk", cfg.DiskPath,
		"console", cfg.Console,
		"program", cfg.UserProgram)

	g, ctx := errgroup.WithContext(context.Background())
	board.Start(k.Main)

	g.Go(func() error {
		select {
		case <-board.Done():
		case <-ctx.Done():
			return nil
		}

		if !board.PoweredOff() {
			logger.Error("kernel halted without powering off")
			return errKernelHalted
		}
		logger.Info("powered off")
		return nil
	})

	g.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, unix.SIGINT, unix.SIGTERM)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			logger.Warn("stopping board", "signal", sig.String())
			return fmt.Errorf("interrupted by %s", sig)
		case <-board.Done():
			return nil
		}
	})

	return g.Wait()
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	var (
		opts = &options{set: make(map[string]bool)}
		o    = &opts.overrides
		fs   = flag.NewFlagSet("kcsos", flag.ContinueOnError)
	)
	fs.SetOutput(stderr)

	fs.StringVar(&opts.configPath, "config", "", "JSON board configuration file")
	fs.StringVar(&opts.script, "script", "", "console input for the script console")

	var ramSize, diskSize, serial uint
	fs.UintVar(&ramSize, "ram", 0, "RAM size in bytes")
	fs.StringVar(&o.DiskPath, "disk", "", "disk image path; empty for a volatile disk")
	fs.UintVar(&diskSize, "disk-size", 0, "size of newly created disk images in bytes")
	fs.BoolVar(&o.ForceFormat, "format", false, "format the disk on boot")
	fs.StringVar(&o.Console, "console", "", "console backend: term, tty or script")
	fs.StringVar(&o.TTYPath, "tty", "", "serial device used by the tty console")
	fs.StringVar(&o.UserProgram, "program", "", "user program to run instead of the shell")
	fs.UintVar(&serial, "serial", 0, "volume serial number for new volumes")
	fs.StringVar(&o.LogLevel, "log-level", "", "launcher log level: debug, info, warn or error")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	o.RAMSize, o.DiskSize, o.VolumeSerial = uint32(ramSize), uint32(diskSize), uint32(serial)
	fs.Visit(func(f *flag.Flag) { opts.set[f.Name] = true })

	return opts, nil
}

// config loads the configuration file (or the defaults) and applies the
// flags given on the command line.
func (opts *options) config() (machine.Config, error) {
	cfg := machine.DefaultConfig()
	if opts.configPath != "" {
		var err error
		if cfg, err = machine.LoadConfig(opts.configPath); err != nil {
			return cfg, err
		}
	}

	o := opts.overrides
	for name, apply := range map[string]func(){
		"ram":       func() { cfg.RAMSize = o.RAMSize },
		"disk":      func() { cfg.DiskPath = o.DiskPath },
		"disk-size": func() { cfg.DiskSize = o.DiskSize },
		"format":    func() { cfg.ForceFormat = o.ForceFormat },
		"console":   func() { cfg.Console = o.Console },
		"tty":       func() { cfg.TTYPath = o.TTYPath },
		"program":   func() { cfg.UserProgram = o.UserProgram },
		"serial":    func() { cfg.VolumeSerial = o.VolumeSerial },
		"log-level": func() { cfg.LogLevel = o.LogLevel },
	} {
		if opts.set[name] {
			apply()
		}
	}

	return cfg, cfg.Validate()
}

func openConsole(cfg machine.Config, script string, stdout io.Writer) (machine.Console, error) {
	switch cfg.Console {
	case "tty":
		return machine.NewTTYConsole(cfg.TTYPath)
	case "script":
		return machine.NewScriptConsole(script, stdout), nil
	default:
		return machine.NewTermConsole()
	}
}
