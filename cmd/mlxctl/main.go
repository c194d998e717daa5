// Copyright 2021 The Cacophony Project. All rights reserved.
// Use of this source code is governed by the Apache License Version 2.0;
// see the LICENSE file for further details.

package main

import (
	"errors"
	"fmt"
	"log"
	"strconv"

	arg "github.com/alexflint/go-arg"

	"github.com/TheCacophonyProject/mlx90640-recorder/mlxcontroller"
)

var version = "<not set>"

type SlotAddr struct {
	Slot int    `arg:"positional,required" help:"sensor slot"`
	Addr string `arg:"positional,required" help:"new I2C address, e.g. 0x34"`
}

type AddrChange struct {
	From string `arg:"positional,required" help:"current I2C address"`
	To   string `arg:"positional,required" help:"address to store in the sensor EEPROM"`
}

type Speed struct {
	Hz uint32 `arg:"positional,required" help:"bus clock in Hz"`
}

type Refresh struct {
	Addr string  `arg:"positional,required" help:"sensor I2C address"`
	Hz   float64 `arg:"positional,required" help:"subpage rate in Hz (0.5 to 64)"`
}

type Snapshot struct {
	Slot int  `arg:"positional" help:"sensor slot"`
	Raw  bool `arg:"--raw" help:"store hundredths of a kelvin instead of a stretched image"`
}

type Args struct {
	Status        *struct{}   `arg:"subcommand:status" help:"show acquisition state"`
	Pause         *struct{}   `arg:"subcommand:pause" help:"pause acquisition"`
	Resume        *struct{}   `arg:"subcommand:resume" help:"resume acquisition"`
	Stop          *struct{}   `arg:"subcommand:stop" help:"stop acquisition and forget calibration"`
	Rescan        *struct{}   `arg:"subcommand:rescan" help:"reactivate and recalibrate all sensors"`
	SetAddress    *SlotAddr   `arg:"subcommand:set-address" help:"point a slot at another address"`
	ChangeAddress *AddrChange `arg:"subcommand:change-address" help:"rewrite a sensor's address (acquisition must be stopped)"`
	SetSpeed      *Speed      `arg:"subcommand:set-speed" help:"set the bus clock (acquisition must be stopped)"`
	SetRefresh    *Refresh    `arg:"subcommand:set-refresh" help:"set a sensor's refresh rate (acquisition must be stopped)"`
	Snapshot      *Snapshot   `arg:"subcommand:snapshot" help:"save a PNG of a slot's latest image"`
}

func (Args) Version() string {
	return version
}

func main() {
	log.SetFlags(0)
	if err := runMain(); err != nil {
		log.Fatal(err)
	}
}

func runMain() error {
	var args Args
	p := arg.MustParse(&args)

	switch {
	case args.Status != nil:
		return printStatus()
	case args.Pause != nil:
		return mlxcontroller.Pause()
	case args.Resume != nil:
		return mlxcontroller.Resume()
	case args.Stop != nil:
		return mlxcontroller.Stop()
	case args.Rescan != nil:
		return mlxcontroller.Rescan()
	case args.SetAddress != nil:
		addr, err := parseAddr(args.SetAddress.Addr)
		if err != nil {
			return err
		}
		return mlxcontroller.SetAddress(args.SetAddress.Slot, addr)
	case args.ChangeAddress != nil:
		from, err := parseAddr(args.ChangeAddress.From)
		if err != nil {
			return err
		}
		to, err := parseAddr(args.ChangeAddress.To)
		if err != nil {
			return err
		}
		if err := mlxcontroller.ChangeAddress(from, to); err != nil {
			return err
		}
		fmt.Printf("address changed to 0x%02x, power cycle the sensor to use it\n", to)
		return nil
	case args.SetSpeed != nil:
		return mlxcontroller.SetSpeed(args.SetSpeed.Hz)
	case args.SetRefresh != nil:
		addr, err := parseAddr(args.SetRefresh.Addr)
		if err != nil {
			return err
		}
		return mlxcontroller.SetRefreshRate(addr, args.SetRefresh.Hz)
	case args.Snapshot != nil:
		path, err := mlxcontroller.Snapshot(args.Snapshot.Slot, args.Snapshot.Raw)
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	}
	p.WriteHelp(log.Writer())
	return errors.New("no command given")
}

func printStatus() error {
	status, err := mlxcontroller.GetStatus()
	if err != nil {
		return err
	}
	fmt.Printf("state: %s\n", status.State)
	fmt.Printf("images sent: %d, dropped: %d, bus resets: %d\n", status.Sent, status.Dropped, status.Resets)
	for i, s := range status.Slots {
		fmt.Printf("slot %d: 0x%02x active=%t calibrated=%t errors=%d last image=%dms",
			i, s.Addr, s.Active, s.Calibrated, s.Errors, s.LastImage)
		if s.LastError != "" {
			fmt.Printf(" last error: %s", s.LastError)
		}
		fmt.Println()
	}
	return nil
}

// parseAddr accepts decimal, 0x hex or 0o octal addresses.
func parseAddr(s string) (uint8, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("bad address %q: %w", s, err)
	}
	if v == 0 || v > 0x77 {
		return 0, fmt.Errorf("address 0x%02x out of range", v)
	}
	return uint8(v), nil
}
