// Copyright 2021 The Cacophony Project. All rights reserved.
// Use of this source code is governed by the Apache License Version 2.0;
// see the LICENSE file for further details.

package main

import (
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/TheCacophonyProject/window"

	"github.com/TheCacophonyProject/mlx90640-recorder/acquire"
	"github.com/TheCacophonyProject/mlx90640-recorder/i2cbus"
	"github.com/TheCacophonyProject/mlx90640-recorder/mlx90640"
	"github.com/TheCacophonyProject/mlx90640-recorder/mlxcontroller"
	"github.com/TheCacophonyProject/mlx90640-recorder/output"
)

const (
	windowCheckInterval = 30 * time.Second
	statsLogInterval    = 5 * time.Minute
	sdNotifyInterval    = 5 * time.Second
)

var errNotStopped = errors.New("acquisition must be paused or stopped first")

type response struct {
	val interface{}
	err error
}

// request is run by the acquisition loop, which owns the bus and the
// scheduler.
type request struct {
	fn    func(a *acquisition) (interface{}, error)
	reply chan response
}

// acquisition is everything the main loop drives.
type acquisition struct {
	bus   *i2cbus.Bus
	sched *acquire.Scheduler
	pub   *output.Publisher
	snap  *output.Snapshotter
	win   *window.Window
	sleep func(time.Duration)

	// notify sends a systemd notification.
	notify func(state string)

	userPaused   bool
	windowPaused bool
	lastImages   []uint32
}

func (a *acquisition) run(tickInterval time.Duration, reqs <-chan request, done <-chan struct{}) {
	tick := time.NewTicker(tickInterval)
	defer tick.Stop()
	windowCheck := time.NewTicker(windowCheckInterval)
	defer windowCheck.Stop()
	statsLog := time.NewTicker(statsLogInterval)
	defer statsLog.Stop()
	sdNotify := time.NewTicker(sdNotifyInterval)
	defer sdNotify.Stop()

	a.checkWindow()
	for {
		select {
		case <-done:
			return
		case <-tick.C:
			a.sched.Tick()
		case req := <-reqs:
			val, err := req.fn(a)
			req.reply <- response{val, err}
		case <-windowCheck.C:
			a.checkWindow()
		case <-statsLog.C:
			a.logStats()
		case <-sdNotify.C:
			if a.progressing() {
				a.notify("WATCHDOG=1")
			}
		}
	}
}

func (a *acquisition) applyPause() {
	if a.userPaused || a.windowPaused {
		a.sched.Pause()
	} else {
		a.sched.Resume()
	}
}

func (a *acquisition) checkWindow() {
	if a.win == nil {
		return
	}
	inactive := !a.win.Active()
	if inactive == a.windowPaused {
		return
	}
	a.windowPaused = inactive
	if inactive {
		log.Print("outside acquisition window, pausing")
	} else {
		log.Print("acquisition window started")
	}
	a.applyPause()
}

// progressing reports whether the scheduler is idle on purpose or some
// sensor has produced an image since the last call.
func (a *acquisition) progressing() bool {
	n := a.sched.NumSlots()
	if len(a.lastImages) != n {
		a.lastImages = make([]uint32, n)
	}
	moved := false
	for i := 0; i < n; i++ {
		t := a.sched.LastImageTime(i)
		if t != a.lastImages[i] {
			moved = true
			a.lastImages[i] = t
		}
	}
	return moved || a.sched.State() == acquire.Relax || a.sched.ActiveCount() == 0
}

func (a *acquisition) status() *mlxcontroller.Status {
	slots, resets := a.sched.Stats()
	status := &mlxcontroller.Status{
		State:  a.sched.State().String(),
		Resets: resets,
		Slots:  slots,
	}
	if a.pub != nil {
		status.Sent, status.Dropped = a.pub.Stats()
	}
	return status
}

func (a *acquisition) logStats() {
	s := a.status()
	log.Printf("state %s, %d images sent, %d dropped, %d bus resets", s.State, s.Sent, s.Dropped, s.Resets)
	for _, slot := range s.Slots {
		if slot.Errors > 0 || !slot.Active {
			log.Printf("sensor 0x%02x: active %t, errors %d, last error: %s",
				slot.Addr, slot.Active, slot.Errors, slot.LastError)
		}
	}
}

func (a *acquisition) statusJSON() (string, error) {
	buf, err := json.Marshal(a.status())
	return string(buf), err
}

func (a *acquisition) pause() {
	a.userPaused = true
	a.applyPause()
}

func (a *acquisition) resume() {
	a.userPaused = false
	if a.windowPaused {
		log.Print("resume requested outside acquisition window")
	}
	a.applyPause()
}

func (a *acquisition) stop() {
	a.userPaused = true
	a.sched.Stop()
}

// idle makes sure nothing else is using the bus.
func (a *acquisition) idle() error {
	if a.sched.State() != acquire.Relax || a.bus.Busy() {
		return errNotStopped
	}
	return nil
}

func (a *acquisition) setSpeed(hz uint32) error {
	if err := a.idle(); err != nil {
		return err
	}
	return a.bus.SetSpeed(hz)
}

func (a *acquisition) changeAddress(from, to uint8) error {
	if err := a.idle(); err != nil {
		return err
	}
	return mlx90640.ChangeAddress(a.bus, from, to, a.sleep)
}

func (a *acquisition) setRefreshRate(addr uint8, hz float64) error {
	if err := a.idle(); err != nil {
		return err
	}
	return setRefreshRate(a.bus, addr, hz)
}

func setRefreshRate(bus mlx90640.Bus, addr uint8, hz float64) error {
	code, err := mlx90640.RefreshRateCode(hz)
	if err != nil {
		return err
	}
	ctrl, err := mlx90640.ReadControl(bus, addr)
	if err != nil {
		return err
	}
	return mlx90640.WriteControl(bus, addr, mlx90640.SetRefreshRate(ctrl, code))
}
