// Copyright 2021 The Cacophony Project. All rights reserved.
// Use of this source code is governed by the Apache License Version 2.0;
// see the LICENSE file for further details.

package main

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheCacophonyProject/mlx90640-recorder/acquire"
	"github.com/TheCacophonyProject/mlx90640-recorder/i2cbus"
	"github.com/TheCacophonyProject/mlx90640-recorder/i2cbus/i2csim"
	"github.com/TheCacophonyProject/mlx90640-recorder/mlx90640"
	"github.com/TheCacophonyProject/mlx90640-recorder/mlxcontroller"
	"github.com/TheCacophonyProject/mlx90640-recorder/output"
)

func newTestAcquisition(t *testing.T, addrs ...uint8) (*acquisition, *i2csim.Sim) {
	sim := newSimulator(addrs)
	bus := i2cbus.New(sim, nil)
	now := uint32(1000)
	clock := func() uint32 {
		now++
		return now
	}
	sched := acquire.New(bus, clock, acquire.Config{Addresses: addrs})
	snap := output.NewSnapshotter(t.TempDir())
	sched.SetListener(&snapListener{snap})
	return &acquisition{
		bus:    bus,
		sched:  sched,
		snap:   snap,
		sleep:  func(time.Duration) {},
		notify: func(string) {},
	}, sim
}

type snapListener struct {
	snap *output.Snapshotter
}

func (l *snapListener) ImageReady(slot int, addr uint8, img *mlx90640.Image) {
	l.snap.Send(&output.Frame{Slot: slot, Addr: addr, Image: *img})
}

func tickUntil(t *testing.T, a *acquisition, cond func() bool) {
	for i := 0; i < 100; i++ {
		if cond() {
			return
		}
		a.sched.Tick()
	}
	t.Fatal("condition not reached")
}

func TestSimulatedImages(t *testing.T) {
	a, _ := newTestAcquisition(t, 0x33, 0x34)
	tickUntil(t, a, func() bool {
		_, ok0 := a.snap.Latest(0)
		_, ok1 := a.snap.Latest(1)
		return ok0 && ok1
	})
	f0, _ := a.snap.Latest(0)
	f1, _ := a.snap.Latest(1)
	assert.Equal(t, uint8(0x33), f0.Addr)
	assert.Equal(t, uint8(0x34), f1.Addr)
	// The second simulated sensor reads warmer.
	assert.Greater(t, f1.Image.Pixels[1], f0.Image.Pixels[1])
	assert.True(t, a.progressing())
	assert.False(t, a.progressing())
}

func TestPauseAndStop(t *testing.T) {
	a, _ := newTestAcquisition(t, 0x33)
	a.pause()
	assert.Equal(t, acquire.Relax, a.sched.State())
	assert.True(t, a.progressing())

	a.windowPaused = true
	a.resume()
	assert.Equal(t, acquire.Relax, a.sched.State())
	a.windowPaused = false
	a.applyPause()
	assert.Equal(t, acquire.NotInit, a.sched.State())

	a.stop()
	assert.Equal(t, acquire.Relax, a.sched.State())
	a.resume()
	assert.Equal(t, acquire.NotInit, a.sched.State())
}

func TestBusCommandsNeedStop(t *testing.T) {
	a, sim := newTestAcquisition(t, 0x33)
	assert.Equal(t, errNotStopped, a.setSpeed(100000))
	assert.Equal(t, errNotStopped, a.changeAddress(0x33, 0x10))

	a.stop()
	require.NoError(t, a.setSpeed(100000))
	assert.Equal(t, uint32(100000), sim.Speed)

	require.NoError(t, a.setRefreshRate(0x33, 8))
	ctrl, err := mlx90640.ReadControl(a.bus, 0x33)
	require.NoError(t, err)
	assert.Equal(t, 8.0, mlx90640.RefreshRateHz(mlx90640.RefreshRate(ctrl)))

	require.NoError(t, a.changeAddress(0x33, 0x10))
	words, err := a.bus.ReadReg16(0x33, mlx90640.AddressReg, 1)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x10), words[0]&0xFF)
}

func TestBusCommandsAfterPauseMidRead(t *testing.T) {
	a, sim := newTestAcquisition(t, 0x33)
	tickUntil(t, a, func() bool { return a.sched.State() == acquire.ReadSubpage })

	a.pause()
	require.NoError(t, a.setSpeed(100000))
	assert.Equal(t, uint32(100000), sim.Speed)

	a.resume()
	assert.Equal(t, acquire.WaitSubpage, a.sched.State())
}

func TestStatusJSON(t *testing.T) {
	a, _ := newTestAcquisition(t, 0x33)
	tickUntil(t, a, func() bool { return a.sched.State() == acquire.WaitSubpage })

	buf, err := a.statusJSON()
	require.NoError(t, err)
	var status mlxcontroller.Status
	require.NoError(t, json.Unmarshal([]byte(buf), &status))
	assert.Equal(t, "wait-subpage", status.State)
	require.Len(t, status.Slots, 1)
	assert.True(t, status.Slots[0].Calibrated)
	assert.Equal(t, uint8(0x33), status.Slots[0].Addr)
}

func TestRunServesRequests(t *testing.T) {
	a, _ := newTestAcquisition(t, 0x33)
	reqs := make(chan request)
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		a.run(time.Millisecond, reqs, done)
		close(finished)
	}()

	s := &mlxService{reqs: reqs}
	require.Eventually(t, func() bool {
		state, _ := s.State()
		return state == "wait-subpage" || state == "read-subpage"
	}, 5*time.Second, time.Millisecond)

	ids, derr := s.ActiveIDs()
	require.Nil(t, derr)
	assert.Equal(t, []byte{0x33}, ids)

	require.Nil(t, s.Pause())
	state, _ := s.State()
	assert.Equal(t, "relax", state)

	assert.NotNil(t, s.SetAddress(4, 0x10))

	close(done)
	<-finished
}
