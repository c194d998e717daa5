// mlx90640-recorder - acquire calibrated thermal images from MLX90640 sensors
//  Copyright (C) 2021, The Cacophony Project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package i2cbus_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheCacophonyProject/mlx90640-recorder/i2cbus"
	"github.com/TheCacophonyProject/mlx90640-recorder/i2cbus/i2csim"
)

// stepClock advances by step on every reading.
type stepClock struct {
	now  uint32
	step uint32
}

func (c *stepClock) read() uint32 {
	c.now += c.step
	return c.now
}

func newTestBus() (*i2cbus.Bus, *i2csim.Sim, *i2csim.Regs, *stepClock) {
	sim := i2csim.New()
	regs := i2csim.NewRegs()
	sim.Attach(0x33, regs)
	clock := &stepClock{step: 1}
	return i2cbus.New(sim, clock.read), sim, regs, clock
}

func TestWriteSwapsBytes(t *testing.T) {
	bus, _, regs, _ := newTestBus()

	require.NoError(t, bus.Write(0x33, []uint16{0x8000, 0x0030, 0x1234}))

	assert.Equal(t, uint16(0x0030), regs.Get(0x8000))
	assert.Equal(t, uint16(0x1234), regs.Get(0x8001))
}

func TestReadReg16(t *testing.T) {
	bus, _, regs, _ := newTestBus()
	regs.Set(0x8000, 0x0009, 0xBEEF)

	words, err := bus.ReadReg16(0x33, 0x8000, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0x0009, 0xBEEF}, words)
}

func TestReadChainsReloads(t *testing.T) {
	bus, _, regs, clock := newTestBus()
	clock.step = 0
	const n = 832 // 1664 bytes, several reloads
	for i := 0; i < n; i++ {
		regs.Set(0x2400+uint16(i), uint16(i*7))
	}

	words, err := bus.ReadReg16(0x33, 0x2400, n)
	require.NoError(t, err)
	require.Len(t, words, n)
	for i, w := range words {
		if !assert.Equal(t, uint16(i*7), w, "word %d", i) {
			break
		}
	}
}

func TestReadBlockingContinuesFromPointer(t *testing.T) {
	bus, _, regs, _ := newTestBus()
	regs.Set(0x0400, 1, 2, 3)

	_, err := bus.ReadReg16(0x33, 0x0400, 1)
	require.NoError(t, err)
	words, err := bus.ReadBlocking(0x33, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint16{2, 3}, words)
}

func TestNack(t *testing.T) {
	bus, _, _, _ := newTestBus()

	err := bus.Write(0x40, []uint16{1})
	assert.True(t, errors.Is(err, i2cbus.ErrNack))

	var busErr *i2cbus.BusError
	require.True(t, errors.As(err, &busErr))
	assert.Equal(t, uint8(0x40), busErr.Addr)
	assert.Equal(t, "write", busErr.Op)

	_, err = bus.ReadReg16(0x40, 0x8000, 1)
	assert.True(t, errors.Is(err, i2cbus.ErrNack))
}

func TestBlockingTimeout(t *testing.T) {
	bus, sim, _, clock := newTestBus()
	sim.Hang = true
	kicks := 0
	bus.SetWatchdog(func() { kicks++ }, 5)

	_, err := bus.ReadReg16(0x33, 0x8000, 1)
	assert.True(t, errors.Is(err, i2cbus.ErrTimeout))
	assert.True(t, clock.now >= i2cbus.DefaultTimeout)
	assert.True(t, kicks >= 4, "watchdog kicked %d times", kicks)
	assert.True(t, kicks <= 6, "watchdog kicked %d times", kicks)
}

func TestTimeoutAcrossClockWrap(t *testing.T) {
	bus, sim, _, clock := newTestBus()
	clock.now = 0xFFFFFFF0
	sim.Hang = true

	err := bus.Write(0x33, []uint16{1})
	assert.True(t, errors.Is(err, i2cbus.ErrTimeout))
	// Timed out after the budget, not immediately and not never.
	assert.True(t, clock.now > 0 && clock.now < 0x40)
}

func TestReadReg16DMA(t *testing.T) {
	bus, sim, regs, _ := newTestBus()
	sim.AutoDMA = false
	regs.Set(0x0400, 0x0102, 0x0304)

	require.NoError(t, bus.ReadReg16DMA(0x33, 0x0400, 2))
	assert.True(t, bus.Busy())

	words, done, err := bus.DMAResult()
	assert.False(t, done)
	assert.Nil(t, words)
	assert.NoError(t, err)

	require.NoError(t, sim.Fire())
	words, done, err = bus.DMAResult()
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, []uint16{0x0102, 0x0304}, words)
	assert.False(t, bus.Busy())

	// Nothing outstanding any more.
	_, done, _ = bus.DMAResult()
	assert.False(t, done)
}

func TestDMARejectedWhileBusy(t *testing.T) {
	bus, sim, regs, _ := newTestBus()
	sim.AutoDMA = false
	regs.Set(0x0400, 0xAAAA)
	regs.Set(0x2400, 0x5555)

	require.NoError(t, bus.ReadReg16DMA(0x33, 0x0400, 1))
	starts := sim.DMAStarts

	err := bus.ReadReg16DMA(0x33, 0x2400, 1)
	assert.True(t, errors.Is(err, i2cbus.ErrBusy))
	err = bus.WriteDMA(0x33, []uint16{0x8000, 0})
	assert.True(t, errors.Is(err, i2cbus.ErrBusy))
	_, err = bus.ReadReg16(0x33, 0x2400, 1)
	assert.True(t, errors.Is(err, i2cbus.ErrBusy))
	assert.Equal(t, starts, sim.DMAStarts)

	// The original transaction is untouched.
	require.NoError(t, sim.Fire())
	words, done, err := bus.DMAResult()
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, []uint16{0xAAAA}, words)
}

func TestDMAFailure(t *testing.T) {
	bus, sim, _, _ := newTestBus()
	sim.AutoDMA = false

	require.NoError(t, bus.ReadReg16DMA(0x33, 0x0400, 4))
	require.NoError(t, sim.FailDMA(i2cbus.ErrArbitration))

	words, done, err := bus.DMAResult()
	assert.True(t, done)
	assert.Nil(t, words)
	assert.True(t, errors.Is(err, i2cbus.ErrArbitration))
	assert.False(t, bus.Busy())
}

func TestDMATimeout(t *testing.T) {
	bus, sim, _, clock := newTestBus()
	sim.AutoDMA = false

	require.NoError(t, bus.ReadReg16DMA(0x33, 0x0400, 4))
	clock.now += i2cbus.DefaultDMATimeout + 1

	_, done, err := bus.DMAResult()
	assert.True(t, done)
	assert.True(t, errors.Is(err, i2cbus.ErrTimeout))
	assert.False(t, bus.Busy())

	// A late completion of the abandoned transfer is ignored.
	require.NoError(t, sim.Fire())
	_, done, err = bus.DMAResult()
	assert.False(t, done)
	assert.NoError(t, err)
}

func TestDMATooLong(t *testing.T) {
	bus, _, _, _ := newTestBus()

	err := bus.ReadReg16DMA(0x33, 0x0400, i2cbus.MaxDMAWords+1)
	assert.True(t, errors.Is(err, i2cbus.ErrTooLong))
	assert.False(t, bus.Busy())
}

func TestWriteDMA(t *testing.T) {
	bus, _, regs, _ := newTestBus()

	require.NoError(t, bus.WriteDMA(0x33, []uint16{0x800D, 0x1901}))
	_, done, err := bus.DMAResult()
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, uint16(0x1901), regs.Get(0x800D))
}

func TestResetReleasesBus(t *testing.T) {
	bus, sim, _, _ := newTestBus()
	sim.AutoDMA = false

	require.NoError(t, bus.ReadReg16DMA(0x33, 0x0400, 4))
	require.NoError(t, bus.Reset())
	assert.False(t, bus.Busy())
	assert.Equal(t, 1, sim.Resets)
}

func TestSetSpeed(t *testing.T) {
	bus, sim, _, _ := newTestBus()

	require.NoError(t, bus.SetSpeed(1000000))
	assert.Equal(t, uint32(1000000), sim.Speed)
}

func TestEmptyTransfers(t *testing.T) {
	bus, _, _, _ := newTestBus()

	// Addressing a device with no data checks that it answers.
	assert.NoError(t, bus.Write(0x33, nil))
	assert.True(t, errors.Is(bus.Write(0x40, nil), i2cbus.ErrNack))

	words, err := bus.ReadBlocking(0x33, 0)
	require.NoError(t, err)
	assert.Empty(t, words)

	assert.True(t, errors.Is(bus.WriteDMA(0x33, nil), i2cbus.ErrLength))
	assert.True(t, errors.Is(bus.ReadReg16DMA(0x33, 0x0400, 0), i2cbus.ErrLength))
	assert.False(t, bus.Busy())
}

func TestNegativeLength(t *testing.T) {
	bus, _, _, _ := newTestBus()

	_, err := bus.ReadBlocking(0x33, -1)
	assert.True(t, errors.Is(err, i2cbus.ErrLength))
	_, err = bus.ReadReg16(0x33, 0x0400, -1)
	assert.True(t, errors.Is(err, i2cbus.ErrLength))
	assert.True(t, errors.Is(bus.ReadReg16DMA(0x33, 0x0400, -1), i2cbus.ErrLength))

	// The bus is still usable.
	require.NoError(t, bus.ReadReg16DMA(0x33, 0x0400, 2))
	_, done, err := bus.DMAResult()
	assert.True(t, done)
	assert.NoError(t, err)
}
