// Copyright 2021 The Cacophony Project. All rights reserved.
// Use of this source code is governed by the Apache License Version 2.0;
// see the LICENSE file for further details.

package main

import (
	"github.com/TheCacophonyProject/mlx90640-recorder/i2cbus/i2csim"
	"github.com/TheCacophonyProject/mlx90640-recorder/mlx90640/mlxsim"
)

const simGain = 100

// newSimulator returns a bus with a free running simulated sensor at
// each address. Each sensor reads a little warmer than the one before.
func newSimulator(addrs []uint8) *i2csim.Sim {
	sim := i2csim.New()
	for i, addr := range addrs {
		s := mlxsim.New(mlxsim.EEPROM(simGain))
		warm := 40 * i
		s.FreeRun(mlxsim.Frame(simGain, warm), mlxsim.Frame(simGain, warm+5))
		sim.Attach(addr, s)
	}
	return sim
}
