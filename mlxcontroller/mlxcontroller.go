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


// Package mlxcontroller talks to the mlx90640d service over dbus.
package mlxcontroller

import (
	"encoding/json"

	"github.com/godbus/dbus"

	"github.com/TheCacophonyProject/mlx90640-recorder/acquire"
)

const (
	dbusPath   = "/org/cacophony/mlx90640d"
	dbusDest   = "org.cacophony.mlx90640d"
	methodBase = "org.cacophony.mlx90640d"
)

// Status is the daemon's report on acquisition.
type Status struct {
	State   string
	Resets  int
	Sent    int
	Dropped int
	Slots   []acquire.SlotStats
}

func getDbusObj() (dbus.BusObject, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, err
	}
	obj := conn.Object(dbusDest, dbusPath)
	return obj, nil
}

func call(method string, ret interface{}, args ...interface{}) error {
	obj, err := getDbusObj()
	if err != nil {
		return err
	}
	c := obj.Call(methodBase+"."+method, 0, args...)
	if ret == nil {
		return c.Store()
	}
	return c.Store(ret)
}

func State() (string, error) {
	var state string
	err := call("State", &state)
	return state, err
}

// ActiveIDs returns the addresses of the sensors being read.
func ActiveIDs() ([]uint8, error) {
	var ids []byte
	err := call("ActiveIDs", &ids)
	return ids, err
}

func GetStatus() (*Status, error) {
	var buf string
	if err := call("Status", &buf); err != nil {
		return nil, err
	}
	status := new(Status)
	if err := json.Unmarshal([]byte(buf), status); err != nil {
		return nil, err
	}
	return status, nil
}

func Pause() error {
	return call("Pause", nil)
}

func Resume() error {
	return call("Resume", nil)
}

// Stop halts acquisition and discards calibration.
func Stop() error {
	return call("Stop", nil)
}

// Rescan reactivates and recalibrates every sensor.
func Rescan() error {
	return call("Rescan", nil)
}

// SetAddress points a slot at another device address.
func SetAddress(slot int, addr uint8) error {
	return call("SetAddress", nil, int32(slot), addr)
}

func SetSpeed(hz uint32) error {
	return call("SetSpeed", nil, hz)
}

// ChangeAddress rewrites the I2C address stored in a sensor's EEPROM.
// The sensor must be power cycled to use it.
func ChangeAddress(from, to uint8) error {
	return call("ChangeAddress", nil, from, to)
}

// SetRefreshRate programs the subpage rate of the sensor at addr.
func SetRefreshRate(addr uint8, hz float64) error {
	return call("SetRefreshRate", nil, addr, hz)
}

// Snapshot writes a PNG of slot's latest image and returns its path.
func Snapshot(slot int, raw bool) (string, error) {
	var path string
	err := call("Snapshot", &path, int32(slot), raw)
	return path, err
}
