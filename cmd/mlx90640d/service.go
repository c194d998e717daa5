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


package main

import (
	"errors"

	"github.com/godbus/dbus"
	"github.com/godbus/dbus/introspect"
)

const (
	dbusName = "org.cacophony.mlx90640d"
	dbusPath = "/org/cacophony/mlx90640d"
)

// mlxService exports control of the acquisition loop. Every call is
// handed to the loop and waits for its answer.
type mlxService struct {
	reqs chan<- request
}

func startService(reqs chan<- request) (*mlxService, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, err
	}
	reply, err := conn.RequestName(dbusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return nil, err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return nil, errors.New("name already taken")
	}
	s := &mlxService{reqs: reqs}
	conn.Export(s, dbusPath, dbusName)
	conn.Export(genIntrospectable(s), dbusPath, "org.freedesktop.DBus.Introspectable")
	return s, nil
}

func genIntrospectable(v interface{}) introspect.Introspectable {
	node := &introspect.Node{
		Interfaces: []introspect.Interface{{
			Name:    dbusName,
			Methods: introspect.Methods(v),
		}},
	}
	return introspect.NewIntrospectable(node)
}

func (s *mlxService) do(fn func(a *acquisition) (interface{}, error)) (interface{}, error) {
	reply := make(chan response, 1)
	s.reqs <- request{fn: fn, reply: reply}
	r := <-reply
	return r.val, r.err
}

func (s *mlxService) doErr(name string, fn func(a *acquisition) error) *dbus.Error {
	_, err := s.do(func(a *acquisition) (interface{}, error) {
		return nil, fn(a)
	})
	if err != nil {
		return makeDbusError(name, err)
	}
	return nil
}

func (s *mlxService) State() (string, *dbus.Error) {
	v, _ := s.do(func(a *acquisition) (interface{}, error) {
		return a.sched.State().String(), nil
	})
	return v.(string), nil
}

func (s *mlxService) ActiveIDs() ([]byte, *dbus.Error) {
	v, _ := s.do(func(a *acquisition) (interface{}, error) {
		return a.sched.ActiveIDs(), nil
	})
	return v.([]byte), nil
}

func (s *mlxService) Status() (string, *dbus.Error) {
	v, err := s.do(func(a *acquisition) (interface{}, error) {
		return a.statusJSON()
	})
	if err != nil {
		return "", makeDbusError("Status", err)
	}
	return v.(string), nil
}

func (s *mlxService) Pause() *dbus.Error {
	return s.doErr("Pause", func(a *acquisition) error {
		a.pause()
		return nil
	})
}

func (s *mlxService) Resume() *dbus.Error {
	return s.doErr("Resume", func(a *acquisition) error {
		a.resume()
		return nil
	})
}

func (s *mlxService) Stop() *dbus.Error {
	return s.doErr("Stop", func(a *acquisition) error {
		a.stop()
		return nil
	})
}

func (s *mlxService) Rescan() *dbus.Error {
	return s.doErr("Rescan", func(a *acquisition) error {
		a.sched.Rescan()
		return nil
	})
}

func (s *mlxService) SetAddress(slot int32, addr byte) *dbus.Error {
	return s.doErr("SetAddress", func(a *acquisition) error {
		return a.sched.SetAddress(int(slot), addr)
	})
}

func (s *mlxService) SetSpeed(hz uint32) *dbus.Error {
	return s.doErr("SetSpeed", func(a *acquisition) error {
		return a.setSpeed(hz)
	})
}

func (s *mlxService) ChangeAddress(from, to byte) *dbus.Error {
	return s.doErr("ChangeAddress", func(a *acquisition) error {
		return a.changeAddress(from, to)
	})
}

func (s *mlxService) SetRefreshRate(addr byte, hz float64) *dbus.Error {
	return s.doErr("SetRefreshRate", func(a *acquisition) error {
		return a.setRefreshRate(addr, hz)
	})
}

func (s *mlxService) Snapshot(slot int32, raw bool) (string, *dbus.Error) {
	v, err := s.do(func(a *acquisition) (interface{}, error) {
		return a.snap.Take(int(slot), raw)
	})
	if err != nil {
		return "", makeDbusError("Snapshot", err)
	}
	return v.(string), nil
}

func makeDbusError(name string, err error) *dbus.Error {
	return &dbus.Error{
		Name: dbusName + "." + name,
		Body: []interface{}{err.Error()},
	}
}
