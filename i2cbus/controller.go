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

package i2cbus

import "strings"

// Direction of a bus transfer.
type Direction uint8

const (
	Write Direction = iota
	Read
)

func (d Direction) String() string {
	if d == Read {
		return "read"
	}
	return "write"
}

// Flags mirrors the interrupt and status register of a master mode I2C
// peripheral.
type Flags uint16

const (
	// FlagTXIS is set when the transmit data register is empty and the
	// next byte should be written.
	FlagTXIS Flags = 1 << iota
	// FlagRXNE is set when a received byte is waiting.
	FlagRXNE
	// FlagTCR is set when the current chunk is done and the transfer was
	// started with reload; the next chunk must be armed with Reload.
	FlagTCR
	// FlagTC is set when the last chunk is done and a STOP (or repeated
	// START) may be issued.
	FlagTC
	FlagNACK
	FlagSTOP
	FlagBERR
	FlagARLO
)

// FlagErrors are the flags which abort a transfer.
const FlagErrors = FlagNACK | FlagBERR | FlagARLO

var flagNames = []string{"TXIS", "RXNE", "TCR", "TC", "NACK", "STOP", "BERR", "ARLO"}

func (f Flags) String() string {
	var names []string
	for i, name := range flagNames {
		if f&(1<<uint(i)) != 0 {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, "|")
}

// MaxChunk is the largest byte count a single Begin or Reload can
// program. Longer transfers are chained with reloads.
const MaxChunk = 255

// Controller is the register level view of one physical I2C peripheral.
// All methods except the done callback given to StartDMA are called from
// the single cooperative context that owns the Bus.
type Controller interface {
	// Begin generates a START followed by the 7-bit address and direction
	// bit, programming a transfer of n bytes. When reload is true the
	// controller raises FlagTCR instead of FlagTC after n bytes.
	Begin(addr uint8, dir Direction, n int, reload bool) error
	// Reload arms the next chunk of an open transfer after FlagTCR.
	Reload(n int, reload bool) error
	// Flags returns the current status flags.
	Flags() Flags
	// WriteByte loads the transmit data register.
	WriteByte(b byte)
	// ReadByte drains the receive data register.
	ReadByte() byte
	// Stop generates a STOP condition.
	Stop()
	// Reset disables and re-enables the peripheral, aborting anything in
	// flight.
	Reset() error
	// SetSpeed changes the bus clock.
	SetSpeed(hz uint32) error
	// StartDMA moves the whole of buf to or from the device without
	// further involvement from the caller. done is called exactly once,
	// possibly from another goroutine, when the transfer completes or
	// fails. It plays the part of the transfer complete interrupt.
	StartDMA(addr uint8, dir Direction, buf []byte, done func(error)) error
}
