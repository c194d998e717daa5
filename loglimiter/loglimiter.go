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

package loglimiter

import (
	"fmt"
	"log"
	"time"
)

// New returns a new LogLimiter with the configured minimum log interval.
func New(interval time.Duration) *LogLimiter {
	return &LogLimiter{
		interval: interval,
		nowFunc:  time.Now,
		entries:  make(map[string]entry),
	}
}

type entry struct {
	msg  string
	time time.Time
	// suppressed counts repeats not logged since msg was last printed.
	suppressed int
}

// LogLimiter will suppress log messages if the same log message is
// seen within some time interval. Messages are tracked per key, so one
// noisy source does not hide the messages of another.
type LogLimiter struct {
	interval time.Duration
	nowFunc  func() time.Time
	entries  map[string]entry
}

func (limiter *LogLimiter) Printf(format string, v ...interface{}) {
	limiter.Print(fmt.Sprintf(format, v...))
}

func (limiter *LogLimiter) Print(s string) {
	limiter.KeyPrint("", s)
}

// KeyPrintf is Printf with messages tracked under key.
func (limiter *LogLimiter) KeyPrintf(key, format string, v ...interface{}) {
	limiter.KeyPrint(key, fmt.Sprintf(format, v...))
}

func (limiter *LogLimiter) KeyPrint(key, s string) {
	now := limiter.nowFunc()
	prev := limiter.entries[key]
	if now.Sub(prev.time) < limiter.interval && s == prev.msg {
		prev.suppressed++
		limiter.entries[key] = prev
		return
	}

	if prev.suppressed > 0 && s == prev.msg {
		log.Printf("%s (repeated %d times)", s, prev.suppressed)
	} else {
		log.Print(s)
	}
	limiter.entries[key] = entry{msg: s, time: now}
}

// Reset forgets the last message logged under key.
func (limiter *LogLimiter) Reset(key string) {
	delete(limiter.entries, key)
}
