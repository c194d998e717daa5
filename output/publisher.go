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


package output

import (
	"math"
	"sync"
	"time"

	"github.com/juju/ratelimit"
	"gopkg.in/tomb.v2"

	"github.com/TheCacophonyProject/mlx90640-recorder/loglimiter"
	"github.com/TheCacophonyProject/mlx90640-recorder/mlx90640"
)

// inFlight is how many frames may wait for the sinks before new ones
// are dropped.
const inFlight = 4

// Publisher copies each image it is given and hands it to its sinks
// from a separate goroutine, so a slow sink never stalls acquisition.
type Publisher struct {
	sinks  []Sink
	bucket *ratelimit.Bucket
	logs   *loglimiter.LogLimiter

	frames chan *Frame
	free   chan *Frame
	t      tomb.Tomb

	mu      sync.Mutex
	sent    int
	dropped int
}

// NewPublisher passes at most maxFPS frames a second to sinks. A
// maxFPS of 0 passes every frame.
func NewPublisher(maxFPS float64, sinks ...Sink) *Publisher {
	return NewPublisherWithClock(maxFPS, nil, sinks...)
}

func NewPublisherWithClock(maxFPS float64, clock ratelimit.Clock, sinks ...Sink) *Publisher {
	p := &Publisher{
		sinks:  sinks,
		logs:   loglimiter.New(time.Minute),
		frames: make(chan *Frame, inFlight),
		free:   make(chan *Frame, inFlight),
	}
	if maxFPS > 0 {
		capacity := int64(math.Ceil(maxFPS))
		if clock == nil {
			p.bucket = ratelimit.NewBucketWithRate(maxFPS, capacity)
		} else {
			p.bucket = ratelimit.NewBucketWithRateAndClock(maxFPS, capacity, clock)
		}
	}
	for i := 0; i < inFlight; i++ {
		p.free <- new(Frame)
	}
	p.t.Go(p.run)
	return p
}

// ImageReady implements acquire.ImageListener.
func (p *Publisher) ImageReady(slot int, addr uint8, img *mlx90640.Image) {
	if p.bucket != nil && p.bucket.TakeAvailable(1) == 0 {
		p.drop()
		return
	}
	var f *Frame
	select {
	case f = <-p.free:
	default:
		p.drop()
		return
	}
	f.Slot = slot
	f.Addr = addr
	f.Image = *img
	p.frames <- f
}

func (p *Publisher) drop() {
	p.mu.Lock()
	p.dropped++
	p.mu.Unlock()
}

func (p *Publisher) run() error {
	for {
		select {
		case <-p.t.Dying():
			return nil
		case f := <-p.frames:
			p.publish(f)
			p.free <- f
		}
	}
}

func (p *Publisher) publish(f *Frame) {
	for _, s := range p.sinks {
		if err := s.Send(f); err != nil {
			p.logs.KeyPrintf(s.Name(), "%s: %v", s.Name(), err)
		}
	}
	p.mu.Lock()
	p.sent++
	p.mu.Unlock()
}

// Stats returns how many frames went to the sinks and how many were
// dropped by the rate limit or because the sinks fell behind.
func (p *Publisher) Stats() (sent, dropped int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent, p.dropped
}

// Close stops the publisher and closes every sink.
func (p *Publisher) Close() error {
	p.t.Kill(nil)
	err := p.t.Wait()
	for _, s := range p.sinks {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
