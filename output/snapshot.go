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
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log"
	"math"
	"os"
	"path"
	"sync"
	"time"

	"github.com/juju/ratelimit"

	"github.com/TheCacophonyProject/mlx90640-recorder/mlx90640"
)

const allowedSnapshotPeriod = 500 * time.Millisecond

var (
	ErrNoImage         = errors.New("output: no image yet")
	ErrSnapshotLimited = errors.New("output: snapshot requested too soon")
)

// Snapshotter is a Sink that remembers the latest frame of every slot
// and writes them out as PNG files on request.
type Snapshotter struct {
	dir    string
	mu     sync.Mutex
	latest map[int]*Frame
	bucket *ratelimit.Bucket
}

func NewSnapshotter(dir string) *Snapshotter {
	return NewSnapshotterWithClock(dir, nil)
}

// NewSnapshotterWithClock uses clock to limit the snapshot rate. A nil
// clock means the real time.
func NewSnapshotterWithClock(dir string, clock ratelimit.Clock) *Snapshotter {
	var bucket *ratelimit.Bucket
	if clock == nil {
		bucket = ratelimit.NewBucket(allowedSnapshotPeriod, 1)
	} else {
		bucket = ratelimit.NewBucketWithClock(allowedSnapshotPeriod, 1, clock)
	}
	return &Snapshotter{
		dir:    dir,
		latest: make(map[int]*Frame),
		bucket: bucket,
	}
}

func (s *Snapshotter) Name() string {
	return "snapshot " + s.dir
}

func (s *Snapshotter) Send(f *Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dst, ok := s.latest[f.Slot]
	if !ok {
		dst = new(Frame)
		s.latest[f.Slot] = dst
	}
	*dst = *f
	return nil
}

func (s *Snapshotter) Close() error {
	return nil
}

// Latest returns a copy of the latest frame from slot.
func (s *Snapshotter) Latest(slot int) (*Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.latest[slot]
	if !ok {
		return nil, false
	}
	cp := *f
	return &cp, true
}

// Take writes the latest image of slot to a PNG file and returns its
// path. A normal snapshot is stretched between the coldest and warmest
// pixel; a raw one stores hundredths of a kelvin.
func (s *Snapshotter) Take(slot int, raw bool) (string, error) {
	f, ok := s.Latest(slot)
	if !ok {
		return "", ErrNoImage
	}
	if s.bucket.TakeAvailable(1) == 0 {
		return "", ErrSnapshotLimited
	}

	name := fmt.Sprintf("still-%02x.png", f.Addr)
	if raw {
		name = fmt.Sprintf("still-raw-%02x.png", f.Addr)
	}
	filename := path.Join(s.dir, name)
	out, err := os.Create(filename)
	if err != nil {
		return "", err
	}
	defer out.Close()

	if err := png.Encode(out, toGray16(&f.Image, raw)); err != nil {
		return "", err
	}
	return filename, nil
}

// Delete removes every snapshot file for slot's sensor.
func (s *Snapshotter) Delete(slot int) {
	f, ok := s.Latest(slot)
	if !ok {
		return
	}
	for _, name := range []string{
		fmt.Sprintf("still-%02x.png", f.Addr),
		fmt.Sprintf("still-raw-%02x.png", f.Addr),
	} {
		if err := os.Remove(path.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
			log.Printf("error deleting snapshot image: %v", err)
		}
	}
}

func toGray16(img *mlx90640.Image, raw bool) *image.Gray16 {
	g16 := image.NewGray16(image.Rect(0, 0, mlx90640.Width, mlx90640.Height))
	valMin := math.Inf(1)
	valMax := math.Inf(-1)
	for _, v := range img.Pixels {
		if math.IsNaN(float64(v)) {
			continue
		}
		valMin = math.Min(valMin, float64(v))
		valMax = math.Max(valMax, float64(v))
	}
	norm := 0.0
	if valMax > valMin {
		norm = math.MaxUint16 / (valMax - valMin)
	}

	for i, v := range img.Pixels {
		x, y := i%mlx90640.Width, i/mlx90640.Width
		t := float64(v)
		if math.IsNaN(t) {
			continue
		}
		var g float64
		if raw {
			g = (t + 273.15) * 100
		} else {
			g = (t - valMin) * norm
		}
		g16.SetGray16(x, y, color.Gray16{Y: clampUint16(g)})
	}
	return g16
}

func clampUint16(v float64) uint16 {
	if v <= 0 {
		return 0
	}
	if v >= math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(math.Round(v))
}
